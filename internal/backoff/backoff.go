// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backoff implements exponential backoff with full jitter,
// shared by the GitHub, LLM, and embedding clients.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Config controls retry behavior for one class of calls.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// WithDefaults fills zero fields so a partially-set config cannot
// busy-loop.
func (c Config) WithDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.Multiplier <= 1.0 {
		c.Multiplier = 2.0
	}
	return c
}

// Delay returns the sleep before retry number attempt (0-based):
// exponential growth capped at MaxBackoff, then full jitter over [0,d].
func (c Config) Delay(attempt int) time.Duration {
	exp := float64(c.InitialBackoff)
	for i := 0; i < attempt; i++ {
		exp *= c.Multiplier
	}
	d := time.Duration(exp)
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	if d <= 0 {
		return c.InitialBackoff
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// Sleep waits for d or until ctx is canceled.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
