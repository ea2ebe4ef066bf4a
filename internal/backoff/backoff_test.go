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

package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, c.InitialBackoff)
	assert.Equal(t, 2*time.Second, c.MaxBackoff)
	assert.Equal(t, 2.0, c.Multiplier)

	// Explicit values survive.
	c = Config{MaxRetries: 5, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, Multiplier: 3}.WithDefaults()
	assert.Equal(t, 5, c.MaxRetries)
	assert.Equal(t, time.Second, c.InitialBackoff)
}

func TestDelayBounded(t *testing.T) {
	c := Config{MaxRetries: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 400 * time.Millisecond, Multiplier: 2}
	for attempt := 0; attempt < 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := c.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, 400*time.Millisecond)
		}
	}
}

func TestSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
