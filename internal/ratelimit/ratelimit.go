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

// Package ratelimit shares token buckets across the process. Every
// component talking to the same {provider, api_key} pair must draw from
// the same bucket, since the upstream quota is per key, not per caller.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/time/rate"
)

var (
	mu      sync.Mutex
	buckets = map[string]*rate.Limiter{}
)

// perKeyRate is a conservative default well under the paid tiers of the
// supported providers.
const (
	perKeyRate  = rate.Limit(10)
	perKeyBurst = 10
)

// For returns the process-wide limiter for one provider credential.
// The key is hashed so it never sits in a map readable from a heap
// dump.
func For(provider, apiKey string) *rate.Limiter {
	sum := sha256.Sum256([]byte(provider + "\x00" + apiKey))
	id := provider + ":" + hex.EncodeToString(sum[:8])

	mu.Lock()
	defer mu.Unlock()
	if l, ok := buckets[id]; ok {
		return l
	}
	l := rate.NewLimiter(perKeyRate, perKeyBurst)
	buckets[id] = l
	return l
}
