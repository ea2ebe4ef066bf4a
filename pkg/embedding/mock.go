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

package embedding

import "context"

// Mock produces deterministic unit vectors from a text hash. Useful in
// tests and in development mode where no embedding provider is
// configured.
type Mock struct {
	Dimension int
}

// NewMock returns a mock embedder with the given dimension (384 when
// zero, a common small-model dimension).
func NewMock(dimension int) *Mock {
	if dimension <= 0 {
		dimension = 384
	}
	return &Mock{Dimension: dimension}
}

func (m *Mock) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := hashText(t)
		v := make([]float32, m.Dimension)
		for j := range v {
			v[j] = float32((h+uint64(j)*7919)%10000)/5000.0 - 1.0
		}
		out[i] = normalize(v)
	}
	return out, nil
}

func hashText(s string) uint64 {
	var h uint64 = 5381
	for _, c := range s {
		h = h<<5 + h + uint64(c)
	}
	return h
}
