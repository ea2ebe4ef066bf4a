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

package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goSample = `package cache

import (
	"sync"

	"github.com/google/uuid"
)

// Cache is a tiny keyed store.
type Cache struct {
	mu   sync.Mutex
	data map[string]string
}

func New() *Cache {
	return &Cache{data: map[string]string{}}
}

func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func id() string { return uuid.NewString() }
`

func TestGoParserStructure(t *testing.T) {
	st, err := NewGoParser().Parse("cache.go", []byte(goSample))
	require.NoError(t, err)

	assert.Equal(t, []string{"sync", "github.com/google/uuid"}, st.Imports)

	require.Len(t, st.Functions, 4)
	names := make([]string, len(st.Functions))
	for i, fn := range st.Functions {
		names[i] = fn.Name
	}
	assert.Equal(t, []string{"New", "Get", "Set", "id"}, names)

	get := st.Functions[1]
	assert.True(t, get.IsMethod)
	assert.Equal(t, "Cache", get.ParentClass)
	assert.Equal(t, []string{"key string"}, get.Parameters)
	assert.Equal(t, "func (c *Cache) Get(key string) (string, bool)", get.Signature)
	assert.Equal(t, 19, get.LineStart)
	assert.Equal(t, 24, get.LineEnd)

	require.Len(t, st.Classes, 1)
	cls := st.Classes[0]
	assert.Equal(t, "Cache", cls.Name)
	require.Len(t, cls.Methods, 2)
	assert.Equal(t, "Get", cls.Methods[0].Name)
	assert.Equal(t, "Set", cls.Methods[1].Name)
}

func TestGoParserMethodBeforeType(t *testing.T) {
	src := `package a

func (s *Server) Start() error { return nil }

type Server struct{}
`
	st, err := NewGoParser().Parse("a.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, st.Classes, 1)
	require.Len(t, st.Classes[0].Methods, 1)
	assert.Equal(t, "Start", st.Classes[0].Methods[0].Name)
}

func TestGoParserInterfaceAndVariadic(t *testing.T) {
	src := `package a

type Runner interface {
	Run(args ...string) error
}

func Apply(fns ...func()) {}
`
	st, err := NewGoParser().Parse("a.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, st.Classes, 1)
	assert.Equal(t, "Runner", st.Classes[0].Name)
	require.Len(t, st.Functions, 1)
	assert.Equal(t, []string{"fns ...func(...)"}, st.Functions[0].Parameters)
}

func TestGoParserSyntaxError(t *testing.T) {
	_, err := NewGoParser().Parse("broken.go", []byte("package a\nfunc {"))
	assert.Error(t, err)
}
