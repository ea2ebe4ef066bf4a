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

package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repomind/pkg/storage"
)

func TestSummarizeFilePrompt(t *testing.T) {
	var captured ChatRequest
	mock := &MockClient{
		ChatFunc: func(ctx context.Context, p Provider, req ChatRequest) (*ChatResponse, error) {
			captured = req
			return &ChatResponse{Content: "  Parses config files.  ", FinishReason: "stop"}, nil
		},
	}
	svc := NewService(mock, Provider{Name: "openai", Model: "gpt-4o-mini", APIKey: "k"})

	summary, err := svc.SummarizeFile(context.Background(), &storage.File{
		Path:     "pkg/config/load.go",
		Language: "go",
		Content:  "package config\n",
		Functions: []storage.Function{
			{Name: "Load", Signature: "func Load(path string) (*Config, error)", LineStart: 10, LineEnd: 30},
		},
		Classes: []storage.Class{
			{Name: "Config", Methods: []storage.Function{{Name: "Validate"}}},
		},
		Imports: []string{"os", "gopkg.in/yaml.v3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Parses config files.", summary)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	prompt := captured.Messages[1].Content
	assert.Contains(t, prompt, "File: pkg/config/load.go")
	assert.Contains(t, prompt, "Language: go")
	assert.Contains(t, prompt, "func Load(path string) (*Config, error) (lines 10-30)")
	assert.Contains(t, prompt, "Config [Validate]")
	assert.Contains(t, prompt, "Imports: os, gopkg.in/yaml.v3")
	assert.InDelta(t, 0.3, captured.Temperature, 0.001)
}

func TestSummarizeFileTruncatesContent(t *testing.T) {
	var captured ChatRequest
	mock := &MockClient{
		ChatFunc: func(ctx context.Context, p Provider, req ChatRequest) (*ChatResponse, error) {
			captured = req
			return &ChatResponse{Content: "ok"}, nil
		},
	}
	svc := NewService(mock, Provider{Name: "openai"})

	_, err := svc.SummarizeFile(context.Background(), &storage.File{
		Path:    "big.txt",
		Content: strings.Repeat("x", maxPromptContent+500),
	})
	require.NoError(t, err)
	assert.Contains(t, captured.Messages[1].Content, "... (truncated)")
	assert.Less(t, len(captured.Messages[1].Content), maxPromptContent+200)
}

func TestOverviewPromptListsRankedFiles(t *testing.T) {
	var captured ChatRequest
	mock := &MockClient{
		ChatFunc: func(ctx context.Context, p Provider, req ChatRequest) (*ChatResponse, error) {
			captured = req
			return &ChatResponse{Content: "A parser toolkit."}, nil
		},
	}
	svc := NewService(mock, Provider{Name: "openai"})

	overview, err := svc.Overview(context.Background(), "alice/demo", []storage.RankedFile{
		{Path: "core.py", ImportedByLen: 7, Summary: "Core module."},
		{Path: "empty.py", ImportedByLen: 2, Summary: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "A parser toolkit.", overview)

	prompt := captured.Messages[1].Content
	assert.Contains(t, prompt, "Repository: alice/demo")
	assert.Contains(t, prompt, "- core.py (imported by 7 files): Core module.")
	assert.NotContains(t, prompt, "empty.py", "files without a summary are skipped")
}
