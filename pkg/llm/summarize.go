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
	"fmt"
	"strings"

	"github.com/kraklabs/repomind/pkg/storage"
)

// maxPromptContent caps how much raw file content goes into a
// summarization prompt.
const maxPromptContent = 6000

const summarizeSystem = `You are a senior engineer documenting a codebase. ` +
	`Summarize source files accurately and concretely. Mention what the file does, ` +
	`its key functions and classes, and how it relates to its imports. ` +
	`Write 3 to 6 sentences of plain prose. No markdown, no bullet lists.`

const overviewSystem = `You are a senior engineer writing the README overview of a repository ` +
	`from the summaries of its most central files. Describe what the project does, its main ` +
	`components, and how they fit together. Write one or two paragraphs of plain prose.`

// Service produces file summaries and repository overviews through a
// chat provider. It satisfies the pipeline's Summarizer contract.
type Service struct {
	completer Completer
	provider  Provider
}

// NewService binds a provider tuple to the shared client.
func NewService(completer Completer, provider Provider) *Service {
	return &Service{completer: completer, provider: provider}
}

// SummarizeFile asks the provider for a 3-6 sentence file summary,
// grounding the prompt with the extracted structural record.
func (s *Service) SummarizeFile(ctx context.Context, f *storage.File) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\n", f.Path)
	if f.Language != "" {
		fmt.Fprintf(&sb, "Language: %s\n", f.Language)
	}
	if len(f.Functions) > 0 {
		sb.WriteString("Functions:\n")
		for _, fn := range f.Functions {
			fmt.Fprintf(&sb, "  - %s (lines %d-%d)\n", fn.Signature, fn.LineStart, fn.LineEnd)
		}
	}
	if len(f.Classes) > 0 {
		sb.WriteString("Classes:\n")
		for _, cls := range f.Classes {
			names := make([]string, len(cls.Methods))
			for i, m := range cls.Methods {
				names[i] = m.Name
			}
			fmt.Fprintf(&sb, "  - %s [%s]\n", cls.Name, strings.Join(names, ", "))
		}
	}
	if len(f.Imports) > 0 {
		fmt.Fprintf(&sb, "Imports: %s\n", strings.Join(f.Imports, ", "))
	}
	sb.WriteString("\nContent:\n")
	sb.WriteString(truncate(f.Content, maxPromptContent))

	resp, err := s.completer.Chat(ctx, s.provider, ChatRequest{
		Messages: []Message{
			{Role: "system", Content: summarizeSystem},
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Overview produces the repository-level overview from the summaries
// of its most imported files.
func (s *Service) Overview(ctx context.Context, repoName string, top []storage.RankedFile) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository: %s\n\nKey file summaries:\n", repoName)
	for _, rf := range top {
		if rf.Summary == "" {
			continue
		}
		fmt.Fprintf(&sb, "- %s (imported by %d files): %s\n", rf.Path, rf.ImportedByLen, rf.Summary)
	}

	resp, err := s.completer.Chat(ctx, s.provider, ChatRequest{
		Messages: []Message{
			{Role: "system", Content: overviewSystem},
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
