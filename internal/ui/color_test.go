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

package ui

import (
	"fmt"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

// withPlainOutput disables escape sequences for the test so the
// inline helpers return their input verbatim.
func withPlainOutput(t *testing.T) {
	t.Helper()
	original := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = original })
}

func TestInitColors(t *testing.T) {
	original := color.NoColor
	t.Cleanup(func() { color.NoColor = original })

	InitColors(true)
	assert.True(t, color.NoColor)
	InitColors(false)
	assert.False(t, color.NoColor)
}

func TestInlineHelpersPassTextThrough(t *testing.T) {
	withPlainOutput(t)

	// The ingest summary block: bold field names, dim paths, cyan
	// counts. With colors off each must come back untouched.
	assert.Equal(t, "Repository:", Label("Repository:"))
	assert.Equal(t, "pkg/ingestion/pipeline.go", DimText("pkg/ingestion/pipeline.go"))
	assert.Equal(t, "42", CountText(42))
	assert.Equal(t, "0", CountText(0))
	assert.Equal(t, "-1", CountText(-1))
	assert.Equal(t, "", Label(""))
	assert.Equal(t, "", DimText(""))

	line := fmt.Sprintf("%s %s", Label("Branch:"), DimText("main"))
	assert.Equal(t, "Branch: main", line)
}

func TestPaletteInitialized(t *testing.T) {
	for name, c := range map[string]*color.Color{
		"Red": Red, "Yellow": Yellow, "Green": Green,
		"Cyan": Cyan, "Bold": Bold, "Dim": Dim,
	} {
		assert.NotNil(t, c, name)
	}
}

func TestMessageHelpersRenderIngestFlow(t *testing.T) {
	withPlainOutput(t)

	// Drive the helpers through the lines the ingest command emits;
	// output goes to stdout, the test asserts none of them panic on
	// the real message shapes.
	Header("Ingesting https://github.com/alice/demo")
	Infof("%s/%s (%d files, default branch %s)", "alice", "demo", 2, "main")

	steps := []string{
		"queued", "fetching", "parsing", "embedding",
		"summarizing", "overview", "finalizing", "completed",
	}
	for _, step := range steps {
		Infof("step %s", step)
	}

	SubHeader("Files:")
	Warningf("skipped %d files with parse errors", 1)
	Warning("no embedding provider configured")
	Errorf("fetch failed for %s", "a.py")
	Error("task interrupted")
	Info("waiting for task")
	Successf("Ingested %s/%s: status %s", "alice", "demo", "completed")
	Success("ingestion complete")
}
