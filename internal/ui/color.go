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

// Package ui renders the repomind CLI's terminal output: colored
// status lines for the ingest command plus inline formatting for
// labels, paths and counts.
//
// Output honors --no-color and the NO_COLOR environment variable, and
// fatih/color suppresses escapes on non-TTY writers, so piped output
// stays plain.
package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// The palette: one color per message class, so ingest output reads
// consistently. Red for failures, yellow for skipped files, green for
// completions, cyan for progress, bold for headers, faint for paths.
var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// InitColors applies the --no-color flag globally. Called once in
// main after flag parsing.
func InitColors(noColor bool) {
	color.NoColor = noColor
}

// Success prints a green completion line.
//
//	✓ Ingested alice/demo: status completed
func Success(msg string) {
	_, _ = Green.Println("✓ " + msg)
}

// Successf is Success with formatting.
func Successf(format string, args ...any) {
	_, _ = Green.Printf("✓ "+format+"\n", args...)
}

// Warning prints a yellow caution line, used for skipped files and
// degraded pipeline stages.
func Warning(msg string) {
	_, _ = Yellow.Println("⚠ " + msg)
}

// Warningf is Warning with formatting.
func Warningf(format string, args ...any) {
	_, _ = Yellow.Printf("⚠ "+format+"\n", args...)
}

// Error prints a red failure line.
func Error(msg string) {
	_, _ = Red.Println("✗ " + msg)
}

// Errorf is Error with formatting.
func Errorf(format string, args ...any) {
	_, _ = Red.Printf("✗ "+format+"\n", args...)
}

// Info prints a cyan progress line.
//
//	ℹ alice/demo (42 files, default branch main)
func Info(msg string) {
	_, _ = Cyan.Println("ℹ " + msg)
}

// Infof is Info with formatting.
func Infof(format string, args ...any) {
	_, _ = Cyan.Printf("ℹ "+format+"\n", args...)
}

// Header prints a bold title with an underline sized to it.
//
//	Ingesting https://github.com/alice/demo
//	=======================================
func Header(text string) {
	_, _ = Bold.Println(text)
	fmt.Println(strings.Repeat("=", len(text)))
}

// SubHeader prints a bold section title without the underline.
func SubHeader(text string) {
	_, _ = Bold.Println(text)
}

// Label bolds an inline field name such as "Repository:".
func Label(text string) string {
	return Bold.Sprint(text)
}

// DimText de-emphasizes inline detail such as file paths.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// CountText renders a statistic in cyan.
func CountText(count int) string {
	return Cyan.Sprint(count)
}
