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

// Command repomind is the repository-intelligence service: it ingests
// public repositories into a searchable representation and answers
// questions about them through a tool-calling assistant.
//
// Usage:
//
//	repomind serve                      Run the HTTP API server
//	repomind ingest <github-url>        Ingest one repository from the CLI
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repomind/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	Quiet   bool
	NoColor bool
	Debug   bool
	JSON    bool
}

func main() {
	var (
		showVersion bool
		globals     GlobalFlags
	)
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVarP(&globals.Quiet, "quiet", "q", false, "Suppress progress output")
	flag.BoolVar(&globals.NoColor, "no-color", false, "Disable colored output")
	flag.BoolVar(&globals.Debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&globals.JSON, "json", false, "Machine-readable output (implies --quiet)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `repomind - repository intelligence service

repomind ingests a public GitHub repository into a structured,
searchable representation (parse trees, summaries, embeddings,
dependency edges) and answers questions about it through a
tool-calling assistant over Server-Sent Events.

Usage:
  repomind <command> [options]

Commands:
  serve    Run the HTTP API server
  ingest   Ingest one repository from the command line

Global Options:
  -q, --quiet     Suppress progress output
      --no-color  Disable colored output
      --debug     Enable debug logging
      --json      Machine-readable output (implies --quiet)
      --version   Show version and exit

Examples:
  repomind serve
  repomind serve --addr :9000
  repomind ingest https://github.com/alice/demo

Configuration comes from the environment (.env is honored):
  STORE_URI, QDRANT_HOST, AI_PROVIDER, AI_MODEL, AI_API_KEY,
  EMBEDDING_PROVIDER, EMBEDDING_MODEL, GITHUB_TOKEN, HTTP_ADDR.
  An optional repomind.yaml overlays pipeline tuning.

For detailed command help: repomind <command> --help

`)
	}
	flag.Parse()

	if globals.JSON {
		globals.Quiet = true
	}
	ui.InitColors(globals.NoColor)

	if showVersion {
		fmt.Printf("repomind %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "serve":
		runServe(args[1:], globals)
	case "ingest":
		runIngest(args[1:], globals)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}
