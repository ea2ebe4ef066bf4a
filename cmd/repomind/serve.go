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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/internal/bootstrap"
	"github.com/kraklabs/repomind/internal/config"
	"github.com/kraklabs/repomind/internal/output"
)

// runServe starts the HTTP API server and blocks until SIGINT/SIGTERM.
func runServe(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (overrides HTTP_ADDR)")
	metricsAddr := fs.String("metrics-addr", "", "Dedicated /metrics listener (overrides METRICS_ADDR)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repomind serve [options]

Description:
  Run the repomind HTTP API: session management, repository ingestion,
  task progress, and the streaming query endpoint.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  repomind serve
  repomind serve --addr :9000 --metrics-addr :9100
`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err, globals)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logger := bootstrap.NewLogger(cfg, globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewApp(ctx, cfg, logger)
	if err != nil {
		fatal(err, globals)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		fatal(err, globals)
	}
}

// fatal prints a rendered error and exits non-zero.
func fatal(err error, globals GlobalFlags) {
	if globals.JSON {
		_ = output.JSONError(err)
	} else {
		fmt.Fprintln(os.Stderr, apierr.Format(err, globals.NoColor))
	}
	os.Exit(1)
}
