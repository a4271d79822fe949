// Copyright 2025 The ripcd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd implements the ripcd command-line entrypoints.
package cmd

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/spf13/cobra"
)

// version, gitHash and buildTime are injected at build time via
// -ldflags "-X github.com/ripcd/ripcd/cmd.version=...".
var (
	version   = "dev"
	gitHash   = "unknown"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "ripcd",
	Short: "ripcd is a RIPC/WebSocket bidirectional streaming transport server",
	Long: "ripcd accepts RIPC and WebSocket connections, drives the RIPC handshake " +
		"and frame codec, and dispatches accepted sessions to the configured controller.",
}

// Execute runs the root command; main calls this and exits non-zero on
// failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
