// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/obermuhlner/hello-rpc/arrowrpc"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "hello-rpc version %s (protocol %s)\n", version, arrowrpc.ProtocolVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
