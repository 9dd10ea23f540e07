// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/obermuhlner/hello-rpc/internal/config"
	"github.com/spf13/cobra"
)

var cfg = config.Load()

var rootCmd = &cobra.Command{
	Use:           "hello-rpc",
	Short:         "Serve and call HelloService over Arrow IPC",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", cfg.LogFormat, "log format (text or json)")
}

// newLogger builds the process logger from the persistent flags. Logs go to
// w, never to stdout, which carries IPC in stdio mode.
func newLogger(cmd *cobra.Command, w io.Writer) (*slog.Logger, error) {
	levelName, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}
	format, err := cmd.Flags().GetString("log-format")
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
