// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/obermuhlner/hello-rpc/arrowrpc"
	"github.com/obermuhlner/hello-rpc/example"
	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Call ping; the server prints \"Ping\"",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel, err := callContext(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		remote, closer, err := dialRemote(ctx, cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		if err := remote.Ping(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

var squareCmd = &cobra.Command{
	Use:   "square VALUE",
	Short: "Call calculateSquare and print the result",
	Long: `Call calculateSquare and print the result.

Negative values must follow "--", for example: hello-rpc square -- -2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[0], err)
		}
		ctx, cancel, err := callContext(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		remote, closer, err := dialRemote(ctx, cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		sq, err := remote.CalculateSquare(ctx, v)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(sq, 'g', -1, 64))
		return nil
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Call enrichExample and print the enriched record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := exampleDataFromFlags(cmd)
		if err != nil {
			return err
		}
		ctx, cancel, err := callContext(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		remote, closer, err := dialRemote(ctx, cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		out, err := remote.EnrichExample(ctx, d)
		if err != nil {
			return err
		}
		printExampleData(cmd.OutOrStdout(), out)
		return nil
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "List the methods the server provides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel, err := callContext(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		client, closer, err := dialClient(ctx, cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		desc, err := client.Describe(ctx)
		if err != nil {
			return err
		}
		printDescription(cmd.OutOrStdout(), desc)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{pingCmd, squareCmd, enrichCmd, describeCmd} {
		c.Flags().String("url", cfg.Client.URL, "base URL of an HTTP server")
		c.Flags().String("unix", cfg.Client.UnixSocket, "path of a unix socket server")
		c.Flags().String("client-log-level", cfg.Client.LogLevel, "minimum level of server log messages to receive")
		c.Flags().Duration("timeout", 30*time.Second, "call timeout")
		c.MarkFlagsMutuallyExclusive("url", "unix")
		rootCmd.AddCommand(c)
	}
	enrichCmd.Flags().Int32("int", 0, "intField")
	enrichCmd.Flags().Int64("long", 0, "longField")
	enrichCmd.Flags().String("string", "", "stringField")
	enrichCmd.Flags().String("planet", string(example.Earth), "planetField")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// callContext bounds a command's calls by --timeout.
func callContext(cmd *cobra.Command) (context.Context, context.CancelFunc, error) {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, nil, err
	}
	if timeout <= 0 {
		ctx, cancel := context.WithCancel(cmd.Context())
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return ctx, cancel, nil
}

// dialClient connects to the server named by --url or --unix.
func dialClient(ctx context.Context, cmd *cobra.Command) (*arrowrpc.Client, io.Closer, error) {
	url, err := cmd.Flags().GetString("url")
	if err != nil {
		return nil, nil, err
	}
	unixPath, err := cmd.Flags().GetString("unix")
	if err != nil {
		return nil, nil, err
	}
	levelName, err := cmd.Flags().GetString("client-log-level")
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cmd, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	opts := []arrowrpc.ClientOption{
		arrowrpc.WithService(example.ServiceName),
		arrowrpc.WithLogLevel(arrowrpc.LogLevel(strings.ToUpper(levelName))),
		arrowrpc.WithClientLogger(logger),
	}

	switch {
	case url != "" && unixPath != "":
		return nil, nil, fmt.Errorf("--url %q and --unix %q are mutually exclusive", url, unixPath)
	case url != "":
		return arrowrpc.NewClient(arrowrpc.NewHTTPTransport(url), opts...), nopCloser{}, nil
	case unixPath != "":
		transport, err := arrowrpc.DialUnix(ctx, unixPath)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to %s: %w", unixPath, err)
		}
		return arrowrpc.NewClient(transport, opts...), transport, nil
	default:
		return nil, nil, errors.New("one of --url or --unix is required")
	}
}

func dialRemote(ctx context.Context, cmd *cobra.Command) (*example.Remote, io.Closer, error) {
	client, closer, err := dialClient(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	return example.NewRemote(client), closer, nil
}

func exampleDataFromFlags(cmd *cobra.Command) (example.ExampleData, error) {
	var d example.ExampleData
	var err error
	flags := cmd.Flags()
	if d.IntField, err = flags.GetInt32("int"); err != nil {
		return d, err
	}
	if d.LongField, err = flags.GetInt64("long"); err != nil {
		return d, err
	}
	if d.StringField, err = flags.GetString("string"); err != nil {
		return d, err
	}
	planet, err := flags.GetString("planet")
	if err != nil {
		return d, err
	}
	if d.PlanetField, err = example.ParsePlanet(strings.ToUpper(planet)); err != nil {
		return d, err
	}
	return d, nil
}

func printExampleData(w io.Writer, d example.ExampleData) {
	fmt.Fprintf(w, "intField:    %d\n", d.IntField)
	fmt.Fprintf(w, "longField:   %d\n", d.LongField)
	fmt.Fprintf(w, "stringField: %q\n", d.StringField)
	fmt.Fprintf(w, "planetField: %s\n", d.PlanetField)
}

func printDescription(w io.Writer, desc *arrowrpc.ServiceDescription) {
	fmt.Fprintf(w, "service %s (server %s, protocol %s)\n", desc.Service, desc.ServerID, desc.Protocol)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tRETURNS\tPARAMS\tDOC")
	for _, m := range desc.Methods {
		params := make([]string, 0, m.ParamsSchema.NumFields())
		for _, f := range m.ParamsSchema.Fields() {
			typ := m.ParamTypes[f.Name]
			if typ == "" {
				typ = f.Type.String()
			}
			params = append(params, f.Name+": "+typ)
		}
		returns := "-"
		if m.HasReturn {
			returns = m.ResultSchema.Field(0).Type.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, returns, strings.Join(params, ", "), m.Doc)
	}
	tw.Flush()
}
