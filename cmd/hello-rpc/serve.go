// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obermuhlner/hello-rpc/arrowrpc"
	rpcotel "github.com/obermuhlner/hello-rpc/arrowrpc/otel"
	rpcprom "github.com/obermuhlner/hello-rpc/arrowrpc/prometheus"
	"github.com/obermuhlner/hello-rpc/example"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve HelloService",
	Long: `Serve HelloService over Arrow IPC.

Without flags the server speaks the protocol on stdin/stdout and is meant to
be launched by a client process. --unix listens on a unix socket and --http
serves POST /rpc/{method} (plus /metrics when --metrics is set).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("unix", cfg.Server.UnixSocket, "listen on a unix socket at this path")
	serveCmd.Flags().String("http", cfg.Server.HTTPAddr, "listen for HTTP on this address")
	serveCmd.Flags().String("server-id", cfg.Server.ServerID, "server identifier reported in responses (random when empty)")
	serveCmd.Flags().Int("compression-level", cfg.Server.CompressionLevel, "zstd level for HTTP responses, 0 disables")
	serveCmd.Flags().Int("max-request-bytes", cfg.Server.MaxRequestBytes, "largest accepted HTTP request body")
	serveCmd.Flags().Bool("debug-errors", cfg.Server.DebugErrors, "include stack traces in error responses")
	serveCmd.Flags().Bool("metrics", cfg.Server.Metrics, "record Prometheus metrics and serve /metrics over HTTP")
	serveCmd.Flags().Bool("otel-stdout", cfg.Server.OtelStdout, "export OpenTelemetry spans and metrics to stderr")
	serveCmd.MarkFlagsMutuallyExclusive("unix", "http")
	rootCmd.AddCommand(serveCmd)
}

// serveOptions is the resolved flag set of the serve command.
type serveOptions struct {
	unixPath         string
	httpAddr         string
	serverID         string
	compressionLevel int
	maxRequestBytes  int
	debugErrors      bool
	metrics          bool
	otelStdout       bool
}

func serveOptionsFromFlags(cmd *cobra.Command) (serveOptions, error) {
	var opts serveOptions
	var err error
	flags := cmd.Flags()
	if opts.unixPath, err = flags.GetString("unix"); err != nil {
		return opts, err
	}
	if opts.httpAddr, err = flags.GetString("http"); err != nil {
		return opts, err
	}
	// Defaults from the environment bypass cobra's exclusivity check.
	if opts.unixPath != "" && opts.httpAddr != "" {
		return opts, fmt.Errorf("--unix %q and --http %q are mutually exclusive", opts.unixPath, opts.httpAddr)
	}
	if opts.serverID, err = flags.GetString("server-id"); err != nil {
		return opts, err
	}
	if opts.compressionLevel, err = flags.GetInt("compression-level"); err != nil {
		return opts, err
	}
	if opts.maxRequestBytes, err = flags.GetInt("max-request-bytes"); err != nil {
		return opts, err
	}
	if opts.debugErrors, err = flags.GetBool("debug-errors"); err != nil {
		return opts, err
	}
	if opts.metrics, err = flags.GetBool("metrics"); err != nil {
		return opts, err
	}
	if opts.otelStdout, err = flags.GetBool("otel-stdout"); err != nil {
		return opts, err
	}
	return opts, nil
}

// service bundles a configured server with its telemetry.
type service struct {
	server   *arrowrpc.Server
	registry *prometheus.Registry
	shutdown func(context.Context) error
}

// newService builds the RPC server, registers HelloService on it and wires
// the dispatch hooks the options ask for. Ping output goes to pingOut.
func newService(opts serveOptions, logger *slog.Logger, pingOut, telemetryOut io.Writer) (*service, error) {
	server := arrowrpc.NewServer()
	server.SetLogger(logger)
	server.SetDebugErrors(opts.debugErrors)
	if opts.serverID != "" {
		server.SetServerID(opts.serverID)
	}
	example.RegisterMethods(server, example.NewHelloService(pingOut))

	svc := &service{server: server, shutdown: func(context.Context) error { return nil }}
	hooks := []arrowrpc.DispatchHook{arrowrpc.NewLogHook(logger)}

	if opts.metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		hook, err := rpcprom.NewHook(reg)
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
		svc.registry = reg
		hooks = append(hooks, hook)
	}

	if opts.otelStdout {
		traceExp, err := stdouttrace.New(stdouttrace.WithWriter(telemetryOut))
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(telemetryOut))
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))

		otelCfg := rpcotel.DefaultConfig()
		otelCfg.TracerProvider = tp
		otelCfg.MeterProvider = mp
		otelCfg.Propagator = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
		otelCfg.ServiceName = example.ServiceName
		hook, err := rpcotel.NewHook(otelCfg)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, hook)
		svc.shutdown = func(ctx context.Context) error {
			return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
		}
	}

	server.SetDispatchHook(arrowrpc.ChainHooks(hooks...))
	return svc, nil
}

// httpHandler mounts the RPC endpoints and, with metrics enabled, /metrics.
func (s *service) httpHandler(opts serveOptions) (http.Handler, error) {
	rpcHandler := arrowrpc.NewHttpServer(s.server)
	if err := rpcHandler.SetCompressionLevel(opts.compressionLevel); err != nil {
		return nil, err
	}
	rpcHandler.SetMaxRequestBytes(int64(opts.maxRequestBytes))

	mux := http.NewServeMux()
	mux.Handle(arrowrpc.DefaultHTTPPrefix+"/", rpcHandler)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	opts, err := serveOptionsFromFlags(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, os.Stderr)
	if err != nil {
		return err
	}

	// In stdio mode stdout is the response channel.
	pingOut := io.Writer(os.Stdout)
	if opts.unixPath == "" && opts.httpAddr == "" {
		pingOut = os.Stderr
	}
	svc, err := newService(opts, logger, pingOut, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.shutdown(ctx); err != nil {
			logger.Error("telemetry shutdown failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case opts.unixPath != "":
		return serveUnix(ctx, svc.server, opts.unixPath, logger)
	case opts.httpAddr != "":
		handler, err := svc.httpHandler(opts)
		if err != nil {
			return err
		}
		return serveHTTP(ctx, handler, opts.httpAddr, logger)
	default:
		svc.server.RunStdio(ctx)
		return nil
	}
}

func serveUnix(ctx context.Context, server *arrowrpc.Server, path string, logger *slog.Logger) error {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listening on unix socket: %w", err)
	}
	defer os.Remove(path)
	logger.Info("serving", "transport", "unix", "path", path, "server_id", server.ServerID())
	return server.ServeListener(ctx, ln)
}

func serveHTTP(ctx context.Context, handler http.Handler, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving", "transport", "http", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}
