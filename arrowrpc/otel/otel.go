// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpcotel provides OpenTelemetry instrumentation for arrowrpc
// servers. It implements [arrowrpc.DispatchHook] to add distributed tracing
// and metrics to RPC dispatch.
//
// Usage:
//
//	server := arrowrpc.NewServer()
//	// ... register methods ...
//	rpcotel.InstrumentServer(server, rpcotel.DefaultConfig())
package rpcotel

import (
	"context"
	"fmt"
	"time"

	"github.com/obermuhlner/hello-rpc/arrowrpc"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/obermuhlner/hello-rpc/arrowrpc"
	rpcSystem           = "arrowrpc"
	defaultServiceName  = "GoRpcServer"
)

// Config configures OpenTelemetry instrumentation for an arrowrpc server.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator extracts trace context from transport metadata.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	// EnableTracing enables span creation.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed dispatches.
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value. Defaults to the
	// service name the call was dispatched under.
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig enables tracing, metrics and exception recording against
// the global providers.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// NewHook builds the instrumentation hook without installing it, for use
// with [arrowrpc.ChainHooks].
func NewHook(cfg Config) (arrowrpc.DispatchHook, error) {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}

	h := &hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		var err error
		h.requests, err = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of RPC requests"),
		)
		if err != nil {
			return nil, fmt.Errorf("creating request counter: %w", err)
		}
		h.duration, err = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of RPC requests"),
		)
		if err != nil {
			return nil, fmt.Errorf("creating duration histogram: %w", err)
		}
	}
	return h, nil
}

// InstrumentServer installs the hook on server, replacing any existing hook.
func InstrumentServer(server *arrowrpc.Server, cfg Config) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = server.ServiceName()
	}
	h, err := NewHook(cfg)
	if err != nil {
		return err
	}
	server.SetDispatchHook(h)
	return nil
}

type hook struct {
	cfg      Config
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// spanToken is the HookToken returned by OnDispatchStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

func (h *hook) serviceName(info arrowrpc.DispatchInfo) string {
	switch {
	case h.cfg.ServiceName != "":
		return h.cfg.ServiceName
	case info.Service != "":
		return info.Service
	default:
		return defaultServiceName
	}
}

// OnDispatchStart extracts the parent trace context and starts a server span.
func (h *hook) OnDispatchStart(ctx context.Context, info arrowrpc.DispatchInfo) (context.Context, arrowrpc.HookToken) {
	if info.TransportMetadata != nil {
		ctx = h.cfg.Propagator.Extract(ctx, propagation.MapCarrier(info.TransportMetadata))
	}
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", rpcSystem),
		attribute.String("rpc.service", h.serviceName(info)),
		attribute.String("rpc.method", info.Method),
		attribute.String("rpc.arrowrpc.method_type", info.MethodType),
		attribute.String("rpc.arrowrpc.server_id", info.ServerID),
	}
	if info.RequestID != "" {
		attrs = append(attrs, attribute.String("rpc.arrowrpc.request_id", info.RequestID))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, rpcSystem+"/"+info.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnDispatchEnd records metrics, finishes span attributes and ends the span.
func (h *hook) OnDispatchEnd(ctx context.Context, token arrowrpc.HookToken, info arrowrpc.DispatchInfo, stats *arrowrpc.CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	elapsed := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		attrs := metric.WithAttributes(
			attribute.String("rpc.system", rpcSystem),
			attribute.String("rpc.service", h.serviceName(info)),
			attribute.String("rpc.method", info.Method),
			attribute.String("status", status),
		)
		h.requests.Add(ctx, 1, attrs)
		h.duration.Record(ctx, elapsed.Seconds(), attrs)
	}

	if st.span == nil {
		return
	}
	defer st.span.End()
	if !st.span.IsRecording() {
		return
	}
	if stats != nil {
		st.span.SetAttributes(
			attribute.Int64("rpc.arrowrpc.input_rows", stats.InputRows),
			attribute.Int64("rpc.arrowrpc.output_rows", stats.OutputRows),
			attribute.Int64("rpc.arrowrpc.input_bytes", stats.InputBytes),
			attribute.Int64("rpc.arrowrpc.output_bytes", stats.OutputBytes),
		)
	}
	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			st.span.RecordError(err)
		}
		st.span.SetAttributes(attribute.String("rpc.arrowrpc.error_type", arrowrpc.ErrorType(err)))
		return
	}
	st.span.SetStatus(codes.Ok, "")
}
