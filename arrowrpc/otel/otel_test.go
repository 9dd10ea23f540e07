// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package rpcotel

import (
	"context"
	"testing"

	"github.com/obermuhlner/hello-rpc/arrowrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type squareParams struct {
	Value float64 `rpc:"value"`
}

type testEnv struct {
	recorder *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
	cfg      Config
}

func newTestEnv() *testEnv {
	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	cfg := DefaultConfig()
	cfg.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	cfg.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	cfg.Propagator = propagation.TraceContext{}
	return &testEnv{recorder: recorder, reader: reader, cfg: cfg}
}

func newServer() *arrowrpc.Server {
	s := arrowrpc.NewServer()
	s.SetServerID("otel-test")
	s.SetServiceName("Calc")
	arrowrpc.Unary(s, "square", func(_ context.Context, _ *arrowrpc.CallContext, p squareParams) (float64, error) {
		if p.Value < 0 {
			return 0, &arrowrpc.RpcError{Type: arrowrpc.ErrTypeValue, Message: "negative"}
		}
		return p.Value * p.Value, nil
	})
	return s
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestInstrumentServerRecordsSpans(t *testing.T) {
	env := newTestEnv()
	s := newServer()
	require.NoError(t, InstrumentServer(s, env.cfg))
	client := arrowrpc.NewClient(arrowrpc.NewInProcessTransport(s))
	ctx := context.Background()

	got, err := arrowrpc.Call[squareParams, float64](ctx, client, "square", squareParams{Value: 3})
	require.NoError(t, err)
	assert.Equal(t, 9.0, got)
	_, err = arrowrpc.Call[squareParams, float64](ctx, client, "square", squareParams{Value: -1})
	require.Error(t, err)

	spans := env.recorder.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "arrowrpc/square", ok.Name())
	assert.Equal(t, trace.SpanKindServer, ok.SpanKind())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	attrs := attrMap(ok.Attributes())
	assert.Equal(t, "arrowrpc", attrs["rpc.system"].AsString())
	assert.Equal(t, "Calc", attrs["rpc.service"].AsString())
	assert.Equal(t, "square", attrs["rpc.method"].AsString())
	assert.Equal(t, "otel-test", attrs["rpc.arrowrpc.server_id"].AsString())
	assert.NotEmpty(t, attrs["rpc.arrowrpc.request_id"].AsString())
	assert.Equal(t, int64(1), attrs["rpc.arrowrpc.output_rows"].AsInt64())

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "ValueError", attrMap(failed.Attributes())["rpc.arrowrpc.error_type"].AsString())
	require.Len(t, failed.Events(), 1)
	assert.Equal(t, "exception", failed.Events()[0].Name)
}

func TestInstrumentServerRecordsMetrics(t *testing.T) {
	env := newTestEnv()
	s := newServer()
	require.NoError(t, InstrumentServer(s, env.cfg))
	client := arrowrpc.NewClient(arrowrpc.NewInProcessTransport(s))
	ctx := context.Background()

	for _, v := range []float64{1, 2, -1} {
		_, _ = arrowrpc.Call[squareParams, float64](ctx, client, "square", squareParams{Value: v})
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, env.reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	requests, ok := byName["rpc.server.requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	counts := map[string]int64{}
	for _, dp := range requests.DataPoints {
		status, _ := dp.Attributes.Value("status")
		counts[status.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"ok": 2, "error": 1}, counts)

	duration, ok := byName["rpc.server.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var total uint64
	for _, dp := range duration.DataPoints {
		total += dp.Count
	}
	assert.Equal(t, uint64(3), total)
}

func TestHookExtractsParentTrace(t *testing.T) {
	env := newTestEnv()
	h, err := NewHook(env.cfg)
	require.NoError(t, err)

	info := arrowrpc.DispatchInfo{
		Service:    "Calc",
		Method:     "square",
		MethodType: arrowrpc.DispatchMethodUnary,
		TransportMetadata: map[string]string{
			"traceparent": "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
		},
	}
	ctx, token := h.OnDispatchStart(context.Background(), info)
	assert.True(t, trace.SpanFromContext(ctx).SpanContext().IsValid())
	h.OnDispatchEnd(ctx, token, info, &arrowrpc.CallStatistics{}, nil)

	spans := env.recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "b7ad6b7169203331", spans[0].Parent().SpanID().String())
	assert.True(t, spans[0].Parent().IsRemote())
}

func TestTracingDisabled(t *testing.T) {
	env := newTestEnv()
	env.cfg.EnableTracing = false
	h, err := NewHook(env.cfg)
	require.NoError(t, err)

	info := arrowrpc.DispatchInfo{Service: "Calc", Method: "square"}
	ctx, token := h.OnDispatchStart(context.Background(), info)
	h.OnDispatchEnd(ctx, token, info, nil, nil)

	assert.Empty(t, env.recorder.Ended())
	var rm metricdata.ResourceMetrics
	require.NoError(t, env.reader.Collect(context.Background(), &rm))
	assert.NotEmpty(t, rm.ScopeMetrics)
}

func TestServiceNameOverride(t *testing.T) {
	env := newTestEnv()
	env.cfg.ServiceName = "Override"
	env.cfg.CustomAttributes = []attribute.KeyValue{attribute.String("deployment", "test")}
	s := newServer()
	require.NoError(t, InstrumentServer(s, env.cfg))

	_, err := arrowrpc.Call[squareParams, float64](context.Background(),
		arrowrpc.NewClient(arrowrpc.NewInProcessTransport(s)), "square", squareParams{Value: 2})
	require.NoError(t, err)

	spans := env.recorder.Ended()
	require.Len(t, spans, 1)
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "Override", attrs["rpc.service"].AsString())
	assert.Equal(t, "test", attrs["deployment"].AsString())
}
