// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpcprom records arrowrpc dispatch metrics with the Prometheus
// client library.
package rpcprom

import (
	"context"
	"time"

	"github.com/obermuhlner/hello-rpc/arrowrpc"
	"github.com/prometheus/client_golang/prometheus"
)

// Hook is an [arrowrpc.DispatchHook] that counts calls and observes their
// duration.
type Hook struct {
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewHook creates the hook and registers its collectors on reg.
func NewHook(reg prometheus.Registerer) (*Hook, error) {
	h := &Hook{
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_server_requests_total",
				Help: "Total number of RPC requests processed.",
			},
			[]string{"service", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpc_server_request_duration_seconds",
				Help:    "Duration of RPC requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method"},
		),
	}
	if err := reg.Register(h.requestCount); err != nil {
		return nil, err
	}
	if err := reg.Register(h.requestDuration); err != nil {
		reg.Unregister(h.requestCount)
		return nil, err
	}
	return h, nil
}

// OnDispatchStart implements arrowrpc.DispatchHook.
func (h *Hook) OnDispatchStart(ctx context.Context, _ arrowrpc.DispatchInfo) (context.Context, arrowrpc.HookToken) {
	return ctx, time.Now()
}

// OnDispatchEnd implements arrowrpc.DispatchHook. The status label is "ok"
// or the protocol error type of the failure.
func (h *Hook) OnDispatchEnd(_ context.Context, token arrowrpc.HookToken, info arrowrpc.DispatchInfo, _ *arrowrpc.CallStatistics, err error) {
	status := "ok"
	if err != nil {
		status = arrowrpc.ErrorType(err)
	}
	h.requestCount.WithLabelValues(info.Service, info.Method, status).Inc()
	if start, ok := token.(time.Time); ok {
		h.requestDuration.WithLabelValues(info.Service, info.Method).Observe(time.Since(start).Seconds())
	}
}
