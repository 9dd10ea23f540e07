// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package rpcprom

import (
	"context"
	"testing"

	"github.com/obermuhlner/hello-rpc/arrowrpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetParams struct {
	Name string `rpc:"name"`
}

func TestHookCountsCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook, err := NewHook(reg)
	require.NoError(t, err)

	s := arrowrpc.NewServer()
	s.SetServiceName("Greeter")
	s.SetDispatchHook(hook)
	arrowrpc.Unary(s, "greet", func(_ context.Context, _ *arrowrpc.CallContext, p greetParams) (string, error) {
		if p.Name == "" {
			return "", &arrowrpc.RpcError{Type: arrowrpc.ErrTypeValue, Message: "name is required"}
		}
		return "hello " + p.Name, nil
	})
	client := arrowrpc.NewClient(arrowrpc.NewInProcessTransport(s))
	ctx := context.Background()

	for _, name := range []string{"a", "b", ""} {
		_, _ = arrowrpc.Call[greetParams, string](ctx, client, "greet", greetParams{Name: name})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(hook.requestCount.WithLabelValues("Greeter", "greet", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(hook.requestCount.WithLabelValues("Greeter", "greet", "ValueError")))
	assert.Equal(t, 1, testutil.CollectAndCount(hook.requestDuration, "rpc_server_request_duration_seconds"))
}

func TestNewHookRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewHook(reg)
	require.NoError(t, err)
	_, err = NewHook(reg)
	assert.Error(t, err)
}
