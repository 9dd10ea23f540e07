// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package example

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"net"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/obermuhlner/hello-rpc/arrowrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards a buffer written by server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newHelloServer(out *syncBuffer) *arrowrpc.Server {
	s := arrowrpc.NewServer()
	RegisterMethods(s, NewHelloService(out))
	return s
}

// transports builds one client per transport against a fresh server.
func transports(t *testing.T) map[string]func(*syncBuffer) *arrowrpc.Client {
	return map[string]func(*syncBuffer) *arrowrpc.Client{
		"in-process": func(out *syncBuffer) *arrowrpc.Client {
			return arrowrpc.NewClient(arrowrpc.NewInProcessTransport(newHelloServer(out)), arrowrpc.WithService(ServiceName))
		},
		"pipe": func(out *syncBuffer) *arrowrpc.Client {
			serverConn, clientConn := net.Pipe()
			ctx, cancel := context.WithCancel(context.Background())
			go newHelloServer(out).ServeWithContext(ctx, serverConn, serverConn)
			transport := arrowrpc.NewConnTransport(clientConn)
			t.Cleanup(func() {
				cancel()
				transport.Close()
			})
			return arrowrpc.NewClient(transport, arrowrpc.WithService(ServiceName))
		},
		"http": func(out *syncBuffer) *arrowrpc.Client {
			h := arrowrpc.NewHttpServer(newHelloServer(out))
			require.NoError(t, h.SetCompressionLevel(3))
			ts := httptest.NewServer(h)
			t.Cleanup(ts.Close)
			return arrowrpc.NewClient(arrowrpc.NewHTTPTransport(ts.URL, arrowrpc.WithRequestCompression(3)),
				arrowrpc.WithService(ServiceName))
		},
	}
}

func TestRemoteOverTransports(t *testing.T) {
	for name, newClient := range transports(t) {
		t.Run(name, func(t *testing.T) {
			out := &syncBuffer{}
			remote := NewRemote(newClient(out))
			ctx := context.Background()

			require.NoError(t, remote.Ping(ctx))
			assert.Equal(t, "Ping\n", out.String())

			sq, err := remote.CalculateSquare(ctx, -2)
			require.NoError(t, err)
			assert.Equal(t, 4.0, sq)

			sq, err = remote.CalculateSquare(ctx, math.Inf(-1))
			require.NoError(t, err)
			assert.True(t, math.IsInf(sq, 1))

			in := ExampleData{IntField: 5, LongField: 1000, StringField: "x", PlanetField: Earth}
			got, err := remote.EnrichExample(ctx, in)
			require.NoError(t, err)
			assert.Equal(t, ExampleData{IntField: 116, LongField: 22223222, StringField: "x from C++", PlanetField: Mars}, got)

			got, err = remote.EnrichExample(ctx, ExampleData{IntField: math.MaxInt32, PlanetField: Neptune})
			require.NoError(t, err)
			assert.Equal(t, int32(math.MinInt32+110), got.IntField)
		})
	}
}

func TestRemoteRejectsUnknownPlanet(t *testing.T) {
	remote := NewRemote(arrowrpc.NewClient(arrowrpc.NewInProcessTransport(newHelloServer(&syncBuffer{}))))
	_, err := remote.EnrichExample(context.Background(), ExampleData{PlanetField: "PLUTO"})
	require.Error(t, err)
}

func TestEnrichLogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := arrowrpc.NewClient(arrowrpc.NewInProcessTransport(newHelloServer(&syncBuffer{})),
		arrowrpc.WithLogLevel(arrowrpc.LogDebug), arrowrpc.WithClientLogger(logger))

	_, err := NewRemote(client).EnrichExample(context.Background(), ExampleData{PlanetField: Jupiter})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "enriching example")
	assert.Contains(t, buf.String(), "planet=JUPITER")
}

func TestDescribeHelloService(t *testing.T) {
	client := arrowrpc.NewClient(arrowrpc.NewInProcessTransport(newHelloServer(&syncBuffer{})))
	desc, err := client.Describe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ServiceName, desc.Service)
	require.Len(t, desc.Methods, 3)

	ping, ok := desc.Method(MethodPing)
	require.True(t, ok)
	assert.False(t, ping.HasReturn)

	square, ok := desc.Method(MethodCalculateSquare)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"value": "float"}, square.ParamTypes)

	enrich, ok := desc.Method(MethodEnrichExample)
	require.True(t, ok)
	assert.True(t, enrich.HasReturn)
	assert.Equal(t, "exampleData", enrich.ParamsSchema.Field(0).Name)
}
