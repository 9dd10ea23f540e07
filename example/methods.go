// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package example

import (
	"context"

	"github.com/obermuhlner/hello-rpc/arrowrpc"
)

// ServiceName is the logical service name HelloService is served under.
const ServiceName = "HelloService"

// RPC method names.
const (
	MethodPing            = "ping"
	MethodCalculateSquare = "calculateSquare"
	MethodEnrichExample   = "enrichExample"
)

type PingParams struct{}

type CalculateSquareParams struct {
	Value float64 `rpc:"value"`
}

type EnrichExampleParams struct {
	ExampleData ExampleData `rpc:"exampleData"`
}

// RegisterMethods binds svc's operations on server and names the server
// after the service.
func RegisterMethods(server *arrowrpc.Server, svc *HelloService) {
	server.SetServiceName(ServiceName)

	arrowrpc.UnaryVoid(server, MethodPing,
		func(_ context.Context, _ *arrowrpc.CallContext, _ PingParams) error {
			svc.Ping()
			return nil
		},
		arrowrpc.WithDoc("Writes \"Ping\" to the server's diagnostic output."))

	arrowrpc.Unary(server, MethodCalculateSquare,
		func(_ context.Context, _ *arrowrpc.CallContext, p CalculateSquareParams) (float64, error) {
			return svc.CalculateSquare(p.Value), nil
		},
		arrowrpc.WithDoc("Returns value squared."))

	arrowrpc.Unary(server, MethodEnrichExample,
		func(_ context.Context, cc *arrowrpc.CallContext, p EnrichExampleParams) (ExampleData, error) {
			cc.ClientLog(arrowrpc.LogDebug, "enriching example",
				arrowrpc.KV{Key: "planet", Value: string(p.ExampleData.PlanetField)})
			return svc.EnrichExample(p.ExampleData), nil
		},
		arrowrpc.WithDoc("Adds fixed increments to the record and moves it to MARS."))
}

// Remote calls HelloService through an arrowrpc client.
type Remote struct {
	client *arrowrpc.Client
}

// NewRemote creates a proxy over client.
func NewRemote(client *arrowrpc.Client) *Remote {
	return &Remote{client: client}
}

func (r *Remote) Ping(ctx context.Context) error {
	return arrowrpc.CallVoid(ctx, r.client, MethodPing, PingParams{})
}

func (r *Remote) CalculateSquare(ctx context.Context, v float64) (float64, error) {
	return arrowrpc.Call[CalculateSquareParams, float64](ctx, r.client, MethodCalculateSquare, CalculateSquareParams{Value: v})
}

func (r *Remote) EnrichExample(ctx context.Context, d ExampleData) (ExampleData, error) {
	return arrowrpc.Call[EnrichExampleParams, ExampleData](ctx, r.client, MethodEnrichExample, EnrichExampleParams{ExampleData: d})
}
