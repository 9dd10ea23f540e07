// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"context"
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
)

type color string

const (
	red   color = "RED"
	green color = "GREEN"
	blue  color = "BLUE"
)

func (color) EnumMembers() []string { return []string{"RED", "GREEN", "BLUE"} }

type point struct {
	X     float64 `arrow:"x"`
	Y     float64 `arrow:"y"`
	Label *string `arrow:"label"`
	Color color   `arrow:"color"`
}

var pointSchema = arrow.NewSchema([]arrow.Field{
	{Name: "x", Type: arrow.PrimitiveTypes.Float64},
	{Name: "y", Type: arrow.PrimitiveTypes.Float64},
	{Name: "label", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "color", Type: EnumDataType()},
}, nil)

func (point) ArrowSchema() *arrow.Schema { return pointSchema }

// loosePoint shares point's layout but accepts any color string.
type loosePoint struct {
	X     float64 `arrow:"x"`
	Y     float64 `arrow:"y"`
	Label *string `arrow:"label"`
	Color string  `arrow:"color"`
}

func (loosePoint) ArrowSchema() *arrow.Schema { return pointSchema }

type echoParams struct {
	Value string `rpc:"value"`
}

type addParams struct {
	A float64 `rpc:"a"`
	B float64 `rpc:"b,default=1.5"`
}

type colorParams struct {
	Color color `rpc:"color"`
}

type pointParams struct {
	Point point `rpc:"point"`
}

type int32Params struct {
	Value int32  `rpc:"value"`
	Count *int64 `rpc:"count"`
}

type failParams struct {
	Message string `rpc:"message"`
}

type noParams struct{}

var errPlain = errors.New("plain failure")

// newTestServer registers one method per feature under test.
func newTestServer() *Server {
	s := NewServer()
	s.SetServerID("test-server")
	s.SetServiceName("TestService")

	Unary(s, "echo", func(_ context.Context, _ *CallContext, p echoParams) (string, error) {
		return p.Value, nil
	}, WithDoc("Echoes value."))
	Unary(s, "add", func(_ context.Context, _ *CallContext, p addParams) (float64, error) {
		return p.A + p.B, nil
	})
	Unary(s, "color", func(_ context.Context, _ *CallContext, p colorParams) (color, error) {
		return p.Color, nil
	})
	Unary(s, "badColor", func(_ context.Context, _ *CallContext, _ noParams) (color, error) {
		return color("PURPLE"), nil
	})
	Unary(s, "point", func(_ context.Context, _ *CallContext, p pointParams) (point, error) {
		p.Point.X, p.Point.Y = p.Point.Y, p.Point.X
		return p.Point, nil
	})
	Unary(s, "int32", func(_ context.Context, _ *CallContext, p int32Params) (int32, error) {
		if p.Count != nil {
			return p.Value + int32(*p.Count), nil
		}
		return p.Value, nil
	})
	UnaryVoid(s, "noop", func(_ context.Context, _ *CallContext, _ noParams) error {
		return nil
	})
	UnaryVoid(s, "fail", func(_ context.Context, _ *CallContext, p failParams) error {
		return &RpcError{Type: ErrTypeValue, Message: p.Message}
	})
	UnaryVoid(s, "failPlain", func(_ context.Context, _ *CallContext, _ noParams) error {
		return errPlain
	})
	UnaryVoid(s, "boom", func(_ context.Context, _ *CallContext, _ noParams) error {
		panic("kaboom")
	})
	Unary(s, "log", func(_ context.Context, cc *CallContext, p echoParams) (string, error) {
		cc.ClientLog(LogInfo, "info message", KV{Key: "value", Value: p.Value})
		cc.ClientLog(LogDebug, "debug message")
		return cc.RequestID, nil
	})
	return s
}
