// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
)

// Client calls methods on a remote server through a [Transport].
type Client struct {
	transport Transport
	service   string
	logLevel  LogLevel
	logger    *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithService names the service every request is addressed to.
func WithService(name string) ClientOption {
	return func(c *Client) { c.service = name }
}

// WithLogLevel sets the minimum severity of server log messages the client
// asks to receive.
func WithLogLevel(level LogLevel) ClientOption {
	return func(c *Client) { c.logLevel = level }
}

// WithClientLogger sets where server log messages are forwarded.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client on top of transport.
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		logLevel:  LogInfo,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// roundTrip sends one request and decodes its response. A response that
// ended in an EXCEPTION batch is returned as an *RpcError.
func (c *Client) roundTrip(ctx context.Context, method string, params arrow.RecordBatch) (*Response, error) {
	req := &Request{
		Service:   c.service,
		Method:    method,
		RequestID: uuid.NewString(),
		LogLevel:  string(c.logLevel),
		Batch:     params,
	}
	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}

	data, err := c.transport.RoundTrip(ctx, method, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	resp, err := ReadResponse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	c.forwardLogs(ctx, method, req.RequestID, resp.Logs)

	if resp.Err != nil {
		resp.Release()
		if resp.Err.RequestID == "" {
			resp.Err.RequestID = req.RequestID
		}
		return nil, resp.Err
	}
	return resp, nil
}

func (c *Client) forwardLogs(ctx context.Context, method, requestID string, logs []LogMessage) {
	for _, lm := range logs {
		attrs := []slog.Attr{
			slog.String("method", method),
			slog.String("request_id", requestID),
		}
		keys := make([]string, 0, len(lm.Extras))
		for k := range lm.Extras {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attrs = append(attrs, slog.String(k, lm.Extras[k]))
		}
		c.logger.LogAttrs(ctx, lm.Level.slogLevel(), lm.Message, attrs...)
	}
}

func encodeParams[P any](params P) (arrow.RecordBatch, error) {
	codec, err := paramsCodecFor(reflect.TypeFor[P]())
	if err != nil {
		return nil, err
	}
	return codec.encodeRow(reflect.ValueOf(params))
}

// Call invokes a method that returns a value. P and R follow the same rules
// as for [Unary].
func Call[P any, R any](ctx context.Context, c *Client, method string, params P) (R, error) {
	var out R
	batch, err := encodeParams(params)
	if err != nil {
		return out, &RpcError{Type: ErrTypeType, Message: fmt.Sprintf("parameter serialization: %v", err)}
	}
	defer batch.Release()

	resp, err := c.roundTrip(ctx, method, batch)
	if err != nil {
		return out, err
	}
	defer resp.Release()

	codec, err := resultCodecFor(reflect.TypeFor[R]())
	if err != nil {
		return out, err
	}
	if err := codec.decode(resp.Batch, reflect.ValueOf(&out).Elem()); err != nil {
		return out, &RpcError{Type: ErrTypeSerialization, Message: fmt.Sprintf("result deserialization: %v", err)}
	}
	return out, nil
}

// CallVoid invokes a method that returns no value.
func CallVoid[P any](ctx context.Context, c *Client, method string, params P) error {
	batch, err := encodeParams(params)
	if err != nil {
		return &RpcError{Type: ErrTypeType, Message: fmt.Sprintf("parameter serialization: %v", err)}
	}
	defer batch.Release()

	resp, err := c.roundTrip(ctx, method, batch)
	if err != nil {
		return err
	}
	resp.Release()
	return nil
}

// Describe asks the server for its method catalogue.
func (c *Client) Describe(ctx context.Context) (*ServiceDescription, error) {
	resp, err := c.roundTrip(ctx, describeMethod, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Release()
	desc, err := parseDescribeBatch(resp.Batch)
	if err != nil {
		return nil, err
	}
	if desc.ServerID == "" {
		desc.ServerID = resp.ServerID
	}
	return desc, nil
}
