// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/klauspost/compress/zstd"
)

// Transport carries one encoded request to a server and returns the
// encoded response stream.
type Transport interface {
	RoundTrip(ctx context.Context, method string, request []byte) ([]byte, error)
}

// StreamTransport exchanges request and response streams over a byte stream
// such as a pipe or a socket. Calls are serialized.
type StreamTransport struct {
	mu     sync.Mutex
	r      io.Reader
	w      io.Writer
	closer io.Closer
}

// NewStreamTransport creates a transport writing requests to w and reading
// responses from r.
func NewStreamTransport(r io.Reader, w io.Writer) *StreamTransport {
	return &StreamTransport{r: r, w: w}
}

// NewConnTransport creates a transport over a connection it takes ownership of.
func NewConnTransport(conn net.Conn) *StreamTransport {
	return &StreamTransport{r: conn, w: conn, closer: conn}
}

// DialUnix connects to a server listening on a unix socket.
func DialUnix(ctx context.Context, path string) (*StreamTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return NewConnTransport(conn), nil
}

// RoundTrip implements Transport. The response is read up to its
// end-of-stream marker so the next call starts on a fresh stream.
func (t *StreamTransport) RoundTrip(ctx context.Context, _ string, request []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if conn, ok := t.closer.(net.Conn); ok {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
			defer conn.SetDeadline(time.Time{})
		}
	}

	if _, err := t.w.Write(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	var buf bytes.Buffer
	reader, err := ipc.NewReader(io.TeeReader(t.r, &buf))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	defer reader.Release()
	for reader.Next() {
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return buf.Bytes(), nil
}

// Close closes the underlying connection, if the transport owns one.
func (t *StreamTransport) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// HTTPTransport posts each request to {baseURL}{prefix}/{method}.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	encoder *zstd.Encoder
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = client }
}

// WithRequestCompression compresses request bodies with zstd at level.
func WithRequestCompression(level int) HTTPOption {
	return func(t *HTTPTransport) {
		if level <= 0 {
			t.encoder = nil
			return
		}
		t.encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
}

// NewHTTPTransport creates a transport for a server mounted at baseURL.
func NewHTTPTransport(baseURL string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements Transport. Error responses still carry an Arrow
// stream and are returned without error.
func (t *HTTPTransport) RoundTrip(ctx context.Context, method string, request []byte) ([]byte, error) {
	body := request
	if t.encoder != nil {
		body = t.encoder.EncodeAll(request, nil)
	}
	endpoint := t.baseURL + DefaultHTTPPrefix + "/" + url.PathEscape(method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", arrowContentType)
	req.Header.Set("Accept-Encoding", "zstd")
	if t.encoder != nil {
		req.Header.Set("Content-Encoding", "zstd")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != arrowContentType {
		return nil, fmt.Errorf("unexpected HTTP response %d (%s): %s", resp.StatusCode, ct, strings.TrimSpace(string(data)))
	}
	if resp.Header.Get("Content-Encoding") == "zstd" {
		if data, err = zstdDecoder.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("decompressing response body: %w", err)
		}
	}
	return data, nil
}

// zstdDecoder decodes response bodies; DecodeAll is safe for concurrent use.
var zstdDecoder, _ = zstd.NewReader(nil)

// InProcessTransport calls a server in the same process through
// [Server.Dispatch], exercising the full wire encoding.
type InProcessTransport struct {
	server *Server
}

// NewInProcessTransport creates a transport bound to server.
func NewInProcessTransport(server *Server) *InProcessTransport {
	return &InProcessTransport{server: server}
}

// RoundTrip implements Transport.
func (t *InProcessTransport) RoundTrip(ctx context.Context, _ string, request []byte) ([]byte, error) {
	return t.server.Dispatch(ctx, request), nil
}
