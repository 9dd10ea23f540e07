// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	arrowContentType = "application/vnd.apache.arrow.stream"
	// DefaultHTTPPrefix is the path prefix methods are served under.
	DefaultHTTPPrefix      = "/rpc"
	defaultMaxRequestBytes = 64 << 20
	// minDecoderWindow admits bodies from streaming encoders that declare
	// the default zstd window even when the request limit is smaller.
	minDecoderWindow = 8 << 20
)

// Headers copied into the transport metadata seen by dispatch hooks.
var propagatedHeaders = []string{"traceparent", "tracestate", "baggage"}

// HttpServer serves RPC requests over HTTP: each POST {prefix}/{method}
// carries one request stream and answers with one response stream.
type HttpServer struct {
	server          *Server
	prefix          string
	maxRequestBytes int64
	encoder         *zstd.Encoder
	mux             *http.ServeMux
}

// NewHttpServer creates an HTTP handler wrapping an RPC server.
func NewHttpServer(server *Server) *HttpServer {
	h := &HttpServer{
		server:          server,
		prefix:          DefaultHTTPPrefix,
		maxRequestBytes: defaultMaxRequestBytes,
	}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc(fmt.Sprintf("POST %s/{method}", h.prefix), h.handleUnary)
	return h
}

// SetCompressionLevel enables zstd response compression for clients that
// accept it. Level follows zstd conventions (1 fastest, 19 best); zero
// disables compression.
func (h *HttpServer) SetCompressionLevel(level int) error {
	if level <= 0 {
		h.encoder = nil
		return nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	h.encoder = enc
	return nil
}

// SetMaxRequestBytes limits the size of a request body after decompression.
func (h *HttpServer) SetMaxRequestBytes(n int64) {
	h.maxRequestBytes = n
}

// ServeHTTP implements http.Handler.
func (h *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HttpServer) handleUnary(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")

	if ct := r.Header.Get("Content-Type"); ct != arrowContentType {
		h.writeHttpError(w, r, http.StatusUnsupportedMediaType,
			&RpcError{Type: ErrTypeProtocol, Message: fmt.Sprintf("unsupported content type: %q", ct)})
		return
	}

	body, err := h.readBody(w, r)
	if err != nil {
		h.writeHttpError(w, r, http.StatusBadRequest, &RpcError{Type: ErrTypeProtocol, Message: err.Error()})
		return
	}

	req, err := ReadRequest(bytes.NewReader(body))
	if err != nil {
		if _, ok := asRpcError(err); !ok {
			err = &RpcError{Type: ErrTypeProtocol, Message: err.Error()}
		}
		h.writeHttpError(w, r, http.StatusBadRequest, err)
		return
	}
	defer req.Release()

	// The path names the method; the metadata copy must agree with it.
	if req.Method != method {
		h.writeHttpError(w, r, http.StatusBadRequest, &RpcError{
			Type:      ErrTypeProtocol,
			Message:   fmt.Sprintf("request names method '%s' but was posted to '%s'", req.Method, method),
			RequestID: req.RequestID,
		})
		return
	}
	for _, name := range propagatedHeaders {
		if v := r.Header.Get(name); v != "" {
			if _, ok := req.Metadata[name]; !ok {
				req.Metadata[name] = v
			}
		}
	}

	var buf bytes.Buffer
	callErr, err := h.server.call(r.Context(), &buf, req)
	if err != nil {
		h.server.logger.Error("failed to write HTTP response", "method", method, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeArrow(w, r, httpStatus(callErr), buf.Bytes())
}

// readBody reads the request body, inflating zstd bodies.
func (h *HttpServer) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxRequestBytes))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	switch enc := r.Header.Get("Content-Encoding"); enc {
	case "", "identity":
		return body, nil
	case "zstd":
		return inflateLimited(body, h.maxRequestBytes)
	default:
		return nil, fmt.Errorf("unsupported content encoding: %q", enc)
	}
}

// inflateLimited decompresses a zstd body, stopping as soon as the output
// exceeds limit bytes.
func inflateLimited(body []byte, limit int64) ([]byte, error) {
	window := uint64(max(limit, minDecoderWindow))
	dec, err := zstd.NewReader(bytes.NewReader(body),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxWindow(window),
		zstd.WithDecoderMaxMemory(window))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := io.ReadAll(io.LimitReader(dec, limit+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing request body: %w", err)
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return out, nil
}

// httpStatus maps a call failure onto an HTTP status code.
func httpStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	rpcErr, ok := asRpcError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch rpcErr.Type {
	case ErrTypeType, ErrTypeValue, ErrTypeProtocol, ErrTypeVersion:
		return http.StatusBadRequest
	case ErrTypeAttribute:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *HttpServer) writeHttpError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	requestID := ""
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		requestID = rpcErr.RequestID
	}
	var buf bytes.Buffer
	_ = WriteErrorResponse(&buf, nil, nil, err, h.server.debugErrors, h.server.serverID, requestID)
	h.writeArrow(w, r, statusCode, buf.Bytes())
}

func (h *HttpServer) writeArrow(w http.ResponseWriter, r *http.Request, statusCode int, data []byte) {
	w.Header().Set("Content-Type", arrowContentType)
	if h.encoder != nil && acceptsZstd(r) {
		data = h.encoder.EncodeAll(data, nil)
		w.Header().Set("Content-Encoding", "zstd")
	}
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

func acceptsZstd(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if name == "zstd" {
			return true
		}
	}
	return false
}
