// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"reflect"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
)

// invokeFunc calls a registered handler with decoded parameters. The result
// is nil for void methods.
type invokeFunc func(ctx context.Context, cc *CallContext, params reflect.Value) (any, error)

// methodInfo stores the registration details for one RPC method.
type methodInfo struct {
	Name   string
	Doc    string
	params *structCodec
	result *resultCodec
	invoke invokeFunc
}

// MethodOption configures a method at registration time.
type MethodOption func(*methodInfo)

// WithDoc attaches a description reported by __describe__.
func WithDoc(doc string) MethodOption {
	return func(m *methodInfo) { m.Doc = doc }
}

// Server dispatches incoming requests to registered methods. Methods must be
// registered before serving starts; after that a Server is safe for
// concurrent use.
type Server struct {
	methods      map[string]*methodInfo
	serverID     string
	serviceName  string
	dispatchHook DispatchHook
	debugErrors  bool
	logger       *slog.Logger
}

// NewServer creates a server with a random server ID.
func NewServer() *Server {
	return &Server{
		methods:  make(map[string]*methodInfo),
		serverID: uuid.NewString(),
		logger:   slog.Default(),
	}
}

// SetServerID sets the server identifier included in response metadata.
func (s *Server) SetServerID(id string) {
	s.serverID = id
}

// ServerID returns the server identifier.
func (s *Server) ServerID() string {
	return s.serverID
}

// SetServiceName sets the logical service name. Requests naming a different
// service are rejected with an AttributeError.
func (s *Server) SetServiceName(name string) {
	s.serviceName = name
}

// ServiceName returns the logical service name, or empty string if not set.
func (s *Server) ServiceName() string {
	return s.serviceName
}

// SetDispatchHook registers a hook that is called around each RPC dispatch.
func (s *Server) SetDispatchHook(hook DispatchHook) {
	s.dispatchHook = hook
}

// SetDebugErrors controls whether error responses include stack traces.
// Leave it off for services reachable by untrusted clients.
func (s *Server) SetDebugErrors(enabled bool) {
	s.debugErrors = enabled
}

// SetLogger sets the logger used for server-side diagnostics.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

func (s *Server) register(name string, paramsType, resultType reflect.Type, invoke invokeFunc, opts []MethodOption) {
	if name == describeMethod {
		panic(fmt.Sprintf("arrowrpc: %q is reserved", name))
	}
	params, err := newParamsCodec(paramsType)
	if err != nil {
		panic(fmt.Sprintf("arrowrpc: registering %q: invalid params type %v: %v", name, paramsType, err))
	}
	result, err := newResultCodec(resultType)
	if err != nil {
		panic(fmt.Sprintf("arrowrpc: registering %q: invalid result type %v: %v", name, resultType, err))
	}
	info := &methodInfo{Name: name, params: params, result: result, invoke: invoke}
	for _, opt := range opts {
		opt(info)
	}
	s.methods[name] = info
}

// Unary registers a request-response method. P must be a struct with `rpc`
// tags; R is a scalar, an [Enum] or an [ArrowSerializable] record.
// Registration panics if either type cannot be mapped to Arrow.
func Unary[P any, R any](s *Server, name string, handler func(context.Context, *CallContext, P) (R, error), opts ...MethodOption) {
	s.register(name, reflect.TypeFor[P](), reflect.TypeFor[R](),
		func(ctx context.Context, cc *CallContext, params reflect.Value) (any, error) {
			return handler(ctx, cc, params.Interface().(P))
		}, opts)
}

// UnaryVoid registers a method that returns no value.
func UnaryVoid[P any](s *Server, name string, handler func(context.Context, *CallContext, P) error, opts ...MethodOption) {
	s.register(name, reflect.TypeFor[P](), nil,
		func(ctx context.Context, cc *CallContext, params reflect.Value) (any, error) {
			return nil, handler(ctx, cc, params.Interface().(P))
		}, opts)
}

// RunStdio serves requests from stdin and writes responses to stdout until
// stdin closes or ctx is cancelled.
func (s *Server) RunStdio(ctx context.Context) {
	// Writes to a closed pipe must surface as errors, not kill the process.
	signal.Ignore(syscall.SIGPIPE)

	if isTerminal(os.Stdin) || isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr,
			"WARNING: This process speaks Arrow IPC on stdin/stdout and is not "+
				"intended to be run interactively. Launch it from an RPC client.")
	}
	s.ServeWithContext(ctx, os.Stdin, os.Stdout)
}

// isTerminal reports whether f is connected to a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Serve runs the server loop on the given reader/writer pair.
func (s *Server) Serve(r io.Reader, w io.Writer) {
	s.ServeWithContext(context.Background(), r, w)
}

// ServeWithContext runs the server loop until r is exhausted, the transport
// fails or ctx is cancelled. Requests are handled one at a time.
func (s *Server) ServeWithContext(ctx context.Context, r io.Reader, w io.Writer) {
	for ctx.Err() == nil {
		if err := s.serveOne(ctx, r, w); err != nil {
			if !isTransportClosed(err) {
				s.logger.Error("serve loop error", "err", err)
			}
			return
		}
	}
}

// ServeListener accepts connections on ln and serves each one on its own
// goroutine. It returns nil once ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.logger.Debug("connection accepted", "remote", conn.RemoteAddr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()
			s.ServeWithContext(ctx, conn, conn)
		}()
	}
}

// serveOne handles one complete request-response cycle.
func (s *Server) serveOne(ctx context.Context, r io.Reader, w io.Writer) error {
	req, err := ReadRequest(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if rpcErr, ok := asRpcError(err); ok {
			// The request stream was well formed, so the transport is still
			// in sync and serving can continue.
			return WriteErrorResponse(w, nil, nil, rpcErr, s.debugErrors, s.serverID, "")
		}
		return err
	}
	defer req.Release()

	_, err = s.call(ctx, w, req)
	return err
}

// Dispatch handles a single request given as a complete IPC stream and
// returns the complete response stream. Every failure, including malformed
// input, is reported inside the response.
func (s *Server) Dispatch(ctx context.Context, request []byte) []byte {
	var out bytes.Buffer
	req, err := ReadRequest(bytes.NewReader(request))
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = &RpcError{Type: ErrTypeProtocol, Message: "empty request stream"}
		} else if _, ok := asRpcError(err); !ok {
			err = &RpcError{Type: ErrTypeProtocol, Message: err.Error()}
		}
		if werr := WriteErrorResponse(&out, nil, nil, err, s.debugErrors, s.serverID, ""); werr != nil {
			s.logger.Error("failed to write error response", "err", werr)
		}
		return out.Bytes()
	}
	defer req.Release()

	if _, err := s.call(ctx, &out, req); err != nil {
		s.logger.Error("dispatch failed", "method", req.Method, "err", err)
	}
	return out.Bytes()
}

// lookup resolves the method a request names. Unknown methods and services
// are reported as AttributeError.
func (s *Server) lookup(req *Request) (*methodInfo, error) {
	if req.Service != "" && s.serviceName != "" && req.Service != s.serviceName {
		return nil, &RpcError{
			Type:      ErrTypeAttribute,
			Message:   fmt.Sprintf("unknown service: '%s', this server provides '%s'", req.Service, s.serviceName),
			RequestID: req.RequestID,
		}
	}
	info, ok := s.methods[req.Method]
	if !ok {
		return nil, &RpcError{
			Type:      ErrTypeAttribute,
			Message:   fmt.Sprintf("unknown method: '%s', available methods: %v", req.Method, s.availableMethods()),
			RequestID: req.RequestID,
		}
	}
	return info, nil
}

// call runs one decoded request and writes its complete response stream to
// w. callErr is the failure reported in the response, if any; transportErr
// means the response could not be written.
func (s *Server) call(ctx context.Context, w io.Writer, req *Request) (callErr, transportErr error) {
	if req.Method == describeMethod {
		return nil, s.serveDescribe(w)
	}

	info, err := s.lookup(req)
	if err != nil {
		return err, WriteErrorResponse(w, nil, nil, err, s.debugErrors, s.serverID, req.RequestID)
	}

	dispatchInfo := DispatchInfo{
		Service:           s.serviceName,
		Method:            req.Method,
		MethodType:        DispatchMethodUnary,
		ServerID:          s.serverID,
		RequestID:         req.RequestID,
		TransportMetadata: req.Metadata,
	}
	stats := &CallStatistics{}

	var hookToken HookToken
	hookActive := false
	if s.dispatchHook != nil {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					s.logger.Error("dispatch hook start panic", "err", rv)
				}
			}()
			var hookCtx context.Context
			hookCtx, hookToken = s.dispatchHook.OnDispatchStart(ctx, dispatchInfo)
			if hookCtx != nil {
				ctx = hookCtx
			}
			hookActive = true
		}()
	}

	callErr, transportErr = s.serveUnary(ctx, w, req, info, stats)

	if hookActive {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					s.logger.Error("dispatch hook end panic", "err", rv)
				}
			}()
			s.dispatchHook.OnDispatchEnd(ctx, hookToken, dispatchInfo, stats, callErr)
		}()
	}
	return callErr, transportErr
}

// serveUnary decodes parameters, runs the handler and writes the response.
// It returns the application error reported to hooks and the transport
// error for the serve loop.
func (s *Server) serveUnary(ctx context.Context, w io.Writer, req *Request, info *methodInfo, stats *CallStatistics) (handlerErr, transportErr error) {
	params, err := info.params.decodeRow(req.Batch, 0)
	if err != nil {
		errType := ErrTypeType
		if rpcErr, ok := asRpcError(err); ok {
			errType = rpcErr.Type
		}
		handlerErr = &RpcError{Type: errType, Message: fmt.Sprintf("parameter deserialization: %v", err), RequestID: req.RequestID}
		return handlerErr, WriteErrorResponse(w, info.result.schema, nil, handlerErr, s.debugErrors, s.serverID, req.RequestID)
	}
	stats.RecordInput(req.Batch.NumRows(), batchBufferSize(req.Batch))

	cc := &CallContext{
		RequestID: req.RequestID,
		ServerID:  s.serverID,
		Service:   s.serviceName,
		Method:    req.Method,
		LogLevel:  LogLevel(req.LogLevel),
	}
	if cc.LogLevel == "" {
		cc.LogLevel = LogTrace
	}

	result, callErr := s.invoke(ctx, cc, info, params)
	logs := cc.drainLogs()
	if callErr != nil {
		return callErr, WriteErrorResponse(w, info.result.schema, logs, callErr, s.debugErrors, s.serverID, req.RequestID)
	}

	if info.result.void() {
		return nil, WriteVoidResponse(w, logs, s.serverID, req.RequestID)
	}

	resultBatch, err := info.result.encode(reflect.ValueOf(result))
	if err != nil {
		handlerErr = &RpcError{Type: ErrTypeSerialization, Message: fmt.Sprintf("result serialization: %v", err), RequestID: req.RequestID}
		return handlerErr, WriteErrorResponse(w, info.result.schema, logs, handlerErr, s.debugErrors, s.serverID, req.RequestID)
	}
	defer resultBatch.Release()
	stats.RecordOutput(resultBatch.NumRows(), batchBufferSize(resultBatch))

	return nil, WriteUnaryResponse(w, info.result.schema, logs, resultBatch, s.serverID, req.RequestID)
}

// invoke calls the handler, converting a panic into a RuntimeError.
func (s *Server) invoke(ctx context.Context, cc *CallContext, info *methodInfo, params reflect.Value) (result any, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			s.logger.Error("handler panic", "method", info.Name, "panic", rv)
			result = nil
			err = &RpcError{
				Type:      ErrTypeRuntime,
				Message:   fmt.Sprintf("panic in %s: %v", info.Name, rv),
				RequestID: cc.RequestID,
			}
		}
	}()
	return info.invoke(ctx, cc, params)
}

// isTransportClosed reports whether err means the peer went away.
func isTransportClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

func (s *Server) availableMethods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
