// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
)

// Error types carried in RpcError.Type.
const (
	ErrTypeProtocol      = "ProtocolError"
	ErrTypeVersion       = "VersionError"
	ErrTypeAttribute     = "AttributeError"
	ErrTypeType          = "TypeError"
	ErrTypeValue         = "ValueError"
	ErrTypeSerialization = "SerializationError"
	ErrTypeRuntime       = "RuntimeError"
)

// ErrRpc is a sentinel for use with errors.Is to check whether any error in a
// chain is an *RpcError.
var ErrRpc = &RpcError{}

// RpcError is an error reported through the wire protocol.
type RpcError struct {
	Type      string // e.g. "TypeError", "RuntimeError"
	Message   string
	Traceback string
	RequestID string
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is supports errors.Is by matching any *RpcError target.
func (e *RpcError) Is(target error) bool {
	_, ok := target.(*RpcError)
	return ok
}

// asRpcError returns the *RpcError in err's chain, if any.
func asRpcError(err error) (*RpcError, bool) {
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// ErrorType reports the protocol error type for err. Plain Go errors are
// reported under their dynamic type name.
func ErrorType(err error) string {
	if rpcErr, ok := asRpcError(err); ok {
		return rpcErr.Type
	}
	return fmt.Sprintf("%T", err)
}

type stackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// errorExtra is the JSON written to rpc.log_extra on EXCEPTION batches.
type errorExtra struct {
	ExceptionType    string       `json:"exception_type"`
	ExceptionMessage string       `json:"exception_message"`
	Traceback        string       `json:"traceback,omitempty"`
	Frames           []stackFrame `json:"frames,omitempty"`
}

// buildErrorExtra encodes err for rpc.log_extra. Stack details are only
// captured when debug is set.
func buildErrorExtra(err error, debug bool) string {
	extra := errorExtra{
		ExceptionType:    ErrorType(err),
		ExceptionMessage: err.Error(),
	}
	if rpcErr, ok := asRpcError(err); ok {
		extra.ExceptionMessage = rpcErr.Message
	}

	if debug {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		extra.Traceback = string(buf[:n])

		pcs := make([]uintptr, 10)
		n = runtime.Callers(2, pcs)
		frames := runtime.CallersFrames(pcs[:n])
		for len(extra.Frames) < 5 {
			frame, more := frames.Next()
			extra.Frames = append(extra.Frames, stackFrame{
				File:     frame.File,
				Line:     frame.Line,
				Function: frame.Function,
			})
			if !more {
				break
			}
		}
	}

	data, _ := json.Marshal(extra)
	return string(data)
}

// parseErrorExtra rebuilds an RpcError from an EXCEPTION batch. message is
// the rpc.log_message value, used when the extra JSON is absent or invalid.
func parseErrorExtra(message, extraJSON, requestID string) *RpcError {
	rpcErr := &RpcError{Type: ErrTypeRuntime, Message: message, RequestID: requestID}
	if extraJSON == "" {
		return rpcErr
	}
	var extra errorExtra
	if err := json.Unmarshal([]byte(extraJSON), &extra); err != nil {
		return rpcErr
	}
	if extra.ExceptionType != "" {
		rpcErr.Type = extra.ExceptionType
	}
	if extra.ExceptionMessage != "" {
		rpcErr.Message = extra.ExceptionMessage
	}
	rpcErr.Traceback = extra.Traceback
	return rpcErr
}
