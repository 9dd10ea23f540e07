// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"unsafe"

	"github.com/obermuhlner/hello-rpc/arrowrpc"
	"github.com/obermuhlner/hello-rpc/example"
)

var (
	service = example.NewHelloService(os.Stdout)

	serverOnce sync.Once
	server     *arrowrpc.Server
)

func rpcServer() *arrowrpc.Server {
	serverOnce.Do(func() {
		server = arrowrpc.NewServer()
		example.RegisterMethods(server, service)
	})
	return server
}

// maxInputBytes caps buffers handed in from C.
const maxInputBytes = math.MaxInt32

// inputBytes copies n bytes at p into Go memory.
func inputBytes(p unsafe.Pointer, n uint64) ([]byte, error) {
	switch {
	case n == 0:
		return []byte{}, nil
	case p == nil:
		return nil, fmt.Errorf("null input buffer of length %d", n)
	case n > maxInputBytes:
		return nil, fmt.Errorf("input of %d bytes exceeds %d", n, maxInputBytes)
	}
	return bytes.Clone(unsafe.Slice((*byte)(p), int(n))), nil
}

// enrichRaw is enrich over a caller-owned buffer.
func enrichRaw(p unsafe.Pointer, n uint64) ([]byte, error) {
	in, err := inputBytes(p, n)
	if err != nil {
		return nil, err
	}
	return enrich(in)
}

// dispatchRaw is dispatch over a caller-owned buffer. An unreadable buffer
// is answered with a ProtocolError stream.
func dispatchRaw(p unsafe.Pointer, n uint64) []byte {
	in, err := inputBytes(p, n)
	if err != nil {
		var buf bytes.Buffer
		rpcErr := &arrowrpc.RpcError{Type: arrowrpc.ErrTypeProtocol, Message: err.Error()}
		if werr := arrowrpc.WriteErrorResponse(&buf, nil, nil, rpcErr, false, "", ""); werr != nil {
			return nil
		}
		return buf.Bytes()
	}
	return dispatch(in)
}

// enrich decodes an ExampleData IPC stream, enriches it and encodes the
// result.
func enrich(in []byte) ([]byte, error) {
	d, err := example.UnmarshalExampleData(in)
	if err != nil {
		return nil, err
	}
	return example.MarshalExampleData(service.EnrichExample(d))
}

// dispatch answers one complete RPC request stream. Failures are encoded in
// the response.
func dispatch(in []byte) []byte {
	return rpcServer().Dispatch(context.Background(), in)
}
