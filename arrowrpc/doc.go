// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

// Package arrowrpc implements a small request-response RPC protocol on top
// of Apache Arrow IPC.
//
// Every request and every response is one complete Arrow IPC stream.
// Parameters and results travel as one-row record batches; per-batch custom
// metadata carries the method name, protocol version, request ID, client
// log messages and error details. Because the payload layout is an Arrow
// schema rather than a language's in-memory struct layout, any Arrow
// implementation can act as client or server.
//
// # Methods
//
// Methods are registered with [Unary] or [UnaryVoid]. Handlers receive a
// context, a [CallContext] for request metadata and client logging, and a
// parameter struct:
//
//	arrowrpc.Unary(server, "square", func(ctx context.Context, cc *arrowrpc.CallContext, p SquareParams) (float64, error) {
//		return p.Value * p.Value, nil
//	})
//
// # Struct tags
//
// Parameter structs are annotated with `rpc` struct tags:
//
//	`rpc:"wire_name[,default=VALUE]"`
//
// Go types map to Arrow types as follows: string to Utf8, int32 to Int32,
// int and int64 to Int64, float32 and float64 to Float32 and Float64, bool
// to Boolean and []byte to Binary. Pointer fields become nullable columns.
// String types implementing [Enum] become Dictionary(Int16, Utf8) columns
// restricted to their members.
//
// # ArrowSerializable
//
// Record types implementing [ArrowSerializable] declare their own schema and
// map fields to it with `arrow` struct tags. As parameters or results they
// are carried as a binary column holding a one-row IPC stream; [Marshal] and
// [Unmarshal] expose that encoding directly.
//
// # Errors
//
// A failed call answers with a zero-row batch at level EXCEPTION whose
// rpc.log_extra JSON carries the error type and message. Clients surface it
// as an [*RpcError].
//
// # Transports
//
// [Server.Serve] and [Server.RunStdio] process consecutive streams on a
// reader/writer pair, [Server.ServeListener] does the same per accepted
// connection, [HttpServer] maps POST {prefix}/{method} onto calls and
// [Server.Dispatch] handles a single request held in memory. On the client
// side [StreamTransport], [HTTPTransport] and [InProcessTransport] implement
// [Transport].
package arrowrpc
