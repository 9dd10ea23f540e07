// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

// DispatchMethodUnary is the only DispatchInfo.MethodType this server emits.
const DispatchMethodUnary = "unary"

// DispatchHook provides observability callpoints around RPC dispatch.
// Implementations must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken any

// DispatchInfo carries method metadata passed to hooks.
type DispatchInfo struct {
	Service           string            // Logical service name, may be empty
	Method            string            // RPC method name
	MethodType        string            // DispatchMethodUnary
	ServerID          string            // Server identifier
	RequestID         string            // Client-supplied request identifier
	TransportMetadata map[string]string // IPC custom metadata or HTTP headers
}

// CallStatistics holds per-call I/O counters.
type CallStatistics struct {
	InputBatches  int64
	OutputBatches int64
	InputRows     int64
	OutputRows    int64
	InputBytes    int64
	OutputBytes   int64
}

// RecordInput records one input batch with the given row count and buffer size.
func (s *CallStatistics) RecordInput(numRows, bufferBytes int64) {
	s.InputBatches++
	s.InputRows += numRows
	s.InputBytes += bufferBytes
}

// RecordOutput records one output batch with the given row count and buffer size.
func (s *CallStatistics) RecordOutput(numRows, bufferBytes int64) {
	s.OutputBatches++
	s.OutputRows += numRows
	s.OutputBytes += bufferBytes
}

// batchBufferSize returns the total top-level buffer size in bytes across all
// columns in a record batch.
func batchBufferSize(batch arrow.RecordBatch) int64 {
	var total int64
	for i := range int(batch.NumCols()) {
		for _, buf := range batch.Column(i).Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}

// ChainHooks combines several hooks into one. Start callbacks run in order
// and each sees the context returned by the previous one; end callbacks run
// in reverse order.
func ChainHooks(hooks ...DispatchHook) DispatchHook {
	return chainHook(hooks)
}

type chainHook []DispatchHook

func (c chainHook) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken) {
	tokens := make([]HookToken, len(c))
	for i, h := range c {
		var hookCtx context.Context
		hookCtx, tokens[i] = h.OnDispatchStart(ctx, info)
		if hookCtx != nil {
			ctx = hookCtx
		}
	}
	return ctx, tokens
}

func (c chainHook) OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	tokens, _ := token.([]HookToken)
	for i := len(c) - 1; i >= 0; i-- {
		var t HookToken
		if i < len(tokens) {
			t = tokens[i]
		}
		c[i].OnDispatchEnd(ctx, t, info, stats, err)
	}
}

// NewLogHook returns a hook that logs one line per call to logger.
func NewLogHook(logger *slog.Logger) DispatchHook {
	return &logHook{logger: logger}
}

type logHook struct {
	logger *slog.Logger
}

func (h *logHook) OnDispatchStart(ctx context.Context, _ DispatchInfo) (context.Context, HookToken) {
	return ctx, time.Now()
}

func (h *logHook) OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	attrs := []slog.Attr{
		slog.String("method", info.Method),
		slog.String("request_id", info.RequestID),
		slog.Int64("input_bytes", stats.InputBytes),
		slog.Int64("output_bytes", stats.OutputBytes),
	}
	if start, ok := token.(time.Time); ok {
		attrs = append(attrs, slog.Duration("duration", time.Since(start)))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error_type", ErrorType(err)), slog.String("error", err.Error()))
		h.logger.LogAttrs(ctx, slog.LevelWarn, "rpc call failed", attrs...)
		return
	}
	h.logger.LogAttrs(ctx, slog.LevelInfo, "rpc call", attrs...)
}
