// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Request represents a parsed RPC request from the wire.
type Request struct {
	Service   string
	Method    string
	Version   string
	RequestID string
	LogLevel  string
	Batch     arrow.RecordBatch
	Metadata  map[string]string
}

// Release releases the request's parameter batch.
func (r *Request) Release() {
	if r.Batch != nil {
		r.Batch.Release()
		r.Batch = nil
	}
}

// batchMetadata returns the custom metadata attached to a batch, if any.
func batchMetadata(batch arrow.RecordBatch) arrow.Metadata {
	if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
		return rb.Metadata()
	}
	return arrow.Metadata{}
}

// ReadRequest reads one complete IPC stream from r and extracts the method
// name, version and parameter values from its first batch. It returns
// io.EOF when r is exhausted before a new stream starts.
func ReadRequest(r io.Reader) (*Request, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading request IPC stream: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, fmt.Errorf("reading request batch: %w", err)
		}
		return nil, io.EOF
	}

	batch := reader.RecordBatch()
	batch.Retain()
	// Drain to end of stream so the next request starts cleanly.
	for reader.Next() {
	}

	meta := batchMetadata(batch)
	method, ok := meta.GetValue(MetaMethod)
	if !ok {
		batch.Release()
		return nil, &RpcError{
			Type:    ErrTypeProtocol,
			Message: "missing '" + MetaMethod + "' in request batch custom_metadata",
		}
	}
	version, ok := meta.GetValue(MetaRequestVersion)
	if !ok {
		batch.Release()
		return nil, &RpcError{
			Type:    ErrTypeVersion,
			Message: "missing '" + MetaRequestVersion + "' in request batch custom_metadata",
		}
	}
	if version != ProtocolVersion {
		batch.Release()
		return nil, &RpcError{
			Type:    ErrTypeVersion,
			Message: fmt.Sprintf("unsupported request version %q, expected %q", version, ProtocolVersion),
		}
	}
	if batch.Schema().NumFields() > 0 && batch.NumRows() != 1 {
		batch.Release()
		return nil, &RpcError{
			Type:    ErrTypeProtocol,
			Message: fmt.Sprintf("expected 1 row in request batch, got %d", batch.NumRows()),
		}
	}

	service, _ := meta.GetValue(MetaService)
	requestID, _ := meta.GetValue(MetaRequestID)
	logLevel, _ := meta.GetValue(MetaLogLevel)

	metaMap := make(map[string]string, meta.Len())
	for i := range meta.Len() {
		metaMap[meta.Keys()[i]] = meta.Values()[i]
	}

	return &Request{
		Service:   service,
		Method:    method,
		Version:   version,
		RequestID: requestID,
		LogLevel:  logLevel,
		Batch:     batch,
		Metadata:  metaMap,
	}, nil
}

// WriteRequest writes req as a complete IPC stream. Metadata entries in
// req.Metadata are sent alongside the protocol keys.
func WriteRequest(w io.Writer, req *Request) error {
	keys := []string{MetaMethod, MetaRequestVersion}
	vals := []string{req.Method, ProtocolVersion}
	if req.Service != "" {
		keys = append(keys, MetaService)
		vals = append(vals, req.Service)
	}
	if req.RequestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, req.RequestID)
	}
	if req.LogLevel != "" {
		keys = append(keys, MetaLogLevel)
		vals = append(vals, req.LogLevel)
	}
	for k, v := range req.Metadata {
		switch k {
		case MetaMethod, MetaRequestVersion, MetaService, MetaRequestID, MetaLogLevel:
			continue
		}
		keys = append(keys, k)
		vals = append(vals, v)
	}

	batch := req.Batch
	if batch == nil {
		batch = emptyBatch(arrow.NewSchema(nil, nil))
		defer batch.Release()
	}
	withMeta := array.NewRecordBatchWithMetadata(batch.Schema(), batch.Columns(), batch.NumRows(), arrow.NewMetadata(keys, vals))
	defer withMeta.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(batch.Schema()))
	if err := writer.Write(withMeta); err != nil {
		writer.Close()
		return fmt.Errorf("writing request batch: %w", err)
	}
	return writer.Close()
}

// emptyBatch creates a zero-row batch with the given schema.
func emptyBatch(schema *arrow.Schema) arrow.RecordBatch {
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		b := array.NewBuilder(mem, f.Type)
		cols[i] = b.NewArray()
		b.Release()
	}
	batch := array.NewRecordBatch(schema, cols, 0)
	for _, c := range cols {
		c.Release()
	}
	return batch
}

// writeMetaBatch writes a zero-row batch carrying only metadata.
func writeMetaBatch(w *ipc.Writer, schema *arrow.Schema, keys, vals []string, serverID, requestID string) error {
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}

	batch := emptyBatch(schema)
	defer batch.Release()
	withMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), 0, arrow.NewMetadata(keys, vals))
	defer withMeta.Release()

	return w.Write(withMeta)
}

func writeLogBatch(w *ipc.Writer, schema *arrow.Schema, msg LogMessage, serverID, requestID string) error {
	keys := []string{MetaLogLevel, MetaLogMessage}
	vals := []string{string(msg.Level), msg.Message}
	if len(msg.Extras) > 0 {
		extraJSON, err := json.Marshal(msg.Extras)
		if err != nil {
			extraJSON = []byte(`{}`)
		}
		keys = append(keys, MetaLogExtra)
		vals = append(vals, string(extraJSON))
	}
	return writeMetaBatch(w, schema, keys, vals, serverID, requestID)
}

func writeErrorBatch(w *ipc.Writer, schema *arrow.Schema, err error, debug bool, serverID, requestID string) error {
	keys := []string{MetaLogLevel, MetaLogMessage, MetaLogExtra}
	vals := []string{string(LogException), err.Error(), buildErrorExtra(err, debug)}
	return writeMetaBatch(w, schema, keys, vals, serverID, requestID)
}

// WriteUnaryResponse writes a complete IPC stream: log batches followed by
// the result batch.
func WriteUnaryResponse(w io.Writer, schema *arrow.Schema, logs []LogMessage,
	result arrow.RecordBatch, serverID, requestID string) error {

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	for _, msg := range logs {
		if err := writeLogBatch(writer, schema, msg, serverID, requestID); err != nil {
			writer.Close()
			return fmt.Errorf("writing log batch: %w", err)
		}
	}
	if err := writer.Write(result); err != nil {
		writer.Close()
		return fmt.Errorf("writing result batch: %w", err)
	}
	return writer.Close()
}

// WriteErrorResponse writes a complete IPC stream: log batches followed by
// a single EXCEPTION batch describing err.
func WriteErrorResponse(w io.Writer, schema *arrow.Schema, logs []LogMessage,
	err error, debug bool, serverID, requestID string) error {

	if schema == nil {
		schema = arrow.NewSchema(nil, nil)
	}
	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	for _, msg := range logs {
		if werr := writeLogBatch(writer, schema, msg, serverID, requestID); werr != nil {
			writer.Close()
			return fmt.Errorf("writing log batch: %w", werr)
		}
	}
	if werr := writeErrorBatch(writer, schema, err, debug, serverID, requestID); werr != nil {
		writer.Close()
		return fmt.Errorf("writing error batch: %w", werr)
	}
	return writer.Close()
}

// WriteVoidResponse writes a complete IPC stream with logs and a zero-row
// empty-schema result.
func WriteVoidResponse(w io.Writer, logs []LogMessage, serverID, requestID string) error {
	schema := arrow.NewSchema(nil, nil)
	batch := emptyBatch(schema)
	defer batch.Release()

	return WriteUnaryResponse(w, schema, logs, batch, serverID, requestID)
}

// Response is a decoded response stream.
type Response struct {
	Logs     []LogMessage
	ServerID string
	// Batch is the result batch; nil when the call failed.
	Batch arrow.RecordBatch
	// Err is set when the stream ended in an EXCEPTION batch.
	Err *RpcError
}

// Release releases the result batch.
func (r *Response) Release() {
	if r.Batch != nil {
		r.Batch.Release()
		r.Batch = nil
	}
}

// ReadResponse reads one complete response stream from r.
func ReadResponse(r io.Reader) (*Response, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading response IPC stream: %w", err)
	}
	defer reader.Release()

	resp := &Response{}
	for reader.Next() {
		batch := reader.RecordBatch()
		meta := batchMetadata(batch)
		if id, ok := meta.GetValue(MetaServerID); ok {
			resp.ServerID = id
		}
		level, isLog := meta.GetValue(MetaLogLevel)
		switch {
		case isLog && LogLevel(level) == LogException:
			msg, _ := meta.GetValue(MetaLogMessage)
			extra, _ := meta.GetValue(MetaLogExtra)
			requestID, _ := meta.GetValue(MetaRequestID)
			resp.Err = parseErrorExtra(msg, extra, requestID)
		case isLog:
			msg, _ := meta.GetValue(MetaLogMessage)
			lm := LogMessage{Level: LogLevel(level), Message: msg}
			if extra, ok := meta.GetValue(MetaLogExtra); ok {
				_ = json.Unmarshal([]byte(extra), &lm.Extras)
			}
			resp.Logs = append(resp.Logs, lm)
		case resp.Batch == nil:
			batch.Retain()
			resp.Batch = batch
		}
	}
	if err := reader.Err(); err != nil {
		resp.Release()
		return nil, fmt.Errorf("reading response batch: %w", err)
	}
	if resp.Err == nil && resp.Batch == nil {
		return nil, &RpcError{Type: ErrTypeProtocol, Message: "response stream has no result batch"}
	}
	return resp, nil
}
