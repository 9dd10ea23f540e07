// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRawRequest writes an empty-schema batch carrying only the given
// metadata.
func writeRawRequest(t *testing.T, keys, vals []string) []byte {
	t.Helper()
	schema := arrow.NewSchema(nil, nil)
	batch := array.NewRecordBatchWithMetadata(schema, nil, 0, arrow.NewMetadata(keys, vals))
	defer batch.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	require.NoError(t, w.Write(batch))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRequestRoundTrip(t *testing.T) {
	codec, err := newParamsCodec(reflect.TypeFor[echoParams]())
	require.NoError(t, err)
	batch, err := codec.encodeRow(reflect.ValueOf(echoParams{Value: "hi"}))
	require.NoError(t, err)
	defer batch.Release()

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, &Request{
		Service:   "TestService",
		Method:    "echo",
		RequestID: "req-1",
		LogLevel:  string(LogWarn),
		Batch:     batch,
		Metadata:  map[string]string{"traceparent": "00-abc-def-01"},
	}))

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	defer req.Release()

	assert.Equal(t, "TestService", req.Service)
	assert.Equal(t, "echo", req.Method)
	assert.Equal(t, ProtocolVersion, req.Version)
	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, "WARN", req.LogLevel)
	assert.Equal(t, "00-abc-def-01", req.Metadata["traceparent"])

	v, err := codec.decodeRow(req.Batch, 0)
	require.NoError(t, err)
	assert.Equal(t, echoParams{Value: "hi"}, v.Interface())
}

func TestReadRequestConsecutiveStreams(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, &Request{Method: "first"}))
	require.NoError(t, WriteRequest(&buf, &Request{Method: "second"}))

	for _, want := range []string{"first", "second"} {
		req, err := ReadRequest(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, req.Method)
		req.Release()
	}
	_, err := ReadRequest(&buf)
	assert.True(t, errors.Is(err, io.EOF) || isTransportClosed(err), "got %v", err)
}

func TestReadRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		keys    []string
		vals    []string
		errType string
	}{
		{"missing method", []string{MetaRequestVersion}, []string{ProtocolVersion}, ErrTypeProtocol},
		{"missing version", []string{MetaMethod}, []string{"echo"}, ErrTypeVersion},
		{"wrong version", []string{MetaMethod, MetaRequestVersion}, []string{"echo", "99"}, ErrTypeVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRequest(bytes.NewReader(writeRawRequest(t, tt.keys, tt.vals)))
			var rpcErr *RpcError
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, tt.errType, rpcErr.Type)
		})
	}
}

func TestResponseWithLogsAndResult(t *testing.T) {
	codec, err := newResultCodec(reflect.TypeFor[string]())
	require.NoError(t, err)
	result, err := codec.encode(reflect.ValueOf("done"))
	require.NoError(t, err)
	defer result.Release()

	logs := []LogMessage{
		{Level: LogInfo, Message: "starting", Extras: map[string]string{"step": "1"}},
		{Level: LogWarn, Message: "careful"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteUnaryResponse(&buf, codec.schema, logs, result, "srv", "req"))

	resp, err := ReadResponse(&buf)
	require.NoError(t, err)
	defer resp.Release()

	assert.Nil(t, resp.Err)
	assert.Equal(t, "srv", resp.ServerID)
	assert.Equal(t, logs, resp.Logs)

	var out string
	require.NoError(t, codec.decode(resp.Batch, reflect.ValueOf(&out).Elem()))
	assert.Equal(t, "done", out)
}

func TestErrorResponse(t *testing.T) {
	var buf bytes.Buffer
	logs := []LogMessage{{Level: LogError, Message: "before failure"}}
	callErr := &RpcError{Type: ErrTypeValue, Message: "bad input"}
	require.NoError(t, WriteErrorResponse(&buf, nil, logs, callErr, false, "srv", "req-9"))

	resp, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Nil(t, resp.Batch)
	require.NotNil(t, resp.Err)
	assert.Equal(t, ErrTypeValue, resp.Err.Type)
	assert.Equal(t, "bad input", resp.Err.Message)
	assert.Equal(t, "req-9", resp.Err.RequestID)
	assert.Empty(t, resp.Err.Traceback)
	assert.Equal(t, logs, resp.Logs)
}

func TestVoidResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteVoidResponse(&buf, nil, "srv", "req"))

	resp, err := ReadResponse(&buf)
	require.NoError(t, err)
	defer resp.Release()
	require.NotNil(t, resp.Batch)
	assert.Equal(t, int64(0), resp.Batch.NumCols())
	assert.Equal(t, int64(0), resp.Batch.NumRows())
}
