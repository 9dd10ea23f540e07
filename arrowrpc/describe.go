// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var describeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "method_type", Type: arrow.BinaryTypes.String},
	{Name: "doc", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "has_return", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "params_schema_ipc", Type: arrow.BinaryTypes.Binary},
	{Name: "result_schema_ipc", Type: arrow.BinaryTypes.Binary},
	{Name: "param_types_json", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "param_defaults_json", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// Describe metadata keys.
const (
	MetaProtocolName    = "rpc.protocol_name"
	MetaDescribeVersion = "rpc.describe_version"
	DescribeVersion     = "1"
	protocolName        = "arrowrpc-go"
)

// MethodDescription describes one registered method.
type MethodDescription struct {
	Name          string
	MethodType    string
	Doc           string
	HasReturn     bool
	ParamsSchema  *arrow.Schema
	ResultSchema  *arrow.Schema
	ParamTypes    map[string]string
	ParamDefaults map[string]any
}

// ServiceDescription is the decoded answer to __describe__.
type ServiceDescription struct {
	Protocol string
	Service  string
	ServerID string
	Methods  []MethodDescription
}

// Method returns the description of the named method.
func (d *ServiceDescription) Method(name string) (MethodDescription, bool) {
	for _, m := range d.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodDescription{}, false
}

// serializeSchema serializes an Arrow schema to IPC format bytes.
func serializeSchema(schema *arrow.Schema) []byte {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	w.Close()
	return buf.Bytes()
}

func deserializeSchema(data []byte) (*arrow.Schema, error) {
	r, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Release()
	return r.Schema(), nil
}

// buildDescribeBatch builds the __describe__ response batch, one row per
// method in name order.
func (s *Server) buildDescribeBatch() arrow.RecordBatch {
	mem := memory.NewGoAllocator()
	names := s.availableMethods()

	nameB := array.NewStringBuilder(mem)
	defer nameB.Release()
	typeB := array.NewStringBuilder(mem)
	defer typeB.Release()
	docB := array.NewStringBuilder(mem)
	defer docB.Release()
	hasReturnB := array.NewBooleanBuilder(mem)
	defer hasReturnB.Release()
	paramsB := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer paramsB.Release()
	resultB := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer resultB.Release()
	typesB := array.NewStringBuilder(mem)
	defer typesB.Release()
	defaultsB := array.NewStringBuilder(mem)
	defer defaultsB.Release()

	for _, name := range names {
		info := s.methods[name]
		nameB.Append(name)
		typeB.Append(DispatchMethodUnary)
		if info.Doc != "" {
			docB.Append(info.Doc)
		} else {
			docB.AppendNull()
		}
		hasReturnB.Append(!info.result.void())
		paramsB.Append(serializeSchema(info.params.schema))
		resultB.Append(serializeSchema(info.result.schema))

		if len(info.params.fields) > 0 {
			types := make(map[string]string, len(info.params.fields))
			for _, f := range info.params.fields {
				types[f.name] = f.typeName()
			}
			appendJSON(s, typesB, types)
		} else {
			typesB.AppendNull()
		}

		if defaults := info.params.defaults(); len(defaults) > 0 {
			typed := make(map[string]any, len(defaults))
			for k, v := range defaults {
				typed[k] = coerceDefaultValue(v, info.params.schema, k)
			}
			appendJSON(s, defaultsB, typed)
		} else {
			defaultsB.AppendNull()
		}
	}

	cols := []arrow.Array{
		nameB.NewArray(),
		typeB.NewArray(),
		docB.NewArray(),
		hasReturnB.NewArray(),
		paramsB.NewArray(),
		resultB.NewArray(),
		typesB.NewArray(),
		defaultsB.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	keys := []string{MetaProtocolName, MetaRequestVersion, MetaDescribeVersion}
	vals := []string{protocolName, ProtocolVersion, DescribeVersion}
	if s.serviceName != "" {
		keys = append(keys, MetaService)
		vals = append(vals, s.serviceName)
	}
	if s.serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, s.serverID)
	}
	return array.NewRecordBatchWithMetadata(describeSchema, cols, int64(len(names)), arrow.NewMetadata(keys, vals))
}

func appendJSON(s *Server, b *array.StringBuilder, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to marshal describe JSON", "err", err)
		b.AppendNull()
		return
	}
	b.Append(string(data))
}

func (s *Server) serveDescribe(w io.Writer) error {
	batch := s.buildDescribeBatch()
	defer batch.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(describeSchema))
	if err := writer.Write(batch); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

// coerceDefaultValue converts a string default to its JSON type based on
// the parameter's Arrow type.
func coerceDefaultValue(val string, schema *arrow.Schema, fieldName string) any {
	indices := schema.FieldIndices(fieldName)
	if len(indices) == 0 {
		return val
	}
	switch schema.Field(indices[0]).Type.ID() {
	case arrow.INT64, arrow.INT32:
		if v, err := strconv.ParseInt(val, 10, 64); err == nil {
			return v
		}
	case arrow.FLOAT64, arrow.FLOAT32:
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			return v
		}
	case arrow.BOOL:
		if v, err := strconv.ParseBool(val); err == nil {
			return v
		}
	}
	return val
}

// parseDescribeBatch decodes a __describe__ result batch.
func parseDescribeBatch(batch arrow.RecordBatch) (*ServiceDescription, error) {
	if !batch.Schema().Equal(describeSchema) {
		return nil, &RpcError{Type: ErrTypeProtocol, Message: "unexpected __describe__ schema"}
	}
	meta := batchMetadata(batch)
	desc := &ServiceDescription{}
	desc.Protocol, _ = meta.GetValue(MetaProtocolName)
	desc.Service, _ = meta.GetValue(MetaService)
	desc.ServerID, _ = meta.GetValue(MetaServerID)

	names := batch.Column(0).(*array.String)
	types := batch.Column(1).(*array.String)
	docs := batch.Column(2).(*array.String)
	hasReturn := batch.Column(3).(*array.Boolean)
	params := batch.Column(4).(*array.Binary)
	results := batch.Column(5).(*array.Binary)
	paramTypes := batch.Column(6).(*array.String)
	paramDefaults := batch.Column(7).(*array.String)

	for i := range int(batch.NumRows()) {
		m := MethodDescription{
			Name:       names.Value(i),
			MethodType: types.Value(i),
			HasReturn:  hasReturn.Value(i),
		}
		if docs.IsValid(i) {
			m.Doc = docs.Value(i)
		}
		var err error
		if m.ParamsSchema, err = deserializeSchema(params.Value(i)); err != nil {
			return nil, fmt.Errorf("method %s params schema: %w", m.Name, err)
		}
		if m.ResultSchema, err = deserializeSchema(results.Value(i)); err != nil {
			return nil, fmt.Errorf("method %s result schema: %w", m.Name, err)
		}
		if paramTypes.IsValid(i) {
			if err := json.Unmarshal([]byte(paramTypes.Value(i)), &m.ParamTypes); err != nil {
				return nil, fmt.Errorf("method %s param types: %w", m.Name, err)
			}
		}
		if paramDefaults.IsValid(i) {
			if err := json.Unmarshal([]byte(paramDefaults.Value(i)), &m.ParamDefaults); err != nil {
				return nil, fmt.Errorf("method %s param defaults: %w", m.Name, err)
			}
		}
		desc.Methods = append(desc.Methods, m)
	}
	return desc, nil
}
