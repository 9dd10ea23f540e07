// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package example

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/obermuhlner/hello-rpc/arrowrpc"
)

// Fixed adjustments applied by Enrich.
const (
	IntIncrement  int32  = 111
	LongIncrement int64  = 22222222
	StringSuffix  string = " from C++"
)

// ExampleData is the record exchanged by EnrichExample.
type ExampleData struct {
	IntField    int32  `arrow:"intField"`
	LongField   int64  `arrow:"longField"`
	StringField string `arrow:"stringField"`
	PlanetField Planet `arrow:"planetField"`
}

var exampleDataSchema = arrow.NewSchema([]arrow.Field{
	{Name: "intField", Type: arrow.PrimitiveTypes.Int32},
	{Name: "longField", Type: arrow.PrimitiveTypes.Int64},
	{Name: "stringField", Type: arrow.BinaryTypes.String},
	{Name: "planetField", Type: arrowrpc.EnumDataType()},
}, nil)

// ArrowSchema is the wire layout of ExampleData. Field names and order are
// part of the cross-language contract.
func (ExampleData) ArrowSchema() *arrow.Schema {
	return exampleDataSchema
}

// Enrich applies the enrichment in place. IntField wraps on overflow.
func (d *ExampleData) Enrich() {
	d.IntField += IntIncrement
	d.LongField += LongIncrement
	d.StringField += StringSuffix
	d.PlanetField = Mars
}

// MarshalExampleData encodes d as a one-row Arrow IPC stream.
func MarshalExampleData(d ExampleData) ([]byte, error) {
	return arrowrpc.Marshal(d)
}

// UnmarshalExampleData decodes a stream produced by MarshalExampleData.
// Planets outside the enumeration are rejected.
func UnmarshalExampleData(data []byte) (ExampleData, error) {
	var d ExampleData
	err := arrowrpc.Unmarshal(data, &d)
	return d, err
}
