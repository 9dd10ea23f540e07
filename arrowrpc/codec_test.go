// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"reflect"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTag(t *testing.T) {
	info := parseTag("value")
	assert.Equal(t, "value", info.Name)
	assert.Nil(t, info.Default)

	info = parseTag("sep,default=-")
	assert.Equal(t, "sep", info.Name)
	require.NotNil(t, info.Default)
	assert.Equal(t, "-", *info.Default)

	info = parseTag("empty,default=")
	require.NotNil(t, info.Default)
	assert.Equal(t, "", *info.Default)
}

func TestArrowTypeOf(t *testing.T) {
	tests := []struct {
		name     string
		typ      reflect.Type
		id       arrow.Type
		nullable bool
	}{
		{"string", reflect.TypeFor[string](), arrow.STRING, false},
		{"int", reflect.TypeFor[int](), arrow.INT64, false},
		{"int32", reflect.TypeFor[int32](), arrow.INT32, false},
		{"float32", reflect.TypeFor[float32](), arrow.FLOAT32, false},
		{"bool pointer", reflect.TypeFor[*bool](), arrow.BOOL, true},
		{"bytes", reflect.TypeFor[[]byte](), arrow.BINARY, false},
		{"enum", reflect.TypeFor[color](), arrow.DICTIONARY, false},
		{"record", reflect.TypeFor[point](), arrow.BINARY, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt, nullable, err := arrowTypeOf(tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.id, dt.ID())
			assert.Equal(t, tt.nullable, nullable)
		})
	}

	_, _, err := arrowTypeOf(reflect.TypeFor[map[string]int]())
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	label := "origin"
	in := point{X: 1.5, Y: -2, Label: &label, Color: green}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out point
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)

	in.Label = nil
	data, err = Marshal(&in)
	require.NoError(t, err)
	require.NoError(t, Unmarshal(data, &out))
	assert.Nil(t, out.Label)
}

func TestMarshalRejectsUnknownEnumMember(t *testing.T) {
	_, err := Marshal(point{Color: "PURPLE"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PURPLE")
}

func TestUnmarshalRejectsUnknownEnumMember(t *testing.T) {
	data, err := Marshal(loosePoint{X: 1, Color: "PURPLE"})
	require.NoError(t, err)

	var out point
	err = Unmarshal(data, &out)
	require.Error(t, err)
	var rpcErr *RpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrTypeValue, rpcErr.Type)
}

// optionalColorPoint shares point's layout but may leave color null.
type optionalColorPoint struct {
	X     float64 `arrow:"x"`
	Y     float64 `arrow:"y"`
	Label *string `arrow:"label"`
	Color *color  `arrow:"color"`
}

func (optionalColorPoint) ArrowSchema() *arrow.Schema { return pointSchema }

func TestUnmarshalRejectsNullEnumMember(t *testing.T) {
	data, err := Marshal(optionalColorPoint{X: 1})
	require.NoError(t, err)

	var out point
	err = Unmarshal(data, &out)
	var rpcErr *RpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrTypeValue, rpcErr.Type)
	assert.Contains(t, err.Error(), "field color")

	var loose optionalColorPoint
	require.NoError(t, Unmarshal(data, &loose))
	assert.Nil(t, loose.Color)
	assert.Nil(t, loose.Label)
}

func TestUnmarshalErrors(t *testing.T) {
	var out point
	assert.Error(t, Unmarshal(nil, &out))
	assert.Error(t, Unmarshal([]byte("not arrow"), &out))
	assert.Error(t, Unmarshal([]byte{}, out))

	var s string
	assert.Error(t, Unmarshal([]byte{}, &s))
}

type untaggedRecord struct {
	X float64
}

func (untaggedRecord) ArrowSchema() *arrow.Schema { return pointSchema }

type mistypedRecord struct {
	X string `arrow:"x"`
}

func (mistypedRecord) ArrowSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Float64}}, nil)
}

func TestRecordCodecValidation(t *testing.T) {
	_, err := newRecordCodec(reflect.TypeFor[untaggedRecord]())
	assert.ErrorContains(t, err, `no field with arrow tag "x"`)

	_, err = newRecordCodec(reflect.TypeFor[mistypedRecord]())
	assert.ErrorContains(t, err, "cannot hold")
}

func TestParamsDefaults(t *testing.T) {
	codec, err := newParamsCodec(reflect.TypeFor[addParams]())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "1.5"}, codec.defaults())

	// A batch carrying only "a" falls back to the default for "b".
	onlyA, err := newParamsCodec(reflect.TypeFor[struct {
		A float64 `rpc:"a"`
	}]())
	require.NoError(t, err)
	batch, err := onlyA.encodeRow(reflect.ValueOf(struct {
		A float64 `rpc:"a"`
	}{A: 2}))
	require.NoError(t, err)
	defer batch.Release()

	v, err := codec.decodeRow(batch, 0)
	require.NoError(t, err)
	assert.Equal(t, addParams{A: 2, B: 1.5}, v.Interface())
}

func TestParamsCodecRejectsUnsupportedField(t *testing.T) {
	_, err := newParamsCodec(reflect.TypeFor[struct {
		M map[string]string `rpc:"m"`
	}]())
	assert.Error(t, err)

	_, err = newParamsCodec(reflect.TypeFor[int]())
	assert.Error(t, err)
}

func TestResultCodec(t *testing.T) {
	void, err := newResultCodec(nil)
	require.NoError(t, err)
	assert.True(t, void.void())
	assert.Equal(t, 0, void.schema.NumFields())

	codec, err := newResultCodec(reflect.TypeFor[color]())
	require.NoError(t, err)
	batch, err := codec.encode(reflect.ValueOf(blue))
	require.NoError(t, err)
	defer batch.Release()

	var out color
	require.NoError(t, codec.decode(batch, reflect.ValueOf(&out).Elem()))
	assert.Equal(t, blue, out)

	_, err = codec.encode(reflect.ValueOf(color("PURPLE")))
	assert.Error(t, err)
}

func TestSetFromString(t *testing.T) {
	var p struct {
		I int32
		F float64
		B bool
		C color
		P *int64
	}
	v := reflect.ValueOf(&p).Elem()
	require.NoError(t, setFromString(v.Field(0), "42"))
	require.NoError(t, setFromString(v.Field(1), "2.5"))
	require.NoError(t, setFromString(v.Field(2), "true"))
	require.NoError(t, setFromString(v.Field(3), "RED"))
	require.NoError(t, setFromString(v.Field(4), "7"))
	assert.Equal(t, int32(42), p.I)
	assert.Equal(t, 2.5, p.F)
	assert.True(t, p.B)
	assert.Equal(t, red, p.C)
	require.NotNil(t, p.P)
	assert.Equal(t, int64(7), *p.P)

	assert.Error(t, setFromString(v.Field(0), "99999999999"))
	assert.Error(t, setFromString(v.Field(3), "PURPLE"))
}
