// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import (
	"bytes"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ArrowSerializable is implemented by record types that declare their own
// Arrow schema. Fields are mapped to schema columns with `arrow` struct tags.
// As a method parameter or result the record travels as a binary column
// holding a complete one-row IPC stream.
type ArrowSerializable interface {
	ArrowSchema() *arrow.Schema
}

// Enum is implemented by string-backed types with a closed member set. Enum
// values travel as Arrow dictionaries and any value outside the member set
// is rejected in both directions.
type Enum interface {
	EnumMembers() []string
}

var (
	arrowSerializableType = reflect.TypeFor[ArrowSerializable]()
	enumType              = reflect.TypeFor[Enum]()
)

// EnumDataType is the Arrow type used for [Enum] columns.
func EnumDataType() arrow.DataType {
	return &arrow.DictionaryType{
		IndexType: arrow.PrimitiveTypes.Int16,
		ValueType: arrow.BinaryTypes.String,
	}
}

// tagInfo holds a parsed `rpc` struct tag.
type tagInfo struct {
	Name    string
	Default *string
}

// parseTag parses tags of the form "name" or "name,default=value".
func parseTag(tag string) tagInfo {
	name, opts, _ := strings.Cut(tag, ",")
	info := tagInfo{Name: name}
	for _, opt := range strings.Split(opts, ",") {
		if v, ok := strings.CutPrefix(opt, "default="); ok {
			info.Default = &v
		}
	}
	return info
}

func isSerializable(t reflect.Type) bool {
	return t.Implements(arrowSerializableType) || reflect.PointerTo(t).Implements(arrowSerializableType)
}

func isEnum(t reflect.Type) bool {
	return t.Kind() == reflect.String && reflect.PointerTo(t).Implements(enumType)
}

func enumMembers(t reflect.Type) []string {
	if !isEnum(t) {
		return nil
	}
	return reflect.New(t).Interface().(Enum).EnumMembers()
}

// arrowTypeOf maps a Go type onto its Arrow type. Pointers are nullable.
func arrowTypeOf(t reflect.Type) (arrow.DataType, bool, error) {
	nullable := false
	if t.Kind() == reflect.Pointer {
		nullable = true
		t = t.Elem()
	}
	if isSerializable(t) {
		return arrow.BinaryTypes.Binary, nullable, nil
	}
	if isEnum(t) {
		return EnumDataType(), nullable, nil
	}
	switch t.Kind() {
	case reflect.String:
		return arrow.BinaryTypes.String, nullable, nil
	case reflect.Int64, reflect.Int:
		return arrow.PrimitiveTypes.Int64, nullable, nil
	case reflect.Int32:
		return arrow.PrimitiveTypes.Int32, nullable, nil
	case reflect.Float64:
		return arrow.PrimitiveTypes.Float64, nullable, nil
	case reflect.Float32:
		return arrow.PrimitiveTypes.Float32, nullable, nil
	case reflect.Bool:
		return arrow.FixedWidthTypes.Boolean, nullable, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return arrow.BinaryTypes.Binary, nullable, nil
		}
	}
	return nil, false, fmt.Errorf("unsupported Go type: %v", t)
}

// fieldCodec binds one Go struct field to one Arrow column.
type fieldCodec struct {
	index    int
	name     string
	goType   reflect.Type
	dataType arrow.DataType
	nullable bool
	def      *string
	members  []string
}

// typeName is the human-readable type reported by __describe__.
func (f fieldCodec) typeName() string {
	if f.members != nil {
		return "enum[" + strings.Join(f.members, ",") + "]"
	}
	return arrowTypeName(f.dataType)
}

// structCodec converts between a Go struct and a one-row record batch.
type structCodec struct {
	goType reflect.Type
	schema *arrow.Schema
	fields []fieldCodec
	// strict rejects batches that lack a declared column.
	strict bool
}

// newParamsCodec builds the codec for a method parameter struct from its
// `rpc` tags.
func newParamsCodec(t reflect.Type) (*structCodec, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct type, got %v", t)
	}
	c := &structCodec{goType: t}
	var fields []arrow.Field
	for i := range t.NumField() {
		sf := t.Field(i)
		tag := sf.Tag.Get("rpc")
		if tag == "" || tag == "-" {
			continue
		}
		info := parseTag(tag)
		dt, nullable, err := arrowTypeOf(sf.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", sf.Name, err)
		}
		elem := sf.Type
		if elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		c.fields = append(c.fields, fieldCodec{
			index:    i,
			name:     info.Name,
			goType:   sf.Type,
			dataType: dt,
			nullable: nullable,
			def:      info.Default,
			members:  enumMembers(elem),
		})
		fields = append(fields, arrow.Field{Name: info.Name, Type: dt, Nullable: nullable})
	}
	c.schema = arrow.NewSchema(fields, nil)
	return c, nil
}

// newRecordCodec builds the codec for an ArrowSerializable type. The column
// layout is the type's declared schema; every column must be backed by a
// field with a matching `arrow` tag.
func newRecordCodec(t reflect.Type) (*structCodec, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct type, got %v", t)
	}
	schema := reflect.New(t).Interface().(ArrowSerializable).ArrowSchema()
	c := &structCodec{goType: t, schema: schema, strict: true}

	byTag := make(map[string]int, t.NumField())
	for i := range t.NumField() {
		if tag := t.Field(i).Tag.Get("arrow"); tag != "" && tag != "-" {
			byTag[tag] = i
		}
	}
	for _, af := range schema.Fields() {
		i, ok := byTag[af.Name]
		if !ok {
			return nil, fmt.Errorf("%v: no field with arrow tag %q", t, af.Name)
		}
		sf := t.Field(i)
		want, _, err := arrowTypeOf(sf.Type)
		if err != nil {
			return nil, fmt.Errorf("%v.%s: %w", t, sf.Name, err)
		}
		if !compatibleTypes(want, af.Type) {
			return nil, fmt.Errorf("%v.%s: Go type %v cannot hold Arrow %v", t, sf.Name, sf.Type, af.Type)
		}
		elem := sf.Type
		if elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		c.fields = append(c.fields, fieldCodec{
			index:    i,
			name:     af.Name,
			goType:   sf.Type,
			dataType: af.Type,
			nullable: af.Nullable,
			members:  enumMembers(elem),
		})
	}
	return c, nil
}

// compatibleTypes reports whether a column of type have can be read into a
// Go field whose natural Arrow type is want. Plain strings may be dictionary
// encoded.
func compatibleTypes(want, have arrow.DataType) bool {
	if want.ID() == have.ID() {
		return true
	}
	return want.ID() == arrow.STRING && have.ID() == arrow.DICTIONARY
}

var recordCodecs sync.Map // reflect.Type -> *structCodec

func recordCodecFor(t reflect.Type) (*structCodec, error) {
	if c, ok := recordCodecs.Load(t); ok {
		return c.(*structCodec), nil
	}
	c, err := newRecordCodec(t)
	if err != nil {
		return nil, err
	}
	actual, _ := recordCodecs.LoadOrStore(t, c)
	return actual.(*structCodec), nil
}

var paramsCodecs sync.Map // reflect.Type -> *structCodec

func paramsCodecFor(t reflect.Type) (*structCodec, error) {
	if c, ok := paramsCodecs.Load(t); ok {
		return c.(*structCodec), nil
	}
	c, err := newParamsCodec(t)
	if err != nil {
		return nil, err
	}
	actual, _ := paramsCodecs.LoadOrStore(t, c)
	return actual.(*structCodec), nil
}

// encodeRow builds a one-row batch from v.
func (c *structCodec) encodeRow(v reflect.Value) (arrow.RecordBatch, error) {
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, len(c.fields))
	defer func() {
		for _, col := range cols {
			if col != nil {
				col.Release()
			}
		}
	}()
	for i, f := range c.fields {
		b := array.NewBuilder(mem, f.dataType)
		err := appendValue(b, v.Field(f.index), f.members)
		if err == nil {
			cols[i] = b.NewArray()
		}
		b.Release()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	return array.NewRecordBatch(c.schema, cols, 1), nil
}

// decodeRow reads one row of batch into a new value of the codec's type.
// Missing or null columns fall back to the field default, if any. Otherwise
// only pointer fields and nullable scalars accept null.
func (c *structCodec) decodeRow(batch arrow.RecordBatch, row int) (reflect.Value, error) {
	out := reflect.New(c.goType).Elem()
	schema := batch.Schema()
	for _, f := range c.fields {
		idx := schema.FieldIndices(f.name)
		if len(idx) == 0 && c.strict {
			return reflect.Value{}, fmt.Errorf("missing column %q", f.name)
		}
		if len(idx) == 0 || batch.Column(idx[0]).IsNull(row) {
			if f.def != nil {
				if err := setFromString(out.Field(f.index), *f.def); err != nil {
					return reflect.Value{}, fmt.Errorf("default for %s: %w", f.name, err)
				}
				continue
			}
			// Parameter structs leave absent scalars at their zero value.
			if err := nullError(f.goType, f.members, f.nullable || !c.strict); err != nil {
				return reflect.Value{}, fmt.Errorf("field %s: %w", f.name, err)
			}
			continue
		}
		if err := readValue(batch.Column(idx[0]), row, out.Field(f.index), f.members); err != nil {
			return reflect.Value{}, fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	return out, nil
}

// defaults returns the declared parameter defaults keyed by wire name.
func (c *structCodec) defaults() map[string]string {
	var out map[string]string
	for _, f := range c.fields {
		if f.def == nil {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[f.name] = *f.def
	}
	return out
}

// nullError reports why a null cannot be stored in a field of type t.
// Pointers hold null as nil. Enums and records have no valid zero value.
func nullError(t reflect.Type, members []string, nullable bool) error {
	switch {
	case t.Kind() == reflect.Pointer:
		return nil
	case members != nil:
		return &RpcError{
			Type:    ErrTypeValue,
			Message: fmt.Sprintf("null is not one of %s", strings.Join(members, ", ")),
		}
	case isSerializable(t):
		return &RpcError{Type: ErrTypeType, Message: fmt.Sprintf("null %v record", t)}
	case !nullable:
		return &RpcError{Type: ErrTypeType, Message: "null in non-nullable column"}
	}
	return nil
}

func checkMember(s string, members []string) error {
	if members != nil && !slices.Contains(members, s) {
		return &RpcError{
			Type:    ErrTypeValue,
			Message: fmt.Sprintf("%q is not one of %s", s, strings.Join(members, ", ")),
		}
	}
	return nil
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func mismatch(v reflect.Value, b any) error {
	return fmt.Errorf("cannot write %v into %T", v.Type(), b)
}

// appendValue appends a single Go value to an Arrow builder.
func appendValue(b array.Builder, v reflect.Value, members []string) error {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			b.AppendNull()
			return nil
		}
		v = v.Elem()
	}

	switch bb := b.(type) {
	case *array.BinaryDictionaryBuilder:
		if v.Kind() != reflect.String {
			return mismatch(v, b)
		}
		if err := checkMember(v.String(), members); err != nil {
			return err
		}
		return bb.AppendString(v.String())
	case *array.StringBuilder:
		if v.Kind() != reflect.String {
			return mismatch(v, b)
		}
		if err := checkMember(v.String(), members); err != nil {
			return err
		}
		bb.Append(v.String())
	case *array.Int64Builder:
		if !isIntKind(v.Kind()) {
			return mismatch(v, b)
		}
		bb.Append(v.Int())
	case *array.Int32Builder:
		if !isIntKind(v.Kind()) {
			return mismatch(v, b)
		}
		x := v.Int()
		if int64(int32(x)) != x {
			return fmt.Errorf("value %d overflows int32", x)
		}
		bb.Append(int32(x))
	case *array.Float64Builder:
		if !isFloatKind(v.Kind()) {
			return mismatch(v, b)
		}
		bb.Append(v.Float())
	case *array.Float32Builder:
		if !isFloatKind(v.Kind()) {
			return mismatch(v, b)
		}
		bb.Append(float32(v.Float()))
	case *array.BooleanBuilder:
		if v.Kind() != reflect.Bool {
			return mismatch(v, b)
		}
		bb.Append(v.Bool())
	case *array.BinaryBuilder:
		if as, ok := serializableValue(v); ok {
			data, err := Marshal(as)
			if err != nil {
				return err
			}
			bb.Append(data)
			return nil
		}
		if v.Kind() != reflect.Slice || v.Type().Elem().Kind() != reflect.Uint8 {
			return mismatch(v, b)
		}
		bb.Append(v.Bytes())
	default:
		return mismatch(v, b)
	}
	return nil
}

// serializableValue returns v as an ArrowSerializable regardless of whether
// ArrowSchema has a value or pointer receiver.
func serializableValue(v reflect.Value) (ArrowSerializable, bool) {
	if !isSerializable(v.Type()) {
		return nil, false
	}
	if as, ok := v.Interface().(ArrowSerializable); ok {
		return as, true
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p.Interface().(ArrowSerializable), true
}

// readValue stores col[row] into dst.
func readValue(col arrow.Array, row int, dst reflect.Value, members []string) error {
	if col.IsNull(row) {
		if err := nullError(dst.Type(), members, true); err != nil {
			return err
		}
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := readValue(col, row, elem.Elem(), members); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	switch c := col.(type) {
	case *array.Dictionary:
		dict, ok := c.Dictionary().(*array.String)
		if !ok {
			return fmt.Errorf("dictionary values are %T, want strings", c.Dictionary())
		}
		return setString(dst, dict.Value(c.GetValueIndex(row)), members)
	case *array.String:
		return setString(dst, c.Value(row), members)
	case *array.Int64:
		return setInt(dst, c.Value(row))
	case *array.Int32:
		return setInt(dst, int64(c.Value(row)))
	case *array.Float64:
		return setFloat(dst, c.Value(row))
	case *array.Float32:
		return setFloat(dst, float64(c.Value(row)))
	case *array.Boolean:
		if dst.Kind() != reflect.Bool {
			return fmt.Errorf("cannot read bool into %v", dst.Type())
		}
		dst.SetBool(c.Value(row))
	case *array.Binary:
		data := c.Value(row)
		if isSerializable(dst.Type()) {
			return unmarshalValue(data, dst)
		}
		if dst.Kind() != reflect.Slice || dst.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("cannot read binary into %v", dst.Type())
		}
		dst.SetBytes(bytes.Clone(data))
	default:
		return fmt.Errorf("unsupported Arrow array type: %T", col)
	}
	return nil
}

func setString(dst reflect.Value, s string, members []string) error {
	if dst.Kind() != reflect.String {
		return fmt.Errorf("cannot read string into %v", dst.Type())
	}
	if err := checkMember(s, members); err != nil {
		return err
	}
	dst.SetString(s)
	return nil
}

func setInt(dst reflect.Value, x int64) error {
	if !isIntKind(dst.Kind()) {
		return fmt.Errorf("cannot read integer into %v", dst.Type())
	}
	if dst.OverflowInt(x) {
		return fmt.Errorf("value %d overflows %v", x, dst.Type())
	}
	dst.SetInt(x)
	return nil
}

func setFloat(dst reflect.Value, x float64) error {
	if !isFloatKind(dst.Kind()) {
		return fmt.Errorf("cannot read float into %v", dst.Type())
	}
	dst.SetFloat(x)
	return nil
}

// setFromString sets a field from a `default=` tag value.
func setFromString(field reflect.Value, s string) error {
	if field.Kind() == reflect.Pointer {
		elem := reflect.New(field.Type().Elem())
		if err := setFromString(elem.Elem(), s); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}
	switch {
	case field.Kind() == reflect.String:
		if err := checkMember(s, enumMembers(field.Type())); err != nil {
			return err
		}
		field.SetString(s)
	case isIntKind(field.Kind()):
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing int default %q: %w", s, err)
		}
		return setInt(field, v)
	case isFloatKind(field.Kind()):
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parsing float default %q: %w", s, err)
		}
		field.SetFloat(v)
	case field.Kind() == reflect.Bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("parsing bool default %q: %w", s, err)
		}
		field.SetBool(v)
	default:
		return fmt.Errorf("default value parsing not supported for %v", field.Type())
	}
	return nil
}

// Marshal encodes an ArrowSerializable record as a one-row IPC stream.
func Marshal(as ArrowSerializable) ([]byte, error) {
	rv := reflect.ValueOf(as)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("marshal: nil %v", rv.Type())
		}
		rv = rv.Elem()
	}
	codec, err := recordCodecFor(rv.Type())
	if err != nil {
		return nil, err
	}
	batch, err := codec.encodeRow(rv)
	if err != nil {
		return nil, err
	}
	defer batch.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(codec.schema))
	if err := w.Write(batch); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a one-row IPC stream produced by [Marshal] into dst,
// which must be a non-nil pointer to an ArrowSerializable struct.
func Unmarshal(data []byte, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("unmarshal: need a non-nil pointer, got %T", dst)
	}
	if !isSerializable(rv.Elem().Type()) {
		return fmt.Errorf("unmarshal: %T is not ArrowSerializable", dst)
	}
	return unmarshalValue(data, rv.Elem())
}

func unmarshalValue(data []byte, dst reflect.Value) error {
	codec, err := recordCodecFor(dst.Type())
	if err != nil {
		return err
	}
	reader, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("reading %v IPC: %w", dst.Type(), err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return fmt.Errorf("reading %v batch: %w", dst.Type(), err)
		}
		return fmt.Errorf("no batch in %v IPC stream", dst.Type())
	}
	batch := reader.RecordBatch()
	if batch.NumRows() != 1 {
		return fmt.Errorf("%v: expected 1 row, got %d", dst.Type(), batch.NumRows())
	}
	val, err := codec.decodeRow(batch, 0)
	if err != nil {
		return err
	}
	dst.Set(val)
	return nil
}

// arrowTypeName returns a human-readable name for an Arrow type.
func arrowTypeName(dt arrow.DataType) string {
	switch dt.ID() {
	case arrow.STRING:
		return "string"
	case arrow.INT64:
		return "int"
	case arrow.INT32:
		return "int32"
	case arrow.FLOAT64:
		return "float"
	case arrow.FLOAT32:
		return "float32"
	case arrow.BOOL:
		return "bool"
	case arrow.BINARY:
		return "bytes"
	case arrow.DICTIONARY:
		return "enum"
	default:
		return dt.String()
	}
}

// resultCodec converts a method result to and from the one-column "result"
// batch. A nil goType marks a void method with an empty schema.
type resultCodec struct {
	goType  reflect.Type
	schema  *arrow.Schema
	members []string
}

func newResultCodec(t reflect.Type) (*resultCodec, error) {
	if t == nil {
		return &resultCodec{schema: arrow.NewSchema(nil, nil)}, nil
	}
	dt, nullable, err := arrowTypeOf(t)
	if err != nil {
		return nil, err
	}
	elem := t
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	return &resultCodec{
		goType:  t,
		schema:  arrow.NewSchema([]arrow.Field{{Name: "result", Type: dt, Nullable: nullable}}, nil),
		members: enumMembers(elem),
	}, nil
}

var resultCodecs sync.Map // reflect.Type -> *resultCodec

func resultCodecFor(t reflect.Type) (*resultCodec, error) {
	if c, ok := resultCodecs.Load(t); ok {
		return c.(*resultCodec), nil
	}
	c, err := newResultCodec(t)
	if err != nil {
		return nil, err
	}
	actual, _ := resultCodecs.LoadOrStore(t, c)
	return actual.(*resultCodec), nil
}

func (c *resultCodec) void() bool { return c.goType == nil }

func (c *resultCodec) encode(v reflect.Value) (arrow.RecordBatch, error) {
	b := array.NewBuilder(memory.NewGoAllocator(), c.schema.Field(0).Type)
	defer b.Release()
	if err := appendValue(b, v, c.members); err != nil {
		return nil, err
	}
	col := b.NewArray()
	defer col.Release()
	return array.NewRecordBatch(c.schema, []arrow.Array{col}, 1), nil
}

func (c *resultCodec) decode(batch arrow.RecordBatch, dst reflect.Value) error {
	if batch.NumCols() < 1 || batch.NumRows() != 1 {
		return fmt.Errorf("expected a 1-row result batch, got %d columns and %d rows", batch.NumCols(), batch.NumRows())
	}
	return readValue(batch.Column(0), 0, dst, c.members)
}
