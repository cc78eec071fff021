package schema

import (
	"errors"
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/udfbridge/udferr"
)

func TestNewSchema(t *testing.T) {
	s, err := NewSchema(
		Field{Name: "a", Type: Int},
		Field{Name: "b", Type: String, Nullable: true},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Names())
	assert.Equal(t, 1, s.Index("b"))
	assert.Equal(t, -1, s.Index("c"))
	assert.Equal(t, "(a: Int, b: String?)", s.String())

	_, err = NewSchema(Field{Name: "a", Type: Int}, Field{Name: "a", Type: Float})
	assert.True(t, errors.Is(err, udferr.ErrSchemaViolation))

	_, err = NewSchema(Field{Name: "", Type: Int})
	assert.True(t, errors.Is(err, udferr.ErrSchemaViolation))
}

func TestSchemaIsImmutable(t *testing.T) {
	fields := []Field{{Name: "a", Type: Int}}
	s := MustNewSchema(fields...)
	fields[0].Name = "changed"
	s.Fields()[0].Name = "changed"

	assert.Equal(t, "a", s.Field(0).Name)

	extended, err := s.Extend(Field{Name: "b", Type: Float})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, extended.Len())
}

func TestNewTuple(t *testing.T) {
	s := MustNewSchema(
		Field{Name: "col1", Type: String},
		Field{Name: "col2", Type: Float},
		Field{Name: "col3", Type: Int, Nullable: true},
	)

	tuple, err := NewTuple(s, map[string]Value{
		"col3": NewNull(),
		"col1": NewString("a"),
		"col2": NewFloat(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "{col1: 'a', col2: 1, col3: null}", tuple.String())

	value, ok := tuple.Get("col2")
	assert.True(t, ok)
	assert.Equal(t, 1.0, value.Float)
	_, ok = tuple.Get("col4")
	assert.False(t, ok)

	_, err = NewTuple(s, map[string]Value{"col1": NewString("a"), "col2": NewFloat(1)})
	assert.True(t, errors.Is(err, udferr.ErrSchemaViolation))

	_, err = NewTuple(s, map[string]Value{"col1": NewString("a"), "col2": NewFloat(1), "col3": NewInt(1), "col4": NewInt(2)})
	assert.True(t, errors.Is(err, udferr.ErrSchemaViolation))

	_, err = NewTupleFromSlice(s, []Value{NewString("a"), NewInt(1), NewNull()})
	assert.True(t, errors.Is(err, udferr.ErrSchemaViolation), "ints aren't floats without coercion")

	_, err = NewTupleFromSlice(s, []Value{NewNull(), NewFloat(1), NewNull()})
	assert.True(t, errors.Is(err, udferr.ErrSchemaViolation))
}

func TestTuplePartial(t *testing.T) {
	s := MustNewSchema(
		Field{Name: "a", Type: Int},
		Field{Name: "b", Type: String},
	)
	tuple, err := NewTupleFromSlice(s, []Value{NewInt(1), NewString("x")})
	require.NoError(t, err)

	partial, err := tuple.Partial([]string{"b"})
	require.NoError(t, err)
	assert.Equal(t, "{b: 'x'}", partial.String())

	_, err = tuple.Partial([]string{"c"})
	assert.Error(t, err)
}

func TestParseType(t *testing.T) {
	tests := []struct {
		text    string
		want    Type
		wantErr bool
	}{
		{text: "int", want: Int},
		{text: " Float ", want: Float},
		{text: "bool", want: Boolean},
		{text: "string", want: String},
		{text: "timestamp", want: Time},
		{text: "binary", want: Binary},
		{text: "large_binary", want: LargeBinary},
		{text: "list<list<int>>", want: ListOf(ListOf(Int))},
		{text: "decimal", wantErr: true},
		{text: "list<decimal>", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseType(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Is(got), "expected %s, got %s", tt.want, got)
		})
	}
}

func TestHandle(t *testing.T) {
	h := NewHandle("texera-large-binaries", "objects/1700000000000/abc")
	assert.Equal(t, "s3://texera-large-binaries/objects/1700000000000/abc", h.URI)
	assert.Equal(t, "texera-large-binaries", h.Bucket())
	assert.Equal(t, "objects/1700000000000/abc", h.Key())
	assert.False(t, h.Committed())

	parsed, err := ParseHandle(h.URI)
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	for _, uri := range []string{"", "s3://", "s3://bucket", "s3://bucket/", "s3:///key", "http://bucket/key"} {
		_, err := ParseHandle(uri)
		assert.Error(t, err, uri)
		assert.False(t, LooksLikeHandleURI(uri), uri)
	}
}

func TestValueConforms(t *testing.T) {
	assert.True(t, NewNull().Conforms(Int))
	assert.True(t, NewInt(1).Conforms(Int))
	assert.False(t, NewInt(1).Conforms(Float))
	assert.True(t, NewList([]Value{NewInt(1), NewNull()}).Conforms(ListOf(Int)))
	assert.False(t, NewList([]Value{NewString("a")}).Conforms(ListOf(Int)))

	structType := StructOf(StructField{Name: "x", Type: Int})
	assert.True(t, NewStruct(structType.Struct.Fields, []Value{NewInt(1)}).Conforms(structType))
	assert.False(t, NewStruct(structType.Struct.Fields, []Value{NewString("a")}).Conforms(structType))
}

func TestValueCompareLargeBinaryByIdentity(t *testing.T) {
	a := NewLargeBinary(Handle{URI: "s3://b/k", Size: 10})
	b := NewLargeBinary(Handle{URI: "s3://b/k", Size: -1})
	c := NewLargeBinary(Handle{URI: "s3://b/l", Size: 10})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, "s3://b/k", a.ToRawGoValue())
}

func TestArrowSchemaRoundTrip(t *testing.T) {
	s := MustNewSchema(
		Field{Name: "i", Type: Int},
		Field{Name: "f", Type: Float, Nullable: true},
		Field{Name: "b", Type: Boolean},
		Field{Name: "s", Type: String},
		Field{Name: "t", Type: Time},
		Field{Name: "bin", Type: Binary},
		Field{Name: "blob", Type: LargeBinary, Nullable: true},
		Field{Name: "blobs", Type: ListOf(LargeBinary)},
		Field{Name: "st", Type: StructOf(StructField{Name: "x", Type: Int}, StructField{Name: "y", Type: ListOf(String)})},
	)

	arrowSchema := ToArrowSchema(s)
	assert.True(t, IsLargeBinaryField(arrowSchema.Field(6)))
	assert.False(t, IsLargeBinaryField(arrowSchema.Field(3)))
	assert.Equal(t, arrow.TIMESTAMP, arrowSchema.Field(4).Type.ID())

	got, err := FromArrowSchema(arrowSchema)
	require.NoError(t, err)
	assert.True(t, s.Equal(got), "expected %s, got %s", s, got)
}

func TestFromArrowSchemaTaggedStrings(t *testing.T) {
	tagged := arrow.NewSchema([]arrow.Field{
		{
			Name:     "blob",
			Type:     arrow.BinaryTypes.String,
			Nullable: true,
			Metadata: arrow.NewMetadata([]string{TypeMetadataKey}, []string{LargeBinaryMetadataValue}),
		},
		{Name: "small", Type: arrow.PrimitiveTypes.Int16},
		{Name: "ratio", Type: arrow.PrimitiveTypes.Float32},
	}, nil)

	got, err := FromArrowSchema(tagged)
	require.NoError(t, err)
	assert.True(t, got.Field(0).Type.Is(LargeBinary))
	assert.True(t, got.Field(1).Type.Is(Int))
	assert.True(t, got.Field(2).Type.Is(Float))

	_, err = FromArrowSchema(arrow.NewSchema([]arrow.Field{{Name: "d", Type: arrow.FixedWidthTypes.Date32}}, nil))
	assert.True(t, errors.Is(err, udferr.ErrUnsupportedType))
}

func TestFromArrowTypeStruct(t *testing.T) {
	tests := []struct {
		name  string
		input arrow.DataType
		want  Type
	}{
		{
			name: "flat",
			input: arrow.StructOf(
				arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Int32},
				arrow.Field{Name: "label", Type: arrow.BinaryTypes.String, Nullable: true},
			),
			want: StructOf(StructField{Name: "x", Type: Int}, StructField{Name: "label", Type: String}),
		},
		{
			name: "nested",
			input: arrow.StructOf(
				arrow.Field{Name: "inner", Type: arrow.StructOf(arrow.Field{Name: "ok", Type: arrow.FixedWidthTypes.Boolean})},
			),
			want: StructOf(StructField{Name: "inner", Type: StructOf(StructField{Name: "ok", Type: Boolean})}),
		},
		{
			name:  "empty",
			input: arrow.StructOf(),
			want:  StructOf(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromArrowType(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Is(got), "expected %s, got %s", tt.want, got)
		})
	}
}
