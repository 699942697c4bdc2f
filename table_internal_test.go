// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"testing"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graveldb/gravel/errors"
)

func chunkedOf(vals ...[]int64) *arrow.Chunked {
	mem := memory.NewGoAllocator()
	chunks := make([]arrow.Array, len(vals))
	for i, v := range vals {
		b := array.NewInt64Builder(mem)
		b.AppendValues(v, nil)
		chunks[i] = b.NewArray()
	}
	return arrow.NewChunked(arrow.PrimitiveTypes.Int64, chunks)
}

func TestTableMeta(t *testing.T) {
	tbl := tableOf(t, schemaOf(arrow.PrimitiveTypes.Int64), func(b *array.RecordBuilder) {
		b.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2}, nil)
	})

	t.Run("AbsentKey", func(t *testing.T) {
		assert.Equal(t, "", tableMeta(tbl, MetaLabel))
	})

	t.Run("SetAndRead", func(t *testing.T) {
		tagged := withTableMeta(tbl, map[string]string{
			MetaLabel: "person",
			MetaType:  RoleVertex,
		})
		assert.Equal(t, "person", tableMeta(tagged, MetaLabel))
		assert.Equal(t, RoleVertex, tableMeta(tagged, MetaType))
		assert.Equal(t, int64(2), tagged.NumRows())

		// column data is shared, not copied
		assert.Same(t, tbl.Column(0).Data(), tagged.Column(0).Data())
	})

	t.Run("OverridesExistingKey", func(t *testing.T) {
		once := withTableMeta(tbl, map[string]string{MetaLabel: "person"})
		twice := withTableMeta(once, map[string]string{MetaLabel: "company"})
		assert.Equal(t, "company", tableMeta(twice, MetaLabel))
	})

	t.Run("KeepsUnrelatedKeys", func(t *testing.T) {
		once := withTableMeta(tbl, map[string]string{MetaLabel: "person"})
		twice := withTableMeta(once, map[string]string{MetaIDColumn: "0"})
		assert.Equal(t, "person", tableMeta(twice, MetaLabel))
		assert.Equal(t, "0", tableMeta(twice, MetaIDColumn))
	})
}

func TestEmptyTable(t *testing.T) {
	md := arrow.NewMetadata([]string{MetaLabel}, []string{"person"})
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, &md)

	tbl := emptyTable(schema, memory.NewGoAllocator())
	assert.Equal(t, int64(0), tbl.NumRows())
	assert.Equal(t, int64(2), tbl.NumCols())
	assert.True(t, schema.Equal(tbl.Schema()))
	assert.Equal(t, "person", tableMeta(tbl, MetaLabel))
}

func TestMergeTables(t *testing.T) {
	schema := schemaOf(arrow.PrimitiveTypes.Int64)
	build := func(vals ...int64) arrow.Table {
		return tableOf(t, schema, func(b *array.RecordBuilder) {
			b.Field(0).(*array.Int64Builder).AppendValues(vals, nil)
		})
	}

	t.Run("ConcatenatesInOrder", func(t *testing.T) {
		merged, err := mergeTables([]arrow.Table{build(1, 2), build(3), build(4, 5)})
		require.NoError(t, err)
		require.NotNil(t, merged)
		assert.Equal(t, int64(5), merged.NumRows())

		var got []int64
		for _, chunk := range merged.Column(0).Data().Chunks() {
			ints := chunk.(*array.Int64)
			for i := 0; i < ints.Len(); i++ {
				got = append(got, ints.Value(i))
			}
		}
		assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)
	})

	t.Run("SkipsNilParts", func(t *testing.T) {
		merged, err := mergeTables([]arrow.Table{nil, build(7), nil})
		require.NoError(t, err)
		require.NotNil(t, merged)
		assert.Equal(t, int64(1), merged.NumRows())
	})

	t.Run("AllNil", func(t *testing.T) {
		merged, err := mergeTables([]arrow.Table{nil, nil})
		require.NoError(t, err)
		assert.Nil(t, merged)
	})

	t.Run("EmptyPartKeepsRows", func(t *testing.T) {
		merged, err := mergeTables([]arrow.Table{build(1), emptyTable(schema, memory.NewGoAllocator())})
		require.NoError(t, err)
		assert.Equal(t, int64(1), merged.NumRows())
	})

	t.Run("FirstMetadataWins", func(t *testing.T) {
		tagged := withTableMeta(build(1), map[string]string{MetaLabel: "person"})
		merged, err := mergeTables([]arrow.Table{tagged, build(2)})
		require.NoError(t, err)
		assert.Equal(t, "person", tableMeta(merged, MetaLabel))
	})

	t.Run("MismatchedSchemas", func(t *testing.T) {
		other := tableOf(t, schemaOf(arrow.BinaryTypes.String), func(b *array.RecordBuilder) {
			b.Field(0).(*array.StringBuilder).Append("x")
		})
		_, err := mergeTables([]arrow.Table{build(1), other})
		assert.True(t, errors.Is(err, ErrInvalidOperation))
	})
}

func TestSupportedType(t *testing.T) {
	tests := []struct {
		dt  arrow.DataType
		exp bool
	}{
		{arrow.PrimitiveTypes.Int64, true},
		{arrow.PrimitiveTypes.Uint64, true},
		{arrow.PrimitiveTypes.Float64, true},
		{arrow.BinaryTypes.String, true},
		{arrow.FixedWidthTypes.Boolean, true},
		{&arrow.TimestampType{Unit: arrow.Second}, true},
		{&arrow.TimestampType{Unit: arrow.Millisecond}, false},
		{arrow.PrimitiveTypes.Int32, false},
		{arrow.PrimitiveTypes.Float32, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.exp, supportedType(test.dt), "%s", test.dt)
	}
}

func TestCheckColumnTypes(t *testing.T) {
	good := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "ok", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
	assert.NoError(t, checkColumnTypes(good))

	bad := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "narrow", Type: arrow.PrimitiveTypes.Int32},
	}, nil)
	err := checkColumnTypes(bad)
	assert.True(t, errors.Is(err, ErrUnsupportedCast))
	assert.Contains(t, err.Error(), "narrow")
}

func TestKeyAt(t *testing.T) {
	mem := memory.NewGoAllocator()

	t.Run("Int64", func(t *testing.T) {
		b := array.NewInt64Builder(mem)
		b.AppendValues([]int64{42}, nil)
		arr := b.NewArray()
		k, err := keyAt(arr, 0)
		require.NoError(t, err)
		assert.Equal(t, Int64Key(42), k)
	})

	t.Run("String", func(t *testing.T) {
		b := array.NewStringBuilder(mem)
		b.Append("alice")
		arr := b.NewArray()
		k, err := keyAt(arr, 0)
		require.NoError(t, err)
		assert.Equal(t, StringKey("alice"), k)
	})

	t.Run("Null", func(t *testing.T) {
		b := array.NewInt64Builder(mem)
		b.AppendNull()
		_, err := keyAt(b.NewArray(), 0)
		assert.True(t, errors.Is(err, ErrIOError))
	})

	t.Run("WrongType", func(t *testing.T) {
		b := array.NewFloat64Builder(mem)
		b.Append(1.5)
		_, err := keyAt(b.NewArray(), 0)
		assert.True(t, errors.Is(err, ErrInvalidOperation))
	})
}

func TestAppendValue(t *testing.T) {
	mem := memory.NewGoAllocator()

	t.Run("CopiesValuesAndNulls", func(t *testing.T) {
		src := array.NewInt64Builder(mem)
		src.Append(5)
		src.AppendNull()
		arr := src.NewArray()

		dst := array.NewInt64Builder(mem)
		require.NoError(t, appendValue(dst, arr, 0))
		require.NoError(t, appendValue(dst, arr, 1))
		out := dst.NewArray().(*array.Int64)
		assert.Equal(t, int64(5), out.Value(0))
		assert.True(t, out.IsNull(1))
	})

	t.Run("Strings", func(t *testing.T) {
		src := array.NewStringBuilder(mem)
		src.Append("x")
		arr := src.NewArray()

		dst := array.NewStringBuilder(mem)
		require.NoError(t, appendValue(dst, arr, 0))
		assert.Equal(t, "x", dst.NewArray().(*array.String).Value(0))
	})

	t.Run("UnhandledType", func(t *testing.T) {
		b := array.NewInt32Builder(mem)
		b.Append(1)
		arr := b.NewArray()
		err := appendValue(array.NewInt32Builder(mem), arr, 0)
		assert.True(t, errors.Is(err, ErrInvalidOperation))
	})
}

func TestFieldIndex(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
	assert.Equal(t, 0, fieldIndex(schema, "id"))
	assert.Equal(t, 1, fieldIndex(schema, "name"))
	assert.Equal(t, -1, fieldIndex(schema, "nope"))
}

func TestChunkCursor(t *testing.T) {
	// an empty chunk in the middle must be skipped
	chunked := chunkedOf([]int64{10, 11}, []int64{}, []int64{12, 13, 14})
	cur := newChunkCursor(chunked)

	var got []int64
	for r := 0; r < chunked.Len(); r++ {
		arr, i := cur.next()
		got = append(got, arr.(*array.Int64).Value(i))
	}
	assert.Equal(t, []int64{10, 11, 12, 13, 14}, got)
}
