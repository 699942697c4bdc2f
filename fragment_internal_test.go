// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"context"
	"strconv"
	"testing"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graveldb/gravel/errors"
	"github.com/graveldb/gravel/store"
)

func testVertexTable(t *testing.T, label string, index int, ids []int64, names []string) arrow.Table {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	tbl := tableOf(t, schema, func(b *array.RecordBuilder) {
		b.Field(0).(*array.Int64Builder).AppendValues(ids, nil)
		sb := b.Field(1).(*array.StringBuilder)
		for _, n := range names {
			sb.Append(n)
		}
	})
	return withTableMeta(tbl, map[string]string{
		MetaType:       RoleVertex,
		MetaLabel:      label,
		MetaLabelIndex: strconv.Itoa(index),
		MetaIDColumn:   "0",
	})
}

func testEdgeTable(t *testing.T, label string, index, srcLabel, dstLabel, rows int) arrow.Table {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "src", Type: arrow.PrimitiveTypes.Uint64, Nullable: true},
		{Name: "dst", Type: arrow.PrimitiveTypes.Uint64, Nullable: true},
		{Name: "weight", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)
	tbl := tableOf(t, schema, func(b *array.RecordBuilder) {
		for r := 0; r < rows; r++ {
			b.Field(0).(*array.Uint64Builder).Append(uint64(r))
			b.Field(1).(*array.Uint64Builder).Append(uint64(r + 1))
			b.Field(2).(*array.Float64Builder).Append(float64(r) / 2)
		}
	})
	return withTableMeta(tbl, map[string]string{
		MetaType:        RoleEdge,
		MetaLabel:       label,
		MetaLabelIndex:  strconv.Itoa(index),
		MetaSrcColumn:   "0",
		MetaDstColumn:   "1",
		MetaSrcLabelID:  strconv.Itoa(srcLabel),
		MetaDstLabelID:  strconv.Itoa(dstLabel),
		MetaSubLabelNum: "1",
	})
}

func TestAssembleFragment(t *testing.T) {
	person := testVertexTable(t, "person", 0, []int64{1, 2}, []string{"alice", "bob"})
	software := testVertexTable(t, "software", 1, []int64{10}, []string{"gravel"})
	// two sub-labels share the person>person relation, assembly dedups it
	subs := []arrow.Table{
		testEdgeTable(t, "knows", 0, 0, 0, 2),
		testEdgeTable(t, "knows", 0, 0, 1, 3),
		testEdgeTable(t, "knows", 0, 0, 0, 1),
	}

	f, err := assembleFragment(1, 2, true, "load-1", 42, []arrow.Table{person, software}, [][]arrow.Table{subs})
	require.NoError(t, err)

	assert.Equal(t, 1, f.Partition())
	assert.Equal(t, "load-1", f.LoadID())
	assert.Equal(t, store.ObjectID(42), f.VertexMapID())

	gs := f.Schema()
	assert.Equal(t, 2, gs.Partitions)
	assert.True(t, gs.Directed)
	require.Len(t, gs.Vertices, 2)
	assert.Equal(t, VertexEntry{
		Label:      "person",
		LabelIndex: 0,
		PrimaryKey: "id",
		Properties: []Property{{Name: "id", Type: "int64"}, {Name: "name", Type: "utf8"}},
	}, gs.Vertices[0])
	assert.Equal(t, "software", gs.Vertices[1].Label)

	require.Len(t, gs.Edges, 1)
	assert.Equal(t, EdgeEntry{
		Label:      "knows",
		LabelIndex: 0,
		Relations: []Relation{
			{SrcLabel: "person", DstLabel: "person"},
			{SrcLabel: "person", DstLabel: "software"},
		},
		Properties: []Property{{Name: "weight", Type: "float64"}},
	}, gs.Edges[0])

	require.NotNil(t, f.VertexTable("person"))
	assert.Equal(t, []int64{1, 2}, columnInts(f.VertexTable("person").Column(0)))
	assert.Nil(t, f.VertexTable("nobody"))

	require.NotNil(t, f.EdgeTable("knows"))
	assert.Equal(t, int64(6), f.EdgeTable("knows").NumRows())
	assert.Nil(t, f.EdgeTable("likes"))
}

func TestAssembleFragmentPrimaryKeyFromMetadata(t *testing.T) {
	person := withTableMeta(
		testVertexTable(t, "person", 0, []int64{1}, []string{"alice"}),
		map[string]string{MetaPrimaryKey: "name"},
	)
	f, err := assembleFragment(0, 1, true, "load-1", 1, []arrow.Table{person}, nil)
	require.NoError(t, err)
	assert.Equal(t, "name", f.Schema().Vertices[0].PrimaryKey)
}

func TestAssembleFragmentConflicts(t *testing.T) {
	person := func() arrow.Table { return testVertexTable(t, "person", 0, []int64{1}, []string{"a"}) }

	t.Run("DuplicateVertexLabel", func(t *testing.T) {
		dup := testVertexTable(t, "person", 1, []int64{2}, []string{"b"})
		_, err := assembleFragment(0, 1, true, "l", 1, []arrow.Table{person(), dup}, nil)
		assert.True(t, errors.Is(err, ErrLabelIndexConflict))
		assert.Contains(t, err.Error(), "person")
	})

	t.Run("VertexIndexMismatch", func(t *testing.T) {
		misplaced := testVertexTable(t, "person", 1, []int64{1}, []string{"a"})
		_, err := assembleFragment(0, 1, true, "l", 1, []arrow.Table{misplaced}, nil)
		assert.True(t, errors.Is(err, ErrLabelIndexConflict))
	})

	t.Run("VertexWithoutLabelName", func(t *testing.T) {
		anon := withTableMeta(person(), map[string]string{MetaLabel: ""})
		_, err := assembleFragment(0, 1, true, "l", 1, []arrow.Table{anon}, nil)
		assert.True(t, errors.Is(err, ErrLabelIndexConflict))
	})

	t.Run("VertexWithoutIDColumn", func(t *testing.T) {
		bare := withTableMeta(person(), map[string]string{MetaIDColumn: ""})
		_, err := assembleFragment(0, 1, true, "l", 1, []arrow.Table{bare}, nil)
		assert.True(t, errors.Is(err, ErrMissingLabelMetadata))
	})

	t.Run("DuplicateEdgeLabel", func(t *testing.T) {
		etables := [][]arrow.Table{
			{testEdgeTable(t, "knows", 0, 0, 0, 1)},
			{testEdgeTable(t, "knows", 1, 0, 0, 1)},
		}
		_, err := assembleFragment(0, 1, true, "l", 1, []arrow.Table{person()}, etables)
		assert.True(t, errors.Is(err, ErrLabelIndexConflict))
	})

	t.Run("EdgeIndexMismatch", func(t *testing.T) {
		etables := [][]arrow.Table{{testEdgeTable(t, "knows", 1, 0, 0, 1)}}
		_, err := assembleFragment(0, 1, true, "l", 1, []arrow.Table{person()}, etables)
		assert.True(t, errors.Is(err, ErrLabelIndexConflict))
	})

	t.Run("EdgeEndpointLabelOutOfRange", func(t *testing.T) {
		etables := [][]arrow.Table{{testEdgeTable(t, "knows", 0, 0, 5, 1)}}
		_, err := assembleFragment(0, 1, true, "l", 1, []arrow.Table{person()}, etables)
		assert.True(t, errors.Is(err, ErrLabelIndexConflict))
	})

	t.Run("EdgeWithoutEndpointLabels", func(t *testing.T) {
		bare := withTableMeta(testEdgeTable(t, "knows", 0, 0, 0, 1), map[string]string{MetaSrcLabelID: ""})
		_, err := assembleFragment(0, 1, true, "l", 1, []arrow.Table{person()}, [][]arrow.Table{{bare}})
		assert.True(t, errors.Is(err, ErrMissingLabelMetadata))
	})

	t.Run("EdgeLabelWithoutTables", func(t *testing.T) {
		_, err := assembleFragment(0, 1, true, "l", 1, []arrow.Table{person()}, [][]arrow.Table{{}})
		assert.True(t, errors.Is(err, ErrLabelIndexConflict))
	})
}

func TestFragmentSealRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewGoAllocator()
	st := store.NewInmem()

	person := testVertexTable(t, "person", 0, []int64{1, 2, 3}, []string{"a", "b", "c"})
	knows := [][]arrow.Table{{testEdgeTable(t, "knows", 0, 0, 0, 2)}}
	f, err := assembleFragment(1, 4, false, "load-7", 9, []arrow.Table{person}, knows)
	require.NoError(t, err)

	id, err := f.Seal(ctx, st)
	require.NoError(t, err)

	obj, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, KindFragment, obj.Kind)
	assert.Equal(t, "1", obj.Meta["partition"])
	assert.Equal(t, "4", obj.Meta["partitions"])
	assert.Equal(t, "false", obj.Meta["directed"])
	assert.Equal(t, "load-7", obj.Meta["load_id"])

	got, err := DecodeFragment(mem, obj)
	require.NoError(t, err)
	assert.Equal(t, f.Schema(), got.Schema())
	assert.Equal(t, 1, got.Partition())
	assert.Equal(t, "load-7", got.LoadID())
	assert.Equal(t, store.ObjectID(9), got.VertexMapID())
	assert.Equal(t, []int64{1, 2, 3}, columnInts(got.VertexTable("person").Column(0)))
	assert.Equal(t, int64(2), got.EdgeTable("knows").NumRows())
}

func TestDecodeFragmentErrors(t *testing.T) {
	mem := memory.NewGoAllocator()

	t.Run("WrongKind", func(t *testing.T) {
		_, err := DecodeFragment(mem, store.Object{Kind: KindVertexMap})
		assert.True(t, errors.Is(err, ErrInvalidOperation))
	})

	t.Run("GarbagePayload", func(t *testing.T) {
		_, err := DecodeFragment(mem, store.Object{Kind: KindFragment, Payload: nil})
		assert.True(t, errors.Is(err, ErrIOError))
	})

	t.Run("NoHeader", func(t *testing.T) {
		_, err := DecodeFragment(mem, store.Object{Kind: KindFragment, Payload: encodeFrames(nil)})
		assert.True(t, errors.Is(err, ErrIOError))
	})

	t.Run("BadHeader", func(t *testing.T) {
		payload := encodeFrames([][]byte{[]byte("not json")})
		_, err := DecodeFragment(mem, store.Object{Kind: KindFragment, Payload: payload})
		assert.True(t, errors.Is(err, ErrIOError))
	})
}

func TestFragmentDataFrames(t *testing.T) {
	mem := memory.NewGoAllocator()
	person := testVertexTable(t, "person", 0, []int64{1}, []string{"a"})
	knows := [][]arrow.Table{{testEdgeTable(t, "knows", 0, 0, 0, 1)}}
	f, err := assembleFragment(0, 1, true, "l", 1, []arrow.Table{person}, knows)
	require.NoError(t, err)

	df, err := f.VertexDataFrame(mem, "person")
	require.NoError(t, err)
	assert.NotNil(t, df)

	_, err = f.VertexDataFrame(mem, "nobody")
	assert.True(t, errors.Is(err, ErrInvalidOperation))

	df, err = f.EdgeDataFrame(mem, "knows")
	require.NoError(t, err)
	assert.NotNil(t, df)

	_, err = f.EdgeDataFrame(mem, "likes")
	assert.True(t, errors.Is(err, ErrInvalidOperation))
}
