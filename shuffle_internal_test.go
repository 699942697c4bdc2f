// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graveldb/gravel/comm"
	"github.com/graveldb/gravel/errors"
)

// singleWorkerMap builds a one-label vertex map over a one-worker group.
func singleWorkerMap(t *testing.T, part Partitioner, keys []int64) (*VertexMap, comm.Communicator) {
	t.Helper()
	comms, err := comm.NewLocalGroup(1)
	require.NoError(t, err)
	vm, err := buildVertexMap(context.Background(), comms[0], part, []string{"person"}, []*arrow.Chunked{chunkedOf(keys)}, memory.NewGoAllocator())
	require.NoError(t, err)
	return vm, comms[0]
}

func edgeTableOf(t *testing.T, srcs, dsts []int64, tags []string) arrow.Table {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "src", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "dst", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "tag", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	return tableOf(t, schema, func(b *array.RecordBuilder) {
		b.Field(0).(*array.Int64Builder).AppendValues(srcs, nil)
		b.Field(1).(*array.Int64Builder).AppendValues(dsts, nil)
		sb := b.Field(2).(*array.StringBuilder)
		for _, s := range tags {
			sb.Append(s)
		}
	})
}

func TestRouteTable(t *testing.T) {
	mem := memory.NewGoAllocator()
	tbl := tableOf(t, schemaOf(arrow.PrimitiveTypes.Int64), func(b *array.RecordBuilder) {
		b.Field(0).(*array.Int64Builder).AppendValues([]int64{0, 1, 2, 3}, nil)
	})

	frames, routed, err := routeTable(tbl, 3, mem, func(arrs []arrow.Array, idxs []int) (int, error) {
		if arrs[0].(*array.Int64).Value(idxs[0]) < 2 {
			return 0, nil
		}
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), routed)
	require.Len(t, frames, 3)

	// a partition without rows gets a nil frame, not a schema-only one
	assert.Nil(t, frames[1])

	p0, err := decodeTable(mem, frames[0])
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, columnInts(p0.Column(0)))
	p2, err := decodeTable(mem, frames[2])
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, columnInts(p2.Column(0)))
}

func TestShuffleVertexTableKeepsRowsAndMetadata(t *testing.T) {
	mem := memory.NewGoAllocator()
	part := NewHashPartitioner(1)
	_, c := singleWorkerMap(t, part, []int64{1, 2, 3})

	tbl := withTableMeta(
		tableOf(t, schemaOf(arrow.PrimitiveTypes.Int64), func(b *array.RecordBuilder) {
			b.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2, 3}, nil)
		}),
		map[string]string{MetaLabel: "person"},
	)
	out, err := shuffleVertexTable(context.Background(), c, part, tbl, 0, mem)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, columnInts(out.Column(0)))
	assert.Equal(t, "person", tableMeta(out, MetaLabel))
}

func TestShuffleEdgeTableRewritesEndpoints(t *testing.T) {
	mem := memory.NewGoAllocator()
	part := NewHashPartitioner(1)
	vm, c := singleWorkerMap(t, part, []int64{1, 2})

	tbl := edgeTableOf(t, []int64{1, 2}, []int64{2, 1}, []string{"a", "b"})
	out, err := shuffleEdgeTable(context.Background(), c, vm, tbl, 0, 1, 0, 0, mem)
	require.NoError(t, err)

	assert.Equal(t, arrow.PrimitiveTypes.Uint64, out.Schema().Field(0).Type)
	assert.Equal(t, "src", out.Schema().Field(0).Name)
	assert.Equal(t, arrow.PrimitiveTypes.Uint64, out.Schema().Field(1).Type)

	v1, err := vm.Resolve(0, Int64Key(1))
	require.NoError(t, err)
	v2, err := vm.Resolve(0, Int64Key(2))
	require.NoError(t, err)

	var srcs, dsts []uint64
	for _, chunk := range out.Column(0).Data().Chunks() {
		u := chunk.(*array.Uint64)
		for i := 0; i < u.Len(); i++ {
			srcs = append(srcs, u.Value(i))
		}
	}
	for _, chunk := range out.Column(1).Data().Chunks() {
		u := chunk.(*array.Uint64)
		for i := 0; i < u.Len(); i++ {
			dsts = append(dsts, u.Value(i))
		}
	}
	assert.Equal(t, []uint64{uint64(v1), uint64(v2)}, srcs)
	assert.Equal(t, []uint64{uint64(v2), uint64(v1)}, dsts)
}

func TestShuffleEdgeTableUnknownEndpoint(t *testing.T) {
	mem := memory.NewGoAllocator()
	part := NewHashPartitioner(1)
	vm, c := singleWorkerMap(t, part, []int64{1, 2})

	tbl := edgeTableOf(t, []int64{1}, []int64{9}, []string{"a"})
	_, err := shuffleEdgeTable(context.Background(), c, vm, tbl, 0, 1, 0, 0, mem)
	assert.True(t, errors.Is(err, ErrUnresolvedVertex))
	assert.Contains(t, err.Error(), "person")
}

func TestRewriteEndpointsSharesPropertyColumns(t *testing.T) {
	mem := memory.NewGoAllocator()
	part := NewHashPartitioner(1)
	vm, _ := singleWorkerMap(t, part, []int64{1, 2})

	tbl := edgeTableOf(t, []int64{1}, []int64{2}, []string{"x"})
	out, err := rewriteEndpoints(vm, tbl, 0, 1, 0, 0, mem)
	require.NoError(t, err)
	assert.Equal(t, tbl.NumRows(), out.NumRows())
	assert.Same(t, tbl.Column(2).Data(), out.Column(2).Data())
}
