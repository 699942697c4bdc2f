// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"

	"github.com/graveldb/gravel/comm"
	"github.com/graveldb/gravel/errors"
)

// routeTable splits tbl row by row into per-partition sub-tables, with
// pick naming the destination of each row. Partitions that received no
// rows get a nil frame rather than a schema-only one, so receivers can
// skip them without decoding.
func routeTable(tbl arrow.Table, partitions int, mem memory.Allocator, pick func(arrs []arrow.Array, idxs []int) (int, error)) ([][]byte, int64, error) {
	schema := tbl.Schema()
	ncols := int(tbl.NumCols())

	builders := make([]*array.RecordBuilder, partitions)
	for p := range builders {
		builders[p] = array.NewRecordBuilder(mem, schema)
	}
	rows := make([]int64, partitions)

	cursors := make([]*chunkCursor, ncols)
	for i := range cursors {
		cursors[i] = newChunkCursor(tbl.Column(i).Data())
	}
	arrs := make([]arrow.Array, ncols)
	idxs := make([]int, ncols)
	for r := int64(0); r < tbl.NumRows(); r++ {
		for i := range cursors {
			arrs[i], idxs[i] = cursors[i].next()
		}
		p, err := pick(arrs, idxs)
		if err != nil {
			return nil, 0, err
		}
		for i := 0; i < ncols; i++ {
			if err := appendValue(builders[p].Field(i), arrs[i], idxs[i]); err != nil {
				return nil, 0, err
			}
		}
		rows[p]++
	}

	frames := make([][]byte, partitions)
	var routed int64
	for p := range builders {
		if rows[p] == 0 {
			continue
		}
		sub := array.NewTableFromRecords(schema, []arrow.Record{builders[p].NewRecord()})
		b, err := encodeTable(sub)
		if err != nil {
			return nil, 0, err
		}
		frames[p] = b
		routed += rows[p]
	}
	return frames, routed, nil
}

// exchangeFrames all-gathers every worker's per-partition frames and
// decodes, in sender rank order, the ones addressed to partitions this
// worker owns. The worker's own frames ride through the exchange like
// anyone else's.
func exchangeFrames(ctx context.Context, c comm.Communicator, frames [][]byte, partitions int, mem memory.Allocator) ([]arrow.Table, error) {
	gathered, err := c.AllGather(ctx, encodeFrames(frames))
	if err != nil {
		return nil, errors.Wrap(err, "exchanging shuffled rows")
	}
	var mine []arrow.Table
	for rank := range gathered {
		workerFrames, err := decodeFrames(gathered[rank])
		if err != nil {
			return nil, errors.Wrapf(err, "shuffled rows from worker %d", rank)
		}
		if len(workerFrames) != partitions {
			return nil, errors.New(ErrIOError, fmt.Sprintf("worker %d routed to %d partitions, want %d", rank, len(workerFrames), partitions))
		}
		for p := 0; p < partitions; p++ {
			if c.FragmentToWorker(p) != c.WorkerID() {
				continue
			}
			tbl, err := decodeTable(mem, workerFrames[p])
			if err != nil {
				return nil, errors.Wrapf(err, "shuffled rows from worker %d", rank)
			}
			if tbl != nil {
				mine = append(mine, tbl)
			}
		}
	}
	return mine, nil
}

// shuffleVertexTable sends every row of the local vertex table to the
// worker owning its key's partition and returns the rows received,
// merged in sender rank order. Rows are not deduplicated: the vertex map
// dedups keys, tables keep what sources held.
func shuffleVertexTable(ctx context.Context, c comm.Communicator, part Partitioner, tbl arrow.Table, idCol int, mem memory.Allocator) (arrow.Table, error) {
	frames, routed, localErr := routeTable(tbl, part.PartitionCount(), mem, func(arrs []arrow.Array, idxs []int) (int, error) {
		k, err := keyAt(arrs[idCol], idxs[idCol])
		if err != nil {
			return 0, err
		}
		return part.Assign(k), nil
	})
	if err := groupCheck(ctx, c, "routing vertices", localErr); err != nil {
		return nil, err
	}
	CounterRowsShuffled.WithLabelValues("vertex").Add(float64(routed))

	parts, err := exchangeFrames(ctx, c, frames, part.PartitionCount(), mem)
	if err != nil {
		return nil, err
	}
	merged, err := mergeTables(parts)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		merged = emptyTable(tbl.Schema(), mem)
	}
	return merged, nil
}

// shuffleEdgeTable resolves both endpoint columns to global ids, then
// sends every edge to the worker owning the source vertex's partition.
// The returned table has uint64 src and dst columns under the original
// field names.
func shuffleEdgeTable(ctx context.Context, c comm.Communicator, vm *VertexMap, tbl arrow.Table, srcCol, dstCol, srcLabel, dstLabel int, mem memory.Allocator) (arrow.Table, error) {
	rewritten, localErr := rewriteEndpoints(vm, tbl, srcCol, dstCol, srcLabel, dstLabel, mem)

	var frames [][]byte
	var routed int64
	if localErr == nil {
		frames, routed, localErr = routeTable(rewritten, vm.layout.Partitions(), mem, func(arrs []arrow.Array, idxs []int) (int, error) {
			v := arrs[srcCol].(*array.Uint64).Value(idxs[srcCol])
			return vm.layout.Partition(VID(v)), nil
		})
	}
	if err := groupCheck(ctx, c, "routing edges", localErr); err != nil {
		return nil, err
	}
	CounterRowsShuffled.WithLabelValues("edge").Add(float64(routed))

	parts, err := exchangeFrames(ctx, c, frames, vm.layout.Partitions(), mem)
	if err != nil {
		return nil, err
	}
	merged, err := mergeTables(parts)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		merged = emptyTable(rewritten.Schema(), mem)
	}
	return merged, nil
}

// rewriteEndpoints replaces the src and dst key columns with resolved
// global id columns. Field names survive, only the types change; the
// other columns share their chunks with the input.
func rewriteEndpoints(vm *VertexMap, tbl arrow.Table, srcCol, dstCol, srcLabel, dstLabel int, mem memory.Allocator) (arrow.Table, error) {
	schema := tbl.Schema()
	fields := make([]arrow.Field, len(schema.Fields()))
	copy(fields, schema.Fields())
	fields[srcCol] = arrow.Field{Name: fields[srcCol].Name, Type: arrow.PrimitiveTypes.Uint64}
	fields[dstCol] = arrow.Field{Name: fields[dstCol].Name, Type: arrow.PrimitiveTypes.Uint64}
	md := schema.Metadata()
	newSchema := arrow.NewSchema(fields, &md)

	cols := make([]arrow.Column, len(fields))
	for i := range fields {
		if i == srcCol || i == dstCol {
			continue
		}
		cols[i] = *tbl.Column(i)
	}
	var err error
	if cols[srcCol], err = resolveColumn(vm, srcLabel, tbl.Column(srcCol).Data(), fields[srcCol], mem); err != nil {
		return nil, errors.Wrapf(err, "source column %q", fields[srcCol].Name)
	}
	if cols[dstCol], err = resolveColumn(vm, dstLabel, tbl.Column(dstCol).Data(), fields[dstCol], mem); err != nil {
		return nil, errors.Wrapf(err, "destination column %q", fields[dstCol].Name)
	}
	return array.NewTable(newSchema, cols, tbl.NumRows()), nil
}

func resolveColumn(vm *VertexMap, label int, chunked *arrow.Chunked, field arrow.Field, mem memory.Allocator) (arrow.Column, error) {
	b := array.NewUint64Builder(mem)
	b.Reserve(chunked.Len())
	for _, chunk := range chunked.Chunks() {
		for i := 0; i < chunk.Len(); i++ {
			k, err := keyAt(chunk, i)
			if err != nil {
				return arrow.Column{}, err
			}
			vid, err := vm.Resolve(label, k)
			if err != nil {
				return arrow.Column{}, err
			}
			b.Append(uint64(vid))
		}
	}
	chk := arrow.NewChunked(field.Type, []arrow.Array{b.NewArray()})
	return *arrow.NewColumn(field, chk), nil
}
