// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"golang.org/x/sync/errgroup"

	"github.com/graveldb/gravel/errors"
)

// widenRank orders the promotion lattice timestamp(s) < int64 < float64 <
// utf8. Types outside the lattice rank -1 and never win against a lattice
// type.
func widenRank(dt arrow.DataType) int {
	switch dt.ID() {
	case arrow.TIMESTAMP:
		if dt.(*arrow.TimestampType).Unit == arrow.Second {
			return 0
		}
		return -1
	case arrow.INT64:
		return 1
	case arrow.FLOAT64:
		return 2
	case arrow.STRING:
		return 3
	}
	return -1
}

// widenSchemas reduces the per-worker schemas of one table to the single
// schema every worker casts to. Nil entries stand for workers whose shard
// was empty; a table nobody observed cannot be reconciled. Each field
// takes the loosest type seen for its position. The result is the same
// for any permutation of the inputs holding equal-ranked types fixed, and
// widening a widened schema against itself changes nothing.
func widenSchemas(schemas []*arrow.Schema) (*arrow.Schema, error) {
	var present []*arrow.Schema
	for _, s := range schemas {
		if s != nil {
			present = append(present, s)
		}
	}
	if len(present) == 0 {
		return nil, errors.New(ErrEmptySchemaSet, "no worker observed a schema for this table")
	}
	first := present[0]
	n := len(first.Fields())
	for _, s := range present[1:] {
		if len(s.Fields()) != n {
			return nil, errors.New(ErrIOError, fmt.Sprintf("workers disagree on field count: %d vs %d", n, len(s.Fields())))
		}
	}

	fields := make([]arrow.Field, n)
	for i := 0; i < n; i++ {
		f := first.Field(i)
		win := f.Type
		nullable := f.Nullable
		for _, s := range present[1:] {
			g := s.Field(i)
			nullable = nullable || g.Nullable
			if !arrow.TypeEqual(g.Type, win) && widenRank(g.Type) > widenRank(win) {
				win = g.Type
			}
		}
		fields[i] = arrow.Field{Name: f.Name, Type: win, Nullable: nullable}
	}
	md := first.Metadata()
	return arrow.NewSchema(fields, &md), nil
}

// castTable rebuilds tbl so its schema equals target. Identity columns
// share their chunks with the input; columns needing a value cast are
// rebuilt in parallel, at most threads columns at a time. The only value
// casts that exist are int64 to float64 and timestamp(s) to int64; a
// reconciled schema demanding any other conversion fails the load.
func castTable(mem memory.Allocator, tbl arrow.Table, target *arrow.Schema, threads int) (arrow.Table, error) {
	if tbl.Schema().Equal(target) {
		return tbl, nil
	}
	if int(tbl.NumCols()) != len(target.Fields()) {
		return nil, errors.New(ErrIOError, fmt.Sprintf("table has %d columns, reconciled schema has %d", tbl.NumCols(), len(target.Fields())))
	}

	cols := make([]arrow.Column, len(target.Fields()))
	var eg errgroup.Group
	if threads < 1 {
		threads = 1
	}
	eg.SetLimit(threads)
	for i := range target.Fields() {
		i := i
		eg.Go(func() error {
			f := target.Field(i)
			chunked, err := castColumn(mem, tbl.Column(i).Data(), f.Type)
			if err != nil {
				return errors.Wrapf(err, "column %q", f.Name)
			}
			cols[i] = *arrow.NewColumn(f, chunked)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	CounterTablesCast.Inc()
	return array.NewTable(target, cols, tbl.NumRows()), nil
}

func castColumn(mem memory.Allocator, chunked *arrow.Chunked, dst arrow.DataType) (*arrow.Chunked, error) {
	src := chunked.DataType()
	if arrow.TypeEqual(src, dst) {
		return chunked, nil
	}
	switch {
	case src.ID() == arrow.INT64 && dst.ID() == arrow.FLOAT64:
		out := make([]arrow.Array, len(chunked.Chunks()))
		for ci, chunk := range chunked.Chunks() {
			ints := chunk.(*array.Int64)
			b := array.NewFloat64Builder(mem)
			b.Reserve(ints.Len())
			for i := 0; i < ints.Len(); i++ {
				if ints.IsNull(i) {
					b.AppendNull()
				} else {
					b.Append(float64(ints.Value(i)))
				}
			}
			out[ci] = b.NewArray()
		}
		return arrow.NewChunked(dst, out), nil
	case src.ID() == arrow.TIMESTAMP && dst.ID() == arrow.INT64:
		out := make([]arrow.Array, len(chunked.Chunks()))
		for ci, chunk := range chunked.Chunks() {
			ts := chunk.(*array.Timestamp)
			b := array.NewInt64Builder(mem)
			b.Reserve(ts.Len())
			for i := 0; i < ts.Len(); i++ {
				if ts.IsNull(i) {
					b.AppendNull()
				} else {
					b.Append(int64(ts.Value(i)))
				}
			}
			out[ci] = b.NewArray()
		}
		return arrow.NewChunked(dst, out), nil
	}
	return nil, NewErrUnsupportedCast(src, dst)
}
