// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"

	"github.com/graveldb/gravel/errors"
)

// tableMeta returns the schema-level metadata value for key, or "" when
// the table carries no such key.
func tableMeta(tbl arrow.Table, key string) string {
	v, _ := metaValue(tbl.Schema().Metadata(), key)
	return v
}

func metaValue(md arrow.Metadata, key string) (string, bool) {
	i := md.FindKey(key)
	if i < 0 {
		return "", false
	}
	return md.Values()[i], true
}

// withTableMeta returns tbl with the given schema-level metadata set,
// overriding existing keys of the same name. Column data is shared, not
// copied.
func withTableMeta(tbl arrow.Table, meta map[string]string) arrow.Table {
	merged := map[string]string{}
	md := tbl.Schema().Metadata()
	for i, k := range md.Keys() {
		merged[k] = md.Values()[i]
	}
	for k, v := range meta {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = merged[k]
	}
	newMD := arrow.NewMetadata(keys, vals)
	schema := arrow.NewSchema(tbl.Schema().Fields(), &newMD)

	cols := make([]arrow.Column, tbl.NumCols())
	for i := range cols {
		cols[i] = *tbl.Column(i)
	}
	return array.NewTable(schema, cols, tbl.NumRows())
}

// emptyTable returns a zero-row table with the given schema.
func emptyTable(schema *arrow.Schema, mem memory.Allocator) arrow.Table {
	arrs := make([]arrow.Array, len(schema.Fields()))
	for i, f := range schema.Fields() {
		arrs[i] = array.NewBuilder(mem, f.Type).NewArray()
	}
	rec := array.NewRecord(schema, arrs, 0)
	return array.NewTableFromRecords(schema, []arrow.Record{rec})
}

// mergeTables concatenates tables with field-equal schemas into one table.
// Nil entries are skipped; all-nil input yields a nil table. The first
// table's schema, metadata included, becomes the result's schema.
func mergeTables(tables []arrow.Table) (arrow.Table, error) {
	var parts []arrow.Table
	for _, t := range tables {
		if t != nil {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	schema := parts[0].Schema()
	for _, t := range parts[1:] {
		if !schema.Equal(t.Schema()) {
			return nil, NewErrInvalidOperation(fmt.Sprintf("merging tables with mismatched schemas: %v vs %v", schema, t.Schema()))
		}
	}

	var rows int64
	for _, t := range parts {
		rows += t.NumRows()
	}
	cols := make([]arrow.Column, len(schema.Fields()))
	for i, f := range schema.Fields() {
		var chunks []arrow.Array
		for _, t := range parts {
			chunks = append(chunks, t.Column(i).Data().Chunks()...)
		}
		chunked := arrow.NewChunked(f.Type, chunks)
		cols[i] = *arrow.NewColumn(f, chunked)
	}
	return array.NewTable(schema, cols, rows), nil
}

// fieldIndex locates a field by name, -1 when absent.
func fieldIndex(schema *arrow.Schema, name string) int {
	idxs := schema.FieldIndices(name)
	if len(idxs) == 0 {
		return -1
	}
	return idxs[0]
}

// supportedType reports whether a column of this type can ride through
// ingest, reconciliation and shuffling. Timestamps must carry second
// resolution; other units do not survive the widening rules.
func supportedType(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT64, arrow.UINT64, arrow.FLOAT64, arrow.STRING, arrow.BOOL:
		return true
	case arrow.TIMESTAMP:
		return dt.(*arrow.TimestampType).Unit == arrow.Second
	}
	return false
}

// checkColumnTypes rejects a table holding any column type the pipeline
// cannot carry.
func checkColumnTypes(schema *arrow.Schema) error {
	for _, f := range schema.Fields() {
		if !supportedType(f.Type) {
			return errors.New(ErrUnsupportedCast, fmt.Sprintf("column %q has unsupported type %s", f.Name, f.Type))
		}
	}
	return nil
}

// keyAt reads row i of a chunk as a VertexKey. Only int64 and utf8
// columns hold vertex identifiers.
func keyAt(arr arrow.Array, i int) (VertexKey, error) {
	if arr.IsNull(i) {
		return VertexKey{}, errors.New(ErrIOError, "null value in vertex id column")
	}
	switch a := arr.(type) {
	case *array.Int64:
		return Int64Key(a.Value(i)), nil
	case *array.String:
		return StringKey(a.Value(i)), nil
	}
	return VertexKey{}, NewErrInvalidOperation(fmt.Sprintf("vertex id column has type %s, want int64 or utf8", arr.DataType()))
}

// appendValue copies row i of arr onto b. The builder must have been
// created for arr's type.
func appendValue(b array.Builder, arr arrow.Array, i int) error {
	if arr.IsNull(i) {
		b.AppendNull()
		return nil
	}
	switch a := arr.(type) {
	case *array.Int64:
		b.(*array.Int64Builder).Append(a.Value(i))
	case *array.Uint64:
		b.(*array.Uint64Builder).Append(a.Value(i))
	case *array.Float64:
		b.(*array.Float64Builder).Append(a.Value(i))
	case *array.String:
		b.(*array.StringBuilder).Append(a.Value(i))
	case *array.Boolean:
		b.(*array.BooleanBuilder).Append(a.Value(i))
	case *array.Timestamp:
		b.(*array.TimestampBuilder).Append(a.Value(i))
	default:
		return NewErrInvalidOperation(fmt.Sprintf("cannot copy values of type %s", arr.DataType()))
	}
	return nil
}

// chunkCursor walks one column's rows across its chunk boundaries.
// Columns of the same table may chunk differently, so row-aligned loops
// keep one cursor per column.
type chunkCursor struct {
	chunks []arrow.Array
	ci     int
	off    int
}

func newChunkCursor(chunked *arrow.Chunked) *chunkCursor {
	return &chunkCursor{chunks: chunked.Chunks()}
}

// next returns the chunk and in-chunk index holding the cursor's current
// row and advances past it. Calling next more than NumRows times panics.
func (c *chunkCursor) next() (arrow.Array, int) {
	for c.off >= c.chunks[c.ci].Len() {
		c.ci++
		c.off = 0
	}
	arr, i := c.chunks[c.ci], c.off
	c.off++
	return arr, i
}
