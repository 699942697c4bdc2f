// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
)

// KeySet collects the distinct vertex keys of one label in first-seen
// order, pinning the arrow type the keys arrived as. Label inference
// builds one per inferred label from edge endpoint columns.
type KeySet struct {
	dtype arrow.DataType
	seen  map[VertexKey]struct{}
	order []VertexKey
}

func NewKeySet() *KeySet {
	return &KeySet{seen: map[VertexKey]struct{}{}}
}

// InsertColumn adds every value of the column to the set. A zero-row
// column still pins the type, so empty shards keep workers type-aligned.
// Columns of two different types for one label cannot be merged.
func (ks *KeySet) InsertColumn(chunked *arrow.Chunked) error {
	dt := chunked.DataType()
	switch dt.ID() {
	case arrow.INT64, arrow.STRING:
	default:
		return NewErrInvalidOperation(fmt.Sprintf("vertex keys must be int64 or utf8, got %s", dt))
	}
	if ks.dtype == nil {
		ks.dtype = dt
	} else if !arrow.TypeEqual(ks.dtype, dt) {
		return NewErrUnsupportedCast(ks.dtype, dt)
	}
	for _, chunk := range chunked.Chunks() {
		for i := 0; i < chunk.Len(); i++ {
			k, err := keyAt(chunk, i)
			if err != nil {
				return err
			}
			ks.Insert(k)
		}
	}
	return nil
}

// Insert adds one key, keeping first-seen order.
func (ks *KeySet) Insert(k VertexKey) {
	if _, ok := ks.seen[k]; ok {
		return
	}
	ks.seen[k] = struct{}{}
	ks.order = append(ks.order, k)
}

func (ks *KeySet) Len() int { return len(ks.order) }

// Type returns the pinned arrow type, nil before any column arrived.
func (ks *KeySet) Type() arrow.DataType { return ks.dtype }

// Keys returns the distinct keys in first-seen order. The slice is the
// set's backing array, not a copy.
func (ks *KeySet) Keys() []VertexKey { return ks.order }

// NewArray renders the set as one arrow array of the pinned type.
func (ks *KeySet) NewArray(mem memory.Allocator) (arrow.Array, error) {
	if ks.dtype == nil {
		return nil, NewErrInvalidOperation("key set never saw a column, its type is unknown")
	}
	switch ks.dtype.ID() {
	case arrow.INT64:
		b := array.NewInt64Builder(mem)
		b.Reserve(len(ks.order))
		for _, k := range ks.order {
			b.Append(k.Int64())
		}
		return b.NewArray(), nil
	default:
		b := array.NewStringBuilder(mem)
		for _, k := range ks.order {
			b.Append(k.Str())
		}
		return b.NewArray(), nil
	}
}
