// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"context"
	"fmt"
	"strconv"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"

	"github.com/graveldb/gravel/comm"
	"github.com/graveldb/gravel/errors"
	"github.com/graveldb/gravel/store"
)

// KindVertexMap marks sealed vertex map objects.
const KindVertexMap = "vertexmap"

// VertexMap assigns every distinct vertex key a global id and remembers
// the assignment. Each worker builds the map from the same gathered key
// data in the same order, so the maps agree everywhere without further
// exchange: a key's id is decided by the first worker rank, then the
// first row, it appeared at.
type VertexMap struct {
	layout VIDLayout
	labels []string
	ktypes []arrow.DataType
	keys   [][]VertexKey
	maps   []map[VertexKey]VID
	counts [][]uint64
}

func newVertexMap(layout VIDLayout, labels []string, ktypes []arrow.DataType) *VertexMap {
	vm := &VertexMap{
		layout: layout,
		labels: labels,
		ktypes: ktypes,
		keys:   make([][]VertexKey, len(labels)),
		maps:   make([]map[VertexKey]VID, len(labels)),
		counts: make([][]uint64, layout.Partitions()),
	}
	for l := range vm.maps {
		vm.maps[l] = map[VertexKey]VID{}
	}
	for p := range vm.counts {
		vm.counts[p] = make([]uint64, len(labels))
	}
	return vm
}

// buildVertexMap runs the id-assignment collective: every worker
// publishes its distinct local keys per label, and every worker replays
// the gathered keys in rank order to assign ids. idColumns holds each
// label's reconciled id column; empty columns still carry the key type.
func buildVertexMap(ctx context.Context, c comm.Communicator, part Partitioner, labels []string, idColumns []*arrow.Chunked, mem memory.Allocator) (*VertexMap, error) {
	layout, err := NewVIDLayout(part.PartitionCount(), len(labels))
	if err != nil {
		return nil, err
	}

	frames := make([][]byte, len(labels))
	ktypes := make([]arrow.DataType, len(labels))
	localErr := func() error {
		for l := range labels {
			ks := NewKeySet()
			if err := ks.InsertColumn(idColumns[l]); err != nil {
				return errors.Wrapf(err, "label %q id column", labels[l])
			}
			ktypes[l] = ks.Type()
			arr, err := ks.NewArray(mem)
			if err != nil {
				return errors.Wrapf(err, "label %q id column", labels[l])
			}
			schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: ks.Type()}}, nil)
			rec := array.NewRecord(schema, []arrow.Array{arr}, int64(arr.Len()))
			tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
			frames[l], err = encodeTable(tbl)
			if err != nil {
				return errors.Wrapf(err, "label %q id column", labels[l])
			}
		}
		return nil
	}()
	if err := groupCheck(ctx, c, "collecting vertex ids", localErr); err != nil {
		return nil, err
	}

	gathered, err := c.AllGather(ctx, encodeFrames(frames))
	if err != nil {
		return nil, errors.Wrap(err, "exchanging vertex ids")
	}

	vm := newVertexMap(layout, labels, ktypes)
	for rank := range gathered {
		workerFrames, err := decodeFrames(gathered[rank])
		if err != nil {
			return nil, errors.Wrapf(err, "vertex ids from worker %d", rank)
		}
		if len(workerFrames) != len(labels) {
			return nil, errors.New(ErrIOError, fmt.Sprintf("worker %d sent ids for %d labels, want %d", rank, len(workerFrames), len(labels)))
		}
		for l := range labels {
			tbl, err := decodeTable(mem, workerFrames[l])
			if err != nil {
				return nil, errors.Wrapf(err, "vertex ids from worker %d", rank)
			}
			for _, chunk := range tbl.Column(0).Data().Chunks() {
				for i := 0; i < chunk.Len(); i++ {
					k, err := keyAt(chunk, i)
					if err != nil {
						return nil, err
					}
					vm.assign(l, k, part)
				}
			}
		}
	}

	var total int
	for l := range vm.maps {
		total += len(vm.maps[l])
	}
	CounterVerticesMapped.Add(float64(total))
	return vm, nil
}

func (vm *VertexMap) assign(label int, k VertexKey, part Partitioner) {
	if _, ok := vm.maps[label][k]; ok {
		return
	}
	p := part.Assign(k)
	vid := vm.layout.Encode(p, label, vm.counts[p][label])
	vm.counts[p][label]++
	vm.maps[label][k] = vid
	vm.keys[label] = append(vm.keys[label], k)
}

// Resolve returns the global id assigned to key under the given label
// index.
func (vm *VertexMap) Resolve(label int, key VertexKey) (VID, error) {
	if label < 0 || label >= len(vm.maps) {
		return 0, NewErrInvalidOperation(fmt.Sprintf("label index %d out of range, map holds %d labels", label, len(vm.maps)))
	}
	vid, ok := vm.maps[label][key]
	if !ok {
		return 0, NewErrUnresolvedVertex(vm.labels[label], key)
	}
	return vid, nil
}

// Layout returns the id bit layout the map assigns under.
func (vm *VertexMap) Layout() VIDLayout { return vm.layout }

// Labels returns the label names, indexed by label id.
func (vm *VertexMap) Labels() []string { return vm.labels }

// Len returns the number of distinct keys mapped for a label.
func (vm *VertexMap) Len(label int) int { return len(vm.keys[label]) }

// LabelCount returns how many vertices of a label live on a partition.
func (vm *VertexMap) LabelCount(partition, label int) uint64 {
	return vm.counts[partition][label]
}

// Seal writes the map to the store as a self-contained object: one
// two-column table per label, keys in assignment order beside their ids.
func (vm *VertexMap) Seal(ctx context.Context, st store.Store, mem memory.Allocator) (store.ObjectID, error) {
	frames := make([][]byte, len(vm.labels))
	for l, name := range vm.labels {
		keyArr, err := newKeyArray(mem, vm.ktypes[l], vm.keys[l])
		if err != nil {
			return 0, errors.Wrapf(err, "label %q", name)
		}
		vidB := array.NewUint64Builder(mem)
		vidB.Reserve(len(vm.keys[l]))
		for _, k := range vm.keys[l] {
			vidB.Append(uint64(vm.maps[l][k]))
		}
		md := arrow.NewMetadata([]string{MetaLabel}, []string{name})
		schema := arrow.NewSchema([]arrow.Field{
			{Name: "key", Type: vm.ktypes[l]},
			{Name: "vid", Type: arrow.PrimitiveTypes.Uint64},
		}, &md)
		rec := array.NewRecord(schema, []arrow.Array{keyArr, vidB.NewArray()}, int64(len(vm.keys[l])))
		tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
		frames[l], err = encodeTable(tbl)
		if err != nil {
			return 0, errors.Wrapf(err, "label %q", name)
		}
	}
	return st.Seal(ctx, store.Object{
		Kind: KindVertexMap,
		Meta: map[string]string{
			"partitions": strconv.Itoa(vm.layout.Partitions()),
		},
		Payload: encodeFrames(frames),
	})
}

// DecodeVertexMap rebuilds a map sealed by Seal.
func DecodeVertexMap(mem memory.Allocator, obj store.Object) (*VertexMap, error) {
	if obj.Kind != KindVertexMap {
		return nil, NewErrInvalidOperation(fmt.Sprintf("object %s is a %q, not a vertex map", obj.ID, obj.Kind))
	}
	partitions, err := strconv.Atoi(obj.Meta["partitions"])
	if err != nil {
		return nil, errors.New(ErrIOError, fmt.Sprintf("vertex map %s has no partition count", obj.ID))
	}
	frames, err := decodeFrames(obj.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "vertex map %s", obj.ID)
	}
	layout, err := NewVIDLayout(partitions, len(frames))
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(frames))
	ktypes := make([]arrow.DataType, len(frames))
	tables := make([]arrow.Table, len(frames))
	for l, frame := range frames {
		tbl, err := decodeTable(mem, frame)
		if err != nil {
			return nil, errors.Wrapf(err, "vertex map %s label %d", obj.ID, l)
		}
		labels[l] = tableMeta(tbl, MetaLabel)
		ktypes[l] = tbl.Column(0).DataType()
		tables[l] = tbl
	}

	vm := newVertexMap(layout, labels, ktypes)
	for l, tbl := range tables {
		keyCur := newChunkCursor(tbl.Column(0).Data())
		vidCur := newChunkCursor(tbl.Column(1).Data())
		for row := int64(0); row < tbl.NumRows(); row++ {
			karr, ki := keyCur.next()
			varr, vi := vidCur.next()
			k, err := keyAt(karr, ki)
			if err != nil {
				return nil, err
			}
			vid := VID(varr.(*array.Uint64).Value(vi))
			vm.maps[l][k] = vid
			vm.keys[l] = append(vm.keys[l], k)
			vm.counts[layout.Partition(vid)][l]++
		}
	}
	return vm, nil
}

func newKeyArray(mem memory.Allocator, dtype arrow.DataType, keys []VertexKey) (arrow.Array, error) {
	switch dtype.ID() {
	case arrow.INT64:
		b := array.NewInt64Builder(mem)
		b.Reserve(len(keys))
		for _, k := range keys {
			b.Append(k.Int64())
		}
		return b.NewArray(), nil
	case arrow.STRING:
		b := array.NewStringBuilder(mem)
		for _, k := range keys {
			b.Append(k.Str())
		}
		return b.NewArray(), nil
	}
	return nil, NewErrInvalidOperation(fmt.Sprintf("vertex keys must be int64 or utf8, got %s", dtype))
}
