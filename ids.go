// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strconv"
)

// VertexKey is a vertex's original identifier as read from input data.
// Keys come in two kinds, 64-bit integers and strings; a key is usable as
// a map key and compares equal only to a key of the same kind and value.
type VertexKey struct {
	s     string
	i     int64
	isInt bool
}

// Int64Key returns the integer key v.
func Int64Key(v int64) VertexKey {
	return VertexKey{i: v, isInt: true}
}

// StringKey returns the string key s.
func StringKey(s string) VertexKey {
	return VertexKey{s: s}
}

// IsInt reports whether the key is the integer kind.
func (k VertexKey) IsInt() bool { return k.isInt }

// Int64 returns the integer value; zero for string keys.
func (k VertexKey) Int64() int64 { return k.i }

// Str returns the string value; empty for integer keys.
func (k VertexKey) Str() string { return k.s }

func (k VertexKey) String() string {
	if k.isInt {
		return strconv.FormatInt(k.i, 10)
	}
	return k.s
}

// Bytes returns the canonical hash input for the key: the 8-byte
// little-endian encoding for integers, the raw bytes for strings. This
// encoding is pinned; partition assignment hashes it.
func (k VertexKey) Bytes() []byte {
	if k.isInt {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(k.i))
		return b[:]
	}
	return []byte(k.s)
}

// less orders keys of the same kind; integer keys sort before string keys
// so mixed slices still have a total order.
func (k VertexKey) less(o VertexKey) bool {
	if k.isInt != o.isInt {
		return k.isInt
	}
	if k.isInt {
		return k.i < o.i
	}
	return k.s < o.s
}

// VID is a dense global vertex id: partition in the high bits, then an
// 8-bit label, then a per-(partition,label) offset.
type VID uint64

const labelBits = 8

// VIDLayout fixes how many bits of a VID each component occupies. The
// layout is derived from the partition and label counts at load time and
// recorded with the fragment, so ids from one load decode consistently.
type VIDLayout struct {
	partitions    int
	labels        int
	partitionBits uint
}

// NewVIDLayout returns the layout for the given partition and label
// counts.
func NewVIDLayout(partitions, labels int) (VIDLayout, error) {
	if partitions < 1 {
		return VIDLayout{}, NewErrInvalidOperation(fmt.Sprintf("vid layout needs at least one partition, got %d", partitions))
	}
	if labels < 1 || labels > 1<<labelBits {
		return VIDLayout{}, NewErrInvalidOperation(fmt.Sprintf("vid layout supports 1 to %d labels, got %d", 1<<labelBits, labels))
	}
	pb := uint(bits.Len(uint(partitions - 1)))
	if pb+labelBits > 32 {
		return VIDLayout{}, NewErrInvalidOperation(fmt.Sprintf("%d partitions leave too few offset bits", partitions))
	}
	return VIDLayout{partitions: partitions, labels: labels, partitionBits: pb}, nil
}

// Partitions returns the partition count the layout was built for.
func (vl VIDLayout) Partitions() int { return vl.partitions }

// Labels returns the label count the layout was built for.
func (vl VIDLayout) Labels() int { return vl.labels }

// Encode packs the components into a VID. Components are trusted to be in
// range; the builder that assigns offsets enforces the bounds.
func (vl VIDLayout) Encode(partition, label int, offset uint64) VID {
	v := uint64(partition)<<(64-vl.partitionBits) |
		uint64(label)<<(64-vl.partitionBits-labelBits)
	return VID(v | offset)
}

// Partition extracts the owning partition.
func (vl VIDLayout) Partition(v VID) int {
	if vl.partitionBits == 0 {
		return 0
	}
	return int(uint64(v) >> (64 - vl.partitionBits))
}

// Label extracts the vertex label index.
func (vl VIDLayout) Label(v VID) int {
	return int(uint64(v) >> (64 - vl.partitionBits - labelBits) & (1<<labelBits - 1))
}

// Offset extracts the per-(partition,label) offset.
func (vl VIDLayout) Offset(v VID) uint64 {
	return uint64(v) & (1<<(64-vl.partitionBits-labelBits) - 1)
}
