// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"sort"

	"github.com/cespare/xxhash"
	"golang.org/x/exp/slices"
)

// PartitionStrategy selects how vertex keys map to partitions.
type PartitionStrategy string

const (
	StrategyHash  PartitionStrategy = "hash"
	StrategyRange PartitionStrategy = "range"
)

// Partitioner maps vertex keys to partitions. Implementations are pure:
// a key lands on the same partition on every worker and on every call.
type Partitioner interface {
	PartitionCount() int
	Assign(key VertexKey) int
}

// HashPartitioner assigns keys by xxhash over the key's canonical byte
// form. Both the byte form and the hash are pinned: every worker of a
// group, and anything else predicting placement, must agree on them.
type HashPartitioner struct {
	partitions int
}

func NewHashPartitioner(partitions int) *HashPartitioner {
	return &HashPartitioner{partitions: partitions}
}

func (p *HashPartitioner) PartitionCount() int { return p.partitions }

func (p *HashPartitioner) Assign(key VertexKey) int {
	return int(xxhash.Sum64(key.Bytes()) % uint64(p.partitions))
}

// RangePartitioner splits the sorted key space into contiguous runs
// holding near-equal shares of the sampled keys. Range splits only make
// sense over keys of a single kind.
type RangePartitioner struct {
	partitions int
	splitters  []VertexKey
}

// NewRangePartitioner derives split points from a sample of the keys to
// be placed. An empty sample leaves a single run, sending every key to
// partition zero.
func NewRangePartitioner(sample []VertexKey, partitions int) (*RangePartitioner, error) {
	for _, k := range sample {
		if k.IsInt() != sample[0].IsInt() {
			return nil, NewErrInvalidOperation("range partitioning needs keys of a single type, got both int64 and utf8")
		}
	}
	keys := slices.Clone(sample)
	slices.SortFunc(keys, VertexKey.less)

	splitters := make([]VertexKey, 0, partitions-1)
	if len(keys) > 0 {
		for i := 1; i < partitions; i++ {
			splitters = append(splitters, keys[len(keys)*i/partitions])
		}
	}
	return &RangePartitioner{partitions: partitions, splitters: splitters}, nil
}

func (p *RangePartitioner) PartitionCount() int { return p.partitions }

// Assign places key on the run it sorts into: the index of the first
// splitter above it.
func (p *RangePartitioner) Assign(key VertexKey) int {
	return sort.Search(len(p.splitters), func(i int) bool {
		return key.less(p.splitters[i])
	})
}
