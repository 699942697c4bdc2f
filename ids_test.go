// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graveldb/gravel"
	"github.com/graveldb/gravel/errors"
)

func TestVertexKey(t *testing.T) {
	t.Run("Kinds", func(t *testing.T) {
		ik := gravel.Int64Key(42)
		assert.True(t, ik.IsInt())
		assert.Equal(t, int64(42), ik.Int64())
		assert.Equal(t, "42", ik.String())

		sk := gravel.StringKey("alice")
		assert.False(t, sk.IsInt())
		assert.Equal(t, "alice", sk.Str())
		assert.Equal(t, "alice", sk.String())
	})

	t.Run("MapKey", func(t *testing.T) {
		seen := map[gravel.VertexKey]int{}
		seen[gravel.Int64Key(7)] = 1
		seen[gravel.StringKey("7")] = 2
		assert.Len(t, seen, 2)
		assert.Equal(t, 1, seen[gravel.Int64Key(7)])
		assert.Equal(t, 2, seen[gravel.StringKey("7")])
	})

	t.Run("Bytes", func(t *testing.T) {
		tests := []struct {
			key  gravel.VertexKey
			want []byte
		}{
			{gravel.Int64Key(1), []byte{1, 0, 0, 0, 0, 0, 0, 0}},
			{gravel.Int64Key(-1), []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
			{gravel.StringKey("ab"), []byte{'a', 'b'}},
			{gravel.StringKey(""), []byte{}},
		}
		for i, test := range tests {
			t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
				assert.Equal(t, test.want, test.key.Bytes())
			})
		}
	})
}

func TestVIDLayout(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		tests := []struct {
			partitions int
			labels     int
			partition  int
			label      int
			offset     uint64
		}{
			{1, 1, 0, 0, 0},
			{1, 1, 0, 0, 12345},
			{2, 3, 1, 2, 99},
			{4, 256, 3, 255, 1<<40 - 1},
			{1000, 2, 999, 1, 7},
		}
		for i, test := range tests {
			t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
				vl, err := gravel.NewVIDLayout(test.partitions, test.labels)
				require.NoError(t, err)
				v := vl.Encode(test.partition, test.label, test.offset)
				assert.Equal(t, test.partition, vl.Partition(v))
				assert.Equal(t, test.label, vl.Label(v))
				assert.Equal(t, test.offset, vl.Offset(v))
			})
		}
	})

	t.Run("Ordered", func(t *testing.T) {
		// Within one partition and label, ids order by offset.
		vl, err := gravel.NewVIDLayout(4, 4)
		require.NoError(t, err)
		assert.Less(t, vl.Encode(2, 1, 5), vl.Encode(2, 1, 6))
		// Partition dominates label and offset.
		assert.Less(t, vl.Encode(1, 3, 100), vl.Encode(2, 0, 0))
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := gravel.NewVIDLayout(0, 1)
		assert.True(t, errors.Is(err, gravel.ErrInvalidOperation))
		_, err = gravel.NewVIDLayout(1, 0)
		assert.True(t, errors.Is(err, gravel.ErrInvalidOperation))
		_, err = gravel.NewVIDLayout(1, 257)
		assert.True(t, errors.Is(err, gravel.ErrInvalidOperation))
	})
}
