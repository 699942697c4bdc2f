// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0

// Package gravel loads property graphs into distributed fragments.
//
// A loading group runs one worker per graph partition. Each worker reads
// its shard of every input source, the group reconciles column schemas and
// assigns dense global vertex ids collectively, rows are shuffled to the
// partitions that own them, and every worker seals one immutable Fragment
// object into the shared object store. A final collective step publishes a
// FragmentGroup directory describing the whole graph.
//
// The package depends on three collaborators, all injected: a store.Store
// holding sealed objects, a comm.Communicator carrying the collective
// exchanges, and an Opener producing arrow tables from source descriptors
// (see package source for the file-backed one).
package gravel

import (
	"context"

	"github.com/apache/arrow/go/v10/arrow"
)

// Table roles, carried in table metadata under MetaType.
const (
	RoleVertex = "VERTEX"
	RoleEdge   = "EDGE"
)

// Metadata keys attached to ingested tables. The keys and their meanings
// are a wire contract: fragments sealed by one version remain readable by
// another.
const (
	MetaType        = "type"
	MetaLabel       = "label"
	MetaIDColumn    = "id_column"
	MetaSrcColumn   = "src_column"
	MetaDstColumn   = "dst_column"
	MetaSrcLabelID  = "src_label_id"
	MetaDstLabelID  = "dst_label_id"
	MetaSubLabelNum = "sub_label_num"
	MetaLabelIndex  = "label_index"
	MetaPrimaryKey  = "primary_key"
)

// Source tags the loader interprets from Opener metadata.
const (
	TagLabel      = "label"
	TagSrcLabel   = "src_label"
	TagDstLabel   = "dst_label"
	TagPrimaryKey = "primary_key"
)

// Opener produces one worker's shard of a source as an arrow table. A nil
// table with a nil error means the shard holds no rows. Implementations
// must be deterministic: the same descriptor, shard and shardCount yield
// the same rows.
type Opener interface {
	Open(ctx context.Context, desc string, shard, shardCount int) (arrow.Table, error)
	Metadata(desc string) (map[string]string, error)
}
