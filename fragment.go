// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/gomem/gomem/pkg/dataframe"
	"golang.org/x/exp/slices"

	"github.com/graveldb/gravel/errors"
	"github.com/graveldb/gravel/store"
)

// KindFragment marks sealed fragment objects.
const KindFragment = "fragment"

// Property describes one column of a vertex or edge table.
type Property struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Relation is one (source label, destination label) pair an edge label
// connects.
type Relation struct {
	SrcLabel string `json:"src_label"`
	DstLabel string `json:"dst_label"`
}

// VertexEntry describes one vertex label of the graph.
type VertexEntry struct {
	Label      string     `json:"label"`
	LabelIndex int        `json:"label_index"`
	PrimaryKey string     `json:"primary_key"`
	Properties []Property `json:"properties"`
}

// EdgeEntry describes one edge label of the graph.
type EdgeEntry struct {
	Label      string     `json:"label"`
	LabelIndex int        `json:"label_index"`
	Relations  []Relation `json:"relations"`
	Properties []Property `json:"properties"`
}

// GraphSchema is the label catalog of a loaded graph. Label names and
// label indexes map one to one in both directions; every fragment of a
// load carries the same catalog.
type GraphSchema struct {
	Partitions int           `json:"partitions"`
	Directed   bool          `json:"directed"`
	Vertices   []VertexEntry `json:"vertices"`
	Edges      []EdgeEntry   `json:"edges"`
}

// Fragment is one partition's share of the graph: the partition's vertex
// table per vertex label and its incident edge table per edge label,
// with every edge endpoint already resolved to a global id.
type Fragment struct {
	schema    GraphSchema
	partition int
	loadID    string
	vmID      store.ObjectID
	vtables   []arrow.Table
	etables   []arrow.Table
}

// assembleFragment binds one partition's shuffled tables into a
// fragment. The tables' own label metadata is the source of truth here:
// positions must match the tagged label indexes, and names must map to
// indexes bijectively. etables holds, per edge label, the shuffled
// tables of that label's sub-labels, which are merged.
func assembleFragment(partition, partitions int, directed bool, loadID string, vmID store.ObjectID, vtables []arrow.Table, etables [][]arrow.Table) (*Fragment, error) {
	gs := GraphSchema{
		Partitions: partitions,
		Directed:   directed,
		Vertices:   make([]VertexEntry, len(vtables)),
		Edges:      make([]EdgeEntry, len(etables)),
	}

	seenV := map[string]int{}
	for l, tbl := range vtables {
		name := tableMeta(tbl, MetaLabel)
		if name == "" {
			return nil, errors.New(ErrLabelIndexConflict, fmt.Sprintf("vertex table at index %d has no label name", l))
		}
		idx, err := strconv.Atoi(tableMeta(tbl, MetaLabelIndex))
		if err != nil || idx != l {
			return nil, errors.New(ErrLabelIndexConflict, fmt.Sprintf("vertex label %q tagged with index %q at position %d", name, tableMeta(tbl, MetaLabelIndex), l))
		}
		if prev, ok := seenV[name]; ok {
			return nil, errors.New(ErrLabelIndexConflict, fmt.Sprintf("vertex label %q mapped to indexes %d and %d", name, prev, l))
		}
		seenV[name] = l

		idCol, err := strconv.Atoi(tableMeta(tbl, MetaIDColumn))
		if err != nil || idCol < 0 || idCol >= int(tbl.NumCols()) {
			return nil, errors.New(ErrMissingLabelMetadata, fmt.Sprintf("vertex label %q carries no id column position", name))
		}
		pk := tableMeta(tbl, MetaPrimaryKey)
		if pk == "" {
			pk = tbl.Schema().Field(idCol).Name
		}
		gs.Vertices[l] = VertexEntry{
			Label:      name,
			LabelIndex: l,
			PrimaryKey: pk,
			Properties: tableProperties(tbl),
		}
	}

	merged := make([]arrow.Table, len(etables))
	seenE := map[string]int{}
	for e, subs := range etables {
		if len(subs) == 0 {
			return nil, errors.New(ErrLabelIndexConflict, fmt.Sprintf("edge label at index %d has no tables", e))
		}
		name := tableMeta(subs[0], MetaLabel)
		if name == "" {
			return nil, errors.New(ErrLabelIndexConflict, fmt.Sprintf("edge table at index %d has no label name", e))
		}
		if prev, ok := seenE[name]; ok {
			return nil, errors.New(ErrLabelIndexConflict, fmt.Sprintf("edge label %q mapped to indexes %d and %d", name, prev, e))
		}
		seenE[name] = e

		var rels []Relation
		for _, sub := range subs {
			idx, err := strconv.Atoi(tableMeta(sub, MetaLabelIndex))
			if err != nil || idx != e {
				return nil, errors.New(ErrLabelIndexConflict, fmt.Sprintf("edge label %q tagged with index %q at position %d", name, tableMeta(sub, MetaLabelIndex), e))
			}
			si, serr := strconv.Atoi(tableMeta(sub, MetaSrcLabelID))
			di, derr := strconv.Atoi(tableMeta(sub, MetaDstLabelID))
			if serr != nil || derr != nil {
				return nil, errors.New(ErrMissingLabelMetadata, fmt.Sprintf("edge label %q carries no endpoint label ids", name))
			}
			if si < 0 || si >= len(gs.Vertices) || di < 0 || di >= len(gs.Vertices) {
				return nil, errors.New(ErrLabelIndexConflict, fmt.Sprintf("edge label %q references a vertex label index out of range", name))
			}
			r := Relation{SrcLabel: gs.Vertices[si].Label, DstLabel: gs.Vertices[di].Label}
			if !slices.Contains(rels, r) {
				rels = append(rels, r)
			}
		}
		slices.SortFunc(rels, func(a, b Relation) bool {
			if a.SrcLabel != b.SrcLabel {
				return a.SrcLabel < b.SrcLabel
			}
			return a.DstLabel < b.DstLabel
		})

		srcCol, serr := strconv.Atoi(tableMeta(subs[0], MetaSrcColumn))
		dstCol, derr := strconv.Atoi(tableMeta(subs[0], MetaDstColumn))
		if serr != nil || derr != nil {
			return nil, errors.New(ErrMissingLabelMetadata, fmt.Sprintf("edge label %q carries no endpoint column positions", name))
		}

		tbl, err := mergeTables(subs)
		if err != nil {
			return nil, errors.Wrapf(err, "edge label %q", name)
		}
		merged[e] = tbl
		gs.Edges[e] = EdgeEntry{
			Label:      name,
			LabelIndex: e,
			Relations:  rels,
			Properties: tableProperties(tbl, srcCol, dstCol),
		}
	}

	return &Fragment{
		schema:    gs,
		partition: partition,
		loadID:    loadID,
		vmID:      vmID,
		vtables:   vtables,
		etables:   merged,
	}, nil
}

func tableProperties(tbl arrow.Table, skip ...int) []Property {
	var props []Property
	for i, f := range tbl.Schema().Fields() {
		if slices.Contains(skip, i) {
			continue
		}
		props = append(props, Property{Name: f.Name, Type: f.Type.String()})
	}
	return props
}

// Schema returns the label catalog.
func (f *Fragment) Schema() GraphSchema { return f.schema }

// Partition returns the partition this fragment holds.
func (f *Fragment) Partition() int { return f.partition }

// LoadID identifies the load that produced the fragment.
func (f *Fragment) LoadID() string { return f.loadID }

// VertexMapID returns the handle of the vertex map sealed alongside the
// fragment.
func (f *Fragment) VertexMapID() store.ObjectID { return f.vmID }

// VertexTable returns the partition's table for a vertex label, nil when
// the label is unknown.
func (f *Fragment) VertexTable(label string) arrow.Table {
	for l, e := range f.schema.Vertices {
		if e.Label == label {
			return f.vtables[l]
		}
	}
	return nil
}

// EdgeTable returns the partition's table for an edge label, nil when
// the label is unknown.
func (f *Fragment) EdgeTable(label string) arrow.Table {
	for l, e := range f.schema.Edges {
		if e.Label == label {
			return f.etables[l]
		}
	}
	return nil
}

// VertexDataFrame wraps a vertex label's table for column-wise work.
func (f *Fragment) VertexDataFrame(mem memory.Allocator, label string) (*dataframe.DataFrame, error) {
	tbl := f.VertexTable(label)
	if tbl == nil {
		return nil, NewErrInvalidOperation(fmt.Sprintf("no vertex label %q in this fragment", label))
	}
	return dataframe.NewDataFrameFromTable(mem, tbl)
}

// EdgeDataFrame wraps an edge label's table for column-wise work.
func (f *Fragment) EdgeDataFrame(mem memory.Allocator, label string) (*dataframe.DataFrame, error) {
	tbl := f.EdgeTable(label)
	if tbl == nil {
		return nil, NewErrInvalidOperation(fmt.Sprintf("no edge label %q in this fragment", label))
	}
	return dataframe.NewDataFrameFromTable(mem, tbl)
}

// fragmentHeader is frame zero of a sealed fragment's payload.
type fragmentHeader struct {
	Schema    GraphSchema    `json:"schema"`
	Partition int            `json:"partition"`
	LoadID    string         `json:"load_id"`
	VertexMap store.ObjectID `json:"vertex_map"`
}

// Seal writes the fragment to the store. The payload is a frame bundle:
// a JSON header, then one table stream per vertex label, then one per
// edge label, both in label index order.
func (f *Fragment) Seal(ctx context.Context, st store.Store) (store.ObjectID, error) {
	header, err := json.Marshal(fragmentHeader{
		Schema:    f.schema,
		Partition: f.partition,
		LoadID:    f.loadID,
		VertexMap: f.vmID,
	})
	if err != nil {
		return 0, errors.Wrap(err, "encoding fragment header")
	}
	frames := [][]byte{header}
	for l, tbl := range f.vtables {
		b, err := encodeTable(tbl)
		if err != nil {
			return 0, errors.Wrapf(err, "vertex label %q", f.schema.Vertices[l].Label)
		}
		frames = append(frames, b)
	}
	for l, tbl := range f.etables {
		b, err := encodeTable(tbl)
		if err != nil {
			return 0, errors.Wrapf(err, "edge label %q", f.schema.Edges[l].Label)
		}
		frames = append(frames, b)
	}
	return st.Seal(ctx, store.Object{
		Kind: KindFragment,
		Meta: map[string]string{
			"partition":     strconv.Itoa(f.partition),
			"partitions":    strconv.Itoa(f.schema.Partitions),
			"directed":      strconv.FormatBool(f.schema.Directed),
			"load_id":       f.loadID,
			"vertex_map":    f.vmID.String(),
			"vertex_labels": strconv.Itoa(len(f.vtables)),
			"edge_labels":   strconv.Itoa(len(f.etables)),
		},
		Payload: encodeFrames(frames),
	})
}

// DecodeFragment rebuilds a fragment sealed by Seal.
func DecodeFragment(mem memory.Allocator, obj store.Object) (*Fragment, error) {
	if obj.Kind != KindFragment {
		return nil, NewErrInvalidOperation(fmt.Sprintf("object %s is a %q, not a fragment", obj.ID, obj.Kind))
	}
	frames, err := decodeFrames(obj.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "fragment %s", obj.ID)
	}
	if len(frames) == 0 {
		return nil, errors.New(ErrIOError, fmt.Sprintf("fragment %s has no header", obj.ID))
	}
	var header fragmentHeader
	if err := json.Unmarshal(frames[0], &header); err != nil {
		return nil, errors.New(ErrIOError, fmt.Sprintf("fragment %s header: %v", obj.ID, err))
	}
	want := 1 + len(header.Schema.Vertices) + len(header.Schema.Edges)
	if len(frames) != want {
		return nil, errors.New(ErrIOError, fmt.Sprintf("fragment %s holds %d frames, want %d", obj.ID, len(frames), want))
	}

	f := &Fragment{
		schema:    header.Schema,
		partition: header.Partition,
		loadID:    header.LoadID,
		vmID:      header.VertexMap,
		vtables:   make([]arrow.Table, len(header.Schema.Vertices)),
		etables:   make([]arrow.Table, len(header.Schema.Edges)),
	}
	for l := range f.vtables {
		if f.vtables[l], err = decodeTable(mem, frames[1+l]); err != nil {
			return nil, errors.Wrapf(err, "fragment %s vertex label %q", obj.ID, header.Schema.Vertices[l].Label)
		}
	}
	for l := range f.etables {
		if f.etables[l], err = decodeTable(mem, frames[1+len(f.vtables)+l]); err != nil {
			return nil, errors.Wrapf(err, "fragment %s edge label %q", obj.ID, header.Schema.Edges[l].Label)
		}
	}
	return f, nil
}
