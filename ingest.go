// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/graveldb/gravel/errors"
	"github.com/graveldb/gravel/source"
)

// ingestResult is the ingestor's hand-off to the rest of the pipeline:
// fully reconciled, metadata-tagged tables. vertices is indexed by vertex
// label, edges by edge label then sub-table. When inferred is set the
// vertex tables are this worker's materialized endpoint id sets and get
// replaced by map-derived tables after the global id assignment.
type ingestResult struct {
	vertices []arrow.Table
	edges    [][]arrow.Table
	inferred bool
}

// ingest reads this worker's share of the configured inputs. All three
// modes run the same collectives in the same order on every worker, so
// the group stays aligned no matter which mode the configuration picks.
func (ld *Loader) ingest(ctx context.Context) (*ingestResult, error) {
	if len(ld.vertexTables) > 0 || len(ld.edgeTables) > 0 {
		return ld.ingestTables(ctx)
	}
	if len(ld.vertexSources) == 0 {
		return ld.ingestInferred(ctx)
	}
	return ld.ingestSources(ctx)
}

// ingestSources is the label-provided mode: every vertex and edge source
// descriptor carries its own label tags.
func (ld *Loader) ingestSources(ctx context.Context) (*ingestResult, error) {
	res := &ingestResult{}
	vlabels := map[string]int{}
	for _, src := range ld.vertexSources {
		md, err := ld.opener.Metadata(src)
		if err != nil {
			return nil, err
		}
		label := md[TagLabel]
		if label == "" {
			return nil, NewErrMissingLabelMetadata(fmt.Sprintf("vertex source %q carries no label tag", src))
		}
		if prev, ok := vlabels[label]; ok {
			return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("vertex label %q mapped to indexes %d and %d", label, prev, len(res.vertices)))
		}
		index := len(res.vertices)
		vlabels[label] = index

		tbl, err := ld.readReconciled(ctx, src, fmt.Sprintf("vertices %q", label))
		if err != nil {
			return nil, err
		}
		meta := map[string]string{
			MetaType:       RoleVertex,
			MetaLabel:      label,
			MetaLabelIndex: strconv.Itoa(index),
		}
		idCol := 0
		if pk := md[TagPrimaryKey]; pk != "" {
			if idCol = fieldIndex(tbl.Schema(), pk); idCol < 0 {
				return nil, NewErrMissingLabelMetadata(fmt.Sprintf("vertex source %q names primary key %q, which is not a column", src, pk))
			}
			meta[MetaPrimaryKey] = pk
		}
		meta[MetaIDColumn] = strconv.Itoa(idCol)
		if err := checkKeyColumn(tbl, idCol, "vertex id"); err != nil {
			return nil, err
		}
		res.vertices = append(res.vertices, withTableMeta(tbl, meta))
		CounterRowsIngested.WithLabelValues("vertex").Add(float64(tbl.NumRows()))
	}

	edges, err := ld.ingestEdgeSources(ctx, vlabels)
	if err != nil {
		return nil, err
	}
	res.edges = edges
	return res, nil
}

// ingestEdgeSources reads every edge group. One configured edge source is
// one edge label; its ';'-separated sub-sources each cover one
// (src label, dst label) pair and must agree on the label tag.
func (ld *Loader) ingestEdgeSources(ctx context.Context, vlabels map[string]int) ([][]arrow.Table, error) {
	var out [][]arrow.Table
	elabels := map[string]int{}
	for _, group := range ld.edgeSources {
		subs := source.Split(group)
		if len(subs) == 0 {
			return nil, NewErrMissingLabelMetadata(fmt.Sprintf("edge source %q holds no sub-sources", group))
		}
		label := ""
		var tables []arrow.Table
		for _, sub := range subs {
			md, err := ld.opener.Metadata(sub)
			if err != nil {
				return nil, err
			}
			if err := requireEdgeTags(sub, md); err != nil {
				return nil, err
			}
			if len(tables) == 0 {
				label = md[TagLabel]
				if prev, ok := elabels[label]; ok {
					return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("edge label %q mapped to indexes %d and %d", label, prev, len(out)))
				}
				elabels[label] = len(out)
			} else if md[TagLabel] != label {
				return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("edge source %q mixes labels %q and %q", group, label, md[TagLabel]))
			}
			srcIdx, ok := vlabels[md[TagSrcLabel]]
			if !ok {
				return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("edge source %q references vertex label %q, which no vertex source declares", sub, md[TagSrcLabel]))
			}
			dstIdx, ok := vlabels[md[TagDstLabel]]
			if !ok {
				return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("edge source %q references vertex label %q, which no vertex source declares", sub, md[TagDstLabel]))
			}

			tbl, err := ld.readReconciled(ctx, sub, fmt.Sprintf("edges %q", label))
			if err != nil {
				return nil, err
			}
			tagged, err := tagEdgeTable(tbl, label, elabels[label], srcIdx, dstIdx, len(subs))
			if err != nil {
				return nil, err
			}
			tables = append(tables, tagged)
			CounterRowsIngested.WithLabelValues("edge").Add(float64(tbl.NumRows()))
		}
		out = append(out, tables)
	}
	return out, nil
}

// ingestInferred is the label-inferred mode: no vertex sources exist, so
// the vertex label set is derived from the src/dst label tags of every
// edge sub-source. Every worker scans the full metadata, not just its
// shard, so the lexicographic label ordering is identical everywhere.
// While reading its edge shards each worker accumulates the distinct
// endpoint ids per label; the id sets become this worker's vertex tables.
func (ld *Loader) ingestInferred(ctx context.Context) (*ingestResult, error) {
	type subMeta struct {
		desc string
		src  string
		dst  string
	}
	var groups [][]subMeta
	var groupLabels []string
	elabels := map[string]int{}
	seen := map[string]bool{}
	for _, group := range ld.edgeSources {
		subs := source.Split(group)
		if len(subs) == 0 {
			return nil, NewErrMissingLabelMetadata(fmt.Sprintf("edge source %q holds no sub-sources", group))
		}
		label := ""
		var metas []subMeta
		for _, sub := range subs {
			md, err := ld.opener.Metadata(sub)
			if err != nil {
				return nil, err
			}
			if err := requireEdgeTags(sub, md); err != nil {
				return nil, err
			}
			if len(metas) == 0 {
				label = md[TagLabel]
				if prev, ok := elabels[label]; ok {
					return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("edge label %q mapped to indexes %d and %d", label, prev, len(groups)))
				}
				elabels[label] = len(groups)
			} else if md[TagLabel] != label {
				return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("edge source %q mixes labels %q and %q", group, label, md[TagLabel]))
			}
			seen[md[TagSrcLabel]] = true
			seen[md[TagDstLabel]] = true
			metas = append(metas, subMeta{desc: sub, src: md[TagSrcLabel], dst: md[TagDstLabel]})
		}
		groups = append(groups, metas)
		groupLabels = append(groupLabels, label)
	}

	names := maps.Keys(seen)
	slices.Sort(names)
	vlabels := make(map[string]int, len(names))
	for i, name := range names {
		vlabels[name] = i
	}
	keysets := make([]*KeySet, len(names))
	for i := range keysets {
		keysets[i] = NewKeySet()
	}

	res := &ingestResult{inferred: true}
	for gi, metas := range groups {
		var tables []arrow.Table
		for _, m := range metas {
			tbl, err := ld.readReconciled(ctx, m.desc, fmt.Sprintf("edges %q", groupLabels[gi]))
			if err != nil {
				return nil, err
			}
			tagged, err := tagEdgeTable(tbl, groupLabels[gi], gi, vlabels[m.src], vlabels[m.dst], len(metas))
			if err != nil {
				return nil, err
			}
			if err := keysets[vlabels[m.src]].InsertColumn(tbl.Column(0).Data()); err != nil {
				return nil, errors.Wrapf(err, "vertex label %q", m.src)
			}
			if err := keysets[vlabels[m.dst]].InsertColumn(tbl.Column(1).Data()); err != nil {
				return nil, errors.Wrapf(err, "vertex label %q", m.dst)
			}
			tables = append(tables, tagged)
			CounterRowsIngested.WithLabelValues("edge").Add(float64(tbl.NumRows()))
		}
		res.edges = append(res.edges, tables)
	}

	for i, name := range names {
		arr, err := keysets[i].NewArray(ld.mem)
		if err != nil {
			return nil, errors.Wrapf(err, "vertex label %q", name)
		}
		res.vertices = append(res.vertices, keyTable(name, i, arr))
	}
	return res, nil
}

// ingestTables is the in-memory mode: the caller hands over one table per
// vertex label and one sub-table list per edge label, tagged through
// schema metadata the same way file sources are tagged. The tables still
// run the schema exchange so shards that disagree on a column type get
// reconciled exactly like file shards.
func (ld *Loader) ingestTables(ctx context.Context) (*ingestResult, error) {
	if len(ld.vertexTables) == 0 {
		return nil, NewErrInvalidOperation("in-memory loading needs vertex tables, labels cannot be inferred from tables")
	}
	if err := groupCheck(ctx, ld.comm, "validating in-memory tables", ld.checkTables()); err != nil {
		return nil, err
	}
	if err := ld.checkManifests(ctx); err != nil {
		return nil, err
	}

	res := &ingestResult{}
	vlabels := map[string]int{}
	for i, tbl := range ld.vertexTables {
		label := tableMeta(tbl, MetaLabel)
		if prev, ok := vlabels[label]; ok {
			return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("vertex label %q mapped to indexes %d and %d", label, prev, i))
		}
		vlabels[label] = i

		rec, err := ld.reconcileTable(ctx, fmt.Sprintf("vertices %q", label), tbl)
		if err != nil {
			return nil, err
		}
		meta := map[string]string{
			MetaType:       RoleVertex,
			MetaLabel:      label,
			MetaLabelIndex: strconv.Itoa(i),
		}
		idCol := 0
		if v := tableMeta(tbl, MetaIDColumn); v != "" {
			if idCol, err = strconv.Atoi(v); err != nil || idCol < 0 || idCol >= int(rec.NumCols()) {
				return nil, NewErrMissingLabelMetadata(fmt.Sprintf("vertex table %q has unusable id column metadata %q", label, v))
			}
		} else if pk := tableMeta(tbl, TagPrimaryKey); pk != "" {
			if idCol = fieldIndex(rec.Schema(), pk); idCol < 0 {
				return nil, NewErrMissingLabelMetadata(fmt.Sprintf("vertex table %q names primary key %q, which is not a column", label, pk))
			}
			meta[MetaPrimaryKey] = pk
		}
		meta[MetaIDColumn] = strconv.Itoa(idCol)
		if err := checkKeyColumn(rec, idCol, "vertex id"); err != nil {
			return nil, err
		}
		res.vertices = append(res.vertices, withTableMeta(rec, meta))
		CounterRowsIngested.WithLabelValues("vertex").Add(float64(rec.NumRows()))
	}

	elabels := map[string]int{}
	for li, subs := range ld.edgeTables {
		label := tableMeta(subs[0], MetaLabel)
		if prev, ok := elabels[label]; ok {
			return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("edge label %q mapped to indexes %d and %d", label, prev, li))
		}
		elabels[label] = li

		var tables []arrow.Table
		for si, tbl := range subs {
			if got := tableMeta(tbl, MetaLabel); got != label {
				return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("edge label %d mixes labels %q and %q", li, label, got))
			}
			src, ok := vlabels[tableMeta(tbl, TagSrcLabel)]
			if !ok {
				return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("edge table %q sub %d references vertex label %q, which no vertex table declares", label, si, tableMeta(tbl, TagSrcLabel)))
			}
			dst, ok := vlabels[tableMeta(tbl, TagDstLabel)]
			if !ok {
				return nil, errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("edge table %q sub %d references vertex label %q, which no vertex table declares", label, si, tableMeta(tbl, TagDstLabel)))
			}
			rec, err := ld.reconcileTable(ctx, fmt.Sprintf("edges %q", label), tbl)
			if err != nil {
				return nil, err
			}
			tagged, err := tagEdgeTable(rec, label, li, src, dst, len(subs))
			if err != nil {
				return nil, err
			}
			tables = append(tables, tagged)
			CounterRowsIngested.WithLabelValues("edge").Add(float64(rec.NumRows()))
		}
		res.edges = append(res.edges, tables)
	}
	return res, nil
}

// checkTables validates the caller-supplied tables locally. The result
// feeds a group check, so a worker holding a bad table takes the whole
// group down instead of leaving peers blocked in the schema exchange.
func (ld *Loader) checkTables() error {
	for i, tbl := range ld.vertexTables {
		if tbl == nil {
			return NewErrInvalidOperation(fmt.Sprintf("vertex table %d is nil, a zero-row table stands in for an empty shard", i))
		}
		if tableMeta(tbl, MetaLabel) == "" {
			return NewErrMissingLabelMetadata(fmt.Sprintf("vertex table %d carries no label metadata", i))
		}
	}
	for li, subs := range ld.edgeTables {
		if len(subs) == 0 {
			return NewErrMissingLabelMetadata(fmt.Sprintf("edge label %d holds no sub-tables", li))
		}
		for si, tbl := range subs {
			if tbl == nil {
				return NewErrInvalidOperation(fmt.Sprintf("edge table %d sub %d is nil, a zero-row table stands in for an empty shard", li, si))
			}
			for _, key := range []string{MetaLabel, TagSrcLabel, TagDstLabel} {
				if tableMeta(tbl, key) == "" {
					return NewErrMissingLabelMetadata(fmt.Sprintf("edge table %d sub %d carries no %s metadata", li, si, key))
				}
			}
			if tbl.NumCols() < 2 {
				return errors.New(ErrIOError, fmt.Sprintf("edge table %d sub %d has %d columns, need at least src and dst", li, si, tbl.NumCols()))
			}
		}
	}
	return nil
}

// checkManifests makes sure every worker brought the same in-memory table
// layout. Each following reconcile is a collective, so a worker with one
// table more than its peers would leave the group misaligned forever.
func (ld *Loader) checkManifests(ctx context.Context) error {
	mine := ld.tableManifest()
	enc, err := json.Marshal(mine)
	if err != nil {
		return errors.Wrap(err, "encoding table manifest")
	}
	gathered, err := ld.comm.AllGather(ctx, enc)
	if err != nil {
		return errors.Wrap(err, "exchanging table manifests")
	}
	for w, raw := range gathered {
		if w == ld.comm.WorkerID() {
			continue
		}
		var theirs []string
		if err := json.Unmarshal(raw, &theirs); err != nil {
			return errors.New(ErrIOError, fmt.Sprintf("undecodable table manifest from worker %d", w))
		}
		if len(theirs) != len(mine) {
			return NewErrInvalidOperation(fmt.Sprintf("worker %d brings %d in-memory tables, this worker brings %d", w, len(theirs), len(mine)))
		}
		for i := range mine {
			if mine[i] != theirs[i] {
				return errors.New(ErrInconsistentLabelMapping, fmt.Sprintf("in-memory table %d is %q here but %q on worker %d", i, mine[i], theirs[i], w))
			}
		}
	}
	return nil
}

func (ld *Loader) tableManifest() []string {
	var m []string
	for _, tbl := range ld.vertexTables {
		m = append(m, "vertex:"+tableMeta(tbl, MetaLabel))
	}
	for _, subs := range ld.edgeTables {
		for _, tbl := range subs {
			m = append(m, fmt.Sprintf("edge:%s:%s>%s", tableMeta(tbl, MetaLabel), tableMeta(tbl, TagSrcLabel), tableMeta(tbl, TagDstLabel)))
		}
	}
	return m
}

// readReconciled reads this worker's shard of desc and runs the schema
// exchange on the result. Read failures are group-checked first, so a
// worker with an unreadable shard fails the whole group in step.
func (ld *Loader) readReconciled(ctx context.Context, desc, what string) (arrow.Table, error) {
	tbl, rerr := ld.opener.Open(ctx, desc, ld.comm.WorkerID(), ld.comm.WorkerCount())
	if err := groupCheck(ctx, ld.comm, "reading "+what, rerr); err != nil {
		return nil, err
	}
	return ld.reconcileTable(ctx, what, tbl)
}

// reconcileTable runs one table's schema reconciliation: check the local
// column types, all-gather the local schema (nil for workers without
// rows), widen to the winning schema, then cast the local table, or
// synthesize an empty one, so every worker leaves with identical column
// types. The widening itself is pure and order-independent, so only the
// type check and the cast need a group check.
func (ld *Loader) reconcileTable(ctx context.Context, what string, tbl arrow.Table) (arrow.Table, error) {
	var enc []byte
	var localErr error
	if tbl != nil {
		localErr = checkColumnTypes(tbl.Schema())
		if localErr == nil {
			enc, localErr = encodeSchema(tbl.Schema())
		}
	}
	gathered, err := ld.comm.AllGather(ctx, enc)
	if err != nil {
		return nil, errors.Wrap(err, "exchanging schemas for "+what)
	}
	var out arrow.Table
	if localErr == nil {
		out, localErr = reconcileLocal(ld.mem, tbl, gathered, ld.threads)
	}
	if err := groupCheck(ctx, ld.comm, "reconciling "+what, localErr); err != nil {
		return nil, err
	}
	return out, nil
}

func reconcileLocal(mem memory.Allocator, tbl arrow.Table, gathered [][]byte, threads int) (arrow.Table, error) {
	schemas := make([]*arrow.Schema, len(gathered))
	for w, b := range gathered {
		if len(b) == 0 {
			continue
		}
		s, err := decodeSchema(b)
		if err != nil {
			return nil, errors.Wrapf(err, "schema from worker %d", w)
		}
		schemas[w] = s
	}
	target, err := widenSchemas(schemas)
	if err != nil {
		return nil, err
	}
	if tbl == nil {
		return emptyTable(target, mem), nil
	}
	return castTable(mem, tbl, target, threads)
}

// requireEdgeTags checks the three tags every edge sub-source must carry.
func requireEdgeTags(desc string, md map[string]string) error {
	for _, tag := range []string{TagLabel, TagSrcLabel, TagDstLabel} {
		if md[tag] == "" {
			return NewErrMissingLabelMetadata(fmt.Sprintf("edge source %q carries no %s tag", desc, tag))
		}
	}
	return nil
}

// tagEdgeTable attaches the canonical edge metadata. Endpoint ids ride in
// the first two columns.
func tagEdgeTable(tbl arrow.Table, label string, index, srcLabel, dstLabel, subs int) (arrow.Table, error) {
	if tbl.NumCols() < 2 {
		return nil, errors.New(ErrIOError, fmt.Sprintf("edge table %q has %d columns, need at least src and dst", label, tbl.NumCols()))
	}
	if err := checkKeyColumn(tbl, 0, "edge source id"); err != nil {
		return nil, err
	}
	if err := checkKeyColumn(tbl, 1, "edge destination id"); err != nil {
		return nil, err
	}
	return withTableMeta(tbl, map[string]string{
		MetaType:        RoleEdge,
		MetaLabel:       label,
		MetaLabelIndex:  strconv.Itoa(index),
		MetaSrcLabelID:  strconv.Itoa(srcLabel),
		MetaDstLabelID:  strconv.Itoa(dstLabel),
		MetaSrcColumn:   "0",
		MetaDstColumn:   "1",
		MetaSubLabelNum: strconv.Itoa(subs),
	}), nil
}

// checkKeyColumn rejects id columns outside the two key types.
func checkKeyColumn(tbl arrow.Table, col int, what string) error {
	f := tbl.Schema().Field(col)
	if id := f.Type.ID(); id != arrow.INT64 && id != arrow.STRING {
		return NewErrInvalidOperation(fmt.Sprintf("%s column %q has type %s, vertex ids must be int64 or utf8", what, f.Name, f.Type))
	}
	return nil
}

// keyTable wraps one materialized id set as a tagged single-column vertex
// table named after its label.
func keyTable(label string, index int, arr arrow.Array) arrow.Table {
	schema := arrow.NewSchema([]arrow.Field{{Name: label, Type: arr.DataType()}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{arr}, int64(arr.Len()))
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	return withTableMeta(tbl, map[string]string{
		MetaType:       RoleVertex,
		MetaLabel:      label,
		MetaLabelIndex: strconv.Itoa(index),
		MetaIDColumn:   "0",
	})
}

// ownedVertexTable materializes the ids the vertex map assigned to one
// partition of one label, in local-offset order. The inferred ingestion
// mode installs these as the final vertex tables: after the collective
// map build they hold the distinct endpoint ids of the whole cluster, not
// just this worker's shard, already filtered to the owned partition.
func ownedVertexTable(vm *VertexMap, label, partition int, mem memory.Allocator) (arrow.Table, error) {
	owned := make([]VertexKey, 0, vm.LabelCount(partition, label))
	for _, k := range vm.keys[label] {
		if vm.layout.Partition(vm.maps[label][k]) == partition {
			owned = append(owned, k)
		}
	}
	arr, err := newKeyArray(mem, vm.ktypes[label], owned)
	if err != nil {
		return nil, errors.Wrapf(err, "vertex label %q", vm.labels[label])
	}
	return keyTable(vm.labels[label], label, arr), nil
}
