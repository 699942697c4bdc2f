// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/google/uuid"

	"github.com/graveldb/gravel/comm"
	"github.com/graveldb/gravel/errors"
	"github.com/graveldb/gravel/logger"
	"github.com/graveldb/gravel/source"
	"github.com/graveldb/gravel/store"
	"github.com/graveldb/gravel/tracing"
)

// Loader runs one distributed load. It is single-use: construct one per
// load on every worker with identical configuration, call LoadFragment or
// LoadFragmentAsGroup exactly once, and throw it away. Every worker must
// make the same call, since the load is a fixed sequence of collectives.
type Loader struct {
	store  store.Store
	comm   comm.Communicator
	opener Opener
	log    logger.Logger
	mem    memory.Allocator

	strategy PartitionStrategy
	directed bool
	threads  int

	vertexSources []string
	edgeSources   []string
	vertexTables  []arrow.Table
	edgeTables    [][]arrow.Table

	loadID string
	done   bool
}

// LoaderOption configures a Loader at construction.
type LoaderOption func(ld *Loader) error

// OptLoaderLogger sets the loader's logger.
func OptLoaderLogger(log logger.Logger) LoaderOption {
	return func(ld *Loader) error {
		ld.log = log
		return nil
	}
}

// OptLoaderOpener sets the source reader. The default reads delimited
// files from the local filesystem.
func OptLoaderOpener(o Opener) LoaderOption {
	return func(ld *Loader) error {
		ld.opener = o
		return nil
	}
}

// OptLoaderAllocator sets the arrow allocator.
func OptLoaderAllocator(mem memory.Allocator) LoaderOption {
	return func(ld *Loader) error {
		ld.mem = mem
		return nil
	}
}

// OptLoaderVertexSources sets the vertex source descriptors, one per
// vertex label.
func OptLoaderVertexSources(srcs ...string) LoaderOption {
	return func(ld *Loader) error {
		ld.vertexSources = srcs
		return nil
	}
}

// OptLoaderEdgeSources sets the edge source descriptors, one per edge
// label. A descriptor holds ';'-separated sub-sources, one per
// (src label, dst label) pair.
func OptLoaderEdgeSources(srcs ...string) LoaderOption {
	return func(ld *Loader) error {
		ld.edgeSources = srcs
		return nil
	}
}

// OptLoaderTables feeds the loader from memory instead of files. Tables
// carry the same label tags file sources do, through schema metadata.
func OptLoaderTables(vertices []arrow.Table, edges [][]arrow.Table) LoaderOption {
	return func(ld *Loader) error {
		ld.vertexTables = vertices
		ld.edgeTables = edges
		return nil
	}
}

// OptLoaderPartitionStrategy picks hash or range partitioning.
func OptLoaderPartitionStrategy(s PartitionStrategy) LoaderOption {
	return func(ld *Loader) error {
		ld.strategy = s
		return nil
	}
}

// OptLoaderDirected marks the loaded graph directed or undirected. The
// flag rides in the fragment schema; edges are stored by source partition
// either way.
func OptLoaderDirected(directed bool) LoaderOption {
	return func(ld *Loader) error {
		ld.directed = directed
		return nil
	}
}

// OptLoaderThreads caps the per-worker thread pool used for casting and
// routing. The default is the core count divided by the group size.
func OptLoaderThreads(n int) LoaderOption {
	return func(ld *Loader) error {
		if n < 1 {
			return NewErrInvalidOperation("thread count must be positive")
		}
		ld.threads = n
		return nil
	}
}

// NewLoader builds a loader over a store handle and a communicator. The
// configuration must be identical on every worker of the group.
func NewLoader(st store.Store, c comm.Communicator, opts ...LoaderOption) (*Loader, error) {
	if st == nil {
		return nil, NewErrInvalidOperation("loader needs an object store")
	}
	if c == nil {
		return nil, NewErrInvalidOperation("loader needs a communicator")
	}
	ld := &Loader{
		store:    st,
		comm:     c,
		log:      logger.NopLogger,
		strategy: StrategyHash,
		directed: true,
	}
	for _, opt := range opts {
		if err := opt(ld); err != nil {
			return nil, err
		}
	}
	if ld.mem == nil {
		ld.mem = memory.NewGoAllocator()
	}
	if ld.opener == nil {
		ld.opener = source.NewLocal(ld.mem, ld.log)
	}
	if ld.threads == 0 {
		ld.threads = runtime.NumCPU() / c.WorkerCount()
		if ld.threads < 1 {
			ld.threads = 1
		}
	}

	fromFiles := len(ld.vertexSources) > 0 || len(ld.edgeSources) > 0
	fromTables := len(ld.vertexTables) > 0 || len(ld.edgeTables) > 0
	switch {
	case fromFiles && fromTables:
		return nil, NewErrInvalidOperation("configure file sources or in-memory tables, not both")
	case !fromFiles && !fromTables:
		return nil, NewErrInvalidOperation("nothing to load, configure sources or tables")
	}
	switch ld.strategy {
	case StrategyHash:
	case StrategyRange:
		if len(ld.vertexSources) == 0 {
			return nil, NewErrInvalidOperation("range partitioning needs vertex sources to sample")
		}
	default:
		return nil, NewErrInvalidOperation(fmt.Sprintf("unknown partition strategy %q", ld.strategy))
	}
	return ld, nil
}

// LoadFragment runs the load and returns this worker's sealed fragment
// handle.
func (ld *Loader) LoadFragment(ctx context.Context) (store.ObjectID, error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "Loader.LoadFragment")
	defer span.Finish()

	if err := ld.begin(); err != nil {
		return 0, err
	}
	id, err := ld.run(ctx)
	if err != nil {
		CounterLoads.WithLabelValues("error").Inc()
		return 0, err
	}
	CounterLoads.WithLabelValues("ok").Inc()
	return id, nil
}

// LoadFragmentAsGroup runs the load and the final directory collective,
// returning the fragment group every worker agrees on.
func (ld *Loader) LoadFragmentAsGroup(ctx context.Context) (*FragmentGroup, error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "Loader.LoadFragmentAsGroup")
	defer span.Finish()

	if err := ld.begin(); err != nil {
		return nil, err
	}
	id, err := ld.run(ctx)
	if err != nil {
		CounterLoads.WithLabelValues("error").Inc()
		return nil, err
	}
	group, err := buildFragmentGroup(ctx, ld.comm, ld.store, ld.loadID, ld.partitions(), id)
	if err != nil {
		CounterLoads.WithLabelValues("error").Inc()
		return nil, err
	}
	CounterLoads.WithLabelValues("ok").Inc()
	ld.log.Printf("published fragment group %s for load %s", group.ID(), ld.loadID)
	return group, nil
}

func (ld *Loader) begin() error {
	if ld.done {
		return NewErrInvalidOperation("loader already ran, build a fresh one per load")
	}
	ld.done = true
	return nil
}

func (ld *Loader) partitions() int { return ld.comm.WorkerCount() }

// ownPartition reports the partition this worker seals the fragment for.
func (ld *Loader) ownPartition() (int, error) {
	for p := 0; p < ld.partitions(); p++ {
		if ld.comm.FragmentToWorker(p) == ld.comm.WorkerID() {
			return p, nil
		}
	}
	return 0, NewErrInvalidOperation(fmt.Sprintf("worker %d owns no partition", ld.comm.WorkerID()))
}

// run is the load pipeline. Every step that can fail on one worker but
// not another ends in a group check, so the whole group either advances
// or aborts together; the steps between checks are pure functions of
// group-identical inputs.
func (ld *Loader) run(ctx context.Context) (store.ObjectID, error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "Loader.run")
	defer span.Finish()

	var seed []byte
	if ld.comm.WorkerID() == comm.Leader {
		seed = []byte(uuid.New().String())
	}
	raw, err := ld.comm.Broadcast(ctx, seed)
	if err != nil {
		return 0, errors.Wrap(err, "agreeing on a load id")
	}
	ld.loadID = string(raw)
	span.LogKV("load_id", ld.loadID, "workers", ld.partitions())
	ld.log.Printf("load %s: %d workers, %s partitioning", ld.loadID, ld.partitions(), ld.strategy)

	own, err := ld.ownPartition()
	if err != nil {
		return 0, err
	}
	part, err := ld.initPartitioner(ctx)
	if err != nil {
		return 0, err
	}

	ing, err := ld.ingest(ctx)
	if err != nil {
		return 0, err
	}

	labels := make([]string, len(ing.vertices))
	idCols := make([]*arrow.Chunked, len(ing.vertices))
	idIdx := make([]int, len(ing.vertices))
	for l, tbl := range ing.vertices {
		labels[l] = tableMeta(tbl, MetaLabel)
		if idIdx[l], err = metaInt(tbl, MetaIDColumn); err != nil {
			return 0, err
		}
		idCols[l] = tbl.Column(idIdx[l]).Data()
	}
	vm, err := buildVertexMap(ctx, ld.comm, part, labels, idCols, ld.mem)
	if err != nil {
		return 0, err
	}
	total := 0
	for l := range labels {
		total += vm.Len(l)
	}
	ld.log.Printf("load %s: mapped %d vertices across %d labels", ld.loadID, total, len(labels))

	var vmID store.ObjectID
	sealErr := func() error {
		id, err := vm.Seal(ctx, ld.store, ld.mem)
		if err != nil {
			return err
		}
		if err := ld.store.Persist(ctx, id); err != nil {
			return errors.Wrap(err, "persisting the vertex map")
		}
		vmID = id
		return nil
	}()
	if err := groupCheck(ctx, ld.comm, "sealing the vertex map", sealErr); err != nil {
		return 0, err
	}

	vtables := make([]arrow.Table, len(ing.vertices))
	for l, tbl := range ing.vertices {
		if ing.inferred {
			vtables[l], err = ownedVertexTable(vm, l, own, ld.mem)
		} else {
			vtables[l], err = shuffleVertexTable(ctx, ld.comm, part, tbl, idIdx[l], ld.mem)
		}
		if err != nil {
			return 0, errors.Wrapf(err, "vertex label %q", labels[l])
		}
	}

	etables := make([][]arrow.Table, len(ing.edges))
	for li, subs := range ing.edges {
		etables[li] = make([]arrow.Table, len(subs))
		for si, tbl := range subs {
			srcCol, err := metaInt(tbl, MetaSrcColumn)
			if err != nil {
				return 0, err
			}
			dstCol, err := metaInt(tbl, MetaDstColumn)
			if err != nil {
				return 0, err
			}
			srcLabel, err := metaInt(tbl, MetaSrcLabelID)
			if err != nil {
				return 0, err
			}
			dstLabel, err := metaInt(tbl, MetaDstLabelID)
			if err != nil {
				return 0, err
			}
			etables[li][si], err = shuffleEdgeTable(ctx, ld.comm, vm, tbl, srcCol, dstCol, srcLabel, dstLabel, ld.mem)
			if err != nil {
				return 0, errors.Wrapf(err, "edge label %q", tableMeta(tbl, MetaLabel))
			}
		}
	}

	var fragID store.ObjectID
	fragErr := func() error {
		frag, err := assembleFragment(own, ld.partitions(), ld.directed, ld.loadID, vmID, vtables, etables)
		if err != nil {
			return err
		}
		id, err := frag.Seal(ctx, ld.store)
		if err != nil {
			return err
		}
		if err := ld.store.Persist(ctx, id); err != nil {
			return errors.Wrap(err, "persisting the fragment")
		}
		fragID = id
		return nil
	}()
	if err := groupCheck(ctx, ld.comm, "sealing the fragment", fragErr); err != nil {
		return 0, err
	}
	ld.log.Printf("load %s: sealed fragment %s for partition %d", ld.loadID, fragID, own)
	return fragID, nil
}

// initPartitioner builds the partitioner both strategies share across the
// group. Range partitioning has every worker read the full id column of
// every vertex source, not just its shard, so the computed splitters are
// identical everywhere without an exchange.
func (ld *Loader) initPartitioner(ctx context.Context) (Partitioner, error) {
	if ld.strategy == StrategyHash {
		return NewHashPartitioner(ld.partitions()), nil
	}

	var sample []VertexKey
	serr := func() error {
		for _, src := range ld.vertexSources {
			md, err := ld.opener.Metadata(src)
			if err != nil {
				return err
			}
			tbl, err := ld.opener.Open(ctx, src, 0, 1)
			if err != nil {
				return err
			}
			if tbl == nil {
				continue
			}
			idCol := 0
			if pk := md[TagPrimaryKey]; pk != "" {
				if idCol = fieldIndex(tbl.Schema(), pk); idCol < 0 {
					return NewErrMissingLabelMetadata(fmt.Sprintf("vertex source %q names primary key %q, which is not a column", src, pk))
				}
			}
			cur := newChunkCursor(tbl.Column(idCol).Data())
			for r := int64(0); r < tbl.NumRows(); r++ {
				arr, i := cur.next()
				k, err := keyAt(arr, i)
				if err != nil {
					return errors.Wrapf(err, "sampling %q", src)
				}
				sample = append(sample, k)
			}
		}
		return nil
	}()
	if err := groupCheck(ctx, ld.comm, "sampling vertex ids", serr); err != nil {
		return nil, err
	}
	return NewRangePartitioner(sample, ld.partitions())
}

func metaInt(tbl arrow.Table, key string) (int, error) {
	v, err := strconv.Atoi(tableMeta(tbl, key))
	if err != nil {
		return 0, errors.New(ErrIOError, fmt.Sprintf("table metadata %s is %q, not an index", key, tableMeta(tbl, key)))
	}
	return v, nil
}
