// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	gravel "github.com/graveldb/gravel"
	"github.com/graveldb/gravel/comm"
	"github.com/graveldb/gravel/logger"
	"github.com/graveldb/gravel/store"
	"github.com/graveldb/gravel/store/boltstore"
	"github.com/graveldb/gravel/tracing"
	ot "github.com/graveldb/gravel/tracing/opentracing"
)

// LoadCommand represents a command for loading graph sources into
// fragments. It runs a whole loading group inside one process: every
// worker reads its shard of the sources and seals one fragment.
type LoadCommand struct {
	// Number of in-process workers; the graph gets one partition each.
	Workers int

	// Bolt store file fragments are sealed into. Empty keeps the load
	// in memory, which only exercises the pipeline.
	StorePath string

	// Vertex and edge source descriptors, path#tag=value&tag=value.
	Vertices []string
	Edges    []string

	// Partitioning and shape knobs.
	Strategy string
	Directed bool
	Threads  int

	// Log destination; empty logs to stderr. The file is reopened on
	// SIGHUP so it can be rotated.
	LogPath string
	Verbose bool

	// Report loader spans to the process-wide opentracing tracer.
	Tracing bool

	// Standard input/output
	*CmdIO
}

// NewLoadCommand returns a new instance of LoadCommand.
func NewLoadCommand(stdin io.Reader, stdout, stderr io.Writer) *LoadCommand {
	return &LoadCommand{
		Workers:  1,
		Strategy: string(gravel.StrategyHash),
		Directed: true,
		CmdIO:    NewCmdIO(stdin, stdout, stderr),
	}
}

// Run executes the load and prints the fragment directory.
func (cmd *LoadCommand) Run(ctx context.Context) error {
	if cmd.Workers < 1 {
		return fmt.Errorf("%w: --workers must be at least 1", UsageError)
	}
	if len(cmd.Vertices)+len(cmd.Edges) == 0 {
		return fmt.Errorf("%w: nothing to load, pass --vertex and/or --edge", UsageError)
	}
	log, err := cmd.setupLogger()
	if err != nil {
		return err
	}
	if cmd.Tracing {
		tracing.GlobalTracer = ot.NewTracer(opentracing.GlobalTracer())
	}

	comms, err := comm.NewLocalGroup(cmd.Workers)
	if err != nil {
		return errors.Wrap(err, "creating worker group")
	}
	stores, closeStores, err := cmd.openStores()
	if err != nil {
		return err
	}
	defer closeStores()

	log.Printf("loading %d vertex and %d edge sources across %d workers",
		len(cmd.Vertices), len(cmd.Edges), cmd.Workers)

	groups := make([]*gravel.FragmentGroup, cmd.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cmd.Workers; w++ {
		w := w
		g.Go(func() error {
			opts := []gravel.LoaderOption{
				gravel.OptLoaderLogger(log),
				gravel.OptLoaderVertexSources(cmd.Vertices...),
				gravel.OptLoaderEdgeSources(cmd.Edges...),
				gravel.OptLoaderPartitionStrategy(gravel.PartitionStrategy(cmd.Strategy)),
				gravel.OptLoaderDirected(cmd.Directed),
			}
			if cmd.Threads > 0 {
				opts = append(opts, gravel.OptLoaderThreads(cmd.Threads))
			}
			ld, err := gravel.NewLoader(stores[w], comms[w], opts...)
			if err != nil {
				return err
			}
			group, err := ld.LoadFragmentAsGroup(gctx)
			if err != nil {
				return err
			}
			groups[w] = group
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "loading")
	}

	// Every worker decoded the same sealed directory; render worker 0's.
	group := groups[0]
	t := table.NewWriter()
	t.SetOutputMirror(cmd.Stdout)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"Partition", "Worker", "Instance", "Fragment"})
	for _, ref := range group.Fragments {
		t.AppendRow(table.Row{ref.Partition, ref.Worker, ref.Instance, ref.Fragment})
	}
	t.Render()
	fmt.Fprintf(cmd.Stdout, "group %s, load %s\n", group.ID(), group.LoadID)
	return nil
}

// setupLogger builds the log destination from the configuration: stderr
// by default, a reopenable file when a log path is set.
func (cmd *LoadCommand) setupLogger() (logger.Logger, error) {
	out := cmd.Stderr
	if cmd.LogPath != "" {
		f, err := logger.NewFileWriter(cmd.LogPath)
		if err != nil {
			return nil, errors.Wrap(err, "opening log file")
		}
		sighup := make(chan os.Signal, 1)
		signal.Notify(sighup, syscall.SIGHUP)
		go func() {
			for range sighup {
				if err := f.Reopen(); err != nil {
					fmt.Fprintf(cmd.Stderr, "reopen log file: %s\n", err)
				}
			}
		}()
		out = f
	}
	if cmd.Verbose {
		return logger.NewVerboseLogger(out), nil
	}
	return logger.NewStandardLogger(out), nil
}

// openStores returns one store per worker: handles on a shared bolt file
// when a store path is set, an in-memory cluster otherwise.
func (cmd *LoadCommand) openStores() ([]store.Store, func(), error) {
	if cmd.StorePath == "" {
		mems := store.NewCluster(cmd.Workers)
		stores := make([]store.Store, len(mems))
		for i, m := range mems {
			stores[i] = m
		}
		return stores, func() {}, nil
	}
	db, err := boltstore.Open(cmd.StorePath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening store")
	}
	stores := make([]store.Store, cmd.Workers)
	for i := range stores {
		h, err := db.NewHandle()
		if err != nil {
			db.Close()
			return nil, nil, errors.Wrap(err, "opening store handle")
		}
		stores[i] = h
	}
	return stores, func() { db.Close() }, nil
}
