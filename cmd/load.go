// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/graveldb/gravel/ctl"
)

func newLoadCommand(stdin io.Reader, stdout io.Writer, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewLoadCommand(stdin, stdout, stderr)
	ccmd := &cobra.Command{
		Use:   "load",
		Short: "Load graph sources into fragments",
		Long: `
Runs a whole loading group in one process: every worker reads its shard of
the sources, the group assigns dense global vertex ids, and each worker
seals one fragment into the shared store.

A source descriptor names a file plus #-tags, for example
people.csv#label=person or knows.csv#src_label=person&dst_label=person.
Files ending in .parquet are read as parquet, everything else as
delimited text.
`,
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Run(context.Background())
		},
	}

	flags := ccmd.Flags()
	flags.IntVar(&cmd.Workers, "workers", cmd.Workers, "number of in-process workers, one graph partition each")
	flags.StringVarP(&cmd.StorePath, "store", "s", "", "bolt store file to seal fragments into; empty stays in memory")
	flags.StringSliceVar(&cmd.Vertices, "vertex", nil, "vertex source descriptor, repeatable")
	flags.StringSliceVar(&cmd.Edges, "edge", nil, "edge source descriptor, repeatable")
	flags.StringVar(&cmd.Strategy, "strategy", cmd.Strategy, "vertex partition strategy, hash or range")
	flags.BoolVar(&cmd.Directed, "directed", cmd.Directed, "record the graph as directed")
	flags.IntVar(&cmd.Threads, "threads", 0, "cast threads per worker; 0 sizes from the CPU count")
	flags.StringVar(&cmd.LogPath, "log-path", "", "log file to write to; empty logs to stderr")
	flags.BoolVar(&cmd.Verbose, "verbose", false, "enable verbose logging")
	flags.BoolVar(&cmd.Tracing, "tracing", false, "report loader spans to the global opentracing tracer")
	return ccmd
}
