// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/graveldb/gravel/ctl"
)

func newInspectCommand(stdin io.Reader, stdout io.Writer, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewInspectCommand(stdin, stdout, stderr)
	ccmd := &cobra.Command{
		Use:   "inspect [object-id]",
		Short: "Examine sealed objects in a store",
		Long: `
Decodes a sealed object from a bolt store and renders it: fragment
schemas and table shapes, fragment group directories, or vertex map
summaries. Without an object id the store directory is listed.
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if len(args) == 1 {
				cmd.ObjectID = args[0]
			}
			return cmd.Run(context.Background())
		},
	}

	flags := ccmd.Flags()
	flags.StringVarP(&cmd.StorePath, "store", "s", "", "bolt store file to read")
	flags.StringVar(&cmd.Format, "format", cmd.Format, "output format, table, json or yaml")
	return ccmd
}
