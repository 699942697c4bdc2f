// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	gravel "github.com/graveldb/gravel"
)

func newVersionCommand(stdin io.Reader, stdout io.Writer, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(c *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(stdout, gravel.VersionInfo())
			return err
		},
	}
}
