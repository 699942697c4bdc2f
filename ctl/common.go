// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"io"

	"github.com/pkg/errors"
)

// Output formats understood by commands that render reports.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// UsageError marks failures caused by flags or arguments rather than by
// the operation itself.
var UsageError = errors.New("usage")

// CmdIO holds the standard unix inputs and outputs every command runs
// against, so tests can swap in buffers.
type CmdIO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewCmdIO returns a CmdIO over the given streams.
func NewCmdIO(stdin io.Reader, stdout, stderr io.Writer) *CmdIO {
	return &CmdIO{Stdin: stdin, Stdout: stdout, Stderr: stderr}
}
