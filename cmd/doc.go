// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0

/*
Package cmd contains the gravel subcommand definitions (1 per file).

Each command file has a new*Command function returning a cobra.Command
that binds its flags to a ctl command struct and runs it. NewRootCommand
assembles them under the root and wires flag, environment and config
file handling.
*/
package cmd
