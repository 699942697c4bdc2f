// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
/*
This is the entrypoint for the gravel binary.
*/
package main

import (
	"fmt"
	"os"

	"github.com/graveldb/gravel/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
