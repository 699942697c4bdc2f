// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opening an existing file appends, and so does reopening it.
func TestFileWriterAppends(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "gravel.log")
	require.NoError(t, os.WriteFile(fname, []byte("line0\n"), 0o600))

	f, err := NewFileWriter(fname)
	require.NoError(t, err)
	_, err = f.Write([]byte("line1\n"))
	require.NoError(t, err)

	require.NoError(t, f.Reopen())
	_, err = f.Write([]byte("line2\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := os.ReadFile(fname)
	require.NoError(t, err)
	assert.Equal(t, "line0\nline1\nline2\n", string(out))
}

// After the file is renamed away, Reopen must create a fresh file at the
// original path instead of following the old inode. This is the rotation
// contract the SIGHUP handler relies on.
func TestFileWriterRotation(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "gravel.log")

	f, err := NewFileWriter(fname)
	require.NoError(t, err)
	_, err = f.Write([]byte("before\n"))
	require.NoError(t, err)

	require.NoError(t, os.Rename(fname, fname+".1"))
	_, err = f.Write([]byte("rotated-away\n"))
	require.NoError(t, err)

	require.NoError(t, f.Reopen())
	_, err = f.Write([]byte("after\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := os.ReadFile(fname)
	require.NoError(t, err)
	assert.Equal(t, "after\n", string(out))

	old, err := os.ReadFile(fname + ".1")
	require.NoError(t, err)
	assert.Equal(t, "before\nrotated-away\n", string(old))
}
