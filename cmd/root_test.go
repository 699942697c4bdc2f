// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graveldb/gravel/cmd"
	"github.com/graveldb/gravel/ctl"
)

// execRoot runs the root command with args and returns everything it
// wrote along with the execution error.
func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rc := cmd.NewRootCommand(strings.NewReader(""), &out, &out)
	rc.SetArgs(args)
	err := rc.Execute()
	return out.String(), err
}

func TestRootCommandHelp(t *testing.T) {
	out, err := execRoot(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "load")
	assert.Contains(t, out, "inspect")
	assert.Contains(t, out, "version")
}

func TestVersionCommand(t *testing.T) {
	out, err := execRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Gravel")
}

func TestConfigPrecedence(t *testing.T) {
	t.Run("EnvBeatsDefault", func(t *testing.T) {
		t.Setenv("GRAVEL_WORKERS", "0")
		_, err := execRoot(t, "load", "--vertex", "people.csv#label=person")
		require.ErrorIs(t, err, ctl.UsageError)
		assert.Contains(t, err.Error(), "--workers")
	})
	t.Run("FlagBeatsEnv", func(t *testing.T) {
		t.Setenv("GRAVEL_WORKERS", "0")
		_, err := execRoot(t, "load", "--workers", "1", "--vertex", "missing.csv#label=person")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "--workers")
		assert.Contains(t, err.Error(), "missing.csv")
	})
	t.Run("ConfigFileApplies", func(t *testing.T) {
		cfg := filepath.Join(t.TempDir(), "gravel.toml")
		require.NoError(t, os.WriteFile(cfg, []byte("workers = 0\n"), 0o644))
		_, err := execRoot(t, "load", "-c", cfg, "--vertex", "people.csv#label=person")
		require.ErrorIs(t, err, ctl.UsageError)
		assert.Contains(t, err.Error(), "--workers")
	})
	t.Run("InvalidConfigKey", func(t *testing.T) {
		cfg := filepath.Join(t.TempDir(), "gravel.toml")
		require.NoError(t, os.WriteFile(cfg, []byte("bogus = true\n"), 0o644))
		_, err := execRoot(t, "load", "-c", cfg, "--vertex", "people.csv#label=person")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid option in configuration file: bogus")
	})
}

func TestLoadCommandThroughRoot(t *testing.T) {
	dir := t.TempDir()
	people := filepath.Join(dir, "people.csv")
	require.NoError(t, os.WriteFile(people, []byte("id,name\n1,alice\n2,bob\n"), 0o644))

	out, err := execRoot(t, "load",
		"--workers", "2",
		"--vertex", people+"#label=person")
	require.NoError(t, err)
	assert.Contains(t, out, "Partition")
	assert.Contains(t, out, "group ")
}
