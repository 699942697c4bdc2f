// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package ctl_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gravel "github.com/graveldb/gravel"
	"github.com/graveldb/gravel/ctl"
	"github.com/graveldb/gravel/store"
	"github.com/graveldb/gravel/store/boltstore"
)

// loadedStore runs a two worker load into a fresh bolt store and returns
// its path plus the sealed ids grouped by kind.
func loadedStore(t *testing.T) (string, map[string][]store.ObjectID) {
	t.Helper()
	dir := t.TempDir()
	people := writeFile(t, dir, "people.csv", "id,name\n1,alice\n2,bob\n")
	knows := writeFile(t, dir, "knows.csv", "src,dst,weight\n1,2,0.5\n")
	storePath := filepath.Join(dir, "objects.bolt")

	cm, _ := newLoadCommand(t)
	cm.Workers = 2
	cm.StorePath = storePath
	cm.Vertices = []string{people + "#label=person"}
	cm.Edges = []string{knows + "#src_label=person&dst_label=person"}
	require.NoError(t, cm.Run(context.Background()))

	db, err := boltstore.Open(storePath)
	require.NoError(t, err)
	defer db.Close()
	ids := make(map[string][]store.ObjectID)
	require.NoError(t, db.Each(func(obj store.Object) error {
		ids[obj.Kind] = append(ids[obj.Kind], obj.ID)
		return nil
	}))
	return storePath, ids
}

func newInspectCommand(t *testing.T, storePath string) (*ctl.InspectCommand, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	cm := ctl.NewInspectCommand(bytes.NewReader(nil), &out, &errOut)
	cm.StorePath = storePath
	return cm, &out
}

func TestInspectCommandValidation(t *testing.T) {
	t.Run("NoStore", func(t *testing.T) {
		cm, _ := newInspectCommand(t, "")
		err := cm.Run(context.Background())
		require.ErrorIs(t, err, ctl.UsageError)
		assert.Contains(t, err.Error(), "--store")
	})
	t.Run("BadFormat", func(t *testing.T) {
		cm, _ := newInspectCommand(t, filepath.Join(t.TempDir(), "objects.bolt"))
		cm.Format = "xml"
		err := cm.Run(context.Background())
		require.ErrorIs(t, err, ctl.UsageError)
		assert.Contains(t, err.Error(), "xml")
	})
	t.Run("BadObjectID", func(t *testing.T) {
		cm, _ := newInspectCommand(t, filepath.Join(t.TempDir(), "objects.bolt"))
		cm.ObjectID = "not-hex"
		err := cm.Run(context.Background())
		require.ErrorIs(t, err, ctl.UsageError)
	})
	t.Run("NotFound", func(t *testing.T) {
		cm, _ := newInspectCommand(t, filepath.Join(t.TempDir(), "objects.bolt"))
		cm.ObjectID = "ff"
		err := cm.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestInspectCommandList(t *testing.T) {
	storePath, _ := loadedStore(t)
	cm, out := newInspectCommand(t, storePath)
	require.NoError(t, cm.Run(context.Background()))
	assert.Contains(t, out.String(), gravel.KindFragment)
	assert.Contains(t, out.String(), gravel.KindFragmentGroup)
	assert.Contains(t, out.String(), gravel.KindVertexMap)
}

func TestInspectCommandFragmentTable(t *testing.T) {
	storePath, ids := loadedStore(t)
	require.Len(t, ids[gravel.KindFragment], 2)

	cm, out := newInspectCommand(t, storePath)
	cm.ObjectID = ids[gravel.KindFragment][0].String()
	require.NoError(t, cm.Run(context.Background()))

	assert.Contains(t, out.String(), "Vertex Label")
	assert.Contains(t, out.String(), "person")
	assert.Contains(t, out.String(), "knows")
	assert.Contains(t, out.String(), "person->person")
	assert.Contains(t, out.String(), "weight:float64")
}

func TestInspectCommandGroupJSON(t *testing.T) {
	storePath, ids := loadedStore(t)
	require.Len(t, ids[gravel.KindFragmentGroup], 1)

	cm, out := newInspectCommand(t, storePath)
	cm.ObjectID = ids[gravel.KindFragmentGroup][0].String()
	cm.Format = ctl.FormatJSON
	require.NoError(t, cm.Run(context.Background()))

	var rep struct {
		ID         string `json:"id"`
		LoadID     string `json:"load_id"`
		Partitions int    `json:"partitions"`
		Fragments  []struct {
			Partition int    `json:"partition"`
			Fragment  string `json:"fragment"`
		} `json:"fragments"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, ids[gravel.KindFragmentGroup][0].String(), rep.ID)
	assert.NotEmpty(t, rep.LoadID)
	assert.Equal(t, 2, rep.Partitions)
	require.Len(t, rep.Fragments, 2)
	for p, ref := range rep.Fragments {
		assert.Equal(t, p, ref.Partition)
		id, err := store.ParseObjectID(ref.Fragment)
		require.NoError(t, err)
		assert.Contains(t, ids[gravel.KindFragment], id)
	}
}

func TestInspectCommandVertexMapYAML(t *testing.T) {
	storePath, ids := loadedStore(t)
	require.NotEmpty(t, ids[gravel.KindVertexMap])

	cm, out := newInspectCommand(t, storePath)
	cm.ObjectID = ids[gravel.KindVertexMap][0].String()
	cm.Format = ctl.FormatYAML
	require.NoError(t, cm.Run(context.Background()))

	assert.Contains(t, out.String(), "label: person")
	assert.Contains(t, out.String(), "partitions: 2")
	assert.Contains(t, out.String(), "vertices: 2")
}
