// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"sigs.k8s.io/yaml"

	gravel "github.com/graveldb/gravel"
	"github.com/graveldb/gravel/store"
	"github.com/graveldb/gravel/store/boltstore"
)

// InspectCommand represents a command for examining sealed objects in a
// bolt store. Without an object id it lists the store directory.
type InspectCommand struct {
	// Bolt store file to read.
	StorePath string

	// Hex id of the object to decode, as printed by load.
	ObjectID string

	// Output format: table, json or yaml.
	Format string

	// Standard input/output
	*CmdIO
}

// NewInspectCommand returns a new instance of InspectCommand.
func NewInspectCommand(stdin io.Reader, stdout, stderr io.Writer) *InspectCommand {
	return &InspectCommand{
		Format: FormatTable,
		CmdIO:  NewCmdIO(stdin, stdout, stderr),
	}
}

// Run executes the inspection.
func (cmd *InspectCommand) Run(ctx context.Context) error {
	if cmd.StorePath == "" {
		return fmt.Errorf("%w: --store is required", UsageError)
	}
	switch cmd.Format {
	case FormatTable, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("%w: unknown format %q", UsageError, cmd.Format)
	}

	db, err := boltstore.Open(cmd.StorePath)
	if err != nil {
		return errors.Wrap(err, "opening store")
	}
	defer db.Close()

	if cmd.ObjectID == "" {
		return cmd.listObjects(db)
	}

	id, err := store.ParseObjectID(cmd.ObjectID)
	if err != nil {
		return fmt.Errorf("%w: %v", UsageError, err)
	}
	var found *store.Object
	err = db.Each(func(obj store.Object) error {
		if obj.ID == id {
			o := obj
			found = &o
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "reading store")
	}
	if found == nil {
		return errors.Errorf("object %s not found in %s", id, cmd.StorePath)
	}

	switch found.Kind {
	case gravel.KindFragment:
		return cmd.renderFragment(*found)
	case gravel.KindFragmentGroup:
		return cmd.renderGroup(*found)
	case gravel.KindVertexMap:
		return cmd.renderVertexMap(*found)
	default:
		return cmd.emit(objectInfo{
			ID:    found.ID.String(),
			Kind:  found.Kind,
			Bytes: len(found.Payload),
			Meta:  found.Meta,
		}, func() {
			fmt.Fprintf(cmd.Stdout, "object %s: kind %q, %d byte payload\n",
				found.ID, found.Kind, len(found.Payload))
			for _, k := range sortedKeys(found.Meta) {
				fmt.Fprintf(cmd.Stdout, "  %s = %s\n", k, found.Meta[k])
			}
		})
	}
}

// objectInfo is one row of the store directory.
type objectInfo struct {
	ID    string            `json:"id"`
	Kind  string            `json:"kind"`
	Bytes int               `json:"bytes"`
	Meta  map[string]string `json:"meta,omitempty"`
}

func (cmd *InspectCommand) listObjects(db *boltstore.DB) error {
	var infos []objectInfo
	err := db.Each(func(obj store.Object) error {
		infos = append(infos, objectInfo{
			ID:    obj.ID.String(),
			Kind:  obj.Kind,
			Bytes: len(obj.Payload),
			Meta:  obj.Meta,
		})
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "reading store")
	}
	return cmd.emit(infos, func() {
		t := cmd.newTable()
		t.AppendHeader(table.Row{"ID", "Kind", "Bytes", "Meta"})
		for _, info := range infos {
			t.AppendRow(table.Row{info.ID, info.Kind, info.Bytes, metaString(info.Meta)})
		}
		t.Render()
	})
}

type fragmentReport struct {
	ID         string             `json:"id"`
	Partition  int                `json:"partition"`
	LoadID     string             `json:"load_id"`
	VertexMap  string             `json:"vertex_map"`
	Schema     gravel.GraphSchema `json:"schema"`
	VertexRows map[string]int64   `json:"vertex_rows"`
	EdgeRows   map[string]int64   `json:"edge_rows"`
}

func (cmd *InspectCommand) renderFragment(obj store.Object) error {
	mem := memory.NewGoAllocator()
	frag, err := gravel.DecodeFragment(mem, obj)
	if err != nil {
		return err
	}
	schema := frag.Schema()
	rep := fragmentReport{
		ID:         obj.ID.String(),
		Partition:  frag.Partition(),
		LoadID:     frag.LoadID(),
		VertexMap:  frag.VertexMapID().String(),
		Schema:     schema,
		VertexRows: make(map[string]int64),
		EdgeRows:   make(map[string]int64),
	}
	for _, v := range schema.Vertices {
		df, err := frag.VertexDataFrame(mem, v.Label)
		if err != nil {
			return err
		}
		rep.VertexRows[v.Label] = df.NumRows()
	}
	for _, e := range schema.Edges {
		df, err := frag.EdgeDataFrame(mem, e.Label)
		if err != nil {
			return err
		}
		rep.EdgeRows[e.Label] = df.NumRows()
	}
	return cmd.emit(rep, func() {
		fmt.Fprintf(cmd.Stdout, "fragment %s: partition %d of %d, directed=%t, load %s, vertex map %s\n",
			obj.ID, frag.Partition(), schema.Partitions, schema.Directed, frag.LoadID(), frag.VertexMapID())
		t := cmd.newTable()
		t.AppendHeader(table.Row{"Vertex Label", "Index", "Primary Key", "Properties", "Rows"})
		for _, v := range schema.Vertices {
			t.AppendRow(table.Row{v.Label, v.LabelIndex, v.PrimaryKey,
				propString(v.Properties), rep.VertexRows[v.Label]})
		}
		t.Render()
		t = cmd.newTable()
		t.AppendHeader(table.Row{"Edge Label", "Index", "Relations", "Properties", "Rows"})
		for _, e := range schema.Edges {
			t.AppendRow(table.Row{e.Label, e.LabelIndex, relationString(e.Relations),
				propString(e.Properties), rep.EdgeRows[e.Label]})
		}
		t.Render()
	})
}

type refReport struct {
	Partition int    `json:"partition"`
	Worker    int    `json:"worker"`
	Instance  uint64 `json:"instance"`
	Fragment  string `json:"fragment"`
}

type groupReport struct {
	ID         string      `json:"id"`
	LoadID     string      `json:"load_id"`
	Partitions int         `json:"partitions"`
	Fragments  []refReport `json:"fragments"`
}

func (cmd *InspectCommand) renderGroup(obj store.Object) error {
	group, err := gravel.DecodeFragmentGroup(obj)
	if err != nil {
		return err
	}
	rep := groupReport{
		ID:         obj.ID.String(),
		LoadID:     group.LoadID,
		Partitions: group.Partitions,
	}
	for _, ref := range group.Fragments {
		rep.Fragments = append(rep.Fragments, refReport{
			Partition: ref.Partition,
			Worker:    ref.Worker,
			Instance:  ref.Instance,
			Fragment:  ref.Fragment.String(),
		})
	}
	return cmd.emit(rep, func() {
		fmt.Fprintf(cmd.Stdout, "fragment group %s: load %s, %d partitions\n",
			obj.ID, group.LoadID, group.Partitions)
		t := cmd.newTable()
		t.AppendHeader(table.Row{"Partition", "Worker", "Instance", "Fragment"})
		for _, ref := range group.Fragments {
			t.AppendRow(table.Row{ref.Partition, ref.Worker, ref.Instance, ref.Fragment})
		}
		t.Render()
	})
}

type labelSummary struct {
	Label        string   `json:"label"`
	Vertices     int      `json:"vertices"`
	PerPartition []uint64 `json:"per_partition"`
}

type vertexMapReport struct {
	ID         string         `json:"id"`
	Partitions int            `json:"partitions"`
	Labels     []labelSummary `json:"labels"`
}

func (cmd *InspectCommand) renderVertexMap(obj store.Object) error {
	vm, err := gravel.DecodeVertexMap(memory.NewGoAllocator(), obj)
	if err != nil {
		return err
	}
	partitions := vm.Layout().Partitions()
	rep := vertexMapReport{ID: obj.ID.String(), Partitions: partitions}
	for li, label := range vm.Labels() {
		sum := labelSummary{Label: label, Vertices: vm.Len(li)}
		for p := 0; p < partitions; p++ {
			sum.PerPartition = append(sum.PerPartition, vm.LabelCount(p, li))
		}
		rep.Labels = append(rep.Labels, sum)
	}
	return cmd.emit(rep, func() {
		fmt.Fprintf(cmd.Stdout, "vertex map %s: %d partitions, %d labels\n",
			obj.ID, partitions, len(rep.Labels))
		t := cmd.newTable()
		t.AppendHeader(table.Row{"Label", "Vertices", "Per Partition"})
		for _, sum := range rep.Labels {
			parts := make([]string, len(sum.PerPartition))
			for p, n := range sum.PerPartition {
				parts[p] = fmt.Sprintf("%d:%d", p, n)
			}
			t.AppendRow(table.Row{sum.Label, sum.Vertices, strings.Join(parts, " ")})
		}
		t.Render()
	})
}

// emit renders the report in the configured format; renderTable runs for
// the table format, the marshalers handle json and yaml.
func (cmd *InspectCommand) emit(report interface{}, renderTable func()) error {
	switch cmd.Format {
	case FormatJSON:
		b, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encoding json")
		}
		fmt.Fprintln(cmd.Stdout, string(b))
	case FormatYAML:
		b, err := yaml.Marshal(report)
		if err != nil {
			return errors.Wrap(err, "encoding yaml")
		}
		fmt.Fprint(cmd.Stdout, string(b))
	default:
		renderTable()
	}
	return nil
}

func (cmd *InspectCommand) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.Stdout)
	t.Style().Format.Header = text.FormatDefault
	return t
}

func sortedKeys(m map[string]string) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

func metaString(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}

func propString(props []gravel.Property) string {
	parts := make([]string, len(props))
	for i, p := range props {
		parts[i] = p.Name + ":" + p.Type
	}
	return strings.Join(parts, " ")
}

func relationString(rels []gravel.Relation) string {
	parts := make([]string, len(rels))
	for i, r := range rels {
		parts[i] = r.SrcLabel + "->" + r.DstLabel
	}
	return strings.Join(parts, " ")
}
