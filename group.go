// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v10/arrow/memory"

	"github.com/graveldb/gravel/comm"
	"github.com/graveldb/gravel/errors"
	"github.com/graveldb/gravel/store"
)

// KindFragmentGroup marks sealed fragment group objects.
const KindFragmentGroup = "fragment-group"

// FragmentRef locates one partition's fragment: the sealed handle and
// the store instance that sealed it.
type FragmentRef struct {
	Partition int            `json:"partition"`
	Worker    int            `json:"worker"`
	Instance  uint64         `json:"instance"`
	Fragment  store.ObjectID `json:"fragment"`
}

// FragmentGroup is the load-wide directory mapping every partition to
// its fragment. The leader builds and seals it exactly once per load;
// it is read-only from then on.
type FragmentGroup struct {
	LoadID     string        `json:"load_id"`
	Partitions int           `json:"partitions"`
	Fragments  []FragmentRef `json:"fragments"`

	id store.ObjectID
}

// ID returns the store handle of the sealed directory.
func (g *FragmentGroup) ID() store.ObjectID { return g.id }

// Ref returns the directory entry for a partition.
func (g *FragmentGroup) Ref(partition int) (FragmentRef, error) {
	if partition < 0 || partition >= len(g.Fragments) {
		return FragmentRef{}, NewErrInvalidOperation(fmt.Sprintf("partition %d out of range, group holds %d", partition, len(g.Fragments)))
	}
	return g.Fragments[partition], nil
}

// OpenFragment fetches and decodes one partition's fragment through st.
func (g *FragmentGroup) OpenFragment(ctx context.Context, st store.Store, mem memory.Allocator, partition int) (*Fragment, error) {
	ref, err := g.Ref(partition)
	if err != nil {
		return nil, err
	}
	obj, err := st.Get(ctx, ref.Fragment)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching fragment for partition %d", partition)
	}
	return DecodeFragment(mem, obj)
}

type groupContribution struct {
	Worker   int            `json:"worker"`
	Instance uint64         `json:"instance"`
	Fragment store.ObjectID `json:"fragment"`
}

type groupEnvelope struct {
	OK    bool           `json:"ok"`
	ID    store.ObjectID `json:"id,omitempty"`
	Error string         `json:"error,omitempty"`
}

// buildFragmentGroup runs the final collective of a load. Every worker
// contributes its sealed fragment handle to the leader; the leader lays
// the handles out by partition, seals and persists the directory, and
// broadcasts the result. Workers then read the directory back through
// their own store handle. A leader-side failure reaches every worker as
// a failure envelope instead of a handle, so nobody is left holding a
// partial directory.
func buildFragmentGroup(ctx context.Context, c comm.Communicator, st store.Store, loadID string, partitions int, frag store.ObjectID) (*FragmentGroup, error) {
	contribution, err := json.Marshal(groupContribution{
		Worker:   c.WorkerID(),
		Instance: st.InstanceID(),
		Fragment: frag,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encoding fragment handle")
	}
	gathered, err := c.GatherToLeader(ctx, contribution)
	if err != nil {
		return nil, errors.Wrap(err, "gathering fragment handles")
	}

	var envelope []byte
	if c.WorkerID() == comm.Leader {
		gid, err := sealGroup(ctx, c, st, loadID, partitions, gathered)
		env := groupEnvelope{OK: err == nil, ID: gid}
		if err != nil {
			env.Error = errors.MarshalJSON(err)
		}
		envelope, err = json.Marshal(env)
		if err != nil {
			envelope = []byte(`{"ok":false}`)
		}
	}

	raw, err := c.Broadcast(ctx, envelope)
	if err != nil {
		return nil, errors.Wrap(err, "broadcasting fragment group")
	}
	var env groupEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.New(ErrIOError, fmt.Sprintf("undecodable fragment group envelope %q", raw))
	}
	if !env.OK {
		cause := errors.UnmarshalJSON(strings.NewReader(env.Error))
		if c.WorkerID() == comm.Leader {
			return nil, cause
		}
		return nil, NewErrCollectiveFailure("building fragment group", comm.Leader, cause)
	}

	obj, err := st.Get(ctx, env.ID)
	if err != nil {
		return nil, errors.Wrap(err, "fetching fragment group")
	}
	return DecodeFragmentGroup(obj)
}

// sealGroup is the leader half of buildFragmentGroup.
func sealGroup(ctx context.Context, c comm.Communicator, st store.Store, loadID string, partitions int, gathered [][]byte) (store.ObjectID, error) {
	contributions := make([]groupContribution, len(gathered))
	for w, raw := range gathered {
		if err := json.Unmarshal(raw, &contributions[w]); err != nil {
			return 0, errors.New(ErrIOError, fmt.Sprintf("undecodable fragment handle from worker %d", w))
		}
		if contributions[w].Worker != w {
			return 0, errors.New(ErrIOError, fmt.Sprintf("worker %d sent a handle claiming rank %d", w, contributions[w].Worker))
		}
	}

	group := FragmentGroup{
		LoadID:     loadID,
		Partitions: partitions,
		Fragments:  make([]FragmentRef, partitions),
	}
	for p := 0; p < partitions; p++ {
		w := c.FragmentToWorker(p)
		if w < 0 || w >= len(contributions) {
			return 0, NewErrInvalidOperation(fmt.Sprintf("partition %d maps to worker %d, group has %d workers", p, w, len(contributions)))
		}
		group.Fragments[p] = FragmentRef{
			Partition: p,
			Worker:    w,
			Instance:  contributions[w].Instance,
			Fragment:  contributions[w].Fragment,
		}
	}

	payload, err := json.Marshal(group)
	if err != nil {
		return 0, errors.Wrap(err, "encoding fragment group")
	}
	gid, err := st.Seal(ctx, store.Object{
		Kind: KindFragmentGroup,
		Meta: map[string]string{
			"load_id":    loadID,
			"partitions": strconv.Itoa(partitions),
		},
		Payload: payload,
	})
	if err != nil {
		return 0, errors.Wrap(err, "sealing fragment group")
	}
	if err := st.Persist(ctx, gid); err != nil {
		return 0, errors.Wrap(err, "persisting fragment group")
	}
	return gid, nil
}

// DecodeFragmentGroup rebuilds a directory sealed by the leader.
func DecodeFragmentGroup(obj store.Object) (*FragmentGroup, error) {
	if obj.Kind != KindFragmentGroup {
		return nil, NewErrInvalidOperation(fmt.Sprintf("object %s is a %q, not a fragment group", obj.ID, obj.Kind))
	}
	var group FragmentGroup
	if err := json.Unmarshal(obj.Payload, &group); err != nil {
		return nil, errors.New(ErrIOError, fmt.Sprintf("fragment group %s: %v", obj.ID, err))
	}
	group.id = obj.ID
	return &group, nil
}
