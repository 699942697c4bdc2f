// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package store

import (
	"context"
	"sync"

	"github.com/graveldb/gravel/errors"
)

// cluster is the table shared by the handles of an in-memory store.
type cluster struct {
	mu        sync.RWMutex
	objects   map[ObjectID]*memObject
	instances uint64
}

type memObject struct {
	obj       Object
	persisted bool
}

// Inmem is an in-memory Store handle. Handles created by the same
// NewCluster call share one object table but seal under distinct
// instance ids, mirroring a one-store-per-worker deployment.
type Inmem struct {
	c        *cluster
	instance uint64
	seq      uint64
	seqMu    sync.Mutex
}

var _ Store = (*Inmem)(nil)

// NewCluster returns n in-memory store handles over one shared table.
func NewCluster(n int) []*Inmem {
	c := &cluster{objects: make(map[ObjectID]*memObject)}
	out := make([]*Inmem, n)
	for i := range out {
		c.instances++
		out[i] = &Inmem{c: c, instance: c.instances}
	}
	return out
}

// NewInmem returns a single-handle in-memory store.
func NewInmem() *Inmem {
	return NewCluster(1)[0]
}

func (s *Inmem) InstanceID() uint64 { return s.instance }

func (s *Inmem) Seal(ctx context.Context, obj Object) (ObjectID, error) {
	s.seqMu.Lock()
	s.seq++
	id := NewObjectID(s.instance, s.seq)
	s.seqMu.Unlock()

	obj.ID = id
	obj.Instance = s.instance
	if obj.Meta != nil {
		meta := make(map[string]string, len(obj.Meta))
		for k, v := range obj.Meta {
			meta[k] = v
		}
		obj.Meta = meta
	}

	s.c.mu.Lock()
	s.c.objects[id] = &memObject{obj: obj}
	s.c.mu.Unlock()
	return id, nil
}

func (s *Inmem) Get(ctx context.Context, id ObjectID) (Object, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	mo, ok := s.c.objects[id]
	if !ok || (!mo.persisted && mo.obj.Instance != s.instance) {
		return Object{}, errors.New(ErrObjectNotFound, "object not found: "+id.String())
	}
	return mo.obj, nil
}

func (s *Inmem) Persist(ctx context.Context, id ObjectID) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	mo, ok := s.c.objects[id]
	if !ok {
		return errors.New(ErrObjectNotFound, "object not found: "+id.String())
	}
	mo.persisted = true
	return nil
}
