// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0

// Package store defines the shared object store that loading workers seal
// fragments into. Objects are immutable once sealed; Persist flips the one
// mutable bit, making an object discoverable by every worker instead of
// only the instance that sealed it.
package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/graveldb/gravel/errors"
)

const (
	ErrObjectNotFound   errors.Code = "ObjectNotFound"
	ErrChecksumMismatch errors.Code = "ChecksumMismatch"
)

// ObjectID identifies a sealed object. The id encodes the sealing
// instance in the high bits, so instances allocate ids without
// coordinating.
type ObjectID uint64

// instanceShift positions the instance id above a 40-bit sequence space.
const instanceShift = 40

// NewObjectID builds an id from a sealing instance and its local sequence
// number.
func NewObjectID(instance uint64, seq uint64) ObjectID {
	return ObjectID(instance<<instanceShift | seq&(1<<instanceShift-1))
}

// Instance reports the instance that sealed the object.
func (id ObjectID) Instance() uint64 {
	return uint64(id) >> instanceShift
}

func (id ObjectID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// ParseObjectID reads the hex form produced by String.
func ParseObjectID(s string) (ObjectID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing object id %q", s)
	}
	return ObjectID(v), nil
}

// Object is an immutable record: a kind tag, string metadata, and an
// opaque payload. Instance records which store instance sealed it.
type Object struct {
	ID       ObjectID
	Kind     string
	Meta     map[string]string
	Payload  []byte
	Instance uint64
}

// Store is one worker's handle on the shared object store.
//
// Seal assigns the object an id and writes it; the caller's ID field is
// ignored. A sealed object is immediately visible to its own instance and
// becomes visible to the rest of the cluster once Persisted. Implementations
// must keep concurrent seals from distinct instances independent.
type Store interface {
	InstanceID() uint64
	Seal(ctx context.Context, obj Object) (ObjectID, error)
	Get(ctx context.Context, id ObjectID) (Object, error)
	Persist(ctx context.Context, id ObjectID) error
}
