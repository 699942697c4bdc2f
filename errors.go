// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"

	"github.com/graveldb/gravel/errors"
)

// Every failure a load can surface carries one of these codes. Workers
// exchange them during the synchronized status check, so a code must say
// enough on its own to steer the caller.
const (
	// ErrMissingLabelMetadata: a source or in-memory table arrived without
	// the label metadata that binds it to the graph schema.
	ErrMissingLabelMetadata errors.Code = "MissingLabelMetadata"

	// ErrInconsistentLabelMapping: a label resolved to two different
	// indices, or referenced a vertex label nobody declared.
	ErrInconsistentLabelMapping errors.Code = "InconsistentLabelMapping"

	// ErrEmptySchemaSet: no worker holds a schema for a table, so there is
	// nothing to reconcile.
	ErrEmptySchemaSet errors.Code = "EmptySchemaSet"

	// ErrUnsupportedCast: schema reconciliation demanded a conversion
	// outside the widening lattice.
	ErrUnsupportedCast errors.Code = "UnsupportedCast"

	// ErrUnresolvedVertex: an edge endpoint references a vertex id the
	// vertex map never saw.
	ErrUnresolvedVertex errors.Code = "UnresolvedVertex"

	// ErrLabelIndexConflict: the label-to-index mapping is not a bijection
	// onto [0, labels).
	ErrLabelIndexConflict errors.Code = "LabelIndexConflict"

	// ErrInvalidOperation: the loader was configured in a way that cannot
	// run, independent of the data.
	ErrInvalidOperation errors.Code = "InvalidOperation"

	// ErrIOError: an underlying read or parse failed.
	ErrIOError errors.Code = "IOError"

	// ErrCollectiveFailure: this worker was fine, but a peer failed and
	// the group aborted together.
	ErrCollectiveFailure errors.Code = "CollectiveFailure"
)

func NewErrMissingLabelMetadata(msg string) error {
	return errors.New(ErrMissingLabelMetadata, msg)
}

func NewErrUnsupportedCast(from, to arrow.DataType) error {
	return errors.New(
		ErrUnsupportedCast,
		fmt.Sprintf("unsupported cast from %s to %s", from, to),
	)
}

func NewErrUnresolvedVertex(label string, key VertexKey) error {
	return errors.New(
		ErrUnresolvedVertex,
		fmt.Sprintf("vertex '%s' with id '%s' is not in the vertex map", label, key),
	)
}

func NewErrInvalidOperation(msg string) error {
	return errors.New(ErrInvalidOperation, msg)
}

func NewErrCollectiveFailure(op string, worker int, cause error) error {
	return errors.New(
		ErrCollectiveFailure,
		fmt.Sprintf("%s failed on worker %d: %v", op, worker, cause),
	)
}
