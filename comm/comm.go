// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0

// Package comm defines the collective-communication contract between the
// workers of a loading group. Every worker participates in every
// collective, in the same order; a collective blocks until the whole group
// has arrived. There are no internal timeouts, cancellation comes from the
// caller's context.
package comm

import "context"

// Leader is the worker id that gathers and seals group-wide objects.
const Leader = 0

// Communicator connects one worker to its loading group. Implementations
// must deliver byte payloads intact and in worker-rank order; they are not
// required to survive worker failure (a vanished worker leaves the group
// blocked until the callers' contexts expire).
type Communicator interface {
	// WorkerID reports this worker's rank, in [0, WorkerCount).
	WorkerID() int

	// WorkerCount reports the fixed size of the group.
	WorkerCount() int

	// FragmentToWorker maps a fragment (partition) index to the worker
	// that owns it. The mapping is total and identical on every worker.
	FragmentToWorker(fragment int) int

	// AllGather delivers every worker's payload to every worker, indexed
	// by rank. Callers must treat the returned payloads as read-only.
	AllGather(ctx context.Context, payload []byte) ([][]byte, error)

	// GatherToLeader delivers every worker's payload to the leader,
	// indexed by rank. Non-leader callers get a nil slice.
	GatherToLeader(ctx context.Context, payload []byte) ([][]byte, error)

	// Broadcast delivers the leader's payload to every worker. Only the
	// leader's payload argument is consulted.
	Broadcast(ctx context.Context, payload []byte) ([]byte, error)
}
