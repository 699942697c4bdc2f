// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/graveldb/gravel/errors"
)

// ErrMismatchedCollective is returned by every member of a round in which
// two workers invoked different collectives. Reporting it beats the
// silent deadlock that a real transport would produce.
const ErrMismatchedCollective errors.Code = "MismatchedCollective"

// NewLocalGroup returns n communicators wired to each other in-process.
// Worker i gets the i'th communicator. The group simulates a distributed
// loading group inside one process: tests and the single-machine CLI run
// one worker per goroutine.
func NewLocalGroup(n int) ([]Communicator, error) {
	if n < 1 {
		return nil, errors.Errorf("local group size must be at least 1, got %d", n)
	}
	h := &hub{n: n}
	out := make([]Communicator, n)
	for i := range out {
		out[i] = &localComm{id: i, hub: h}
	}
	return out, nil
}

// hub is the shared rendezvous point. One round is open at a time; the
// last arriver publishes the slots and opens the door for the next round.
type hub struct {
	n   int
	mu  sync.Mutex
	cur *round
}

type round struct {
	op        string
	slots     [][]byte
	remaining int
	err       error
	done      chan struct{}
}

func (h *hub) exchange(ctx context.Context, op string, id int, payload []byte) ([][]byte, error) {
	h.mu.Lock()
	r := h.cur
	if r == nil {
		r = &round{
			op:        op,
			slots:     make([][]byte, h.n),
			remaining: h.n,
			done:      make(chan struct{}),
		}
		h.cur = r
	}
	if r.op != op && r.err == nil {
		r.err = errors.New(ErrMismatchedCollective,
			fmt.Sprintf("worker %d called %s while the group is in %s", id, op, r.op))
	}
	r.slots[id] = payload
	r.remaining--
	if r.remaining == 0 {
		h.cur = nil
		h.mu.Unlock()
		close(r.done)
	} else {
		h.mu.Unlock()
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), op)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	out := make([][]byte, h.n)
	copy(out, r.slots)
	return out, nil
}

type localComm struct {
	id  int
	hub *hub
}

func (c *localComm) WorkerID() int { return c.id }

func (c *localComm) WorkerCount() int { return c.hub.n }

func (c *localComm) FragmentToWorker(fragment int) int {
	// Round-robin; with one fragment per worker this is the identity.
	return fragment % c.hub.n
}

func (c *localComm) AllGather(ctx context.Context, payload []byte) ([][]byte, error) {
	return c.hub.exchange(ctx, "AllGather", c.id, payload)
}

func (c *localComm) GatherToLeader(ctx context.Context, payload []byte) ([][]byte, error) {
	slots, err := c.hub.exchange(ctx, "GatherToLeader", c.id, payload)
	if err != nil {
		return nil, err
	}
	if c.id != Leader {
		return nil, nil
	}
	return slots, nil
}

func (c *localComm) Broadcast(ctx context.Context, payload []byte) ([]byte, error) {
	slots, err := c.hub.exchange(ctx, "Broadcast", c.id, payload)
	if err != nil {
		return nil, err
	}
	return slots[Leader], nil
}
