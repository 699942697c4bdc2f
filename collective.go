// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/graveldb/gravel/comm"
	"github.com/graveldb/gravel/errors"
)

// workerStatus is one worker's outcome of a fallible local step, as
// exchanged with the rest of the group.
type workerStatus struct {
	Worker int    `json:"worker"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// groupCheck publishes the local outcome of the step named op and
// collects everyone else's. Every worker reaches the exchange whether its
// step succeeded or not, so the group always agrees on whether to
// continue. A local failure comes back as itself; a clean worker learning
// of a peer's failure gets CollectiveFailure naming the first failed
// rank, with the peer's error carried across the wire.
func groupCheck(ctx context.Context, c comm.Communicator, op string, local error) error {
	st := workerStatus{Worker: c.WorkerID(), OK: local == nil}
	if local != nil {
		st.Error = errors.MarshalJSON(local)
	}
	payload, jerr := json.Marshal(st)
	if jerr != nil {
		payload = []byte(fmt.Sprintf(`{"worker":%d,"ok":false}`, c.WorkerID()))
	}

	all, err := c.AllGather(ctx, payload)
	if err != nil {
		return errors.Wrap(err, op)
	}
	if local != nil {
		return errors.Wrap(local, op)
	}
	for rank, raw := range all {
		if rank == c.WorkerID() {
			continue
		}
		var peer workerStatus
		if err := json.Unmarshal(raw, &peer); err != nil {
			return NewErrCollectiveFailure(op, rank, errors.Errorf("undecodable status %q", raw))
		}
		if !peer.OK {
			return NewErrCollectiveFailure(op, rank, errors.UnmarshalJSON(strings.NewReader(peer.Error)))
		}
	}
	return nil
}
