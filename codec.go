// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/ipc"
	"github.com/apache/arrow/go/v10/arrow/memory"

	"github.com/graveldb/gravel/errors"
)

// encodeTable renders tbl as an Arrow IPC stream. A nil table encodes to
// nil; a zero-row table encodes to a schema-only stream, so the two are
// distinguishable on the wire.
func encodeTable(tbl arrow.Table) ([]byte, error) {
	if tbl == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(tbl.Schema()))
	tr := array.NewTableReader(tbl, 0)
	defer tr.Release()
	for tr.Next() {
		if err := w.Write(tr.Record()); err != nil {
			return nil, errors.New(ErrIOError, fmt.Sprintf("writing arrow stream: %v", err))
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.New(ErrIOError, fmt.Sprintf("closing arrow stream: %v", err))
	}
	return buf.Bytes(), nil
}

func decodeTable(mem memory.Allocator, b []byte) (arrow.Table, error) {
	if len(b) == 0 {
		return nil, nil
	}
	r, err := ipc.NewReader(bytes.NewReader(b), ipc.WithAllocator(mem))
	if err != nil {
		return nil, errors.New(ErrIOError, fmt.Sprintf("reading arrow stream: %v", err))
	}
	var recs []arrow.Record
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := r.Err(); err != nil {
		return nil, errors.New(ErrIOError, fmt.Sprintf("reading arrow stream: %v", err))
	}
	if len(recs) == 0 {
		return emptyTable(r.Schema(), mem), nil
	}
	return array.NewTableFromRecords(r.Schema(), recs), nil
}

// encodeSchema renders a schema-only IPC stream; nil encodes to nil.
func encodeSchema(s *arrow.Schema) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(s))
	if err := w.Close(); err != nil {
		return nil, errors.New(ErrIOError, fmt.Sprintf("writing schema stream: %v", err))
	}
	return buf.Bytes(), nil
}

func decodeSchema(b []byte) (*arrow.Schema, error) {
	if len(b) == 0 {
		return nil, nil
	}
	r, err := ipc.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, errors.New(ErrIOError, fmt.Sprintf("reading schema stream: %v", err))
	}
	return r.Schema(), nil
}

// encodeFrames packs several byte frames into one collective payload.
// Frames keep their length, so empty and nil frames survive the trip.
func encodeFrames(frames [][]byte) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(frames)))
	buf.Write(tmp[:n])
	for _, f := range frames {
		n = binary.PutUvarint(tmp[:], uint64(len(f)))
		buf.Write(tmp[:n])
		buf.Write(f)
	}
	return buf.Bytes()
}

func decodeFrames(b []byte) ([][]byte, error) {
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, errors.New(ErrIOError, "truncated frame bundle")
	}
	b = b[n:]
	frames := make([][]byte, count)
	for i := range frames {
		size, n := binary.Uvarint(b)
		if n <= 0 || uint64(len(b[n:])) < size {
			return nil, errors.New(ErrIOError, "truncated frame bundle")
		}
		frames[i] = b[n : n+int(size)]
		b = b[n+int(size):]
	}
	return frames, nil
}
