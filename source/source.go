// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0

// Package source reads input files into arrow tables, one shard per
// worker. A source descriptor is
//
//	path#tag=value&tag=value
//
// and several descriptors can ride in one string separated by ';'. Files
// ending in .parquet are read as parquet, split by row group; everything
// else is read as delimited text, split by byte range. The reader
// interprets the header_row and delimiter tags on delimited sources; all
// other tags (label, src_label, dst_label, ...) are carried through
// Metadata for the caller to interpret.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	arrowcsv "github.com/apache/arrow/go/v10/arrow/csv"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"

	"github.com/graveldb/gravel/errors"
	"github.com/graveldb/gravel/logger"
)

// ErrIO classifies every failure to open, read, or parse a source. The
// code string is shared with the loader's IOError kind.
const ErrIO errors.Code = "IOError"

// Tags the reader itself interprets.
const (
	TagHeaderRow = "header_row"
	TagDelimiter = "delimiter"
)

// Descriptor is one parsed source: a file path plus its tags.
type Descriptor struct {
	Path string
	Tags map[string]string
}

// Split breaks a multi-source string on ';', dropping empty entries.
func Split(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) != "" {
			out = append(out, strings.TrimSpace(part))
		}
	}
	return out
}

// Parse reads a single descriptor. Tags are literal key=value pairs; there
// is no escaping.
func Parse(desc string) (Descriptor, error) {
	d := Descriptor{Tags: map[string]string{}}
	path, frag, found := strings.Cut(desc, "#")
	d.Path = path
	if d.Path == "" {
		return d, errors.New(ErrIO, fmt.Sprintf("source %q has no path", desc))
	}
	if !found || frag == "" {
		return d, nil
	}
	for _, pair := range strings.Split(frag, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return d, errors.New(ErrIO, fmt.Sprintf("source %q has malformed tag %q", desc, pair))
		}
		d.Tags[k] = v
	}
	return d, nil
}

// Tag returns the named tag or def when absent.
func (d Descriptor) Tag(key, def string) string {
	if v, ok := d.Tags[key]; ok {
		return v
	}
	return def
}

// Opener produces one shard of a source as an arrow table. A nil table
// (with nil error) means the shard holds no rows for this worker.
type Opener interface {
	Open(ctx context.Context, desc string, shard, shardCount int) (arrow.Table, error)
	Metadata(desc string) (map[string]string, error)
}

// Local reads delimited files from the local filesystem.
type Local struct {
	mem   memory.Allocator
	log   logger.Logger
	chunk int
}

var _ Opener = (*Local)(nil)

// NewLocal returns a Local reader. A nil allocator falls back to the Go
// allocator.
func NewLocal(mem memory.Allocator, log logger.Logger) *Local {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	if log == nil {
		log = logger.NopLogger
	}
	return &Local{mem: mem, log: log, chunk: 4096}
}

// Metadata parses the descriptor and returns its tags without touching
// the file.
func (l *Local) Metadata(desc string) (map[string]string, error) {
	d, err := Parse(desc)
	if err != nil {
		return nil, err
	}
	return d.Tags, nil
}

// Open reads this worker's shard of the file. Parquet files split by row
// group. Delimited files split by byte range, aligned to line boundaries
// with the usual rule: a shard that does not start the data skips through
// its first newline, and every shard reads one line past its nominal end,
// so each line lands in exactly one shard.
func (l *Local) Open(ctx context.Context, desc string, shard, shardCount int) (arrow.Table, error) {
	if shardCount < 1 || shard < 0 || shard >= shardCount {
		return nil, errors.New(ErrIO, fmt.Sprintf("shard %d of %d is out of range", shard, shardCount))
	}
	d, err := Parse(desc)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(strings.ToLower(d.Path), ".parquet") {
		return l.openParquet(ctx, d, shard, shardCount)
	}

	f, err := os.Open(d.Path)
	if err != nil {
		return nil, errors.New(ErrIO, fmt.Sprintf("opening %s: %v", d.Path, err))
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.New(ErrIO, fmt.Sprintf("stat %s: %v", d.Path, err))
	}
	size := fi.Size()
	if size == 0 {
		return nil, nil
	}

	comma := ','
	if delim := d.Tag(TagDelimiter, ""); delim != "" {
		comma = rune(delim[0])
	}

	// header is the line every shard parses under; dataStart is where the
	// file's row data begins (past the on-disk header line, if any).
	header, dataStart, err := l.header(f, d, comma, size)
	if err != nil {
		return nil, err
	}

	start := size * int64(shard) / int64(shardCount)
	end := size * int64(shard+1) / int64(shardCount)

	alignedStart := int64(0)
	if start > 0 {
		if alignedStart, err = skipPastNewline(f, start, size); err != nil {
			return nil, err
		}
	}
	alignedEnd := size
	if end < size {
		if alignedEnd, err = skipPastNewline(f, end, size); err != nil {
			return nil, err
		}
	}
	if alignedStart < dataStart {
		alignedStart = dataStart
	}
	if alignedStart >= alignedEnd {
		return nil, nil
	}
	l.log.Debugf("%s: shard %d/%d reads bytes %d-%d", d.Path, shard, shardCount, alignedStart, alignedEnd)

	section := io.NewSectionReader(f, alignedStart, alignedEnd-alignedStart)
	rd := io.MultiReader(strings.NewReader(header+"\n"), section)
	return l.readCSV(d, rd, comma)
}

// header returns the parse header and the offset of the first data byte.
// With header_row (the default) that is the file's first line and the
// offset past it; otherwise the header is synthesized as f0,f1,... sized
// to the first data line, and data starts at offset 0.
func (l *Local) header(f *os.File, d Descriptor, comma rune, size int64) (string, int64, error) {
	first, err := readFirstLine(f)
	if err != nil {
		return "", 0, errors.New(ErrIO, fmt.Sprintf("reading first line of %s: %v", d.Path, err))
	}

	if d.Tag(TagHeaderRow, "true") == "true" {
		dataStart, err := skipPastNewline(f, 0, size)
		if err != nil {
			return "", 0, err
		}
		return first, dataStart, nil
	}

	cr := csv.NewReader(strings.NewReader(first))
	cr.Comma = comma
	fields, err := cr.Read()
	if err != nil {
		return "", 0, errors.New(ErrIO, fmt.Sprintf("counting fields of %s: %v", d.Path, err))
	}
	names := make([]string, len(fields))
	for i := range names {
		names[i] = fmt.Sprintf("f%d", i)
	}
	return strings.Join(names, string(comma)), 0, nil
}

// openParquet reads this worker's slice of the file's row groups, using
// the same split rule as byte ranges. A shard landing between row groups
// holds no rows.
func (l *Local) openParquet(ctx context.Context, d Descriptor, shard, shardCount int) (arrow.Table, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, errors.New(ErrIO, fmt.Sprintf("opening %s: %v", d.Path, err))
	}
	pf, err := file.NewParquetReader(f)
	if err != nil {
		f.Close()
		return nil, errors.New(ErrIO, fmt.Sprintf("opening parquet %s: %v", d.Path, err))
	}
	defer pf.Close()

	n := pf.NumRowGroups()
	lo := n * shard / shardCount
	hi := n * (shard + 1) / shardCount
	if lo == hi {
		return nil, nil
	}
	l.log.Debugf("%s: shard %d/%d reads row groups %d-%d", d.Path, shard, shardCount, lo, hi-1)
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, l.mem)
	if err != nil {
		return nil, errors.New(ErrIO, fmt.Sprintf("reading parquet %s: %v", d.Path, err))
	}
	groups := make([]int, 0, hi-lo)
	for g := lo; g < hi; g++ {
		groups = append(groups, g)
	}
	tbl, err := reader.ReadRowGroups(ctx, nil, groups)
	if err != nil {
		return nil, errors.New(ErrIO, fmt.Sprintf("reading parquet %s row groups %d-%d: %v", d.Path, lo, hi-1, err))
	}
	return tbl, nil
}

func (l *Local) readCSV(d Descriptor, rd io.Reader, comma rune) (arrow.Table, error) {
	rdr := arrowcsv.NewInferringReader(rd,
		arrowcsv.WithAllocator(l.mem),
		arrowcsv.WithComma(comma),
		arrowcsv.WithHeader(true),
		arrowcsv.WithChunk(l.chunk),
	)
	defer rdr.Release()

	var recs []arrow.Record
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil {
		return nil, errors.New(ErrIO, fmt.Sprintf("parsing %s: %v", d.Path, err))
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return array.NewTableFromRecords(rdr.Schema(), recs), nil
}

// skipPastNewline returns the offset just past the first newline at or
// after off, or size when the remainder has none.
func skipPastNewline(f *os.File, off, size int64) (int64, error) {
	const window = 64 * 1024
	buf := make([]byte, window)
	for pos := off; pos < size; pos += window {
		n, err := f.ReadAt(buf, pos)
		if err != nil && err != io.EOF {
			return 0, errors.New(ErrIO, fmt.Sprintf("scanning for line boundary: %v", err))
		}
		if i := bytes.IndexByte(buf[:n], '\n'); i >= 0 {
			return pos + int64(i) + 1, nil
		}
		if err == io.EOF {
			break
		}
	}
	return size, nil
}

func readFirstLine(f *os.File) (string, error) {
	r := bufio.NewReader(io.NewSectionReader(f, 0, 1<<30))
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
