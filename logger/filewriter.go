// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package logger

import (
	"os"
	"sync"
)

// FileWriter is an append-only log file that can be reopened at its
// original path, so an external rotation (rename plus SIGHUP) does not
// leave the process writing to the renamed inode.
type FileWriter struct {
	mu   sync.Mutex
	path string
	perm os.FileMode
	f    *os.File
}

// NewFileWriter opens path for appending, creating it if needed.
func NewFileWriter(path string) (*FileWriter, error) {
	w := &FileWriter{path: path, perm: 0o600}
	f, err := w.open()
	if err != nil {
		return nil, err
	}
	w.f = f
	return w, nil
}

func (w *FileWriter) open() (*os.File, error) {
	return os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, w.perm)
}

// Write appends to whatever file is currently open. A file that has been
// renamed away keeps receiving writes until Reopen is called.
func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Write(p)
}

// Reopen closes the current file and opens a fresh one at the original
// path.
func (w *FileWriter) Reopen() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return err
	}
	w.f.Close()
	w.f = f
	return nil
}

// Close closes the underlying file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
