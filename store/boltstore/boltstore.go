// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0

// Package boltstore is the bbolt-backed object store. One DB serves a
// whole single-machine loading group; each worker seals through its own
// Handle so object ids never collide.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/graveldb/gravel/errors"
	"github.com/graveldb/gravel/hash"
	"github.com/graveldb/gravel/store"
)

var (
	bucketObjects = []byte("objects")
	bucketMeta    = []byte("meta")
)

// DB wraps a bolt database holding sealed objects.
type DB struct {
	db     *bolt.DB
	path   string
	hasher *hash.Blake3Hasher
}

// Open opens (creating if needed) the object store at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	db, err := bolt.Open(path, 0666, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open file: %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketObjects, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return errors.Wrapf(err, "creating bucket: %s", bucket)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &DB{db: db, path: path, hasher: hash.NewBlake3Hasher()}, nil
}

// checksum hex-encodes the 16 byte blake3 sum of payload through the
// shared db hasher.
func (d *DB) checksum(payload []byte) string {
	var buf [16]byte
	return fmt.Sprintf("%x", d.hasher.CryptoHash(payload, buf[:]))
}

// Close closes the underlying bolt database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// NewHandle returns a store handle with a fresh instance id. Handles are
// cheap; open one per worker.
func (d *DB) NewHandle() (*Handle, error) {
	var instance uint64
	err := d.db.Update(func(tx *bolt.Tx) error {
		seq, err := tx.Bucket(bucketMeta).NextSequence()
		if err != nil {
			return errors.Wrap(err, "allocating instance id")
		}
		instance = seq
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Handle{d: d, instance: instance}, nil
}

// Handle is one worker's view of the store.
type Handle struct {
	d        *DB
	instance uint64
	seq      uint64
	seqMu    sync.Mutex
}

var _ store.Store = (*Handle)(nil)

// objectHeader is the json-encoded prefix of every stored value; the raw
// payload follows it.
type objectHeader struct {
	Kind      string            `json:"kind"`
	Meta      map[string]string `json:"meta,omitempty"`
	Instance  uint64            `json:"instance"`
	Persisted bool              `json:"persisted"`
	Checksum  string            `json:"checksum"`
}

func (h *Handle) InstanceID() uint64 { return h.instance }

func (h *Handle) Seal(ctx context.Context, obj store.Object) (store.ObjectID, error) {
	h.seqMu.Lock()
	h.seq++
	id := store.NewObjectID(h.instance, h.seq)
	h.seqMu.Unlock()

	hdr := objectHeader{
		Kind:     obj.Kind,
		Meta:     obj.Meta,
		Instance: h.instance,
		Checksum: h.d.checksum(obj.Payload),
	}
	value, err := encodeValue(hdr, obj.Payload)
	if err != nil {
		return 0, err
	}

	err = h.d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).Put(idKey(id), value)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "sealing object %s", id)
	}
	return id, nil
}

func (h *Handle) Get(ctx context.Context, id store.ObjectID) (store.Object, error) {
	var hdr objectHeader
	var payload []byte
	err := h.d.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketObjects).Get(idKey(id))
		if value == nil {
			return errors.New(store.ErrObjectNotFound, "object not found: "+id.String())
		}
		var err error
		hdr, payload, err = decodeValue(value)
		return err
	})
	if err != nil {
		return store.Object{}, err
	}
	if !hdr.Persisted && hdr.Instance != h.instance {
		return store.Object{}, errors.New(store.ErrObjectNotFound, "object not found: "+id.String())
	}
	if sum := hash.Blake3sum16(payload); sum != hdr.Checksum {
		return store.Object{}, errors.New(store.ErrChecksumMismatch,
			"object "+id.String()+" payload checksum "+sum+" does not match sealed "+hdr.Checksum)
	}
	return store.Object{
		ID:       id,
		Kind:     hdr.Kind,
		Meta:     hdr.Meta,
		Payload:  payload,
		Instance: hdr.Instance,
	}, nil
}

func (h *Handle) Persist(ctx context.Context, id store.ObjectID) error {
	return h.d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		value := b.Get(idKey(id))
		if value == nil {
			return errors.New(store.ErrObjectNotFound, "object not found: "+id.String())
		}
		hdr, payload, err := decodeValue(value)
		if err != nil {
			return err
		}
		if hdr.Persisted {
			return nil
		}
		hdr.Persisted = true
		value, err = encodeValue(hdr, payload)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), value)
	})
}

// Each reads every object in the store in id order, persisted or not.
// It serves inspection tooling, not the loading pipeline.
func (d *DB) Each(fn func(obj store.Object) error) error {
	return d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			hdr, payload, err := decodeValue(v)
			if err != nil {
				return err
			}
			return fn(store.Object{
				ID:       store.ObjectID(binary.BigEndian.Uint64(k)),
				Kind:     hdr.Kind,
				Meta:     hdr.Meta,
				Payload:  payload,
				Instance: hdr.Instance,
			})
		})
	})
}

func idKey(id store.ObjectID) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(id))
	return k[:]
}

func encodeValue(hdr objectHeader, payload []byte) ([]byte, error) {
	j, err := json.Marshal(hdr)
	if err != nil {
		return nil, errors.Wrap(err, "encoding object header")
	}
	value := make([]byte, 0, binary.MaxVarintLen64+len(j)+len(payload))
	var lenbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenbuf[:], uint64(len(j)))
	value = append(value, lenbuf[:n]...)
	value = append(value, j...)
	value = append(value, payload...)
	return value, nil
}

func decodeValue(value []byte) (objectHeader, []byte, error) {
	var hdr objectHeader
	hlen, n := binary.Uvarint(value)
	if n <= 0 || uint64(len(value)-n) < hlen {
		return hdr, nil, errors.New(errors.ErrUncoded, "corrupt object value")
	}
	if err := json.Unmarshal(value[n:n+int(hlen)], &hdr); err != nil {
		return hdr, nil, errors.Wrap(err, "decoding object header")
	}
	payload := make([]byte, len(value)-n-int(hlen))
	copy(payload, value[n+int(hlen):])
	return hdr, payload, nil
}
