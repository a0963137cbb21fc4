// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package memhash

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bpowers/memhash/internal/ondisk"
	"github.com/bpowers/memhash/internal/snapshot"
)

// Codec selects snapshot compression.
type Codec = snapshot.Codec

const (
	CodecNone = snapshot.CodecNone
	CodecLZ4  = snapshot.CodecLZ4
	CodecZstd = snapshot.CodecZstd
)

// ParseCodec accepts "none", "lz4" or "zstd".
func ParseCodec(name string) (Codec, error) {
	return snapshot.ParseCodec(name)
}

// Export writes every live entry to a snapshot at path and returns how many
// were written.  Expired entries are skipped but not reclaimed.  The
// snapshot appears at path atomically.
func (s *Store) Export(path string, codec Codec) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	// we want to write to a new file and do an atomic rename when we're done on disk
	path, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("filepath.Abs: %w", err)
	}
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "memhash-export.*.snap")
	if err != nil {
		return 0, fmt.Errorf("CreateTemp failed (may need permissions for dir %q): %w", dir, err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}

	w, err := snapshot.NewWriter(f, codec)
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("snapshot.NewWriter: %w", err)
	}

	nodes := s.r.Nodes
	var buf []byte
	for i := 0; i < nodes.Len(); i++ {
		n := nodes.Get(ondisk.Slot(i))
		if n.Empty() || s.expired(n) {
			continue
		}
		if cap(buf) < int(n.Len) {
			buf = make([]byte, n.Len)
		}
		buf = buf[:n.Len]
		if err := s.pool.Read(n.Head, int(n.Len), buf); err != nil {
			cleanup()
			return 0, fmt.Errorf("key %d: %w", n.Key, err)
		}
		if err := w.Write(n.Key, buf); err != nil {
			cleanup()
			return 0, fmt.Errorf("snapshot.Write: %w", err)
		}
	}
	if err := w.Finish(); err != nil {
		cleanup()
		return 0, fmt.Errorf("snapshot.Finish: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return 0, fmt.Errorf("f.Sync: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return 0, fmt.Errorf("f.Close: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		_ = os.Remove(f.Name())
		return 0, fmt.Errorf("os.Rename: %w", err)
	}
	s.logger.Info("exported snapshot", "path", path, "codec", codec, "records", w.Count())
	return int(w.Count()), nil
}

// Import Sets every record of the snapshot at path and returns how many
// were stored.  It stops at the first error; records before it stay
// stored.
func (s *Store) Import(path string) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("os.Open: %w", err)
	}
	defer f.Close()

	r, err := snapshot.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("snapshot.NewReader(%s): %w", path, err)
	}
	defer r.Close()

	count := 0
	for {
		key, value, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return count, err
		}
		if err := s.Set(key, value); err != nil {
			return count, fmt.Errorf("importing key %d: %w", key, err)
		}
		count++
	}
	s.logger.Info("imported snapshot", "path", path, "codec", r.Codec(), "records", count)
	return count, nil
}
