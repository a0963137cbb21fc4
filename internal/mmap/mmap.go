// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build unix

// Package mmap maps a region file read-write and shared, so stores into
// the mapping land in the page cache and reach the file on msync or
// eviction.
package mmap

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var (
	ErrClosed      = errors.New("mmap: mapping is closed")
	ErrInvalidSize = errors.New("mmap: invalid size")
)

// SyncMode selects how Sync waits for dirty pages.
type SyncMode int

const (
	// SyncAsync schedules the write-back and returns.
	SyncAsync SyncMode = iota
	// SyncSync blocks until the pages are on stable storage.
	SyncSync
)

func (m SyncMode) String() string {
	switch m {
	case SyncAsync:
		return "async"
	case SyncSync:
		return "sync"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

// AccessPattern is a paging hint for the kernel.
type AccessPattern int

const (
	AccessDefault AccessPattern = iota
	AccessRandom
	AccessSequential
	AccessWillNeed
)

// Mapping is a read-write shared mapping of the first size bytes of a
// file.  The file itself stays owned by the caller.
type Mapping struct {
	data   []byte
	locked bool
	closed atomic.Bool
}

// Map maps size bytes of f.  The file must already be at least size bytes
// long.
func Map(f *os.File, size int64) (*Mapping, error) {
	if size <= 0 || size != int64(int(size)) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap(%s): %w", f.Name(), err)
	}
	return &Mapping{data: data}, nil
}

// Bytes returns the mapped memory.  It must not be used after Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Size returns the length of the mapping in bytes.
func (m *Mapping) Size() int {
	return len(m.data)
}

// Sync flushes dirty pages back to the file.
func (m *Mapping) Sync(mode SyncMode) error {
	if m.closed.Load() {
		return ErrClosed
	}
	flags := unix.MS_ASYNC
	if mode == SyncSync {
		flags = unix.MS_SYNC
	}
	if err := unix.Msync(m.data, flags); err != nil {
		return fmt.Errorf("unix.Msync(%s): %w", mode, err)
	}
	return nil
}

// Lock pins the mapping in physical memory.
func (m *Mapping) Lock() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := unix.Mlock(m.data); err != nil {
		return fmt.Errorf("unix.Mlock: %w", err)
	}
	m.locked = true
	return nil
}

// Unlock releases a previous Lock.  It is a no-op when not locked.
func (m *Mapping) Unlock() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.locked {
		return nil
	}
	if err := unix.Munlock(m.data); err != nil {
		return fmt.Errorf("unix.Munlock: %w", err)
	}
	m.locked = false
	return nil
}

// Advise passes an access pattern hint to the kernel.  Hints are
// advisory, so EINVAL from an unsupported combination is ignored.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	var advice int
	switch pattern {
	case AccessRandom:
		advice = unix.MADV_RANDOM
	case AccessSequential:
		advice = unix.MADV_SEQUENTIAL
	case AccessWillNeed:
		advice = unix.MADV_WILLNEED
	default:
		advice = unix.MADV_NORMAL
	}
	if err := unix.Madvise(m.data, advice); err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("unix.Madvise: %w", err)
	}
	return nil
}

// Close unmaps the memory without flushing it.  Closing twice is a no-op.
func (m *Mapping) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	data := m.data
	m.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("unix.Munmap: %w", err)
	}
	return nil
}
