// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package memhash

import (
	"errors"
	"fmt"
	"time"

	"github.com/bpowers/memhash/internal/checksum"
	"github.com/bpowers/memhash/internal/ondisk"
)

// Stats reports how full the region is.
type Stats struct {
	NodesUsed        int
	NodeCapacity     int
	BlocksUsed       int
	BlockCapacity    int
	NodeUsedPercent  int
	BlockUsedPercent int
}

func (s *Store) checkKey(key uint64) error {
	if s.closed {
		return ErrClosed
	}
	if key == 0 {
		return ErrKeyZero
	}
	return nil
}

func (s *Store) expired(n ondisk.Node) bool {
	if s.cfg.Retention <= 0 {
		return false
	}
	age := s.now().Unix() - n.Stamp
	return time.Duration(age)*time.Second > s.cfg.Retention
}

// find returns the slot holding key, ignoring expiry.
func (s *Store) find(key uint64) (ondisk.Slot, ondisk.Node, error) {
	slot, ok := s.idx.Locate(s.r.Nodes, key)
	if !ok {
		return 0, ondisk.Node{}, ErrNotFound
	}
	return slot, s.r.Nodes.Get(slot), nil
}

// lookup is find plus expiry: an expired entry is removed and reported as
// ErrExpired.
func (s *Store) lookup(key uint64) (ondisk.Slot, ondisk.Node, error) {
	slot, n, err := s.find(key)
	if err != nil {
		return 0, n, err
	}
	if s.expired(n) {
		if err := s.remove(slot); err != nil {
			return 0, n, err
		}
		return 0, n, ErrExpired
	}
	return slot, n, nil
}

// remove frees slot's chain and clears it.  It does not count as a
// mutation; callers that expose it do.
func (s *Store) remove(slot ondisk.Slot) error {
	n := s.r.Nodes.Get(slot)
	s.r.Nodes.Clear(slot)
	if used := s.r.Header.NodesUsed(); used > 0 {
		s.r.Header.SetNodesUsed(used - 1)
	}
	if _, err := s.pool.Release(n.Head); err != nil {
		s.logger.Warn("releasing chain", "slot", slot, "key", n.Key, "err", err)
		return fmt.Errorf("key %d: %w", n.Key, err)
	}
	return nil
}

// evictExpired lets the index reclaim a slot whose occupant has expired.
func (s *Store) evictExpired(slot ondisk.Slot) bool {
	n := s.r.Nodes.Get(slot)
	if !s.expired(n) {
		return false
	}
	s.logger.Debug("evicting expired entry", "slot", slot, "key", n.Key)
	return s.remove(slot) == nil
}

// changed counts a completed public mutation and flushes once SyncEvery
// have accumulated.
// A failed flush is logged; the mutation itself already succeeded.
func (s *Store) changed() {
	s.changes++
	if s.cfg.SyncEvery <= 0 || s.changes < s.cfg.SyncEvery {
		return
	}
	s.changes = 0
	if err := s.m.Sync(s.cfg.SyncMode.mmap()); err != nil {
		s.logger.Error("periodic sync failed", "err", err)
	}
}

// Set stores value under key, replacing any existing value.
func (s *Store) Set(key uint64, value []byte) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	need := s.pool.BlocksFor(len(value))
	if need > s.maxChain {
		return fmt.Errorf("%w: %d bytes needs %d blocks, max %d", ErrValueTooLarge, len(value), need, s.maxChain)
	}
	if free := s.pool.Free(); need > free {
		return fmt.Errorf("%w: need %d, have %d", ErrNoFreeBlocks, need, free)
	}

	if slot, ok := s.idx.Locate(s.r.Nodes, key); ok {
		if err := s.remove(slot); err != nil {
			return err
		}
	}

	slot, ok := s.idx.FindInsert(s.r.Nodes, key, s.evictExpired)
	if !ok {
		s.logger.Debug("no slot", "key", key)
		return fmt.Errorf("%w: key %d", ErrNoSlot, key)
	}
	// evicting an expired entry only ever frees blocks
	head, _, err := s.pool.Allocate(value)
	if err != nil {
		return err
	}
	s.r.Nodes.Put(slot, ondisk.Node{
		Key:   key,
		Stamp: s.now().Unix(),
		Len:   uint32(len(value)),
		Sum:   checksum.Compute(value),
		Head:  head,
	})
	s.r.Header.SetNodesUsed(s.r.Header.NodesUsed() + 1)
	s.changed()
	return nil
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(key uint64) ([]byte, error) {
	if err := s.checkKey(key); err != nil {
		return nil, err
	}
	_, n, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	value := make([]byte, n.Len)
	if err := s.pool.Read(n.Head, int(n.Len), value); err != nil {
		return nil, fmt.Errorf("key %d: %w", key, err)
	}
	return value, nil
}

// ReadInto copies the value stored under key into dst and returns its
// length.  dst must be large enough for the whole value.
func (s *Store) ReadInto(key uint64, dst []byte) (int, error) {
	if err := s.checkKey(key); err != nil {
		return 0, err
	}
	slot, n, err := s.find(key)
	if err != nil {
		return 0, err
	}
	if int(n.Len) > len(dst) {
		return int(n.Len), fmt.Errorf("%w: value is %d bytes, buffer %d", ErrBufferTooSmall, n.Len, len(dst))
	}
	if s.expired(n) {
		if err := s.remove(slot); err != nil {
			return 0, err
		}
		return 0, ErrExpired
	}
	if err := s.pool.Read(n.Head, int(n.Len), dst); err != nil {
		return 0, fmt.Errorf("key %d: %w", key, err)
	}
	return int(n.Len), nil
}

// Exists reports whether a live entry is stored under key.
func (s *Store) Exists(key uint64) bool {
	if s.checkKey(key) != nil {
		return false
	}
	_, _, err := s.lookup(key)
	return err == nil
}

// Delete removes key.
func (s *Store) Delete(key uint64) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	slot, _, err := s.find(key)
	if err != nil {
		return err
	}
	if err := s.remove(slot); err != nil {
		return err
	}
	s.changed()
	return nil
}

// Append adds value to the end of the value stored under key.  A missing
// or expired key is Set instead.  Appending does not refresh the entry's
// stamp.
func (s *Store) Append(key uint64, value []byte) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	slot, n, err := s.lookup(key)
	if errors.Is(err, ErrNotFound) {
		return s.Set(key, value)
	} else if err != nil {
		return err
	}
	if len(value) == 0 {
		return nil
	}

	oldLen := int(n.Len)
	total := oldLen + len(value)
	need := s.pool.BlocksFor(total)
	if need > s.maxChain {
		return fmt.Errorf("%w: %d bytes needs %d blocks, max %d", ErrValueTooLarge, total, need, s.maxChain)
	}
	if extra, free := need-s.pool.BlocksFor(oldLen), s.pool.Free(); extra > free {
		return fmt.Errorf("%w: need %d, have %d", ErrNoFreeBlocks, extra, free)
	}

	if oldLen == 0 {
		head, _, err := s.pool.Allocate(value)
		if err != nil {
			return err
		}
		s.r.Nodes.SetHead(slot, head)
	} else {
		last, err := s.pool.Last(n.Head, oldLen)
		if err != nil {
			return fmt.Errorf("key %d: %w", key, err)
		}
		written := s.pool.WriteAt(last, s.pool.TailLen(oldLen), value)
		if written < len(value) {
			if _, err := s.pool.Extend(last, value[written:]); err != nil {
				return err
			}
		}
	}
	s.r.Nodes.SetLenSum(slot, uint32(total), checksum.Append(n.Sum, value))
	s.changed()
	return nil
}

// Next iterates over the keys in slot order.  Passing 0 starts from the
// beginning; any other value continues where the previous call left off.
// When no keys remain it returns false and the next call starts over.
// Mutating the store between calls may cause keys to be skipped or
// repeated.
func (s *Store) Next(cursor uint64) (uint64, bool) {
	if s.closed {
		return 0, false
	}
	if cursor == 0 {
		s.cursor = 0
	}
	nodes := s.r.Nodes
	for s.cursor < nodes.Len() {
		slot := ondisk.Slot(s.cursor)
		s.cursor++
		if key := nodes.Key(slot); key != 0 {
			return key, true
		}
	}
	s.cursor = 0
	return 0, false
}

// Len returns the number of entries, including expired ones not yet
// reclaimed.
func (s *Store) Len() int {
	if s.closed {
		return 0
	}
	return int(s.r.Header.NodesUsed())
}

// Stat reports usage counts and integer percentages.
func (s *Store) Stat() Stats {
	if s.closed {
		return Stats{}
	}
	st := Stats{
		NodesUsed:     int(s.r.Header.NodesUsed()),
		NodeCapacity:  s.r.Nodes.Len(),
		BlocksUsed:    s.pool.Used(),
		BlockCapacity: s.pool.Capacity(),
	}
	if st.NodeCapacity > 0 {
		st.NodeUsedPercent = st.NodesUsed * 100 / st.NodeCapacity
	}
	if st.BlockCapacity > 0 {
		st.BlockUsedPercent = st.BlocksUsed * 100 / st.BlockCapacity
	}
	return st
}
