// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package memhash is an embedded key-value store kept in a single
// memory-mapped file.
//
// Keys are non-zero uint64s.  Values are byte strings of up to
// MaxValueSize bytes, stored in chains of fixed-size blocks.  The region's
// capacity (hash levels and block pool) is fixed when the file is created;
// there is no resizing.
//
//	s, err := memhash.Open("users.memhash", memhash.DefaultConfig())
//	if err != nil { ... }
//	defer s.Close()
//
//	_ = s.Set(42, []byte("hello"))
//	v, err := s.Get(42)
//
// Every mutation writes straight into the mapping, so it is visible to the
// file as soon as the kernel writes the pages back; Sync forces that, and
// Config.SyncEvery does it periodically.  When a region is reopened, entries
// whose block chains fail their checksum are dropped and all allocator
// bookkeeping is rebuilt, so a crash loses at most the entries being
// modified when it happened.
//
// A Store is not safe for concurrent use.
package memhash
