// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package memhash

import (
	"errors"
	"fmt"

	"github.com/bpowers/memhash/internal/blockpool"
	"github.com/bpowers/memhash/internal/layout"
	"github.com/bpowers/memhash/internal/recovery"
)

// Errors returned by Open.  All of them are fatal: the region is not
// usable and nothing has been mapped.
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrCorruptHeader  = layout.ErrCorruptHeader
	ErrLayoutMismatch = errors.New("region was created with a different layout")
	ErrSizeMismatch   = errors.New("region file size does not match its layout")
	ErrCorruptBarrier = layout.ErrCorruptBarrier
)

// Errors returned by record operations.
var (
	ErrNotFound       = errors.New("key not found")
	ErrExpired        = fmt.Errorf("%w: entry expired", ErrNotFound)
	ErrKeyZero        = errors.New("key 0 is reserved")
	ErrBufferTooSmall = errors.New("buffer too small for value")
	ErrValueTooLarge  = errors.New("value exceeds the maximum chain length")
	ErrNoFreeBlocks   = blockpool.ErrNoFreeBlocks
	ErrNoSlot         = errors.New("every candidate slot for key is occupied")
	ErrCorruptChain   = blockpool.ErrCorruptChain
	ErrClosed         = errors.New("store is closed")
)

// ErrInconsistent is wrapped by every problem Check reports.
var ErrInconsistent = recovery.ErrInconsistent
