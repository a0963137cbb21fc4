// Copyright 2021 The bit Authors and Caleb Spare. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bitset tracks per-block membership while walking a region's
// chains and free list.
package bitset

import "math/bits"

// Bitset is an in-memory bitmap that is conceptually similar to []bool, but more memory efficient.
type Bitset struct {
	bits   []uint64
	length int64
}

func getOffsets(off int64) (sliceOff int64, bitOff uint64) {
	sliceOff = off / 64
	bitOff = uint64(off) % 64
	return
}

func (b *Bitset) inRange(off int64) bool {
	return off >= 0 && off < b.length
}

// Set sets the bit at position `off` to 1.  Out of range positions are ignored.
func (b *Bitset) Set(off int64) {
	if !b.inRange(off) {
		return
	}
	sliceOff, bitOff := getOffsets(off)
	b.bits[sliceOff] |= 1 << bitOff
}

// TestAndSet sets the bit at `off` and reports whether it was already set.
func (b *Bitset) TestAndSet(off int64) bool {
	if !b.inRange(off) {
		return false
	}
	sliceOff, bitOff := getOffsets(off)
	u64 := &b.bits[sliceOff]
	was := *u64&(1<<bitOff) != 0
	*u64 |= 1 << bitOff
	return was
}

// Clear sets the bit at position `off` to 0.
func (b *Bitset) Clear(off int64) {
	if !b.inRange(off) {
		return
	}
	sliceOff, bitOff := getOffsets(off)
	b.bits[sliceOff] &^= 1 << bitOff
}

// IsSet returns true if the bit at position `off` is 1.
func (b *Bitset) IsSet(off int64) bool {
	if !b.inRange(off) {
		return false
	}
	sliceOff, bitOff := getOffsets(off)
	return b.bits[sliceOff]&(1<<bitOff) != 0
}

// Len returns the number of addressable bits.
func (b *Bitset) Len() int64 {
	return b.length
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	n := 0
	for _, u64 := range b.bits {
		n += bits.OnesCount64(u64)
	}
	return n
}

// New returns a new in-memory bitset of the given length with every bit clear.
func New(length int64) *Bitset {
	sliceLen := (length + 63) / 64
	return &Bitset{
		bits:   make([]uint64, sliceLen),
		length: length,
	}
}
