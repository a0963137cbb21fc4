// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package index maps 64-bit keys to node slots across a small number of
// cascading hash levels.
//
// Level capacities are the first N primes at or below a configured bound,
// taken in descending order, so level 0 is the largest.  The levels are laid
// end to end in one node array:
//
//	┌──────────────┬──────────┬───────┬─────┐
//	│ level 0 (p0) │ level 1  │ lvl 2 │ ... │   p0 > p1 > p2 > ...
//	└──────────────┴──────────┴───────┴─────┘
//	 base 0         base p0    base p0+p1
//
// A key has exactly one candidate slot per level, base + key mod capacity.
// There is no probing within a level and no overflow area: a key that
// collides with live keys at every level cannot be inserted, even if other
// slots are free.  In exchange every lookup and insert touches at most N
// slots.
package index

import (
	"errors"
	"fmt"
	"math"

	"github.com/bpowers/memhash/internal/ondisk"
)

// MaxLevels bounds the number of hash levels a region may have.
const MaxLevels = 200

var (
	ErrLevelCount   = errors.New("level count out of range")
	ErrTooFewPrimes = errors.New("not enough primes at or below the level bound")
	ErrTooManySlots = errors.New("total slot count overflows the node zone")
)

// Keys is read access to the key stored at a slot, 0 meaning empty.
type Keys interface {
	Key(ondisk.Slot) uint64
}

// Table holds the capacities and base offsets of every level.
type Table struct {
	caps  []uint32
	bases []uint32
	len   int
}

// New computes the level layout for the given level count and bound.
func New(levels int, bound uint32) (*Table, error) {
	if levels < 1 || levels > MaxLevels {
		return nil, fmt.Errorf("%w: %d (allowed 1..%d)", ErrLevelCount, levels, MaxLevels)
	}
	caps := Primes(bound, levels)
	if len(caps) != levels {
		return nil, fmt.Errorf("%w: found %d primes <= %d, need %d", ErrTooFewPrimes, len(caps), bound, levels)
	}
	bases := make([]uint32, levels)
	var total uint64
	for i, c := range caps {
		bases[i] = uint32(total)
		total += uint64(c)
		if total > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d levels below %d", ErrTooManySlots, levels, bound)
		}
	}
	return &Table{
		caps:  caps,
		bases: bases,
		len:   int(total),
	}, nil
}

// Levels returns the number of levels.
func (t *Table) Levels() int {
	return len(t.caps)
}

// Capacity returns the number of slots at level i.
func (t *Table) Capacity(i int) uint32 {
	return t.caps[i]
}

// Base returns the first slot of level i.
func (t *Table) Base(i int) ondisk.Slot {
	return ondisk.Slot(t.bases[i])
}

// Len returns the total number of slots across every level.
func (t *Table) Len() int {
	return t.len
}

// Candidate returns key's only slot at level i.
func (t *Table) Candidate(i int, key uint64) ondisk.Slot {
	return ondisk.Slot(t.bases[i] + uint32(key%uint64(t.caps[i])))
}

// Locate returns the slot holding key, searching levels in order.
func (t *Table) Locate(keys Keys, key uint64) (ondisk.Slot, bool) {
	if key == 0 {
		return 0, false
	}
	for i := range t.caps {
		slot := t.Candidate(i, key)
		if keys.Key(slot) == key {
			return slot, true
		}
	}
	return 0, false
}

// FindInsert returns the first empty candidate slot for key.  When a
// candidate is occupied, evict (if non-nil) is given the chance to vacate
// it, for example because the occupant has expired; it reports whether the
// slot was freed.  The caller must already have removed any existing entry
// for key.
func (t *Table) FindInsert(keys Keys, key uint64, evict func(ondisk.Slot) bool) (ondisk.Slot, bool) {
	if key == 0 {
		return 0, false
	}
	for i := range t.caps {
		slot := t.Candidate(i, key)
		occupant := keys.Key(slot)
		if occupant != 0 && evict != nil && evict(slot) {
			occupant = keys.Key(slot)
		}
		if occupant == 0 {
			return slot, true
		}
	}
	return 0, false
}
