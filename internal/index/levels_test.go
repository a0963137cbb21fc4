// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/memhash/internal/ondisk"
)

// sliceKeys is an in-memory node zone holding just keys.
type sliceKeys []uint64

func (s sliceKeys) Key(i ondisk.Slot) uint64 {
	return s[i]
}

func TestPrimes(t *testing.T) {
	assert.Equal(t, []uint32{11, 7, 5}, Primes(11, 3))
	assert.Equal(t, []uint32{7, 5, 3, 2}, Primes(10, 10))
	assert.Equal(t, []uint32{2}, Primes(2, 1))
	assert.Empty(t, Primes(1, 3))
	assert.Equal(t, []uint32{99991, 99989}, Primes(100000, 2))
	assert.Equal(t, []uint32{4294967291}, Primes(^uint32(0), 1))
}

func TestNew(t *testing.T) {
	tbl, err := New(3, 11)
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Levels())
	require.Equal(t, 11+7+5, tbl.Len())
	for i, want := range []struct {
		cap  uint32
		base ondisk.Slot
	}{{11, 0}, {7, 11}, {5, 18}} {
		assert.Equal(t, want.cap, tbl.Capacity(i))
		assert.Equal(t, want.base, tbl.Base(i))
	}

	_, err = New(0, 11)
	require.True(t, errors.Is(err, ErrLevelCount))
	_, err = New(MaxLevels+1, 1<<20)
	require.True(t, errors.Is(err, ErrLevelCount))
	_, err = New(6, 11)
	require.True(t, errors.Is(err, ErrTooFewPrimes), "only 11, 7, 5, 3, 2")
	_, err = New(2, ^uint32(0))
	require.True(t, errors.Is(err, ErrTooManySlots))
}

func TestCandidate(t *testing.T) {
	tbl, err := New(3, 11)
	require.NoError(t, err)
	// 12 mod 11 = 1, 12 mod 7 = 5, 12 mod 5 = 2
	assert.Equal(t, ondisk.Slot(1), tbl.Candidate(0, 12))
	assert.Equal(t, ondisk.Slot(11+5), tbl.Candidate(1, 12))
	assert.Equal(t, ondisk.Slot(18+2), tbl.Candidate(2, 12))
}

func TestLocateAndInsert(t *testing.T) {
	tbl, err := New(3, 11)
	require.NoError(t, err)
	keys := make(sliceKeys, tbl.Len())

	_, ok := tbl.Locate(keys, 12)
	require.False(t, ok)
	_, ok = tbl.FindInsert(keys, 0, nil)
	require.False(t, ok, "key 0 is the empty sentinel")

	// 12, 89 and 397 are all 1 mod 11 and 5 mod 7.
	// Mod 5, 12 and 397 are 2 while 89 is 4.
	slot, ok := tbl.FindInsert(keys, 12, nil)
	require.True(t, ok)
	require.Equal(t, ondisk.Slot(1), slot)
	keys[slot] = 12

	slot, ok = tbl.FindInsert(keys, 89, nil)
	require.True(t, ok)
	require.Equal(t, ondisk.Slot(11+5), slot, "cascades to level 1")
	keys[slot] = 89

	slot, ok = tbl.FindInsert(keys, 397, nil)
	require.True(t, ok)
	require.Equal(t, ondisk.Slot(18+2), slot, "cascades to level 2")
	keys[slot] = 397

	for _, k := range []uint64{12, 89, 397} {
		got, ok := tbl.Locate(keys, k)
		require.True(t, ok)
		require.Equal(t, k, keys[got])
	}

	// 782 = 12 + 770 collides with 12, 89 and 397 at every level
	require.Equal(t, tbl.Candidate(0, 12), tbl.Candidate(0, 782))
	require.Equal(t, tbl.Candidate(1, 12), tbl.Candidate(1, 782))
	require.Equal(t, tbl.Candidate(2, 12), tbl.Candidate(2, 782))
	_, ok = tbl.FindInsert(keys, 782, nil)
	require.False(t, ok, "no probing within a level")
	_, ok = tbl.Locate(keys, 782)
	require.False(t, ok)
}

func TestFindInsert_Evict(t *testing.T) {
	tbl, err := New(2, 11)
	require.NoError(t, err)
	keys := make(sliceKeys, tbl.Len())
	keys[tbl.Candidate(0, 1)] = 12
	keys[tbl.Candidate(1, 1)] = 8

	var offered []ondisk.Slot
	slot, ok := tbl.FindInsert(keys, 1, func(s ondisk.Slot) bool {
		offered = append(offered, s)
		// only the level-1 occupant is expired
		if keys[s] == 8 {
			keys[s] = 0
			return true
		}
		return false
	})
	require.True(t, ok)
	require.Equal(t, tbl.Candidate(1, 1), slot)
	require.Equal(t, []ondisk.Slot{tbl.Candidate(0, 1), tbl.Candidate(1, 1)}, offered)

	// an evict callback that lies about freeing the slot doesn't win it
	keys[slot] = 8
	_, ok = tbl.FindInsert(keys, 1, func(ondisk.Slot) bool { return true })
	require.False(t, ok)
}

func TestLocate_Random(t *testing.T) {
	tbl, err := New(8, 1009)
	require.NoError(t, err)
	keys := make(sliceKeys, tbl.Len())
	rng := rand.New(rand.NewSource(7))
	inserted := make(map[uint64]ondisk.Slot)
	for i := 0; i < 2000; i++ {
		k := rng.Uint64() | 1
		if _, dup := inserted[k]; dup {
			continue
		}
		slot, ok := tbl.FindInsert(keys, k, nil)
		if !ok {
			continue
		}
		keys[slot] = k
		inserted[k] = slot
	}
	require.NotEmpty(t, inserted)
	for k, want := range inserted {
		got, ok := tbl.Locate(keys, k)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func BenchmarkLocate(b *testing.B) {
	tbl, err := New(50, 100000)
	require.NoError(b, err)
	keys := make(sliceKeys, tbl.Len())
	for k := uint64(1); k <= 100000; k++ {
		if slot, ok := tbl.FindInsert(keys, k, nil); ok {
			keys[slot] = k
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tbl.Locate(keys, uint64(i%100000)+1)
	}
}
