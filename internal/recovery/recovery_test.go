// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package recovery

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/memhash/internal/blockpool"
	"github.com/bpowers/memhash/internal/checksum"
	"github.com/bpowers/memhash/internal/layout"
	"github.com/bpowers/memhash/internal/ondisk"
)

const (
	testPayload  = 4
	testMaxChain = 3
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	r    *layout.Region
	pool *blockpool.Pool
}

func newFixture(t *testing.T, poolSize uint32) *fixture {
	t.Helper()
	g, err := layout.NewGeometry(layout.Info{Levels: 3, LevelBound: 11, PoolSize: poolSize}, testPayload)
	require.NoError(t, err)
	r, err := g.View(make([]byte, g.Size))
	require.NoError(t, err)
	r.Format()
	return &fixture{r: r, pool: blockpool.New(r.Header, r.Blocks)}
}

func (f *fixture) put(t *testing.T, slot ondisk.Slot, key uint64, value string) ondisk.Node {
	t.Helper()
	head, _, err := f.pool.Allocate([]byte(value))
	require.NoError(t, err)
	n := ondisk.Node{
		Key:   key,
		Stamp: 1700000000,
		Len:   uint32(len(value)),
		Sum:   checksum.Compute([]byte(value)),
		Head:  head,
	}
	f.r.Nodes.Put(slot, n)
	f.r.Header.SetNodesUsed(f.r.Header.NodesUsed() + 1)
	return n
}

// scramble trashes every piece of derived state.
func (f *fixture) scramble() {
	for i := 0; i < f.r.Blocks.Len(); i++ {
		f.r.Blocks.SetUsed(ondisk.BlockIndex(i), i%2 == 0)
	}
	f.r.Header.SetFreeHead(2)
	f.r.Header.SetNodesUsed(99)
	f.r.Header.SetBlocksUsed(77)
}

func (f *fixture) freeList() []ondisk.BlockIndex {
	var list []ondisk.BlockIndex
	cur, ok := f.r.Header.FreeHead()
	for ok {
		list = append(list, cur)
		cur, ok = f.r.Blocks.Next(cur)
	}
	return list
}

func TestRebuild_Clean(t *testing.T) {
	f := newFixture(t, 8)
	a := f.put(t, 1, 12, "hello world")
	b := f.put(t, 5, 5, "")
	c := f.put(t, 16, 89, "xy")
	require.NoError(t, Verify(f.r, testMaxChain))

	f.scramble()
	require.Error(t, Verify(f.r, testMaxChain))

	report := Rebuild(f.r, testMaxChain, discard)
	assert.Equal(t, Report{Kept: 3, Dropped: 0, UsedBlocks: 4, FreeBlocks: 4}, report)
	require.NoError(t, Verify(f.r, testMaxChain))

	assert.Equal(t, a, f.r.Nodes.Get(1))
	assert.Equal(t, b, f.r.Nodes.Get(5))
	assert.Equal(t, c, f.r.Nodes.Get(16))
	assert.Equal(t, uint32(3), f.r.Header.NodesUsed())
	assert.Equal(t, uint32(4), f.r.Header.BlocksUsed())
	assert.Equal(t, []ondisk.BlockIndex{4, 5, 6, 7}, f.freeList())

	buf := make([]byte, a.Len)
	require.NoError(t, f.pool.Read(a.Head, int(a.Len), buf))
	assert.Equal(t, "hello world", string(buf))
}

func TestRebuild_Idempotent(t *testing.T) {
	f := newFixture(t, 8)
	f.put(t, 1, 12, "hello")
	first := Rebuild(f.r, testMaxChain, discard)
	snapshot := append([]byte(nil), f.r.Bytes()...)
	second := Rebuild(f.r, testMaxChain, discard)
	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, f.r.Bytes())
}

func TestRebuild_Drops(t *testing.T) {
	for _, tc := range []struct {
		name   string
		damage func(f *fixture, n ondisk.Node)
	}{
		{"checksum", func(f *fixture, n ondisk.Node) {
			f.r.Blocks.Data(n.Head)[0] ^= 0x20
		}},
		{"head out of range", func(f *fixture, n ondisk.Node) {
			f.r.Nodes.SetHead(1, 1000)
		}},
		{"negative link", func(f *fixture, n ondisk.Node) {
			f.r.Blocks.SetNext(n.Head, -7)
		}},
		{"unterminated", func(f *fixture, n ondisk.Node) {
			last, _ := f.pool.Last(n.Head, int(n.Len))
			f.r.Blocks.SetNext(last, 7)
		}},
		{"too long", func(f *fixture, n ondisk.Node) {
			f.r.Nodes.SetLenSum(1, testPayload*testMaxChain+1, n.Sum)
		}},
		{"self loop", func(f *fixture, n ondisk.Node) {
			f.r.Blocks.SetNext(n.Head, n.Head)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 8)
			n := f.put(t, 1, 12, "hello")
			f.put(t, 16, 89, "keep")
			tc.damage(f, n)

			report := Rebuild(f.r, testMaxChain, discard)
			assert.Equal(t, 1, report.Kept)
			assert.Equal(t, 1, report.Dropped)
			assert.Equal(t, 1, report.UsedBlocks)
			assert.Equal(t, 7, report.FreeBlocks)
			assert.True(t, f.r.Nodes.Get(1).Empty())
			assert.Equal(t, uint64(89), f.r.Nodes.Key(16))
			require.NoError(t, Verify(f.r, testMaxChain))
		})
	}
}

func TestRebuild_EmptyValueWithChain(t *testing.T) {
	f := newFixture(t, 4)
	f.put(t, 1, 12, "")
	f.r.Nodes.SetHead(1, 2)
	report := Rebuild(f.r, testMaxChain, discard)
	assert.Equal(t, Report{Dropped: 1, FreeBlocks: 4}, report)

	f = newFixture(t, 4)
	f.put(t, 1, 12, "")
	f.r.Nodes.SetLenSum(1, 0, 1)
	report = Rebuild(f.r, testMaxChain, discard)
	assert.Equal(t, 1, report.Dropped)
}

func TestRebuild_CrossLinked(t *testing.T) {
	f := newFixture(t, 8)
	a := f.put(t, 1, 12, "abcdef")
	// a second entry claiming the same chain, with a matching checksum
	f.r.Nodes.Put(16, ondisk.Node{Key: 89, Len: a.Len, Sum: a.Sum, Head: a.Head})

	report := Rebuild(f.r, testMaxChain, discard)
	assert.Equal(t, 1, report.Kept)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, uint64(12), f.r.Nodes.Key(1), "the lower slot wins")
	assert.True(t, f.r.Nodes.Get(16).Empty())
	require.NoError(t, Verify(f.r, testMaxChain))
}

func TestRebuild_PartialCrossLinkReleasesClaims(t *testing.T) {
	f := newFixture(t, 8)
	a := f.put(t, 1, 12, "abcd")
	b := f.put(t, 16, 89, "efghijkl")
	// b's first block now links into a's chain
	f.r.Blocks.SetNext(b.Head, a.Head)

	report := Rebuild(f.r, testMaxChain, discard)
	assert.Equal(t, 1, report.Kept)
	assert.Equal(t, 1, report.UsedBlocks)
	assert.False(t, f.r.Blocks.Used(b.Head), "claims made before the conflict are undone")
	require.NoError(t, Verify(f.r, testMaxChain))
}

func TestVerify(t *testing.T) {
	f := newFixture(t, 8)
	n := f.put(t, 1, 12, "hello")
	require.NoError(t, Verify(f.r, testMaxChain))

	t.Run("counter drift", func(t *testing.T) {
		f.r.Header.SetBlocksUsed(5)
		defer f.r.Header.SetBlocksUsed(2)
		err := Verify(f.r, testMaxChain)
		require.True(t, errors.Is(err, ErrInconsistent))
		assert.Contains(t, err.Error(), "used blocks")
	})

	t.Run("orphan", func(t *testing.T) {
		// drop block 2 off the free list by skipping over it
		f.r.Header.SetFreeHead(3)
		defer f.r.Header.SetFreeHead(2)
		err := Verify(f.r, testMaxChain)
		require.True(t, errors.Is(err, ErrInconsistent))
		assert.Contains(t, err.Error(), "block 2 is orphaned")
	})

	t.Run("free and used", func(t *testing.T) {
		f.r.Header.SetFreeHead(n.Head)
		defer f.r.Header.SetFreeHead(2)
		err := Verify(f.r, testMaxChain)
		require.True(t, errors.Is(err, ErrInconsistent))
		assert.Contains(t, err.Error(), "both free and")
	})

	t.Run("cycle", func(t *testing.T) {
		f.r.Blocks.SetNext(7, 2)
		defer f.r.Blocks.SetNext(7, ondisk.NoBlock)
		err := Verify(f.r, testMaxChain)
		require.True(t, errors.Is(err, ErrInconsistent))
		assert.Contains(t, err.Error(), "cycles")
	})

	require.NoError(t, Verify(f.r, testMaxChain))
}
