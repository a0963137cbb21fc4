// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package recovery restores a region's derived state after it is mapped.
//
// Only node entries and block payloads are trusted.  Block used flags, the
// free list and the usage counters are thrown away and recomputed from the
// nodes whose chains still check out; nodes whose chains do not are
// cleared.  A crash between any two stores into the mapping therefore
// costs at most the entries being modified at the time.
package recovery

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bpowers/memhash/internal/blockpool"
	"github.com/bpowers/memhash/internal/checksum"
	"github.com/bpowers/memhash/internal/layout"
	"github.com/bpowers/memhash/internal/ondisk"
)

var (
	errChainTooLong  = errors.New("value needs more blocks than a chain may hold")
	errEmptyHasChain = errors.New("empty value with a chain or non-zero checksum")
	errOutOfRange    = errors.New("chain leaves the block zone")
	errCrossLinked   = errors.New("chain shares a block with another entry")
	errUnterminated  = errors.New("chain is longer than its value")
	errChecksum      = errors.New("checksum mismatch")
)

// Report summarizes a Rebuild.
type Report struct {
	Kept       int
	Dropped    int
	UsedBlocks int
	FreeBlocks int
}

func (r Report) String() string {
	return fmt.Sprintf("kept=%d dropped=%d used_blocks=%d free_blocks=%d", r.Kept, r.Dropped, r.UsedBlocks, r.FreeBlocks)
}

// Rebuild validates every node of r and regenerates the block flags, the
// free list and the counters.  maxChain is the longest chain a value may
// occupy.
func Rebuild(r *layout.Region, maxChain int, logger *slog.Logger) Report {
	hdr, nodes, blocks := r.Header, r.Nodes, r.Blocks
	pool := blockpool.New(hdr, blocks)

	for i := 0; i < blocks.Len(); i++ {
		blocks.SetUsed(ondisk.BlockIndex(i), false)
	}
	hdr.SetFreeHead(ondisk.NoBlock)
	hdr.SetNodesUsed(0)
	hdr.SetBlocksUsed(0)

	var report Report
	chain := make([]ondisk.BlockIndex, 0, maxChain)
	for i := 0; i < nodes.Len(); i++ {
		slot := ondisk.Slot(i)
		n := nodes.Get(slot)
		if n.Empty() {
			continue
		}
		var err error
		chain, err = claimChain(pool, blocks, n, maxChain, chain[:0])
		if err != nil {
			logger.Warn("dropping entry", "slot", slot, "key", n.Key, "len", n.Len, "reason", err)
			nodes.Clear(slot)
			report.Dropped++
			continue
		}
		report.Kept++
		report.UsedBlocks += len(chain)
	}

	// thread the free list back to front so it comes out ascending
	next := ondisk.NoBlock
	for i := blocks.Len() - 1; i >= 0; i-- {
		b := ondisk.BlockIndex(i)
		if blocks.Used(b) {
			continue
		}
		blocks.SetNext(b, next)
		next = b
		report.FreeBlocks++
	}
	hdr.SetFreeHead(next)
	hdr.SetNodesUsed(uint32(report.Kept))
	hdr.SetBlocksUsed(uint32(report.UsedBlocks))

	logger.Info("recovered region", "kept", report.Kept, "dropped", report.Dropped,
		"used_blocks", report.UsedBlocks, "free_blocks", report.FreeBlocks)
	return report
}

// claimChain walks n's chain, marking each block used.  On failure every
// block it marked is unmarked again and the error says why.
func claimChain(pool *blockpool.Pool, blocks *ondisk.Blocks, n ondisk.Node, maxChain int, chain []ondisk.BlockIndex) ([]ondisk.BlockIndex, error) {
	need := pool.BlocksFor(int(n.Len))
	if need > maxChain {
		return chain, fmt.Errorf("%w: %d > %d", errChainTooLong, need, maxChain)
	}
	if need == 0 {
		if n.Head != ondisk.NoBlock || n.Sum != 0 {
			return chain, errEmptyHasChain
		}
		return chain, nil
	}

	release := func(err error) ([]ondisk.BlockIndex, error) {
		for _, b := range chain {
			blocks.SetUsed(b, false)
		}
		return chain[:0], err
	}

	var sum uint32
	cur := n.Head
	for i := 0; i < need; i++ {
		if !blocks.Contains(cur) {
			return release(fmt.Errorf("%w: block %d at position %d", errOutOfRange, cur, i))
		}
		if blocks.Used(cur) {
			return release(fmt.Errorf("%w: block %d", errCrossLinked, cur))
		}
		blocks.SetUsed(cur, true)
		chain = append(chain, cur)

		data := blocks.Data(cur)
		if i == need-1 {
			data = data[:pool.TailLen(int(n.Len))]
		}
		sum = checksum.Append(sum, data)
		cur = blocks.RawNext(cur)
	}
	if cur != ondisk.NoBlock {
		return release(fmt.Errorf("%w: last block links to %d", errUnterminated, cur))
	}
	if sum != n.Sum {
		return release(fmt.Errorf("%w: stored %08x, computed %08x", errChecksum, n.Sum, sum))
	}
	return chain, nil
}
