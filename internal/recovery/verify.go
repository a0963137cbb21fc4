// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package recovery

import (
	"errors"
	"fmt"

	"github.com/bpowers/memhash/internal/bitset"
	"github.com/bpowers/memhash/internal/blockpool"
	"github.com/bpowers/memhash/internal/checksum"
	"github.com/bpowers/memhash/internal/layout"
	"github.com/bpowers/memhash/internal/ondisk"
)

// ErrInconsistent is wrapped by every problem Verify reports.
var ErrInconsistent = errors.New("region inconsistent")

// maxProblems caps how many individual findings Verify returns.
const maxProblems = 32

type problems struct {
	errs []error
	more int
}

func (p *problems) addf(format string, args ...any) {
	if len(p.errs) >= maxProblems {
		p.more++
		return
	}
	p.errs = append(p.errs, fmt.Errorf("%w: %s", ErrInconsistent, fmt.Sprintf(format, args...)))
}

func (p *problems) err() error {
	if p.more > 0 {
		p.errs = append(p.errs, fmt.Errorf("%w: %d more problems", ErrInconsistent, p.more))
	}
	return errors.Join(p.errs...)
}

// Verify checks, without modifying anything, that r is in the state
// Rebuild and the record operations maintain: every block is on exactly
// one of the free list or a single chain, used flags agree with that,
// every chain matches its node, and the header counters are exact.
func Verify(r *layout.Region, maxChain int) error {
	hdr, nodes, blocks := r.Header, r.Nodes, r.Blocks
	pool := blockpool.New(hdr, blocks)
	poolLen := int64(blocks.Len())

	var p problems
	free := bitset.New(poolLen)
	chained := bitset.New(poolLen)

	cur, _ := hdr.FreeHead()
	for cur != ondisk.NoBlock {
		if !blocks.Contains(cur) {
			p.addf("free list reaches block %d", cur)
			break
		}
		if free.TestAndSet(int64(cur)) {
			p.addf("free list cycles at block %d", cur)
			break
		}
		if blocks.Used(cur) {
			p.addf("block %d is on the free list but flagged used", cur)
		}
		cur = blocks.RawNext(cur)
	}

	nodesUsed := 0
	for i := 0; i < nodes.Len(); i++ {
		slot := ondisk.Slot(i)
		n := nodes.Get(slot)
		if n.Empty() {
			continue
		}
		nodesUsed++
		need := pool.BlocksFor(int(n.Len))
		if need > maxChain {
			p.addf("slot %d (key %d) needs %d blocks, max %d", slot, n.Key, need, maxChain)
			continue
		}
		if need == 0 {
			if n.Head != ondisk.NoBlock || n.Sum != 0 {
				p.addf("slot %d (key %d) is empty but has head %d sum %08x", slot, n.Key, n.Head, n.Sum)
			}
			continue
		}
		var sum uint32
		b := n.Head
		for j := 0; j < need; j++ {
			if !blocks.Contains(b) {
				p.addf("slot %d (key %d) chain reaches block %d", slot, n.Key, b)
				break
			}
			if chained.TestAndSet(int64(b)) {
				p.addf("block %d is in more than one chain (slot %d, key %d)", b, slot, n.Key)
			}
			if free.IsSet(int64(b)) {
				p.addf("block %d is both free and in slot %d's chain", b, slot)
			}
			if !blocks.Used(b) {
				p.addf("block %d in slot %d's chain is not flagged used", b, slot)
			}
			data := blocks.Data(b)
			if j == need-1 {
				data = data[:pool.TailLen(int(n.Len))]
				if next := blocks.RawNext(b); next != ondisk.NoBlock {
					p.addf("slot %d (key %d) chain continues past its value to block %d", slot, n.Key, next)
				}
			}
			sum = checksum.Append(sum, data)
			b = blocks.RawNext(b)
		}
		if sum != n.Sum {
			p.addf("slot %d (key %d) checksum %08x, computed %08x", slot, n.Key, n.Sum, sum)
		}
	}

	for i := int64(0); i < poolLen; i++ {
		if !free.IsSet(i) && !chained.IsSet(i) {
			p.addf("block %d is orphaned", i)
		}
	}
	if got := int(hdr.NodesUsed()); got != nodesUsed {
		p.addf("header counts %d nodes, found %d", got, nodesUsed)
	}
	if got := int(hdr.BlocksUsed()); got != chained.Count() {
		p.addf("header counts %d used blocks, found %d", got, chained.Count())
	}
	return p.err()
}
