// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package blockpool allocates fixed-size blocks from a region's block zone.
//
// Free blocks form one singly linked list threaded through each block's
// next field, headed by the region header.  Allocation pops from the head
// and release pushes a whole chain back on, so both are proportional to
// the chain length and never scan the zone.
package blockpool

import (
	"errors"
	"fmt"

	"github.com/bpowers/memhash/internal/ondisk"
	"github.com/bpowers/memhash/internal/zero"
)

var (
	ErrNoFreeBlocks = errors.New("not enough free blocks")
	ErrCorruptChain = errors.New("corrupt block chain")
)

// Pool is the allocator over one block zone.  It keeps no state of its
// own; the free head and the used counter live in the header.
type Pool struct {
	hdr    *ondisk.Header
	blocks *ondisk.Blocks
}

func New(hdr *ondisk.Header, blocks *ondisk.Blocks) *Pool {
	return &Pool{hdr: hdr, blocks: blocks}
}

// BlocksFor returns how many blocks a value of n bytes occupies.
func (p *Pool) BlocksFor(n int) int {
	payload := p.blocks.Payload()
	return (n + payload - 1) / payload
}

// TailLen returns how many bytes of the last block a value of n bytes
// occupies.
func (p *Pool) TailLen(n int) int {
	if n == 0 {
		return 0
	}
	payload := p.blocks.Payload()
	if r := n % payload; r != 0 {
		return r
	}
	return payload
}

// Payload returns the per-block payload size.
func (p *Pool) Payload() int {
	return p.blocks.Payload()
}

// Capacity returns the total number of blocks.
func (p *Pool) Capacity() int {
	return p.blocks.Len()
}

// Used returns the number of blocks belonging to value chains.
func (p *Pool) Used() int {
	return int(p.hdr.BlocksUsed())
}

// Free returns the number of blocks on the free list.
func (p *Pool) Free() int {
	return p.Capacity() - p.Used()
}

// Allocate stores data in a new chain and returns its head.  A zero-length
// value needs no blocks and yields (NoBlock, false, nil).  Nothing is
// modified when the pool cannot satisfy the request.
func (p *Pool) Allocate(data []byte) (ondisk.BlockIndex, bool, error) {
	need := p.BlocksFor(len(data))
	if need == 0 {
		return ondisk.NoBlock, false, nil
	}
	if free := p.Free(); need > free {
		return ondisk.NoBlock, false, fmt.Errorf("%w: need %d, have %d", ErrNoFreeBlocks, need, free)
	}

	chain, rest, err := p.popList(need)
	if err != nil {
		return ondisk.NoBlock, false, err
	}

	payload := p.blocks.Payload()
	for i, b := range chain {
		d := p.blocks.Data(b)
		n := copy(d, data[min(i*payload, len(data)):])
		zero.Bytes(d[n:])
		p.blocks.SetUsed(b, true)
	}
	p.blocks.SetNext(chain[len(chain)-1], ondisk.NoBlock)
	p.hdr.SetFreeHead(rest)
	p.hdr.SetBlocksUsed(p.hdr.BlocksUsed() + uint32(need))

	return chain[0], true, nil
}

// popList walks the first need blocks of the free list without modifying
// anything, returning them along with the block that will become the new
// free head.
func (p *Pool) popList(need int) ([]ondisk.BlockIndex, ondisk.BlockIndex, error) {
	chain := make([]ondisk.BlockIndex, 0, need)
	cur, _ := p.hdr.FreeHead()
	for len(chain) < need {
		if !p.blocks.Contains(cur) || p.blocks.Used(cur) {
			return nil, ondisk.NoBlock, fmt.Errorf("%w: free list broken at block %d after %d", ErrCorruptChain, cur, len(chain))
		}
		chain = append(chain, cur)
		cur = p.blocks.RawNext(cur)
	}
	return chain, cur, nil
}

// Extend allocates a chain for data and links it after last.
func (p *Pool) Extend(last ondisk.BlockIndex, data []byte) (ondisk.BlockIndex, error) {
	if !p.blocks.Contains(last) {
		return ondisk.NoBlock, fmt.Errorf("%w: extend from block %d", ErrCorruptChain, last)
	}
	head, ok, err := p.Allocate(data)
	if err != nil || !ok {
		return ondisk.NoBlock, err
	}
	p.blocks.SetNext(last, head)
	return head, nil
}

// Release returns the chain starting at head to the free list and reports
// how many blocks it held.  A corrupt chain is left untouched.
func (p *Pool) Release(head ondisk.BlockIndex) (int, error) {
	if head == ondisk.NoBlock {
		return 0, nil
	}
	// walk the whole chain before changing anything
	count := 0
	tail := head
	for cur := head; ; {
		if !p.blocks.Contains(cur) || count >= p.blocks.Len() {
			return 0, fmt.Errorf("%w: release reached block %d after %d", ErrCorruptChain, cur, count)
		}
		count++
		tail = cur
		next, ok := p.blocks.Next(cur)
		if !ok {
			break
		}
		cur = next
	}
	for cur := head; ; {
		p.blocks.SetUsed(cur, false)
		if cur == tail {
			break
		}
		cur, _ = p.blocks.Next(cur)
	}

	freeHead, _ := p.hdr.FreeHead()
	p.blocks.SetNext(tail, freeHead)
	p.hdr.SetFreeHead(head)
	used := p.hdr.BlocksUsed()
	if uint32(count) > used {
		used = uint32(count)
	}
	p.hdr.SetBlocksUsed(used - uint32(count))
	return count, nil
}

// Read copies the n-byte value stored in the chain at head into dst,
// which must hold at least n bytes.
func (p *Pool) Read(head ondisk.BlockIndex, n int, dst []byte) error {
	if len(dst) < n {
		return fmt.Errorf("dst too short: %d < %d", len(dst), n)
	}
	off := 0
	cur := head
	for off < n {
		if !p.blocks.Contains(cur) {
			return fmt.Errorf("%w: read reached block %d at offset %d of %d", ErrCorruptChain, cur, off, n)
		}
		off += copy(dst[off:n], p.blocks.Data(cur))
		cur = p.blocks.RawNext(cur)
	}
	return nil
}

// Last returns the final block of the chain at head holding an n-byte
// value.
func (p *Pool) Last(head ondisk.BlockIndex, n int) (ondisk.BlockIndex, error) {
	cur := head
	for i := 1; ; i++ {
		if !p.blocks.Contains(cur) {
			return ondisk.NoBlock, fmt.Errorf("%w: block %d at position %d", ErrCorruptChain, cur, i)
		}
		if i >= p.BlocksFor(n) {
			return cur, nil
		}
		cur = p.blocks.RawNext(cur)
	}
}

// WriteAt copies as much of data as fits into block b starting at off and
// returns the number of bytes written.
func (p *Pool) WriteAt(b ondisk.BlockIndex, off int, data []byte) int {
	d := p.blocks.Data(b)
	if off >= len(d) {
		return 0
	}
	return copy(d[off:], data)
}
