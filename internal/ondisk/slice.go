// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package ondisk provides typed, bounds-checked views over the zones of a
// mapped region.  Nothing here owns memory: every view wraps a sub-slice of
// the mapping and reads or writes little-endian fixed-width fields in place.
package ondisk

import (
	"encoding/binary"
	"fmt"

	"github.com/bpowers/memhash/internal/zero"
)

// Slot is the position of a node in the node zone.
type Slot uint32

// BlockIndex is the position of a block in the block zone.
type BlockIndex int32

// NoBlock is the persisted chain and free-list terminator.
const NoBlock BlockIndex = -1

const (
	// NodeSize is the encoded size of one node entry:
	// key u64, stamp i64, len u32, sum u32, head i32, pad u32.
	NodeSize = 8 + 8 + 4 + 4 + 4 + 4

	nodeKeyOff   = 0
	nodeStampOff = 8
	nodeLenOff   = 16
	nodeSumOff   = 20
	nodeHeadOff  = 24

	// BlockHeaderSize is the per-block prefix: used u32, next i32.
	BlockHeaderSize = 4 + 4

	blockUsedOff = 0
	blockNextOff = 4

	blockUsedFlag = 0x1
)

// Node is a decoded node entry.
type Node struct {
	Key   uint64
	Stamp int64
	Len   uint32
	Sum   uint32
	Head  BlockIndex
}

// Empty reports whether the node holds no key.
func (n Node) Empty() bool {
	return n.Key == 0
}

// Nodes is a view of the node zone.
type Nodes struct {
	buf []byte
	len int // length in number of elements
}

// NewNodes wraps buf, which must hold exactly n node entries.
func NewNodes(buf []byte, n int) (*Nodes, error) {
	if n < 0 || len(buf) != n*NodeSize {
		return nil, fmt.Errorf("node zone: have %d bytes, want %d entries of %d", len(buf), n, NodeSize)
	}
	return &Nodes{buf: buf, len: n}, nil
}

// Len returns the number of slots.
func (s *Nodes) Len() int {
	return s.len
}

// Contains reports whether i names a slot in the zone.
func (s *Nodes) Contains(i Slot) bool {
	return int64(i) < int64(s.len)
}

func (s *Nodes) entry(i Slot) []byte {
	if !s.Contains(i) {
		panic(fmt.Errorf("slot (%d) out of range (len %d)", i, s.len))
	}
	off := int(i) * NodeSize
	return s.buf[off : off+NodeSize : off+NodeSize]
}

// Key returns just the key stored at slot i; 0 means empty.
func (s *Nodes) Key(i Slot) uint64 {
	return binary.LittleEndian.Uint64(s.entry(i)[nodeKeyOff:])
}

// Get decodes the node at slot i.
func (s *Nodes) Get(i Slot) Node {
	e := s.entry(i)
	// bounds check elimination
	_ = e[NodeSize-1]
	return Node{
		Key:   binary.LittleEndian.Uint64(e[nodeKeyOff:]),
		Stamp: int64(binary.LittleEndian.Uint64(e[nodeStampOff:])),
		Len:   binary.LittleEndian.Uint32(e[nodeLenOff:]),
		Sum:   binary.LittleEndian.Uint32(e[nodeSumOff:]),
		Head:  BlockIndex(int32(binary.LittleEndian.Uint32(e[nodeHeadOff:]))),
	}
}

// Put encodes n into slot i.  The key is written last so a torn update
// never publishes a key ahead of the fields describing its value.
func (s *Nodes) Put(i Slot, n Node) {
	e := s.entry(i)
	_ = e[NodeSize-1]
	binary.LittleEndian.PutUint64(e[nodeStampOff:], uint64(n.Stamp))
	binary.LittleEndian.PutUint32(e[nodeLenOff:], n.Len)
	binary.LittleEndian.PutUint32(e[nodeSumOff:], n.Sum)
	binary.LittleEndian.PutUint32(e[nodeHeadOff:], uint32(int32(n.Head)))
	binary.LittleEndian.PutUint64(e[nodeKeyOff:], n.Key)
}

// SetLenSum updates the length and checksum of an occupied slot.
func (s *Nodes) SetLenSum(i Slot, length, sum uint32) {
	e := s.entry(i)
	binary.LittleEndian.PutUint32(e[nodeLenOff:], length)
	binary.LittleEndian.PutUint32(e[nodeSumOff:], sum)
}

// SetHead updates the first block of an occupied slot's chain.
func (s *Nodes) SetHead(i Slot, head BlockIndex) {
	binary.LittleEndian.PutUint32(s.entry(i)[nodeHeadOff:], uint32(int32(head)))
}

// Clear resets slot i to the empty state: key 0 and no chain.
func (s *Nodes) Clear(i Slot) {
	e := s.entry(i)
	// the key goes first, so a crash mid-clear leaves an empty slot
	binary.LittleEndian.PutUint64(e[nodeKeyOff:], 0)
	zero.Bytes(e[nodeStampOff:])
	s.SetHead(i, NoBlock)
}

// Blocks is a view of the block zone.
type Blocks struct {
	buf     []byte
	len     int
	payload int
	stride  int
}

// NewBlocks wraps buf, which must hold exactly n blocks of the given
// payload size.
func NewBlocks(buf []byte, n, payload int) (*Blocks, error) {
	if payload <= 0 {
		return nil, fmt.Errorf("block payload size must be positive, got %d", payload)
	}
	stride := BlockHeaderSize + payload
	if n < 0 || len(buf) != n*stride {
		return nil, fmt.Errorf("block zone: have %d bytes, want %d blocks of %d", len(buf), n, stride)
	}
	return &Blocks{buf: buf, len: n, payload: payload, stride: stride}, nil
}

// Len returns the number of blocks.
func (b *Blocks) Len() int {
	return b.len
}

// Payload returns the number of data bytes each block carries.
func (b *Blocks) Payload() int {
	return b.payload
}

// Contains reports whether i names a block in the zone.  Indices read from
// the mapping must be checked with Contains before use.
func (b *Blocks) Contains(i BlockIndex) bool {
	return i >= 0 && int(i) < b.len
}

func (b *Blocks) entry(i BlockIndex) []byte {
	if !b.Contains(i) {
		panic(fmt.Errorf("block (%d) out of range (len %d)", i, b.len))
	}
	off := int(i) * b.stride
	return b.buf[off : off+b.stride : off+b.stride]
}

// Used reports whether block i belongs to a value chain.
func (b *Blocks) Used(i BlockIndex) bool {
	return binary.LittleEndian.Uint32(b.entry(i)[blockUsedOff:])&blockUsedFlag != 0
}

// SetUsed sets or clears the used flag of block i.
func (b *Blocks) SetUsed(i BlockIndex, used bool) {
	e := b.entry(i)
	flags := binary.LittleEndian.Uint32(e[blockUsedOff:])
	if used {
		flags |= blockUsedFlag
	} else {
		flags &^= blockUsedFlag
	}
	binary.LittleEndian.PutUint32(e[blockUsedOff:], flags)
}

// RawNext returns the persisted next index of block i, which may be
// NoBlock or, in a damaged region, out of range.
func (b *Blocks) RawNext(i BlockIndex) BlockIndex {
	return BlockIndex(int32(binary.LittleEndian.Uint32(b.entry(i)[blockNextOff:])))
}

// Next returns the block following i and whether there is one.
func (b *Blocks) Next(i BlockIndex) (BlockIndex, bool) {
	next := b.RawNext(i)
	if next == NoBlock {
		return NoBlock, false
	}
	return next, true
}

// SetNext links block i to next; pass NoBlock to terminate.
func (b *Blocks) SetNext(i, next BlockIndex) {
	binary.LittleEndian.PutUint32(b.entry(i)[blockNextOff:], uint32(int32(next)))
}

// Data returns the payload bytes of block i, aliasing the mapping.
func (b *Blocks) Data(i BlockIndex) []byte {
	return b.entry(i)[BlockHeaderSize:]
}
