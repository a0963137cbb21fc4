// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ondisk

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the encoded size of the region header.
	HeaderSize = 32

	headerSumOff        = 0
	headerInfoOff       = 4
	headerInfoEnd       = 16
	headerFreeHeadOff   = 16
	headerNodesUsedOff  = 20
	headerBlocksUsedOff = 24
)

// Header is a view of the mapped region header.  The fixed part (levels,
// level bound, pool size) is protected by the checksum at offset 0; the
// free-list head and the two usage counters are derived state that
// recovery rebuilds on open.
type Header struct {
	buf []byte
}

// NewHeader wraps buf, which must be exactly HeaderSize bytes.
func NewHeader(buf []byte) (*Header, error) {
	if len(buf) != HeaderSize {
		return nil, fmt.Errorf("header: have %d bytes, want %d", len(buf), HeaderSize)
	}
	return &Header{buf: buf}, nil
}

// Sum returns the stored checksum of the fixed fields.
func (h *Header) Sum() uint32 {
	return binary.LittleEndian.Uint32(h.buf[headerSumOff:])
}

// SetSum stores the checksum of the fixed fields.
func (h *Header) SetSum(sum uint32) {
	binary.LittleEndian.PutUint32(h.buf[headerSumOff:], sum)
}

// InfoBytes returns the fixed fields exactly as they are checksummed.
func (h *Header) InfoBytes() []byte {
	return h.buf[headerInfoOff:headerInfoEnd]
}

// FreeHead returns the first block of the free list and whether the list
// is non-empty.
func (h *Header) FreeHead() (BlockIndex, bool) {
	head := BlockIndex(int32(binary.LittleEndian.Uint32(h.buf[headerFreeHeadOff:])))
	return head, head != NoBlock
}

// SetFreeHead stores the first block of the free list.
func (h *Header) SetFreeHead(i BlockIndex) {
	binary.LittleEndian.PutUint32(h.buf[headerFreeHeadOff:], uint32(int32(i)))
}

func (h *Header) NodesUsed() uint32 {
	return binary.LittleEndian.Uint32(h.buf[headerNodesUsedOff:])
}

func (h *Header) SetNodesUsed(n uint32) {
	binary.LittleEndian.PutUint32(h.buf[headerNodesUsedOff:], n)
}

func (h *Header) BlocksUsed() uint32 {
	return binary.LittleEndian.Uint32(h.buf[headerBlocksUsedOff:])
}

func (h *Header) SetBlocksUsed(n uint32) {
	binary.LittleEndian.PutUint32(h.buf[headerBlocksUsedOff:], n)
}
