// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package layout

import (
	"fmt"

	"github.com/bpowers/memhash/internal/ondisk"
)

// Region is a mapped region split into its zones.  All views alias buf.
type Region struct {
	Geometry *Geometry
	Header   *ondisk.Header
	Nodes    *ondisk.Nodes
	Blocks   *ondisk.Blocks

	buf []byte
}

// View splits buf, which must be exactly g.Size bytes, into zone views.
func (g *Geometry) View(buf []byte) (*Region, error) {
	if int64(len(buf)) != g.Size {
		return nil, fmt.Errorf("region is %d bytes, layout needs %d", len(buf), g.Size)
	}
	hdr, err := ondisk.NewHeader(buf[HeaderOffset : HeaderOffset+ondisk.HeaderSize])
	if err != nil {
		return nil, err
	}
	nodesEnd := g.NodesOffset + g.nodeZoneSize()
	nodes, err := ondisk.NewNodes(buf[g.NodesOffset:nodesEnd], g.NodeCount())
	if err != nil {
		return nil, err
	}
	blocksEnd := g.BlocksOffset + g.blockZoneSize()
	blocks, err := ondisk.NewBlocks(buf[g.BlocksOffset:blocksEnd], g.PoolSize(), g.Payload)
	if err != nil {
		return nil, err
	}
	return &Region{
		Geometry: g,
		Header:   hdr,
		Nodes:    nodes,
		Blocks:   blocks,
		buf:      buf,
	}, nil
}

// Format initializes a freshly created region: barriers, header, every
// slot empty and every block on one ascending free list.
func (r *Region) Format() {
	for _, off := range r.Geometry.barrierOffsets() {
		copy(r.buf[off:off+BarrierSize], Barrier)
	}

	info := r.Geometry.Info
	_ = info.MarshalTo(r.Header.InfoBytes())
	r.Header.SetSum(info.Checksum())
	r.Header.SetNodesUsed(0)
	r.Header.SetBlocksUsed(0)

	for i := 0; i < r.Nodes.Len(); i++ {
		r.Nodes.Clear(ondisk.Slot(i))
	}

	n := ondisk.BlockIndex(r.Blocks.Len())
	for i := ondisk.BlockIndex(0); i < n; i++ {
		r.Blocks.SetUsed(i, false)
		if i+1 < n {
			r.Blocks.SetNext(i, i+1)
		} else {
			r.Blocks.SetNext(i, ondisk.NoBlock)
		}
	}
	r.Header.SetFreeHead(0)
}

// CheckBarriers verifies all four barrier tags.
func (r *Region) CheckBarriers() error {
	for i, off := range r.Geometry.barrierOffsets() {
		if got := string(r.buf[off : off+BarrierSize]); got != Barrier {
			return fmt.Errorf("%w: barrier %d at offset %d is %q", ErrCorruptBarrier, i, off, got)
		}
	}
	return nil
}

// Bytes returns the whole mapped region.
func (r *Region) Bytes() []byte {
	return r.buf
}
