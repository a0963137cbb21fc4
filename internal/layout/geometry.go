// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package layout computes where every zone of a region lives and
// initializes or validates a mapped region.
//
// A region is a single file, little-endian throughout:
//
//	┌─────────┬────────┬─────────┬───────────┬─────────┬────────────┬─────────┐
//	│ barrier │ header │ barrier │ node zone │ barrier │ block zone │ barrier │
//	│    8    │   32   │    8    │ 32 × nodes│    8    │(8+P) × pool│    8    │
//	└─────────┴────────┴─────────┴───────────┴─────────┴────────────┴─────────┘
//
// The total size is a pure function of the header Info and the block
// payload size P, so a file whose length disagrees with its header is
// rejected before it is mapped.
package layout

import (
	"fmt"

	"github.com/bpowers/memhash/internal/index"
	"github.com/bpowers/memhash/internal/ondisk"
)

const (
	// BarrierSize is the width of each barrier tag.
	BarrierSize = 8
	// Barrier separates zones so that overruns are detectable.
	Barrier = "MEMHASHZ"

	// HeaderOffset is the file offset of the region header.
	HeaderOffset = BarrierSize
)

// Geometry is the resolved placement of every zone.
type Geometry struct {
	Info    Info
	Payload int
	Index   *index.Table

	NodesOffset  int64
	BlocksOffset int64
	Size         int64
}

// NewGeometry resolves the layout of a region with the given Info and
// block payload size.
func NewGeometry(info Info, payload int) (*Geometry, error) {
	if payload <= 0 {
		return nil, fmt.Errorf("block payload size must be positive, got %d", payload)
	}
	if info.PoolSize == 0 || info.PoolSize > 1<<31-1 {
		return nil, fmt.Errorf("pool size %d out of range", info.PoolSize)
	}
	tbl, err := index.New(int(info.Levels), info.LevelBound)
	if err != nil {
		return nil, err
	}

	g := &Geometry{
		Info:    info,
		Payload: payload,
		Index:   tbl,
	}
	g.NodesOffset = HeaderOffset + ondisk.HeaderSize + BarrierSize
	g.BlocksOffset = g.NodesOffset + g.nodeZoneSize() + BarrierSize
	g.Size = g.BlocksOffset + g.blockZoneSize() + BarrierSize
	return g, nil
}

// NodeCount returns the number of slots in the node zone.
func (g *Geometry) NodeCount() int {
	return g.Index.Len()
}

// PoolSize returns the number of blocks in the block zone.
func (g *Geometry) PoolSize() int {
	return int(g.Info.PoolSize)
}

func (g *Geometry) nodeZoneSize() int64 {
	return int64(g.NodeCount()) * ondisk.NodeSize
}

func (g *Geometry) blockZoneSize() int64 {
	return int64(g.PoolSize()) * int64(ondisk.BlockHeaderSize+g.Payload)
}

// barrierOffsets lists the start of every barrier, in file order.
func (g *Geometry) barrierOffsets() [4]int64 {
	return [4]int64{
		0,
		HeaderOffset + ondisk.HeaderSize,
		g.NodesOffset + g.nodeZoneSize(),
		g.BlocksOffset + g.blockZoneSize(),
	}
}
