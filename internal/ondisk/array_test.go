// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ondisk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodes(t *testing.T) {
	const nodesLen = 12
	_, err := NewNodes(make([]byte, nodesLen*NodeSize-1), nodesLen)
	require.Error(t, err)

	nodes, err := NewNodes(make([]byte, nodesLen*NodeSize), nodesLen)
	require.NoError(t, err)
	require.Equal(t, nodesLen, nodes.Len())
	require.False(t, nodes.Contains(nodesLen))
	require.Panics(t, func() { nodes.Get(nodesLen) })

	for i := Slot(0); i < nodesLen; i++ {
		nodes.Put(i, Node{
			Key:   uint64(i) + 100,
			Stamp: int64(i) * 7,
			Len:   uint32(i) * 3,
			Sum:   uint32(i) ^ 0xdeadbeef,
			Head:  BlockIndex(i) - 1,
		})
	}
	for i := Slot(0); i < nodesLen; i++ {
		n := nodes.Get(i)
		assert.Equal(t, uint64(i)+100, n.Key)
		assert.Equal(t, uint64(i)+100, nodes.Key(i))
		assert.Equal(t, int64(i)*7, n.Stamp)
		assert.Equal(t, uint32(i)*3, n.Len)
		assert.Equal(t, uint32(i)^0xdeadbeef, n.Sum)
		assert.Equal(t, BlockIndex(i)-1, n.Head)
	}

	nodes.SetLenSum(3, 99, 42)
	nodes.SetHead(3, 7)
	n := nodes.Get(3)
	assert.Equal(t, uint32(99), n.Len)
	assert.Equal(t, uint32(42), n.Sum)
	assert.Equal(t, BlockIndex(7), n.Head)

	nodes.Clear(3)
	n = nodes.Get(3)
	assert.True(t, n.Empty())
	assert.Equal(t, Node{Head: NoBlock}, n)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, nodes.entry(3)[nodeHeadOff:nodeHeadOff+4], "persisted terminator is -1")
	// neighbours are untouched
	assert.Equal(t, uint64(102), nodes.Key(2))
	assert.Equal(t, uint64(104), nodes.Key(4))
}

func TestBlocks(t *testing.T) {
	const (
		blocksLen = 5
		payload   = 4
	)
	_, err := NewBlocks(make([]byte, blocksLen*(BlockHeaderSize+payload)), blocksLen, 0)
	require.Error(t, err)
	_, err = NewBlocks(make([]byte, 3), blocksLen, payload)
	require.Error(t, err)

	blocks, err := NewBlocks(make([]byte, blocksLen*(BlockHeaderSize+payload)), blocksLen, payload)
	require.NoError(t, err)
	require.Equal(t, blocksLen, blocks.Len())
	require.Equal(t, payload, blocks.Payload())

	require.False(t, blocks.Contains(-1))
	require.False(t, blocks.Contains(blocksLen))
	require.True(t, blocks.Contains(0))
	require.Panics(t, func() { blocks.Used(blocksLen) })

	for i := BlockIndex(0); i < blocksLen; i++ {
		blocks.SetNext(i, i+1)
		copy(blocks.Data(i), []byte{byte(i), byte(i), byte(i), byte(i)})
	}
	blocks.SetNext(blocksLen-1, NoBlock)
	blocks.SetUsed(2, true)

	for i := BlockIndex(0); i < blocksLen-1; i++ {
		next, ok := blocks.Next(i)
		require.True(t, ok)
		require.Equal(t, i+1, next)
		require.Equal(t, []byte{byte(i), byte(i), byte(i), byte(i)}, blocks.Data(i))
		require.Equal(t, i == 2, blocks.Used(i))
	}
	_, ok := blocks.Next(blocksLen - 1)
	require.False(t, ok)
	require.Equal(t, NoBlock, blocks.RawNext(blocksLen-1))

	blocks.SetUsed(2, false)
	require.False(t, blocks.Used(2))
	// flag updates don't disturb the link
	next, _ := blocks.Next(2)
	require.Equal(t, BlockIndex(3), next)
}

func TestHeader(t *testing.T) {
	_, err := NewHeader(make([]byte, HeaderSize+1))
	require.Error(t, err)

	h, err := NewHeader(make([]byte, HeaderSize))
	require.NoError(t, err)

	_, ok := h.FreeHead()
	require.True(t, ok, "a zeroed header points at block 0")

	h.SetSum(0xabcd)
	h.SetFreeHead(NoBlock)
	h.SetNodesUsed(3)
	h.SetBlocksUsed(9)
	copy(h.InfoBytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})

	assert.Equal(t, uint32(0xabcd), h.Sum())
	_, ok = h.FreeHead()
	assert.False(t, ok)
	assert.Equal(t, uint32(3), h.NodesUsed())
	assert.Equal(t, uint32(9), h.BlocksUsed())
	assert.Len(t, h.InfoBytes(), 12)
	assert.Equal(t, byte(1), h.InfoBytes()[0])
}
