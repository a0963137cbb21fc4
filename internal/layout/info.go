// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package layout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bpowers/memhash/internal/checksum"
	"github.com/bpowers/memhash/internal/ondisk"
)

// InfoSize is the encoded size of the fixed header fields.
const InfoSize = 4 + 4 + 4

var (
	ErrCorruptHeader  = errors.New("corrupt region header")
	ErrCorruptBarrier = errors.New("corrupt region barrier")
)

// Info is the configuration persisted in the region header.  It is
// written once at creation and never changes afterwards.
type Info struct {
	Levels     uint32
	LevelBound uint32
	PoolSize   uint32
}

func (i Info) String() string {
	return fmt.Sprintf("levels=%d bound=%d pool=%d", i.Levels, i.LevelBound, i.PoolSize)
}

func (i Info) MarshalTo(buf []byte) error {
	if len(buf) < InfoSize {
		return fmt.Errorf("buf too short: %d < %d", len(buf), InfoSize)
	}
	binary.LittleEndian.PutUint32(buf[0:4], i.Levels)
	binary.LittleEndian.PutUint32(buf[4:8], i.LevelBound)
	binary.LittleEndian.PutUint32(buf[8:12], i.PoolSize)
	return nil
}

func (i *Info) UnmarshalBytes(buf []byte) error {
	if len(buf) < InfoSize {
		return fmt.Errorf("buf too short: %d < %d", len(buf), InfoSize)
	}
	i.Levels = binary.LittleEndian.Uint32(buf[0:4])
	i.LevelBound = binary.LittleEndian.Uint32(buf[4:8])
	i.PoolSize = binary.LittleEndian.Uint32(buf[8:12])
	return nil
}

// Checksum returns the checksum stored alongside the encoded Info.
func (i Info) Checksum() uint32 {
	var buf [InfoSize]byte
	_ = i.MarshalTo(buf[:])
	return checksum.Compute(buf[:])
}

// DecodeHeader validates the checksum of an encoded header and returns
// the Info it protects.
func DecodeHeader(buf []byte) (Info, error) {
	h, err := ondisk.NewHeader(buf)
	if err != nil {
		return Info{}, err
	}
	if want, got := h.Sum(), checksum.Compute(h.InfoBytes()); want != got {
		return Info{}, fmt.Errorf("%w: checksum %08x, computed %08x", ErrCorruptHeader, want, got)
	}
	var info Info
	if err := info.UnmarshalBytes(h.InfoBytes()); err != nil {
		return Info{}, err
	}
	return info, nil
}

// ReadInfo reads just the header of a region file and validates it,
// without mapping anything.
func ReadInfo(r io.ReaderAt) (Info, error) {
	var buf [ondisk.HeaderSize]byte
	if _, err := r.ReadAt(buf[:], HeaderOffset); err != nil {
		if errors.Is(err, io.EOF) {
			return Info{}, fmt.Errorf("%w: file too short", ErrCorruptHeader)
		}
		return Info{}, fmt.Errorf("ReadAt: %w", err)
	}
	return DecodeHeader(buf[:])
}
