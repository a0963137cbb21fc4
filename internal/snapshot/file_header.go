// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package snapshot

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	magicSnapshotHeader = 0x4E53484D // "MHSN"
	fileFormatVersion   = 1
	fileHeaderSize      = 32

	recordCountOff = 8
	codecOff       = 16
)

type fileHeader struct {
	magic         uint32
	formatVersion uint32
	recordCount   uint64
	codec         Codec
}

func newFileHeader(codec Codec) (*fileHeader, error) {
	if !codec.valid() {
		return nil, fmt.Errorf("unknown codec %d", uint32(codec))
	}
	return &fileHeader{
		magic:         magicSnapshotHeader,
		formatVersion: fileFormatVersion,
		codec:         codec,
	}, nil
}

func (h *fileHeader) MarshalTo(buf []byte) error {
	if len(buf) < fileHeaderSize {
		return fmt.Errorf("buf too short: %d < %d", len(buf), fileHeaderSize)
	}
	buf = buf[:fileHeaderSize]
	clear(buf)
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.formatVersion)
	binary.LittleEndian.PutUint64(buf[recordCountOff:recordCountOff+8], h.recordCount)
	binary.LittleEndian.PutUint32(buf[codecOff:codecOff+4], uint32(h.codec))
	return nil
}

func (h *fileHeader) WriteTo(w io.Writer) (n int64, err error) {
	var headerBuf [fileHeaderSize]byte
	if err := h.MarshalTo(headerBuf[:]); err != nil {
		return 0, err
	}
	if _, err = w.Write(headerBuf[:]); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	return int64(fileHeaderSize), nil
}

// UpdateRecordCount patches the record count in place once the body has
// been written.
func (h *fileHeader) UpdateRecordCount(n uint64, w io.WriterAt) error {
	h.recordCount = n

	var recordCountBuf [8]byte
	binary.LittleEndian.PutUint64(recordCountBuf[:], h.recordCount)
	if _, err := w.WriteAt(recordCountBuf[:], recordCountOff); err != nil {
		return fmt.Errorf("f.WriteAt: %w", err)
	}

	return nil
}

func (h *fileHeader) UnmarshalBytes(headerBytes []byte) error {
	if len(headerBytes) < fileHeaderSize {
		return fmt.Errorf("headerBytes too short: %d < %d", len(headerBytes), fileHeaderSize)
	}

	headerBytes = headerBytes[:fileHeaderSize]

	h.magic = binary.LittleEndian.Uint32(headerBytes[:4])
	if h.magic != magicSnapshotHeader {
		return fmt.Errorf("bad magic number on snapshot (%x) -- not a memhash snapshot or corrupted", h.magic)
	}

	h.formatVersion = binary.LittleEndian.Uint32(headerBytes[4:8])
	if h.formatVersion != fileFormatVersion {
		return fmt.Errorf("this version of memhash can only read v%d snapshots; found v%d", fileFormatVersion, h.formatVersion)
	}

	h.recordCount = binary.LittleEndian.Uint64(headerBytes[recordCountOff : recordCountOff+8])
	h.codec = Codec(binary.LittleEndian.Uint32(headerBytes[codecOff : codecOff+4]))
	if !h.codec.valid() {
		return fmt.Errorf("snapshot uses unknown codec %d", uint32(h.codec))
	}

	return nil
}
