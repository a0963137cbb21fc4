// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dgryski/go-farm"
)

var (
	ErrChecksum  = errors.New("snapshot record checksum mismatch")
	ErrTruncated = errors.New("snapshot truncated")
)

type Reader struct {
	h       fileHeader
	r       *bufio.Reader
	release func()
	read    uint64
	header  [recordHeaderSize]byte
}

// NewReader validates the snapshot header at the start of r and prepares
// to decode its records.
func NewReader(r io.Reader) (*Reader, error) {
	var headerBuf [fileHeaderSize]byte
	if _, err := io.ReadFull(r, headerBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrTruncated, err)
	}
	var h fileHeader
	if err := h.UnmarshalBytes(headerBuf[:]); err != nil {
		return nil, fmt.Errorf("fileHeader.UnmarshalBytes: %w", err)
	}
	body, release, err := h.codec.decompressor(r)
	if err != nil {
		return nil, err
	}
	return &Reader{
		h:       h,
		r:       bufio.NewReaderSize(body, defaultBufferSize),
		release: release,
	}, nil
}

// Len returns the record count recorded in the header.
func (r *Reader) Len() uint64 {
	return r.h.recordCount
}

func (r *Reader) Codec() Codec {
	return r.h.codec
}

// Next returns the next record, or io.EOF once every record announced in
// the header has been read.  The value is freshly allocated.
func (r *Reader) Next() (key uint64, value []byte, err error) {
	if r.read >= r.h.recordCount {
		return 0, nil, io.EOF
	}
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		return 0, nil, fmt.Errorf("%w: record %d header: %w", ErrTruncated, r.read, err)
	}
	expectedChecksum := binary.LittleEndian.Uint32(r.header[:4])
	key = binary.LittleEndian.Uint64(r.header[headerKeyOff : headerKeyOff+8])
	valueLen := binary.LittleEndian.Uint32(r.header[headerValueLenOff : headerValueLenOff+4])
	if valueLen > MaxValueLen {
		return 0, nil, fmt.Errorf("record %d (key %d) claims %d bytes: snapshot corrupted", r.read, key, valueLen)
	}

	value = make([]byte, valueLen)
	if _, err := io.ReadFull(r.r, value); err != nil {
		return 0, nil, fmt.Errorf("%w: record %d value: %w", ErrTruncated, r.read, err)
	}
	if checksum := farm.Hash32(value); checksum != expectedChecksum {
		return 0, nil, fmt.Errorf("%w: record %d (key %d): %08x != %08x", ErrChecksum, r.read, key, expectedChecksum, checksum)
	}
	r.read++
	return key, value, nil
}

// Close releases decompressor resources.  It does not close the
// underlying reader.
func (r *Reader) Close() {
	if r.release != nil {
		r.release()
		r.release = nil
	}
}
