// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package snapshot reads and writes portable exports of a store's live
// entries.  A snapshot is a fixed header followed by a stream of records,
// optionally compressed:
//
//	[header: magic, version, record count, codec]
//	[farm32(value) u32][key u64][len u32][value] ...
//
// Snapshots are independent of region geometry, so they can move data
// between regions created with different level or pool settings.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/dgryski/go-farm"
)

const (
	defaultBufferSize = 256 * 1024
	recordHeaderSize  = 4 + 8 + 4 // 32-bit checksum of the value + 64-bit key + 32-bit value length

	headerKeyOff      = 4
	headerValueLenOff = 12

	MaxValueLen = 1 << 24
)

type nopWriter struct{}

func (nopWriter) Write([]byte) (int, error) {
	return 0, io.EOF
}

// FileWriter is usually an *os.File, but specified as an interface for easier testing.
type FileWriter interface {
	io.Writer
	io.WriterAt
}

type Writer struct {
	f        FileWriter
	h        *fileHeader
	comp     io.WriteCloser
	w        *bufio.Writer
	count    uint64
	finished atomic.Bool
}

func NewWriter(f FileWriter, codec Codec) (*Writer, error) {
	h, err := newFileHeader(codec)
	if err != nil {
		return nil, fmt.Errorf("newFileHeader: %w", err)
	}
	if _, err := h.WriteTo(f); err != nil {
		return nil, fmt.Errorf("fileHeader.WriteTo: %w", err)
	}
	comp, err := codec.compressor(f)
	if err != nil {
		return nil, err
	}
	return &Writer{
		f:    f,
		h:    h,
		comp: comp,
		w:    bufio.NewWriterSize(comp, defaultBufferSize),
	}, nil
}

func (w *Writer) Write(key uint64, value []byte) error {
	if w.finished.Load() {
		return errors.New("write after Finish")
	}
	if len(value) > MaxValueLen {
		return fmt.Errorf("value for key %d too long (%d bytes)", key, len(value))
	}

	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], farm.Hash32(value))
	binary.LittleEndian.PutUint64(header[headerKeyOff:headerKeyOff+8], key)
	binary.LittleEndian.PutUint32(header[headerValueLenOff:headerValueLenOff+4], uint32(len(value)))

	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("bufio.Write 1: %w", err)
	}
	if _, err := w.w.Write(value); err != nil {
		return fmt.Errorf("bufio.Write 2: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() uint64 {
	return w.count
}

// Finish flushes the body and patches the record count into the header.
// The underlying file is left open.
func (w *Writer) Finish() error {
	if alreadyFinished := w.finished.Swap(true); alreadyFinished {
		return nil
	}

	defer func() {
		w.w.Reset(nopWriter{})
	}()

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}
	if err := w.comp.Close(); err != nil {
		return fmt.Errorf("%s close: %w", w.h.codec, err)
	}

	return w.h.UpdateRecordCount(w.count, w.f)
}
