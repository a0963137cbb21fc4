// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package snapshot

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects how the record body of a snapshot is compressed.  The
// file header is always stored uncompressed.
type Codec uint32

const (
	CodecNone Codec = iota
	CodecLZ4
	CodecZstd
)

var codecNames = map[Codec]string{
	CodecNone: "none",
	CodecLZ4:  "lz4",
	CodecZstd: "zstd",
}

func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Codec(%d)", uint32(c))
}

func (c Codec) valid() bool {
	_, ok := codecNames[c]
	return ok
}

// ParseCodec maps a codec name as printed by String back to a Codec.
func ParseCodec(name string) (Codec, error) {
	for c, n := range codecNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown codec %q (want none, lz4 or zstd)", name)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// compressor wraps w.  Closing the result flushes any buffered frame but
// leaves w open.
func (c Codec) compressor(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd.NewWriter: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown codec %d", uint32(c))
	}
}

// decompressor wraps r.  The returned func releases decoder resources.
func (c Codec) decompressor(r io.Reader) (io.Reader, func(), error) {
	switch c {
	case CodecNone:
		return r, func() {}, nil
	case CodecLZ4:
		return lz4.NewReader(r), func() {}, nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd.NewReader: %w", err)
		}
		return dec, dec.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown codec %d", uint32(c))
	}
}
