// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package checksum implements the table-driven 32-bit rolling checksum
// that protects the region header and every stored value.
//
// The digest is an MSB-first CRC over the 0x04C11DB7 polynomial with a zero
// initial register and no final xor.  Because the register is never
// post-processed, a checksum can be extended with more bytes later:
//
//	Append(Compute(a), b) == Compute(append(a, b...))
//
// which is what lets values be checksummed block by block and lets appends
// update a stored checksum without re-reading the old bytes.
package checksum

// Polynomial is the generator used for the default table.
const Polynomial = 0x04C11DB7

// Size of a checksum in bytes.
const Size = 4

// Table is a 256-word table, one entry per possible leading byte.
type Table [256]uint32

var defaultTable = MakeTable(Polynomial)

// MakeTable returns the reduction table for poly.
func MakeTable(poly uint32) *Table {
	t := new(Table)
	for i := range t {
		reg := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if reg&0x80000000 != 0 {
				reg = reg<<1 ^ poly
			} else {
				reg <<= 1
			}
		}
		t[i] = reg
	}
	return t
}

// Compute returns the checksum of b.
func (t *Table) Compute(b []byte) uint32 {
	return t.Append(0, b)
}

// Append extends a previously computed checksum with the bytes in b.
func (t *Table) Append(crc uint32, b []byte) uint32 {
	for _, c := range b {
		crc = crc<<8 ^ t[byte(crc>>24)^c]
	}
	return crc
}

// Compute returns the checksum of b using the default table.
func Compute(b []byte) uint32 {
	return defaultTable.Append(0, b)
}

// Append extends crc with b using the default table.
func Append(crc uint32, b []byte) uint32 {
	return defaultTable.Append(crc, b)
}
