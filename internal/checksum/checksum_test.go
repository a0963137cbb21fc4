// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package checksum

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeTable(t *testing.T) {
	tbl := MakeTable(Polynomial)
	assert.Equal(t, uint32(0), tbl[0])
	assert.Equal(t, uint32(Polynomial), tbl[1])
	for i := 0; i < 256; i++ {
		assert.Equal(t, bitwise(Polynomial, []byte{byte(i)}), tbl[i], "entry %d", i)
	}
}

func TestCompute_CheckValue(t *testing.T) {
	// CRC-32/CKSUM parameters without the final inversion.
	require.Equal(t, uint32(0x765E7680^0xFFFFFFFF), Compute([]byte("123456789")))
	require.Equal(t, uint32(0), Compute(nil))
	require.Equal(t, uint32(0), Compute([]byte{}))
}

func TestCompute_MatchesBitwise(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 0; n < 200; n++ {
		buf := make([]byte, rng.Intn(1100))
		_, _ = rng.Read(buf)
		require.Equal(t, bitwise(Polynomial, buf), Compute(buf), "len %d", len(buf))
	}
}

func TestAppend_Composes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for n := 0; n < 100; n++ {
		a := make([]byte, rng.Intn(600))
		b := make([]byte, rng.Intn(600))
		_, _ = rng.Read(a)
		_, _ = rng.Read(b)
		whole := append(append([]byte{}, a...), b...)
		require.Equal(t, Compute(whole), Append(Compute(a), b))
	}
}

func TestCompute_OrderSensitive(t *testing.T) {
	assert.NotEqual(t, Compute([]byte("ab")), Compute([]byte("ba")))
	assert.NotEqual(t, Compute([]byte{0, 1}), Compute([]byte{1, 0}))
}

func TestCompute_LeadingZeros(t *testing.T) {
	// with a zero register and no final xor, leading zero bytes are invisible
	assert.Equal(t, uint32(0), Compute([]byte{0, 0, 0}))
	assert.Equal(t, Compute([]byte{1}), Compute([]byte{0, 1}))
	assert.Equal(t, uint32(Polynomial), Compute([]byte{1}))
	// entries always carry their length beside the sum
	assert.NotEqual(t, Compute([]byte{1}), Compute([]byte{1, 0}))
}

func TestTable_IndependentPolynomial(t *testing.T) {
	other := MakeTable(0x1EDC6F41)
	in := []byte("memhash")
	assert.Equal(t, bitwise(0x1EDC6F41, in), other.Compute(in))
	assert.NotEqual(t, other.Compute(in), Compute(in))
}

// bitwise is the textbook shift register, one bit at a time.
func bitwise(poly uint32, b []byte) uint32 {
	var reg uint32
	for _, c := range b {
		reg ^= uint32(c) << 24
		for i := 0; i < 8; i++ {
			if reg&0x80000000 != 0 {
				reg = reg<<1 ^ poly
			} else {
				reg <<= 1
			}
		}
	}
	return reg
}

func BenchmarkCompute(b *testing.B) {
	buf := make([]byte, 512)
	b.SetBytes(int64(len(buf)))
	for i := 0; i < b.N; i++ {
		Compute(buf)
	}
}
