// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

// Primes returns up to n primes, scanning downward from bound (inclusive).
// Fewer than n are returned when the range runs out.
func Primes(bound uint32, n int) []uint32 {
	primes := make([]uint32, 0, n)
	for v := bound; v > 1 && len(primes) < n; v-- {
		if isPrime(v) {
			primes = append(primes, v)
		}
	}
	return primes
}

func isPrime(v uint32) bool {
	if v < 2 {
		return false
	}
	if v%2 == 0 {
		return v == 2
	}
	for d := uint64(3); d*d <= uint64(v); d += 2 {
		if uint64(v)%d == 0 {
			return false
		}
	}
	return true
}
