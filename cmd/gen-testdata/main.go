package main

import (
	"bufio"
	crand "crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"os"

	farm "github.com/dgryski/go-farm"
)

const (
	prefix = "pref_"
)

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		var seedBytes [8]byte
		_, _ = crand.Read(seedBytes[:])
		seed = int64(binary.LittleEndian.Uint64(seedBytes[:]))
	}
	return rand.New(rand.NewSource(seed))
}

func main() {
	nPairs := flag.Int("n", 1000000, "number of key:value lines")
	suffixLen := flag.Int("len", 16, "hex digits of random suffix per value")
	seed := flag.Int64("seed", 0, "random seed (0 picks one)")
	flag.Parse()

	rng := newRand(*seed)
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	buf := make([]byte, (*suffixLen+1)/2)
	for i := 0; i < *nPairs; i++ {
		if _, err := rng.Read(buf); err != nil {
			panic(err)
		}
		value := fmt.Sprintf("%s%x", prefix, buf)
		// keys must be non-zero
		key := farm.Hash64([]byte(value))
		if key == 0 {
			key = 1
		}

		fmt.Fprintf(w, "%d:%s\n", key, value)
	}
}
