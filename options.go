// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package memhash

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/bpowers/memhash/internal/index"
	"github.com/bpowers/memhash/internal/mmap"
)

const (
	// BlockPayloadSize is the number of value bytes each block holds.
	BlockPayloadSize = 512
	// MaxChainBlocks is the most blocks a single value may span.
	MaxChainBlocks = 20
	// MaxValueSize is the largest value Set or Append will store.
	MaxValueSize = BlockPayloadSize * MaxChainBlocks
	// MaxLevels is the largest supported number of hash levels.
	MaxLevels = index.MaxLevels
)

// SyncMode selects whether Sync waits for the write-back to finish.
type SyncMode int

const (
	SyncAsync SyncMode = iota
	SyncSync
)

func (m SyncMode) String() string {
	switch m {
	case SyncAsync:
		return "async"
	case SyncSync:
		return "sync"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

func (m SyncMode) valid() bool {
	return m == SyncAsync || m == SyncSync
}

func (m SyncMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *SyncMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "async", "":
		*m = SyncAsync
	case "sync":
		*m = SyncSync
	default:
		return fmt.Errorf("unknown sync mode %q (want async or sync)", text)
	}
	return nil
}

func (m SyncMode) mmap() mmap.SyncMode {
	if m == SyncSync {
		return mmap.SyncSync
	}
	return mmap.SyncAsync
}

// Config is supplied once at Open.  Levels, LevelBound and PoolSize are
// baked into the region file; the rest only affect the open handle.
type Config struct {
	// Levels is the number of hash levels.
	Levels int `yaml:"levels"`
	// LevelBound is the upper bound from which level capacities (primes)
	// are chosen, largest first.
	LevelBound uint32 `yaml:"level_bound"`
	// PoolSize is the number of blocks in the block zone.
	PoolSize int `yaml:"pool_size"`

	// Retention is how long an entry lives after it was last Set.  Zero
	// disables expiry.  Expiry has one-second granularity.
	Retention time.Duration `yaml:"retention"`
	// Mlock pins the whole mapping in memory.
	Mlock bool `yaml:"mlock"`
	// SyncEvery flushes the mapping after this many mutating operations.
	// Zero disables automatic flushing.
	SyncEvery int `yaml:"sync_every"`
	// SyncMode is used for automatic flushes.
	SyncMode SyncMode `yaml:"sync_mode"`
}

// DefaultConfig returns a configuration sized for roughly a few hundred
// thousand small values.
func DefaultConfig() Config {
	return Config{
		Levels:     50,
		LevelBound: 100000,
		PoolSize:   500000,
		SyncEvery:  10000,
		SyncMode:   SyncAsync,
	}
}

// Validate checks the configuration without touching the filesystem.
func (c *Config) Validate() error {
	if c.Levels < 1 || c.Levels > MaxLevels {
		return fmt.Errorf("%w: levels must be in 1..%d, got %d", ErrInvalidConfig, MaxLevels, c.Levels)
	}
	if c.LevelBound < 2 {
		return fmt.Errorf("%w: level bound must be at least 2, got %d", ErrInvalidConfig, c.LevelBound)
	}
	if c.PoolSize < 1 || c.PoolSize > math.MaxInt32 {
		return fmt.Errorf("%w: pool size must be in 1..%d, got %d", ErrInvalidConfig, math.MaxInt32, c.PoolSize)
	}
	if c.Retention < 0 {
		return fmt.Errorf("%w: retention must not be negative", ErrInvalidConfig)
	}
	if c.SyncEvery < 0 {
		return fmt.Errorf("%w: sync_every must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	now      func() time.Time
	payload  int
	maxChain int
}

// WithLogger sets an optional logger for diagnostics: recovery results,
// dropped entries and failed flushes.  If not provided, no logging output
// will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithClock overrides the time source used for entry stamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(opts *options) {
		opts.now = now
	}
}

// withBlockGeometry shrinks blocks so tests can exercise chains and
// pool exhaustion with tiny values.
func withBlockGeometry(payload, maxChain int) Option {
	return func(opts *options) {
		opts.payload = payload
		opts.maxChain = maxChain
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		payload:  BlockPayloadSize,
		maxChain: MaxChainBlocks,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
