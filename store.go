// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package memhash

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/bpowers/memhash/internal/blockpool"
	"github.com/bpowers/memhash/internal/index"
	"github.com/bpowers/memhash/internal/layout"
	"github.com/bpowers/memhash/internal/mmap"
	"github.com/bpowers/memhash/internal/recovery"
)

// Shape is the fixed geometry of a region.
type Shape struct {
	Levels     int
	LevelBound uint32
	PoolSize   int
}

func shapeOf(info layout.Info) Shape {
	return Shape{
		Levels:     int(info.Levels),
		LevelBound: info.LevelBound,
		PoolSize:   int(info.PoolSize),
	}
}

// Store is an open region.  A Store is not safe for concurrent use, and
// at most one Store (in any process) may have a given file open at once.
type Store struct {
	path   string
	cfg    Config
	f      *os.File
	m      *mmap.Mapping
	r      *layout.Region
	idx    *index.Table
	pool   *blockpool.Pool
	logger *slog.Logger
	now    func() time.Time

	maxChain int
	changes  int
	cursor   int
	closed   bool
}

// Open opens the region at path, creating it if it doesn't exist.  An
// existing region must have been created with the same Levels,
// LevelBound and PoolSize.  Entries left inconsistent by a crash are
// dropped while opening.
func Open(path string, cfg Config, opts ...Option) (*Store, error) {
	o := newOptions(opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.SyncMode.valid() {
		o.logger.Warn("unknown sync mode, using async", "sync_mode", int(cfg.SyncMode))
		cfg.SyncMode = SyncAsync
	}
	if o.payload <= 0 || o.maxChain <= 0 {
		return nil, fmt.Errorf("%w: block payload %d, max chain %d", ErrInvalidConfig, o.payload, o.maxChain)
	}

	geo, err := layout.NewGeometry(layout.Info{
		Levels:     uint32(cfg.Levels),
		LevelBound: cfg.LevelBound,
		PoolSize:   uint32(cfg.PoolSize),
	}, o.payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	s := &Store{
		path:     path,
		cfg:      cfg,
		idx:      geo.Index,
		logger:   o.logger,
		now:      o.now,
		maxChain: o.maxChain,
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	switch {
	case err == nil:
		s.f = f
		err = s.create(geo)
		if err != nil {
			_ = s.release()
			_ = os.Remove(path)
		}
	case errors.Is(err, fs.ErrExist):
		err = s.openExisting(geo)
		if err != nil {
			_ = s.release()
		}
	default:
		err = fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Mlock {
		if err := s.m.Lock(); err != nil {
			_ = s.release()
			return nil, err
		}
	}
	if err := s.m.Advise(mmap.AccessRandom); err != nil {
		s.logger.Debug("madvise failed", "err", err)
	}
	return s, nil
}

func (s *Store) create(geo *layout.Geometry) error {
	if err := s.f.Truncate(geo.Size); err != nil {
		return fmt.Errorf("f.Truncate(%d): %w", geo.Size, err)
	}
	if err := s.mapRegion(geo); err != nil {
		return err
	}
	s.r.Format()
	if err := s.m.Sync(s.cfg.SyncMode.mmap()); err != nil {
		return err
	}
	s.logger.Info("created region", "path", s.path, "size", geo.Size,
		"levels", geo.Info.Levels, "slots", geo.NodeCount(), "blocks", geo.PoolSize())
	return nil
}

func (s *Store) openExisting(geo *layout.Geometry) error {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("os.OpenFile(%s): %w", s.path, err)
	}
	s.f = f

	info, err := layout.ReadInfo(f)
	if err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	if info != geo.Info {
		return fmt.Errorf("%w: %s has %s, configured %s", ErrLayoutMismatch, s.path, info, geo.Info)
	}
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("f.Stat: %w", err)
	}
	if fi.Size() != geo.Size {
		return fmt.Errorf("%w: %s is %d bytes, layout needs %d", ErrSizeMismatch, s.path, fi.Size(), geo.Size)
	}

	if err := s.mapRegion(geo); err != nil {
		return err
	}
	if err := s.r.CheckBarriers(); err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	report := recovery.Rebuild(s.r, s.maxChain, s.logger.With("path", s.path))
	if report.Dropped > 0 {
		s.logger.Warn("recovery dropped entries", "path", s.path, "dropped", report.Dropped)
	}
	return nil
}

func (s *Store) mapRegion(geo *layout.Geometry) error {
	m, err := mmap.Map(s.f, geo.Size)
	if err != nil {
		return fmt.Errorf("mmap.Map: %w", err)
	}
	s.m = m
	r, err := geo.View(m.Bytes())
	if err != nil {
		return err
	}
	s.r = r
	s.pool = blockpool.New(r.Header, r.Blocks)
	return nil
}

// release drops the mapping and the file, whichever exist.
func (s *Store) release() error {
	var errs []error
	if s.m != nil {
		errs = append(errs, s.m.Close())
		s.m = nil
	}
	if s.f != nil {
		errs = append(errs, s.f.Close())
		s.f = nil
	}
	s.r = nil
	s.pool = nil
	return errors.Join(errs...)
}

// Probe reads the shape of the region at path without mapping it.
func Probe(path string) (Shape, error) {
	f, err := os.Open(path)
	if err != nil {
		return Shape{}, fmt.Errorf("os.Open: %w", err)
	}
	defer f.Close()
	info, err := layout.ReadInfo(f)
	if err != nil {
		return Shape{}, fmt.Errorf("%s: %w", path, err)
	}
	return shapeOf(info), nil
}

// Shape returns the region's fixed geometry.
func (s *Store) Shape() Shape {
	return Shape{
		Levels:     s.cfg.Levels,
		LevelBound: s.cfg.LevelBound,
		PoolSize:   s.cfg.PoolSize,
	}
}

// Path returns the region file's path.
func (s *Store) Path() string {
	return s.path
}

// Sync flushes the mapping to the file.
func (s *Store) Sync(mode SyncMode) error {
	if s.closed {
		return ErrClosed
	}
	if !mode.valid() {
		s.logger.Warn("unknown sync mode, using async", "sync_mode", int(mode))
		mode = SyncAsync
	}
	s.changes = 0
	return s.m.Sync(mode.mmap())
}

// Close unmaps the region and closes the file.  It does not flush; call
// Sync first for durability.  Closing twice is a no-op.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cfg.Mlock && s.m != nil {
		if err := s.m.Unlock(); err != nil {
			s.logger.Warn("munlock failed", "err", err)
		}
	}
	return s.release()
}

// Check verifies the consistency of the region without modifying it.
func (s *Store) Check() error {
	if s.closed {
		return ErrClosed
	}
	return recovery.Verify(s.r, s.maxChain)
}
