// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import (
	"os"

	"github.com/monetdb-contrib/bbpreader/log"
	"github.com/pkg/errors"
)

// Pool is a read-only, opened view of one MonetDB BAT buffer pool
// directory: its parsed column descriptors, their loaded heaps, and
// (optionally) a SQL-catalog name index. A Pool holds the pool's exclusive
// lock for its entire lifetime; Close must be called to release it.
type Pool struct {
	path     string
	header   *directoryHeader
	lock     *poolLock
	registry *AtomRegistry
	log      *log.Helper

	// columns is indexed by pool index; every slot holds a non-nil Column,
	// and unused slots, including the reserved index 0, hold an invalid
	// placeholder.
	columns []*Column

	sqlIndex map[SQLName]int32
}

type openOptions struct {
	buildSQLIndex bool
	logger        log.Logger
}

// Option configures Open.
type Option func(*openOptions)

// WithSQLIndex requests that Open also build the SQL catalog name index
// (see BuildSQLIndex), so FindBySQLName works immediately.
func WithSQLIndex() Option {
	return func(o *openOptions) { o.buildSQLIndex = true }
}

// WithLogger overrides the default (error-level, stderr) logger.
func WithLogger(l log.Logger) Option {
	return func(o *openOptions) { o.logger = l }
}

// Open verifies poolPath, takes its exclusive lock, parses BBP.dir, and
// loads every non-dense column's heaps. On any error, every resource
// acquired so far (lock, loaded heaps) is released before Open returns.
func Open(poolPath string, opts ...Option) (*Pool, error) {
	o := &openOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.NewFilter(log.NewStdLogger(), log.FilterLevel(log.LevelError))
	}
	helper := log.NewHelper(logger)

	if err := validatePoolPath(poolPath); err != nil {
		return nil, err
	}

	lock, err := acquirePoolLock(poolPath)
	if err != nil {
		return nil, err
	}

	p, err := openLocked(poolPath, lock, helper, o)
	if err != nil {
		lock.release()
		return nil, err
	}
	return p, nil
}

func openLocked(poolPath string, lock *poolLock, helper *log.Helper, o *openOptions) (*Pool, error) {
	dirPath := directoryFilePath(poolPath)
	f, err := os.Open(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMissingDirectoryFile, "pool %q", poolPath)
		}
		return nil, errors.Wrapf(ErrDirectoryFileUnreadable, "pool %q: %v", poolPath, err)
	}
	defer f.Close()

	reg := NewAtomRegistry()
	parser := newDirectoryParser(helper)

	var entries []*rawEntry
	var maxIndex int32
	err = parser.parse(f, reg, func(e *rawEntry) error {
		if int32(e.batID) > maxIndex {
			maxIndex = int32(e.batID)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := &Pool{
		path:     poolPath,
		header:   parser.header,
		lock:     lock,
		registry: reg,
		log:      helper,
		columns:  make([]*Column, maxIndex+1),
	}
	// Every slot starts as an invalid placeholder so Pool.Size and Pool.Each
	// can report and visit holes (unused pool indices) without a nil check
	// leaking into callers.
	for i := range p.columns {
		p.columns[i] = &Column{Index: int32(i)}
	}

	for _, e := range entries {
		col, err := buildColumn(poolPath, e, reg)
		if err != nil {
			p.closeLoadedHeaps()
			return nil, err
		}
		p.columns[e.batID] = col
	}

	if o.buildSQLIndex {
		if err := p.BuildSQLIndex(); err != nil {
			p.closeLoadedHeaps()
			return nil, err
		}
	}

	return p, nil
}

// buildColumn resolves one parsed directory record into a Column,
// validating its invariants and, unless it is dense, loading its heap(s).
func buildColumn(poolPath string, e *rawEntry, reg *AtomRegistry) (*Column, error) {
	col := &Column{
		Index:        int32(e.batID),
		valid:        true,
		AtomTag:      e.tailTag,
		Width:        e.tail.width,
		Length:       e.count,
		Capacity:     e.capacity,
		Sortedness:   sortednessFromProperties(e.tail.properties),
		Restricted:   RestrictedAccess((e.properties & entryRestrictedMask) >> 1),
		PhysicalName: e.fileName,
		LogicalName:  deriveLogicalName(e.headName, e.batID),
		Options:      e.options,
	}
	if e.tail.properties&propDense != 0 {
		base := uint64(e.tail.base)
		col.DenseBase = &base
	}

	if err := validateColumn(col, reg); err != nil {
		return nil, err
	}
	if col.IsDense() {
		return col, nil
	}

	mode := StorageMode(e.tail.storage)
	mainPath := heapPath(poolPath, e.fileName, mainHeapExt, mode == StoreMmapAbsolute)
	heap, err := loadHeap(mainPath, e.tail.free, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "column %d", col.Index)
	}
	col.MainHeap = heap

	if e.tailVHeap != nil {
		vmode := StorageMode(e.tailVHeap.storage)
		vPath := heapPath(poolPath, e.fileName, vheapExt, vmode == StoreMmapAbsolute)
		vheap, err := loadHeap(vPath, e.tailVHeap.free, vmode)
		if err != nil {
			heap.Close()
			return nil, errors.Wrapf(err, "column %d vheap", col.Index)
		}
		col.VHeap = vheap
	}

	return col, nil
}

func (p *Pool) closeLoadedHeaps() {
	for _, c := range p.columns {
		if c == nil || !c.valid {
			continue
		}
		if c.VHeap != nil {
			c.VHeap.Close()
		}
		if c.MainHeap != nil {
			c.MainHeap.Close()
		}
	}
}

// Path returns the pool directory this Pool was opened from.
func (p *Pool) Path() string { return p.path }

// Registry returns the atom registry this pool resolved its columns'
// element types against; pass it to Column's typed view methods.
func (p *Pool) Registry() *AtomRegistry { return p.registry }

// At returns the column at the given pool index, or ErrNoSuchColumn if
// index is out of range or unused.
func (p *Pool) At(index int32) (*Column, error) {
	if index <= 0 || int(index) >= len(p.columns) || !p.columns[index].valid {
		return nil, errors.Wrapf(ErrNoSuchColumn, "index %d", index)
	}
	return p.columns[index], nil
}

// Size returns the total number of pool index slots, including holes (unused
// indices). An empty directory still reserves index 0, so Size() == 1 for a
// pool with no entries at all.
func (p *Pool) Size() int { return len(p.columns) }

// Each visits every pool slot from index 1 to Size()-1, in ascending order,
// including holes: fn must call IsValid on the Column it receives before
// trusting its other fields. Each stops and returns the first error fn
// returns.
func (p *Pool) Each(fn func(*Column) error) error {
	for _, c := range p.columns[1:] {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many columns are loaded (i.e. excludes holes).
func (p *Pool) Len() int {
	n := 0
	for _, c := range p.columns {
		if c.valid {
			n++
		}
	}
	return n
}

// All returns every loaded column in ascending pool-index order.
func (p *Pool) All() []*Column {
	out := make([]*Column, 0, p.Len())
	for _, c := range p.columns {
		if c.valid {
			out = append(out, c)
		}
	}
	return out
}

// FindByLogicalName returns the column with the given logical name, if any.
func (p *Pool) FindByLogicalName(name string) (*Column, bool) {
	for _, c := range p.columns {
		if c.valid && c.LogicalName == name {
			return c, true
		}
	}
	return nil, false
}

// FindByPhysicalName returns the column with the given physical (on-disk
// file) name, if any.
func (p *Pool) FindByPhysicalName(name string) (*Column, bool) {
	for _, c := range p.columns {
		if c.valid && c.PhysicalName == name {
			return c, true
		}
	}
	return nil, false
}

// Version returns the BBP.dir format version this pool was parsed from.
func (p *Pool) Version() int { return p.header.version }

// LibraryVersion returns the newest BBP.dir format version this reader
// understands, regardless of which version any particular pool was
// written with.
func (p *Pool) LibraryVersion() int { return verCurrent }

// Close releases every loaded heap, in ascending pool-index order, and then
// the pool's exclusive lock, which was the first resource acquired. It is
// safe to call once; a second call is a no-op.
func (p *Pool) Close() error {
	var firstErr error
	for _, c := range p.columns {
		if c == nil || !c.valid {
			continue
		}
		if c.VHeap != nil {
			if err := c.VHeap.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			c.VHeap = nil
		}
		if c.MainHeap != nil {
			if err := c.MainHeap.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			c.MainHeap = nil
		}
	}
	if p.lock != nil {
		if err := p.lock.release(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.lock = nil
	}
	return firstErr
}
