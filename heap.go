// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import (
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// StorageMode identifies how a heap's bytes got from disk into the address
// space backing Heap.Base.
type StorageMode int8

const (
	// StoreMem is a private, GDK-malloc'd in-memory copy of the file.
	StoreMem StorageMode = iota
	// StoreMmap is a shared (MAP_SHARED) read-only memory map of the file.
	StoreMmap
	// StorePriv is a private, copy-on-write (MAP_PRIVATE) memory map.
	StorePriv
	// StoreNonGDKMalloc is an in-memory copy allocated outside GDK's own
	// allocator bookkeeping (newer directory versions only); loaded the same
	// way as StoreMem.
	StoreNonGDKMalloc
	// StoreMemNotOwned marks a heap whose bytes are supplied by another
	// heap and which this descriptor does not itself load (newer directory
	// versions only).
	StoreMemNotOwned
	// StoreMmapAbsolute is a memory map whose backing path is absolute
	// rather than pool-relative (newer directory versions only).
	StoreMmapAbsolute
	// storeInvalidSentinel is one past the last recognized mode; any parsed
	// value at or beyond it is STORE_INVALID and must be rejected.
	storeInvalidSentinel
)

// Heap is a loaded, read-only view of one on-disk heap file: the main
// (fixed-width or offset) heap of a column, or its companion vheap.
type Heap struct {
	// Base is the logical view of the heap's bytes: Base[:LogicalSize] holds
	// real data; any padding out to the mapped/allocated size is excluded.
	Base        []byte
	LogicalSize uint64
	Mode        StorageMode
	Path        string

	mm    mmap.MMap
	owned []byte
}

// Close releases the heap's backing resources (unmapping a memory map;
// dropping a reference to a malloc'd buffer). It never writes to, truncates,
// or otherwise mutates the backing file.
func (h *Heap) Close() error {
	if h == nil {
		return nil
	}
	if h.mm != nil {
		mm := h.mm
		h.mm = nil
		h.Base = nil
		return mm.Unmap()
	}
	h.owned = nil
	h.Base = nil
	return nil
}

// pageSize is read once; it only affects the minimum mmap allocation size.
var pageSize = os.Getpagesize()

func pageAlign(n uint64) uint64 {
	ps := uint64(pageSize)
	if ps == 0 {
		return n
	}
	rem := n % ps
	if rem == 0 {
		return n
	}
	return n + (ps - rem)
}

// wordAlign rounds n up to the next multiple of 8, matching how a heap's
// capacity*width allocation request is naturally word-aligned.
func wordAlign(n uint64) uint64 {
	const word = 8
	rem := n % word
	if rem == 0 {
		return n
	}
	return n + (word - rem)
}

// loadHeap loads one heap file at path, whose logical (in-use) size is
// logicalSize bytes, according to mode. It never extends the backing file:
// a file shorter than required is a read-only-pool violation, not something
// this loader will repair.
func loadHeap(path string, logicalSize uint64, mode StorageMode) (*Heap, error) {
	switch mode {
	case StoreMemNotOwned:
		// This heap's bytes belong to another heap; nothing to load.
		return &Heap{LogicalSize: logicalSize, Mode: mode, Path: path}, nil
	case StoreMem, StoreNonGDKMalloc:
		return loadHeapIntoMemory(path, logicalSize, mode)
	case StoreMmap, StorePriv, StoreMmapAbsolute:
		return loadHeapByMmap(path, logicalSize, mode)
	default:
		return nil, errors.Wrapf(ErrInvalidStorageMode, "heap %q: mode %d", path, mode)
	}
}

func loadHeapIntoMemory(path string, logicalSize uint64, mode StorageMode) (*Heap, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrBackingFileMissing, "heap %q", path)
		}
		return nil, errors.Wrapf(ErrHeapIOError, "opening heap %q: %v", path, err)
	}
	defer f.Close()

	allocSize := wordAlign(logicalSize)
	buf := make([]byte, allocSize)
	n, err := io.ReadFull(f, buf[:logicalSize])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrapf(ErrHeapIOError, "reading heap %q: %v", path, err)
	}
	if uint64(n) < logicalSize {
		return nil, errors.Wrapf(ErrHeapIOError, "heap %q: short read (got %d of %d bytes)", path, n, logicalSize)
	}
	// Slack bytes beyond logicalSize, if any, stay zero-filled: buf is
	// freshly allocated and make() already zeroes it.

	return &Heap{
		Base:        buf[:logicalSize],
		LogicalSize: logicalSize,
		Mode:        mode,
		Path:        path,
		owned:       buf,
	}, nil
}

func loadHeapByMmap(path string, logicalSize uint64, mode StorageMode) (*Heap, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrBackingFileMissing, "heap %q", path)
		}
		return nil, errors.Wrapf(ErrHeapIOError, "opening heap %q: %v", path, err)
	}
	defer f.Close()

	mapSize := pageAlign(logicalSize)
	if mapSize == 0 {
		mapSize = uint64(pageSize)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(ErrHeapIOError, "stat heap %q: %v", path, err)
	}
	if uint64(info.Size()) < mapSize {
		return nil, errors.Wrapf(ErrReadOnlyPoolNeedsExtension,
			"heap %q: file is %d bytes, need %d", path, info.Size(), mapSize)
	}

	prot := mmap.RDONLY
	if mode == StorePriv {
		prot = mmap.COPY
	}
	mm, err := mmap.MapRegion(f, int(mapSize), prot, 0, 0)
	if err != nil {
		return nil, errors.Wrapf(ErrHeapMapFailed, "heap %q: %v", path, err)
	}

	return &Heap{
		Base:        []byte(mm)[:logicalSize],
		LogicalSize: logicalSize,
		Mode:        mode,
		Path:        path,
		mm:          mm,
	}, nil
}
