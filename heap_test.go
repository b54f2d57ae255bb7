// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadHeapIntoMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "col.tail")
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	h, err := loadHeap(path, uint64(len(want)), StoreMem)
	if err != nil {
		t.Fatalf("loadHeap() failed: %v", err)
	}
	defer h.Close()

	if string(h.Base) != string(want) {
		t.Errorf("Base = %v, want %v", h.Base, want)
	}
}

func TestLoadHeapMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := loadHeap(filepath.Join(dir, "missing.tail"), 8, StoreMem)
	if !errors.Is(err, ErrBackingFileMissing) {
		t.Fatalf("loadHeap() error = %v, want ErrBackingFileMissing", err)
	}
}

func TestLoadHeapShortFileIsIOError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "col.tail")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := loadHeap(path, 8, StoreMem)
	if !errors.Is(err, ErrHeapIOError) {
		t.Fatalf("loadHeap() error = %v, want ErrHeapIOError", err)
	}
}

func TestLoadHeapMmapNeedsExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "col.tail")
	if err := os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// A logical size bigger than a page forces loadHeapByMmap to require more
	// bytes than the (tiny) backing file actually has.
	_, err := loadHeap(path, uint64(pageSize)+1, StoreMmap)
	if !errors.Is(err, ErrReadOnlyPoolNeedsExtension) {
		t.Fatalf("loadHeap() error = %v, want ErrReadOnlyPoolNeedsExtension", err)
	}
}

func TestLoadHeapInvalidStorageMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "col.tail")
	os.WriteFile(path, []byte{1}, 0o644)
	_, err := loadHeap(path, 1, storeInvalidSentinel)
	if !errors.Is(err, ErrInvalidStorageMode) {
		t.Fatalf("loadHeap() error = %v, want ErrInvalidStorageMode", err)
	}
}

func TestWordAlignAndPageAlign(t *testing.T) {
	if wordAlign(0) != 0 || wordAlign(1) != 8 || wordAlign(8) != 8 || wordAlign(9) != 16 {
		t.Error("wordAlign() does not round up to the next multiple of 8")
	}
	if pageAlign(0) != 0 {
		t.Error("pageAlign(0) should stay 0")
	}
	if pageAlign(1) != uint64(pageSize) {
		t.Errorf("pageAlign(1) = %d, want %d", pageAlign(1), pageSize)
	}
}
