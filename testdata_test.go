// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testPool assembles a minimal, synthetic recent-format BBP.dir pool on
// disk: no MonetDB installation is available to generate a real one, so
// these tests build the exact on-disk shapes parseEntry/loadHeap expect,
// field by field, the way the parser itself would read them back.
type testPool struct {
	t       *testing.T
	dir     string
	lines   []string
	nextBat int64
}

func newTestPool(t *testing.T) *testPool {
	t.Helper()
	dir := t.TempDir()
	return &testPool{t: t, dir: dir, nextBat: 1}
}

func heapSpecLine(typeName string, width int, properties uint32, base int64, free, size uint64, storage int64) string {
	return fmt.Sprintf("%s %d 0 %d -1 -1 -1 -1 %d %d %d %d", typeName, width, properties, base, free, size, storage)
}

func vheapSpecLine(free, size uint64, storage int64) string {
	return fmt.Sprintf("%d %d %d", free, size, storage)
}

// addInt64 defines a fixed-width int64 column and writes its backing heap file.
func (p *testPool) addInt64(logicalName string, values []int64) int32 {
	p.t.Helper()
	bat := p.nextBat
	p.nextBat++
	fileName := fmt.Sprintf("%d", bat)

	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	if err := os.WriteFile(filepath.Join(p.dir, fileName+mainHeapExt), buf, 0o644); err != nil {
		p.t.Fatalf("writing heap file: %v", err)
	}

	tail := heapSpecLine("lng", 8, 0, 0, uint64(len(buf)), uint64(len(buf)), int64(StoreMem))
	line := strings.Join([]string{
		fmt.Sprint(bat), "0", logicalName, fileName, "0",
		fmt.Sprint(len(values)), fmt.Sprint(len(values)), "0", tail,
	}, " ")
	p.lines = append(p.lines, line)
	return int32(bat)
}

// addStrings defines a variable-width string column and writes both its
// offset heap and its companion vheap. The vheap starts with gdkVarOffset
// reserved bytes, and the 1-byte offsets are stored relative to the end of
// that region, as the reader expects for narrow offsets.
func (p *testPool) addStrings(logicalName string, values []string) int32 {
	p.t.Helper()
	bat := p.nextBat
	p.nextBat++
	fileName := fmt.Sprintf("%d", bat)

	vheap := make([]byte, gdkVarOffset)
	offsets := make([]byte, len(values))
	for i, v := range values {
		offsets[i] = byte(len(vheap) - gdkVarOffset)
		vheap = append(vheap, []byte(v)...)
		vheap = append(vheap, 0)
	}
	if err := os.WriteFile(filepath.Join(p.dir, fileName+mainHeapExt), offsets, 0o644); err != nil {
		p.t.Fatalf("writing offsets heap: %v", err)
	}
	if err := os.WriteFile(filepath.Join(p.dir, fileName+vheapExt), vheap, 0o644); err != nil {
		p.t.Fatalf("writing vheap: %v", err)
	}

	tail := heapSpecLine("str", 1, 0, 0, uint64(len(offsets)), uint64(len(offsets)), int64(StoreMem))
	vh := vheapSpecLine(uint64(len(vheap)), uint64(len(vheap)), int64(StoreMem))
	line := strings.Join([]string{
		fmt.Sprint(bat), "0", logicalName, fileName, "0",
		fmt.Sprint(len(values)), fmt.Sprint(len(values)), "0", tail, vh,
	}, " ")
	p.lines = append(p.lines, line)
	return int32(bat)
}

// addNilString appends a string column containing a single absent (nil
// sentinel) element, exercising the 0x80 0x00 decode path end to end.
func (p *testPool) addNilString(logicalName string) int32 {
	p.t.Helper()
	bat := p.nextBat
	p.nextBat++
	fileName := fmt.Sprintf("%d", bat)

	vheap := append(make([]byte, gdkVarOffset), 0x80, 0x00)
	offsets := []byte{0} // relative to the end of the reserved region
	if err := os.WriteFile(filepath.Join(p.dir, fileName+mainHeapExt), offsets, 0o644); err != nil {
		p.t.Fatalf("writing offsets heap: %v", err)
	}
	if err := os.WriteFile(filepath.Join(p.dir, fileName+vheapExt), vheap, 0o644); err != nil {
		p.t.Fatalf("writing vheap: %v", err)
	}
	tail := heapSpecLine("str", 1, 0, 0, 1, 1, int64(StoreMem))
	vh := vheapSpecLine(uint64(len(vheap)), uint64(len(vheap)), int64(StoreMem))
	line := strings.Join([]string{
		fmt.Sprint(bat), "0", logicalName, fileName, "0", "1", "1", "0", tail, vh,
	}, " ")
	p.lines = append(p.lines, line)
	return int32(bat)
}

// addDense defines a virtual dense column: base+k, no backing heap.
func (p *testPool) addDense(logicalName string, base uint64, length uint64) int32 {
	p.t.Helper()
	bat := p.nextBat
	p.nextBat++
	fileName := fmt.Sprintf("%d", bat)
	tail := heapSpecLine("oid", 8, propDense, int64(base), 0, 0, int64(StoreMem))
	line := strings.Join([]string{
		fmt.Sprint(bat), "0", logicalName, fileName, "0",
		fmt.Sprint(length), fmt.Sprint(length), "0", tail,
	}, " ")
	p.lines = append(p.lines, line)
	return int32(bat)
}

// rawLine appends an already-formatted record line verbatim, for tests that
// need a malformed or edge-case record the builder methods can't express.
func (p *testPool) rawLine(line string) {
	p.lines = append(p.lines, line)
}

// build writes BBP.dir (recent format family, version verCurrent) and
// returns the pool directory path.
func (p *testPool) build() string {
	p.t.Helper()
	var sb strings.Builder
	fmt.Fprintf(&sb, "BBP.dir, GDKversion %d\n", verCurrent)
	sb.WriteString("8 8 8\n")
	sb.WriteString("1 BBPsize=1000\n")
	for _, l := range p.lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(p.dir, directoryFileName), []byte(sb.String()), 0o644); err != nil {
		p.t.Fatalf("writing BBP.dir: %v", err)
	}
	return p.dir
}

// rewriteVersionLine replaces BBP.dir's first line in an already-built pool
// directory, for tests exercising version-rejection behavior.
func rewriteVersionLine(t *testing.T, dir, newFirstLine string) {
	t.Helper()
	path := filepath.Join(dir, directoryFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading BBP.dir: %v", err)
	}
	idx := strings.IndexByte(string(data), '\n')
	if idx < 0 {
		t.Fatalf("BBP.dir has no newline")
	}
	rewritten := newFirstLine + string(data[idx+1:])
	if err := os.WriteFile(path, []byte(rewritten), 0o644); err != nil {
		t.Fatalf("rewriting BBP.dir: %v", err)
	}
}
