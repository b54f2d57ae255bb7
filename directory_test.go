// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import (
	"bufio"
	"errors"
	"strings"
	"testing"
)

func TestClassifyVersion(t *testing.T) {
	tests := []struct {
		version int
		want    formatFamily
		wantErr error
	}{
		{verInetCompare, familyOldest, nil},
		{verInserted, familyOldest, nil},
		{verInserted + 1, familyMid, nil},
		{verHeaded, familyMid, nil},
		{verHeaded + 1, familyLater, nil},
		{verTalign, familyLater, nil},
		{verTalign + 1, familyRecent, nil},
		{verCurrent, familyRecent, nil},
		{verInetCompare - 1, 0, ErrUnsupportedVersion},
		{verCurrent + 1, 0, ErrNewerThanSupported},
		// literal version numbers from the spec's own table, independent of
		// this reader's constant names.
		{0o61026, familyOldest, nil},
		{0o61032, familyOldest, nil},
		{0o61033, familyMid, nil},
		{0o61035, familyMid, nil},
		{0o61036, familyLater, nil},
		{0o61037, familyRecent, nil},
		{0o61041, familyRecent, nil},
	}
	for _, tt := range tests {
		family, err := classifyVersion(tt.version)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("classifyVersion(%d) error = %v, want %v", tt.version, err, tt.wantErr)
			}
			continue
		}
		if err != nil || family != tt.want {
			t.Errorf("classifyVersion(%d) = %v, %v, want %v, nil", tt.version, family, err, tt.want)
		}
	}
}

func TestParseDirectoryHeader(t *testing.T) {
	text := "BBP.dir, GDKversion 25121\n8 8 8\n1 BBPsize=42\n"
	sc := bufio.NewScanner(strings.NewReader(text))
	h, err := parseDirectoryHeader(sc)
	if err != nil {
		t.Fatalf("parseDirectoryHeader() failed: %v", err)
	}
	if h.version != 25121 || h.family != familyRecent || h.oidSeed != 1 || h.bbpSizeHint != 42 {
		t.Errorf("header = %+v, want version=25121 family=familyRecent oidSeed=1 bbpSizeHint=42", h)
	}
}

func TestParseDirectoryHeaderRejects32BitOID(t *testing.T) {
	text := "BBP.dir, GDKversion 25121\n8 4 4\n1\n"
	sc := bufio.NewScanner(strings.NewReader(text))
	_, err := parseDirectoryHeader(sc)
	if !errors.Is(err, ErrPoolRequiresServerMaintenance) {
		t.Fatalf("parseDirectoryHeader() error = %v, want ErrPoolRequiresServerMaintenance", err)
	}
}

func TestDeriveLogicalName(t *testing.T) {
	tests := []struct {
		headName string
		batID    int64
		want     string
	}{
		{"mytable_col", 7, "mytable_col"},
		{"mytable_col~leftover", 7, "mytable_col"},
		{"~", 8, "tmp_10"},
		{"~", -8, "tmpr_10"},
	}
	for _, tt := range tests {
		got := deriveLogicalName(tt.headName, tt.batID)
		if got != tt.want {
			t.Errorf("deriveLogicalName(%q, %d) = %q, want %q", tt.headName, tt.batID, got, tt.want)
		}
	}
}

func TestParseEntryRejectsNonZeroFirst(t *testing.T) {
	reg := NewAtomRegistry()
	// familyMid record with first=5 (non-zero): batID status head tail file lastused props first count capacity map*4 headspec(13) tailspec(13)
	headSpec := "void 0 0 0 -1 -1 -1 -1 0 0 0 0 0"
	tailSpec := "int 4 0 0 -1 -1 -1 -1 0 0 4 4 0"
	line := strings.Join([]string{
		"1", "0", "col", "tailname", "file1", "0", "0", "5", "1", "1",
		"0", "0", "0", "0", headSpec, tailSpec,
	}, " ")
	_, err := parseEntry(line, 4, familyMid, reg)
	if !errors.Is(err, ErrPoolRequiresServerMaintenance) {
		t.Fatalf("parseEntry() error = %v, want ErrPoolRequiresServerMaintenance", err)
	}
}

func TestParseEntryLaterFamilyHasHeadHeapButNoMapFields(t *testing.T) {
	reg := NewAtomRegistry()
	// familyLater record: batID status head tail file lastused props first
	// count capacity headspec(13, with align) tailspec(13, with align) -
	// no map_head/map_tail/map_hheap/map_theap.
	headSpec := "void 0 0 0 -1 -1 -1 -1 0 0 0 0 0"
	tailSpec := "int 4 0 0 -1 -1 -1 -1 0 0 4 4 0"
	line := strings.Join([]string{
		"1", "0", "col", "tailname", "file1", "0", "0", "0", "1", "1",
		headSpec, tailSpec,
	}, " ")
	e, err := parseEntry(line, 4, familyLater, reg)
	if err != nil {
		t.Fatalf("parseEntry() error = %v, want nil", err)
	}
	if e.headName != "col" || e.fileName != "file1" || e.count != 1 || e.capacity != 1 {
		t.Errorf("parseEntry() = %+v, unexpected fields", e)
	}
}

func TestParseEntryRejectsBadProperties(t *testing.T) {
	reg := NewAtomRegistry()
	tailSpec := "int 4 0 0xFFFF -1 -1 -1 -1 0 4 4 0"
	line := strings.Join([]string{"1", "0", "col", "file1", "0", "1", "1", "0", tailSpec}, " ")
	_, err := parseEntry(line, 4, familyRecent, reg)
	if !errors.Is(err, ErrMalformedRecord) {
		// 0xFFFF is not parsed as a valid base-10 uint, which is itself a
		// malformed record - confirms hex-ish garbage is rejected outright.
		t.Fatalf("parseEntry() error = %v, want ErrMalformedRecord", err)
	}
}

func TestParseEntryRejectsFreeExceedsSize(t *testing.T) {
	reg := NewAtomRegistry()
	tailSpec := "int 4 0 0 -1 -1 -1 -1 0 100 4 0"
	line := strings.Join([]string{"1", "0", "col", "file1", "0", "1", "1", "0", tailSpec}, " ")
	_, err := parseEntry(line, 4, familyRecent, reg)
	if !errors.Is(err, ErrHeapFreeExceedsSize) {
		t.Fatalf("parseEntry() error = %v, want ErrHeapFreeExceedsSize", err)
	}
}
