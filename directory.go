// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/monetdb-contrib/bbpreader/log"
	"github.com/pkg/errors"
)

// Known historical BBP.dir version numbers. They are written with Go's
// octal literal syntax because that is how the original library's headers
// spelled them (e.g. 0o61041); the octal-to-decimal value is also the
// plain decimal integer a directory file's first line actually carries as
// text, since the on-disk writer and this reader both compare against the
// same compiled-in constant.
const (
	verInetCompare = 0o61026
	verInserted    = 0o61032 // <=: entry carries inserted/deleted fields (oldest family)
	verHeaded      = 0o61035 // <=: entry still carries map_head/map_tail/map_hheap/map_theap
	verTalign      = 0o61036 // <=: heap specs carry an align field, and a head heap spec is present
	verCurrent     = 0o61041 // newest version this reader understands
)

// formatFamily distinguishes the four record shapes BBP.dir has used. The
// cutoffs are independent: verHeaded alone drops the map_* fields, verTalign
// alone drops the head heap spec and each heap spec's align field.
type formatFamily int

const (
	// familyOldest: 16 entry fields (adds inserted/deleted); head and tail
	// heap specs both present, each with an align field.
	familyOldest formatFamily = iota
	// familyMid: 14 entry fields; head and tail heap specs both present,
	// each with an align field.
	familyMid
	// familyLater: as familyMid, but without the map_head/map_tail/
	// map_hheap/map_theap fields; head and tail heap specs are still
	// present, each still with an align field.
	familyLater
	// familyRecent: 8 entry fields (head heap replaced by a single dense
	// head-sequence base); only a tail heap spec, without an align field.
	familyRecent
)

func classifyVersion(v int) (formatFamily, error) {
	if v < verInetCompare {
		return 0, ErrUnsupportedVersion
	}
	if v > verCurrent {
		return 0, ErrNewerThanSupported
	}
	switch {
	case v <= verInserted:
		return familyOldest, nil
	case v <= verHeaded:
		return familyMid, nil
	case v <= verTalign:
		return familyLater, nil
	default:
		return familyRecent, nil
	}
}

type directoryHeader struct {
	version     int
	family      formatFamily
	oidSeed     uint64
	bbpSizeHint int
}

const directoryHeaderLinePrefix = "BBP.dir, GDKversion "

func parseDirectoryHeader(sc *bufio.Scanner) (*directoryHeader, error) {
	if !sc.Scan() {
		return nil, errors.Wrap(ErrMalformedRecord, "BBP.dir is empty")
	}
	line1 := sc.Text()
	if !strings.HasPrefix(line1, directoryHeaderLinePrefix) {
		return nil, errors.Wrapf(ErrMalformedRecord, "BBP.dir: unrecognized header line %q", line1)
	}
	version, err := strconv.Atoi(strings.TrimSpace(line1[len(directoryHeaderLinePrefix):]))
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedRecord, "BBP.dir: bad version in header line %q", line1)
	}
	family, err := classifyVersion(version)
	if err != nil {
		return nil, errors.Wrapf(err, "BBP.dir version %d", version)
	}

	if !sc.Scan() {
		return nil, errors.Wrap(ErrMalformedRecord, "BBP.dir: missing platform-sizes line")
	}
	fields := strings.Fields(sc.Text())
	if len(fields) < 2 {
		return nil, errors.Wrapf(ErrMalformedRecord, "BBP.dir: bad platform-sizes line %q", sc.Text())
	}
	ptrSize, err1 := strconv.Atoi(fields[0])
	oidSize, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return nil, errors.Wrapf(ErrMalformedRecord, "BBP.dir: bad platform-sizes line %q", sc.Text())
	}
	if ptrSize != 8 {
		return nil, errors.Wrapf(ErrPlatformMismatch, "BBP.dir: pointer size %d (want 8)", ptrSize)
	}
	if oidSize != 8 {
		// A 4-byte OID recorded by a 64-bit server means this pool still
		// carries 32-bit OIDs; upgrading it requires a running server.
		return nil, errors.Wrapf(ErrPoolRequiresServerMaintenance, "BBP.dir: OID size %d (want 8)", oidSize)
	}

	if !sc.Scan() {
		return nil, errors.Wrap(ErrMalformedRecord, "BBP.dir: missing oid-seed line")
	}
	line3 := sc.Text()
	seedFields := strings.Fields(line3)
	var oidSeed uint64
	if len(seedFields) > 0 {
		oidSeed, _ = strconv.ParseUint(seedFields[0], 10, 64)
	}
	bbpSizeHint := 0
	if idx := strings.Index(line3, "BBPsize="); idx >= 0 {
		fmt.Sscanf(line3[idx:], "BBPsize=%d", &bbpSizeHint)
	}

	return &directoryHeader{version: version, family: family, oidSeed: oidSeed, bbpSizeHint: bbpSizeHint}, nil
}

// tokenCursor walks the whitespace-separated fields of one directory record,
// tracking a position so trailing, unconsumed text can be recovered as the
// record's free-form options string.
type tokenCursor struct {
	tokens []string
	pos    int
}

func newTokenCursor(line string) *tokenCursor {
	return &tokenCursor{tokens: strings.Fields(line)}
}

func (c *tokenCursor) next() (string, bool) {
	if c.pos >= len(c.tokens) {
		return "", false
	}
	t := c.tokens[c.pos]
	c.pos++
	return t, true
}

func (c *tokenCursor) nextString() (string, error) {
	t, ok := c.next()
	if !ok {
		return "", errors.Wrap(ErrMalformedRecord, "unexpected end of record")
	}
	return t, nil
}

func (c *tokenCursor) nextInt() (int64, error) {
	t, err := c.nextString()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedRecord, "expected an integer, got %q", t)
	}
	return v, nil
}

func (c *tokenCursor) nextUint() (uint64, error) {
	t, err := c.nextString()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(t, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedRecord, "expected a non-negative integer, got %q", t)
	}
	return v, nil
}

// rest returns whatever tokens remain, rejoined with single spaces, and
// advances the cursor to the end. The original format allows one verbatim
// trailing options string; rejoining tokens loses exact inter-token
// whitespace, which in practice never carries meaning for this field.
func (c *tokenCursor) rest() string {
	if c.pos >= len(c.tokens) {
		return ""
	}
	s := strings.Join(c.tokens[c.pos:], " ")
	c.pos = len(c.tokens)
	return s
}

// heapSpec is the parsed form of one "<type> <width> <var> <properties>
// ... <free> <size> <storage>" heap descriptor embedded in a directory
// record.
type heapSpec struct {
	typeName   string
	width      uint16
	properties uint32
	base       int64
	free       uint64
	size       uint64
	storage    int64
}

func parseHeapSpec(c *tokenCursor, withAlign bool) (heapSpec, error) {
	var hs heapSpec
	var err error

	if hs.typeName, err = c.nextString(); err != nil {
		return hs, err
	}
	width, err := c.nextUint()
	if err != nil {
		return hs, err
	}
	hs.width = uint16(width)
	if _, err = c.nextUint(); err != nil { // var flag; bit 2 ("hashash") is a hashing accelerator, out of scope
		return hs, err
	}
	props, err := c.nextUint()
	if err != nil {
		return hs, err
	}
	if props&^uint64(propertiesMask) != 0 {
		return hs, errors.Wrapf(ErrInvalidProperties, "heap spec for %q: properties 0x%x", hs.typeName, props)
	}
	hs.properties = uint32(props)
	for i := 0; i < 4; i++ { // nokey0, nokey1, nosorted, norevsorted: dirty-tracking positions, irrelevant to a read-only reader
		if _, err = c.nextInt(); err != nil {
			return hs, err
		}
	}
	if hs.base, err = c.nextInt(); err != nil {
		return hs, err
	}
	if withAlign {
		if _, err = c.nextInt(); err != nil { // align: superseded field, kept only for older formats' byte alignment
			return hs, err
		}
	}
	if hs.free, err = c.nextUint(); err != nil {
		return hs, err
	}
	if hs.size, err = c.nextUint(); err != nil {
		return hs, err
	}
	if hs.free > hs.size {
		return hs, errors.Wrapf(ErrHeapFreeExceedsSize, "heap spec for %q", hs.typeName)
	}
	storage, err := c.nextInt()
	if err != nil {
		return hs, err
	}
	hs.storage = storage
	return hs, nil
}

type vheapSpec struct {
	free    uint64
	size    uint64
	storage int64
}

func parseVHeapSpec(c *tokenCursor) (vheapSpec, error) {
	var vs vheapSpec
	var err error
	if vs.free, err = c.nextUint(); err != nil {
		return vs, err
	}
	if vs.size, err = c.nextUint(); err != nil {
		return vs, err
	}
	if vs.free > vs.size {
		return vs, errors.Wrap(ErrHeapFreeExceedsSize, "vheap spec")
	}
	storage, err := c.nextInt()
	if err != nil {
		return vs, err
	}
	vs.storage = storage
	return vs, nil
}

// rawEntry is one fully-parsed BBP.dir record, before the atom type and
// storage modes have been resolved into a Column.
type rawEntry struct {
	batID      int64
	headName   string
	fileName   string
	properties uint64
	count      uint64
	capacity   uint64
	tail       heapSpec
	tailTag    AtomTag
	tailVHeap  *vheapSpec
	options    string
}

func parseEntry(line string, lineNo int, family formatFamily, reg *AtomRegistry) (*rawEntry, error) {
	c := newTokenCursor(line)
	e := &rawEntry{}
	var err error

	if e.batID, err = c.nextInt(); err != nil {
		return nil, lineErr(lineNo, err)
	}
	if _, err = c.nextUint(); err != nil { // status: existing/new/delete tracking, irrelevant once persisted
		return nil, lineErr(lineNo, err)
	}
	if e.headName, err = c.nextString(); err != nil {
		return nil, lineErr(lineNo, err)
	}
	if family != familyRecent {
		if _, err = c.nextString(); err != nil { // tailname: ignored even by the original reader
			return nil, lineErr(lineNo, err)
		}
	}
	if e.fileName, err = c.nextString(); err != nil {
		return nil, lineErr(lineNo, err)
	}
	if family != familyRecent {
		if _, err = c.nextInt(); err != nil { // lastused: informational only
			return nil, lineErr(lineNo, err)
		}
	}
	if e.properties, err = c.nextUint(); err != nil {
		return nil, lineErr(lineNo, err)
	}
	if family == familyOldest {
		if _, err = c.nextInt(); err != nil { // inserted
			return nil, lineErr(lineNo, err)
		}
		if _, err = c.nextInt(); err != nil { // deleted
			return nil, lineErr(lineNo, err)
		}
	}
	var first int64
	if family != familyRecent {
		if first, err = c.nextInt(); err != nil {
			return nil, lineErr(lineNo, err)
		}
	}
	if e.count, err = c.nextUint(); err != nil {
		return nil, lineErr(lineNo, err)
	}
	if e.capacity, err = c.nextUint(); err != nil {
		return nil, lineErr(lineNo, err)
	}

	var headBase int64
	switch {
	case family == familyOldest || family == familyMid:
		for i := 0; i < 4; i++ { // map_head, map_tail, map_hheap, map_theap: legacy shared-map flags
			if _, err = c.nextInt(); err != nil {
				return nil, lineErr(lineNo, err)
			}
		}
	case family == familyRecent:
		if headBase, err = c.nextInt(); err != nil {
			return nil, lineErr(lineNo, err)
		}
	}
	// familyLater carries neither: the map_* fields are already gone, and
	// the dense head-sequence base has not been introduced yet.

	if first != 0 {
		return nil, lineErr(lineNo, errors.Wrapf(ErrPoolRequiresServerMaintenance, "bat %d: first BUN is %d, not 0", e.batID, first))
	}
	if family == familyRecent && headBase < 0 {
		return nil, lineErr(lineNo, errors.Wrapf(ErrPoolRequiresServerMaintenance, "bat %d: head sequence base out of range", e.batID))
	}

	// hasHeadHeap and withAlign vary independently in the original format
	// (a head heap spec disappears only in familyRecent; the align field
	// inside a heap spec disappears at the same version in this reader's
	// supported range, but the two are gated by separate cutoffs and must
	// not be collapsed into one flag).
	hasHeadHeap := family != familyRecent
	withAlign := family != familyRecent
	if hasHeadHeap {
		// The head heap spec is parsed and discarded: this reader models
		// only the tail (the actual stored column). The head is always
		// TYPE_void and, being non-variable, never carries a head vheap.
		if _, err = parseHeapSpec(c, withAlign); err != nil {
			return nil, lineErr(lineNo, err)
		}
	}

	if e.tail, err = parseHeapSpec(c, withAlign); err != nil {
		return nil, lineErr(lineNo, err)
	}

	tag, err := reg.Resolve(e.tail.typeName, e.tail.width)
	if err != nil {
		return nil, lineErr(lineNo, err)
	}
	e.tailTag = tag

	if reg.IsVariableSized(tag) {
		vs, err := parseVHeapSpec(c)
		if err != nil {
			return nil, lineErr(lineNo, err)
		}
		e.tailVHeap = &vs
	}

	e.options = c.rest()
	return e, nil
}

func lineErr(lineNo int, err error) error {
	return errors.Wrapf(err, "BBP.dir line %d", lineNo)
}

// deriveLogicalName applies BBPtmpname's rule: a head name beginning with
// '~' has no meaningful logical name of its own and is replaced by
// "tmp_<batID in octal>"; otherwise the head name is truncated at its
// first '~', if any.
func deriveLogicalName(headName string, batID int64) string {
	if strings.HasPrefix(headName, "~") {
		return tmpLogicalName(batID)
	}
	if idx := strings.IndexByte(headName, '~'); idx >= 0 {
		return headName[:idx]
	}
	return headName
}

func tmpLogicalName(batID int64) string {
	neg := batID < 0
	if neg {
		batID = -batID
	}
	digits := strconv.FormatInt(batID, 8)
	if neg {
		return "tmpr_" + digits
	}
	return "tmp_" + digits
}

// directoryParser reads a whole BBP.dir file and produces one rawEntry per
// record, validating the header and the per-record invariants as it goes.
type directoryParser struct {
	header *directoryHeader
	log    *log.Helper
}

func newDirectoryParser(helper *log.Helper) *directoryParser {
	return &directoryParser{log: helper}
}

// parse reads every record from r, calling visit for each successfully
// parsed entry in file order. It stops and returns the first error
// encountered, including duplicate pool indices across records.
func (p *directoryParser) parse(r io.Reader, reg *AtomRegistry, visit func(*rawEntry) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), 1<<20)

	header, err := parseDirectoryHeader(sc)
	if err != nil {
		return err
	}
	p.header = header
	if p.log != nil {
		p.log.Debugf("BBP.dir version %d, family %d, oid seed %d", header.version, header.family, header.oidSeed)
	}

	seen := make(map[int64]bool)
	lineNo := 3
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := parseEntry(line, lineNo, header.family, reg)
		if err != nil {
			return err
		}
		if seen[entry.batID] {
			return lineErr(lineNo, errors.Wrapf(ErrDuplicatePoolIndex, "bat %d", entry.batID))
		}
		seen[entry.batID] = true
		if err := visit(entry); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(ErrDirectoryFileUnreadable, err.Error())
	}
	return nil
}
