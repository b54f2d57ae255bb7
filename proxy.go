// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// gdkVarOffset is GDK_VAROFFSET: the base added to a narrow (1- or 2-byte)
// vheap offset before it indexes into the vheap. It equals the string hash
// table's byte size (1024 buckets of an 8-byte var_t on a 64-bit OID
// system), which MonetDB reserves at the front of every vheap; 4- and
// 8-byte offsets already encode the true byte position and need no
// adjustment.
const gdkVarOffset = 1024 * 8

// NullString is one element of a variable-width (string) column: either a
// decoded value, or an absent value (Valid == false) when the heap held the
// nil sentinel 0x80 0x00.
type NullString struct {
	Value string
	Valid bool
}

// checkFixedWidth verifies a column can be viewed as a dense slice of
// wantWidth-byte elements: it has a loaded main heap, is not variable-width,
// and its recorded width matches.
func (c *Column) checkFixedWidth(reg *AtomRegistry, wantWidth uint16) error {
	if c.IsDense() {
		return errors.Wrapf(ErrWrongSpanType, "column %d: dense columns have no backing heap; use DenseAt/DenseValues", c.Index)
	}
	if reg.IsVariableSized(c.AtomTag) {
		return errors.Wrapf(ErrWrongSpanType, "column %d: variable-width; use Strings", c.Index)
	}
	if c.Width != wantWidth {
		return errors.Wrapf(ErrWrongSpanType, "column %d: width is %d, not %d", c.Index, c.Width, wantWidth)
	}
	if c.MainHeap == nil {
		return errors.Wrapf(ErrWrongSpanType, "column %d: no loaded heap", c.Index)
	}
	return nil
}

// Int8s views a 1-byte fixed-width column as a slice of signed bytes.
func (c *Column) Int8s(reg *AtomRegistry) ([]int8, error) {
	if err := c.checkFixedWidth(reg, 1); err != nil {
		return nil, err
	}
	buf := c.MainHeap.Base
	out := make([]int8, c.Length)
	for i := range out {
		out[i] = int8(buf[i])
	}
	return out, nil
}

// Int16s views a 2-byte fixed-width column as a slice of signed shorts.
func (c *Column) Int16s(reg *AtomRegistry) ([]int16, error) {
	if err := c.checkFixedWidth(reg, 2); err != nil {
		return nil, err
	}
	buf := c.MainHeap.Base
	out := make([]int16, c.Length)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out, nil
}

// Int32s views a 4-byte fixed-width column as a slice of signed ints.
func (c *Column) Int32s(reg *AtomRegistry) ([]int32, error) {
	if err := c.checkFixedWidth(reg, 4); err != nil {
		return nil, err
	}
	buf := c.MainHeap.Base
	out := make([]int32, c.Length)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

// Int64s views an 8-byte fixed-width column as a slice of signed longs.
func (c *Column) Int64s(reg *AtomRegistry) ([]int64, error) {
	if err := c.checkFixedWidth(reg, 8); err != nil {
		return nil, err
	}
	buf := c.MainHeap.Base
	out := make([]int64, c.Length)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

// Float32s views a 4-byte fixed-width floating-point column.
func (c *Column) Float32s(reg *AtomRegistry) ([]float32, error) {
	if c.AtomTag != TagFlt {
		return nil, errors.Wrapf(ErrWrongSpanType, "column %d: not a flt column", c.Index)
	}
	if err := c.checkFixedWidth(reg, 4); err != nil {
		return nil, err
	}
	buf := c.MainHeap.Base
	out := make([]float32, c.Length)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

// Float64s views an 8-byte fixed-width floating-point column.
func (c *Column) Float64s(reg *AtomRegistry) ([]float64, error) {
	if c.AtomTag != TagDbl {
		return nil, errors.Wrapf(ErrWrongSpanType, "column %d: not a dbl column", c.Index)
	}
	if err := c.checkFixedWidth(reg, 8); err != nil {
		return nil, err
	}
	buf := c.MainHeap.Base
	out := make([]float64, c.Length)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

// DenseAt returns the i'th element of a dense (virtual) column without
// touching any heap: element k is always base+k.
func (c *Column) DenseAt(i uint64) (uint64, error) {
	if !c.IsDense() {
		return 0, errors.Wrapf(ErrWrongSpanType, "column %d: not dense", c.Index)
	}
	if i >= c.Length {
		return 0, errors.Wrapf(ErrNoSuchColumn, "column %d: index %d out of range (length %d)", c.Index, i, c.Length)
	}
	return *c.DenseBase + i, nil
}

// DenseValues materializes every element of a dense column. It is provided
// for convenience; callers reading only a handful of elements should prefer
// DenseAt, which needs no backing storage at all.
func (c *Column) DenseValues() ([]uint64, error) {
	if !c.IsDense() {
		return nil, errors.Wrapf(ErrWrongSpanType, "column %d: not dense", c.Index)
	}
	out := make([]uint64, c.Length)
	base := *c.DenseBase
	for i := range out {
		out[i] = base + uint64(i)
	}
	return out, nil
}

// readOffsets decodes a variable-width column's main heap into per-element
// byte offsets into its vheap.
func readOffsets(c *Column) ([]uint64, error) {
	buf := c.MainHeap.Base
	n := int(c.Length)
	out := make([]uint64, n)
	switch c.Width {
	case 1:
		for i := 0; i < n; i++ {
			out[i] = uint64(buf[i]) + gdkVarOffset
		}
	case 2:
		for i := 0; i < n; i++ {
			out[i] = uint64(binary.LittleEndian.Uint16(buf[i*2:])) + gdkVarOffset
		}
	case 4:
		for i := 0; i < n; i++ {
			out[i] = uint64(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	case 8:
		for i := 0; i < n; i++ {
			out[i] = binary.LittleEndian.Uint64(buf[i*8:])
		}
	default:
		return nil, errors.Wrapf(ErrInvalidWidth, "column %d: unsupported offset width %d", c.Index, c.Width)
	}
	return out, nil
}

// decodeVarString reads one NUL-terminated UTF-8 string out of a vheap at
// the given byte offset, recognizing the two-byte sequence 0x80 0x00 as the
// "absent" sentinel rather than returning it as literal bytes.
func decodeVarString(vheap []byte, offset uint64) (string, bool) {
	if offset >= uint64(len(vheap)) {
		return "", false
	}
	data := vheap[offset:]
	if len(data) >= len(strNilBytes) && bytes.Equal(data[:len(strNilBytes)], strNilBytes) {
		return "", false
	}
	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		nul = len(data)
	}
	return string(data[:nul]), true
}

// Strings views a variable-width (string) column, decoding every element's
// vheap payload. Absent elements (the on-disk nil sentinel) come back with
// Valid == false rather than the raw sentinel bytes.
func (c *Column) Strings(reg *AtomRegistry) ([]NullString, error) {
	if c.IsDense() {
		return nil, errors.Wrapf(ErrWrongSpanType, "column %d: dense columns have no backing heap", c.Index)
	}
	if !reg.IsVariableSized(c.AtomTag) {
		return nil, errors.Wrapf(ErrWrongSpanType, "column %d: not variable-width", c.Index)
	}
	if c.MainHeap == nil || c.VHeap == nil {
		return nil, errors.Wrapf(ErrWrongSpanType, "column %d: no loaded heap", c.Index)
	}

	offsets, err := readOffsets(c)
	if err != nil {
		return nil, err
	}
	out := make([]NullString, len(offsets))
	for i, off := range offsets {
		s, valid := decodeVarString(c.VHeap.Base, off)
		out[i] = NullString{Value: s, Valid: valid}
	}
	return out, nil
}

// StringAt decodes a single element of a variable-width column without
// materializing the whole offset table.
func (c *Column) StringAt(reg *AtomRegistry, i uint64) (NullString, error) {
	if c.IsDense() {
		return NullString{}, errors.Wrapf(ErrWrongSpanType, "column %d: dense columns have no backing heap", c.Index)
	}
	if !reg.IsVariableSized(c.AtomTag) {
		return NullString{}, errors.Wrapf(ErrWrongSpanType, "column %d: not variable-width", c.Index)
	}
	if c.MainHeap == nil || c.VHeap == nil {
		return NullString{}, errors.Wrapf(ErrWrongSpanType, "column %d: no loaded heap", c.Index)
	}
	if i >= c.Length {
		return NullString{}, errors.Wrapf(ErrNoSuchColumn, "column %d: index %d out of range (length %d)", c.Index, i, c.Length)
	}

	buf := c.MainHeap.Base
	var off uint64
	switch c.Width {
	case 1:
		off = uint64(buf[i]) + gdkVarOffset
	case 2:
		off = uint64(binary.LittleEndian.Uint16(buf[i*2:])) + gdkVarOffset
	case 4:
		off = uint64(binary.LittleEndian.Uint32(buf[i*4:]))
	case 8:
		off = binary.LittleEndian.Uint64(buf[i*8:])
	default:
		return NullString{}, errors.Wrapf(ErrInvalidWidth, "column %d: unsupported offset width %d", c.Index, c.Width)
	}
	s, valid := decodeVarString(c.VHeap.Base, off)
	return NullString{Value: s, Valid: valid}, nil
}
