// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import "github.com/pkg/errors"

// Properties bits as they appear in a heap spec's properties field. Any bit
// outside propertiesMask is a corrupt directory.
const (
	propSorted        = 0x0001
	propReverseSorted = 0x0080
	propKeyUnique     = 0x0100
	propDense         = 0x0200
	propNoNil         = 0x0400
	propNilPresent    = 0x0800
	propertiesMask    = propSorted | propReverseSorted | propKeyUnique | propDense | propNoNil | propNilPresent
)

// Entry-level properties field: bits 1-2 encode restricted access.
const entryRestrictedMask = 0x0006

// Sortedness summarizes the ordering and uniqueness flags a column's heap
// spec recorded at the time the column was last persisted.
type Sortedness struct {
	Ascending     bool
	Descending    bool
	KeyUnique     bool
	NoNil         bool
	NilPresent    bool
}

func sortednessFromProperties(props uint32) Sortedness {
	return Sortedness{
		Ascending:  props&propSorted != 0,
		Descending: props&propReverseSorted != 0,
		KeyUnique:  props&propKeyUnique != 0,
		NoNil:      props&propNoNil != 0,
		NilPresent: props&propNilPresent != 0,
	}
}

// RestrictedAccess enumerates the BAT-level access-restriction bits.
type RestrictedAccess uint8

const (
	AccessReadWrite  RestrictedAccess = 0
	AccessReadOnly   RestrictedAccess = 1
	AccessAppendOnly RestrictedAccess = 2
)

// Column is the descriptor for one on-disk BAT column: its logical and
// physical identity, its element type, and (unless it is dense) the loaded
// heap(s) backing its values.
type Column struct {
	Index   int32
	AtomTag AtomTag
	Width   uint16

	Length   uint64
	Capacity uint64

	Sortedness Sortedness
	Restricted RestrictedAccess

	// DenseBase is non-nil for a dense (virtual) column: element k equals
	// *DenseBase + uint64(k), and MainHeap/VHeap are both nil.
	DenseBase *uint64

	MainHeap *Heap
	VHeap    *Heap

	PhysicalName string
	LogicalName  string
	Options      string

	sqlName *SQLName // set by BuildSQLIndex; nil until then or if unresolved

	// valid is false for a placeholder occupying an unused pool index: the
	// directory never had an entry for that slot, but the slot still
	// occupies a position in Pool.Size() and is still visited by Pool's
	// hole-inclusive iterator.
	valid bool
}

// IsValid reports whether this descriptor corresponds to an actual
// directory entry. A Column obtained through Pool.At, Pool.All, or
// Pool.FindBy* is always valid; one obtained while iterating every pool
// slot (Pool.Each) may not be.
func (c *Column) IsValid() bool { return c != nil && c.valid }

// IsDense reports whether the column is a virtual dense sequence with no
// backing heap storage.
func (c *Column) IsDense() bool { return c.DenseBase != nil }

// IsVariableWidth reports whether the column's elements are stored as
// offsets into VHeap rather than inline in MainHeap.
func (c *Column) IsVariableWidth(reg *AtomRegistry) bool {
	return reg.IsVariableSized(c.AtomTag)
}

// SQLName returns the column's resolved SQL catalog name, and whether one
// was found. It is always (SQLName{}, false) until Pool.BuildSQLIndex has run.
func (c *Column) SQLName() (SQLName, bool) {
	if c.sqlName == nil {
		return SQLName{}, false
	}
	return *c.sqlName, true
}

// validateColumn checks the structural invariants that a descriptor must
// satisfy regardless of which directory-format family it was parsed from.
func validateColumn(c *Column, reg *AtomRegistry) error {
	if c.Sortedness.Ascending && c.Sortedness.Descending && c.Length > 1 {
		return errors.Wrapf(ErrContradictorySortedness, "column %d", c.Index)
	}
	if c.IsDense() {
		return nil
	}
	if reg.IsVariableSized(c.AtomTag) {
		switch c.Width {
		case 1, 2, 4, 8:
		default:
			return errors.Wrapf(ErrInvalidWidth, "column %d: variable-width column has width %d", c.Index, c.Width)
		}
		return nil
	}
	if declared := reg.Size(c.AtomTag); reg.IsBuiltin(c.AtomTag) && declared != 0 && declared != c.Width {
		return errors.Wrapf(ErrInvalidWidth, "column %d: atom %q declares size %d, heap spec has width %d",
			c.Index, reg.Name(c.AtomTag), declared, c.Width)
	}
	return nil
}
