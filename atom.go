// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import "fmt"

// AtomTag identifies an element type recognized by a pool. Non-negative
// values are builtin atoms known at compile time; negative values are
// interned at directory-parse time for atom names the reader does not
// otherwise recognize (user-defined types, extension modules).
type AtomTag int32

// Builtin atom tags, matching the names MonetDB's own BBP directory uses.
const (
	TagVoid AtomTag = iota
	TagBit
	TagBte
	TagSht
	TagInt
	TagOid
	TagPtr
	TagFlt
	TagDbl
	TagLng
	TagHge
	TagStr
	TagDate
	TagDaytime
	TagTimestamp
	TagBAT
)

// Int128 is the element type for the 128-bit "hge" atom. Go has no native
// 128-bit integer; the type holds the 16 raw bytes as-is rather than a
// decoded big.Int. No typed view method of Column returns Int128 values.
type Int128 [16]byte

type atomInfo struct {
	name     string
	size     uint16
	variable bool
	nilBytes []byte
}

// strNilBytes is the on-disk sentinel for an absent string value: a NUL
// terminator preceded by the single byte 0x80, which is not valid as the
// start of any UTF-8 sequence encoded by the writer.
var strNilBytes = []byte{0x80, 0x00}

var builtinAtoms = map[AtomTag]atomInfo{
	TagVoid:      {name: "void", size: 0, nilBytes: nil},
	TagBit:       {name: "bit", size: 1, nilBytes: []byte{0x80}},
	TagBte:       {name: "bte", size: 1, nilBytes: []byte{0x80}},
	TagSht:       {name: "sht", size: 2, nilBytes: []byte{0x00, 0x80}},
	TagInt:       {name: "int", size: 4, nilBytes: []byte{0x00, 0x00, 0x00, 0x80}},
	TagOid:       {name: "oid", size: 8, nilBytes: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	TagPtr:       {name: "ptr", size: 8, nilBytes: []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80}},
	TagFlt:       {name: "flt", size: 4, nilBytes: nil},
	TagDbl:       {name: "dbl", size: 8, nilBytes: nil},
	TagLng:       {name: "lng", size: 8, nilBytes: []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80}},
	TagHge:       {name: "hge", size: 16, nilBytes: append([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, 0x80)},
	TagStr:       {name: "str", size: 0, variable: true, nilBytes: strNilBytes},
	TagDate:      {name: "date", size: 4, nilBytes: nil},
	TagDaytime:   {name: "daytime", size: 8, nilBytes: nil},
	TagTimestamp: {name: "timestamp", size: 16, nilBytes: nil},
	TagBAT:       {name: "bat", size: 4, nilBytes: []byte{0x00, 0x00, 0x00, 0x80}},
}

var builtinAtomsByName map[string]AtomTag

func init() {
	builtinAtomsByName = make(map[string]AtomTag, len(builtinAtoms))
	for tag, info := range builtinAtoms {
		builtinAtomsByName[info.name] = tag
	}
}

// AtomRegistry resolves atom type names (as they appear in a directory
// file's heap specs) to AtomTags, interning any name it does not recognize
// so repeated occurrences of the same unknown type share a tag. A registry
// is scoped to a single Pool: opening two pools concurrently never shares
// (or contends over) interned atom state.
type AtomRegistry struct {
	unknownByName map[string]AtomTag
	unknownNames  []string // unknownNames[i] is the name for tag -(i+1)
}

// maxUnknownAtoms bounds the interning table so a corrupt or adversarial
// directory file cannot force unbounded allocation.
const maxUnknownAtoms = 4096

// NewAtomRegistry returns an empty registry, ready to resolve builtin atom
// names and intern unrecognized ones.
func NewAtomRegistry() *AtomRegistry {
	return &AtomRegistry{unknownByName: make(map[string]AtomTag)}
}

// Resolve maps a directory-file type name (with its recorded width, which
// disambiguates the legacy chr/wrd aliases) to an AtomTag, interning the
// name if it is not a recognized builtin.
func (r *AtomRegistry) Resolve(name string, width uint16) (AtomTag, error) {
	switch name {
	case "chr":
		// gdk_atoms.c silently upgrades chr (a retired 1-byte char atom) to bte.
		return TagBte, nil
	case "wrd":
		// wrd (a retired "word", platform pointer-sized integer atom) upgrades
		// to int or lng depending on the width recorded alongside it.
		if width == 4 {
			return TagInt, nil
		}
		return TagLng, nil
	}
	if tag, ok := builtinAtomsByName[name]; ok {
		return tag, nil
	}
	if tag, ok := r.unknownByName[name]; ok {
		return tag, nil
	}
	if len(r.unknownNames) >= maxUnknownAtoms {
		return 0, ErrUnknownAtomTableFull
	}
	tag := AtomTag(-(len(r.unknownNames) + 1))
	r.unknownNames = append(r.unknownNames, name)
	r.unknownByName[name] = tag
	return tag, nil
}

// Name returns the type name a tag was resolved from.
func (r *AtomRegistry) Name(tag AtomTag) string {
	if tag >= 0 {
		if info, ok := builtinAtoms[tag]; ok {
			return info.name
		}
		return fmt.Sprintf("atom(%d)", int32(tag))
	}
	idx := int(-tag) - 1
	if idx >= 0 && idx < len(r.unknownNames) {
		return r.unknownNames[idx]
	}
	return fmt.Sprintf("atom(%d)", int32(tag))
}

// Size returns the atom's declared element size in bytes, or 0 for void and
// for unrecognized (interned) atoms, whose size is taken instead from the
// width recorded in the heap spec that uses them.
func (r *AtomRegistry) Size(tag AtomTag) uint16 {
	if info, ok := builtinAtoms[tag]; ok {
		return info.size
	}
	return 0
}

// IsVariableSized reports whether values of this atom are stored as
// offsets into a companion vheap rather than inline.
func (r *AtomRegistry) IsVariableSized(tag AtomTag) bool {
	if info, ok := builtinAtoms[tag]; ok {
		return info.variable
	}
	return false
}

// NilBytes returns the on-disk sentinel byte pattern for this atom's nil
// (absent) value, or nil if the atom has no unboxed nil representation.
func (r *AtomRegistry) NilBytes(tag AtomTag) []byte {
	if info, ok := builtinAtoms[tag]; ok {
		return info.nilBytes
	}
	return nil
}

// IsBuiltin reports whether tag identifies one of the compiled-in atom types.
func (r *AtomRegistry) IsBuiltin(tag AtomTag) bool {
	_, ok := builtinAtoms[tag]
	return ok
}
