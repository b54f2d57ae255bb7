// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import "errors"

// Sentinel errors, grouped by the taxonomy kind they belong to. Callers
// should use errors.Is against these; context (pool path, column index,
// directory line) is attached with github.com/pkg/errors.Wrapf at the call
// site rather than by subtyping the error.

// Kind 1: pool structure.
var (
	// ErrPoolNotFound is returned when the pool directory does not exist.
	ErrPoolNotFound = errors.New("pool directory does not exist")

	// ErrPoolNotADirectory is returned when the pool path exists but is not a directory.
	ErrPoolNotADirectory = errors.New("pool path is not a directory")

	// ErrPoolNotTraversable is returned when the pool directory cannot be listed/entered.
	ErrPoolNotTraversable = errors.New("pool directory is not traversable")

	// ErrMissingDirectoryFile is returned when BBP.dir is absent from the pool.
	ErrMissingDirectoryFile = errors.New("pool is missing BBP.dir")

	// ErrDirectoryFileUnreadable is returned when BBP.dir cannot be read.
	ErrDirectoryFileUnreadable = errors.New("BBP.dir is not readable")
)

// Kind 2: lock contention.
var (
	// ErrLockContention is returned when another process holds the pool's
	// exclusive lock - most likely a running database server.
	ErrLockContention = errors.New("pool lock is held by another process (a database server is likely running)")
)

// Kind 3: version incompatibility.
var (
	// ErrUnsupportedVersion is returned for a directory file older than any
	// version this reader understands.
	ErrUnsupportedVersion = errors.New("BBP.dir version older than supported")

	// ErrNewerThanSupported is returned for a directory file newer than any
	// version this reader understands.
	ErrNewerThanSupported = errors.New("BBP.dir version newer than supported")

	// ErrPlatformMismatch is returned when the directory file's recorded
	// pointer size does not match this (64-bit) reader. An OID size other
	// than 8 is reported as ErrPoolRequiresServerMaintenance instead.
	ErrPlatformMismatch = errors.New("BBP.dir platform word sizes do not match this reader")

	// ErrPoolRequiresServerMaintenance is returned for entries that would
	// require a live server to rewrite before they can be read (first != 0,
	// 32-bit OIDs on this 64-bit reader, pending commit upgrades).
	ErrPoolRequiresServerMaintenance = errors.New("pool has pending state that requires a running server to resolve before it can be read")
)

// Kind 4: corrupt directory.
var (
	// ErrMalformedRecord is returned when a directory line does not parse
	// into the expected number of fields for its format family.
	ErrMalformedRecord = errors.New("malformed BBP.dir record")

	// ErrInvalidProperties is returned when a properties bitfield has bits
	// set outside the known mask.
	ErrInvalidProperties = errors.New("directory record has properties bits outside the known mask")

	// ErrInvalidStorageMode is returned for a heap spec whose storage mode
	// is not one of the known enum values.
	ErrInvalidStorageMode = errors.New("heap spec has an invalid storage mode")

	// ErrHeapFreeExceedsSize is returned when a heap's free (logical) size
	// exceeds its allocated size.
	ErrHeapFreeExceedsSize = errors.New("heap free size exceeds heap size")

	// ErrDuplicatePoolIndex is returned when two directory records claim the
	// same pool index.
	ErrDuplicatePoolIndex = errors.New("duplicate pool index in BBP.dir")

	// ErrInvalidWidth is returned when a column's width does not match its
	// atom's declared size (fixed atoms) or is not in {1,2,4,8} (variable atoms).
	ErrInvalidWidth = errors.New("column width does not match its atom type")

	// ErrContradictorySortedness is returned when ascending and descending
	// are both set for a column of length greater than 1.
	ErrContradictorySortedness = errors.New("column claims to be both sorted and reverse-sorted")

	// ErrUnknownAtomTableFull is returned when the unknown-atom side table
	// has no room left to intern another deferred atom name.
	ErrUnknownAtomTableFull = errors.New("unknown atom registration table is full")
)

// Kind 5: filesystem / I/O.
var (
	// ErrBackingFileMissing is returned when a heap's backing file does not exist.
	ErrBackingFileMissing = errors.New("backing heap file is missing")

	// ErrReadOnlyPoolNeedsExtension is returned when a heap's backing file is
	// shorter than its required mapped size, and this read-only reader will
	// not extend it.
	ErrReadOnlyPoolNeedsExtension = errors.New("backing heap file is shorter than required; extending it is not permitted in read-only mode")

	// ErrHeapIOError is returned for a read failure while loading a heap.
	ErrHeapIOError = errors.New("i/o error while loading heap")

	// ErrHeapMapFailed is returned when the mmap syscall fails.
	ErrHeapMapFailed = errors.New("failed to memory-map heap")
)

// Kind 6: catalog inconsistency.
var (
	// ErrInconsistentCatalog is returned when paired catalog columns
	// disagree in length, or a mangled-name collision cannot be resolved.
	ErrInconsistentCatalog = errors.New("sql catalog columns are inconsistent")

	// ErrCatalogColumnMissing is returned when a required system-table
	// column has no entry in the BBP's own SQL catalog map.
	ErrCatalogColumnMissing = errors.New("a required system table column has no storage in the pool")

	// ErrSchemaIDUnresolved is returned when a table references a schema id
	// absent from sys.schemas.
	ErrSchemaIDUnresolved = errors.New("table references an unknown schema id")
)

// Kind 7: caller error.
var (
	// ErrNoSuchColumn is returned by Pool.At for an out-of-range index.
	ErrNoSuchColumn = errors.New("no such column")

	// ErrSQLIndexNotBuilt is returned by FindBySQLName when the SQL name
	// index has not been built, neither at open time (WithSQLIndex) nor by
	// a successful call to BuildSQLIndex.
	ErrSQLIndexNotBuilt = errors.New("sql name index has not been built")

	// ErrWrongSpanType is returned by Column's typed view methods (Int8s
	// through Float64s, Strings, StringAt, DenseAt, DenseValues) when the
	// column cannot be viewed as the requested element type.
	ErrWrongSpanType = errors.New("requested span type does not match column width")
)
