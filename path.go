// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package bbp

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	directoryFileName = "BBP.dir"
	lockFileName      = ".gdk_lock"

	mainHeapExt = ".tail"
	vheapExt    = ".theap"
)

// validatePoolPath checks that path exists, is a directory, and can be
// entered, returning a taxonomy-tagged error identifying which check failed.
func validatePoolPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrPoolNotFound, "pool %q", path)
		}
		return errors.Wrapf(ErrPoolNotTraversable, "pool %q: %v", path, err)
	}
	if !info.IsDir() {
		return errors.Wrapf(ErrPoolNotADirectory, "pool %q", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(ErrPoolNotTraversable, "pool %q: %v", path, err)
	}
	f.Close()
	return nil
}

func directoryFilePath(poolPath string) string {
	return filepath.Join(poolPath, directoryFileName)
}

func lockFilePath(poolPath string) string {
	return filepath.Join(poolPath, lockFileName)
}

// normalizePhysicalPath converts a directory-file physical name (which
// always uses '/' as its internal subdirectory separator, regardless of
// host OS) into a host-native relative path.
func normalizePhysicalPath(name string) string {
	return filepath.FromSlash(name)
}

// heapPath composes the on-disk path for a column's main heap or vheap. For
// StoreMmapAbsolute, physicalName is already an absolute path and is used
// verbatim (with its extension appended); otherwise it is resolved relative
// to poolPath.
func heapPath(poolPath, physicalName, ext string, absolute bool) string {
	native := normalizePhysicalPath(physicalName)
	if absolute {
		return native + ext
	}
	return filepath.Join(poolPath, native) + ext
}
