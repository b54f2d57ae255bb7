// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build unix

package bbp

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// lockRangeOffset and lockRangeLength identify the single byte this reader
// advisory-locks in a pool's .gdk_lock file: the same offset and length the
// original server locks, so a running server and this reader contend over
// exactly the same byte range.
const (
	lockRangeOffset = 4
	lockRangeLength = 1
)

// poolLock holds the exclusive, non-blocking advisory lock taken on a
// pool's .gdk_lock file for the lifetime of an open Pool.
type poolLock struct {
	f *os.File
}

// acquirePoolLock opens (creating if necessary) the pool's .gdk_lock file
// and takes a non-blocking exclusive lock on its reserved byte range. It
// returns ErrLockContention, without blocking, if another process already
// holds the lock.
func acquirePoolLock(poolPath string) (*poolLock, error) {
	path := lockFilePath(poolPath)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(ErrPoolNotTraversable, "opening lock file %q: %v", path, err)
	}

	flock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0,
		Start:  lockRangeOffset,
		Len:    lockRangeLength,
	}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flock); err != nil {
		f.Close()
		return nil, errors.Wrapf(ErrLockContention, "locking %q: %v", path, err)
	}

	return &poolLock{f: f}, nil
}

// release drops the lock and closes the underlying file descriptor. It is
// called once per lock: by Open when opening fails after the lock was taken,
// otherwise as the last step of Pool.Close.
func (l *poolLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	flock := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 0,
		Start:  lockRangeOffset,
		Len:    lockRangeLength,
	}
	_ = unix.FcntlFlock(l.f.Fd(), unix.F_SETLK, &flock)
	err := l.f.Close()
	l.f = nil
	return err
}
