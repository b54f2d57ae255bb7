// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build !unix

package bbp

import "github.com/pkg/errors"

// poolLock is the non-unix stand-in: this reader's lock strategy is a
// byte-range fcntl/lockf advisory lock, which has no portable equivalent
// outside unix-family systems.
type poolLock struct{}

func acquirePoolLock(poolPath string) (*poolLock, error) {
	return nil, errors.Wrapf(ErrLockContention, "exclusive pool locking is not implemented on this platform (pool %q)", poolPath)
}

func (l *poolLock) release() error { return nil }
