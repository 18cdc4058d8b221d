// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package linuxerr contains the error codes returned by the virtual memory
// core, exported as *errors.Error pointers. This allows for fast comparison
// and return operations comparable to unix.Errno constants.
package linuxerr

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
	vmerrors "gvisor.dev/vmsim/pkg/errors"
)

// The following errors are semantically identical to the unix.Errno of the
// same name. Since the types are distinct they are not directly comparable,
// but the Errno method returns a value that is (e.g.
// EFAULT.Errno() == unix.EFAULT is true). Converting a unix.Errno to one of
// these should be done via ErrorFromUnix.
var (
	noError *vmerrors.Error = nil
	EINTR                   = vmerrors.New(unix.EINTR, "interrupted system call")
	EIO                     = vmerrors.New(unix.EIO, "I/O error")
	EBADF                   = vmerrors.New(unix.EBADF, "bad file number")
	EAGAIN                  = vmerrors.New(unix.EAGAIN, "try again")
	ENOMEM                  = vmerrors.New(unix.ENOMEM, "out of memory")
	EFAULT                  = vmerrors.New(unix.EFAULT, "bad address")
	EBUSY                   = vmerrors.New(unix.EBUSY, "device or resource busy")
	EINVAL                  = vmerrors.New(unix.EINVAL, "invalid argument")
	ENOSPC                  = vmerrors.New(unix.ENOSPC, "no space left on device")
	ERANGE                  = vmerrors.New(unix.ERANGE, "math result not representable")
	ENOSYS                  = vmerrors.New(unix.ENOSYS, "invalid system call number")
)

var errorSlice = map[unix.Errno]*vmerrors.Error{
	unix.EINTR:  EINTR,
	unix.EIO:    EIO,
	unix.EBADF:  EBADF,
	unix.EAGAIN: EAGAIN,
	unix.ENOMEM: ENOMEM,
	unix.EFAULT: EFAULT,
	unix.EBUSY:  EBUSY,
	unix.EINVAL: EINVAL,
	unix.ENOSPC: ENOSPC,
	unix.ERANGE: ERANGE,
	unix.ENOSYS: ENOSYS,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos that the core
// never produces map to EIO.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := errorSlice[err]; ok {
		return e
	}
	return EIO
}

// ToError converts a linuxerr to an error type.
func ToError(err *vmerrors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *vmerrors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compares a linuxerr to a given error. Wrapped errors are unwrapped
// before comparison.
func Equals(e *vmerrors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	if err == nil {
		return e == noError
	}
	if e == err || unixErr == err {
		return true
	}
	var target *vmerrors.Error
	if errors.As(err, &target) {
		return target == e || target.Errno() == unixErr
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unixErr
	}
	return false
}

// MustTranslate returns the linuxerr carried by err, panicking if err carries
// none.
func MustTranslate(err error) *vmerrors.Error {
	var target *vmerrors.Error
	if errors.As(err, &target) {
		return target
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return ErrorFromUnix(errno).(*vmerrors.Error)
	}
	panic(fmt.Sprintf("error %v carries no errno", err))
}
