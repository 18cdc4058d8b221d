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

package linuxerr

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
	vmerrors "gvisor.dev/vmsim/pkg/errors"
)

func TestEquals(t *testing.T) {
	for _, test := range []struct {
		name string
		e    *vmerrors.Error
		err  error
		want bool
	}{
		{name: "same", e: EFAULT, err: EFAULT, want: true},
		{name: "unix", e: EFAULT, err: unix.EFAULT, want: true},
		{name: "different", e: EFAULT, err: EINVAL, want: false},
		{name: "wrapped", e: ENOMEM, err: fmt.Errorf("allocating: %w", ENOMEM), want: true},
		{name: "wrapped unix", e: EIO, err: fmt.Errorf("pread: %w", unix.EIO), want: true},
		{name: "nil nil", e: nil, err: nil, want: true},
		{name: "nil err", e: EFAULT, err: nil, want: false},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := Equals(test.e, test.err); got != test.want {
				t.Errorf("Equals(%v, %v) got %v want %v", test.e, test.err, got, test.want)
			}
		})
	}
}

func TestErrorFromUnix(t *testing.T) {
	if got := ErrorFromUnix(0); got != nil {
		t.Errorf("ErrorFromUnix(0) got %v want nil", got)
	}
	if got := ErrorFromUnix(unix.ENOSPC); got != ENOSPC {
		t.Errorf("ErrorFromUnix(ENOSPC) got %v want %v", got, ENOSPC)
	}
	if got := ErrorFromUnix(unix.EXDEV); got != EIO {
		t.Errorf("ErrorFromUnix(EXDEV) got %v want %v", got, EIO)
	}
	if got := ToUnix(EINVAL); got != unix.EINVAL {
		t.Errorf("ToUnix(EINVAL) got %v want %v", got, unix.EINVAL)
	}
	if got := MustTranslate(fmt.Errorf("x: %w", EFAULT)); got != EFAULT {
		t.Errorf("MustTranslate got %v want %v", got, EFAULT)
	}
}
