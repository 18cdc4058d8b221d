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

package vm

import (
	"errors"
	"fmt"

	"gvisor.dev/vmsim/pkg/errors/linuxerr"
	"gvisor.dev/vmsim/pkg/mm"
)

// errShutdown is returned by operations on a System after Shutdown.
var errShutdown = fmt.Errorf("vm system is shut down: %w", linuxerr.EINVAL)

func errUnregistered(as *mm.AddressSpace) error {
	if as == nil {
		return fmt.Errorf("nil address space: %w", linuxerr.EINVAL)
	}
	return fmt.Errorf("address space %v is not registered: %w", as.Owner(), linuxerr.EINVAL)
}

// IsOutOfMemory returns true if err reports that memory and swap are full.
func IsOutOfMemory(err error) bool {
	return errors.Is(err, linuxerr.ENOMEM)
}
