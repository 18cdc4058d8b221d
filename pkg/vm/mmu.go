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
	"fmt"

	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/mm"
	"gvisor.dev/vmsim/pkg/tlb"
)

// CopyOut copies src into the memory of as starting at addr, as a user store
// would: through the TLB, faulting on misses. It switches to as first if as is
// not current. It returns the number of bytes copied and the fault error that
// stopped the copy, if any.
func (s *System) CopyOut(as *mm.AddressSpace, addr hostarch.Addr, src []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked(as, addr, src, FaultWrite)
}

// CopyIn copies the memory of as starting at addr into dst, as a user load
// would. See CopyOut.
func (s *System) CopyIn(as *mm.AddressSpace, addr hostarch.Addr, dst []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked(as, addr, dst, FaultRead)
}

// Preconditions: s.mu must be locked.
func (s *System) copyLocked(as *mm.AddressSpace, addr hostarch.Addr, buf []byte, kind FaultKind) (int, error) {
	if !s.registeredLocked(as) {
		return 0, errUnregistered(as)
	}
	if s.current != as {
		s.activateLocked(as)
	}
	done := 0
	for done < len(buf) {
		va, ok := addr.AddLength(uint64(done))
		if !ok {
			return done, errOverflow(addr, len(buf))
		}
		e, err := s.translateLocked(as, va, kind)
		if err != nil {
			return done, err
		}
		frame := s.mem.Page(e.PFN)[va.PageOffset():]
		var n int
		if kind == FaultWrite {
			s.coremap.MarkDirty(e.PFN)
			n = copy(frame, buf[done:])
		} else {
			n = copy(buf[done:], frame)
		}
		done += n
	}
	return done, nil
}

// translateLocked returns the TLB entry mapping va, resolving a fault on a
// miss.
//
// Preconditions: s.mu must be locked. as is current.
func (s *System) translateLocked(as *mm.AddressSpace, va hostarch.Addr, kind FaultKind) (tlb.Entry, error) {
	if e, ok := s.tlb.Probe(va); ok {
		if kind == FaultWrite && !e.Dirty {
			return tlb.Entry{}, s.handleFaultLocked(as, FaultReadOnly, va)
		}
		return e, nil
	}
	if err := s.handleFaultLocked(as, kind, va); err != nil {
		return tlb.Entry{}, err
	}
	e, ok := s.tlb.Probe(va)
	if !ok {
		panic(fmt.Sprintf("no translation for %v right after resolving its fault", va))
	}
	return e, nil
}

func errOverflow(addr hostarch.Addr, n int) error {
	return fmt.Errorf("copy of %d bytes at %v overflows the address space", n, addr)
}
