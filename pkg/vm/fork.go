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
	"gvisor.dev/vmsim/pkg/cleanup"
	"gvisor.dev/vmsim/pkg/log"
	"gvisor.dev/vmsim/pkg/memmap"
	"gvisor.dev/vmsim/pkg/mm"
)

// Copy returns a new address space that is an independent copy of src: same
// regions, same heap size, and a private copy of every page src has touched.
// Swapped pages of src are loaded back first. Pages src never touched stay
// unbacked in the copy.
//
// The interlock is held for the whole copy.
func (s *System) Copy(src *mm.AddressSpace) (*mm.AddressSpace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registeredLocked(src) {
		return nil, errUnregistered(src)
	}
	if s.down {
		return nil, errShutdown
	}
	s.lastID++
	dst, err := src.Clone(s.lastID)
	if err != nil {
		return nil, err
	}
	// The copy must be resolvable while it is being filled, since filling
	// it may evict its own pages.
	s.registry[dst.Owner()] = dst
	cu := cleanup.Make(func() { s.destroyLocked(dst) })
	defer cu.Clean()

	copied := 0
	for i := 0; i < src.NumPages(); i++ {
		from, to := src.PTEAt(i), dst.PTEAt(i)
		if from.VA != to.VA {
			panic("copied page table is not congruent with its source")
		}
		switch from.State() {
		case mm.Unbacked:
			continue
		case mm.Swapped:
			if err := s.loadLocked(src, from, FaultRead); err != nil {
				return nil, err
			}
		}
		if err := s.copyPageLocked(dst, from, to); err != nil {
			return nil, err
		}
		copied++
	}
	cu.Release()

	s.metrics.Forks.Increment()
	s.metrics.ForkPages.AddSample(int64(copied))
	log.Debugf("Copied %v into %v: %d pages", src.Owner(), dst.Owner(), copied)
	return dst, nil
}

// copyPageLocked gives to a new frame holding the content of from's frame.
// from's frame is pinned meanwhile so that finding a frame for to cannot
// evict it.
//
// Preconditions: s.mu must be locked. from is resident.
func (s *System) copyPageLocked(dst *mm.AddressSpace, from, to *mm.PTE) error {
	s.coremap.Pin(from.PA)
	defer s.coremap.Unpin(from.PA)
	pa, err := s.acquireFrameLocked(dst.Owner(), memmap.User)
	if err != nil {
		return err
	}
	s.mem.CopyFrame(pa, from.PA)
	to.MarkResident(pa)
	return nil
}
