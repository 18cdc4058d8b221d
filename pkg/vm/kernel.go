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
	"gvisor.dev/vmsim/pkg/coremap"
	"gvisor.dev/vmsim/pkg/errors/linuxerr"
	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/memmap"
	"gvisor.dev/vmsim/pkg/mm"
)

// AllocKernelPages allocates n contiguous zero-filled kernel frames. A single
// frame may be obtained by evicting a user page; larger blocks may not.
func (s *System) AllocKernelPages(n int) (hostarch.Addr, error) {
	if n <= 0 {
		return 0, linuxerr.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pa, ok := s.coremap.Allocate(n, memmap.Kernel, memmap.NoOwner); ok {
		return pa, nil
	}
	if n > 1 {
		return 0, linuxerr.ENOMEM
	}
	pa, err := s.evictLocked(memmap.NoOwner, memmap.Kernel)
	if err != nil {
		return 0, err
	}
	s.mem.Zero(pa, 1)
	return pa, nil
}

// FreeKernelPages frees a block returned by AllocKernelPages.
func (s *System) FreeKernelPages(pa hostarch.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.coremap.IndexOf(pa)
	if !ok || !pa.IsPageAligned() {
		return linuxerr.EINVAL
	}
	if e := s.coremap.Entry(i); e.Purpose != memmap.Kernel || !e.State.InUse() {
		return linuxerr.EINVAL
	}
	if err := s.coremap.Release(pa); err != nil {
		return linuxerr.EINVAL
	}
	return nil
}

// Sbrk moves the heap end of as by delta bytes, which must be a multiple of
// the page size, and returns the previous heap end. Pages removed from the
// heap lose their frames and swap slots.
func (s *System) Sbrk(as *mm.AddressSpace, delta int64) (hostarch.Addr, error) {
	if delta%hostarch.PageSize != 0 {
		return 0, linuxerr.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registeredLocked(as) {
		return 0, errUnregistered(as)
	}
	if !as.Prepared() {
		return 0, linuxerr.EINVAL
	}
	old := as.HeapRange().End
	pages := int(delta / hostarch.PageSize)
	if pages >= 0 {
		return old, as.GrowHeap(pages)
	}
	removed, err := as.ShrinkHeap(-pages)
	if err != nil {
		return 0, err
	}
	for _, p := range removed {
		if p.OnMem {
			// Only the current address space has translations.
			if s.current == as {
				s.tlb.InvalidatePage(p.VA)
			}
			if err := s.coremap.Release(p.PA); err != nil {
				panic("resident heap page " + p.VA.String() + " is not a block head")
			}
		}
		if p.OnDisk {
			s.swap.ReleasePage(as.Owner(), p.VA)
		}
	}
	return old, nil
}

// FrameState returns the coremap entry of the frame backing the page at addr
// in as, if the page is resident.
func (s *System) FrameState(as *mm.AddressSpace, addr hostarch.Addr) (coremap.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registeredLocked(as) {
		return coremap.Entry{}, false
	}
	pte, err := as.Lookup(addr)
	if err != nil || !pte.OnMem {
		return coremap.Entry{}, false
	}
	i, _ := s.coremap.IndexOf(pte.PA)
	return s.coremap.Entry(i), true
}

// PageState returns the residency of the page at addr in as.
func (s *System) PageState(as *mm.AddressSpace, addr hostarch.Addr) (mm.PTE, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registeredLocked(as) {
		return mm.PTE{}, errUnregistered(as)
	}
	pte, err := as.Lookup(addr)
	if err != nil {
		return mm.PTE{}, err
	}
	return *pte, nil
}
