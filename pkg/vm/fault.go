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

	"gvisor.dev/vmsim/pkg/coremap"
	"gvisor.dev/vmsim/pkg/errors/linuxerr"
	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/log"
	"gvisor.dev/vmsim/pkg/memmap"
	"gvisor.dev/vmsim/pkg/mm"
	"gvisor.dev/vmsim/pkg/swap"
)

// FaultKind is the kind of access reported by a TLB miss.
type FaultKind int

const (
	// FaultRead is a load from a page without a translation.
	FaultRead FaultKind = iota

	// FaultWrite is a store to a page without a translation.
	FaultWrite

	// FaultReadOnly is a store through a translation without the dirty
	// bit. Every translation is installed writable, so this never happens.
	FaultReadOnly
)

// String implements fmt.Stringer.String.
func (k FaultKind) String() string {
	switch k {
	case FaultRead:
		return "read"
	case FaultWrite:
		return "write"
	case FaultReadOnly:
		return "readonly"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
}

// AccessType returns the access that raised a fault of kind k.
func (k FaultKind) AccessType() hostarch.AccessType {
	if k == FaultRead {
		return hostarch.Read
	}
	return hostarch.Write
}

// ResolveFault resolves a fault of the given kind at addr in the current
// address space and installs a translation for it. It returns EINVAL for an
// unknown fault kind and EFAULT for an unmapped address or when no frame can
// be found.
func (s *System) ResolveFault(kind FaultKind, addr hostarch.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return linuxerr.EFAULT
	}
	return s.handleFaultLocked(s.current, kind, addr)
}

// HandleFault resolves a fault in as, switching to as first if it is not the
// current address space. It returns EINVAL if as is nil or was destroyed.
func (s *System) HandleFault(as *mm.AddressSpace, kind FaultKind, addr hostarch.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registeredLocked(as) {
		return errUnregistered(as)
	}
	if s.current != as {
		s.activateLocked(as)
	}
	return s.handleFaultLocked(as, kind, addr)
}

// handleFaultLocked makes the page containing addr resident and installs its
// translation.
//
// Preconditions: s.mu must be locked. as is current.
func (s *System) handleFaultLocked(as *mm.AddressSpace, kind FaultKind, addr hostarch.Addr) error {
	switch kind {
	case FaultRead, FaultWrite:
	case FaultReadOnly:
		panic(fmt.Sprintf("read-only fault at %v in %v: every translation is writable", addr, as.Owner()))
	default:
		return linuxerr.EINVAL
	}
	s.metrics.Faults.Increment(kind.String())

	pte, err := as.Lookup(addr)
	if err != nil {
		return err
	}
	switch pte.State() {
	case mm.Resident:
		s.coremap.Touch(pte.PA)
	case mm.Swapped:
		err = s.loadLocked(as, pte, kind)
	case mm.Unbacked:
		err = s.demandLocked(as, pte)
	}
	if err != nil {
		if linuxerr.Equals(linuxerr.ENOMEM, err) {
			s.metrics.OutOfMemory.Increment()
			s.pressure.Warningf("Out of memory resolving %v fault at %v in %v: no free frame and no swap space", kind, addr, as.Owner())
			return linuxerr.EFAULT
		}
		return err
	}
	if kind == FaultWrite {
		s.coremap.MarkDirty(pte.PA)
	}
	s.tlb.Install(addr, pte.PA)
	return nil
}

// demandLocked backs a page that was never touched with a zero-filled frame.
//
// Preconditions: s.mu must be locked.
func (s *System) demandLocked(as *mm.AddressSpace, pte *mm.PTE) error {
	pa, err := s.acquireFrameLocked(as.Owner(), memmap.User)
	if err != nil {
		return err
	}
	pte.MarkResident(pa)
	s.metrics.Fills.Increment("zero")
	if log.IsLogging(log.Debug) {
		log.Debugf("%v: demand fill of %v into %v", as.Owner(), pte.VA, pa)
	}
	return nil
}

// loadLocked reads a swapped page back into a frame. A page loaded by a read
// fault matches its slot and is left Clean.
//
// Preconditions: s.mu must be locked.
func (s *System) loadLocked(as *mm.AddressSpace, pte *mm.PTE, kind FaultKind) error {
	pa, err := s.acquireFrameLocked(as.Owner(), memmap.User)
	if err != nil {
		return err
	}
	off, err := s.swap.LocateOrClaim(as.Owner(), pte.VA, swap.SwapIn)
	if err != nil {
		panic(fmt.Sprintf("locating swap slot of %v page %v: %v", as.Owner(), pte.VA, err))
	}
	if err := s.swap.ReadIn(off, s.mem.Page(pa)); err != nil {
		panic(fmt.Sprintf("swap in of %v page %v from %#x: %v", as.Owner(), pte.VA, off, err))
	}
	pte.MarkResident(pa)
	if kind == FaultRead {
		s.coremap.SetState(pa, coremap.Clean)
	}
	s.metrics.Fills.Increment("swap")
	if log.IsLogging(log.Debug) {
		log.Debugf("%v: swapped in %v from %#x into %v", as.Owner(), pte.VA, off, pa)
	}
	return nil
}

// acquireFrameLocked returns a zero-filled frame owned by owner, evicting a
// victim if no frame is free. The frame is Dirty and freshly touched.
//
// Preconditions: s.mu must be locked.
func (s *System) acquireFrameLocked(owner memmap.OwnerID, purpose memmap.Purpose) (hostarch.Addr, error) {
	if pa, ok := s.coremap.Allocate(1, purpose, owner); ok {
		return pa, nil
	}
	pa, err := s.evictLocked(owner, purpose)
	if err != nil {
		return 0, err
	}
	s.mem.Zero(pa, 1)
	return pa, nil
}

// evictLocked reclaims the frame chosen by the evictor and hands it to owner.
// It returns ENOMEM, with no state changed, if there is no victim or if the
// victim is dirty and swap is full.
//
// The victim's page table entry is marked swapped before its slot is claimed,
// the frame is reassigned before the write back, and any translation of the
// frame is invalidated before its content changes.
//
// Preconditions: s.mu must be locked.
func (s *System) evictLocked(owner memmap.OwnerID, purpose memmap.Purpose) (hostarch.Addr, error) {
	victim, ok := s.coremap.SelectVictim(s.evictor)
	if !ok {
		if s.coremap.FreeCount() == 0 && s.coremap.PinnedCount() == 0 && !s.kernelOnlyLocked() {
			panic("no frame is free and none is eligible for eviction: coremap accounting is corrupt")
		}
		return 0, linuxerr.ENOMEM
	}
	vas := s.ownerLocked(victim.Owner, victim.PA)
	vpte := vas.FindByFrame(victim.PA)
	if vpte == nil {
		panic(fmt.Sprintf("frame %v owned by %v has no page table entry", victim.PA, victim.Owner))
	}
	va := vpte.VA
	dirty := victim.State == coremap.Dirty
	if dirty {
		if !s.swap.CanStore(victim.Owner, va) {
			return 0, linuxerr.ENOMEM
		}
	} else if !s.swap.Has(victim.Owner, va) {
		panic(fmt.Sprintf("clean frame %v of %v page %v has no swap slot", victim.PA, victim.Owner, va))
	}

	vpte.MarkSwapped()
	var off int64
	if dirty {
		var err error
		if off, err = s.swap.LocateOrClaim(victim.Owner, va, swap.SwapOut); err != nil {
			panic(fmt.Sprintf("claiming swap slot for %v page %v: %v", victim.Owner, va, err))
		}
	}
	s.coremap.Reassign(victim.PA, owner, coremap.Dirty, purpose)
	s.tlb.InvalidateFrame(victim.PA)
	if dirty {
		if err := s.swap.WriteBack(off, s.mem.Page(victim.PA)); err != nil {
			panic(fmt.Sprintf("swap out of %v page %v to %#x: %v", victim.Owner, va, off, err))
		}
		s.metrics.SwapOuts.Increment()
		s.metrics.Evictions.Increment("dirty")
	} else {
		s.metrics.Evictions.Increment("clean")
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("Evicted %v page %v from %v (dirty %t) for %v", victim.Owner, va, victim.PA, dirty, owner)
	}
	return victim.PA, nil
}

// kernelOnlyLocked returns true if every in-use frame is a kernel frame, in
// which case having no victim is an ordinary out-of-memory condition.
//
// Preconditions: s.mu must be locked.
func (s *System) kernelOnlyLocked() bool {
	u := s.coremap.Usage()
	return u.User == 0
}
