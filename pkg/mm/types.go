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

// Package mm models user address spaces: the regions defined by the program
// loader, and the page table materialized from them.
//
// An AddressSpace is not internally synchronized. All access must hold the
// owning vm.System's interlock, which also serializes access to the frame
// allocator and the swap store.
package mm

import (
	"fmt"

	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/memmap"
)

// DefaultStackPages is the number of stack pages of every address space.
const DefaultStackPages = 12

// Layout holds the static parts of the address space layout.
type Layout struct {
	// UserStack is the top of the stack. It must be page aligned.
	UserStack hostarch.Addr

	// StackPages is the fixed size of the stack in pages.
	StackPages int
}

// DefaultLayout returns the layout used unless configured otherwise.
func DefaultLayout() Layout {
	return Layout{
		UserStack:  hostarch.UserStack,
		StackPages: DefaultStackPages,
	}
}

// Validate checks that the layout is usable.
func (l Layout) Validate() error {
	if !l.UserStack.IsPageAligned() {
		return fmt.Errorf("user stack top %v is not page aligned", l.UserStack)
	}
	if l.UserStack > hostarch.KernelBase {
		return fmt.Errorf("user stack top %v is above the kernel base %v", l.UserStack, hostarch.KernelBase)
	}
	if l.StackPages <= 0 {
		return fmt.Errorf("invalid stack size of %d pages", l.StackPages)
	}
	if uint64(l.StackPages)*hostarch.PageSize > uint64(l.UserStack) {
		return fmt.Errorf("stack of %d pages does not fit below %v", l.StackPages, l.UserStack)
	}
	return nil
}

// StackRange returns the stack window.
func (l Layout) StackRange() hostarch.AddrRange {
	return hostarch.AddrRange{
		Start: l.UserStack - hostarch.Addr(l.StackPages)*hostarch.PageSize,
		End:   l.UserStack,
	}
}

// Region is a loadable segment.
type Region struct {
	// Base is the page-aligned start of the region.
	Base hostarch.Addr

	// Pages is the length of the region in pages.
	Pages int

	// Perms is a subset of hostarch.AnyAccess.
	Perms hostarch.AccessType
}

// Range returns the addresses covered by r.
func (r Region) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: r.Base, End: r.Base + hostarch.Addr(r.Pages)*hostarch.PageSize}
}

// PageState is the residency state of a page.
type PageState int

const (
	// Unbacked pages were never touched.
	Unbacked PageState = iota

	// Resident pages have a frame.
	Resident

	// Swapped pages live only in their swap slot.
	Swapped
)

// String implements fmt.Stringer.String.
func (s PageState) String() string {
	switch s {
	case Unbacked:
		return "unbacked"
	case Resident:
		return "resident"
	case Swapped:
		return "swapped"
	default:
		return fmt.Sprintf("PageState(%d)", int(s))
	}
}

// PTE is a page table entry.
type PTE struct {
	// VA is the page-aligned virtual address of the page.
	VA hostarch.Addr

	// PA is the frame holding the page, or 0 if the page is not resident.
	PA hostarch.Addr

	// OnMem is set while the page is resident.
	OnMem bool

	// OnDisk is set once the page has been written to swap and remains set
	// for the life of the page.
	OnDisk bool

	// Perms are inherited from the region, stack or heap.
	Perms hostarch.AccessType
}

// State returns the residency state of the page.
func (p *PTE) State() PageState {
	switch {
	case p.OnMem:
		return Resident
	case p.OnDisk:
		return Swapped
	default:
		return Unbacked
	}
}

// MarkResident records that the page now lives in frame pa.
func (p *PTE) MarkResident(pa hostarch.Addr) {
	if pa == 0 || !pa.IsPageAligned() {
		panic(fmt.Sprintf("page %v made resident at invalid frame %v", p.VA, pa))
	}
	p.PA = pa
	p.OnMem = true
}

// MarkSwapped records that the page's frame was reclaimed after its content
// was stored in swap.
func (p *PTE) MarkSwapped() {
	if !p.OnMem {
		panic(fmt.Sprintf("swapping out non-resident page %v", p.VA))
	}
	p.PA = 0
	p.OnMem = false
	p.OnDisk = true
}

// Segment classifies a mapped address.
type Segment int

const (
	// SegmentRegion addresses belong to a loader-defined region.
	SegmentRegion Segment = iota

	// SegmentStack addresses belong to the stack.
	SegmentStack

	// SegmentHeap addresses belong to the heap.
	SegmentHeap
)

// String implements fmt.Stringer.String.
func (s Segment) String() string {
	switch s {
	case SegmentRegion:
		return "region"
	case SegmentStack:
		return "stack"
	case SegmentHeap:
		return "heap"
	default:
		return fmt.Sprintf("Segment(%d)", int(s))
	}
}

// Owner returns the identifier under which the address space owns frames and
// swap slots.
func (as *AddressSpace) Owner() memmap.OwnerID {
	return as.id
}
