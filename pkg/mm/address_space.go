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

package mm

import (
	"fmt"

	"gvisor.dev/vmsim/pkg/errors/linuxerr"
	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/memmap"
)

// AddressSpace is the per-process model of mapped regions, stack and heap.
//
// The page table holds the region pages in definition order, then the stack
// pages, then the heap pages.
type AddressSpace struct {
	id     memmap.OwnerID
	layout Layout

	regions []Region
	ptes    []PTE

	// index maps a page address to its position in ptes.
	index map[hostarch.Addr]int

	prepared  bool
	loaded    bool
	destroyed bool

	stack hostarch.AddrRange
	heap  hostarch.AddrRange
}

// New returns an empty address space identified by id.
func New(id memmap.OwnerID, layout Layout) *AddressSpace {
	if id == memmap.NoOwner {
		panic("address space created without an identifier")
	}
	return &AddressSpace{
		id:     id,
		layout: layout,
		stack:  layout.StackRange(),
	}
}

// Layout returns the address space layout.
func (as *AddressSpace) Layout() Layout {
	return as.layout
}

// DefineRegion adds a region covering [base, base+size), rounded out to page
// boundaries. The requested permissions are recorded but every page is mapped
// read-write.
func (as *AddressSpace) DefineRegion(base hostarch.Addr, size uint64, read, write, exec bool) error {
	if as.prepared || as.destroyed {
		return linuxerr.EINVAL
	}
	if size == 0 {
		return linuxerr.EINVAL
	}
	start := base.RoundDown()
	end, ok := start.AddLength(size + uint64(base-start))
	if !ok {
		return linuxerr.EINVAL
	}
	if end, ok = end.RoundUp(); !ok {
		return linuxerr.EINVAL
	}
	r := Region{
		Base:  start,
		Pages: hostarch.AddrRange{Start: start, End: end}.NumPages(),
		Perms: hostarch.AccessType{Read: read, Write: write, Execute: exec},
	}
	ar := r.Range()
	if end > as.layout.UserStack || ar.Overlaps(as.stack) {
		return linuxerr.EINVAL
	}
	for _, other := range as.regions {
		if ar.Overlaps(other.Range()) {
			return linuxerr.EINVAL
		}
	}
	as.regions = append(as.regions, r)
	return nil
}

// PrepareLoad materializes the page table: one unbacked entry per region page,
// then the stack, then a single heap page directly above the last-defined
// region.
func (as *AddressSpace) PrepareLoad() error {
	if as.prepared || as.destroyed || len(as.regions) == 0 {
		return linuxerr.EINVAL
	}
	heapBegin := as.regions[len(as.regions)-1].Range().End
	heap := hostarch.AddrRange{Start: heapBegin, End: heapBegin + hostarch.PageSize}
	if heap.End < heap.Start || heap.Overlaps(as.stack) || as.overlapsRegion(heap) {
		return linuxerr.EINVAL
	}

	pages := as.layout.StackPages + 1
	for _, r := range as.regions {
		pages += r.Pages
	}
	as.ptes = make([]PTE, 0, pages)
	as.index = make(map[hostarch.Addr]int, pages)
	for _, r := range as.regions {
		for i := 0; i < r.Pages; i++ {
			as.appendPTE(r.Base+hostarch.Addr(i)*hostarch.PageSize, r.Perms)
		}
	}
	for va := as.stack.Start; va < as.stack.End; va += hostarch.PageSize {
		as.appendPTE(va, hostarch.ReadWrite)
	}
	as.heap = heap
	as.appendPTE(heap.Start, hostarch.ReadWrite)
	as.prepared = true
	return nil
}

func (as *AddressSpace) appendPTE(va hostarch.Addr, perms hostarch.AccessType) {
	as.index[va] = len(as.ptes)
	as.ptes = append(as.ptes, PTE{VA: va, Perms: perms})
}

func (as *AddressSpace) overlapsRegion(ar hostarch.AddrRange) bool {
	for _, r := range as.regions {
		if ar.Overlaps(r.Range()) {
			return true
		}
	}
	return false
}

// CompleteLoad is called by the loader once every segment has been loaded.
func (as *AddressSpace) CompleteLoad() error {
	if !as.prepared || as.destroyed {
		return linuxerr.EINVAL
	}
	as.loaded = true
	return nil
}

// Loaded returns true after CompleteLoad.
func (as *AddressSpace) Loaded() bool {
	return as.loaded
}

// DefineStack returns the initial user stack pointer.
func (as *AddressSpace) DefineStack() hostarch.Addr {
	return as.layout.UserStack
}

// Prepared returns true once PrepareLoad has succeeded.
func (as *AddressSpace) Prepared() bool {
	return as.prepared
}

// Destroyed returns true after Destroy.
func (as *AddressSpace) Destroyed() bool {
	return as.destroyed
}

// StackRange returns the stack window.
func (as *AddressSpace) StackRange() hostarch.AddrRange {
	return as.stack
}

// HeapRange returns the heap window.
func (as *AddressSpace) HeapRange() hostarch.AddrRange {
	return as.heap
}

// Regions returns a copy of the regions in definition order.
func (as *AddressSpace) Regions() []Region {
	return append([]Region(nil), as.regions...)
}

// Classify returns the segment containing addr. Stack, heap and regions are
// checked in that order.
func (as *AddressSpace) Classify(addr hostarch.Addr) (Segment, error) {
	if !as.prepared {
		return 0, linuxerr.EFAULT
	}
	switch {
	case as.stack.Contains(addr):
		return SegmentStack, nil
	case as.heap.Contains(addr):
		return SegmentHeap, nil
	}
	for _, r := range as.regions {
		if r.Range().Contains(addr) {
			return SegmentRegion, nil
		}
	}
	return 0, linuxerr.EFAULT
}

// Lookup returns the page table entry of the page containing addr, or EFAULT
// if addr is not mapped. The returned pointer is valid until the page table
// next changes shape (heap growth or shrinkage, or Destroy).
func (as *AddressSpace) Lookup(addr hostarch.Addr) (*PTE, error) {
	if _, err := as.Classify(addr); err != nil {
		return nil, err
	}
	i, ok := as.index[addr.RoundDown()]
	if !ok {
		panic(fmt.Sprintf("%v: mapped address %v has no page table entry", as.id, addr))
	}
	return &as.ptes[i], nil
}

// FindByFrame returns the resident page held in frame pa, or nil.
func (as *AddressSpace) FindByFrame(pa hostarch.Addr) *PTE {
	for i := range as.ptes {
		if as.ptes[i].OnMem && as.ptes[i].PA == pa {
			return &as.ptes[i]
		}
	}
	return nil
}

// NumPages returns the number of page table entries.
func (as *AddressSpace) NumPages() int {
	return len(as.ptes)
}

// PTEAt returns entry i of the page table.
func (as *AddressSpace) PTEAt(i int) *PTE {
	return &as.ptes[i]
}

// PTEs returns a copy of the page table.
func (as *AddressSpace) PTEs() []PTE {
	return append([]PTE(nil), as.ptes...)
}

// HeapPages returns the size of the heap in pages.
func (as *AddressSpace) HeapPages() int {
	return as.heap.NumPages()
}

// GrowHeap extends the heap by n unbacked pages. It fails with ENOMEM if the
// heap would run into the stack or a region.
func (as *AddressSpace) GrowHeap(n int) error {
	if !as.prepared || n < 0 {
		return linuxerr.EINVAL
	}
	if n == 0 {
		return nil
	}
	end, ok := as.heap.End.AddLength(uint64(n) * hostarch.PageSize)
	if !ok {
		return linuxerr.ENOMEM
	}
	grown := hostarch.AddrRange{Start: as.heap.End, End: end}
	if grown.Overlaps(as.stack) || end > as.layout.UserStack || as.overlapsRegion(grown) {
		return linuxerr.ENOMEM
	}
	for va := grown.Start; va < grown.End; va += hostarch.PageSize {
		as.appendPTE(va, hostarch.ReadWrite)
	}
	as.heap.End = end
	return nil
}

// ShrinkHeap removes the top n heap pages and returns their entries so that
// the caller can release their frames. The first heap page is never removed.
func (as *AddressSpace) ShrinkHeap(n int) ([]PTE, error) {
	if !as.prepared || n < 0 || n >= as.HeapPages() {
		return nil, linuxerr.EINVAL
	}
	if n == 0 {
		return nil, nil
	}
	// Heap pages are the tail of the page table.
	cut := len(as.ptes) - n
	removed := append([]PTE(nil), as.ptes[cut:]...)
	for _, p := range removed {
		delete(as.index, p.VA)
	}
	as.ptes = as.ptes[:cut]
	as.heap.End -= hostarch.Addr(n) * hostarch.PageSize
	return removed, nil
}

// Clone returns a new address space with a copy of as's regions, a fresh
// unbacked page table and a heap of the same size. Page contents are not
// copied.
func (as *AddressSpace) Clone(id memmap.OwnerID) (*AddressSpace, error) {
	if as.destroyed {
		return nil, linuxerr.EINVAL
	}
	c := New(id, as.layout)
	c.regions = append([]Region(nil), as.regions...)
	if !as.prepared {
		return c, nil
	}
	if err := c.PrepareLoad(); err != nil {
		return nil, err
	}
	if err := c.GrowHeap(as.HeapPages() - 1); err != nil {
		return nil, err
	}
	c.loaded = as.loaded
	return c, nil
}

// Destroy drops every region and page table entry. Frames and swap slots are
// released by the caller.
func (as *AddressSpace) Destroy() {
	as.regions = nil
	as.ptes = nil
	as.index = nil
	as.prepared = false
	as.destroyed = true
}

// Usage counts pages by residency.
type Usage struct {
	Pages    int
	Resident int
	Swapped  int
	Unbacked int
}

// Usage returns page counts by state.
func (as *AddressSpace) Usage() Usage {
	u := Usage{Pages: len(as.ptes)}
	for i := range as.ptes {
		switch as.ptes[i].State() {
		case Resident:
			u.Resident++
		case Swapped:
			u.Swapped++
		default:
			u.Unbacked++
		}
	}
	return u
}
