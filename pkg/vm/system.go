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

// Package vm implements the virtual memory system: the registry of address
// spaces, the page fault resolver with demand paging and eviction to swap,
// address space duplication for fork, and MMU-mediated access to user memory.
//
// Lock order:
//
//	System.mu (the interlock)
//	  coremap.Map.mu
//	  swap.Store.mu
//	  tlb.TLB.mu
//
// Every exported System method holds the interlock for its whole duration,
// including the synchronous swap I/O it performs.
package vm

import (
	"fmt"
	"sync"
	"time"

	"gvisor.dev/vmsim/pkg/cleanup"
	"gvisor.dev/vmsim/pkg/coremap"
	"gvisor.dev/vmsim/pkg/errors/linuxerr"
	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/log"
	"gvisor.dev/vmsim/pkg/memmap"
	"gvisor.dev/vmsim/pkg/mm"
	"gvisor.dev/vmsim/pkg/physmem"
	"gvisor.dev/vmsim/pkg/swap"
	"gvisor.dev/vmsim/pkg/tlb"
)

// Config configures a System.
type Config struct {
	// MemoryFrames is the amount of installed RAM in frames, including the
	// frames stolen for bookkeeping.
	MemoryFrames int

	// SwapFile is the path of the swap backing file.
	SwapFile string

	// SwapSize is the size of the swap file in bytes. Zero keeps the size
	// of an existing file.
	SwapSize int64

	// TLBEntries is the number of TLB entries.
	TLBEntries int

	// Layout is the layout of every address space.
	Layout mm.Layout

	// Evictor selects eviction victims. Defaults to coremap.LRU.
	Evictor coremap.Evictor

	// Clock timestamps frame accesses. Defaults to coremap.RealClock.
	Clock coremap.Clock

	// Seed seeds TLB replacement.
	Seed int64
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MemoryFrames <= 0 {
		return fmt.Errorf("invalid memory size of %d frames", c.MemoryFrames)
	}
	if c.SwapFile == "" {
		return fmt.Errorf("no swap file configured")
	}
	if c.SwapSize < 0 || c.SwapSize%hostarch.PageSize != 0 {
		return fmt.Errorf("swap size %d is not a multiple of the page size", c.SwapSize)
	}
	if c.TLBEntries <= 0 {
		return fmt.Errorf("invalid TLB size %d", c.TLBEntries)
	}
	return c.Layout.Validate()
}

// System is the virtual memory system of one simulated machine.
type System struct {
	// mu is the interlock. It stands in for raising the interrupt priority
	// level: it serializes every operation on the coremap, the swap store
	// and the page tables.
	mu sync.Mutex

	layout  mm.Layout
	mem     *physmem.Memory
	coremap *coremap.Map
	swap    *swap.Store
	tlb     *tlb.TLB
	evictor coremap.Evictor
	metrics *Metrics

	// pressure reports out-of-memory conditions without flooding the log.
	pressure log.Logger

	// registry resolves the owners recorded in the coremap and swap store.
	//
	// +checklocks:mu
	registry map[memmap.OwnerID]*mm.AddressSpace

	// +checklocks:mu
	lastID memmap.OwnerID

	// current is the address space whose translations may be in the TLB.
	//
	// +checklocks:mu
	current *mm.AddressSpace

	// +checklocks:mu
	down bool
}

// Bootstrap sizes physical memory, opens the swap store and steals the
// frames that hold the coremap and swap map.
func Bootstrap(conf Config) (*System, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if conf.Evictor == nil {
		conf.Evictor = coremap.LRU{}
	}
	if conf.Clock == nil {
		conf.Clock = coremap.RealClock{}
	}
	mem, err := physmem.New(conf.MemoryFrames)
	if err != nil {
		return nil, err
	}
	store, err := swap.Open(conf.SwapFile, conf.SwapSize)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { store.Close() })
	defer cu.Clean()

	reserved := coremap.BookkeepingFrames(conf.MemoryFrames, store.Slots())
	cmap, err := coremap.New(mem, conf.Clock, reserved)
	if err != nil {
		return nil, fmt.Errorf("building coremap: %w", err)
	}
	s := &System{
		layout:   conf.Layout,
		mem:      mem,
		coremap:  cmap,
		swap:     store,
		tlb:      tlb.New(conf.TLBEntries, conf.Seed),
		evictor:  conf.Evictor,
		metrics:  newMetrics(),
		pressure: log.BasicRateLimitedLogger(time.Second),
		registry: make(map[memmap.OwnerID]*mm.AddressSpace),
	}
	cu.Release()
	log.Infof("VM bootstrapped: %d frames (%d reserved), %d swap slots, %d TLB entries, evictor %T",
		conf.MemoryFrames, reserved, store.Slots(), conf.TLBEntries, conf.Evictor)
	return s, nil
}

// Shutdown destroys every remaining address space and closes the swap store.
func (s *System) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return linuxerr.EINVAL
	}
	for _, as := range s.registry {
		s.destroyLocked(as)
	}
	s.down = true
	s.tlb.InvalidateAll()
	return s.swap.Close()
}

// CreateAddressSpace returns a new, empty, registered address space.
func (s *System) CreateAddressSpace() (*mm.AddressSpace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked()
}

// Preconditions: s.mu must be locked.
func (s *System) createLocked() (*mm.AddressSpace, error) {
	if s.down {
		return nil, linuxerr.EINVAL
	}
	s.lastID++
	as := mm.New(s.lastID, s.layout)
	s.registry[as.Owner()] = as
	return as, nil
}

// DefineRegion defines a region of as under the interlock.
func (s *System) DefineRegion(as *mm.AddressSpace, base hostarch.Addr, size uint64, read, write, exec bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registeredLocked(as) {
		return errUnregistered(as)
	}
	return as.DefineRegion(base, size, read, write, exec)
}

// PrepareLoad materializes the page table of as under the interlock.
func (s *System) PrepareLoad(as *mm.AddressSpace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registeredLocked(as) {
		return errUnregistered(as)
	}
	return as.PrepareLoad()
}

// CompleteLoad marks as fully loaded under the interlock.
func (s *System) CompleteLoad(as *mm.AddressSpace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registeredLocked(as) {
		return errUnregistered(as)
	}
	return as.CompleteLoad()
}

// DefineStack returns the initial stack pointer of as. as must be registered
// and prepared.
func (s *System) DefineStack(as *mm.AddressSpace) (hostarch.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registeredLocked(as) {
		return 0, errUnregistered(as)
	}
	if !as.Prepared() {
		return 0, linuxerr.EINVAL
	}
	return as.DefineStack(), nil
}

// DestroyAddressSpace destroys as and releases every frame and swap slot it
// owns.
func (s *System) DestroyAddressSpace(as *mm.AddressSpace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registeredLocked(as) {
		return errUnregistered(as)
	}
	s.destroyLocked(as)
	return nil
}

// registeredLocked returns true if as is a live address space of s.
//
// Preconditions: s.mu must be locked.
func (s *System) registeredLocked(as *mm.AddressSpace) bool {
	return as != nil && s.registry[as.Owner()] == as
}

// Preconditions: s.mu must be locked. as is registered.
func (s *System) destroyLocked(as *mm.AddressSpace) {
	id := as.Owner()
	as.Destroy()
	frames := s.coremap.ReleaseAll(id)
	slots := s.swap.ReleaseOwner(id)
	delete(s.registry, id)
	if s.current == as {
		s.current = nil
		s.tlb.InvalidateAll()
	}
	log.Debugf("Destroyed %v: released %d frames and %d swap slots", id, frames, slots)
}

// Activate makes as the current address space and flushes the TLB. as may be
// nil.
func (s *System) Activate(as *mm.AddressSpace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activateLocked(as)
}

// Preconditions: s.mu must be locked.
func (s *System) activateLocked(as *mm.AddressSpace) {
	if as != nil && s.registry[as.Owner()] != as {
		panic(fmt.Sprintf("activating unregistered address space %v", as.Owner()))
	}
	s.current = as
	s.tlb.InvalidateAll()
	s.metrics.ContextSwitches.Increment()
}

// Current returns the current address space.
func (s *System) Current() *mm.AddressSpace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Lookup returns the registered address space with the given id.
func (s *System) Lookup(id memmap.OwnerID) (*mm.AddressSpace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	as, ok := s.registry[id]
	return as, ok
}

// ownerLocked resolves the owner of a frame or slot. A missing owner is a
// linkage inconsistency.
//
// Preconditions: s.mu must be locked.
func (s *System) ownerLocked(id memmap.OwnerID, pa hostarch.Addr) *mm.AddressSpace {
	as, ok := s.registry[id]
	if !ok {
		panic(fmt.Sprintf("frame %v is owned by unregistered address space %v", pa, id))
	}
	return as
}
