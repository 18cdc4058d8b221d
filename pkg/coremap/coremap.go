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

// Package coremap implements the physical frame allocator.
//
// The coremap holds one Entry per physical frame, recording the frame's state,
// its owner and the time it was last touched. Blocks of contiguous frames are
// allocated first-fit; the lowest frame of a block is its head and carries the
// block length.
//
// Lock order:
//
//	vm.System.mu
//	  coremap.Map.mu
package coremap

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/memmap"
	"gvisor.dev/vmsim/pkg/physmem"
)

// Sizes of the in-memory bookkeeping records, used to compute how many frames
// are stolen at bootstrap for the coremap and the swap map.
const (
	EntrySize    = 32
	SwapSlotSize = 16
)

// ErrNotBlockHead is returned by Release when the address is not the head of
// an allocated block.
var ErrNotBlockHead = errors.New("frame is not the head of an allocated block")

// State is the state of a frame.
type State int

const (
	// Freed frames are available for allocation.
	Freed State = iota

	// Fixed frames hold bookkeeping tables. They are never allocated,
	// released or evicted.
	Fixed

	// Dirty frames are in use and differ from any disk copy.
	Dirty

	// Clean frames are in use and match their swap slot.
	Clean
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Freed:
		return "freed"
	case Fixed:
		return "fixed"
	case Dirty:
		return "dirty"
	case Clean:
		return "clean"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// InUse returns true for Dirty and Clean frames.
func (s State) InUse() bool {
	return s == Dirty || s == Clean
}

// Entry describes one physical frame.
type Entry struct {
	// PA is the frame's physical address. It never changes.
	PA hostarch.Addr

	State   State
	Owner   memmap.OwnerID
	Purpose memmap.Purpose

	// NumPages is the length of the block headed by this frame. It is only
	// meaningful when FirstPage is set.
	NumPages  int
	FirstPage bool

	// Sec and Nsec record when the frame was last touched.
	Sec  int64
	Nsec int64

	// Seq orders allocations and reassignments.
	Seq uint64

	// Pinned frames are temporarily excluded from eviction.
	Pinned bool
}

// Older returns true if e was touched strictly before o.
func (e *Entry) Older(o *Entry) bool {
	if e.Sec != o.Sec {
		return e.Sec < o.Sec
	}
	return e.Nsec < o.Nsec
}

// Clock supplies timestamps for LRU ordering.
type Clock interface {
	Now() time.Time
}

// RealClock is a Clock backed by time.Now.
type RealClock struct{}

// Now implements Clock.Now.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Map is the coremap.
type Map struct {
	mem   *physmem.Memory
	clock Clock

	mu sync.Mutex

	// entries is indexed by frame number.
	//
	// +checklocks:mu
	entries []Entry

	// +checklocks:mu
	free int

	// +checklocks:mu
	seq uint64
}

// BookkeepingFrames returns the number of frames needed to hold the coremap
// for the given number of frames plus the swap map for the given number of
// slots.
func BookkeepingFrames(frames, swapSlots int) int {
	return int(hostarch.PagesFor(uint64(frames*EntrySize)) + hostarch.PagesFor(uint64(swapSlots*SwapSlotSize)))
}

// New returns a Map covering every frame of mem. The first reserved frames are
// Fixed.
func New(mem *physmem.Memory, clock Clock, reserved int) (*Map, error) {
	n := mem.Frames()
	if reserved < 0 || reserved >= n {
		return nil, fmt.Errorf("cannot reserve %d of %d frames", reserved, n)
	}
	if clock == nil {
		clock = RealClock{}
	}
	m := &Map{
		mem:     mem,
		clock:   clock,
		entries: make([]Entry, n),
		free:    n - reserved,
	}
	for i := range m.entries {
		m.entries[i] = Entry{PA: mem.FrameAddr(i), State: Freed}
		if i < reserved {
			m.entries[i].State = Fixed
		}
	}
	return m, nil
}

// Len returns the number of frames.
func (m *Map) Len() int {
	return len(m.entries)
}

// FreeCount returns the number of Freed frames.
func (m *Map) FreeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.free
}

// Entry returns a copy of entry i.
func (m *Map) Entry(i int) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[i]
}

// Snapshot returns a copy of every entry.
func (m *Map) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// IndexOf returns the index of the frame containing pa.
func (m *Map) IndexOf(pa hostarch.Addr) (int, bool) {
	return m.mem.FrameIndex(pa)
}

// mustIndex returns the index of pa, panicking if it is not a frame address.
func (m *Map) mustIndex(pa hostarch.Addr) int {
	i, ok := m.mem.FrameIndex(pa)
	if !ok || !pa.IsPageAligned() {
		panic(fmt.Sprintf("physical address %v is not a frame", pa))
	}
	return i
}

// stampLocked records the current time as entry i's last touch.
//
// Preconditions: m.mu must be locked.
func (m *Map) stampLocked(i int) {
	now := m.clock.Now()
	m.entries[i].Sec = now.Unix()
	m.entries[i].Nsec = int64(now.Nanosecond())
}

// Allocate claims the first run of n consecutive Freed frames for owner,
// zero-fills it and returns the physical address of its head. It returns false
// and claims nothing if no such run exists.
func (m *Map) Allocate(n int, purpose memmap.Purpose, owner memmap.OwnerID) (hostarch.Addr, bool) {
	if n <= 0 {
		panic(fmt.Sprintf("invalid allocation of %d frames", n))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.free {
		return 0, false
	}
	run := 0
	for i := range m.entries {
		if m.entries[i].State != Freed {
			run = 0
			continue
		}
		run++
		if run < n {
			continue
		}
		head := i - n + 1
		for j := head; j <= i; j++ {
			e := &m.entries[j]
			e.State = Dirty
			e.Owner = owner
			e.Purpose = purpose
			e.FirstPage = j == head
			e.NumPages = 0
			e.Pinned = false
			m.stampLocked(j)
		}
		m.seq++
		m.entries[head].Seq = m.seq
		m.entries[head].NumPages = n
		m.free -= n
		pa := m.entries[head].PA
		m.mem.Zero(pa, n)
		return pa, true
	}
	return 0, false
}

// Release frees the block headed by pa.
func (m *Map) Release(pa hostarch.Addr) error {
	i := m.mustIndex(pa)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.entries[i].FirstPage || !m.entries[i].State.InUse() {
		return ErrNotBlockHead
	}
	m.releaseLocked(i)
	return nil
}

// releaseLocked frees the block headed by frame i and returns its length.
//
// Preconditions: m.mu must be locked. Frame i is a block head.
func (m *Map) releaseLocked(i int) int {
	n := m.entries[i].NumPages
	for j := i; j < i+n; j++ {
		m.entries[j] = Entry{PA: m.entries[j].PA, State: Freed}
	}
	m.free += n
	return n
}

// ReleaseAll frees every block owned by owner and returns the number of
// frames freed.
func (m *Map) ReleaseAll(owner memmap.OwnerID) int {
	if owner == memmap.NoOwner {
		panic("ReleaseAll called without an owner")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	freed := 0
	for i := range m.entries {
		e := &m.entries[i]
		if e.FirstPage && e.State.InUse() && e.Owner == owner {
			freed += m.releaseLocked(i)
		}
	}
	return freed
}

// Reassign transfers the single-frame block at pa to a new owner, as done
// when a frame is evicted and reused. The frame is touched.
func (m *Map) Reassign(pa hostarch.Addr, owner memmap.OwnerID, state State, purpose memmap.Purpose) {
	i := m.mustIndex(pa)
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &m.entries[i]
	if !e.FirstPage || e.NumPages != 1 || !e.State.InUse() {
		panic(fmt.Sprintf("reassigning frame %v which is not an allocated single frame: %+v", pa, *e))
	}
	if !state.InUse() {
		panic(fmt.Sprintf("reassigning frame %v to state %v", pa, state))
	}
	e.Owner = owner
	e.State = state
	e.Purpose = purpose
	m.seq++
	e.Seq = m.seq
	m.stampLocked(i)
}

// Owner returns the owner and purpose of the frame at pa.
func (m *Map) Owner(pa hostarch.Addr) (memmap.OwnerID, memmap.Purpose) {
	i := m.mustIndex(pa)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[i].Owner, m.entries[i].Purpose
}

// Touch records an access to the frame at pa.
func (m *Map) Touch(pa hostarch.Addr) {
	i := m.mustIndex(pa)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stampLocked(i)
}

// SetState sets the state of an allocated frame.
func (m *Map) SetState(pa hostarch.Addr, state State) {
	i := m.mustIndex(pa)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.entries[i].State.InUse() || !state.InUse() {
		panic(fmt.Sprintf("frame %v: invalid transition %v -> %v", pa, m.entries[i].State, state))
	}
	m.entries[i].State = state
}

// MarkDirty records that the frame at pa was written.
func (m *Map) MarkDirty(pa hostarch.Addr) {
	m.SetState(pa, Dirty)
}

// Pin excludes the frame at pa from victim selection until Unpin.
func (m *Map) Pin(pa hostarch.Addr) {
	m.setPinned(pa, true)
}

// Unpin reverses Pin.
func (m *Map) Unpin(pa hostarch.Addr) {
	m.setPinned(pa, false)
}

func (m *Map) setPinned(pa hostarch.Addr, pinned bool) {
	i := m.mustIndex(pa)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[i].Pinned = pinned
}

// PinnedCount returns the number of pinned frames.
func (m *Map) PinnedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.entries {
		if m.entries[i].Pinned {
			n++
		}
	}
	return n
}

// SelectVictim asks ev for an eviction victim and returns a copy of its
// entry.
func (m *Map) SelectVictim(ev Evictor) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := ev.Victim(m.entries)
	if !ok {
		return Entry{}, false
	}
	if !Eligible(&m.entries[i]) {
		panic(fmt.Sprintf("evictor %T chose ineligible frame %d: %+v", ev, i, m.entries[i]))
	}
	return m.entries[i], true
}

// Usage summarizes the coremap.
type Usage struct {
	Total  int
	Free   int
	Fixed  int
	User   int
	Kernel int
	Dirty  int
	Clean  int
	Pinned int
}

// Usage counts frames by state and purpose.
func (m *Map) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := Usage{Total: len(m.entries)}
	for i := range m.entries {
		e := &m.entries[i]
		switch e.State {
		case Freed:
			u.Free++
			continue
		case Fixed:
			u.Fixed++
			continue
		case Dirty:
			u.Dirty++
		case Clean:
			u.Clean++
		}
		if e.Purpose == memmap.Kernel {
			u.Kernel++
		} else {
			u.User++
		}
		if e.Pinned {
			u.Pinned++
		}
	}
	return u
}
