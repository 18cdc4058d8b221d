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

// Package tlb simulates a software-managed translation lookaside buffer.
//
// Every entry maps one virtual page to one physical frame. Entries are
// installed by the fault resolver and consulted by the MMU before a fault is
// raised. The buffer is not tagged with an address space, so it must be
// flushed on every context switch.
package tlb

import (
	"fmt"
	"math/rand"
	"sync"

	"gvisor.dev/vmsim/pkg/hostarch"
)

// DefaultEntries is the number of entries of the simulated hardware.
const DefaultEntries = 64

// Entry is one translation.
type Entry struct {
	// VPN is the virtual page address (page aligned).
	VPN hostarch.Addr

	// PFN is the physical frame address (page aligned).
	PFN hostarch.Addr

	// Dirty entries permit writes.
	Dirty bool

	// Valid entries participate in lookups.
	Valid bool
}

// Stats counts TLB events.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Flushes       uint64
	Invalidations uint64
	Replacements  uint64
}

// TLB is a fully associative translation buffer.
type TLB struct {
	mu sync.Mutex

	// +checklocks:mu
	entries []Entry

	// rng picks the entry replaced when the buffer is full.
	//
	// +checklocks:mu
	rng *rand.Rand

	// +checklocks:mu
	stats Stats
}

// New returns a TLB with n invalid entries. seed seeds the replacement
// choice.
func New(n int, seed int64) *TLB {
	if n <= 0 {
		panic(fmt.Sprintf("invalid TLB size %d", n))
	}
	return &TLB{
		entries: make([]Entry, n),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Len returns the number of entries.
func (t *TLB) Len() int {
	return len(t.entries)
}

// Probe looks up the translation of va.
func (t *TLB) Probe(va hostarch.Addr) (Entry, bool) {
	vpn := va.RoundDown()
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.findLocked(vpn); i >= 0 {
		t.stats.Hits++
		return t.entries[i], true
	}
	t.stats.Misses++
	return Entry{}, false
}

// findLocked returns the index of the valid entry for vpn or -1.
//
// Preconditions: t.mu must be locked.
func (t *TLB) findLocked(vpn hostarch.Addr) int {
	for i := range t.entries {
		if t.entries[i].Valid && t.entries[i].VPN == vpn {
			return i
		}
	}
	return -1
}

// Install maps va to pa as a valid, dirty entry and returns the slot used. An
// existing entry for the page is overwritten; otherwise the first invalid slot
// is used; otherwise a pseudo-random slot is replaced.
func (t *TLB) Install(va, pa hostarch.Addr) int {
	if !pa.IsPageAligned() {
		panic(fmt.Sprintf("installing unaligned frame %v", pa))
	}
	e := Entry{VPN: va.RoundDown(), PFN: pa, Dirty: true, Valid: true}
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.findLocked(e.VPN)
	if i < 0 {
		for j := range t.entries {
			if !t.entries[j].Valid {
				i = j
				break
			}
		}
	}
	if i < 0 {
		i = t.rng.Intn(len(t.entries))
		t.stats.Replacements++
	}
	t.entries[i] = e
	return i
}

// InvalidateAll invalidates every entry.
func (t *TLB) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		t.entries[i] = Entry{}
	}
	t.stats.Flushes++
}

// InvalidatePage invalidates the entry for va, if any.
func (t *TLB) InvalidatePage(va hostarch.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.findLocked(va.RoundDown()); i >= 0 {
		t.entries[i] = Entry{}
		t.stats.Invalidations++
		return true
	}
	return false
}

// InvalidateFrame invalidates every entry mapping the frame at pa and returns
// how many were invalidated.
func (t *TLB) InvalidateFrame(pa hostarch.Addr) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.entries {
		if t.entries[i].Valid && t.entries[i].PFN == pa {
			t.entries[i] = Entry{}
			n++
		}
	}
	t.stats.Invalidations += uint64(n)
	return n
}

// ValidCount returns the number of valid entries.
func (t *TLB) ValidCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.entries {
		if t.entries[i].Valid {
			n++
		}
	}
	return n
}

// Stats returns a copy of the event counters.
func (t *TLB) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
