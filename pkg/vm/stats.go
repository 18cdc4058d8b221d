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
	"gvisor.dev/vmsim/pkg/memmap"
	"gvisor.dev/vmsim/pkg/mm"
	"gvisor.dev/vmsim/pkg/tlb"
)

// Stats is a point-in-time summary of a System.
type Stats struct {
	Frames        coremap.Usage
	SwapSlots     int
	SwapUsed      int
	AddressSpaces int
	Current       memmap.OwnerID
	TLB           tlb.Stats
	TLBValid      int
}

// Stats returns a summary of s.
func (s *System) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Frames:        s.coremap.Usage(),
		SwapSlots:     s.swap.Slots(),
		SwapUsed:      s.swap.Used(),
		AddressSpaces: len(s.registry),
		TLB:           s.tlb.Stats(),
		TLBValid:      s.tlb.ValidCount(),
	}
	if s.current != nil {
		st.Current = s.current.Owner()
	}
	return st
}

// Frames returns a copy of every coremap entry.
func (s *System) Frames() []coremap.Entry {
	return s.coremap.Snapshot()
}

// Maps returns the region listing of as along with its residency counts.
func (s *System) Maps(as *mm.AddressSpace) (string, mm.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return as.Maps(), as.Usage()
}
