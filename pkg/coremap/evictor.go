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

package coremap

import (
	"fmt"

	"gvisor.dev/vmsim/pkg/memmap"
)

// Evictor chooses which frame to reclaim when no frame is free.
type Evictor interface {
	// Victim returns the index of the frame to evict, or false if no entry
	// is eligible. It must only return entries for which Eligible is true.
	Victim(entries []Entry) (int, bool)
}

// Eligible returns true if e may be evicted: an unpinned single-frame user
// block with a registered owner.
func Eligible(e *Entry) bool {
	return e.State.InUse() &&
		e.Purpose == memmap.User &&
		e.Owner != memmap.NoOwner &&
		e.FirstPage && e.NumPages == 1 &&
		!e.Pinned
}

// LRU evicts the least recently touched eligible frame. Timestamps compare
// by seconds, then nanoseconds; among identical timestamps the lowest frame
// wins.
type LRU struct{}

// Victim implements Evictor.Victim.
func (LRU) Victim(entries []Entry) (int, bool) {
	victim := -1
	for i := range entries {
		if !Eligible(&entries[i]) {
			continue
		}
		if victim < 0 || entries[i].Older(&entries[victim]) {
			victim = i
		}
	}
	return victim, victim >= 0
}

// FIFO evicts the eligible frame that was allocated or reassigned first,
// ignoring later touches. It is provided for comparison with LRU.
type FIFO struct{}

// Victim implements Evictor.Victim.
func (FIFO) Victim(entries []Entry) (int, bool) {
	victim := -1
	for i := range entries {
		if !Eligible(&entries[i]) {
			continue
		}
		if victim < 0 || entries[i].Seq < entries[victim].Seq {
			victim = i
		}
	}
	return victim, victim >= 0
}

// NewEvictor returns the named eviction policy.
func NewEvictor(name string) (Evictor, error) {
	switch name {
	case "lru", "":
		return LRU{}, nil
	case "fifo":
		return FIFO{}, nil
	}
	return nil, fmt.Errorf("unknown eviction policy %q, must be 'lru' or 'fifo'", name)
}
