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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/memmap"
	"gvisor.dev/vmsim/pkg/physmem"
)

// stepClock advances by one microsecond on every call.
type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Microsecond)
	return c.now
}

func newMap(t *testing.T, frames, reserved int) (*Map, *physmem.Memory) {
	t.Helper()
	mem, err := physmem.New(frames)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	m, err := New(mem, &stepClock{now: time.Unix(1000, 0)}, reserved)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, mem
}

func TestAllocateRelease(t *testing.T) {
	const (
		procA memmap.OwnerID = 1
		procB memmap.OwnerID = 2
	)
	m, _ := newMap(t, 4, 0)

	pa, ok := m.Allocate(2, memmap.User, procA)
	if !ok {
		t.Fatalf("Allocate(2) for A failed")
	}
	if got := m.FreeCount(); got != 2 {
		t.Errorf("FreeCount after A got %d want 2", got)
	}
	if _, ok := m.Allocate(3, memmap.User, procB); ok {
		t.Errorf("Allocate(3) for B succeeded with 2 free frames")
	}
	if got := m.FreeCount(); got != 2 {
		t.Errorf("FreeCount after failed B got %d want 2", got)
	}
	for i := 2; i < 4; i++ {
		if e := m.Entry(i); e.State != Freed || e.Owner != memmap.NoOwner {
			t.Errorf("frame %d was claimed by the failed allocation: %+v", i, e)
		}
	}
	if err := m.Release(pa); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := m.FreeCount(); got != 4 {
		t.Errorf("FreeCount after release got %d want 4", got)
	}
}

func TestAllocateFirstFit(t *testing.T) {
	for _, test := range []struct {
		name     string
		frames   int
		reserved int
		// held are frames allocated (one page each) before the test
		// allocation, then released if listed in freed.
		held  int
		freed []int
		n     int
		want  int
		fail  bool
	}{
		{
			name:   "empty map starts at frame zero",
			frames: 4,
			n:      1,
			want:   0,
		},
		{
			name:     "fixed frames are skipped",
			frames:   4,
			reserved: 2,
			n:        2,
			want:     2,
		},
		{
			name:   "first hole large enough",
			frames: 8,
			held:   6,
			freed:  []int{1, 3, 4},
			n:      2,
			want:   3,
		},
		{
			name:   "single frame takes the lowest hole",
			frames: 8,
			held:   6,
			freed:  []int{1, 3, 4},
			n:      1,
			want:   1,
		},
		{
			name:   "fragmented memory fails",
			frames: 6,
			held:   6,
			freed:  []int{0, 2, 4},
			n:      2,
			fail:   true,
		},
		{
			name:     "all fixed",
			frames:   3,
			reserved: 2,
			n:        2,
			fail:     true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			m, mem := newMap(t, test.frames, test.reserved)
			var held []hostarch.Addr
			for i := 0; i < test.held; i++ {
				pa, ok := m.Allocate(1, memmap.User, 1)
				if !ok {
					t.Fatalf("setup allocation %d failed", i)
				}
				held = append(held, pa)
			}
			for _, i := range test.freed {
				if err := m.Release(held[i]); err != nil {
					t.Fatalf("setup release %d: %v", i, err)
				}
			}
			before := m.FreeCount()
			pa, ok := m.Allocate(test.n, memmap.User, 2)
			if test.fail {
				if ok {
					t.Fatalf("Allocate(%d) got %v want failure", test.n, pa)
				}
				if got := m.FreeCount(); got != before {
					t.Errorf("FreeCount got %d want %d", got, before)
				}
				return
			}
			if !ok {
				t.Fatalf("Allocate(%d) failed", test.n)
			}
			if want := mem.FrameAddr(test.want); pa != want {
				t.Errorf("Allocate(%d) got %v want %v", test.n, pa, want)
			}
			if got := m.FreeCount(); got != before-test.n {
				t.Errorf("FreeCount got %d want %d", got, before-test.n)
			}
			head := m.Entry(test.want)
			if !head.FirstPage || head.NumPages != test.n || head.State != Dirty || head.Owner != 2 {
				t.Errorf("head entry %+v", head)
			}
			for i := test.want + 1; i < test.want+test.n; i++ {
				if e := m.Entry(i); e.FirstPage || e.State != Dirty || e.Owner != 2 {
					t.Errorf("tail entry %d %+v", i, e)
				}
			}
		})
	}
}

func TestAllocateZeroFills(t *testing.T) {
	m, mem := newMap(t, 2, 0)
	pa, _ := m.Allocate(1, memmap.User, 1)
	mem.Page(pa)[10] = 0xff
	if err := m.Release(pa); err != nil {
		t.Fatalf("Release: %v", err)
	}
	pa2, _ := m.Allocate(1, memmap.User, 2)
	if pa2 != pa {
		t.Fatalf("reallocation got %v want %v", pa2, pa)
	}
	if got := mem.Page(pa2)[10]; got != 0 {
		t.Errorf("reallocated frame byte got %#x want 0", got)
	}
}

func TestNoDoubleOwnership(t *testing.T) {
	m, _ := newMap(t, 16, 2)
	seen := make(map[hostarch.Addr]memmap.OwnerID)
	for owner := memmap.OwnerID(1); ; owner++ {
		pa, ok := m.Allocate(1+int(owner)%3, memmap.User, owner)
		if !ok {
			break
		}
		e := m.Entry(mustIndex(t, m, pa))
		for i := 0; i < e.NumPages; i++ {
			frame := pa + hostarch.Addr(i*hostarch.PageSize)
			if prev, ok := seen[frame]; ok {
				t.Fatalf("frame %v handed to %v while owned by %v", frame, owner, prev)
			}
			seen[frame] = owner
		}
	}
	u := m.Usage()
	if u.Free+u.Fixed+u.User != u.Total {
		t.Errorf("usage does not add up: %+v", u)
	}
}

func mustIndex(t *testing.T, m *Map, pa hostarch.Addr) int {
	t.Helper()
	i, ok := m.IndexOf(pa)
	if !ok {
		t.Fatalf("IndexOf(%v) failed", pa)
	}
	return i
}

func TestReleaseErrors(t *testing.T) {
	m, mem := newMap(t, 4, 1)
	pa, _ := m.Allocate(2, memmap.Kernel, memmap.NoOwner)
	if err := m.Release(pa + hostarch.PageSize); err != ErrNotBlockHead {
		t.Errorf("Release(tail) got %v want %v", err, ErrNotBlockHead)
	}
	if err := m.Release(mem.FrameAddr(0)); err != ErrNotBlockHead {
		t.Errorf("Release(fixed) got %v want %v", err, ErrNotBlockHead)
	}
	if err := m.Release(pa); err != nil {
		t.Errorf("Release(head) got %v", err)
	}
	if err := m.Release(pa); err != ErrNotBlockHead {
		t.Errorf("double Release got %v want %v", err, ErrNotBlockHead)
	}
}

func TestReleaseAll(t *testing.T) {
	m, _ := newMap(t, 8, 0)
	for _, owner := range []memmap.OwnerID{1, 2, 1, 1, 2} {
		if _, ok := m.Allocate(1, memmap.User, owner); !ok {
			t.Fatalf("Allocate for %v failed", owner)
		}
	}
	if got := m.ReleaseAll(1); got != 3 {
		t.Errorf("ReleaseAll(1) got %d want 3", got)
	}
	if got := m.FreeCount(); got != 6 {
		t.Errorf("FreeCount got %d want 6", got)
	}
	for _, e := range m.Snapshot() {
		if e.Owner == 1 {
			t.Errorf("frame %v still owned by 1", e.PA)
		}
	}
}

func TestReassign(t *testing.T) {
	m, _ := newMap(t, 2, 0)
	pa, _ := m.Allocate(1, memmap.User, 1)
	before := m.Entry(0)
	m.Reassign(pa, 2, Clean, memmap.User)
	after := m.Entry(0)
	if after.Owner != 2 || after.State != Clean {
		t.Errorf("Reassign got %+v", after)
	}
	if !before.Older(&after) {
		t.Errorf("Reassign did not touch the frame: before %+v after %+v", before, after)
	}
	m.MarkDirty(pa)
	if got := m.Entry(0).State; got != Dirty {
		t.Errorf("MarkDirty got state %v want %v", got, Dirty)
	}
}

func TestLRUVictim(t *testing.T) {
	user := func(owner memmap.OwnerID, sec, nsec int64) Entry {
		return Entry{State: Dirty, Owner: owner, Purpose: memmap.User, FirstPage: true, NumPages: 1, Sec: sec, Nsec: nsec}
	}
	for _, test := range []struct {
		name    string
		entries []Entry
		want    int
		none    bool
	}{
		{
			name:    "smallest seconds",
			entries: []Entry{user(1, 5, 0), user(1, 3, 900), user(2, 4, 0)},
			want:    1,
		},
		{
			name:    "ties broken on nanoseconds",
			entries: []Entry{user(1, 3, 7), user(1, 3, 5), user(2, 3, 6)},
			want:    1,
		},
		{
			name:    "full ties go to the lowest frame",
			entries: []Entry{user(1, 9, 0), user(2, 3, 3), user(1, 3, 3)},
			want:    1,
		},
		{
			name: "fixed kernel unowned and pinned frames are skipped",
			entries: []Entry{
				{State: Fixed},
				{State: Dirty, Purpose: memmap.Kernel, FirstPage: true, NumPages: 1},
				{State: Clean, Purpose: memmap.User, FirstPage: true, NumPages: 1},
				{State: Dirty, Owner: 1, Purpose: memmap.User, FirstPage: true, NumPages: 1, Pinned: true},
				user(3, 100, 0),
			},
			want: 4,
		},
		{
			name:    "free frames are skipped",
			entries: []Entry{{State: Freed}, user(1, 2, 0)},
			want:    1,
		},
		{
			name:    "nothing eligible",
			entries: []Entry{{State: Fixed}, {State: Freed}},
			none:    true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, ok := LRU{}.Victim(test.entries)
			if test.none {
				if ok {
					t.Errorf("Victim got %d want none", got)
				}
				return
			}
			if !ok || got != test.want {
				t.Errorf("Victim got %d, %v want %d", got, ok, test.want)
			}
		})
	}
}

func TestSelectVictimFollowsTouches(t *testing.T) {
	m, _ := newMap(t, 3, 0)
	var pas []hostarch.Addr
	for i := 0; i < 3; i++ {
		pa, _ := m.Allocate(1, memmap.User, memmap.OwnerID(i+1))
		pas = append(pas, pa)
	}
	m.Touch(pas[0])
	v, ok := m.SelectVictim(LRU{})
	if !ok || v.PA != pas[1] {
		t.Errorf("LRU victim got %v want %v", v.PA, pas[1])
	}
	v, ok = m.SelectVictim(FIFO{})
	if !ok || v.PA != pas[0] {
		t.Errorf("FIFO victim got %v want %v", v.PA, pas[0])
	}
	m.Pin(pas[1])
	v, _ = m.SelectVictim(LRU{})
	if v.PA != pas[2] {
		t.Errorf("LRU victim with pin got %v want %v", v.PA, pas[2])
	}
	m.Unpin(pas[1])
	if got := m.PinnedCount(); got != 0 {
		t.Errorf("PinnedCount got %d want 0", got)
	}
}

func TestUsage(t *testing.T) {
	m, _ := newMap(t, 6, 1)
	pa, _ := m.Allocate(1, memmap.User, 1)
	m.Allocate(2, memmap.Kernel, memmap.NoOwner)
	m.SetState(pa, Clean)
	want := Usage{Total: 6, Free: 2, Fixed: 1, User: 1, Kernel: 2, Dirty: 2, Clean: 1}
	if diff := cmp.Diff(want, m.Usage()); diff != "" {
		t.Errorf("Usage mismatch (-want +got):\n%s", diff)
	}
}

func TestBookkeepingFrames(t *testing.T) {
	for _, test := range []struct {
		frames, slots, want int
	}{
		{frames: 1, slots: 0, want: 1},
		{frames: 128, slots: 256, want: 2},
		{frames: 129, slots: 256, want: 3},
		{frames: 1024, slots: 1024, want: 12},
	} {
		if got := BookkeepingFrames(test.frames, test.slots); got != test.want {
			t.Errorf("BookkeepingFrames(%d, %d) got %d want %d", test.frames, test.slots, got, test.want)
		}
	}
}

func TestNewEvictor(t *testing.T) {
	for _, name := range []string{"", "lru", "fifo"} {
		if _, err := NewEvictor(name); err != nil {
			t.Errorf("NewEvictor(%q): %v", name, err)
		}
	}
	if _, err := NewEvictor("clock"); err == nil {
		t.Errorf("NewEvictor(clock) should fail")
	}
	if _, err := New(mustMem(t, 2), nil, 2); err == nil {
		t.Errorf("New reserving every frame should fail")
	}
}

func mustMem(t *testing.T, frames int) *physmem.Memory {
	t.Helper()
	mem, err := physmem.New(frames)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	return mem
}
