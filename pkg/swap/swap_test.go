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

package swap

import (
	"bytes"
	"path/filepath"
	"testing"

	"gvisor.dev/vmsim/pkg/errors/linuxerr"
	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/memmap"
)

const page = hostarch.PageSize

func openStore(t *testing.T, slots int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "swap"), int64(slots*page))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestOpenSizesSlots(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "swap"), 5*page+100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if got := s.Slots(); got != 5 {
		t.Errorf("Slots got %d want 5", got)
	}
	if got := s.Used(); got != 0 {
		t.Errorf("Used got %d want 0", got)
	}
}

func TestOpenIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap")
	s, err := Open(path, 2*page)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Open(path, 2*page); !linuxerr.Equals(linuxerr.EBUSY, err) {
		t.Errorf("second Open got %v want %v", err, linuxerr.EBUSY)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s2, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	defer s2.Close()
	if got := s2.Slots(); got != 2 {
		t.Errorf("reopened Slots got %d want 2", got)
	}
}

func TestLocateOrClaim(t *testing.T) {
	const (
		procA memmap.OwnerID = 1
		procB memmap.OwnerID = 2
	)
	s := openStore(t, 3)

	off, err := s.LocateOrClaim(procA, 0x1000, SwapOut)
	if err != nil || off != 0 {
		t.Fatalf("first claim got %#x, %v want 0, nil", off, err)
	}
	// The same page maps to the same slot in either direction.
	for _, dir := range []Direction{SwapOut, SwapIn} {
		if got, err := s.LocateOrClaim(procA, 0x1000, dir); err != nil || got != off {
			t.Errorf("LocateOrClaim(%v) got %#x, %v want %#x", dir, got, err, off)
		}
	}
	// The same address in another owner is a different page.
	offB, err := s.LocateOrClaim(procB, 0x1000, SwapOut)
	if err != nil || offB != page {
		t.Errorf("claim for B got %#x, %v want %#x", offB, err, page)
	}
	if _, err := s.LocateOrClaim(procA, 0x2000, SwapOut); err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if s.CanStore(procB, 0x5000) {
		t.Errorf("CanStore on a full store got true")
	}
	if !s.CanStore(procA, 0x1000) {
		t.Errorf("CanStore for a bound page got false")
	}
	if _, err := s.LocateOrClaim(procB, 0x5000, SwapOut); err != ErrNoSpace {
		t.Errorf("claim on full store got %v want %v", err, ErrNoSpace)
	}
	if off, err := s.LocateOrClaim(procB, 0x1000, SwapIn); err != nil || off != offB {
		t.Errorf("SwapIn for B got %#x, %v want %#x", off, err, offB)
	}
}

func TestSwapInWithoutSlotPanics(t *testing.T) {
	s := openStore(t, 1)
	defer func() {
		if recover() == nil {
			t.Errorf("SwapIn of an unknown page did not panic")
		}
	}()
	s.LocateOrClaim(1, 0x1000, SwapIn)
}

func TestReleaseOwner(t *testing.T) {
	s := openStore(t, 4)
	for _, c := range []struct {
		owner memmap.OwnerID
		va    hostarch.Addr
	}{{1, 0x1000}, {2, 0x1000}, {1, 0x3000}, {3, 0x1000}} {
		if _, err := s.LocateOrClaim(c.owner, c.va, SwapOut); err != nil {
			t.Fatalf("claim %v %v: %v", c.owner, c.va, err)
		}
	}
	if got := s.ReleaseOwner(1); got != 2 {
		t.Errorf("ReleaseOwner(1) got %d want 2", got)
	}
	if got := s.Used(); got != 2 {
		t.Errorf("Used got %d want 2", got)
	}
	if s.Has(1, 0x1000) || !s.Has(2, 0x1000) || !s.Has(3, 0x1000) {
		t.Errorf("ReleaseOwner released the wrong slots")
	}
	if !s.ReleasePage(2, 0x1000) || s.ReleasePage(2, 0x1000) {
		t.Errorf("ReleasePage should succeed exactly once")
	}
	// The lowest released slot is reused first.
	if off, err := s.LocateOrClaim(4, 0x9000, SwapOut); err != nil || off != 0 {
		t.Errorf("claim after release got %#x, %v want 0", off, err)
	}
}

func TestPageIO(t *testing.T) {
	s := openStore(t, 2)
	want := bytes.Repeat([]byte{0x5a}, page)
	off, _ := s.LocateOrClaim(1, 0x4000, SwapOut)
	if err := s.WriteBack(off, want); err != nil {
		t.Fatalf("WriteBack: %v", err)
	}
	other, _ := s.LocateOrClaim(1, 0x8000, SwapOut)
	if err := s.WriteBack(other, make([]byte, page)); err != nil {
		t.Fatalf("WriteBack: %v", err)
	}
	got := make([]byte, page)
	if err := s.ReadIn(off, got); err != nil {
		t.Fatalf("ReadIn: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadIn returned different content")
	}
}

func TestUnalignedTransferPanics(t *testing.T) {
	s := openStore(t, 2)
	defer func() {
		if recover() == nil {
			t.Errorf("unaligned WriteBack did not panic")
		}
	}()
	s.WriteBack(10, make([]byte, page))
}
