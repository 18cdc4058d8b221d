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

// Package swap implements the swap store: page-sized slots in a backing file,
// each bound to the (owner, virtual page) whose content it holds.
//
// Lock order:
//
//	vm.System.mu
//	  swap.Store.mu
package swap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"github.com/google/btree"
	"golang.org/x/sys/unix"
	"gvisor.dev/vmsim/pkg/errors/linuxerr"
	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/log"
	"gvisor.dev/vmsim/pkg/memmap"
)

// ErrNoSpace is returned by LocateOrClaim when a page must be swapped out and
// every slot is occupied.
var ErrNoSpace = errors.New("no empty swap slot")

// Direction is the direction of a swap transfer.
type Direction int

const (
	// SwapIn reads a page back from its slot.
	SwapIn Direction = iota

	// SwapOut writes a page to its slot, claiming one if needed.
	SwapOut
)

// String implements fmt.Stringer.String.
func (d Direction) String() string {
	switch d {
	case SwapIn:
		return "in"
	case SwapOut:
		return "out"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// maxIORetries bounds the retries of an interrupted page transfer.
const maxIORetries = 8

// binding records that slot holds the page at va of owner.
type binding struct {
	owner memmap.OwnerID
	va    hostarch.Addr
	slot  int
}

func bindingLess(a, b binding) bool {
	if a.owner != b.owner {
		return a.owner < b.owner
	}
	return a.va < b.va
}

// Store is a swap store backed by a file.
type Store struct {
	path string
	file *os.File
	lock *flock.Flock

	// slots is the number of page-sized slots in the file.
	slots int

	mu sync.Mutex

	// bound maps (owner, va) to slot, ordered by owner then va.
	//
	// +checklocks:mu
	bound *btree.BTreeG[binding]

	// empty holds the indices of empty slots.
	//
	// +checklocks:mu
	empty *btree.BTreeG[int]
}

// Open opens the swap file at path, creating it if needed, and takes an
// exclusive lock on it. If size is positive the file is resized to size bytes;
// otherwise its current size is used. The slot count is the size divided by
// the page size.
func Open(path string, size int64) (*Store, error) {
	l := flock.New(path)
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking swap file %q: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("swap file %q is in use: %w", path, linuxerr.EBUSY)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		l.Unlock()
		return nil, fmt.Errorf("opening swap file: %w", err)
	}
	if size > 0 {
		if err := unix.Ftruncate(int(f.Fd()), size); err != nil {
			f.Close()
			l.Unlock()
			return nil, fmt.Errorf("sizing swap file %q to %d bytes: %w", path, size, err)
		}
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		f.Close()
		l.Unlock()
		return nil, fmt.Errorf("stat swap file %q: %w", path, err)
	}
	slots := int(st.Size / hostarch.PageSize)
	s := &Store{
		path:  path,
		file:  f,
		lock:  l,
		slots: slots,
		bound: btree.NewG(8, bindingLess),
		empty: btree.NewG(8, func(a, b int) bool { return a < b }),
	}
	for i := 0; i < slots; i++ {
		s.empty.ReplaceOrInsert(i)
	}
	log.Infof("Swap file %q opened with %d slots", path, slots)
	return s, nil
}

// Close releases the file lock and closes the swap file. Slot contents do not
// survive Close.
func (s *Store) Close() error {
	err := s.file.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// Path returns the path of the backing file.
func (s *Store) Path() string {
	return s.path
}

// Slots returns the total number of slots.
func (s *Store) Slots() int {
	return s.slots
}

// Used returns the number of occupied slots.
func (s *Store) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots - s.empty.Len()
}

// Offset returns the byte offset of a slot.
func Offset(slot int) int64 {
	return int64(slot) * hostarch.PageSize
}

// LocateOrClaim returns the offset of the slot bound to (owner, va). For
// SwapOut an unbound page claims the lowest empty slot, or fails with
// ErrNoSpace. For SwapIn the page must already be bound.
func (s *Store) LocateOrClaim(owner memmap.OwnerID, va hostarch.Addr, dir Direction) (int64, error) {
	if !va.IsPageAligned() {
		panic(fmt.Sprintf("swap lookup of unaligned address %v", va))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bound.Get(binding{owner: owner, va: va}); ok {
		return Offset(b.slot), nil
	}
	if dir == SwapIn {
		panic(fmt.Sprintf("swap in of %v page %v which was never swapped out", owner, va))
	}
	slot, ok := s.empty.DeleteMin()
	if !ok {
		return 0, ErrNoSpace
	}
	b := binding{owner: owner, va: va, slot: slot}
	s.bound.ReplaceOrInsert(b)
	return Offset(slot), nil
}

// Has returns true if (owner, va) is bound to a slot.
func (s *Store) Has(owner memmap.OwnerID, va hostarch.Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound.Has(binding{owner: owner, va: va})
}

// CanStore returns true if a SwapOut of (owner, va) would succeed.
func (s *Store) CanStore(owner memmap.OwnerID, va hostarch.Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.empty.Len() > 0 || s.bound.Has(binding{owner: owner, va: va})
}

// ReleaseOwner empties every slot bound to owner and returns how many were
// released.
func (s *Store) ReleaseOwner(owner memmap.OwnerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var victims []binding
	s.bound.AscendRange(binding{owner: owner}, binding{owner: owner + 1}, func(b binding) bool {
		victims = append(victims, b)
		return true
	})
	for _, b := range victims {
		s.bound.Delete(b)
		s.empty.ReplaceOrInsert(b.slot)
	}
	return len(victims)
}

// ReleasePage empties the slot bound to (owner, va), if any. It is used when
// the page itself is unmapped.
func (s *Store) ReleasePage(owner memmap.OwnerID, va hostarch.Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bound.Delete(binding{owner: owner, va: va})
	if !ok {
		return false
	}
	s.empty.ReplaceOrInsert(b.slot)
	return true
}

func (s *Store) checkTransfer(off int64, page []byte) {
	if len(page) != hostarch.PageSize {
		panic(fmt.Sprintf("swap transfer of %d bytes", len(page)))
	}
	if off%hostarch.PageSize != 0 || off < 0 || off >= Offset(s.slots) {
		panic(fmt.Sprintf("swap transfer at invalid offset %#x", off))
	}
}

// WriteBack synchronously writes page to the slot at off.
func (s *Store) WriteBack(off int64, page []byte) error {
	s.checkTransfer(off, page)
	return s.transfer("pwrite", off, page, unix.Pwrite)
}

// ReadIn synchronously reads the slot at off into page.
func (s *Store) ReadIn(off int64, page []byte) error {
	s.checkTransfer(off, page)
	return s.transfer("pread", off, page, unix.Pread)
}

// transfer performs a page-sized I/O, retrying interrupted or would-block
// attempts. Other failures are reported as EIO.
func (s *Store) transfer(name string, off int64, page []byte, do func(fd int, p []byte, offset int64) (int, error)) error {
	fd := int(s.file.Fd())
	op := func() error {
		n, err := do(fd, page, off)
		switch {
		case err == unix.EINTR || err == unix.EAGAIN:
			return err
		case err != nil:
			return backoff.Permanent(err)
		case n != len(page):
			return backoff.Permanent(shortTransfer(name, n))
		}
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), maxIORetries)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("%s swap offset %#x: %v: %w", name, off, err, linuxerr.EIO)
	}
	return nil
}

func shortTransfer(name string, n int) error {
	if name == "pread" {
		return io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w after %d bytes", io.ErrShortWrite, n)
}
