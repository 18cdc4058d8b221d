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

// Package physmem simulates installed physical memory.
//
// Physical addresses start at hostarch.PageSize so that the zero address can
// mean "no frame" in page table entries.
package physmem

import (
	"fmt"

	"gvisor.dev/vmsim/pkg/hostarch"
)

// Base is the physical address of frame 0.
const Base hostarch.Addr = hostarch.PageSize

// Memory is a contiguous block of simulated RAM.
type Memory struct {
	data []byte
}

// New returns Memory with the given number of frames, zero filled.
func New(frames int) (*Memory, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("invalid frame count %d", frames)
	}
	return &Memory{data: make([]byte, frames*hostarch.PageSize)}, nil
}

// Frames returns the number of frames.
func (m *Memory) Frames() int {
	return len(m.data) / hostarch.PageSize
}

// FrameAddr returns the physical address of frame i.
func (m *Memory) FrameAddr(i int) hostarch.Addr {
	return Base + hostarch.Addr(i)*hostarch.PageSize
}

// FrameIndex returns the index of the frame containing pa.
func (m *Memory) FrameIndex(pa hostarch.Addr) (int, bool) {
	if pa < Base {
		return 0, false
	}
	i := int((pa - Base) >> hostarch.PageShift)
	if i >= m.Frames() {
		return 0, false
	}
	return i, true
}

// Page returns the contents of the frame at physical address pa. The returned
// slice aliases the simulated RAM.
//
// Preconditions: pa is page aligned and within memory.
func (m *Memory) Page(pa hostarch.Addr) []byte {
	if !pa.IsPageAligned() {
		panic(fmt.Sprintf("unaligned physical address %v", pa))
	}
	return m.Block(pa, 1)
}

// Block returns n contiguous frames starting at pa.
//
// Preconditions: pa is page aligned and the block lies within memory.
func (m *Memory) Block(pa hostarch.Addr, n int) []byte {
	i, ok := m.FrameIndex(pa)
	if !ok || i+n > m.Frames() {
		panic(fmt.Sprintf("physical block [%v, +%d pages) outside of memory", pa, n))
	}
	off := i * hostarch.PageSize
	return m.data[off : off+n*hostarch.PageSize : off+n*hostarch.PageSize]
}

// Zero zero-fills n frames starting at pa.
func (m *Memory) Zero(pa hostarch.Addr, n int) {
	clear(m.Block(pa, n))
}

// CopyFrame copies the contents of frame src into frame dst.
func (m *Memory) CopyFrame(dst, src hostarch.Addr) {
	copy(m.Page(dst), m.Page(src))
}
