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

package physmem

import (
	"bytes"
	"testing"

	"gvisor.dev/vmsim/pkg/hostarch"
)

func TestFrameAddressing(t *testing.T) {
	m, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < m.Frames(); i++ {
		pa := m.FrameAddr(i)
		if pa == 0 {
			t.Errorf("frame %d has physical address 0", i)
		}
		if got, ok := m.FrameIndex(pa + 17); !ok || got != i {
			t.Errorf("FrameIndex(%v) got %d, %v want %d, true", pa+17, got, ok, i)
		}
	}
	if _, ok := m.FrameIndex(0); ok {
		t.Errorf("FrameIndex(0) should fail")
	}
	if _, ok := m.FrameIndex(m.FrameAddr(4)); ok {
		t.Errorf("FrameIndex past the end should fail")
	}
	if _, err := New(0); err == nil {
		t.Errorf("New(0) should fail")
	}
}

func TestCopyAndZero(t *testing.T) {
	m, _ := New(2)
	src, dst := m.FrameAddr(0), m.FrameAddr(1)
	copy(m.Page(src), bytes.Repeat([]byte{0x42}, hostarch.PageSize))
	m.CopyFrame(dst, src)
	if !bytes.Equal(m.Page(dst), m.Page(src)) {
		t.Errorf("CopyFrame did not copy")
	}
	m.Zero(src, 1)
	if !bytes.Equal(m.Page(src), make([]byte, hostarch.PageSize)) {
		t.Errorf("Zero did not zero")
	}
	if m.Page(dst)[0] != 0x42 {
		t.Errorf("Zero clobbered the neighbouring frame")
	}
}
