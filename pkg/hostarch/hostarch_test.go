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

package hostarch

import "testing"

func TestRounding(t *testing.T) {
	for _, test := range []struct {
		addr     Addr
		down     Addr
		up       Addr
		upOK     bool
		aligned  bool
		pageOffs uint64
	}{
		{addr: 0, down: 0, up: 0, upOK: true, aligned: true},
		{addr: 1, down: 0, up: PageSize, upOK: true, pageOffs: 1},
		{addr: PageSize, down: PageSize, up: PageSize, upOK: true, aligned: true},
		{addr: PageSize + 7, down: PageSize, up: 2 * PageSize, upOK: true, pageOffs: 7},
		{addr: ^Addr(0), down: ^Addr(0) &^ PageMask, upOK: false, pageOffs: PageMask},
	} {
		if got := test.addr.RoundDown(); got != test.down {
			t.Errorf("%v.RoundDown() got %v want %v", test.addr, got, test.down)
		}
		up, ok := test.addr.RoundUp()
		if ok != test.upOK {
			t.Errorf("%v.RoundUp() ok got %v want %v", test.addr, ok, test.upOK)
		}
		if ok && up != test.up {
			t.Errorf("%v.RoundUp() got %v want %v", test.addr, up, test.up)
		}
		if got := test.addr.IsPageAligned(); got != test.aligned {
			t.Errorf("%v.IsPageAligned() got %v want %v", test.addr, got, test.aligned)
		}
		if got := test.addr.PageOffset(); got != test.pageOffs {
			t.Errorf("%v.PageOffset() got %v want %v", test.addr, got, test.pageOffs)
		}
	}
}

func TestAddrRange(t *testing.T) {
	ar, ok := Addr(PageSize).ToRange(3 * PageSize)
	if !ok {
		t.Fatalf("ToRange overflowed")
	}
	if got := ar.NumPages(); got != 3 {
		t.Errorf("NumPages got %d want 3", got)
	}
	if !ar.Contains(3*PageSize) || ar.Contains(4*PageSize) {
		t.Errorf("Contains is wrong for %v", ar)
	}
	if !ar.Overlaps(AddrRange{0, 2 * PageSize}) {
		t.Errorf("%v should overlap [0, 2 pages)", ar)
	}
	if ar.Overlaps(AddrRange{4 * PageSize, 5 * PageSize}) {
		t.Errorf("%v should not overlap [4, 5 pages)", ar)
	}
	if _, ok := (^Addr(0)).ToRange(2); ok {
		t.Errorf("ToRange should report overflow")
	}
}

func TestAccessTypeString(t *testing.T) {
	for _, test := range []struct {
		at   AccessType
		want string
	}{
		{NoAccess, "---"},
		{Read, "r--"},
		{ReadWrite, "rw-"},
		{AnyAccess, "rwx"},
		{AccessType{Read: true, Execute: true}, "r-x"},
	} {
		if got := test.at.String(); got != test.want {
			t.Errorf("%#v.String() got %q want %q", test.at, got, test.want)
		}
		parsed, ok := ParseAccessType(test.want)
		if !ok || parsed != test.at {
			t.Errorf("ParseAccessType(%q) got %v, %v want %v", test.want, parsed, ok, test.at)
		}
	}
	if _, ok := ParseAccessType("rwz"); ok {
		t.Errorf("ParseAccessType(rwz) should fail")
	}
}
