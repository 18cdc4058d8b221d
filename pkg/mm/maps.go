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

package mm

import (
	"bytes"
	"fmt"

	"gvisor.dev/vmsim/pkg/hostarch"
)

// Maps renders the address space in the style of /proc/[pid]/maps, one line
// per region followed by the heap and the stack, each with its resident and
// swapped page counts.
func (as *AddressSpace) Maps() string {
	var buf bytes.Buffer
	for i, r := range as.regions {
		as.mapsEntry(&buf, r.Range(), r.Perms, fmt.Sprintf("[region %d]", i))
	}
	if as.prepared {
		as.mapsEntry(&buf, as.heap, hostarch.ReadWrite, "[heap]")
		as.mapsEntry(&buf, as.stack, hostarch.ReadWrite, "[stack]")
	}
	return buf.String()
}

func (as *AddressSpace) mapsEntry(buf *bytes.Buffer, ar hostarch.AddrRange, perms hostarch.AccessType, name string) {
	var resident, swapped int
	for va := ar.Start; va < ar.End; va += hostarch.PageSize {
		i, ok := as.index[va]
		if !ok {
			continue
		}
		switch as.ptes[i].State() {
		case Resident:
			resident++
		case Swapped:
			swapped++
		}
	}
	fmt.Fprintf(buf, "%08x-%08x %sp %5d %5d %s\n", uintptr(ar.Start), uintptr(ar.End), perms, resident, swapped, name)
}
