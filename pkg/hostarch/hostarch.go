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

// Package hostarch describes the simulated machine: page geometry, virtual and
// physical addresses, and memory access types.
package hostarch

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a page (and of a physical frame) in bytes.
	PageSize = 1 << PageShift

	// PageMask is the mask of the offset bits within a page.
	PageMask = PageSize - 1

	// PageFrame masks off the offset bits of an address, leaving the page.
	PageFrame = ^Addr(PageMask)
)

const (
	// UserStack is the default top of the user stack. The stack grows down
	// from here; addresses at or above it belong to the kernel.
	UserStack Addr = 0x80000000

	// KernelBase is the first address that user faults may never reference.
	KernelBase Addr = 0x80000000
)
