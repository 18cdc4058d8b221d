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

// Package memmap defines the identifiers shared by the frame allocator, the
// swap store and address spaces.
package memmap

import "fmt"

// OwnerID identifies an address space. Frames and swap slots refer to their
// owner only through an OwnerID, which is resolved through the System's
// registry; a destroyed owner is therefore detectable rather than dangling.
type OwnerID uint64

// NoOwner is the OwnerID of free, fixed and kernel frames.
const NoOwner OwnerID = 0

// String implements fmt.Stringer.String.
func (id OwnerID) String() string {
	if id == NoOwner {
		return "none"
	}
	return fmt.Sprintf("as%d", uint64(id))
}

// Purpose is the kind of memory a frame backs.
type Purpose int

const (
	// User frames back pages of a user address space. Only user frames are
	// eviction candidates.
	User Purpose = iota

	// Kernel frames back kernel allocations and are never evicted.
	Kernel
)

// String implements fmt.Stringer.String.
func (p Purpose) String() string {
	switch p {
	case User:
		return "user"
	case Kernel:
		return "kernel"
	default:
		return fmt.Sprintf("Purpose(%d)", int(p))
	}
}
