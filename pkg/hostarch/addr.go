// Copyright 2026 The pagetables.dev Authors.
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

import "fmt"

// PhysAddr is a physical address. It is a plain machine word; arithmetic
// on it never traps.
type PhysAddr uintptr

// VirtAddr is a virtual address.
type VirtAddr uintptr

// AlignDown returns the address rounded down to a multiple of align.
func (p PhysAddr) AlignDown(align uintptr) PhysAddr {
	return PhysAddr(AlignDown(uintptr(p), align))
}

// AlignUp returns the address rounded up to a multiple of align.
func (p PhysAddr) AlignUp(align uintptr) PhysAddr {
	return PhysAddr(AlignUp(uintptr(p), align))
}

// IsAligned returns true iff the address is a multiple of align.
func (p PhysAddr) IsAligned(align uintptr) bool {
	return IsAligned(uintptr(p), align)
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (p PhysAddr) RoundDown() PhysAddr {
	return p.AlignDown(PageSize)
}

// Add returns the address advanced by n bytes.
func (p PhysAddr) Add(n uintptr) PhysAddr {
	return p + PhysAddr(n)
}

// String implements fmt.Stringer.
func (p PhysAddr) String() string {
	return fmt.Sprintf("PA(%#x)", uintptr(p))
}

// AlignDown returns the address rounded down to a multiple of align.
func (v VirtAddr) AlignDown(align uintptr) VirtAddr {
	return VirtAddr(AlignDown(uintptr(v), align))
}

// AlignUp returns the address rounded up to a multiple of align.
func (v VirtAddr) AlignUp(align uintptr) VirtAddr {
	return VirtAddr(AlignUp(uintptr(v), align))
}

// IsAligned returns true iff the address is a multiple of align.
func (v VirtAddr) IsAligned(align uintptr) bool {
	return IsAligned(uintptr(v), align)
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v VirtAddr) RoundDown() VirtAddr {
	return v.AlignDown(PageSize)
}

// PageOffset returns the offset of the address within its page.
func (v VirtAddr) PageOffset() uintptr {
	return uintptr(v) & (PageSize - 1)
}

// Add returns the address advanced by n bytes.
func (v VirtAddr) Add(n uintptr) VirtAddr {
	return v + VirtAddr(n)
}

// String implements fmt.Stringer.
func (v VirtAddr) String() string {
	return fmt.Sprintf("VA(%#x)", uintptr(v))
}
