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

// Package x86 implements x86_64 4-level paging entries.
package x86

import (
	"fmt"

	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pte"
)

// Bits in page table entries. See Intel SDM Vol. 3A Sec. 4.5.
const (
	present      = 0x001
	writable     = 0x002
	user         = 0x004
	writeThrough = 0x008
	cacheDisable = 0x010
	accessed     = 0x020
	dirty        = 0x040
	super        = 0x080
	global       = 0x100

	executeDisable = uint64(1) << 63

	// addrMask covers the physical address, bits 12..51.
	addrMask = uint64(0x000f_ffff_ffff_f000)
)

// PTE is an x86_64 page table entry.
type PTE uint64

var _ pte.GenericPTE = (*PTE)(nil)

func encodeFlags(flags pte.MappingFlags) uint64 {
	if flags == 0 {
		return 0
	}
	bits := uint64(present)
	if flags.Contains(pte.Write) {
		bits |= writable
	}
	if !flags.Contains(pte.Execute) {
		bits |= executeDisable
	}
	if flags.Contains(pte.User) {
		bits |= user
	}
	if flags.Contains(pte.Device) || flags.Contains(pte.Uncached) {
		bits |= cacheDisable | writeThrough
	}
	return bits
}

// Flags decodes the entry's permission bits.
func (p *PTE) Flags() pte.MappingFlags {
	bits := uint64(*p)
	if bits&present == 0 {
		return 0
	}
	flags := pte.Read
	if bits&writable != 0 {
		flags |= pte.Write
	}
	if bits&executeDisable == 0 {
		flags |= pte.Execute
	}
	if bits&user != 0 {
		flags |= pte.User
	}
	if bits&cacheDisable != 0 {
		flags |= pte.Uncached
	}
	return flags
}

// Paddr returns the physical address encoded in the entry.
func (p *PTE) Paddr() hostarch.PhysAddr {
	return hostarch.PhysAddr(uint64(*p) & addrMask)
}

// Bits returns the raw entry word.
func (p *PTE) Bits() uintptr {
	return uintptr(*p)
}

// IsUnused returns true iff the entry is zero.
func (p *PTE) IsUnused() bool {
	return *p == 0
}

// IsPresent returns true iff the P bit is set.
func (p *PTE) IsPresent() bool {
	return uint64(*p)&present != 0
}

// IsHuge returns true iff the PS bit is set.
func (p *PTE) IsHuge() bool {
	return uint64(*p)&super != 0
}

// SetPaddr replaces the physical address, keeping the flag bits.
func (p *PTE) SetPaddr(paddr hostarch.PhysAddr) {
	*p = PTE((uint64(*p) &^ addrMask) | (uint64(paddr) & addrMask))
}

// SetFlags replaces the flag bits, keeping the physical address.
func (p *PTE) SetFlags(flags pte.MappingFlags, huge bool) {
	bits := encodeFlags(flags)
	if huge {
		bits |= super
	}
	*p = PTE((uint64(*p) & addrMask) | bits)
}

// SetPage makes the entry a leaf mapping.
func (p *PTE) SetPage(paddr hostarch.PhysAddr, flags pte.MappingFlags, huge bool) {
	bits := encodeFlags(flags)
	if huge {
		bits |= super
	}
	*p = PTE(bits | (uint64(paddr) & addrMask))
}

// SetTable makes the entry point to a child table. Table entries are
// maximally permissive; the leaf decides.
func (p *PTE) SetTable(paddr hostarch.PhysAddr) {
	*p = PTE(uint64(present|writable|user) | (uint64(paddr) & addrMask))
}

// Clear zeroes the entry.
func (p *PTE) Clear() {
	*p = 0
}

// String implements fmt.Stringer.
func (p *PTE) String() string {
	return fmt.Sprintf("x86.PTE(%#x: %s %s)", uintptr(*p), p.Paddr(), p.Flags())
}
