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

// Package loongarch implements LoongArch64 page table entries in the
// TLB-refill format.
package loongarch

import (
	"fmt"

	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pte"
)

// Bits in page table entries. See the LoongArch reference manual,
// "TLB Refill Exception Entry Low Order Bits".
const (
	valid = 1 << 0
	dirty = 1 << 1
	// plv is the privilege level field, bits 2..3. PLV3 grants user
	// access.
	plvLow  = 1 << 2
	plvHigh = 1 << 3
	// mat is the memory access type, bits 4..5: 0 strongly-ordered
	// uncached, 1 coherent cached, 2 weakly-ordered uncached.
	matLow  = 1 << 4
	matHigh = 1 << 5
	// gh doubles as the global bit of the refill format and the huge
	// marker of directory-resident entries.
	gh       = 1 << 6
	physical = 1 << 7
	writable = 1 << 8
	global   = 1 << 12

	notReadable   = uint64(1) << 61
	notExecutable = uint64(1) << 62
	rplv          = uint64(1) << 63

	// addrMask covers the physical address, bits 12..47.
	addrMask = uint64(0x0000_ffff_ffff_f000)
)

// PTE is a LoongArch64 page table entry.
type PTE uint64

var _ pte.GenericPTE = (*PTE)(nil)

func encodeFlags(flags pte.MappingFlags) uint64 {
	if flags == 0 {
		return 0
	}
	bits := uint64(valid | physical)
	if !flags.Contains(pte.Read) {
		bits |= notReadable
	}
	if flags.Contains(pte.Write) {
		bits |= writable | dirty
	}
	if !flags.Contains(pte.Execute) {
		bits |= notExecutable
	}
	if flags.Contains(pte.User) {
		bits |= plvHigh | plvLow
	}
	if !flags.Contains(pte.Device) {
		if flags.Contains(pte.Uncached) {
			bits |= matHigh
		} else {
			bits |= matLow
		}
	}
	return bits
}

// Flags decodes the entry's permission bits.
func (p *PTE) Flags() pte.MappingFlags {
	bits := uint64(*p)
	if bits&valid == 0 {
		return 0
	}
	var flags pte.MappingFlags
	if bits&notReadable == 0 {
		flags |= pte.Read
	}
	if bits&writable != 0 {
		flags |= pte.Write
	}
	if bits&notExecutable == 0 {
		flags |= pte.Execute
	}
	if bits&(plvLow|plvHigh) == plvLow|plvHigh {
		flags |= pte.User
	}
	if bits&matLow == 0 {
		if bits&matHigh != 0 {
			flags |= pte.Uncached
		} else {
			flags |= pte.Device
		}
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
	return uint64(*p)&physical != 0
}

// IsHuge returns true iff the huge marker is set.
func (p *PTE) IsHuge() bool {
	return uint64(*p)&gh != 0
}

// SetPaddr replaces the physical address, keeping the flag bits.
func (p *PTE) SetPaddr(paddr hostarch.PhysAddr) {
	*p = PTE((uint64(*p) &^ addrMask) | (uint64(paddr) & addrMask))
}

// SetFlags replaces the flag bits, keeping the physical address.
func (p *PTE) SetFlags(flags pte.MappingFlags, huge bool) {
	bits := encodeFlags(flags)
	if huge {
		bits |= gh
	}
	*p = PTE((uint64(*p) & addrMask) | bits)
}

// SetPage makes the entry a leaf mapping.
func (p *PTE) SetPage(paddr hostarch.PhysAddr, flags pte.MappingFlags, huge bool) {
	bits := encodeFlags(flags)
	if huge {
		bits |= gh
	}
	*p = PTE(bits | (uint64(paddr) & addrMask))
}

// SetTable makes the entry point to a child table. Directory entries on
// LoongArch are bare physical addresses.
func (p *PTE) SetTable(paddr hostarch.PhysAddr) {
	*p = PTE(uint64(paddr) & addrMask)
}

// Clear zeroes the entry.
func (p *PTE) Clear() {
	*p = 0
}

// String implements fmt.Stringer.
func (p *PTE) String() string {
	return fmt.Sprintf("loongarch.PTE(%#x: %s %s)", uintptr(*p), p.Paddr(), p.Flags())
}
