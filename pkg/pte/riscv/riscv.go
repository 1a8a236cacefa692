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

// Package riscv implements RISC-V Sv39/Sv48 page table entries.
package riscv

import (
	"fmt"

	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pte"
)

// Bits in page table entries. See the RISC-V privileged spec, "Sv39:
// Page-Based 39-bit Virtual-Memory System".
const (
	vBit = 1 << 0
	rBit = 1 << 1
	wBit = 1 << 2
	xBit = 1 << 3
	uBit = 1 << 4
	gBit = 1 << 5
	aBit = 1 << 6
	dBit = 1 << 7

	// ppnMask covers the PPN field, bits 10..53. The encoded PPN is the
	// physical address shifted right by two.
	ppnMask = (uint64(1)<<54 - 1) &^ (uint64(1)<<10 - 1)
)

// PTE is a RISC-V Sv39/Sv48 page table entry.
type PTE uint64

var _ pte.GenericPTE = (*PTE)(nil)

func encodeFlags(flags pte.MappingFlags) uint64 {
	if flags == 0 {
		return 0
	}
	bits := uint64(vBit)
	if flags.Contains(pte.Read) {
		bits |= rBit
	}
	if flags.Contains(pte.Write) {
		bits |= wBit
	}
	if flags.Contains(pte.Execute) {
		bits |= xBit
	}
	if flags.Contains(pte.User) {
		bits |= uBit
	}
	return bits
}

// Flags decodes the entry's permission bits. Sv39/Sv48 entries carry no
// cacheability attributes; Device and Uncached are not representable.
func (p *PTE) Flags() pte.MappingFlags {
	bits := uint64(*p)
	if bits&vBit == 0 {
		return 0
	}
	var flags pte.MappingFlags
	if bits&rBit != 0 {
		flags |= pte.Read
	}
	if bits&wBit != 0 {
		flags |= pte.Write
	}
	if bits&xBit != 0 {
		flags |= pte.Execute
	}
	if bits&uBit != 0 {
		flags |= pte.User
	}
	return flags
}

// Paddr returns the physical address encoded in the PPN field.
func (p *PTE) Paddr() hostarch.PhysAddr {
	return hostarch.PhysAddr((uint64(*p) & ppnMask) << 2)
}

// Bits returns the raw entry word.
func (p *PTE) Bits() uintptr {
	return uintptr(*p)
}

// IsUnused returns true iff the entry is zero.
func (p *PTE) IsUnused() bool {
	return *p == 0
}

// IsPresent returns true iff the V bit is set.
func (p *PTE) IsPresent() bool {
	return uint64(*p)&vBit != 0
}

// IsHuge returns true iff the entry is a leaf. A pointer to a next-level
// table has R=W=X=0; anything readable or executable terminates the walk.
func (p *PTE) IsHuge() bool {
	return uint64(*p)&(rBit|xBit) != 0
}

// SetPaddr replaces the PPN field, keeping the flag bits.
func (p *PTE) SetPaddr(paddr hostarch.PhysAddr) {
	*p = PTE((uint64(*p) &^ ppnMask) | ((uint64(paddr) >> 2) & ppnMask))
}

// SetFlags replaces the flag bits, keeping the PPN field. Leaves always
// carry A|D; the library does not emulate hardware-managed access bits.
func (p *PTE) SetFlags(flags pte.MappingFlags, huge bool) {
	_ = huge // leaf-ness is implied by R/W/X
	*p = PTE((uint64(*p) & ppnMask) | encodeFlags(flags) | aBit | dBit)
}

// SetPage makes the entry a leaf mapping.
func (p *PTE) SetPage(paddr hostarch.PhysAddr, flags pte.MappingFlags, huge bool) {
	_ = huge
	*p = PTE(encodeFlags(flags) | aBit | dBit | ((uint64(paddr) >> 2) & ppnMask))
}

// SetTable makes the entry point to a next-level table.
func (p *PTE) SetTable(paddr hostarch.PhysAddr) {
	*p = PTE(uint64(vBit) | ((uint64(paddr) >> 2) & ppnMask))
}

// Clear zeroes the entry.
func (p *PTE) Clear() {
	*p = 0
}

// String implements fmt.Stringer.
func (p *PTE) String() string {
	return fmt.Sprintf("riscv.PTE(%#x: %s %s)", uintptr(*p), p.Paddr(), p.Flags())
}
