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

// Package arm implements ARMv7-A short-descriptor translation table
// entries: L1 sections (1 MiB), L1 page-table pointers, and L2 small
// pages (4 KiB).
package arm

import (
	"fmt"

	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pte"
)

// Descriptor bits. See ARMv7-A/R ARM, B3.5 "Short-descriptor translation
// table format".
const (
	// Descriptor type, bits 0..1: 0b00 fault, 0b01 page table (L1),
	// 0b10 section (L1) or small page (L2).
	typeMask      = 0x3
	typeTable     = 0x1
	typeSectionOr = 0x2

	bufferable = 1 << 2
	cacheable  = 1 << 3
	execNever  = 1 << 4

	// impSection tags an L1 section in the implementation-defined bit,
	// disambiguating it from an L2 small page (both use type 0b10).
	impSection = 1 << 9

	ap0       = 1 << 10
	ap1       = 1 << 11
	tex0      = 1 << 12
	ap2       = 1 << 15
	shareable = 1 << 16
	notGlobal = 1 << 17

	// sectionAddrMask covers a section's base, bits 20..31.
	sectionAddrMask = uint32(0xfff0_0000)
	// tableAddrMask covers an L2 table pointer, bits 10..31.
	tableAddrMask = uint32(0xffff_fc00)
	// pageAddrMask covers a small page, bits 12..31.
	pageAddrMask = uint32(0xffff_f000)
)

// PTE is an ARMv7-A short descriptor. The same 32-bit word serves L1 and
// L2 tables.
type PTE uint32

var _ pte.GenericPTE = (*PTE)(nil)

func encodeFlags(flags pte.MappingFlags) uint32 {
	if flags == 0 {
		return 0
	}
	var bits uint32
	switch {
	case flags.Contains(pte.Device):
		bits |= bufferable
	case flags.Contains(pte.Uncached):
		bits |= tex0
	default:
		bits |= tex0 | cacheable | bufferable | shareable
	}
	hasWrite := flags.Contains(pte.Write)
	hasUser := flags.Contains(pte.User)
	switch {
	case hasUser && hasWrite:
		bits |= ap0 | ap1
	case hasUser:
		bits |= ap2 | ap0 | ap1
	case hasWrite:
		bits |= ap0
	default:
		bits |= ap2 | ap0
	}
	if !flags.Contains(pte.Execute) {
		bits |= execNever
	}
	return bits
}

// Flags decodes the descriptor's permission bits.
func (p *PTE) Flags() pte.MappingFlags {
	bits := uint32(*p)
	if bits&typeMask == 0 || bits&typeMask == typeTable {
		return 0
	}
	flags := pte.Read
	ap := (bits>>10)&0x3 | (bits>>15&0x1)<<2
	if ap == 0x1 || ap == 0x3 {
		flags |= pte.Write
	}
	if ap&0x2 != 0 {
		flags |= pte.User
	}
	if bits&execNever == 0 {
		flags |= pte.Execute
	}
	tex := (bits >> 12) & 0x7
	c := bits&cacheable != 0
	b := bits&bufferable != 0
	if tex == 0 && !c && b {
		flags |= pte.Device
	} else if tex == 1 && !c && !b {
		flags |= pte.Uncached
	}
	return flags
}

// isSection distinguishes an L1 section from an L2 small page. Both use
// descriptor type 0b10; the implementation-defined bit carries the
// difference, since the same word type backs both table levels.
func (p *PTE) isSection() bool {
	return uint32(*p)&(typeMask|impSection) == typeSectionOr|impSection
}

// Paddr returns the physical address encoded in the descriptor.
func (p *PTE) Paddr() hostarch.PhysAddr {
	bits := uint32(*p)
	var addr uint32
	switch bits & typeMask {
	case typeTable:
		addr = bits & tableAddrMask
	case typeSectionOr:
		if p.isSection() {
			addr = bits & sectionAddrMask
		} else {
			addr = bits & pageAddrMask
		}
	}
	return hostarch.PhysAddr(addr)
}

// Bits returns the raw descriptor word.
func (p *PTE) Bits() uintptr {
	return uintptr(*p)
}

// IsUnused returns true iff the descriptor is zero.
func (p *PTE) IsUnused() bool {
	return *p == 0
}

// IsPresent returns true iff the descriptor type is not fault.
func (p *PTE) IsPresent() bool {
	return uint32(*p)&typeMask != 0
}

// IsHuge returns true iff this is a 1 MiB section.
func (p *PTE) IsHuge() bool {
	return p.isSection()
}

// SetPaddr replaces the physical address, keeping the attribute bits.
func (p *PTE) SetPaddr(paddr hostarch.PhysAddr) {
	bits := uint32(*p)
	switch bits & typeMask {
	case typeTable:
		*p = PTE((bits &^ tableAddrMask) | (uint32(paddr) & tableAddrMask))
	case typeSectionOr:
		if p.isSection() {
			*p = PTE((bits &^ sectionAddrMask) | (uint32(paddr) & sectionAddrMask))
		} else {
			*p = PTE((bits &^ pageAddrMask) | (uint32(paddr) & pageAddrMask))
		}
	}
}

// SetFlags replaces the attribute bits, keeping the physical address.
func (p *PTE) SetFlags(flags pte.MappingFlags, huge bool) {
	p.SetPage(p.Paddr(), flags, huge)
}

// SetPage makes the descriptor a section or small-page mapping.
func (p *PTE) SetPage(paddr hostarch.PhysAddr, flags pte.MappingFlags, huge bool) {
	bits := encodeFlags(flags)
	if bits == 0 {
		*p = 0
		return
	}
	if huge {
		*p = PTE(bits | typeSectionOr | impSection | (uint32(paddr) & sectionAddrMask))
	} else {
		*p = PTE(bits | typeSectionOr | (uint32(paddr) & pageAddrMask))
	}
}

// SetTable makes the descriptor an L1 pointer to an L2 table.
func (p *PTE) SetTable(paddr hostarch.PhysAddr) {
	*p = PTE(typeTable | (uint32(paddr) & tableAddrMask))
}

// Clear zeroes the descriptor.
func (p *PTE) Clear() {
	*p = 0
}

// String implements fmt.Stringer.
func (p *PTE) String() string {
	kind := "fault"
	switch uint32(*p) & typeMask {
	case typeTable:
		kind = "table"
	case typeSectionOr:
		if p.isSection() {
			kind = "section"
		} else {
			kind = "page"
		}
	}
	return fmt.Sprintf("arm.PTE(%#010x: %s %s %s)", uint32(*p), kind, p.Paddr(), p.Flags())
}
