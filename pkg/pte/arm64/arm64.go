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

// Package arm64 implements AArch64 VMSAv8-64 stage-1 descriptors with the
// 4 KiB granule.
//
// MemAttr indices assume MAIR_EL1 is programmed with attribute 0 =
// Device-nGnRE, attribute 1 = Normal write-back, attribute 2 = Normal
// non-cacheable.
package arm64

import (
	"fmt"

	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pte"
)

// Descriptor bits. See Armv8-A ARM, D8.3 "Translation table descriptor
// formats".
const (
	valid = 1 << 0
	// nonBlock distinguishes a table descriptor (levels 0..2) or page
	// descriptor (level 3) from a block descriptor.
	nonBlock = 1 << 1

	attrIndxShift = 2
	attrIndxMask  = uint64(0x7) << attrIndxShift

	nonSecure = 1 << 5
	apEL0     = 1 << 6 // AP[1]: accessible from EL0
	apRO      = 1 << 7 // AP[2]: read-only
	shInner   = uint64(0x3) << 8
	af        = 1 << 10
	notGlobal = 1 << 11

	pxn = uint64(1) << 53
	uxn = uint64(1) << 54

	// addrMask covers the output address, bits 12..47.
	addrMask = uint64(0x0000_ffff_ffff_f000)
)

// MAIR_EL1 attribute indices the encodings below rely on.
const (
	attrIndexDevice   = 0
	attrIndexNormal   = 1
	attrIndexNormalNC = 2
)

// PTE is an AArch64 stage-1 translation table descriptor.
type PTE uint64

var _ pte.GenericPTE = (*PTE)(nil)

func attrIndex(i uint64) uint64 {
	return (i << attrIndxShift) & attrIndxMask
}

func encodeFlags(flags pte.MappingFlags) uint64 {
	if flags == 0 {
		return 0
	}
	bits := uint64(valid | af)
	switch {
	case flags.Contains(pte.Device):
		bits |= attrIndex(attrIndexDevice)
	case flags.Contains(pte.Uncached):
		bits |= attrIndex(attrIndexNormalNC) | shInner
	default:
		bits |= attrIndex(attrIndexNormal) | shInner
	}
	if !flags.Contains(pte.Write) {
		bits |= apRO
	}
	if flags.Contains(pte.User) {
		bits |= apEL0 | notGlobal | pxn
		if !flags.Contains(pte.Execute) {
			bits |= uxn
		}
	} else {
		bits |= uxn
		if !flags.Contains(pte.Execute) {
			bits |= pxn
		}
	}
	return bits
}

// Flags decodes the descriptor's permission bits.
func (p *PTE) Flags() pte.MappingFlags {
	bits := uint64(*p)
	if bits&valid == 0 {
		return 0
	}
	flags := pte.Read
	if bits&apRO == 0 {
		flags |= pte.Write
	}
	if bits&apEL0 != 0 {
		flags |= pte.User
		if bits&uxn == 0 {
			flags |= pte.Execute
		}
	} else if bits&pxn == 0 {
		flags |= pte.Execute
	}
	switch (bits & attrIndxMask) >> attrIndxShift {
	case attrIndexDevice:
		flags |= pte.Device
	case attrIndexNormalNC:
		flags |= pte.Uncached
	}
	return flags
}

// Paddr returns the output address encoded in the descriptor.
func (p *PTE) Paddr() hostarch.PhysAddr {
	return hostarch.PhysAddr(uint64(*p) & addrMask)
}

// Bits returns the raw descriptor word.
func (p *PTE) Bits() uintptr {
	return uintptr(*p)
}

// IsUnused returns true iff the descriptor is zero.
func (p *PTE) IsUnused() bool {
	return *p == 0
}

// IsPresent returns true iff the descriptor is valid.
func (p *PTE) IsPresent() bool {
	return uint64(*p)&valid != 0
}

// IsHuge returns true iff this is a block descriptor.
func (p *PTE) IsHuge() bool {
	return uint64(*p)&(valid|nonBlock) == valid
}

// SetPaddr replaces the output address, keeping the attribute bits.
func (p *PTE) SetPaddr(paddr hostarch.PhysAddr) {
	*p = PTE((uint64(*p) &^ addrMask) | (uint64(paddr) & addrMask))
}

// SetFlags replaces the attribute bits, keeping the output address.
func (p *PTE) SetFlags(flags pte.MappingFlags, huge bool) {
	bits := encodeFlags(flags)
	if !huge {
		bits |= nonBlock
	}
	*p = PTE((uint64(*p) & addrMask) | bits)
}

// SetPage makes the descriptor a page or block mapping.
func (p *PTE) SetPage(paddr hostarch.PhysAddr, flags pte.MappingFlags, huge bool) {
	bits := encodeFlags(flags)
	if !huge {
		bits |= nonBlock
	}
	*p = PTE(bits | (uint64(paddr) & addrMask))
}

// SetTable makes the descriptor point to a next-level table.
func (p *PTE) SetTable(paddr hostarch.PhysAddr) {
	*p = PTE(uint64(valid|nonBlock) | (uint64(paddr) & addrMask))
}

// Clear zeroes the descriptor.
func (p *PTE) Clear() {
	*p = 0
}

// String implements fmt.Stringer.
func (p *PTE) String() string {
	return fmt.Sprintf("arm64.PTE(%#x: %s %s)", uintptr(*p), p.Paddr(), p.Flags())
}
