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

// Package loongarch instantiates the generic walker for LoongArch64
// 4-level paging (dir3, dir2, dir1, pt; dir4 unused).
package loongarch

import (
	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pagetables"
	lapte "pagetables.dev/pagetables/pkg/pte/loongarch"
)

// Page-walk controller CSR values matching the 4-level geometry the
// walker assumes.
//
// PWCL (lower-half address space): PTBase=12, PTWidth=9, Dir1Base=21,
// Dir1Width=9, Dir2Base=30, Dir2Width=9, PTEWidth=0.
//
// PWCH (higher-half address space): Dir3Base=39, Dir3Width=9, Dir4
// disabled.
const (
	PWCLValue uint32 = 12 | (9 << 5) | (21 << 10) | (9 << 15) | (30 << 20) | (9 << 25)
	PWCHValue uint32 = 39 | (9 << 6)
)

// invalidate is installed by the embedder; see SetInvalidator.
var invalidate func(vaddr hostarch.VirtAddr, all bool)

// SetInvalidator installs the routine that executes the actual TLB
// invalidation (DBAR 0 then INVTLB op 0x05 for a single address, op
// 0x00 for all=true). Without an invalidator the flush hooks are
// no-ops.
func SetInvalidator(f func(vaddr hostarch.VirtAddr, all bool)) {
	invalidate = f
}

// PagingMetaData describes LoongArch64 4-level paging: 48-bit virtual
// and physical addresses.
type PagingMetaData struct{}

var _ pagetables.PagingMetaData = PagingMetaData{}

// Levels returns the number of levels of the tree.
func (PagingMetaData) Levels() int { return 4 }

// PAMaxBits returns the inclusive width of physical addresses.
func (PagingMetaData) PAMaxBits() int { return 48 }

// VAMaxBits returns the inclusive width of virtual addresses.
func (PagingMetaData) VAMaxBits() int { return 48 }

// PaddrIsValid returns true iff paddr is addressable.
func (m PagingMetaData) PaddrIsValid(paddr hostarch.PhysAddr) bool {
	return pagetables.DefaultPaddrIsValid(m.PAMaxBits(), paddr)
}

// VaddrIsValid implements the sign-extension check on bits 47..63.
func (m PagingMetaData) VaddrIsValid(vaddr hostarch.VirtAddr) bool {
	return pagetables.CanonicalVaddr(m.VAMaxBits(), vaddr)
}

// FlushTLBEntry invalidates the translation of one virtual address.
func (PagingMetaData) FlushTLBEntry(vaddr hostarch.VirtAddr) {
	if invalidate != nil {
		invalidate(vaddr, false)
	}
}

// FlushTLBAll invalidates all local translations.
func (PagingMetaData) FlushTLBAll() {
	if invalidate != nil {
		invalidate(0, true)
	}
}

// PageTable is the LoongArch64 4-level page table.
type PageTable = pagetables.PageTable64[PagingMetaData, lapte.PTE, *lapte.PTE]

// New returns an empty LoongArch64 page table.
func New(handler pagetables.PagingHandler) (*PageTable, error) {
	return pagetables.New64[PagingMetaData, lapte.PTE, *lapte.PTE](handler)
}
