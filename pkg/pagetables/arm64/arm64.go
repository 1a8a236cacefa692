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

// Package arm64 instantiates the generic walker for AArch64 VMSAv8-64
// stage-1, 4-level, 4 KiB granule.
package arm64

import (
	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pagetables"
	a64pte "pagetables.dev/pagetables/pkg/pte/arm64"
)

// invalidate is installed by the embedder; see SetInvalidator.
var invalidate func(vaddr hostarch.VirtAddr, all bool)

// SetInvalidator installs the routine that executes the actual TLB
// invalidation (TLBI VAAE1IS for a single address, TLBI VMALLE1 for
// all=true, with the trailing DSB/ISB). Without an invalidator the
// flush hooks are no-ops.
func SetInvalidator(f func(vaddr hostarch.VirtAddr, all bool)) {
	invalidate = f
}

// PagingMetaData describes the AArch64 stage-1 translation tables:
// 48-bit virtual addresses split between TTBR0 and TTBR1, 48-bit
// physical addresses.
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

// VaddrIsValid returns true iff vaddr lives in the TTBR0 (all top bits
// clear) or TTBR1 (all top bits set) half.
func (m PagingMetaData) VaddrIsValid(vaddr hostarch.VirtAddr) bool {
	top := uintptr(vaddr) >> m.VAMaxBits()
	return top == 0 || top == 0xffff
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

// PageTable is the AArch64 stage-1 translation table.
type PageTable = pagetables.PageTable64[PagingMetaData, a64pte.PTE, *a64pte.PTE]

// New returns an empty AArch64 translation table.
func New(handler pagetables.PagingHandler) (*PageTable, error) {
	return pagetables.New64[PagingMetaData, a64pte.PTE, *a64pte.PTE](handler)
}
