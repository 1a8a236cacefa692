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

// Package arm instantiates the 2-level walker for ARMv7-A
// short-descriptor translation tables.
package arm

import (
	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pagetables"
	a32pte "pagetables.dev/pagetables/pkg/pte/arm"
)

// invalidate is installed by the embedder; see SetInvalidator.
var invalidate func(vaddr hostarch.VirtAddr, all bool)

// SetInvalidator installs the routine that executes the actual TLB
// invalidation (TLBIMVA for a single address, TLBIALL for all=true,
// with the trailing DSB/ISB). Without an invalidator the flush hooks
// are no-ops.
func SetInvalidator(f func(vaddr hostarch.VirtAddr, all bool)) {
	invalidate = f
}

// PagingMetaData describes ARMv7-A short-descriptor paging: 2 levels,
// the full 32-bit address space.
type PagingMetaData struct{}

var _ pagetables.PagingMetaData = PagingMetaData{}

// Levels returns the number of levels of the tree.
func (PagingMetaData) Levels() int { return 2 }

// PAMaxBits returns the inclusive width of physical addresses.
func (PagingMetaData) PAMaxBits() int { return 32 }

// VAMaxBits returns the inclusive width of virtual addresses.
func (PagingMetaData) VAMaxBits() int { return 32 }

// PaddrIsValid returns true iff paddr fits in 32 bits.
func (PagingMetaData) PaddrIsValid(paddr hostarch.PhysAddr) bool {
	return uint64(paddr) <= 0xffff_ffff
}

// VaddrIsValid returns true for every 32-bit address.
func (PagingMetaData) VaddrIsValid(vaddr hostarch.VirtAddr) bool {
	return uint64(vaddr) <= 0xffff_ffff
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

// PageTable is the ARMv7-A short-descriptor translation table.
type PageTable = pagetables.PageTable32[PagingMetaData, a32pte.PTE, *a32pte.PTE]

// New returns an empty ARMv7-A translation table. The handler must
// implement pagetables.ContiguousFrameAllocator for the 16 KiB L1.
func New(handler pagetables.PagingHandler) (*PageTable, error) {
	return pagetables.New32[PagingMetaData, a32pte.PTE, *a32pte.PTE](handler)
}
