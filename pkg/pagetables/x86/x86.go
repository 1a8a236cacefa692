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

// Package x86 instantiates the generic walker for x86_64 4-level paging.
package x86

import (
	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pagetables"
	x86pte "pagetables.dev/pagetables/pkg/pte/x86"
)

// invalidate is installed by the embedder; see SetInvalidator.
var invalidate func(vaddr hostarch.VirtAddr, all bool)

// SetInvalidator installs the routine that executes the actual TLB
// invalidation (INVLPG, or a CR3 reload for all=true). The library never
// issues the instructions itself; without an invalidator the flush hooks
// are no-ops, which is only correct on hosts that do not run on these
// tables.
func SetInvalidator(f func(vaddr hostarch.VirtAddr, all bool)) {
	invalidate = f
}

// PagingMetaData describes x86_64 4-level paging: 48-bit canonical
// virtual addresses, 52-bit physical addresses.
type PagingMetaData struct{}

var _ pagetables.PagingMetaData = PagingMetaData{}

// Levels returns the number of levels of the tree.
func (PagingMetaData) Levels() int { return 4 }

// PAMaxBits returns the inclusive width of physical addresses.
func (PagingMetaData) PAMaxBits() int { return 52 }

// VAMaxBits returns the inclusive width of virtual addresses.
func (PagingMetaData) VAMaxBits() int { return 48 }

// PaddrIsValid returns true iff paddr is addressable.
func (m PagingMetaData) PaddrIsValid(paddr hostarch.PhysAddr) bool {
	return pagetables.DefaultPaddrIsValid(m.PAMaxBits(), paddr)
}

// VaddrIsValid implements the canonical-form check: bits 47..63 must be
// a sign extension of bit 47.
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

// PageTable is the x86_64 4-level page table.
type PageTable = pagetables.PageTable64[PagingMetaData, x86pte.PTE, *x86pte.PTE]

// New returns an empty x86_64 page table.
func New(handler pagetables.PagingHandler) (*PageTable, error) {
	return pagetables.New64[PagingMetaData, x86pte.PTE, *x86pte.PTE](handler)
}
