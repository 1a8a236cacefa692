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

// Package riscv instantiates the generic walker for the RISC-V Sv39
// (3-level) and Sv48 (4-level) virtual-memory systems.
package riscv

import (
	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pagetables"
	rvpte "pagetables.dev/pagetables/pkg/pte/riscv"
)

// invalidate is installed by the embedder; see SetInvalidator.
var invalidate func(vaddr hostarch.VirtAddr, all bool)

// SetInvalidator installs the routine that executes the actual TLB
// invalidation (SFENCE.VMA with or without an address operand). Without
// an invalidator the flush hooks are no-ops.
func SetInvalidator(f func(vaddr hostarch.VirtAddr, all bool)) {
	invalidate = f
}

func flushEntry(vaddr hostarch.VirtAddr) {
	if invalidate != nil {
		invalidate(vaddr, false)
	}
}

func flushAll() {
	if invalidate != nil {
		invalidate(0, true)
	}
}

// Sv39MetaData describes Sv39: 39-bit sign-extended virtual addresses,
// 56-bit physical addresses, 3 levels.
type Sv39MetaData struct{}

var _ pagetables.PagingMetaData = Sv39MetaData{}

// Levels returns the number of levels of the tree.
func (Sv39MetaData) Levels() int { return 3 }

// PAMaxBits returns the inclusive width of physical addresses.
func (Sv39MetaData) PAMaxBits() int { return 56 }

// VAMaxBits returns the inclusive width of virtual addresses.
func (Sv39MetaData) VAMaxBits() int { return 39 }

// PaddrIsValid returns true iff paddr is addressable.
func (m Sv39MetaData) PaddrIsValid(paddr hostarch.PhysAddr) bool {
	return pagetables.DefaultPaddrIsValid(m.PAMaxBits(), paddr)
}

// VaddrIsValid implements the Sv39 sign-extension check on bits 38..63.
func (m Sv39MetaData) VaddrIsValid(vaddr hostarch.VirtAddr) bool {
	return pagetables.CanonicalVaddr(m.VAMaxBits(), vaddr)
}

// FlushTLBEntry invalidates the translation of one virtual address.
func (Sv39MetaData) FlushTLBEntry(vaddr hostarch.VirtAddr) { flushEntry(vaddr) }

// FlushTLBAll invalidates all local translations.
func (Sv39MetaData) FlushTLBAll() { flushAll() }

// Sv48MetaData describes Sv48: 48-bit sign-extended virtual addresses,
// 56-bit physical addresses, 4 levels.
type Sv48MetaData struct{}

var _ pagetables.PagingMetaData = Sv48MetaData{}

// Levels returns the number of levels of the tree.
func (Sv48MetaData) Levels() int { return 4 }

// PAMaxBits returns the inclusive width of physical addresses.
func (Sv48MetaData) PAMaxBits() int { return 56 }

// VAMaxBits returns the inclusive width of virtual addresses.
func (Sv48MetaData) VAMaxBits() int { return 48 }

// PaddrIsValid returns true iff paddr is addressable.
func (m Sv48MetaData) PaddrIsValid(paddr hostarch.PhysAddr) bool {
	return pagetables.DefaultPaddrIsValid(m.PAMaxBits(), paddr)
}

// VaddrIsValid implements the Sv48 sign-extension check on bits 47..63.
func (m Sv48MetaData) VaddrIsValid(vaddr hostarch.VirtAddr) bool {
	return pagetables.CanonicalVaddr(m.VAMaxBits(), vaddr)
}

// FlushTLBEntry invalidates the translation of one virtual address.
func (Sv48MetaData) FlushTLBEntry(vaddr hostarch.VirtAddr) { flushEntry(vaddr) }

// FlushTLBAll invalidates all local translations.
func (Sv48MetaData) FlushTLBAll() { flushAll() }

// Sv39PageTable is the 3-level Sv39 page table.
type Sv39PageTable = pagetables.PageTable64[Sv39MetaData, rvpte.PTE, *rvpte.PTE]

// Sv48PageTable is the 4-level Sv48 page table.
type Sv48PageTable = pagetables.PageTable64[Sv48MetaData, rvpte.PTE, *rvpte.PTE]

// NewSv39 returns an empty Sv39 page table.
func NewSv39(handler pagetables.PagingHandler) (*Sv39PageTable, error) {
	return pagetables.New64[Sv39MetaData, rvpte.PTE, *rvpte.PTE](handler)
}

// NewSv48 returns an empty Sv48 page table.
func NewSv48(handler pagetables.PagingHandler) (*Sv48PageTable, error) {
	return pagetables.New64[Sv48MetaData, rvpte.PTE, *rvpte.PTE](handler)
}
