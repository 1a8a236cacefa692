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

// Package pagetables provides a generic implementation of hierarchical
// hardware page tables.
//
// The walker is parameterized three ways: a PagingMetaData describing the
// radix tree of one architecture (level count, address widths, TLB
// maintenance), a page-table entry encoding satisfying pte.GenericPTE,
// and a PagingHandler through which the embedding kernel supplies
// physical frames and a direct-map window. The per-architecture packages
// under this one bind the three together.
//
// A table provides no internal synchronization. Callers serialize
// mutations per address space; concurrent readers are safe only while no
// mutation is in flight.
package pagetables

import (
	"errors"

	"github.com/sirupsen/logrus"

	"pagetables.dev/pagetables/pkg/hostarch"
)

// Logger receives the trace and error output of the region operations.
// Embedders running hosted may swap in their own instance.
var Logger = logrus.StandardLogger()

// Page table operation errors.
var (
	// ErrNoMemory means a physical frame could not be allocated.
	ErrNoMemory = errors.New("out of physical memory")
	// ErrNotAligned means an address was not aligned to the page size,
	// or fell outside the architecture's valid range.
	ErrNotAligned = errors.New("address not aligned to page size")
	// ErrNotMapped means the mapping is not present.
	ErrNotMapped = errors.New("mapping not present")
	// ErrAlreadyMapped means the mapping is already present.
	ErrAlreadyMapped = errors.New("mapping already present")
	// ErrMappedToHugePage means the walk hit a huge leaf above the
	// requested level; the caller must unmap it first.
	ErrMappedToHugePage = errors.New("mapped to a huge page")
)

// PageSize is a leaf mapping size. The numeric value of each size equals
// its byte count.
type PageSize uintptr

// The page sizes supported by the hardware page tables.
const (
	// Size4K is the minimal granule.
	Size4K PageSize = 0x1000
	// Size1M is an ARMv7-A section.
	Size1M PageSize = 0x10_0000
	// Size2M is a huge page one level above the 4 KiB leaves of the
	// 4 KiB granule 64-bit trees.
	Size2M PageSize = 0x20_0000
	// Size1G is a huge page two levels above the 4 KiB leaves of the
	// 4 KiB granule 64-bit trees.
	Size1G PageSize = 0x4000_0000
)

// IsHuge returns true iff the size is larger than the minimal granule.
func (s PageSize) IsHuge() bool {
	return s > Size4K
}

// IsAligned returns true iff addr is a multiple of the page size.
func (s PageSize) IsAligned(addr uintptr) bool {
	return hostarch.IsAligned(addr, uintptr(s))
}

// AlignOffset returns the offset of addr within its page.
func (s PageSize) AlignOffset(addr uintptr) uintptr {
	return addr & (uintptr(s) - 1)
}

// String implements fmt.Stringer.
func (s PageSize) String() string {
	switch s {
	case Size4K:
		return "4K"
	case Size1M:
		return "1M"
	case Size2M:
		return "2M"
	case Size1G:
		return "1G"
	}
	return "invalid"
}

// PagingMetaData describes the hardware page tables of one architecture.
// Implementations are zero-size structs so that walker instantiations
// carry no per-table state for them.
type PagingMetaData interface {
	// Levels returns the number of levels of the tree.
	Levels() int
	// PAMaxBits returns the inclusive width of physical addresses.
	PAMaxBits() int
	// VAMaxBits returns the inclusive width of virtual addresses.
	VAMaxBits() int
	// PaddrIsValid returns true iff paddr is addressable.
	PaddrIsValid(paddr hostarch.PhysAddr) bool
	// VaddrIsValid returns true iff vaddr can be translated by this
	// tree (e.g. the canonical-form check on x86_64).
	VaddrIsValid(vaddr hostarch.VirtAddr) bool
	// FlushTLBEntry invalidates the translation of one virtual address
	// on the local core.
	FlushTLBEntry(vaddr hostarch.VirtAddr)
	// FlushTLBAll invalidates all local translations.
	FlushTLBAll()
}

// PagingHandler is implemented by the embedding kernel. It supplies the
// frames backing intermediate tables and the direct-map window through
// which the walker reads and writes them.
type PagingHandler interface {
	// AllocFrame returns a 4 KiB-aligned, zeroed frame, or false when
	// no memory is available.
	AllocFrame() (hostarch.PhysAddr, bool)
	// DeallocFrame releases a frame returned by AllocFrame. It cannot
	// fail.
	DeallocFrame(paddr hostarch.PhysAddr)
	// PhysToVirt returns the direct-map address of paddr.
	PhysToVirt(paddr hostarch.PhysAddr) hostarch.VirtAddr
}

// ContiguousFrameAllocator is optionally implemented by a PagingHandler
// that can serve multi-frame, over-aligned allocations. The ARMv7-A L1
// table (16 KiB, 16 KiB-aligned) needs it; handlers without it limit
// PageTable32 to ErrNoMemory at construction.
type ContiguousFrameAllocator interface {
	// AllocFrames returns pages contiguous frames whose base is
	// aligned to align bytes, or false when no memory is available.
	AllocFrames(pages int, align uintptr) (hostarch.PhysAddr, bool)
	// DeallocFrames releases a block returned by AllocFrames.
	DeallocFrames(paddr hostarch.PhysAddr, pages int)
}

// DefaultPaddrIsValid is the common PaddrIsValid shape: paddr fits in
// bits.
func DefaultPaddrIsValid(bits int, paddr hostarch.PhysAddr) bool {
	return uintptr(paddr) <= (uintptr(1)<<bits)-1
}

// CanonicalVaddr is the common VaddrIsValid shape: the top bits above
// bits-1 are a sign extension.
func CanonicalVaddr(bits int, vaddr hostarch.VirtAddr) bool {
	topMask := ^uintptr(0) << (bits - 1)
	top := uintptr(vaddr) & topMask
	return top == 0 || top == topMask
}
