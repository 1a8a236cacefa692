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

package pagetables

import (
	"fmt"
	"unsafe"

	"pagetables.dev/pagetables/pkg/bitmap"
	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pte"
)

// ARMv7-A short-descriptor geometry: the L1 table has 4096 entries of
// 4 bytes (16 KiB, 16 KiB-aligned), each covering 1 MiB; an L2 table has
// 256 entries covering 4 KiB each and lives in its own frame.
const (
	l1Entries    = 4096
	l2Entries    = 256
	l1FramePages = 4
	l1Align      = 16384

	sectionShift = 20
)

// l1Index returns the first-level index of vaddr, bits 20..31.
func l1Index(vaddr uintptr) int {
	return int((vaddr >> sectionShift) & (l1Entries - 1))
}

// l2Index returns the second-level index of vaddr, bits 12..19.
func l2Index(vaddr uintptr) int {
	return int((vaddr >> hostarch.PageShift) & (l2Entries - 1))
}

// PageTable32 is a 2-level short-descriptor translation table (ARMv7-A):
// 1 MiB sections at the first level, 4 KiB small pages at the second.
//
// Mutations go through a Cursor, which batches the TLB maintenance the
// 64-bit tables hand back as tokens.
type PageTable32[M PagingMetaData, E any, P pte.Entry[E]] struct {
	handler   PagingHandler
	calloc    ContiguousFrameAllocator
	rootPaddr hostarch.PhysAddr

	// borrowed marks L1 entries installed by CopyFrom.
	borrowed bitmap.Bitmap
}

// New32 allocates and zeroes the 16 KiB first-level table. The handler
// must implement ContiguousFrameAllocator; ErrNoMemory is returned
// otherwise.
func New32[M PagingMetaData, E any, P pte.Entry[E]](handler PagingHandler) (*PageTable32[M, E, P], error) {
	calloc, ok := handler.(ContiguousFrameAllocator)
	if !ok {
		return nil, ErrNoMemory
	}
	root, ok := calloc.AllocFrames(l1FramePages, l1Align)
	if !ok {
		return nil, ErrNoMemory
	}
	p := &PageTable32[M, E, P]{
		handler:   handler,
		calloc:    calloc,
		rootPaddr: root,
		borrowed:  bitmap.New(l1Entries),
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(handler.PhysToVirt(root)))), l1FramePages*hostarch.PageSize)
	clear(b)
	return p, nil
}

// RootPaddr returns the physical address of the first-level table, as
// TTBR0 expects it.
func (p *PageTable32[M, E, P]) RootPaddr() hostarch.PhysAddr {
	return p.rootPaddr
}

// Query returns the physical address vaddr translates to, along with the
// mapping's flags and size.
func (p *PageTable32[M, E, P]) Query(vaddr hostarch.VirtAddr) (hostarch.PhysAddr, pte.MappingFlags, PageSize, error) {
	entry, size, err := p.entryOf(vaddr)
	if err != nil {
		return 0, 0, 0, err
	}
	if entry.IsUnused() {
		return 0, 0, 0, ErrNotMapped
	}
	paddr := entry.Paddr().Add(size.AlignOffset(uintptr(vaddr)))
	return paddr, entry.Flags(), size, nil
}

// Walk visits the present entries of both levels in depth-first order.
// pre runs before a subtree, post after; either may be nil. At most
// limit present entries are visited per table.
func (p *PageTable32[M, E, P]) Walk(limit int, pre, post WalkFunc[E, P]) {
	p.walkRecursive(p.tableOf(p.rootPaddr, l1Entries), 0, 0, limit, pre, post)
}

// Cursor returns a mutation cursor. Close it to apply the batched TLB
// maintenance.
func (p *PageTable32[M, E, P]) Cursor() *Cursor[M, E, P] {
	return &Cursor[M, E, P]{pt: p}
}

// Release returns every owned second-level table and the first-level
// table to the handler. Borrowed L1 entries installed by CopyFrom are
// skipped. The table must not be used afterwards.
func (p *PageTable32[M, E, P]) Release() {
	table := p.tableOf(p.rootPaddr, l1Entries)
	for i := range table {
		if p.borrowed.Contains(uint32(i)) {
			continue
		}
		entry := P(&table[i])
		if !entry.IsUnused() && !entry.IsHuge() {
			p.handler.DeallocFrame(entry.Paddr())
		}
	}
	p.calloc.DeallocFrames(p.rootPaddr, l1FramePages)
	p.rootPaddr = 0
}

func (p *PageTable32[M, E, P]) tableOf(paddr hostarch.PhysAddr, n int) []E {
	return unsafe.Slice((*E)(unsafe.Pointer(uintptr(p.handler.PhysToVirt(paddr)))), n)
}

func (p *PageTable32[M, E, P]) entryOf(vaddr hostarch.VirtAddr) (P, PageSize, error) {
	va := uintptr(vaddr)
	table := p.tableOf(p.rootPaddr, l1Entries)
	entry := P(&table[l1Index(va)])
	if entry.IsUnused() {
		var zero P
		return zero, 0, ErrNotMapped
	}
	if entry.IsHuge() {
		return entry, Size1M, nil
	}
	l2 := p.tableOf(entry.Paddr(), l2Entries)
	return P(&l2[l2Index(va)]), Size4K, nil
}

func (p *PageTable32[M, E, P]) entryOrCreate(vaddr hostarch.VirtAddr, size PageSize) (P, error) {
	va := uintptr(vaddr)
	table := p.tableOf(p.rootPaddr, l1Entries)
	entry := P(&table[l1Index(va)])
	if size == Size1M {
		return entry, nil
	}
	if entry.IsUnused() {
		paddr, ok := p.handler.AllocFrame()
		if !ok {
			return nil, ErrNoMemory
		}
		b := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p.handler.PhysToVirt(paddr)))), hostarch.PageSize)
		clear(b)
		entry.SetTable(paddr)
	} else if entry.IsHuge() {
		return nil, ErrAlreadyMapped
	}
	l2 := p.tableOf(entry.Paddr(), l2Entries)
	return P(&l2[l2Index(va)]), nil
}

func (p *PageTable32[M, E, P]) walkRecursive(table []E, level int, start uintptr, limit int, pre, post WalkFunc[E, P]) {
	n := 0
	for i := range table {
		entry := P(&table[i])
		if entry.IsUnused() {
			continue
		}
		shift := sectionShift
		if level == 1 {
			shift = hostarch.PageShift
		}
		vaddr := hostarch.VirtAddr(start + uintptr(i)<<shift)
		if pre != nil {
			pre(level, i, vaddr, entry)
		}
		if level == 0 && !entry.IsHuge() {
			p.walkRecursive(p.tableOf(entry.Paddr(), l2Entries), 1, uintptr(vaddr), limit, pre, post)
		}
		if post != nil {
			post(level, i, vaddr, entry)
		}
		n++
		if n >= limit {
			break
		}
	}
}

// Cursor mutates a PageTable32 and accumulates the TLB maintenance the
// mutations require. Close flushes it; an abandoned cursor leaves stale
// translations live.
type Cursor[M PagingMetaData, E any, P pte.Entry[E]] struct {
	pt      *PageTable32[M, E, P]
	flusher tlbFlusher[M]
}

// Map installs a mapping of the virtual page at vaddr to the physical
// frame at target. size is Size4K or Size1M.
func (c *Cursor[M, E, P]) Map(vaddr hostarch.VirtAddr, target hostarch.PhysAddr, size PageSize, flags pte.MappingFlags) error {
	if size != Size4K && size != Size1M {
		return ErrNotAligned
	}
	if !size.IsAligned(uintptr(vaddr)) || !size.IsAligned(uintptr(target)) {
		return ErrNotAligned
	}
	entry, err := c.pt.entryOrCreate(vaddr, size)
	if err != nil {
		return err
	}
	if !entry.IsUnused() {
		return ErrAlreadyMapped
	}
	entry.SetPage(target, flags, size.IsHuge())
	c.flusher.push(vaddr)
	return nil
}

// Remap points the existing mapping covering vaddr at a new frame with
// new flags, preserving its size.
func (c *Cursor[M, E, P]) Remap(vaddr hostarch.VirtAddr, paddr hostarch.PhysAddr, flags pte.MappingFlags) (PageSize, error) {
	entry, size, err := c.pt.entryOf(vaddr)
	if err != nil {
		return 0, err
	}
	if entry.IsUnused() {
		return 0, ErrNotMapped
	}
	entry.SetPage(paddr, flags, size.IsHuge())
	c.flusher.push(vaddr)
	return size, nil
}

// Protect replaces the flags of the existing mapping covering vaddr.
func (c *Cursor[M, E, P]) Protect(vaddr hostarch.VirtAddr, flags pte.MappingFlags) (PageSize, error) {
	entry, size, err := c.pt.entryOf(vaddr)
	if err != nil {
		return 0, err
	}
	if entry.IsUnused() {
		return 0, ErrNotMapped
	}
	entry.SetPage(entry.Paddr(), flags, size.IsHuge())
	c.flusher.push(vaddr)
	return size, nil
}

// Unmap removes the mapping covering vaddr and returns the physical
// address, flags and size it mapped.
func (c *Cursor[M, E, P]) Unmap(vaddr hostarch.VirtAddr) (hostarch.PhysAddr, pte.MappingFlags, PageSize, error) {
	entry, size, err := c.pt.entryOf(vaddr)
	if err != nil {
		return 0, 0, 0, err
	}
	if entry.IsUnused() {
		return 0, 0, 0, ErrNotMapped
	}
	paddr := entry.Paddr()
	flags := entry.Flags()
	entry.Clear()
	c.flusher.push(vaddr)
	return paddr, flags, size, nil
}

// MapRegion maps the virtual range [vaddr, vaddr+size), using 1 MiB
// sections where allowHuge is set and the alignment fits.
func (c *Cursor[M, E, P]) MapRegion(vaddr hostarch.VirtAddr, target func(hostarch.VirtAddr) hostarch.PhysAddr, size uintptr, flags pte.MappingFlags, allowHuge bool) error {
	va := uintptr(vaddr)
	if !Size4K.IsAligned(va) || !Size4K.IsAligned(size) {
		return ErrNotAligned
	}
	Logger.Tracef("map_region(%#x): [%#x, %#x) %v", c.pt.rootPaddr, va, va+size, flags)
	for size > 0 {
		cur := hostarch.VirtAddr(va)
		paddr := target(cur)
		pageSize := Size4K
		if allowHuge && Size1M.IsAligned(va) && paddr.IsAligned(uintptr(Size1M)) && size >= uintptr(Size1M) {
			pageSize = Size1M
		}
		if err := c.Map(cur, paddr, pageSize, flags); err != nil {
			Logger.Errorf("failed to map page: %#x(%v) -> %s, %v", va, pageSize, paddr, err)
			return err
		}
		va += uintptr(pageSize)
		size -= uintptr(pageSize)
	}
	return nil
}

// UnmapRegion unmaps the virtual range [vaddr, vaddr+size).
func (c *Cursor[M, E, P]) UnmapRegion(vaddr hostarch.VirtAddr, size uintptr) error {
	va := uintptr(vaddr)
	Logger.Tracef("unmap_region(%#x): [%#x, %#x)", c.pt.rootPaddr, va, va+size)
	for size > 0 {
		cur := hostarch.VirtAddr(va)
		_, _, pageSize, err := c.Unmap(cur)
		if err != nil {
			Logger.Errorf("failed to unmap page: %#x, %v", va, err)
			return err
		}
		if !pageSize.IsAligned(va) || uintptr(pageSize) > size {
			panic(fmt.Sprintf("unmap_region: %v leaf at %#x straddles the range", pageSize, va))
		}
		va += uintptr(pageSize)
		size -= uintptr(pageSize)
	}
	return nil
}

// ProtectRegion replaces the flags of the mappings in the virtual range
// [vaddr, vaddr+size). Chunks that are not present are stepped over.
func (c *Cursor[M, E, P]) ProtectRegion(vaddr hostarch.VirtAddr, size uintptr, flags pte.MappingFlags) error {
	va := uintptr(vaddr)
	Logger.Tracef("protect_region(%#x): [%#x, %#x) %v", c.pt.rootPaddr, va, va+size, flags)
	for size > 0 {
		cur := hostarch.VirtAddr(va)
		pageSize := Size4K
		entry, entrySize, err := c.pt.entryOf(cur)
		switch err {
		case nil:
			if !entry.IsUnused() {
				entry.SetFlags(flags, entrySize.IsHuge())
				c.flusher.push(cur)
			}
			pageSize = entrySize
		case ErrNotMapped:
			// Missing L2 table: step a page at a time.
		default:
			Logger.Errorf("failed to protect page: %#x, %v", va, err)
			return err
		}
		if !pageSize.IsAligned(va) || uintptr(pageSize) > size {
			panic(fmt.Sprintf("protect_region: %v leaf at %#x straddles the range", pageSize, va))
		}
		va += uintptr(pageSize)
		size -= uintptr(pageSize)
	}
	return nil
}

// CopyFrom installs src's first-level entries covering [start,
// start+size) into this table. Shared L2 tables stay owned by src;
// native L2 tables they displace are freed immediately.
func (c *Cursor[M, E, P]) CopyFrom(src *PageTable32[M, E, P], start hostarch.VirtAddr, size uintptr) {
	if size == 0 {
		return
	}
	p := c.pt
	srcTable := p.tableOf(src.rootPaddr, l1Entries)
	dstTable := p.tableOf(p.rootPaddr, l1Entries)
	startIdx := l1Index(uintptr(start))
	endIdx := l1Index(uintptr(start)+size-1) + 1
	for i := startIdx; i < endIdx; i++ {
		entry := P(&dstTable[i])
		if !p.borrowed.Add(uint32(i)) && !entry.IsUnused() && !entry.IsHuge() {
			p.handler.DeallocFrame(entry.Paddr())
		}
		dstTable[i] = srcTable[i]
	}
	c.flusher.full = true
}

// Flush applies the accumulated TLB maintenance now.
func (c *Cursor[M, E, P]) Flush() {
	c.flusher.flush()
}

// Close applies the accumulated TLB maintenance and invalidates the
// cursor.
func (c *Cursor[M, E, P]) Close() {
	c.Flush()
	c.pt = nil
}
