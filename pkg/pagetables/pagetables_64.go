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

const (
	// bitsPerLevel is the number of virtual-address bits consumed per
	// level with the 4 KiB granule.
	bitsPerLevel = 9

	// entriesPerTable is the number of entries in one table frame.
	entriesPerTable = 1 << bitsPerLevel
)

// indexAt returns the table index of vaddr at the given level. Level 0 is
// the root, levels-1 the deepest.
func indexAt(vaddr uintptr, level, levels int) int {
	shift := hostarch.PageShift + (levels-1-level)*bitsPerLevel
	return int((vaddr >> shift) & (entriesPerTable - 1))
}

// sizeAt returns the bytes covered by one entry at the given level.
func sizeAt(level, levels int) PageSize {
	return PageSize(1) << (hostarch.PageShift + (levels-1-level)*bitsPerLevel)
}

// levelFor returns the level at which a leaf of the given size lives, or
// false if the size is not in this tree's menu.
func levelFor(size PageSize, levels int) (int, bool) {
	switch size {
	case Size4K:
		return levels - 1, true
	case Size2M:
		if levels >= 2 {
			return levels - 2, true
		}
	case Size1G:
		if levels >= 3 {
			return levels - 3, true
		}
	}
	return 0, false
}

// PageTable64 is a multi-level page table for the 64-bit architectures
// with the 4 KiB granule (512 entries per level).
//
// The table owns the root frame and every intermediate frame it
// allocates, and tracks them through the entry tree itself; Release
// returns them to the handler. Leaf frames are referenced, never owned.
type PageTable64[M PagingMetaData, E any, P pte.Entry[E]] struct {
	meta      M
	handler   PagingHandler
	rootPaddr hostarch.PhysAddr

	// borrowed marks root entries installed by CopyFrom. Subtrees
	// hanging off them belong to the source table and must survive
	// Release.
	borrowed bitmap.Bitmap
}

// New64 allocates the root frame and returns an empty table.
func New64[M PagingMetaData, E any, P pte.Entry[E]](handler PagingHandler) (*PageTable64[M, E, P], error) {
	p := &PageTable64[M, E, P]{
		handler:  handler,
		borrowed: bitmap.New(entriesPerTable),
	}
	root, err := p.allocTable()
	if err != nil {
		return nil, err
	}
	p.rootPaddr = root
	return p, nil
}

// RootPaddr returns the physical address of the root table, in the form
// the architecture's base register (CR3, TTBR0, satp, PGDL) expects as
// its address field.
func (p *PageTable64[M, E, P]) RootPaddr() hostarch.PhysAddr {
	return p.rootPaddr
}

// Map installs a mapping of the virtual page at vaddr to the physical
// frame at target, with the given page size and flags.
//
// Both addresses must be aligned to size and within the architecture's
// valid ranges, or Map returns ErrNotAligned. An occupied slot returns
// ErrAlreadyMapped; a huge leaf blocking the descent returns
// ErrMappedToHugePage; frame exhaustion returns ErrNoMemory.
func (p *PageTable64[M, E, P]) Map(vaddr hostarch.VirtAddr, target hostarch.PhysAddr, size PageSize, flags pte.MappingFlags) (TlbFlush[M], error) {
	if !p.meta.VaddrIsValid(vaddr) || !size.IsAligned(uintptr(vaddr)) {
		return TlbFlush[M]{}, ErrNotAligned
	}
	if !p.meta.PaddrIsValid(target) || !size.IsAligned(uintptr(target)) {
		return TlbFlush[M]{}, ErrNotAligned
	}
	entry, err := p.entryOrCreate(vaddr, size)
	if err != nil {
		return TlbFlush[M]{}, err
	}
	if !entry.IsUnused() {
		return TlbFlush[M]{}, ErrAlreadyMapped
	}
	entry.SetPage(target, flags, size.IsHuge())
	return newTlbFlush[M](vaddr), nil
}

// Unmap removes the mapping covering vaddr and returns the physical
// address and size it mapped.
func (p *PageTable64[M, E, P]) Unmap(vaddr hostarch.VirtAddr) (hostarch.PhysAddr, PageSize, TlbFlush[M], error) {
	entry, size, err := p.entryOf(vaddr)
	if err != nil {
		return 0, 0, TlbFlush[M]{}, err
	}
	if !entry.IsPresent() {
		entry.Clear()
		return 0, 0, TlbFlush[M]{}, ErrNotMapped
	}
	paddr := entry.Paddr()
	entry.Clear()
	return paddr, size, newTlbFlush[M](vaddr), nil
}

// Query returns the physical address vaddr translates to, along with the
// mapping's flags and size. The returned address carries the intra-page
// offset of vaddr.
func (p *PageTable64[M, E, P]) Query(vaddr hostarch.VirtAddr) (hostarch.PhysAddr, pte.MappingFlags, PageSize, error) {
	entry, size, err := p.entryOf(vaddr)
	if err != nil {
		return 0, 0, 0, err
	}
	if !entry.IsPresent() {
		return 0, 0, 0, ErrNotMapped
	}
	paddr := entry.Paddr().Add(size.AlignOffset(uintptr(vaddr)))
	return paddr, entry.Flags(), size, nil
}

// Remap points the existing mapping covering vaddr at a new frame with
// new flags, preserving its size. The new frame must be aligned to that
// size.
func (p *PageTable64[M, E, P]) Remap(vaddr hostarch.VirtAddr, paddr hostarch.PhysAddr, flags pte.MappingFlags) (PageSize, TlbFlush[M], error) {
	entry, size, err := p.entryOf(vaddr)
	if err != nil {
		return 0, TlbFlush[M]{}, err
	}
	if !entry.IsPresent() {
		return 0, TlbFlush[M]{}, ErrNotMapped
	}
	if !size.IsAligned(uintptr(paddr)) {
		return 0, TlbFlush[M]{}, ErrNotAligned
	}
	entry.SetPaddr(paddr)
	entry.SetFlags(flags, size.IsHuge())
	return size, newTlbFlush[M](vaddr), nil
}

// Protect replaces the flags of the existing mapping covering vaddr,
// keeping its target and size.
func (p *PageTable64[M, E, P]) Protect(vaddr hostarch.VirtAddr, flags pte.MappingFlags) (PageSize, TlbFlush[M], error) {
	entry, size, err := p.entryOf(vaddr)
	if err != nil {
		return 0, TlbFlush[M]{}, err
	}
	if !entry.IsPresent() {
		return 0, TlbFlush[M]{}, ErrNotMapped
	}
	entry.SetFlags(flags, size.IsHuge())
	return size, newTlbFlush[M](vaddr), nil
}

// MapRegion maps the virtual range [vaddr, vaddr+size) with the given
// flags. The frame backing each page is chosen by target, which must be
// consistent with the chunking: when allowHuge is set the walk greedily
// installs the largest leaf whose alignment and remaining length fit.
//
// When flushTLBByPage is set, each chunk's translation is invalidated as
// it is installed and the returned token may be ignored; otherwise the
// caller consumes the returned full-flush token.
//
// A failure mid-range leaves the chunks already installed; the caller is
// expected to tear the address space down.
func (p *PageTable64[M, E, P]) MapRegion(vaddr hostarch.VirtAddr, target func(hostarch.VirtAddr) hostarch.PhysAddr, size uintptr, flags pte.MappingFlags, allowHuge, flushTLBByPage bool) (TlbFlushAll[M], error) {
	va := uintptr(vaddr)
	if !Size4K.IsAligned(va) || !Size4K.IsAligned(size) {
		return TlbFlushAll[M]{}, ErrNotAligned
	}
	Logger.Tracef("map_region(%#x): [%#x, %#x) %v", p.rootPaddr, va, va+size, flags)
	for size > 0 {
		cur := hostarch.VirtAddr(va)
		paddr := target(cur)
		pageSize := Size4K
		if allowHuge {
			if Size1G.IsAligned(va) && paddr.IsAligned(uintptr(Size1G)) && size >= uintptr(Size1G) {
				pageSize = Size1G
			} else if Size2M.IsAligned(va) && paddr.IsAligned(uintptr(Size2M)) && size >= uintptr(Size2M) {
				pageSize = Size2M
			}
		}
		tlb, err := p.Map(cur, paddr, pageSize, flags)
		if err != nil {
			Logger.Errorf("failed to map page: %#x(%v) -> %s, %v", va, pageSize, paddr, err)
			return TlbFlushAll[M]{}, err
		}
		if flushTLBByPage {
			tlb.Flush()
		} else {
			tlb.Ignore()
		}
		va += uintptr(pageSize)
		size -= uintptr(pageSize)
	}
	return newTlbFlushAll[M](), nil
}

// UnmapRegion unmaps the virtual range [vaddr, vaddr+size). Holes in the
// range are skipped at the 4 KiB granule; huge leaves are removed whole
// and must not straddle the end of the range.
func (p *PageTable64[M, E, P]) UnmapRegion(vaddr hostarch.VirtAddr, size uintptr, flushTLBByPage bool) (TlbFlushAll[M], error) {
	va := uintptr(vaddr)
	Logger.Tracef("unmap_region(%#x): [%#x, %#x)", p.rootPaddr, va, va+size)
	for size > 0 {
		cur := hostarch.VirtAddr(va)
		_, pageSize, tlb, err := p.Unmap(cur)
		if err == ErrNotMapped {
			va += uintptr(Size4K)
			size -= uintptr(Size4K)
			continue
		}
		if err != nil {
			Logger.Errorf("failed to unmap page: %#x, %v", va, err)
			return TlbFlushAll[M]{}, err
		}
		if flushTLBByPage {
			tlb.Flush()
		} else {
			tlb.Ignore()
		}
		if !pageSize.IsAligned(va) || uintptr(pageSize) > size {
			panic(fmt.Sprintf("unmap_region: %v leaf at %#x straddles the range", pageSize, va))
		}
		va += uintptr(pageSize)
		size -= uintptr(pageSize)
	}
	return newTlbFlushAll[M](), nil
}

// ProtectRegion replaces the flags of every mapping in the virtual range
// [vaddr, vaddr+size). Unlike UnmapRegion it fails on unmapped chunks.
func (p *PageTable64[M, E, P]) ProtectRegion(vaddr hostarch.VirtAddr, size uintptr, flags pte.MappingFlags, flushTLBByPage bool) (TlbFlushAll[M], error) {
	va := uintptr(vaddr)
	Logger.Tracef("protect_region(%#x): [%#x, %#x) %v", p.rootPaddr, va, va+size, flags)
	for size > 0 {
		cur := hostarch.VirtAddr(va)
		pageSize, tlb, err := p.Protect(cur, flags)
		if err != nil {
			Logger.Errorf("failed to protect page: %#x, %v", va, err)
			return TlbFlushAll[M]{}, err
		}
		if flushTLBByPage {
			tlb.Flush()
		} else {
			tlb.Ignore()
		}
		if !pageSize.IsAligned(va) || uintptr(pageSize) > size {
			panic(fmt.Sprintf("protect_region: %v leaf at %#x straddles the range", pageSize, va))
		}
		va += uintptr(pageSize)
		size -= uintptr(pageSize)
	}
	return newTlbFlushAll[M](), nil
}

// WalkFunc visits one present entry: its level (0 = root), its index
// within the table, the first virtual address it translates, and the
// entry itself.
type WalkFunc[E any, P pte.Entry[E]] func(level, index int, vaddr hostarch.VirtAddr, entry P)

// Walk visits the present entries of the tree in depth-first order. pre
// runs before a subtree, post after; either may be nil. At most limit
// present entries are visited per table.
func (p *PageTable64[M, E, P]) Walk(limit int, pre, post WalkFunc[E, P]) error {
	return p.walkRecursive(p.tableOf(p.rootPaddr), 0, 0, limit, pre, post)
}

// CopyFrom installs src's root entries covering [start, start+size) into
// this table, so that src's translations in the range become visible
// here through shared intermediate tables. The shared subtrees stay
// owned by src; Release skips them. Native subtrees they displace are
// freed immediately.
func (p *PageTable64[M, E, P]) CopyFrom(src *PageTable64[M, E, P], start hostarch.VirtAddr, size uintptr) {
	if size == 0 {
		return
	}
	srcTable := src.tableOf(src.rootPaddr)
	dstTable := p.tableOf(p.rootPaddr)
	levels := p.meta.Levels()
	startIdx := indexAt(uintptr(start), 0, levels)
	endIdx := indexAt(uintptr(start)+size-1, 0, levels) + 1
	for i := startIdx; i < endIdx; i++ {
		entry := P(&dstTable[i])
		if !p.borrowed.Add(uint32(i)) && p.isTable(entry) {
			p.deallocTree(entry.Paddr(), 1)
		}
		dstTable[i] = srcTable[i]
	}
}

// Release returns every owned intermediate frame and the root frame to
// the handler. Borrowed subtrees installed by CopyFrom are skipped; leaf
// frames are never freed. The table must not be used afterwards.
func (p *PageTable64[M, E, P]) Release() {
	root := p.tableOf(p.rootPaddr)
	for i := range root {
		if p.borrowed.Contains(uint32(i)) {
			continue
		}
		entry := P(&root[i])
		if p.isTable(entry) {
			p.deallocTree(entry.Paddr(), 1)
		}
	}
	p.handler.DeallocFrame(p.rootPaddr)
	p.rootPaddr = 0
}

// allocTable allocates and zeroes one table frame.
func (p *PageTable64[M, E, P]) allocTable() (hostarch.PhysAddr, error) {
	paddr, ok := p.handler.AllocFrame()
	if !ok {
		return 0, ErrNoMemory
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p.handler.PhysToVirt(paddr)))), hostarch.PageSize)
	clear(b)
	return paddr, nil
}

// tableOf returns the entries of the table frame at paddr, through the
// handler's direct-map window.
func (p *PageTable64[M, E, P]) tableOf(paddr hostarch.PhysAddr) []E {
	return unsafe.Slice((*E)(unsafe.Pointer(uintptr(p.handler.PhysToVirt(paddr)))), entriesPerTable)
}

// isTable returns true iff the entry references a child table.
func (p *PageTable64[M, E, P]) isTable(entry P) bool {
	return entry.Paddr() != 0 && !entry.IsHuge()
}

// nextTable descends through an intermediate entry.
func (p *PageTable64[M, E, P]) nextTable(entry P) ([]E, error) {
	if entry.Paddr() == 0 {
		return nil, ErrNotMapped
	}
	if entry.IsHuge() {
		return nil, ErrMappedToHugePage
	}
	return p.tableOf(entry.Paddr()), nil
}

// nextTableOrCreate descends through an intermediate entry, materializing
// the child table if the slot is empty.
func (p *PageTable64[M, E, P]) nextTableOrCreate(entry P) ([]E, error) {
	if entry.IsUnused() {
		paddr, err := p.allocTable()
		if err != nil {
			return nil, err
		}
		entry.SetTable(paddr)
		return p.tableOf(paddr), nil
	}
	return p.nextTable(entry)
}

// entryOf descends to the entry covering vaddr and reports the size of
// the mapping it would represent. A huge leaf terminates the descent
// early.
func (p *PageTable64[M, E, P]) entryOf(vaddr hostarch.VirtAddr) (P, PageSize, error) {
	va := uintptr(vaddr)
	levels := p.meta.Levels()
	table := p.tableOf(p.rootPaddr)
	for level := 0; ; level++ {
		entry := P(&table[indexAt(va, level, levels)])
		if level == levels-1 {
			return entry, Size4K, nil
		}
		if entry.IsHuge() {
			return entry, sizeAt(level, levels), nil
		}
		next, err := p.nextTable(entry)
		if err != nil {
			var zero P
			return zero, 0, err
		}
		table = next
	}
}

// entryOrCreate descends to the slot where a leaf of the given size
// belongs, materializing intermediate tables on the way.
func (p *PageTable64[M, E, P]) entryOrCreate(vaddr hostarch.VirtAddr, size PageSize) (P, error) {
	va := uintptr(vaddr)
	levels := p.meta.Levels()
	target, ok := levelFor(size, levels)
	if !ok {
		var zero P
		return zero, ErrNotAligned
	}
	table := p.tableOf(p.rootPaddr)
	for level := 0; level < target; level++ {
		entry := P(&table[indexAt(va, level, levels)])
		next, err := p.nextTableOrCreate(entry)
		if err != nil {
			var zero P
			return zero, err
		}
		table = next
	}
	return P(&table[indexAt(va, target, levels)]), nil
}

func (p *PageTable64[M, E, P]) walkRecursive(table []E, level int, start uintptr, limit int, pre, post WalkFunc[E, P]) error {
	levels := p.meta.Levels()
	n := 0
	for i := range table {
		entry := P(&table[i])
		if !entry.IsPresent() {
			continue
		}
		vaddr := hostarch.VirtAddr(start + uintptr(i)<<(hostarch.PageShift+(levels-1-level)*bitsPerLevel))
		if pre != nil {
			pre(level, i, vaddr, entry)
		}
		if level < levels-1 && !entry.IsHuge() {
			child, err := p.nextTable(entry)
			if err != nil {
				return err
			}
			if err := p.walkRecursive(child, level+1, uintptr(vaddr), limit, pre, post); err != nil {
				return err
			}
		}
		if post != nil {
			post(level, i, vaddr, entry)
		}
		n++
		if n >= limit {
			break
		}
	}
	return nil
}

// deallocTree returns the table frame at paddr and every table frame
// reachable below it. Entries at the deepest level are leaves, not
// frames the table owns.
func (p *PageTable64[M, E, P]) deallocTree(paddr hostarch.PhysAddr, level int) {
	if level < p.meta.Levels()-1 {
		table := p.tableOf(paddr)
		for i := range table {
			entry := P(&table[i])
			if p.isTable(entry) {
				p.deallocTree(entry.Paddr(), level+1)
			}
		}
	}
	p.handler.DeallocFrame(paddr)
}
