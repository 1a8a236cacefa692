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

// Package framealloc provides a hosted frame pool satisfying the
// walker's host interface.
//
// The pool carves 4 KiB frames out of one contiguous host arena and
// numbers them in a synthetic physical window starting at WindowBase,
// so the "physical" addresses it hands out are small enough for every
// architecture's entry encoding, including the 32-bit ones. PhysToVirt
// translates a window address back into the arena.
//
// The pool accounts for every live frame and panics on mismatched
// frees, which makes it the reference handler for lifecycle tests; it
// is equally usable by embedders that run page tables in a process
// (hypervisors, emulators).
//
// A Pool is not safe for concurrent use, matching the exclusion the
// page tables themselves require.
package framealloc

import (
	"fmt"
	"unsafe"

	"pagetables.dev/pagetables/pkg/hostarch"
)

const (
	// WindowBase is the first physical address the pool hands out.
	WindowBase hostarch.PhysAddr = 0x100000

	// arenaFrames is the pool capacity. Exhausting it reports
	// out-of-memory through the allocation interfaces.
	arenaFrames = 16384
)

// Pool hands out 4 KiB-aligned zeroed frames from a private arena.
type Pool struct {
	arena arena
	base  uintptr // host address of the arena, page-aligned

	// next is the bump offset of the never-allocated region; free
	// holds recycled single-frame offsets.
	next uintptr
	free []uintptr

	// blocks maps the base address of each live allocation to its
	// page count.
	blocks map[hostarch.PhysAddr]int

	// limit caps the number of live frames; 0 means unlimited. Tests
	// use it to provoke allocation failure.
	limit int

	// live is the current number of live frames, allocs the total
	// ever handed out.
	live   int
	allocs uint64
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	a, base, err := reserve(arenaFrames*hostarch.PageSize, hostarch.PageSize)
	if err != nil {
		panic(fmt.Sprintf("framealloc: cannot reserve arena: %v", err))
	}
	return &Pool{
		arena:  a,
		base:   base,
		blocks: make(map[hostarch.PhysAddr]int),
	}
}

// SetLimit caps the number of live frames; 0 removes the cap.
func (p *Pool) SetLimit(frames int) {
	p.limit = frames
}

// Live returns the number of frames allocated and not yet freed.
func (p *Pool) Live() int {
	return p.live
}

// Allocs returns the total number of frames ever handed out.
func (p *Pool) Allocs() uint64 {
	return p.allocs
}

// AllocFrame returns a 4 KiB-aligned, zeroed frame.
func (p *Pool) AllocFrame() (hostarch.PhysAddr, bool) {
	if !p.admit(1) {
		return 0, false
	}
	var off uintptr
	if n := len(p.free); n > 0 {
		off = p.free[n-1]
		p.free = p.free[:n-1]
		clear(p.frame(off))
	} else {
		var ok bool
		if off, ok = p.bump(1, hostarch.PageSize); !ok {
			return 0, false
		}
	}
	return p.commit(off, 1), true
}

// AllocFrames returns pages contiguous frames aligned to align bytes.
// Multi-frame blocks always come from fresh arena space.
func (p *Pool) AllocFrames(pages int, align uintptr) (hostarch.PhysAddr, bool) {
	if !p.admit(pages) {
		return 0, false
	}
	off, ok := p.bump(pages, align)
	if !ok {
		return 0, false
	}
	return p.commit(off, pages), true
}

// DeallocFrame releases a frame returned by AllocFrame.
func (p *Pool) DeallocFrame(paddr hostarch.PhysAddr) {
	p.dealloc(paddr, 1)
}

// DeallocFrames releases a block returned by AllocFrames.
func (p *Pool) DeallocFrames(paddr hostarch.PhysAddr, pages int) {
	p.dealloc(paddr, pages)
}

// PhysToVirt translates a window address into the arena.
func (p *Pool) PhysToVirt(paddr hostarch.PhysAddr) hostarch.VirtAddr {
	return hostarch.VirtAddr(p.base + uintptr(paddr-WindowBase))
}

func (p *Pool) admit(pages int) bool {
	return p.limit == 0 || p.live+pages <= p.limit
}

// bump reserves fresh arena space. The window base is 1 MiB-aligned, so
// aligning the offset aligns the physical address.
func (p *Pool) bump(pages int, align uintptr) (uintptr, bool) {
	off := hostarch.AlignUp(p.next, align)
	end := off + uintptr(pages)*hostarch.PageSize
	if end > arenaFrames*hostarch.PageSize {
		return 0, false
	}
	p.next = end
	return off, true
}

func (p *Pool) commit(off uintptr, pages int) hostarch.PhysAddr {
	paddr := WindowBase + hostarch.PhysAddr(off)
	p.blocks[paddr] = pages
	p.live += pages
	p.allocs += uint64(pages)
	return paddr
}

func (p *Pool) dealloc(paddr hostarch.PhysAddr, pages int) {
	allocated, ok := p.blocks[paddr]
	if !ok {
		panic(fmt.Sprintf("framealloc: freeing unallocated frame %s", paddr))
	}
	if allocated != pages {
		panic(fmt.Sprintf("framealloc: freeing %d pages at %s, allocated as %d", pages, paddr, allocated))
	}
	delete(p.blocks, paddr)
	p.live -= pages
	off := uintptr(paddr - WindowBase)
	for i := 0; i < pages; i++ {
		p.free = append(p.free, off+uintptr(i)*hostarch.PageSize)
	}
}

func (p *Pool) frame(off uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p.base+off)), hostarch.PageSize)
}
