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

package pagetables_test

import (
	"testing"

	"pagetables.dev/pagetables/pkg/framealloc"
	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/pagetables"
	"pagetables.dev/pagetables/pkg/pagetables/arm"
	"pagetables.dev/pagetables/pkg/pte"
)

func newARM(t *testing.T) (*arm.PageTable, *framealloc.Pool) {
	t.Helper()
	pool := framealloc.NewPool()
	pt, err := arm.New(pool)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pt, pool
}

func TestARMMapQuery(t *testing.T) {
	pt, pool := newARM(t)

	// The 16 KiB L1 is four frames.
	if pool.Live() != 4 {
		t.Fatalf("L1 table uses %d frames, want 4", pool.Live())
	}

	c := pt.Cursor()
	if err := c.Map(0x8000, 0x42000, pagetables.Size4K, pte.Read|pte.Write); err != nil {
		t.Fatalf("Map: %v", err)
	}
	c.Close()

	paddr, flags, size, err := pt.Query(0x8123)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if paddr != 0x42123 || flags != pte.Read|pte.Write || size != pagetables.Size4K {
		t.Errorf("Query = (%s, %v, %v), want (0x42123, READ|WRITE, 4K)", paddr, flags, size)
	}

	pt.Release()
	if pool.Live() != 0 {
		t.Errorf("%d frames live after Release", pool.Live())
	}
}

func TestARMSection(t *testing.T) {
	pt, _ := newARM(t)
	defer pt.Release()

	c := pt.Cursor()
	defer c.Close()
	if err := c.Map(0x100000, 0x300000, pagetables.Size1M, pte.Read|pte.Execute); err != nil {
		t.Fatalf("Map section: %v", err)
	}

	paddr, flags, size, err := pt.Query(0x123456)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if paddr != 0x323456 || size != pagetables.Size1M {
		t.Errorf("Query = (%s, %v), want (0x323456, 1M)", paddr, size)
	}
	if !flags.Contains(pte.Read | pte.Execute) {
		t.Errorf("Query flags = %v", flags)
	}

	// A 4K map under an existing section is refused.
	if err := c.Map(0x101000, 0x1000, pagetables.Size4K, pte.Read); err != pagetables.ErrAlreadyMapped {
		t.Errorf("Map under section = %v, want ErrAlreadyMapped", err)
	}
}

func TestARMUnmapProtect(t *testing.T) {
	pt, _ := newARM(t)
	defer pt.Release()

	c := pt.Cursor()
	defer c.Close()
	if err := c.Map(0x4000, 0x9000, pagetables.Size4K, pte.Read|pte.Write); err != nil {
		t.Fatalf("Map: %v", err)
	}

	if size, err := c.Protect(0x4000, pte.Read); err != nil || size != pagetables.Size4K {
		t.Fatalf("Protect = (%v, %v)", size, err)
	}
	paddr, flags, _, err := pt.Query(0x4000)
	if err != nil || paddr != 0x9000 || flags != pte.Read {
		t.Errorf("Query after Protect = (%s, %v, %v)", paddr, flags, err)
	}

	paddr, flags, size, err := c.Unmap(0x4000)
	if err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if paddr != 0x9000 || flags != pte.Read || size != pagetables.Size4K {
		t.Errorf("Unmap = (%s, %v, %v)", paddr, flags, size)
	}
	if _, _, _, err := pt.Query(0x4000); err != pagetables.ErrNotMapped {
		t.Errorf("Query after Unmap = %v, want ErrNotMapped", err)
	}
}

func TestARMMapRegion(t *testing.T) {
	pt, pool := newARM(t)

	c := pt.Cursor()
	// 2 MiB starting at 1 MiB: with sections allowed and an identity
	// target this is exactly two sections, no L2 tables.
	before := pool.Allocs()
	if err := c.MapRegion(0x100000, identity, 0x200000, pte.Read|pte.Write, true); err != nil {
		t.Fatalf("MapRegion: %v", err)
	}
	if allocs := pool.Allocs() - before; allocs != 0 {
		t.Errorf("section mapping allocated %d frames, want 0", allocs)
	}

	if err := c.UnmapRegion(0x100000, 0x200000); err != nil {
		t.Fatalf("UnmapRegion: %v", err)
	}
	c.Close()

	pt.Release()
	if pool.Live() != 0 {
		t.Errorf("%d frames live after Release", pool.Live())
	}
}

func TestARMCursorFlushBatching(t *testing.T) {
	var flushed []hostarch.VirtAddr
	var flushedAll int
	arm.SetInvalidator(func(vaddr hostarch.VirtAddr, all bool) {
		if all {
			flushedAll++
		} else {
			flushed = append(flushed, vaddr)
		}
	})
	defer arm.SetInvalidator(nil)

	pt, _ := newARM(t)
	defer pt.Release()

	// A few mutations flush individually.
	c := pt.Cursor()
	for i := uintptr(0); i < 3; i++ {
		if err := c.Map(hostarch.VirtAddr(0x10000+i*0x1000), hostarch.PhysAddr(0x20000+i*0x1000), pagetables.Size4K, pte.Read); err != nil {
			t.Fatalf("Map: %v", err)
		}
	}
	c.Close()
	if len(flushed) != 3 || flushedAll != 0 {
		t.Errorf("flushed %d entries, %d full flushes; want 3, 0", len(flushed), flushedAll)
	}

	// Enough mutations overflow the address buffer into a full flush.
	flushed = nil
	c = pt.Cursor()
	for i := uintptr(0); i < 16; i++ {
		if err := c.Map(hostarch.VirtAddr(0x40000+i*0x1000), hostarch.PhysAddr(0x50000+i*0x1000), pagetables.Size4K, pte.Read); err != nil {
			t.Fatalf("Map: %v", err)
		}
	}
	c.Close()
	if len(flushed) != 0 || flushedAll != 1 {
		t.Errorf("flushed %d entries, %d full flushes; want 0, 1", len(flushed), flushedAll)
	}
}

func TestARMCopyFrom(t *testing.T) {
	pool := framealloc.NewPool()
	src, err := arm.New(pool)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := src.Cursor()
	if err := c.Map(0x201000, 0x66000, pagetables.Size4K, pte.Read); err != nil {
		t.Fatalf("Map: %v", err)
	}
	c.Close()

	dst, err := arm.New(pool)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dc := dst.Cursor()
	dc.CopyFrom(src, 0x200000, 0x100000)
	dc.Close()

	paddr, _, size, err := dst.Query(0x201000)
	if err != nil || paddr != 0x66000 || size != pagetables.Size4K {
		t.Errorf("Query through clone = (%s, %v, %v)", paddr, size, err)
	}

	// The borrowed L2 survives the clone's release and is freed exactly
	// once, by the source.
	live := pool.Live()
	dst.Release()
	if pool.Live() != live-4 {
		t.Errorf("clone Release freed %d frames, want its 4 L1 frames", live-pool.Live())
	}
	src.Release()
	if pool.Live() != 0 {
		t.Errorf("%d frames live after both releases", pool.Live())
	}
}

func TestARMNoContiguousAllocator(t *testing.T) {
	// A handler without contiguous allocation cannot host the 16 KiB L1.
	if _, err := arm.New(frameOnlyHandler{framealloc.NewPool()}); err != pagetables.ErrNoMemory {
		t.Errorf("New = %v, want ErrNoMemory", err)
	}
}

// frameOnlyHandler hides the pool's contiguous allocation support.
type frameOnlyHandler struct {
	pool *framealloc.Pool
}

func (h frameOnlyHandler) AllocFrame() (hostarch.PhysAddr, bool) { return h.pool.AllocFrame() }
func (h frameOnlyHandler) DeallocFrame(paddr hostarch.PhysAddr)  { h.pool.DeallocFrame(paddr) }
func (h frameOnlyHandler) PhysToVirt(paddr hostarch.PhysAddr) hostarch.VirtAddr {
	return h.pool.PhysToVirt(paddr)
}
