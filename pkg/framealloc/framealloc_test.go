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

package framealloc

import (
	"testing"
	"unsafe"

	"pagetables.dev/pagetables/pkg/hostarch"
)

func TestAllocFrame(t *testing.T) {
	p := NewPool()
	paddr, ok := p.AllocFrame()
	if !ok {
		t.Fatal("AllocFrame failed")
	}
	if paddr < WindowBase || !paddr.IsAligned(hostarch.PageSize) {
		t.Errorf("frame at %s", paddr)
	}
	if p.Live() != 1 {
		t.Errorf("Live = %d, want 1", p.Live())
	}

	// Frames come back zeroed and writable through the window.
	b := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p.PhysToVirt(paddr)))), hostarch.PageSize)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, v)
		}
	}
	b[0] = 0xaa

	p.DeallocFrame(paddr)
	if p.Live() != 0 {
		t.Errorf("Live = %d after free", p.Live())
	}

	// Recycled frames are zeroed again.
	paddr2, ok := p.AllocFrame()
	if !ok {
		t.Fatal("AllocFrame failed")
	}
	if paddr2 != paddr {
		t.Errorf("recycled frame at %s, want %s", paddr2, paddr)
	}
	b = unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p.PhysToVirt(paddr2)))), hostarch.PageSize)
	if b[0] != 0 {
		t.Error("recycled frame not zeroed")
	}
}

func TestAllocFramesAligned(t *testing.T) {
	p := NewPool()
	p.AllocFrame() // skew the bump pointer
	paddr, ok := p.AllocFrames(4, 16384)
	if !ok {
		t.Fatal("AllocFrames failed")
	}
	if !paddr.IsAligned(16384) {
		t.Errorf("block at %s not 16K-aligned", paddr)
	}
	if p.Live() != 5 {
		t.Errorf("Live = %d, want 5", p.Live())
	}
	p.DeallocFrames(paddr, 4)
	if p.Live() != 1 {
		t.Errorf("Live = %d, want 1", p.Live())
	}
}

func TestLimit(t *testing.T) {
	p := NewPool()
	p.SetLimit(2)
	a, ok := p.AllocFrame()
	if !ok {
		t.Fatal("first AllocFrame failed")
	}
	if _, ok := p.AllocFrames(4, 16384); ok {
		t.Error("AllocFrames exceeded the limit")
	}
	if _, ok := p.AllocFrame(); !ok {
		t.Error("second AllocFrame failed under limit")
	}
	if _, ok := p.AllocFrame(); ok {
		t.Error("third AllocFrame exceeded the limit")
	}
	p.DeallocFrame(a)
	if _, ok := p.AllocFrame(); !ok {
		t.Error("AllocFrame failed after a free")
	}
}

func TestBadFree(t *testing.T) {
	p := NewPool()
	paddr, _ := p.AllocFrames(2, hostarch.PageSize)
	defer func() {
		if recover() == nil {
			t.Error("mismatched free did not panic")
		}
	}()
	p.DeallocFrame(paddr)
}
