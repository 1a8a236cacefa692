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

package hostarch

import (
	"testing"
)

func TestAlignment(t *testing.T) {
	cases := []struct {
		addr  uintptr
		align uintptr
		down  uintptr
		up    uintptr
	}{
		{0, PageSize, 0, 0},
		{1, PageSize, 0, PageSize},
		{PageSize, PageSize, PageSize, PageSize},
		{PageSize + 1, PageSize, PageSize, 2 * PageSize},
		{0x123456, 0x1000, 0x123000, 0x124000},
		{0x123456, 0x200000, 0, 0x200000},
	}
	for _, c := range cases {
		if got := AlignDown(c.addr, c.align); got != c.down {
			t.Errorf("AlignDown(%#x, %#x) = %#x, want %#x", c.addr, c.align, got, c.down)
		}
		if got := AlignUp(c.addr, c.align); got != c.up {
			t.Errorf("AlignUp(%#x, %#x) = %#x, want %#x", c.addr, c.align, got, c.up)
		}
		if got := IsAligned(c.addr, c.align); got != (c.addr == c.down) {
			t.Errorf("IsAligned(%#x, %#x) = %v", c.addr, c.align, got)
		}
	}
}

func TestAddrMethods(t *testing.T) {
	v := VirtAddr(0xdeadbeef)
	if v.RoundDown() != 0xdeadb000 {
		t.Errorf("RoundDown = %s", v.RoundDown())
	}
	if v.PageOffset() != 0xeef {
		t.Errorf("PageOffset = %#x", v.PageOffset())
	}
	if v.AlignUp(0x1000) != 0xdeadc000 {
		t.Errorf("AlignUp = %s", v.AlignUp(0x1000))
	}
	if !VirtAddr(0x2000).IsAligned(0x1000) || VirtAddr(0x2001).IsAligned(0x1000) {
		t.Error("IsAligned")
	}

	p := PhysAddr(0x1234)
	if p.Add(0x1000) != 0x2234 {
		t.Errorf("Add = %s", p.Add(0x1000))
	}
	if p.RoundDown() != 0x1000 {
		t.Errorf("RoundDown = %s", p.RoundDown())
	}
}
