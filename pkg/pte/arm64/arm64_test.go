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

package arm64

import (
	"testing"

	"pagetables.dev/pagetables/pkg/pte"
)

func TestPageRoundTrip(t *testing.T) {
	for _, flags := range []pte.MappingFlags{
		pte.Read,
		pte.Read | pte.Write,
		pte.Read | pte.Execute,
		pte.Read | pte.Write | pte.User,
		pte.Read | pte.Write | pte.Execute | pte.User,
		pte.Read | pte.Write | pte.Device,
		pte.Read | pte.Uncached,
	} {
		var e PTE
		e.SetPage(0xabc000, flags, false)
		if !e.IsPresent() || e.IsHuge() {
			t.Errorf("%v: present=%v huge=%v", flags, e.IsPresent(), e.IsHuge())
		}
		if e.Paddr() != 0xabc000 {
			t.Errorf("%v: paddr = %s", flags, e.Paddr())
		}
		if got := e.Flags(); got != flags {
			t.Errorf("flags round trip = %v, want %v", got, flags)
		}
	}
}

func TestBlockDescriptor(t *testing.T) {
	var e PTE
	e.SetPage(0x40000000, pte.Read|pte.Write, true)
	if !e.IsHuge() {
		t.Error("block descriptor not huge")
	}
	bits := uint64(e.Bits())
	if bits&0x3 != 0x1 {
		t.Errorf("block descriptor type bits = %#x, want 0b01", bits&0x3)
	}
	if bits&(1<<10) == 0 {
		t.Error("AF clear")
	}
}

func TestPageDescriptorType(t *testing.T) {
	var e PTE
	e.SetPage(0x1000, pte.Read, false)
	if bits := uint64(e.Bits()); bits&0x3 != 0x3 {
		t.Errorf("page descriptor type bits = %#x, want 0b11", bits&0x3)
	}
	if e.IsHuge() {
		t.Error("level-3 page reports huge")
	}
}

func TestTableEntry(t *testing.T) {
	var e PTE
	e.SetTable(0x5000)
	if !e.IsPresent() || e.IsHuge() {
		t.Errorf("table entry: present=%v huge=%v", e.IsPresent(), e.IsHuge())
	}
	if e.Paddr() != 0x5000 {
		t.Errorf("table paddr = %s", e.Paddr())
	}
}

func TestPrivilegedExecute(t *testing.T) {
	var e PTE
	e.SetPage(0x1000, pte.Read|pte.Execute, false)
	bits := uint64(e.Bits())
	if bits&(1<<53) != 0 {
		t.Error("PXN set on privileged executable page")
	}
	if bits&(1<<54) == 0 {
		t.Error("UXN clear on privileged page")
	}

	var u PTE
	u.SetPage(0x1000, pte.Read|pte.Execute|pte.User, false)
	ubits := uint64(u.Bits())
	if ubits&(1<<53) == 0 {
		t.Error("PXN clear on user executable page")
	}
	if ubits&(1<<54) != 0 {
		t.Error("UXN set on user executable page")
	}
}
