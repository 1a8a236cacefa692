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

package arm

import (
	"testing"

	"pagetables.dev/pagetables/pkg/pte"
)

func TestSectionDescriptor(t *testing.T) {
	var e PTE
	e.SetPage(0x40000000, pte.Read|pte.Write|pte.Execute, true)
	if !e.IsPresent() || !e.IsHuge() {
		t.Errorf("section: present=%v huge=%v", e.IsPresent(), e.IsHuge())
	}
	if e.Paddr() != 0x40000000 {
		t.Errorf("section paddr = %s", e.Paddr())
	}
	flags := e.Flags()
	if !flags.Contains(pte.Read | pte.Write | pte.Execute) {
		t.Errorf("section flags = %v", flags)
	}
}

func TestSmallPageDescriptor(t *testing.T) {
	var e PTE
	e.SetPage(0x40001000, pte.Read|pte.Write, false)
	if !e.IsPresent() || e.IsHuge() {
		t.Errorf("small page: present=%v huge=%v", e.IsPresent(), e.IsHuge())
	}
	if e.Paddr() != 0x40001000 {
		t.Errorf("small page paddr = %s", e.Paddr())
	}
	if !e.Flags().Contains(pte.Read | pte.Write) {
		t.Errorf("small page flags = %v", e.Flags())
	}
}

func TestTableDescriptor(t *testing.T) {
	var e PTE
	e.SetTable(0x40000400)
	if !e.IsPresent() || e.IsHuge() {
		t.Errorf("table: present=%v huge=%v", e.IsPresent(), e.IsHuge())
	}
	if e.Paddr() != 0x40000400 {
		t.Errorf("table paddr = %s", e.Paddr())
	}
	if bits := uint32(e.Bits()); bits&0x3 != 0x1 {
		t.Errorf("table type bits = %#x, want 0b01", bits&0x3)
	}
}

func TestAccessPermissions(t *testing.T) {
	cases := []struct {
		flags pte.MappingFlags
		write bool
		user  bool
	}{
		{pte.Read, false, false},
		{pte.Read | pte.Write, true, false},
		{pte.Read | pte.User, false, true},
		{pte.Read | pte.Write | pte.User, true, true},
	}
	for _, c := range cases {
		var e PTE
		e.SetPage(0x1000, c.flags, false)
		got := e.Flags()
		if got.Contains(pte.Write) != c.write {
			t.Errorf("%v: write = %v", c.flags, got.Contains(pte.Write))
		}
		if got.Contains(pte.User) != c.user {
			t.Errorf("%v: user = %v", c.flags, got.Contains(pte.User))
		}
	}
}

func TestMemoryTypes(t *testing.T) {
	var dev PTE
	dev.SetPage(0x1000, pte.Read|pte.Device, false)
	if !dev.Flags().Contains(pte.Device) {
		t.Errorf("device flags = %v", dev.Flags())
	}

	var nc PTE
	nc.SetPage(0x1000, pte.Read|pte.Uncached, false)
	if !nc.Flags().Contains(pte.Uncached) {
		t.Errorf("uncached flags = %v", nc.Flags())
	}
}
