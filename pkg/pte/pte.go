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

// Package pte defines the contract between the generic page-table walker
// and the architecture-specific page-table entry encodings.
//
// Every architecture package encodes a single entry in one machine word.
// An entry is in one of three logical states: unused (all zero),
// intermediate (points to a child table, no access permissions), or leaf
// (terminal mapping with permission bits and a huge marker).
package pte

import (
	"strings"

	"pagetables.dev/pagetables/pkg/hostarch"
)

// MappingFlags describe the permissions and attributes of a mapped region,
// independent of how an architecture encodes them. The empty set means the
// entry exists but maps nothing; it is distinct from an absent entry.
type MappingFlags uintptr

// Valid mapping flags.
const (
	// Read means the memory is readable.
	Read MappingFlags = 1 << iota
	// Write means the memory is writable.
	Write
	// Execute means the memory is executable.
	Execute
	// User means the memory is accessible from user mode.
	User
	// Device means the memory is device memory.
	Device
	// Uncached means accesses bypass the cache.
	Uncached
)

// Contains returns true iff all bits in other are set in f.
func (f MappingFlags) Contains(other MappingFlags) bool {
	return f&other == other
}

// String implements fmt.Stringer.
func (f MappingFlags) String() string {
	if f == 0 {
		return "-"
	}
	names := []struct {
		bit  MappingFlags
		name string
	}{
		{Read, "READ"},
		{Write, "WRITE"},
		{Execute, "EXECUTE"},
		{User, "USER"},
		{Device, "DEVICE"},
		{Uncached, "UNCACHED"},
	}
	var parts []string
	for _, n := range names {
		if f.Contains(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// GenericPTE is implemented by a pointer to each architecture's entry
// type. The walker only manipulates entries through it.
//
// The setters replace the Rust-style value constructors: SetPage installs
// a leaf, SetTable installs an intermediate pointer, Clear empties the
// slot.
type GenericPTE interface {
	// Paddr returns the physical address encoded in the entry.
	Paddr() hostarch.PhysAddr
	// Flags returns the decoded mapping flags. Intermediate entries
	// return an architecture-defined, permissionless-consistent value.
	Flags() MappingFlags
	// Bits returns the raw entry word.
	Bits() uintptr
	// IsUnused returns true iff the entry is all zero.
	IsUnused() bool
	// IsPresent returns true iff the entry's validity bit is set.
	IsPresent() bool
	// IsHuge returns true, on a non-bottom level, iff the entry maps a
	// huge frame rather than pointing to a child table.
	IsHuge() bool
	// SetPaddr replaces the physical address, keeping the flag bits.
	SetPaddr(paddr hostarch.PhysAddr)
	// SetFlags replaces the flag bits, keeping the physical address.
	SetFlags(flags MappingFlags, huge bool)
	// SetPage makes the entry a leaf mapping.
	SetPage(paddr hostarch.PhysAddr, flags MappingFlags, huge bool)
	// SetTable makes the entry point to a child table.
	SetTable(paddr hostarch.PhysAddr)
	// Clear zeroes the entry.
	Clear()
}

// Entry constrains a walker instantiation to an entry type E whose
// pointer implements GenericPTE. Tables remain flat arrays of E; the
// walker takes the address of a slot to operate on it.
type Entry[E any] interface {
	*E
	GenericPTE
}
