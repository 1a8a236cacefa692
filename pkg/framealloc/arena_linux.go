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

//go:build linux

package framealloc

import (
	"unsafe"

	"pagetables.dev/pagetables/pkg/hostarch"
	"pagetables.dev/pagetables/pkg/memutil"
)

// arena is an anonymous mapping backing one block.
type arena struct {
	data []byte
}

// reserve maps size bytes plus alignment slack and returns the arena and
// the aligned base address within it.
func reserve(size, align uintptr) (arena, uintptr, error) {
	slack := uintptr(0)
	if align > hostarch.PageSize {
		slack = align
	}
	b, err := memutil.MapAnon(int(size + slack))
	if err != nil {
		return arena{}, 0, err
	}
	base := hostarch.AlignUp(uintptr(unsafe.Pointer(unsafe.SliceData(b))), align)
	return arena{data: b}, base, nil
}

// release unmaps the arena.
func (a arena) release() {
	memutil.Unmap(a.data)
}
