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

//go:build !linux

package framealloc

import (
	"unsafe"

	"pagetables.dev/pagetables/pkg/hostarch"
)

// arena is a heap allocation backing one block. The slice reference
// keeps the memory alive while the pool tracks the block; the garbage
// collector reclaims it after release.
type arena struct {
	data []byte
}

// reserve allocates size bytes plus alignment slack and returns the
// arena and the aligned base address within it. The Go heap gives no
// alignment guarantee, so the slack always covers realignment.
func reserve(size, align uintptr) (arena, uintptr, error) {
	if align < hostarch.PageSize {
		align = hostarch.PageSize
	}
	b := make([]byte, size+align)
	base := hostarch.AlignUp(uintptr(unsafe.Pointer(unsafe.SliceData(b))), align)
	return arena{data: b}, base, nil
}

// release does nothing; the garbage collector reclaims the memory once
// the arena is no longer referenced.
func (a arena) release() {
}
