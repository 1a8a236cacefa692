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

// Package hostarch provides the address value types and alignment
// arithmetic shared by the page-table packages.
package hostarch

import (
	"golang.org/x/exp/constraints"
)

// The minimal translation granule. Every page-table frame is one of these.
const (
	PageShift = 12
	PageSize  = 1 << PageShift

	HugePageShift = 21
	HugePageSize  = 1 << HugePageShift
)

// AlignDown returns x rounded down to a multiple of align. align must be a
// power of two.
func AlignDown[T constraints.Integer](x, align T) T {
	return x &^ (align - 1)
}

// AlignUp returns x rounded up to a multiple of align. align must be a
// power of two.
func AlignUp[T constraints.Integer](x, align T) T {
	return AlignDown(x+align-1, align)
}

// IsAligned returns true iff x is a multiple of align. align must be a
// power of two.
func IsAligned[T constraints.Integer](x, align T) bool {
	return x&(align-1) == 0
}
