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

package pagetables

import (
	"sync/atomic"

	"pagetables.dev/pagetables/pkg/hostarch"
)

// outstanding counts flush tokens issued but neither flushed nor
// ignored. See LeakCheck.
var outstanding atomic.Int64

// TlbFlush is returned by every single-address mutation. The caller must
// consume it: Flush invalidates the stale translation on the local core,
// Ignore records that the caller batches invalidation itself. Dropping a
// token without a decision leaves a stale TLB entry live.
type TlbFlush[M PagingMetaData] struct {
	vaddr hostarch.VirtAddr
}

func newTlbFlush[M PagingMetaData](vaddr hostarch.VirtAddr) TlbFlush[M] {
	outstanding.Add(1)
	return TlbFlush[M]{vaddr: vaddr}
}

// Flush invalidates the translation of the mutated address.
func (f TlbFlush[M]) Flush() {
	var m M
	m.FlushTLBEntry(f.vaddr)
	outstanding.Add(-1)
}

// Ignore discards the token without invalidating anything.
func (f TlbFlush[M]) Ignore() {
	outstanding.Add(-1)
}

// TlbFlushAll is returned by the region operations. Consuming rules are
// the same as TlbFlush; Flush invalidates all local translations.
type TlbFlushAll[M PagingMetaData] struct{}

func newTlbFlushAll[M PagingMetaData]() TlbFlushAll[M] {
	outstanding.Add(1)
	return TlbFlushAll[M]{}
}

// Flush invalidates all local translations.
func (f TlbFlushAll[M]) Flush() {
	var m M
	m.FlushTLBAll()
	outstanding.Add(-1)
}

// Ignore discards the token without invalidating anything.
func (f TlbFlushAll[M]) Ignore() {
	outstanding.Add(-1)
}

// LeakCheck returns the number of flush tokens that have been issued but
// not consumed. Tests assert it returns to zero; there is no linear type
// to enforce consumption at compile time.
func LeakCheck() int64 {
	return outstanding.Load()
}

// tlbFlusher batches the TLB maintenance of a PageTable32 cursor: it
// records individual addresses up to its buffer size and degrades to a
// full flush beyond that.
type tlbFlusher[M PagingMetaData] struct {
	addrs [8]hostarch.VirtAddr
	n     int
	full  bool
}

func (f *tlbFlusher[M]) push(vaddr hostarch.VirtAddr) {
	if f.full {
		return
	}
	if f.n == len(f.addrs) {
		f.full = true
		return
	}
	f.addrs[f.n] = vaddr
	f.n++
}

func (f *tlbFlusher[M]) flush() {
	var m M
	if f.full {
		m.FlushTLBAll()
	} else {
		for _, vaddr := range f.addrs[:f.n] {
			m.FlushTLBEntry(vaddr)
		}
	}
	f.n = 0
	f.full = false
}
