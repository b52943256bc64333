// Package bufpool keeps reusable byte slices in size classes so that
// per-frame buffers on busy connections do not churn the GC.
//
//	buf := bufpool.Get(n)
//	defer bufpool.Put(buf)
//
// Requests larger than the biggest class are allocated directly and are
// dropped by Put.
package bufpool

import (
	"slices"
	"sync"
)

// DefaultClasses cover a small SMB reply, a share enumeration and a full
// 1MiB frame plus its 4 byte session header.
var DefaultClasses = []int{4 << 10, 64 << 10, 1<<20 + 4}

// Pool is a set of sync.Pools, one per size class. Safe for concurrent use.
type Pool struct {
	classes []int
	pools   []sync.Pool
}

// NewPool returns a pool with the given class sizes. Non-positive sizes are
// ignored and duplicates collapse. With no usable sizes DefaultClasses is
// used.
func NewPool(classes ...int) *Pool {
	sizes := make([]int, 0, len(classes))
	for _, c := range classes {
		if c > 0 {
			sizes = append(sizes, c)
		}
	}
	if len(sizes) == 0 {
		sizes = append(sizes, DefaultClasses...)
	}
	slices.Sort(sizes)
	sizes = slices.Compact(sizes)

	p := &Pool{classes: sizes, pools: make([]sync.Pool, len(sizes))}
	for i, size := range sizes {
		p.pools[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

// Classes returns the class sizes in ascending order.
func (p *Pool) Classes() []int { return slices.Clone(p.classes) }

func (p *Pool) class(size int) int {
	i, _ := slices.BinarySearch(p.classes, size)
	return i
}

// Get returns a slice of length size. Its capacity is the class size.
func (p *Pool) Get(size int) []byte {
	if size < 0 {
		size = 0
	}
	i := p.class(size)
	if i == len(p.classes) {
		return make([]byte, size)
	}
	b := *(p.pools[i].Get().(*[]byte))
	return b[:size]
}

// Put hands buf back. Slices whose capacity is not exactly a class size,
// including oversized direct allocations, are left to the GC.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	i, ok := slices.BinarySearch(p.classes, cap(buf))
	if !ok {
		return
	}
	full := buf[:cap(buf)]
	p.pools[i].Put(&full)
}

var defaultPool = NewPool()

// Get takes a buffer from the process-wide pool.
func Get(size int) []byte { return defaultPool.Get(size) }

// Put returns a buffer taken with Get.
func Put(buf []byte) { defaultPool.Put(buf) }
