package vksync

import (
	"fmt"

	"github.com/pkg/errors"
)

// Allocation is a sub-range of a larger device memory block. The core never
// inspects the backing memory; it only associates allocations with resource
// lifetimes and frees them through the release queue.
type Allocation struct {
	Offset uint64
	Size   uint64
}

func (a *Allocation) String() string {
	return fmt.Sprintf("[%d %d]", a.Offset, a.Size)
}

// Allocator sub-allocates a fixed device memory block. Free is only called
// from the release queue's materialization step, never eagerly.
type Allocator interface {
	Allocate(size uint64, align uint64) (*Allocation, error)
	Free(a *Allocation)
}

// LinearAllocator hands out ranges of a single block, first fit, reusing
// gaps left by freed allocations.
type LinearAllocator struct {
	Size   uint64
	allocs []*Allocation
}

func makeAlignUp(a uint64, align uint64) uint64 {
	m := a % align
	if m == 0 {
		return a
	}
	a = (a - m) + align
	return a
}

func (p *LinearAllocator) Free(fa *Allocation) {
	fi := -1
	for i, a := range p.allocs {
		if a == fa {
			fi = i
		}
	}
	if fi != -1 {
		p.allocs = append(p.allocs[:fi], p.allocs[fi+1:]...)
	}
}

func (p *LinearAllocator) Allocate(size uint64, align uint64) (*Allocation, error) {
	if align == 0 {
		align = 1
	}

	if len(p.allocs) == 0 {
		if size > p.Size {
			return nil, errors.Wrapf(ErrAllocationExhausted, "size %d exceeds pool %d", size, p.Size)
		}
		na := &Allocation{Offset: 0, Size: size}
		p.allocs = append(p.allocs, na)
		return na, nil
	}

	// Room before the first allocation? Offset 0 satisfies any alignment.
	if p.allocs[0].Offset >= size {
		na := &Allocation{Offset: 0, Size: size}
		p.allocs = append([]*Allocation{na}, p.allocs...)
		return na, nil
	}

	for i := 0; i < len(p.allocs); i++ {
		c := p.allocs[i]
		if i+1 < len(p.allocs) {
			n := p.allocs[i+1]

			l := makeAlignUp(c.Offset+c.Size, align)
			h := n.Offset

			if h > l && h-l >= size {
				// FIXME: this should examine all possible gaps and choose the best
				na := &Allocation{Offset: l, Size: size}
				p.allocs = append(p.allocs[:i+1], append([]*Allocation{na}, p.allocs[i+1:]...)...)
				return na, nil
			}
		}
	}

	l := p.allocs[len(p.allocs)-1]
	nl := makeAlignUp(l.Offset+l.Size, align)
	if p.Size >= nl && p.Size-nl >= size {
		na := &Allocation{Offset: nl, Size: size}
		p.allocs = append(p.allocs, na)
		return na, nil
	}

	return nil, errors.Wrapf(ErrAllocationExhausted, "no gap of %d bytes", size)
}

func (p *LinearAllocator) String() string {
	return fmt.Sprintf("%v", p.allocs)
}
