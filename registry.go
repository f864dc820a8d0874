package vksync

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ResourceID is a generational index into the registry's arena. A stale ID
// (one whose slot has been reused) never reaches the wrong resource.
type ResourceID struct {
	Index      uint32
	Generation uint32
}

// Resource wraps a native GPU object handle. The registry is the sole owner
// of the handle; everything else holds *Resource and adjusts the reference
// count through Retain and Release.
type Resource struct {
	id     ResourceID
	kind   ResourceKind
	handle Handle
	alloc  *Allocation

	refs int32

	// mu guards the access record and the last touching marker. The hazard
	// tracker requires a single writer at a time; concurrent recorders
	// touching the same resource must be serialized by the caller.
	mu     sync.Mutex
	access AccessRecord
	last   Marker
	failed bool
}

func (r *Resource) ID() ResourceID     { return r.id }
func (r *Resource) Kind() ResourceKind { return r.kind }
func (r *Resource) Handle() Handle     { return r.handle }

// LastMarker returns the marker of the most recent submission that touched
// this resource. A zero marker means the resource was never submitted.
func (r *Resource) LastMarker() Marker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Resource) stamp(m Marker, failed bool) {
	r.mu.Lock()
	r.last = m
	if failed {
		r.failed = true
	}
	r.mu.Unlock()
}

type registrySlot struct {
	gen uint32
	res *Resource
}

// Registry owns every native handle the core manages. Resources live in an
// arena keyed by generational indices; reference counting is layered on top
// at the API boundary only.
type Registry struct {
	native Native
	alloc  Allocator

	mu    sync.Mutex
	slots []registrySlot
	free  []uint32

	// onZero receives resources whose reference count reached zero. Wired
	// to ReleaseQueue.Defer by the device context.
	onZero func(r *Resource)
}

func newRegistry(native Native, alloc Allocator, onZero func(*Resource)) *Registry {
	return &Registry{native: native, alloc: alloc, onZero: onZero}
}

// Create allocates memory for memory-backed kinds, creates the native
// handle, and registers the resource with one reference and a no-prior-access
// record.
func (g *Registry) Create(kind ResourceKind, params CreateParams) (*Resource, error) {
	var alloc *Allocation
	if kind.MemoryBacked() && params.Size > 0 {
		var err error
		alloc, err = g.alloc.Allocate(params.Size, params.Align)
		if err != nil {
			return nil, errors.Wrapf(err, "create %v", kind)
		}
	}

	handle, err := g.native.CreateHandle(kind, params, alloc)
	if err != nil {
		if alloc != nil {
			g.alloc.Free(alloc)
		}
		return nil, errors.Wrapf(err, "create %v", kind)
	}

	res := &Resource{
		kind:   kind,
		handle: handle,
		alloc:  alloc,
		refs:   1,
		access: AccessRecord{Layout: params.InitialLayout},
	}

	g.mu.Lock()
	if n := len(g.free); n > 0 {
		idx := g.free[n-1]
		g.free = g.free[:n-1]
		g.slots[idx].res = res
		res.id = ResourceID{Index: idx, Generation: g.slots[idx].gen}
	} else {
		g.slots = append(g.slots, registrySlot{gen: 1, res: res})
		res.id = ResourceID{Index: uint32(len(g.slots) - 1), Generation: 1}
	}
	g.mu.Unlock()

	return res, nil
}

// Lookup resolves a ResourceID, returning nil for stale or never-issued IDs.
func (g *Registry) Lookup(id ResourceID) *Resource {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id.Index >= uint32(len(g.slots)) {
		return nil
	}
	s := g.slots[id.Index]
	if s.gen != id.Generation {
		return nil
	}
	return s.res
}

// Retain adds a reference. Safe from multiple threads.
func (g *Registry) Retain(r *Resource) {
	atomic.AddInt32(&r.refs, 1)
}

// Release drops a reference. When the count reaches zero the resource is
// handed to the release queue, not destroyed immediately; the GPU may still
// be using it.
func (g *Registry) Release(r *Resource) error {
	n := atomic.AddInt32(&r.refs, -1)
	if n < 0 {
		atomic.AddInt32(&r.refs, 1)
		return errors.Wrap(ErrInvalidState, "release of dead resource")
	}
	if n == 0 {
		g.onZero(r)
	}
	return nil
}

// destroy materializes the destruction of a resource: native handle first,
// then its memory allocation, then the arena slot. Called only from the
// release queue once the resource's last marker has retired.
func (g *Registry) destroy(r *Resource) {
	g.mu.Lock()
	id := r.id
	if id.Index >= uint32(len(g.slots)) || g.slots[id.Index].gen != id.Generation || g.slots[id.Index].res != r {
		// Stale ID: already destroyed.
		g.mu.Unlock()
		return
	}
	g.slots[id.Index].res = nil
	g.slots[id.Index].gen++
	g.free = append(g.free, id.Index)
	g.mu.Unlock()

	g.native.DestroyHandle(r.kind, r.handle)
	if r.alloc != nil {
		g.alloc.Free(r.alloc)
	}
}

// Live returns the number of resources currently registered.
func (g *Registry) Live() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots) - len(g.free)
}
