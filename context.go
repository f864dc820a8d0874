package vksync

import (
	"errors"
	"sync/atomic"
)

// DeviceContext ties the core together for one logical device: registry,
// timeline, release queue and the device-lost latch. There is no ambient
// global state; multiple contexts in one process stay isolated.
type DeviceContext struct {
	opts   Options
	native Native
	alloc  Allocator

	registry *Registry
	timeline *Timeline
	releases *ReleaseQueue

	lost int32
}

// NewDeviceContext builds a context over a native backend and a memory
// allocator. The allocator is the external collaborator of the design; the
// in-tree LinearAllocator suffices for a single memory block.
func NewDeviceContext(native Native, alloc Allocator, opts Options) (*DeviceContext, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	c := &DeviceContext{opts: opts, native: native, alloc: alloc}
	c.timeline = newTimeline(native)
	c.registry = newRegistry(native, alloc, c.onZeroRefs)
	c.releases = newReleaseQueue(c.timeline, c.registry)
	return c, nil
}

func (c *DeviceContext) onZeroRefs(r *Resource) {
	c.releases.Defer(r, r.LastMarker())
}

func (c *DeviceContext) markLost() {
	atomic.StoreInt32(&c.lost, 1)
}

// IsLost reports whether the device context has been invalidated by a fatal
// error. Once lost, every subsequent operation fails with ErrDeviceLost
// until the caller rebuilds the context.
func (c *DeviceContext) IsLost() bool {
	return atomic.LoadInt32(&c.lost) != 0
}

// Create allocates and registers a resource of the given kind. See
// Registry.Create.
func (c *DeviceContext) Create(kind ResourceKind, params CreateParams) (*Resource, error) {
	if c.IsLost() {
		return nil, ErrDeviceLost
	}
	res, err := c.registry.Create(kind, params)
	if err != nil {
		if isLost(err) {
			c.markLost()
		}
		return nil, err
	}
	return res, nil
}

// Retain adds a reference to a resource.
func (c *DeviceContext) Retain(r *Resource) {
	c.registry.Retain(r)
}

// Release drops a reference; the last release hands the resource to the
// deferred destruction queue.
func (c *DeviceContext) Release(r *Resource) error {
	return c.registry.Release(r)
}

// Collect reclaims every pending release whose last marker has retired.
// Non-blocking; call once per frame (Submit also runs it when
// Options.CollectEverySubmit is set).
func (c *DeviceContext) Collect() int {
	return c.releases.Collect()
}

// WaitUntil blocks until the marker completes or Options.WaitTimeout
// expires.
func (c *DeviceContext) WaitUntil(m Marker) error {
	return c.timeline.WaitUntil(m, c.opts.WaitTimeout)
}

// PollCompleted returns the newest marker value known complete on the
// queue. Monotonic across calls.
func (c *DeviceContext) PollCompleted(q QueueID) (uint64, error) {
	return c.timeline.PollCompleted(q)
}

// WaitAndCollect waits for every outstanding submission and drains the
// release queue. Teardown only.
func (c *DeviceContext) WaitAndCollect() error {
	return c.releases.WaitAndCollect(c.opts.WaitTimeout)
}

func isLost(err error) bool {
	return errors.Is(err, ErrDeviceLost)
}
