package vksync

import (
	"log"
	"sync"
	"time"
)

type pendingRelease struct {
	res    *Resource
	marker Marker
}

// ReleaseQueue defers the destruction of resources that may still be in use
// by in-flight GPU work. A resource whose reference count hits zero sits here
// as a pending release until the timeline proves its last touching marker has
// retired. Destroying earlier would be a GPU side use-after-free, the most
// severe class of bug this layer exists to prevent.
type ReleaseQueue struct {
	timeline *Timeline
	registry *Registry

	mu      sync.Mutex
	pending []pendingRelease
}

func newReleaseQueue(timeline *Timeline, registry *Registry) *ReleaseQueue {
	return &ReleaseQueue{timeline: timeline, registry: registry}
}

// Defer inserts a pending release for a resource whose last touching
// submission is marker. A zero marker means the GPU never saw the resource
// and it becomes eligible on the next Collect.
func (q *ReleaseQueue) Defer(res *Resource, marker Marker) {
	q.mu.Lock()
	q.pending = append(q.pending, pendingRelease{res: res, marker: marker})
	q.mu.Unlock()
}

// Collect destroys every pending release whose marker has retired, using a
// single non-blocking poll per queue. Poll errors mean nothing new retired
// on that queue; transient non-completion is expected, not an error. Returns
// the number of resources destroyed.
func (q *ReleaseQueue) Collect() int {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return 0
	}

	completed := make(map[QueueID]uint64)
	for _, p := range q.pending {
		if p.marker.IsZero() {
			continue
		}
		if _, ok := completed[p.marker.Queue]; !ok {
			v, err := q.timeline.PollCompleted(p.marker.Queue)
			if err != nil {
				log.Printf("vksync: poll queue %d: %v", p.marker.Queue, err)
			}
			completed[p.marker.Queue] = v
		}
	}

	var ready []*Resource
	n := 0
	for _, p := range q.pending {
		if q.retired(p, completed) {
			ready = append(ready, p.res)
		} else {
			q.pending[n] = p
			n++
		}
	}
	q.pending = q.pending[:n]
	q.mu.Unlock()

	for _, res := range ready {
		q.registry.destroy(res)
	}
	return len(ready)
}

func (q *ReleaseQueue) retired(p pendingRelease, completed map[QueueID]uint64) bool {
	if p.marker.IsZero() {
		return true
	}
	p.res.mu.Lock()
	failed := p.res.failed
	p.res.mu.Unlock()
	if failed {
		// Stamped by a failed submission: never provably complete.
		return false
	}
	return p.marker.Value <= completed[p.marker.Queue]
}

// WaitAndCollect is the shutdown path: it waits (bounded by timeout per
// marker) on every outstanding submission and then drains the whole queue
// unconditionally. Only valid at teardown, when no new work will be
// submitted.
func (q *ReleaseQueue) WaitAndCollect(timeout time.Duration) error {
	var first error
	for _, m := range q.timeline.Outstanding() {
		if err := q.timeline.WaitUntil(m, timeout); err != nil {
			if first == nil {
				first = err
			}
			log.Printf("vksync: teardown wait for marker %d on queue %d: %v", m.Value, m.Queue, err)
		}
	}

	q.mu.Lock()
	drain := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, p := range drain {
		q.registry.destroy(p.res)
	}
	return first
}

// Pending returns the number of releases still waiting on the timeline.
func (q *ReleaseQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
