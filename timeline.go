package vksync

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Marker is a point on a queue's execution timeline: submission number Value
// on queue Queue. Markers on one queue are totally ordered and completion is
// monotonic - marker N complete implies all markers below N are complete.
// The zero Marker means "never submitted".
type Marker struct {
	Queue QueueID
	Value uint64
}

// IsZero reports whether the marker refers to no submission at all.
func (m Marker) IsZero() bool {
	return m.Value == 0
}

type submission struct {
	marker  Marker
	waits   []Marker
	buffers []Handle
}

type queueTimeline struct {
	issued    uint64
	completed uint64
	// failedAt is the value of the first failed submission, 0 if none.
	// Completion never advances past it.
	failedAt uint64
	pending  []submission
}

// Timeline models the GPU execution timeline per queue. It is the single
// source of truth for completion: PollCompleted never reports a marker
// complete before the native primitive has observed it, and never regresses.
type Timeline struct {
	native Native

	mu     sync.Mutex
	queues map[QueueID]*queueTimeline
}

func newTimeline(native Native) *Timeline {
	return &Timeline{native: native, queues: make(map[QueueID]*queueTimeline)}
}

func (t *Timeline) queue(q QueueID) *queueTimeline {
	qt := t.queues[q]
	if qt == nil {
		qt = &queueTimeline{}
		t.queues[q] = qt
	}
	return qt
}

// NextMarker returns a strictly increasing marker for the queue. Only the
// submission coordinator calls this.
func (t *Timeline) NextMarker(q QueueID) Marker {
	t.mu.Lock()
	defer t.mu.Unlock()
	qt := t.queue(q)
	qt.issued++
	return Marker{Queue: q, Value: qt.issued}
}

// RecordSubmission stores the dependency set of a submitted batch. The
// submission retires when its marker completes.
func (t *Timeline) RecordSubmission(q QueueID, m Marker, waits []Marker, buffers []Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	qt := t.queue(q)
	qt.pending = append(qt.pending, submission{marker: m, waits: waits, buffers: buffers})
}

// MarkFailed flags a marker as permanently failed. Completion on its queue
// will never advance to or past it, so resources stamped with it are never
// treated as safe.
func (t *Timeline) MarkFailed(m Marker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	qt := t.queue(m.Queue)
	if qt.failedAt == 0 || m.Value < qt.failedAt {
		qt.failedAt = m.Value
	}
}

// PollCompleted queries the native primitive and returns the newest marker
// value known complete on the queue. The result is clamped monotonic: it
// never regresses across polls, never exceeds the last issued marker, and
// never reaches a failed one. On a poll error the last known value is
// returned along with the error; callers treat that as "nothing new
// retired".
func (t *Timeline) PollCompleted(q QueueID) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	qt := t.queue(q)

	v, err := t.native.QueueCompleted(q)
	if err != nil {
		return qt.completed, errors.Wrapf(err, "poll queue %d", q)
	}
	if v > qt.issued {
		v = qt.issued
	}
	if qt.failedAt != 0 && v >= qt.failedAt {
		v = qt.failedAt - 1
	}
	if v > qt.completed {
		qt.completed = v
	}
	t.retireLocked(qt)
	return qt.completed, nil
}

func (t *Timeline) retireLocked(qt *queueTimeline) {
	n := 0
	for _, s := range qt.pending {
		if s.marker.Value > qt.completed {
			qt.pending[n] = s
			n++
		}
	}
	qt.pending = qt.pending[:n]
}

// Outstanding returns the markers of every submission not yet observed
// complete, across all queues.
func (t *Timeline) Outstanding() []Marker {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Marker
	for _, qt := range t.queues {
		for _, s := range qt.pending {
			out = append(out, s.marker)
		}
	}
	return out
}

// WaitUntil blocks until PollCompleted(m.Queue) >= m.Value or the timeout
// elapses, in which case it returns ErrTimeout. This is the only call in the
// package that blocks the calling thread; it belongs at teardown and bounded
// frame-pacing points, never in the recording path.
func (t *Timeline) WaitUntil(m Marker, timeout time.Duration) error {
	if m.IsZero() {
		return nil
	}
	t.mu.Lock()
	qt := t.queue(m.Queue)
	if qt.failedAt != 0 && m.Value >= qt.failedAt {
		t.mu.Unlock()
		return errors.Wrapf(ErrDeviceLost, "marker %d failed", m.Value)
	}
	done := qt.completed >= m.Value
	t.mu.Unlock()
	if done {
		return nil
	}

	if err := t.native.QueueWait(m.Queue, m.Value, timeout); err != nil {
		return errors.Wrapf(err, "wait for marker %d on queue %d", m.Value, m.Queue)
	}

	v, err := t.PollCompleted(m.Queue)
	if err != nil {
		return err
	}
	if v < m.Value {
		return errors.Wrapf(ErrTimeout, "marker %d on queue %d still pending", m.Value, m.Queue)
	}
	return nil
}
