package vksync

import "github.com/pkg/errors"

// recordAccess is the hazard tracker. It compares a requested
// (stage, access, layout) against the resource's access record, decides
// whether a barrier is required before the new access, and unconditionally
// updates the record. Called with program order of command recording; the
// resource lock serializes concurrent recorders.
//
// A barrier is required when:
//   - the new access writes and the resource has been accessed at all
//     (write-after-read, write-after-write),
//   - the new access reads and the previous access wrote (read-after-write),
//   - the layout changes (including the first use of an image created in
//     LayoutUndefined).
//
// Read-after-read with an unchanged layout needs no barrier; the masks are
// merged into the record instead, so a later write synchronizes against
// every reader. When in doubt the tracker is conservative rather than
// optimal: a redundant barrier costs throughput, a missing one costs
// correctness.
func recordAccess(r *Resource, q QueueID, stage Stage, access Access, layout Layout, debug bool) (Barrier, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.access
	first := prev.Stage == StageNone && prev.Access == AccessNone
	layoutChange := layout != prev.Layout

	hazard := layoutChange
	if !first {
		if access.HasWrite() {
			hazard = true
		} else if prev.Access.HasWrite() {
			hazard = true
		}
	}

	b := Barrier{
		Handle:    r.handle,
		Kind:      r.kind,
		SrcStage:  prev.Stage,
		SrcAccess: prev.Access,
		DstStage:  stage,
		DstAccess: access,
		OldLayout: prev.Layout,
		NewLayout: layout,
	}
	if b.SrcStage == StageNone {
		b.SrcStage = StageTopOfPipe
	}

	// A hazard against another queue - a prior write there, or a new write
	// over its reads - cannot be synchronized with an in-buffer barrier;
	// that needs a semaphore wait at submission. With debug checks on this
	// is surfaced; otherwise fall back to the widest barrier.
	if !first && prev.Queue != q && (prev.Access.HasWrite() || access.HasWrite()) {
		if debug {
			return Barrier{}, false, errors.Wrapf(ErrHazardViolation,
				"%v accessed on queue %d, then on queue %d without a wait", r.kind, prev.Queue, q)
		}
		hazard = true
		b.SrcStage = StageAllCommands
	}

	if hazard {
		r.access = AccessRecord{Stage: stage, Access: access, Layout: layout, Queue: q}
		return b, true, nil
	}

	if first {
		r.access = AccessRecord{Stage: stage, Access: access, Layout: layout, Queue: q}
	} else {
		// Read after read: merge.
		r.access = AccessRecord{
			Stage:  prev.Stage | stage,
			Access: prev.Access | access,
			Layout: layout,
			Queue:  q,
		}
	}
	return Barrier{}, false, nil
}

// coalesce merges the barriers accumulated since the last flush point into
// the smallest set that still satisfies all of them: one barrier per
// resource, with unioned stage and access masks, transitioning from the
// first recorded layout to the last. Redundant barrier chains serialize the
// pipeline; a single merged barrier does not.
func coalesce(barriers []Barrier) []Barrier {
	if len(barriers) <= 1 {
		return barriers
	}

	out := barriers[:0]
	index := make(map[Handle]int, len(barriers))
	for _, b := range barriers {
		i, ok := index[b.Handle]
		if !ok {
			index[b.Handle] = len(out)
			out = append(out, b)
			continue
		}
		m := &out[i]
		m.SrcStage |= b.SrcStage
		m.SrcAccess |= b.SrcAccess
		m.DstStage |= b.DstStage
		m.DstAccess |= b.DstAccess
		// OldLayout stays at the first transition's source; the chain
		// collapses to first -> last.
		m.NewLayout = b.NewLayout
	}
	return out
}
