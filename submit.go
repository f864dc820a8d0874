package vksync

import "github.com/pkg/errors"

// Submit batches the recorders' command buffers onto a queue. All recorders
// must be Ended, else ErrNotRecorded. The returned marker is the batch's
// completion point; waitOn markers gate execution behind submissions on
// other queues, and signalExtra carries additional native sync handles
// (e.g. a present semaphore) through to the native submission untouched.
//
// The marker is allocated before the native call so a failed submission
// still consumes it, preserving monotonicity. A native failure is fatal for
// the whole context: the marker is flagged failed, every touched resource is
// stamped permanently unsafe, and the device-lost latch trips; there is no
// partial recovery.
func (c *DeviceContext) Submit(queue QueueID, recorders []*Recorder, waitOn []Marker, signalExtra []Handle) (Marker, error) {
	if c.IsLost() {
		return Marker{}, ErrDeviceLost
	}
	for _, r := range recorders {
		if r.state != RecorderEnded {
			return Marker{}, errors.Wrapf(ErrNotRecorded, "recorder in state %v", r.state)
		}
	}

	// Natural GC cadence: reclaim whatever retired since last time.
	if c.opts.CollectEverySubmit {
		c.releases.Collect()
	}

	buffers := make([]Handle, len(recorders))
	for i, r := range recorders {
		buffers[i] = r.handle
	}

	marker := c.timeline.NextMarker(queue)

	if err := c.native.Submit(queue, buffers, waitOn, marker, signalExtra); err != nil {
		c.timeline.MarkFailed(marker)
		c.markLost()
		for _, r := range recorders {
			r.last = marker
			for _, res := range r.touched {
				res.stamp(marker, true)
			}
		}
		return marker, errors.Wrapf(err, "submit to queue %d", queue)
	}

	c.timeline.RecordSubmission(queue, marker, waitOn, buffers)
	for _, r := range recorders {
		r.last = marker
		for _, res := range r.touched {
			res.stamp(marker, false)
		}
	}
	return marker, nil
}
