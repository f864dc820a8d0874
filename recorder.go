package vksync

import "github.com/pkg/errors"

// RecorderState is the lifecycle state of a Recorder.
type RecorderState int32

const (
	RecorderEmpty RecorderState = iota
	RecorderRecording
	RecorderEnded
)

func (s RecorderState) String() string {
	switch s {
	case RecorderEmpty:
		return "empty"
	case RecorderRecording:
		return "recording"
	case RecorderEnded:
		return "ended"
	}
	return "unknown"
}

// ResourceAccess declares how a command touches one resource. Commands with
// implicit accesses (CopyBuffer, FillBuffer) build these themselves; Dispatch
// and Draw take them from the caller, who knows what the bound pipeline
// reads and writes.
type ResourceAccess struct {
	Res    *Resource
	Stage  Stage
	Access Access
	Layout Layout
}

// Recorder accumulates commands into a native command buffer. It is single
// use per submission cycle: Begin, record, End, submit, and Reset only once
// the previous submission has retired. A Recorder instance is not safe for
// concurrent use.
type Recorder struct {
	ctx    *DeviceContext
	queue  QueueID
	handle Handle

	state   RecorderState
	touched []*Resource
	seen    map[*Resource]struct{}
	pending []Barrier

	// last is the marker of this buffer's previous submission. Reset is
	// only legal once it has retired; reusing a command buffer the GPU is
	// still reading is the same hazard class as premature destruction.
	last Marker
}

// NewRecorder allocates a command buffer on the given queue and wraps it in
// a Recorder in the Empty state.
func (c *DeviceContext) NewRecorder(queue QueueID) (*Recorder, error) {
	if c.IsLost() {
		return nil, ErrDeviceLost
	}
	h, err := c.native.NewCommandBuffer(queue)
	if err != nil {
		return nil, errors.Wrap(err, "new recorder")
	}
	return &Recorder{ctx: c, queue: queue, handle: h, seen: make(map[*Resource]struct{})}, nil
}

// Queue returns the queue this recorder's buffer will be submitted to.
func (r *Recorder) Queue() QueueID { return r.queue }

// State returns the recorder's lifecycle state.
func (r *Recorder) State() RecorderState { return r.state }

// Begin transitions Empty -> Recording and opens the native command buffer.
func (r *Recorder) Begin() error {
	if r.ctx.IsLost() {
		return ErrDeviceLost
	}
	if r.state != RecorderEmpty {
		return errors.Wrapf(ErrInvalidState, "begin in state %v", r.state)
	}
	if err := r.ctx.native.BeginCommands(r.handle); err != nil {
		return errors.Wrap(err, "begin commands")
	}
	r.state = RecorderRecording
	return nil
}

// End transitions Recording -> Ended, flushing any pending barriers, and
// makes the buffer eligible for submission. Recording after End fails with
// ErrInvalidState.
func (r *Recorder) End() error {
	if r.state != RecorderRecording {
		return errors.Wrapf(ErrInvalidState, "end in state %v", r.state)
	}
	r.flush()
	if err := r.ctx.native.EndCommands(r.handle); err != nil {
		return errors.Wrap(err, "end commands")
	}
	r.state = RecorderEnded
	return nil
}

// Reset returns an Ended recorder to Empty for reuse. It fails with
// ErrInvalidState while the buffer's previous submission has not retired.
func (r *Recorder) Reset() error {
	if r.state != RecorderEnded {
		return errors.Wrapf(ErrInvalidState, "reset in state %v", r.state)
	}
	if !r.last.IsZero() {
		v, err := r.ctx.timeline.PollCompleted(r.last.Queue)
		if err != nil {
			return err
		}
		if v < r.last.Value {
			return errors.Wrapf(ErrInvalidState,
				"reset while submission %d on queue %d is in flight", r.last.Value, r.last.Queue)
		}
	}
	if err := r.ctx.native.ResetCommands(r.handle); err != nil {
		return errors.Wrap(err, "reset commands")
	}
	r.state = RecorderEmpty
	r.touched = r.touched[:0]
	r.seen = make(map[*Resource]struct{})
	r.pending = r.pending[:0]
	return nil
}

// Destroy releases the native command buffer. The recorder must not be in
// flight; use the release queue path for anything the GPU might still read.
func (r *Recorder) Destroy() {
	r.ctx.native.DestroyHandle(KindCommandBuffer, r.handle)
}

// stage records the declared accesses, collecting any required barriers into
// the pending set. It does not flush; flushing happens immediately before
// the command that needed the barriers is emitted.
func (r *Recorder) stage(accesses []ResourceAccess) error {
	for _, a := range accesses {
		b, needed, err := recordAccess(a.Res, r.queue, a.Stage, a.Access, a.Layout, r.ctx.opts.DebugChecks)
		if err != nil {
			return err
		}
		if needed {
			r.pending = append(r.pending, b)
		}
		r.touch(a.Res)
	}
	return nil
}

func (r *Recorder) touch(res *Resource) {
	if _, ok := r.seen[res]; ok {
		return
	}
	r.seen[res] = struct{}{}
	r.touched = append(r.touched, res)
}

// flush emits the pending barriers, coalesced per resource, as a single
// native pipeline barrier. Flush points are command emission, End, and
// FlushBarriers.
func (r *Recorder) flush() {
	if len(r.pending) == 0 {
		return
	}
	r.ctx.native.CmdPipelineBarrier(r.handle, coalesce(r.pending))
	r.pending = r.pending[:0]
}

// FlushBarriers is an explicit flush point: any barriers accumulated from
// barrier-only recordings (TransitionImage) are emitted now rather than
// before the next command.
func (r *Recorder) FlushBarriers() error {
	if r.state != RecorderRecording {
		return errors.Wrapf(ErrInvalidState, "flush in state %v", r.state)
	}
	r.flush()
	return nil
}

func (r *Recorder) emit(accesses []ResourceAccess, cmd func()) error {
	if r.state != RecorderRecording {
		return errors.Wrapf(ErrInvalidState, "record in state %v", r.state)
	}
	if err := r.stage(accesses); err != nil {
		return err
	}
	r.flush()
	cmd()
	return nil
}

// CopyBuffer records a copy of size bytes from src to dst, declaring the
// transfer read and write accesses itself.
func (r *Recorder) CopyBuffer(src, dst *Resource, size uint64) error {
	return r.emit([]ResourceAccess{
		{Res: src, Stage: StageTransfer, Access: AccessTransferRead},
		{Res: dst, Stage: StageTransfer, Access: AccessTransferWrite},
	}, func() {
		r.ctx.native.CmdCopyBuffer(r.handle, src.handle, dst.handle, size)
	})
}

// FillBuffer records a fill of dst with value.
func (r *Recorder) FillBuffer(dst *Resource, value uint32) error {
	return r.emit([]ResourceAccess{
		{Res: dst, Stage: StageTransfer, Access: AccessTransferWrite},
	}, func() {
		r.ctx.native.CmdFillBuffer(r.handle, dst.handle, value)
	})
}

// Dispatch records a compute dispatch. The accesses describe what the bound
// pipeline reads and writes.
func (r *Recorder) Dispatch(x, y, z uint32, accesses ...ResourceAccess) error {
	return r.emit(accesses, func() {
		r.ctx.native.CmdDispatch(r.handle, x, y, z)
	})
}

// Draw records a draw call. The accesses describe the vertex, index, uniform
// and attachment traffic of the bound pipeline.
func (r *Recorder) Draw(vertexCount, instanceCount uint32, accesses ...ResourceAccess) error {
	return r.emit(accesses, func() {
		r.ctx.native.CmdDraw(r.handle, vertexCount, instanceCount)
	})
}

// TransitionImage records a layout transition for img without emitting a
// command. The barrier joins the pending set and is flushed at the next
// flush point, coalescing with any barriers recorded alongside it.
func (r *Recorder) TransitionImage(img *Resource, stage Stage, access Access, layout Layout) error {
	if r.state != RecorderRecording {
		return errors.Wrapf(ErrInvalidState, "record in state %v", r.state)
	}
	return r.stage([]ResourceAccess{{Res: img, Stage: stage, Access: access, Layout: layout}})
}
