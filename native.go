package vksync

import "time"

// QueueID identifies one execution queue on the device.
type QueueID uint32

// Handle is an opaque token for a native GPU object. The backend that issued
// it is the only thing that can interpret it; the core only stores and
// compares handles.
type Handle uint64

// ResourceKind classifies what a native handle refers to.
type ResourceKind int32

const (
	KindBuffer ResourceKind = iota
	KindImage
	KindDescriptorSet
	KindPipeline
	KindSyncPrimitive
	KindCommandBuffer
)

func (k ResourceKind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindImage:
		return "image"
	case KindDescriptorSet:
		return "descriptor-set"
	case KindPipeline:
		return "pipeline"
	case KindSyncPrimitive:
		return "sync-primitive"
	case KindCommandBuffer:
		return "command-buffer"
	}
	return "unknown"
}

// MemoryBacked reports whether resources of this kind carry a memory
// allocation that must be bound at creation and freed at destruction.
func (k ResourceKind) MemoryBacked() bool {
	return k == KindBuffer || k == KindImage
}

// CreateParams is what the resource construction layer hands to Create. The
// core reads Size, Align and InitialLayout; Info is an opaque creation blob
// (formats, usage flags, prebuilt pipeline state) interpreted only by the
// Native backend.
type CreateParams struct {
	Size          uint64
	Align         uint64
	InitialLayout Layout
	Info          interface{}
}

// Native is the GPU API surface the core consumes. All operations are
// treated as given, fallible calls; the production implementation wraps
// Vulkan, tests use an in-memory fake.
//
// QueueCompleted exposes the native synchronization primitive as a
// monotonically increasing counter of finished submissions (a timeline
// semaphore value, or a walked fence pool).
type Native interface {
	CreateHandle(kind ResourceKind, params CreateParams, alloc *Allocation) (Handle, error)
	DestroyHandle(kind ResourceKind, h Handle)

	NewCommandBuffer(queue QueueID) (Handle, error)
	BeginCommands(cb Handle) error
	EndCommands(cb Handle) error
	ResetCommands(cb Handle) error

	CmdPipelineBarrier(cb Handle, barriers []Barrier)
	CmdCopyBuffer(cb Handle, src, dst Handle, size uint64)
	CmdFillBuffer(cb Handle, dst Handle, value uint32)
	CmdDispatch(cb Handle, x, y, z uint32)
	CmdDraw(cb Handle, vertexCount, instanceCount uint32)

	Submit(queue QueueID, buffers []Handle, waits []Marker, signal Marker, extra []Handle) error
	QueueCompleted(queue QueueID) (uint64, error)
	QueueWait(queue QueueID, value uint64, timeout time.Duration) error
}
