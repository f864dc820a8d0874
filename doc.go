/*
Package vksync implements the resource lifetime and synchronization core that
sits between an application and an explicit GPU API such as Vulkan. Explicit
APIs push an enormous amount of bookkeeping onto the application: every buffer,
image and pipeline must not be destroyed while the GPU may still read it, every
pair of conflicting accesses to the same resource needs a pipeline barrier, and
every command buffer may only be reset once its previous submission has
retired. Getting any of these wrong does not produce an error - it produces
corrupted frames or a lost device, usually intermittently.

This package tracks all of that as data. Work in flight is represented by
Markers, which are (queue, counter) pairs on a per queue timeline. Submitting
command buffers allocates the next marker; polling the underlying fence tells
us the highest marker the GPU has finished. Everything else derives from
marker comparisons:

	Registry	reference counted wrappers which own native handle destruction
	Timeline	per queue monotonic submission counters and completion polling
	ReleaseQueue	holds zero reference resources until their last marker retires
	Recorder	command buffer state machine, inserts barriers before hazards
	Submit		batches recorders onto a queue and stamps touched resources

The package deliberately does not wrap the construction side of the API -
pipeline state, descriptor layouts, swapchains and shader modules are simple
parameter translation and are expected to be handled by the caller, which
hands the resulting creation parameters to Create as an opaque blob. The
native API itself is consumed through the Native interface, with a Vulkan
implementation provided in this package.

A typical frame looks like:

	rec.Begin()
	rec.CopyBuffer(staging, vertices, size)
	rec.Draw(n, 1, vksync.ResourceAccess{Res: vertices, Stage: vksync.StageVertexInput, Access: vksync.AccessVertexAttributeRead})
	rec.End()
	marker, err := ctx.Submit(queue, []*vksync.Recorder{rec}, nil, nil)
	...
	ctx.Collect()

Barriers are computed automatically from the declared accesses, coalesced per
resource, and emitted immediately before the command that needs them.
*/
package vksync
