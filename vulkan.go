package vksync

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// BufferInfo is the creation blob for KindBuffer resources, supplied by the
// resource construction layer through CreateParams.Info.
type BufferInfo struct {
	Usage   vk.BufferUsageFlagBits
	Sharing vk.SharingMode
}

// ImageInfo is the creation blob for KindImage resources.
type ImageInfo struct {
	Extent vk.Extent2D
	Format vk.Format
	Tiling vk.ImageTiling
	Usage  vk.ImageUsageFlagBits
}

// AdoptedPipeline hands an already-built pipeline to the core for lifecycle
// management. Pipeline construction itself stays with the caller.
type AdoptedPipeline struct {
	VKPipeline vk.Pipeline
}

// AdoptedDescriptorSet hands an already-allocated descriptor set to the core.
// The set is returned to its pool on destruction; the pool remains owned by
// the caller.
type AdoptedDescriptorSet struct {
	VKDescriptorPool vk.DescriptorPool
	VKDescriptorSet  vk.DescriptorSet
}

// VulkanQueueInfo describes one device queue handed to NewVulkanBackend.
type VulkanQueueInfo struct {
	VKQueue vk.Queue
	Family  uint32
}

// signalSema is a per-submission binary semaphore with the bookkeeping needed
// to recycle it safely. The source submission holds one reference until its
// fence retires; a batch waiting on the semaphore holds another until its own
// fence retires. Destroying earlier would pull the semaphore out from under a
// batch that still references it.
type signalSema struct {
	sema    vk.Semaphore
	claimed bool
	refs    int
}

// release drops one reference and reports whether the semaphore may be
// destroyed.
func (s *signalSema) release() bool {
	s.refs--
	return s.refs == 0
}

// submitFence pairs a submission's fence with its marker value. done is set
// once the fence has been observed signaled; the fence is only destroyed when
// done and no host thread is pinned on it in WaitForFences.
type submitFence struct {
	value   uint64
	fence   vk.Fence
	done    bool
	waiters int

	signal *signalSema
	waits  []*signalSema
}

type vulkanQueue struct {
	queue     vk.Queue
	family    uint32
	pool      vk.CommandPool
	fences    []*submitFence
	semas     map[uint64]*signalSema
	completed uint64
}

// claimWait resolves a wait on marker value against this queue. It returns the
// marker's signal semaphore when it is still unclaimed, or the in-flight fence
// to finish the wait on the host when the semaphore has already been consumed
// by another batch (a binary semaphore supports exactly one waiter). Both are
// nil when the marker has already retired.
func (q *vulkanQueue) claimWait(value uint64) (*signalSema, *submitFence) {
	if value <= q.completed {
		return nil, nil
	}
	if s, ok := q.semas[value]; ok && !s.claimed {
		s.claimed = true
		s.refs++
		return s, nil
	}
	for _, sf := range q.fences {
		if sf.value >= value && !sf.done {
			return nil, sf
		}
	}
	return nil, nil
}

// popRetired removes and returns the front run of fences that have signaled
// and have no pinned waiters. Fences signal in submission order, so recycling
// stays in order too.
func (q *vulkanQueue) popRetired() []*submitFence {
	n := 0
	for n < len(q.fences) && q.fences[n].done && q.fences[n].waiters == 0 {
		n++
	}
	out := q.fences[:n]
	q.fences = q.fences[n:]
	return out
}

// VulkanBackend implements Native over github.com/vulkan-go/vulkan. It owns
// one device memory block that the core's Allocator sub-allocates, one
// command pool per queue, and a fence per submission which backs the
// queue-completion counter.
type VulkanBackend struct {
	VKDevice vk.Device

	mu       sync.Mutex
	next     Handle
	buffers  map[Handle]vk.Buffer
	images   map[Handle]vk.Image
	semas    map[Handle]vk.Semaphore
	pipes    map[Handle]vk.Pipeline
	descs    map[Handle]AdoptedDescriptorSet
	cmdbufs  map[Handle]vk.CommandBuffer
	cmdqueue map[Handle]QueueID
	memory   vk.DeviceMemory
	queues   map[QueueID]*vulkanQueue
}

// NewVulkanBackend allocates the backing memory block and a command pool per
// queue. memoryTypeIndex and memorySize come from the caller's physical
// device query; the core's Allocator must be sized to memorySize.
func NewVulkanBackend(device vk.Device, queues map[QueueID]VulkanQueueInfo, memoryTypeIndex uint32, memorySize uint64) (*VulkanBackend, error) {
	b := &VulkanBackend{
		VKDevice: device,
		buffers:  make(map[Handle]vk.Buffer),
		images:   make(map[Handle]vk.Image),
		semas:    make(map[Handle]vk.Semaphore),
		pipes:    make(map[Handle]vk.Pipeline),
		descs:    make(map[Handle]AdoptedDescriptorSet),
		cmdbufs:  make(map[Handle]vk.CommandBuffer),
		cmdqueue: make(map[Handle]QueueID),
		queues:   make(map[QueueID]*vulkanQueue),
	}

	var allocateInfo = vk.MemoryAllocateInfo{}
	allocateInfo.SType = vk.StructureTypeMemoryAllocateInfo
	allocateInfo.AllocationSize = vk.DeviceSize(memorySize)
	allocateInfo.MemoryTypeIndex = memoryTypeIndex

	err := vkResult(vk.AllocateMemory(device, &allocateInfo, nil, &b.memory))
	if err != nil {
		return nil, errors.Wrap(err, "allocate device memory")
	}

	for id, info := range queues {
		var poolCreateInfo = vk.CommandPoolCreateInfo{}
		poolCreateInfo.SType = vk.StructureTypeCommandPoolCreateInfo
		poolCreateInfo.Flags = vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit)
		poolCreateInfo.QueueFamilyIndex = info.Family

		var pool vk.CommandPool
		err := vkResult(vk.CreateCommandPool(device, &poolCreateInfo, nil, &pool))
		if err != nil {
			b.Destroy()
			return nil, errors.Wrapf(err, "command pool for queue %d", id)
		}
		b.queues[id] = &vulkanQueue{
			queue:  info.VKQueue,
			family: info.Family,
			pool:   pool,
			semas:  make(map[uint64]*signalSema),
		}
	}

	return b, nil
}

// Destroy tears down everything the backend owns. Call only after
// WaitAndCollect has drained the context.
func (b *VulkanBackend) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	semas := make(map[*signalSema]struct{})
	for _, q := range b.queues {
		for _, sf := range q.fences {
			vk.DestroyFence(b.VKDevice, sf.fence, nil)
			if sf.signal != nil {
				semas[sf.signal] = struct{}{}
			}
			for _, w := range sf.waits {
				semas[w] = struct{}{}
			}
		}
		for _, s := range q.semas {
			semas[s] = struct{}{}
		}
		if q.pool != vk.NullCommandPool {
			vk.DestroyCommandPool(b.VKDevice, q.pool, nil)
		}
	}
	for s := range semas {
		vk.DestroySemaphore(b.VKDevice, s.sema, nil)
	}
	if b.memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.VKDevice, b.memory, nil)
		b.memory = vk.NullDeviceMemory
	}
}

func (b *VulkanBackend) handle() Handle {
	b.next++
	return b.next
}

func (b *VulkanBackend) CreateHandle(kind ResourceKind, params CreateParams, alloc *Allocation) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch kind {
	case KindBuffer:
		info, ok := params.Info.(BufferInfo)
		if !ok {
			return 0, errors.Wrap(ErrInvalidState, "buffer create without BufferInfo")
		}
		var bufferCreateInfo = vk.BufferCreateInfo{}
		bufferCreateInfo.SType = vk.StructureTypeBufferCreateInfo
		bufferCreateInfo.Size = vk.DeviceSize(params.Size)
		bufferCreateInfo.Usage = vk.BufferUsageFlags(info.Usage)
		bufferCreateInfo.SharingMode = info.Sharing

		var buffer vk.Buffer
		if err := vkResult(vk.CreateBuffer(b.VKDevice, &bufferCreateInfo, nil, &buffer)); err != nil {
			return 0, err
		}
		if alloc != nil {
			if err := vkResult(vk.BindBufferMemory(b.VKDevice, buffer, b.memory, vk.DeviceSize(alloc.Offset))); err != nil {
				vk.DestroyBuffer(b.VKDevice, buffer, nil)
				return 0, err
			}
		}
		h := b.handle()
		b.buffers[h] = buffer
		return h, nil

	case KindImage:
		info, ok := params.Info.(ImageInfo)
		if !ok {
			return 0, errors.Wrap(ErrInvalidState, "image create without ImageInfo")
		}
		var imageCreateInfo = vk.ImageCreateInfo{}
		imageCreateInfo.SType = vk.StructureTypeImageCreateInfo
		imageCreateInfo.ImageType = vk.ImageType2d
		imageCreateInfo.Format = info.Format
		imageCreateInfo.Extent = vk.Extent3D{Width: info.Extent.Width, Height: info.Extent.Height, Depth: 1}
		imageCreateInfo.MipLevels = 1
		imageCreateInfo.ArrayLayers = 1
		imageCreateInfo.Samples = vk.SampleCount1Bit
		imageCreateInfo.Tiling = info.Tiling
		imageCreateInfo.Usage = vk.ImageUsageFlags(info.Usage)
		imageCreateInfo.SharingMode = vk.SharingModeExclusive
		imageCreateInfo.InitialLayout = vk.ImageLayoutUndefined

		var image vk.Image
		if err := vkResult(vk.CreateImage(b.VKDevice, &imageCreateInfo, nil, &image)); err != nil {
			return 0, err
		}
		if alloc != nil {
			if err := vkResult(vk.BindImageMemory(b.VKDevice, image, b.memory, vk.DeviceSize(alloc.Offset))); err != nil {
				vk.DestroyImage(b.VKDevice, image, nil)
				return 0, err
			}
		}
		h := b.handle()
		b.images[h] = image
		return h, nil

	case KindSyncPrimitive:
		semaphoreCreateInfo := vk.SemaphoreCreateInfo{
			SType: vk.StructureTypeSemaphoreCreateInfo,
		}
		var sema vk.Semaphore
		if err := vkResult(vk.CreateSemaphore(b.VKDevice, &semaphoreCreateInfo, nil, &sema)); err != nil {
			return 0, err
		}
		h := b.handle()
		b.semas[h] = sema
		return h, nil

	case KindPipeline:
		info, ok := params.Info.(AdoptedPipeline)
		if !ok {
			return 0, errors.Wrap(ErrInvalidState, "pipeline create without AdoptedPipeline")
		}
		h := b.handle()
		b.pipes[h] = info.VKPipeline
		return h, nil

	case KindDescriptorSet:
		info, ok := params.Info.(AdoptedDescriptorSet)
		if !ok {
			return 0, errors.Wrap(ErrInvalidState, "descriptor set create without AdoptedDescriptorSet")
		}
		h := b.handle()
		b.descs[h] = info
		return h, nil
	}

	return 0, errors.Wrapf(ErrInvalidState, "cannot create %v", kind)
}

func (b *VulkanBackend) DestroyHandle(kind ResourceKind, h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch kind {
	case KindBuffer:
		if buf, ok := b.buffers[h]; ok {
			vk.DestroyBuffer(b.VKDevice, buf, nil)
			delete(b.buffers, h)
		}
	case KindImage:
		if img, ok := b.images[h]; ok {
			vk.DestroyImage(b.VKDevice, img, nil)
			delete(b.images, h)
		}
	case KindSyncPrimitive:
		if s, ok := b.semas[h]; ok {
			vk.DestroySemaphore(b.VKDevice, s, nil)
			delete(b.semas, h)
		}
	case KindPipeline:
		if p, ok := b.pipes[h]; ok {
			vk.DestroyPipeline(b.VKDevice, p, nil)
			delete(b.pipes, h)
		}
	case KindDescriptorSet:
		if d, ok := b.descs[h]; ok {
			vk.FreeDescriptorSets(b.VKDevice, d.VKDescriptorPool, 1, &d.VKDescriptorSet)
			delete(b.descs, h)
		}
	case KindCommandBuffer:
		if cb, ok := b.cmdbufs[h]; ok {
			q := b.queues[b.cmdqueue[h]]
			vk.FreeCommandBuffers(b.VKDevice, q.pool, 1, []vk.CommandBuffer{cb})
			delete(b.cmdbufs, h)
			delete(b.cmdqueue, h)
		}
	}
}

func (b *VulkanBackend) NewCommandBuffer(queue QueueID) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidState, "unknown queue %d", queue)
	}

	var commandBufferAllocateInfo = vk.CommandBufferAllocateInfo{}
	commandBufferAllocateInfo.SType = vk.StructureTypeCommandBufferAllocateInfo
	commandBufferAllocateInfo.CommandPool = q.pool
	commandBufferAllocateInfo.Level = vk.CommandBufferLevelPrimary
	commandBufferAllocateInfo.CommandBufferCount = 1

	cmdBuffers := make([]vk.CommandBuffer, 1)
	if err := vkResult(vk.AllocateCommandBuffers(b.VKDevice, &commandBufferAllocateInfo, cmdBuffers)); err != nil {
		return 0, err
	}

	h := b.handle()
	b.cmdbufs[h] = cmdBuffers[0]
	b.cmdqueue[h] = queue
	return h, nil
}

func (b *VulkanBackend) commandBuffer(h Handle) vk.CommandBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cmdbufs[h]
}

func (b *VulkanBackend) BeginCommands(cb Handle) error {
	var beginInfo = vk.CommandBufferBeginInfo{}
	beginInfo.SType = vk.StructureTypeCommandBufferBeginInfo
	beginInfo.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	return vkResult(vk.BeginCommandBuffer(b.commandBuffer(cb), &beginInfo))
}

func (b *VulkanBackend) EndCommands(cb Handle) error {
	return vkResult(vk.EndCommandBuffer(b.commandBuffer(cb)))
}

func (b *VulkanBackend) ResetCommands(cb Handle) error {
	return vkResult(vk.ResetCommandBuffer(b.commandBuffer(cb), vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit)))
}

func (b *VulkanBackend) CmdPipelineBarrier(cb Handle, barriers []Barrier) {
	var srcStages, dstStages vk.PipelineStageFlags
	var bufferBarriers []vk.BufferMemoryBarrier
	var imageBarriers []vk.ImageMemoryBarrier

	b.mu.Lock()
	for _, bar := range barriers {
		srcStages |= stageToVK(bar.SrcStage)
		dstStages |= stageToVK(bar.DstStage)

		switch bar.Kind {
		case KindImage:
			var barrier = vk.ImageMemoryBarrier{}
			barrier.SType = vk.StructureTypeImageMemoryBarrier
			barrier.SrcAccessMask = accessToVK(bar.SrcAccess)
			barrier.DstAccessMask = accessToVK(bar.DstAccess)
			barrier.OldLayout = layoutToVK(bar.OldLayout)
			barrier.NewLayout = layoutToVK(bar.NewLayout)
			barrier.SrcQueueFamilyIndex = vk.QueueFamilyIgnored
			barrier.DstQueueFamilyIndex = vk.QueueFamilyIgnored
			barrier.Image = b.images[bar.Handle]
			barrier.SubresourceRange.AspectMask = vk.ImageAspectFlags(vk.ImageAspectColorBit)
			barrier.SubresourceRange.BaseMipLevel = 0
			barrier.SubresourceRange.LevelCount = 1
			barrier.SubresourceRange.BaseArrayLayer = 0
			barrier.SubresourceRange.LayerCount = 1
			imageBarriers = append(imageBarriers, barrier)
		case KindBuffer:
			var barrier = vk.BufferMemoryBarrier{}
			barrier.SType = vk.StructureTypeBufferMemoryBarrier
			barrier.SrcAccessMask = accessToVK(bar.SrcAccess)
			barrier.DstAccessMask = accessToVK(bar.DstAccess)
			barrier.SrcQueueFamilyIndex = vk.QueueFamilyIgnored
			barrier.DstQueueFamilyIndex = vk.QueueFamilyIgnored
			barrier.Buffer = b.buffers[bar.Handle]
			barrier.Offset = 0
			barrier.Size = vk.DeviceSize(vk.WholeSize)
			bufferBarriers = append(bufferBarriers, barrier)
		}
	}
	b.mu.Unlock()

	vk.CmdPipelineBarrier(b.commandBuffer(cb), srcStages, dstStages, 0,
		0, nil,
		uint32(len(bufferBarriers)), bufferBarriers,
		uint32(len(imageBarriers)), imageBarriers)
}

func (b *VulkanBackend) CmdCopyBuffer(cb Handle, src, dst Handle, size uint64) {
	b.mu.Lock()
	srcBuf := b.buffers[src]
	dstBuf := b.buffers[dst]
	b.mu.Unlock()
	vk.CmdCopyBuffer(b.commandBuffer(cb), srcBuf, dstBuf, 1, []vk.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: vk.DeviceSize(size)},
	})
}

func (b *VulkanBackend) CmdFillBuffer(cb Handle, dst Handle, value uint32) {
	b.mu.Lock()
	dstBuf := b.buffers[dst]
	b.mu.Unlock()
	vk.CmdFillBuffer(b.commandBuffer(cb), dstBuf, 0, vk.DeviceSize(vk.WholeSize), value)
}

func (b *VulkanBackend) CmdDispatch(cb Handle, x, y, z uint32) {
	vk.CmdDispatch(b.commandBuffer(cb), x, y, z)
}

func (b *VulkanBackend) CmdDraw(cb Handle, vertexCount, instanceCount uint32) {
	vk.CmdDraw(b.commandBuffer(cb), vertexCount, instanceCount, 0, 0)
}

func (b *VulkanBackend) unclaim(claimed []*signalSema) {
	for _, s := range claimed {
		s.claimed = false
		s.refs--
	}
}

// Submit issues the batch with a fresh fence for completion polling and a
// fresh semaphore signaled at the marker. Wait markers already observed
// complete are skipped; the rest claim the signal semaphore of their source
// submission. A semaphore already claimed by an earlier batch cannot be
// waited on twice, so that wait is finished on the host instead.
func (b *VulkanBackend) Submit(queue QueueID, buffers []Handle, waits []Marker, signal Marker, extra []Handle) error {
	b.mu.Lock()

	q, ok := b.queues[queue]
	if !ok {
		b.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "unknown queue %d", queue)
	}

	cbs := make([]vk.CommandBuffer, len(buffers))
	for i, h := range buffers {
		cbs[i] = b.cmdbufs[h]
	}

	var waitSemas []vk.Semaphore
	var claimed []*signalSema
	var hostWaits []*submitFence
	for _, w := range waits {
		wq, ok := b.queues[w.Queue]
		if !ok {
			continue
		}
		s, sf := wq.claimWait(w.Value)
		if s != nil {
			waitSemas = append(waitSemas, s.sema)
			claimed = append(claimed, s)
		}
		if sf != nil {
			sf.waiters++
			hostWaits = append(hostWaits, sf)
		}
	}

	if len(hostWaits) > 0 {
		b.mu.Unlock()
		var waitErr error
		for _, sf := range hostWaits {
			err := vkResult(vk.WaitForFences(b.VKDevice, 1, []vk.Fence{sf.fence}, vk.True, ^uint64(0)))
			if err != nil && waitErr == nil {
				waitErr = err
			}
		}
		b.mu.Lock()
		for _, sf := range hostWaits {
			sf.waiters--
		}
		if waitErr != nil {
			b.unclaim(claimed)
			b.mu.Unlock()
			return waitErr
		}
	}

	signalSemas := make([]vk.Semaphore, 0, len(extra)+1)
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var sig vk.Semaphore
	if err := vkResult(vk.CreateSemaphore(b.VKDevice, &semaphoreCreateInfo, nil, &sig)); err != nil {
		b.unclaim(claimed)
		b.mu.Unlock()
		return err
	}
	signalSemas = append(signalSemas, sig)
	for _, h := range extra {
		if s, ok := b.semas[h]; ok {
			signalSemas = append(signalSemas, s)
		}
	}

	var fenceCreateInfo = vk.FenceCreateInfo{}
	fenceCreateInfo.SType = vk.StructureTypeFenceCreateInfo
	var fence vk.Fence
	if err := vkResult(vk.CreateFence(b.VKDevice, &fenceCreateInfo, nil, &fence)); err != nil {
		vk.DestroySemaphore(b.VKDevice, sig, nil)
		b.unclaim(claimed)
		b.mu.Unlock()
		return err
	}

	var submitInfo = vk.SubmitInfo{}
	submitInfo.SType = vk.StructureTypeSubmitInfo
	submitInfo.CommandBufferCount = uint32(len(cbs))
	submitInfo.PCommandBuffers = cbs
	if len(waitSemas) > 0 {
		waitStages := make([]vk.PipelineStageFlags, len(waitSemas))
		for i := range waitStages {
			waitStages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		}
		submitInfo.WaitSemaphoreCount = uint32(len(waitSemas))
		submitInfo.PWaitSemaphores = waitSemas
		submitInfo.PWaitDstStageMask = waitStages
	}
	submitInfo.SignalSemaphoreCount = uint32(len(signalSemas))
	submitInfo.PSignalSemaphores = signalSemas

	err := vkResult(vk.QueueSubmit(q.queue, 1, []vk.SubmitInfo{submitInfo}, fence))
	if err != nil {
		vk.DestroyFence(b.VKDevice, fence, nil)
		vk.DestroySemaphore(b.VKDevice, sig, nil)
		b.unclaim(claimed)
		b.mu.Unlock()
		return err
	}

	entry := &signalSema{sema: sig, refs: 1}
	q.fences = append(q.fences, &submitFence{
		value:  signal.Value,
		fence:  fence,
		signal: entry,
		waits:  claimed,
	})
	q.semas[signal.Value] = entry
	b.mu.Unlock()
	return nil
}

// QueueCompleted walks the queue's fences in submission order and returns the
// value of the newest signaled one. Fences are only recycled once no host
// thread is pinned on them, and each signal semaphore only once the source
// submission and every batch waiting on it have retired.
func (b *VulkanBackend) QueueCompleted(queue QueueID) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidState, "unknown queue %d", queue)
	}

	for _, sf := range q.fences {
		if sf.done {
			continue
		}
		ret := vk.GetFenceStatus(b.VKDevice, sf.fence)
		if ret == vk.NotReady {
			break
		}
		if ret != vk.Success {
			return q.completed, vkResult(ret)
		}
		sf.done = true
		q.completed = sf.value
	}

	for _, sf := range q.popRetired() {
		vk.DestroyFence(b.VKDevice, sf.fence, nil)
		if sf.signal != nil {
			delete(q.semas, sf.value)
			if sf.signal.release() {
				vk.DestroySemaphore(b.VKDevice, sf.signal.sema, nil)
			}
		}
		for _, w := range sf.waits {
			if w.release() {
				vk.DestroySemaphore(b.VKDevice, w.sema, nil)
			}
		}
	}
	return q.completed, nil
}

func (b *VulkanBackend) QueueWait(queue QueueID, value uint64, timeout time.Duration) error {
	b.mu.Lock()
	q, ok := b.queues[queue]
	if !ok {
		b.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "unknown queue %d", queue)
	}
	var target *submitFence
	for _, sf := range q.fences {
		if sf.value >= value {
			target = sf
			break
		}
	}
	if target == nil {
		// Already retired.
		b.mu.Unlock()
		return nil
	}
	// Pin the fence so a concurrent poll cannot recycle it mid-wait.
	target.waiters++
	b.mu.Unlock()

	err := vkResult(vk.WaitForFences(b.VKDevice, 1, []vk.Fence{target.fence}, vk.True, uint64(timeout.Nanoseconds())))

	b.mu.Lock()
	target.waiters--
	b.mu.Unlock()
	return err
}

// vkResult classifies a native result into the package taxonomy: the
// out-of-memory family to AllocationExhausted, lost devices and out-of-date
// surfaces to DeviceLost.
func vkResult(ret vk.Result) error {
	switch ret {
	case vk.Success:
		return nil
	case vk.Timeout:
		return ErrTimeout
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory:
		return errors.Wrapf(ErrAllocationExhausted, "vk result %d", ret)
	case vk.ErrorDeviceLost, vk.ErrorSurfaceLost, vk.ErrorOutOfDate:
		return errors.Wrapf(ErrDeviceLost, "vk result %d", ret)
	}
	return vk.Error(ret)
}

func stageToVK(s Stage) vk.PipelineStageFlags {
	var f vk.PipelineStageFlags
	set := func(bit Stage, vkBit vk.PipelineStageFlagBits) {
		if s&bit != 0 {
			f |= vk.PipelineStageFlags(vkBit)
		}
	}
	set(StageTopOfPipe, vk.PipelineStageTopOfPipeBit)
	set(StageDrawIndirect, vk.PipelineStageDrawIndirectBit)
	set(StageVertexInput, vk.PipelineStageVertexInputBit)
	set(StageVertexShader, vk.PipelineStageVertexShaderBit)
	set(StageFragmentShader, vk.PipelineStageFragmentShaderBit)
	set(StageEarlyFragmentTests, vk.PipelineStageEarlyFragmentTestsBit)
	set(StageLateFragmentTests, vk.PipelineStageLateFragmentTestsBit)
	set(StageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit)
	set(StageComputeShader, vk.PipelineStageComputeShaderBit)
	set(StageTransfer, vk.PipelineStageTransferBit)
	set(StageHost, vk.PipelineStageHostBit)
	set(StageBottomOfPipe, vk.PipelineStageBottomOfPipeBit)
	set(StageAllCommands, vk.PipelineStageAllCommandsBit)
	return f
}

func accessToVK(a Access) vk.AccessFlags {
	var f vk.AccessFlags
	set := func(bit Access, vkBit vk.AccessFlagBits) {
		if a&bit != 0 {
			f |= vk.AccessFlags(vkBit)
		}
	}
	set(AccessIndirectCommandRead, vk.AccessIndirectCommandReadBit)
	set(AccessIndexRead, vk.AccessIndexReadBit)
	set(AccessVertexAttributeRead, vk.AccessVertexAttributeReadBit)
	set(AccessUniformRead, vk.AccessUniformReadBit)
	set(AccessShaderRead, vk.AccessShaderReadBit)
	set(AccessShaderWrite, vk.AccessShaderWriteBit)
	set(AccessColorAttachmentRead, vk.AccessColorAttachmentReadBit)
	set(AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit)
	set(AccessDepthStencilRead, vk.AccessDepthStencilAttachmentReadBit)
	set(AccessDepthStencilWrite, vk.AccessDepthStencilAttachmentWriteBit)
	set(AccessTransferRead, vk.AccessTransferReadBit)
	set(AccessTransferWrite, vk.AccessTransferWriteBit)
	set(AccessHostRead, vk.AccessHostReadBit)
	set(AccessHostWrite, vk.AccessHostWriteBit)
	set(AccessMemoryRead, vk.AccessMemoryReadBit)
	set(AccessMemoryWrite, vk.AccessMemoryWriteBit)
	return f
}

func layoutToVK(l Layout) vk.ImageLayout {
	switch l {
	case LayoutGeneral:
		return vk.ImageLayoutGeneral
	case LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case LayoutDepthStencilAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case LayoutPresent:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}
