package vksync

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeSubmit struct {
	queue   QueueID
	buffers []Handle
	waits   []Marker
	signal  Marker
	extra   []Handle
}

// fakeNative is an in-memory Native used by the package tests. Completion is
// driven explicitly with complete(); when waitFinishes is set, QueueWait
// simulates the GPU catching up to the awaited value.
type fakeNative struct {
	mu        sync.Mutex
	next      Handle
	kinds     map[Handle]ResourceKind
	destroyed map[Handle]int
	completed map[QueueID]uint64
	// commands logs per command buffer, in emission order: "barrier",
	// "copy a->b", "fill", "dispatch", "draw".
	commands map[Handle][]string
	barriers map[Handle][][]Barrier
	submits  []fakeSubmit

	createErr    error
	submitErr    error
	pollErr      map[QueueID]error
	waitFinishes bool
}

func newFakeNative() *fakeNative {
	return &fakeNative{
		kinds:     make(map[Handle]ResourceKind),
		destroyed: make(map[Handle]int),
		completed: make(map[QueueID]uint64),
		commands:  make(map[Handle][]string),
		barriers:  make(map[Handle][][]Barrier),
		pollErr:   make(map[QueueID]error),
	}
}

func (f *fakeNative) complete(q QueueID, v uint64) {
	f.mu.Lock()
	f.completed[q] = v
	f.mu.Unlock()
}

func (f *fakeNative) destroyCount(h Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed[h]
}

func (f *fakeNative) barrierBatches(cb Handle) [][]Barrier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.barriers[cb]
}

func (f *fakeNative) log(cb Handle) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[cb]
}

func (f *fakeNative) CreateHandle(kind ResourceKind, params CreateParams, alloc *Allocation) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.next++
	f.kinds[f.next] = kind
	return f.next, nil
}

func (f *fakeNative) DestroyHandle(kind ResourceKind, h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed[h]++
	delete(f.kinds, h)
}

func (f *fakeNative) NewCommandBuffer(queue QueueID) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.kinds[f.next] = KindCommandBuffer
	return f.next, nil
}

func (f *fakeNative) BeginCommands(cb Handle) error {
	return nil
}

func (f *fakeNative) EndCommands(cb Handle) error {
	return nil
}

func (f *fakeNative) ResetCommands(cb Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[cb] = nil
	f.barriers[cb] = nil
	return nil
}

func (f *fakeNative) CmdPipelineBarrier(cb Handle, barriers []Barrier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]Barrier, len(barriers))
	copy(batch, barriers)
	f.barriers[cb] = append(f.barriers[cb], batch)
	f.commands[cb] = append(f.commands[cb], "barrier")
}

func (f *fakeNative) CmdCopyBuffer(cb Handle, src, dst Handle, size uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[cb] = append(f.commands[cb], fmt.Sprintf("copy %d->%d", src, dst))
}

func (f *fakeNative) CmdFillBuffer(cb Handle, dst Handle, value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[cb] = append(f.commands[cb], "fill")
}

func (f *fakeNative) CmdDispatch(cb Handle, x, y, z uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[cb] = append(f.commands[cb], "dispatch")
}

func (f *fakeNative) CmdDraw(cb Handle, vertexCount, instanceCount uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[cb] = append(f.commands[cb], "draw")
}

func (f *fakeNative) Submit(queue QueueID, buffers []Handle, waits []Marker, signal Marker, extra []Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submits = append(f.submits, fakeSubmit{queue: queue, buffers: buffers, waits: waits, signal: signal, extra: extra})
	return nil
}

func (f *fakeNative) QueueCompleted(queue QueueID) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pollErr[queue]; err != nil {
		return 0, err
	}
	return f.completed[queue], nil
}

func (f *fakeNative) QueueWait(queue QueueID, value uint64, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed[queue] >= value {
		return nil
	}
	if f.waitFinishes {
		f.completed[queue] = value
		return nil
	}
	return ErrTimeout
}

var _ Native = (*fakeNative)(nil)

func newTestContext(t *testing.T) (*DeviceContext, *fakeNative) {
	t.Helper()
	f := newFakeNative()
	ctx, err := NewDeviceContext(f, &LinearAllocator{Size: 1 << 20}, DefaultOptions())
	if err != nil {
		t.Fatalf("NewDeviceContext: %v", err)
	}
	return ctx, f
}

func mustBuffer(t *testing.T, ctx *DeviceContext, size uint64) *Resource {
	t.Helper()
	res, err := ctx.Create(KindBuffer, CreateParams{Size: size})
	if err != nil {
		t.Fatalf("create buffer: %v", err)
	}
	return res
}

func mustImage(t *testing.T, ctx *DeviceContext, size uint64) *Resource {
	t.Helper()
	res, err := ctx.Create(KindImage, CreateParams{Size: size, InitialLayout: LayoutUndefined})
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	return res
}
