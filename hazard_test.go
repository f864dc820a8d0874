package vksync

import (
	"errors"
	"testing"
)

func newTestResource(kind ResourceKind) *Resource {
	return &Resource{kind: kind, handle: 1}
}

func TestFirstAccessNoBarrier(t *testing.T) {
	r := newTestResource(KindBuffer)

	_, needed, err := recordAccess(r, 0, StageTransfer, AccessTransferWrite, LayoutUndefined, false)
	if err != nil {
		t.Fatal(err)
	}
	if needed {
		t.Error("first access should not require a barrier")
	}
	if r.access.Stage != StageTransfer || r.access.Access != AccessTransferWrite {
		t.Errorf("record not updated: %+v", r.access)
	}
}

func TestReadAfterWriteEmitsBarrier(t *testing.T) {
	r := newTestResource(KindBuffer)

	recordAccess(r, 0, StageTransfer, AccessTransferWrite, LayoutUndefined, false)
	b, needed, err := recordAccess(r, 0, StageFragmentShader, AccessShaderRead, LayoutUndefined, false)
	if err != nil {
		t.Fatal(err)
	}
	if !needed {
		t.Fatal("read after write must emit a barrier")
	}
	if b.SrcStage != StageTransfer || b.SrcAccess != AccessTransferWrite {
		t.Errorf("wrong source: %v", b)
	}
	if b.DstStage != StageFragmentShader || b.DstAccess != AccessShaderRead {
		t.Errorf("wrong destination: %v", b)
	}
}

func TestWriteAfterReadEmitsBarrier(t *testing.T) {
	r := newTestResource(KindBuffer)

	recordAccess(r, 0, StageVertexShader, AccessShaderRead, LayoutUndefined, false)
	_, needed, _ := recordAccess(r, 0, StageTransfer, AccessTransferWrite, LayoutUndefined, false)
	if !needed {
		t.Error("write after read must emit a barrier")
	}
}

func TestWriteAfterWriteEmitsBarrier(t *testing.T) {
	r := newTestResource(KindBuffer)

	recordAccess(r, 0, StageTransfer, AccessTransferWrite, LayoutUndefined, false)
	_, needed, _ := recordAccess(r, 0, StageComputeShader, AccessShaderWrite, LayoutUndefined, false)
	if !needed {
		t.Error("write after write must emit a barrier")
	}
}

func TestReadAfterReadNoBarrier(t *testing.T) {
	r := newTestResource(KindBuffer)

	recordAccess(r, 0, StageVertexShader, AccessShaderRead, LayoutUndefined, false)
	_, needed, _ := recordAccess(r, 0, StageVertexShader, AccessShaderRead, LayoutUndefined, false)
	if needed {
		t.Error("read after read at the same stage must not emit a barrier")
	}

	// Reads at another stage need no barrier either; the record merges so a
	// later write synchronizes against all readers.
	_, needed, _ = recordAccess(r, 0, StageFragmentShader, AccessUniformRead, LayoutUndefined, false)
	if needed {
		t.Error("read after read across stages must not emit a barrier")
	}

	b, needed, _ := recordAccess(r, 0, StageTransfer, AccessTransferWrite, LayoutUndefined, false)
	if !needed {
		t.Fatal("write after merged reads must emit a barrier")
	}
	if b.SrcStage&StageVertexShader == 0 || b.SrcStage&StageFragmentShader == 0 {
		t.Errorf("write barrier must cover every reader stage, got %v", b)
	}
	if b.SrcAccess&AccessShaderRead == 0 || b.SrcAccess&AccessUniformRead == 0 {
		t.Errorf("write barrier must cover every reader access, got %v", b)
	}
}

func TestLayoutTransitionOnFirstUse(t *testing.T) {
	r := newTestResource(KindImage)

	b, needed, _ := recordAccess(r, 0, StageFragmentShader, AccessShaderRead, LayoutShaderReadOnly, false)
	if !needed {
		t.Fatal("undefined to shader-readable must emit a barrier")
	}
	if b.OldLayout != LayoutUndefined || b.NewLayout != LayoutShaderReadOnly {
		t.Errorf("wrong layouts: %v", b)
	}
	if b.SrcStage != StageTopOfPipe {
		t.Errorf("first transition should source from top of pipe, got %v", b.SrcStage)
	}
}

func TestLayoutChangeBetweenReads(t *testing.T) {
	r := newTestResource(KindImage)

	recordAccess(r, 0, StageTransfer, AccessTransferRead, LayoutTransferSrc, false)
	_, needed, _ := recordAccess(r, 0, StageFragmentShader, AccessShaderRead, LayoutShaderReadOnly, false)
	if !needed {
		t.Error("layout change must emit a barrier even between reads")
	}
}

func TestCrossQueueWriteDebugCheck(t *testing.T) {
	r := newTestResource(KindBuffer)

	recordAccess(r, 0, StageTransfer, AccessTransferWrite, LayoutUndefined, true)
	_, _, err := recordAccess(r, 1, StageComputeShader, AccessShaderRead, LayoutUndefined, true)
	if !errors.Is(err, ErrHazardViolation) {
		t.Errorf("expected ErrHazardViolation, got %v", err)
	}
}

func TestCrossQueueWriteConservativeBarrier(t *testing.T) {
	r := newTestResource(KindBuffer)

	recordAccess(r, 0, StageTransfer, AccessTransferWrite, LayoutUndefined, false)
	b, needed, err := recordAccess(r, 1, StageComputeShader, AccessShaderRead, LayoutUndefined, false)
	if err != nil {
		t.Fatal(err)
	}
	if !needed {
		t.Fatal("cross-queue access after a write must emit a barrier")
	}
	if b.SrcStage != StageAllCommands {
		t.Errorf("expected widest source stage, got %v", b.SrcStage)
	}
}

func TestCrossQueueWriteAfterReadDebugCheck(t *testing.T) {
	r := newTestResource(KindBuffer)

	recordAccess(r, 0, StageVertexShader, AccessShaderRead, LayoutUndefined, true)
	_, _, err := recordAccess(r, 1, StageTransfer, AccessTransferWrite, LayoutUndefined, true)
	if !errors.Is(err, ErrHazardViolation) {
		t.Errorf("expected ErrHazardViolation, got %v", err)
	}
}

func TestCrossQueueWriteAfterReadConservativeBarrier(t *testing.T) {
	r := newTestResource(KindBuffer)

	recordAccess(r, 0, StageVertexShader, AccessShaderRead, LayoutUndefined, false)
	b, needed, err := recordAccess(r, 1, StageTransfer, AccessTransferWrite, LayoutUndefined, false)
	if err != nil {
		t.Fatal(err)
	}
	if !needed {
		t.Fatal("cross-queue write after a read must emit a barrier")
	}
	if b.SrcStage != StageAllCommands {
		t.Errorf("expected widest source stage, got %v", b.SrcStage)
	}
}

func TestCrossQueueReadAfterReadNoBarrier(t *testing.T) {
	r := newTestResource(KindBuffer)

	recordAccess(r, 0, StageVertexShader, AccessShaderRead, LayoutUndefined, true)
	_, needed, err := recordAccess(r, 1, StageFragmentShader, AccessShaderRead, LayoutUndefined, true)
	if err != nil {
		t.Fatal(err)
	}
	if needed {
		t.Error("cross-queue read after read must not emit a barrier")
	}
}

func TestCoalesceMergesPerResource(t *testing.T) {
	barriers := []Barrier{
		{Handle: 1, Kind: KindBuffer, SrcStage: StageTransfer, SrcAccess: AccessTransferWrite, DstStage: StageVertexShader, DstAccess: AccessShaderRead},
		{Handle: 2, Kind: KindBuffer, SrcStage: StageTransfer, SrcAccess: AccessTransferWrite, DstStage: StageComputeShader, DstAccess: AccessShaderRead},
		{Handle: 1, Kind: KindBuffer, SrcStage: StageComputeShader, SrcAccess: AccessShaderWrite, DstStage: StageFragmentShader, DstAccess: AccessUniformRead},
	}

	out := coalesce(barriers)
	if len(out) != 2 {
		t.Fatalf("expected 2 coalesced barriers, got %d", len(out))
	}
	m := out[0]
	if m.Handle != 1 {
		t.Fatalf("order not preserved: %v", m)
	}
	if m.SrcStage != StageTransfer|StageComputeShader {
		t.Errorf("source stages not merged: %v", m.SrcStage)
	}
	if m.DstStage != StageVertexShader|StageFragmentShader {
		t.Errorf("destination stages not merged: %v", m.DstStage)
	}
	if m.DstAccess != AccessShaderRead|AccessUniformRead {
		t.Errorf("destination accesses not merged: %v", m.DstAccess)
	}
}

func TestCoalesceLayoutChainCollapses(t *testing.T) {
	barriers := []Barrier{
		{Handle: 7, Kind: KindImage, OldLayout: LayoutUndefined, NewLayout: LayoutTransferDst},
		{Handle: 7, Kind: KindImage, OldLayout: LayoutTransferDst, NewLayout: LayoutShaderReadOnly},
	}

	out := coalesce(barriers)
	if len(out) != 1 {
		t.Fatalf("expected 1 barrier, got %d", len(out))
	}
	if out[0].OldLayout != LayoutUndefined || out[0].NewLayout != LayoutShaderReadOnly {
		t.Errorf("chain did not collapse first->last: %v", out[0])
	}
}
