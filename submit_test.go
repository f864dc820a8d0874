package vksync

import (
	"errors"
	"testing"
)

func TestSubmitRequiresEnded(t *testing.T) {
	ctx, _ := newTestContext(t)

	rec, _ := ctx.NewRecorder(0)
	rec.Begin()

	if _, err := ctx.Submit(0, []*Recorder{rec}, nil, nil); !errors.Is(err, ErrNotRecorded) {
		t.Errorf("expected ErrNotRecorded, got %v", err)
	}
}

func TestSubmitStampsTouchedResources(t *testing.T) {
	ctx, f := newTestContext(t)

	buf := mustBuffer(t, ctx, 64)
	rec, _ := ctx.NewRecorder(0)
	rec.Begin()
	rec.FillBuffer(buf, 7)
	rec.End()

	m, err := ctx.Submit(0, []*Recorder{rec}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.Value != 1 || m.Queue != 0 {
		t.Fatalf("unexpected marker %v", m)
	}
	if buf.LastMarker() != m {
		t.Errorf("resource stamped %v, want %v", buf.LastMarker(), m)
	}
	if len(f.submits) != 1 {
		t.Fatalf("native saw %d submits", len(f.submits))
	}
	if f.submits[0].signal != m {
		t.Errorf("native signal %v, want %v", f.submits[0].signal, m)
	}
}

func TestSubmitPassesWaitsAndExtras(t *testing.T) {
	ctx, f := newTestContext(t)

	recA, _ := ctx.NewRecorder(0)
	recA.Begin()
	recA.End()
	mA, err := ctx.Submit(0, []*Recorder{recA}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	present, _ := ctx.Create(KindSyncPrimitive, CreateParams{})
	recB, _ := ctx.NewRecorder(1)
	recB.Begin()
	recB.End()
	if _, err := ctx.Submit(1, []*Recorder{recB}, []Marker{mA}, []Handle{present.Handle()}); err != nil {
		t.Fatal(err)
	}

	s := f.submits[1]
	if len(s.waits) != 1 || s.waits[0] != mA {
		t.Errorf("waits not passed through: %v", s.waits)
	}
	if len(s.extra) != 1 || s.extra[0] != present.Handle() {
		t.Errorf("extra sync not passed through: %v", s.extra)
	}
}

func TestSubmitFailureIsFatal(t *testing.T) {
	ctx, f := newTestContext(t)

	buf := mustBuffer(t, ctx, 64)
	rec, _ := ctx.NewRecorder(0)
	rec.Begin()
	rec.FillBuffer(buf, 0)
	rec.End()

	f.submitErr = ErrDeviceLost
	m, err := ctx.Submit(0, []*Recorder{rec}, nil, nil)
	if !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("expected ErrDeviceLost, got %v", err)
	}
	// The marker is still consumed, preserving monotonicity.
	if m.Value != 1 {
		t.Errorf("failed submit must still allocate its marker, got %v", m)
	}
	if !ctx.IsLost() {
		t.Error("context must latch lost on submission failure")
	}

	// Everything stamped with the failed marker is permanently unsafe: the
	// native counter can claim whatever it wants, Collect never reclaims.
	ctx.Release(buf)
	f.submitErr = nil
	f.complete(0, 10)
	if n := ctx.Collect(); n != 0 {
		t.Errorf("collected %d resources stamped by a failed submission", n)
	}

	if _, err := ctx.Submit(0, nil, nil, nil); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("lost context must reject submissions, got %v", err)
	}

	// Teardown still reclaims the handles.
	f.waitFinishes = true
	ctx.WaitAndCollect()
	if n := f.destroyCount(buf.Handle()); n != 1 {
		t.Errorf("teardown must drain failed-stamped resources, got %d", n)
	}
}

func TestSubmitRoundTrip(t *testing.T) {
	ctx, f := newTestContext(t)

	// N submissions each touching its own buffer; waiting on the Nth
	// marker makes every touched resource immediately safe to destroy.
	const n = 4
	var last Marker
	buffers := make([]*Resource, n)
	for i := 0; i < n; i++ {
		buffers[i] = mustBuffer(t, ctx, 64)
		rec, _ := ctx.NewRecorder(0)
		rec.Begin()
		rec.FillBuffer(buffers[i], uint32(i))
		rec.End()
		m, err := ctx.Submit(0, []*Recorder{rec}, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		last = m
	}

	f.waitFinishes = true
	if err := ctx.WaitUntil(last); err != nil {
		t.Fatal(err)
	}

	for _, b := range buffers {
		ctx.Release(b)
	}
	if got := ctx.Collect(); got != n {
		t.Fatalf("expected all %d buffers reclaimed after the wait, got %d", n, got)
	}
	for _, b := range buffers {
		if f.destroyCount(b.Handle()) != 1 {
			t.Errorf("buffer %v destroy count %d", b.ID(), f.destroyCount(b.Handle()))
		}
	}
}

func TestSubmitRunsCollectCadence(t *testing.T) {
	ctx, f := newTestContext(t)

	// A released resource whose marker has retired is reclaimed by the
	// next submission without an explicit Collect.
	buf := mustBuffer(t, ctx, 64)
	rec, _ := ctx.NewRecorder(0)
	rec.Begin()
	rec.FillBuffer(buf, 0)
	rec.End()
	m, _ := ctx.Submit(0, []*Recorder{rec}, nil, nil)
	ctx.Release(buf)
	f.complete(0, m.Value)

	rec2, _ := ctx.NewRecorder(0)
	rec2.Begin()
	rec2.End()
	if _, err := ctx.Submit(0, []*Recorder{rec2}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if n := f.destroyCount(buf.Handle()); n != 1 {
		t.Errorf("submit cadence did not collect, destroy count %d", n)
	}
}

func TestSubmitMarkersIncreasePerQueue(t *testing.T) {
	ctx, _ := newTestContext(t)

	var prev uint64
	for i := 0; i < 3; i++ {
		rec, _ := ctx.NewRecorder(0)
		rec.Begin()
		rec.End()
		m, err := ctx.Submit(0, []*Recorder{rec}, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if m.Value <= prev {
			t.Fatalf("marker %d after %d", m.Value, prev)
		}
		prev = m.Value
	}
}
