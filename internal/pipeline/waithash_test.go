package pipeline

import (
	"context"
	"testing"
	"time"

	"devengine/internal/history"
)

func TestWaitHashReturnsOkOnImmediateMatch(t *testing.T) {
	reg := testRegistry(&passthroughModule{op: "exposure", gain: 2})
	clock := &Clock{}
	p := New(Full, reg, clock, 8)
	entries := []history.Entry{{Op: "exposure", Enabled: true, Params: []byte{1}}}

	if _, err := p.Run(context.Background(), RunInput{Entries: entries, Source: testSource(), Viewport: testViewport()}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	expected, ok := p.FingerprintAt(0, DirectionForward)
	if !ok {
		t.Fatal("want a planned node at rank 0 after a successful run")
	}

	result, reprocess := p.WaitHash(context.Background(), 0, DirectionForward, expected, time.Millisecond, time.Second)
	if result != WaitOk || reprocess {
		t.Fatalf("want an immediate match with no reprocess, got result=%v reprocess=%v", result, reprocess)
	}
}

func TestWaitHashTimesOutWhenExpectationNeverMatches(t *testing.T) {
	reg := testRegistry(&passthroughModule{op: "exposure", gain: 2})
	clock := &Clock{}
	p := New(Full, reg, clock, 8)
	entries := []history.Entry{{Op: "exposure", Enabled: true, Params: []byte{1}}}
	if _, err := p.Run(context.Background(), RunInput{Entries: entries, Source: testSource(), Viewport: testViewport()}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	result, reprocess := p.WaitHash(context.Background(), 0, DirectionForward, ^uint64(0), time.Millisecond, 30*time.Millisecond)
	if result != WaitTimedOut || reprocess {
		t.Fatalf("want a plain timeout, got result=%v reprocess=%v", result, reprocess)
	}
}

func TestWaitHashReturnsOkWithReprocessWhenChangeIsRaised(t *testing.T) {
	reg := testRegistry(&passthroughModule{op: "exposure", gain: 2})
	clock := &Clock{}
	p := New(Full, reg, clock, 8)
	entries := []history.Entry{{Op: "exposure", Enabled: true, Params: []byte{1}}}
	if _, err := p.Run(context.Background(), RunInput{Entries: entries, Source: testSource(), Viewport: testViewport()}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	resultCh := make(chan WaitResult, 1)
	reprocessCh := make(chan bool, 1)
	go func() {
		result, reprocess := p.WaitHash(context.Background(), 0, DirectionForward, ^uint64(0), time.Millisecond, 5*time.Second)
		resultCh <- result
		reprocessCh <- reprocess
	}()

	time.Sleep(10 * time.Millisecond)
	p.Invalidate(ChangeSynch)

	select {
	case result := <-resultCh:
		if result != WaitOk {
			t.Fatalf("want WaitOk once a topology-invalidating flag is raised, got %v", result)
		}
		if reprocess := <-reprocessCh; !reprocess {
			t.Fatal("want reprocess=true when the wait resolves via a raised change flag")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitHash did not observe the raised change flag")
	}
}

func TestWaitHashTimesOutAfterShutdown(t *testing.T) {
	reg := testRegistry(&passthroughModule{op: "exposure", gain: 2})
	clock := &Clock{}
	p := New(Full, reg, clock, 8)
	entries := []history.Entry{{Op: "exposure", Enabled: true, Params: []byte{1}}}
	if _, err := p.Run(context.Background(), RunInput{Entries: entries, Source: testSource(), Viewport: testViewport()}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	p.RequestShutdown()
	result, reprocess := p.WaitHash(context.Background(), 0, DirectionForward, ^uint64(0), time.Millisecond, 5*time.Second)
	if result != WaitTimedOut || reprocess {
		t.Fatalf("want a shut-down pipeline to time out its waiters rather than hang, got result=%v reprocess=%v", result, reprocess)
	}
}

// TestWaitHashDoesNotBlockBehindInFlightRun guards the other half of the
// mu/flagMu split: FingerprintAt and changeRaised must read the lock-free
// nodesSnapshot and flagMu, never the run lock, so a caller polling WaitHash
// keeps observing the pipeline while a render is stalled mid-node instead of
// freezing until that render's publish.
func TestWaitHashDoesNotBlockBehindInFlightRun(t *testing.T) {
	var calls int32
	signaled := make(chan struct{})
	release := make(chan struct{})
	blocker := &blockingModule{op: "exposure", gain: 2, calls: &calls, signaled: signaled, release: release}
	reg := testRegistry(blocker)
	clock := &Clock{}
	p := New(Full, reg, clock, 8)
	entries := []history.Entry{{Op: "exposure", Enabled: true}}
	src := testSource()
	vp := testViewport()

	runDone := make(chan struct{})
	go func() {
		p.Run(context.Background(), RunInput{Entries: entries, Source: src, Viewport: vp})
		close(runDone)
	}()

	select {
	case <-signaled:
	case <-time.After(5 * time.Second):
		t.Fatal("the blocking node never started")
	}

	waitDone := make(chan struct {
		result    WaitResult
		reprocess bool
	}, 1)
	go func() {
		result, reprocess := p.WaitHash(context.Background(), 0, DirectionForward, ^uint64(0), time.Millisecond, 5*time.Second)
		waitDone <- struct {
			result    WaitResult
			reprocess bool
		}{result, reprocess}
	}()

	select {
	case <-waitDone:
		t.Fatal("WaitHash resolved before the standing change flag was raised")
	case <-time.After(20 * time.Millisecond):
	}

	p.Invalidate(ChangeSynch)

	select {
	case r := <-waitDone:
		if r.result != WaitOk || !r.reprocess {
			t.Fatalf("want WaitOk with reprocess=true once SYNCH is raised, got result=%v reprocess=%v", r.result, r.reprocess)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitHash blocked behind the in-flight Run instead of observing the raised flag")
	}

	close(release)
	<-runDone
}

func TestFingerprintAtDirectionBackwardFoldsFromRankToTail(t *testing.T) {
	reg := testRegistry(&passthroughModule{op: "exposure", gain: 2}, &passthroughModule{op: "sharpen", gain: 1})
	clock := &Clock{}
	p := New(Full, reg, clock, 8)
	entries := []history.Entry{
		{Op: "exposure", Enabled: true, Rank: 0},
		{Op: "sharpen", Enabled: true, Rank: 1},
	}
	if _, err := p.Run(context.Background(), RunInput{Entries: entries, Source: testSource(), Viewport: testViewport()}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	backTailOnly, ok := p.FingerprintAt(1, DirectionBackward)
	if !ok {
		t.Fatal("want a planned node at rank 1 from the backward direction")
	}
	backBothNodes, ok := p.FingerprintAt(0, DirectionBackward)
	if !ok {
		t.Fatal("want a planned node at rank 0 from the backward direction")
	}
	if backTailOnly == backBothNodes {
		t.Fatal("want folding from rank 0 (both nodes) to differ from folding from rank 1 (tail only)")
	}

	if _, ok := p.FingerprintAt(99, DirectionBackward); ok {
		t.Fatal("want no match for a rank beyond the planned node set")
	}
}
