// Package pipeline implements the dependency-ordered node sequence that
// turns a history prefix into rendered pixels, its content-addressed
// cache, and the per-pipeline change-flag state machine (§4.4–§4.6, §4.9).
//
// The worker-pool-per-pipeline-class dispatch that used to live in this
// file moved to internal/scheduler, adapted from the same shape to route
// Full/Preview/Secondary render requests instead of job submissions; this
// file now holds the run loop itself.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"devengine/internal/devcheck"
	"devengine/internal/history"
	"devengine/internal/module"
	"devengine/internal/ordering"
)

// Clock is the develop state's monotonic timestamp, shared by all three of
// an image's pipelines so that InvalidateAll can bump one counter and have
// every pipeline observe it at its next loop iteration (§5 "Ordering
// guarantees").
type Clock struct {
	ts atomic.Int64
}

// Bump increments the clock and returns the new value.
func (c *Clock) Bump() int64 { return c.ts.Add(1) }

// Now reads the current value without advancing it.
func (c *Clock) Now() int64 { return c.ts.Load() }

// Backbuffer is the last successfully rendered result, read by a viewer
// through an atomic pointer swap (§5 "Shared state").
type Backbuffer struct {
	Buf     *module.PixelBuffer
	Width   int
	Height  int
	Scale   float64
	CenterX float64
	CenterY float64
}

// RunInput carries everything one Run call needs; the develop controller
// assembles it fresh from develop-state fields on every scheduler wakeup.
type RunInput struct {
	Entries    []history.Entry
	Ordering   *ordering.List
	Source     *module.PixelBuffer
	Viewport   Viewport
	GUILeaving *atomic.Bool
}

// Pipeline is one of an image's three render pipelines (§3 "Pipeline").
//
// mu is the run-serializing lock: a worker holds it for the entire duration
// of one render run (§5), and status/nodes/avgDelay/cache are only ever
// touched while it's held. It is deliberately NOT the lock that guards
// changeFlag/loading/inputChanged/cacheObsolete — those form the "shared
// surface" design notes §9 calls for: "the only shared surface is (a) an
// atomic shutdown bit, (b) an atomic input_timestamp, (c) a lock-protected
// change-flag set". flagMu is that separate, lightweight lock, so a
// concurrent Invalidate/SetLoading/etc. never blocks behind an in-flight
// Run; runNodes polls it between module invocations so a mid-run change can
// interrupt and restart in place rather than let a stale result publish as
// VALID (P12).
type Pipeline struct {
	Kind Kind

	mu         sync.Mutex
	reg        *module.Registry
	cache      *Cache
	clock      *Clock
	nodes      []*Node
	status     Status

	flagMu        sync.Mutex
	changeFlag    ChangeFlag
	loading       bool
	inputChanged  bool
	cacheObsolete bool

	nodesSnapshot atomic.Pointer[[]*Node]

	inputTimestamp atomic.Int64
	shutdown       *atomic.Bool

	backbuffer atomic.Pointer[Backbuffer]
	avgDelay   time.Duration
}

// New constructs an idle pipeline of the given kind, bounded to
// maxCacheEntries retained intermediates.
func New(kind Kind, reg *module.Registry, clock *Clock, maxCacheEntries int) *Pipeline {
	return &Pipeline{
		Kind:     kind,
		reg:      reg,
		cache:    NewCache(maxCacheEntries),
		clock:    clock,
		shutdown: new(atomic.Bool),
		status:   StatusDirty,
	}
}

// lock acquires the pipeline mutex, recording the acquisition for the
// lock-order assertion (§5). A worker holds it for the entire duration of
// one run.
func (p *Pipeline) lock() {
	devcheck.Enter(devcheck.LevelPipeline)
	p.mu.Lock()
}

func (p *Pipeline) unlock() {
	p.mu.Unlock()
	devcheck.Exit(devcheck.LevelPipeline)
}

// Status reports the pipeline's last-observed status.
func (p *Pipeline) Status() Status {
	p.lock()
	defer p.unlock()
	return p.status
}

// Backbuffer returns the last published result, or nil if none has ever
// been produced.
func (p *Pipeline) Backbuffer() *Backbuffer {
	return p.backbuffer.Load()
}

// AverageDelay reports the rolling average processing time for this
// pipeline, updated on every successful run (§4.5 step 7).
func (p *Pipeline) AverageDelay() time.Duration {
	p.lock()
	defer p.unlock()
	return p.avgDelay
}

// Invalidate raises a change-flag and bumps the shared clock, as
// §4.6's Invalidate/InvalidateAll describe. Raising SYNCH is the common
// case for a history mutation; callers raising REMOVE or ZOOMED pass those
// bits explicitly. Takes flagMu only, never the run lock, so it never
// blocks behind an in-flight Run.
func (p *Pipeline) Invalidate(flag ChangeFlag) {
	p.flagMu.Lock()
	p.changeFlag |= flag
	p.flagMu.Unlock()
	p.clock.Bump()
}

// SetLoading marks the pipeline for a full node/cache rebuild on its next
// run (§4.5 step 4), used when the pipeline is being constructed fresh for
// a newly loaded image or after a topology-changing REMOVE.
func (p *Pipeline) SetLoading() {
	p.flagMu.Lock()
	defer p.flagMu.Unlock()
	p.loading = true
}

// SetInputChanged marks the pipeline's source buffer as having changed
// underneath it (§4.5 step 5), e.g. after a raw reload.
func (p *Pipeline) SetInputChanged() {
	p.flagMu.Lock()
	defer p.flagMu.Unlock()
	p.inputChanged = true
}

// MarkCacheObsolete sets the external cache_obsolete bit; per the resolved
// open question (§9) it dominates over whatever change-flag bits are also
// set, forcing a full cache flush on the next run.
func (p *Pipeline) MarkCacheObsolete() {
	p.flagMu.Lock()
	defer p.flagMu.Unlock()
	p.cacheObsolete = true
}

// takeLoading reads and clears the loading bit under flagMu.
func (p *Pipeline) takeLoading() bool {
	p.flagMu.Lock()
	defer p.flagMu.Unlock()
	v := p.loading
	p.loading = false
	return v
}

// takeInputChanged reads and clears the input-changed bit under flagMu.
func (p *Pipeline) takeInputChanged() bool {
	p.flagMu.Lock()
	defer p.flagMu.Unlock()
	v := p.inputChanged
	p.inputChanged = false
	return v
}

// takeChangeFlag reads and clears the change-flag set under flagMu, for
// statePlanning to consume once per planning phase.
func (p *Pipeline) takeChangeFlag() ChangeFlag {
	p.flagMu.Lock()
	defer p.flagMu.Unlock()
	f := p.changeFlag
	p.changeFlag = ChangeUnchanged
	return f
}

// takeCacheObsolete reads and clears the cache_obsolete bit under flagMu.
func (p *Pipeline) takeCacheObsolete() bool {
	p.flagMu.Lock()
	defer p.flagMu.Unlock()
	v := p.cacheObsolete
	p.cacheObsolete = false
	return v
}

// peekLoadingOrInputChanged reads, without consuming, the loading and
// input-changed bits — used after an interrupted run to tell a genuine
// mid-run reload apart from a plain shutdown/cancellation.
func (p *Pipeline) peekLoadingOrInputChanged() (loading, inputChanged bool) {
	p.flagMu.Lock()
	defer p.flagMu.Unlock()
	return p.loading, p.inputChanged
}

// pendingChange reports whether a change-flag, loading, or input-changed
// bit has landed since the last take, without consuming it. runNodes polls
// this between module invocations so a concurrent Invalidate/SetLoading/
// SetInputChanged can interrupt a run within one module-chunk boundary
// instead of letting it finish and publish a stale result (P12, §9
// restart-in-place).
func (p *Pipeline) pendingChange() bool {
	p.flagMu.Lock()
	defer p.flagMu.Unlock()
	return p.changeFlag != ChangeUnchanged || p.loading || p.inputChanged
}

// setNodes replaces the planned node set, keeping the lock-free snapshot
// FingerprintAt reads in sync so a WaitHash caller never has to contend
// with the run lock (§4.4).
func (p *Pipeline) setNodes(nodes []*Node) {
	p.nodes = nodes
	p.nodesSnapshot.Store(&nodes)
}

// RequestShutdown sets the cooperative-cancellation bit that modules poll
// and that the run loop observes at its next suspension point.
func (p *Pipeline) RequestShutdown() { p.shutdown.Store(true) }

func hasFlag(flag, bit ChangeFlag) bool { return flag&bit != 0 }

// Run executes the §4.5 processing procedure to completion: it plans
// nodes, runs them in rank order, and restarts in place (rather than via
// goto) whenever a node is interrupted by a concurrent change or the
// change-flag is raised again mid-run, per the explicit state machine
// called for in §9.
func (p *Pipeline) Run(ctx context.Context, in RunInput) (Status, error) {
	p.lock()
	defer p.unlock()

	if in.GUILeaving != nil && in.GUILeaving.Load() {
		p.status = StatusInvalid
		return p.status, nil
	}
	if in.Source == nil {
		p.status = StatusDirty
		return p.status, nil
	}

	p.inputTimestamp.Store(p.clock.Now())
	p.status = StatusRunning
	start := time.Now()

	if p.takeLoading() {
		p.setNodes(nil)
		p.cache.Flush()
	}
	if p.takeInputChanged() {
		p.cache.Flush()
	}

	vp := in.Viewport
	state := statePlanning
	for {
		switch state {
		case statePlanning:
			if in.GUILeaving != nil && in.GUILeaving.Load() {
				p.status = StatusInvalid
				return p.status, nil
			}
			flag := p.takeChangeFlag()
			p.applyCachePolicy(flag, vp)

			roi := p.planROI(vp, in.Source)
			p.setNodes(BuildNodes(p.reg, in.Entries, in.Ordering, roi, in.Source.Width, in.Source.Height, roi.Scale))
			state = stateRunning

		case stateRunning:
			interrupted, err := p.runNodes(ctx, in.Source, vp)
			if err != nil {
				p.status = StatusInvalid
				return p.status, err
			}
			if interrupted {
				loading, inputChanged := p.peekLoadingOrInputChanged()
				if loading || inputChanged {
					p.status = StatusInvalid
					return p.status, nil
				}
				state = statePlanning
				continue
			}
			if p.pendingChange() {
				state = statePlanning
				continue
			}
			state = stateExit

		case stateExit:
			p.publish(vp, in.Source)
			p.avgDelay = rollingAverage(p.avgDelay, time.Since(start))
			p.status = StatusValid
			return p.status, nil
		}
	}
}

func (p *Pipeline) applyCachePolicy(flag ChangeFlag, vp Viewport) {
	if p.takeCacheObsolete() {
		p.cache.Flush()
		return
	}
	if hasFlag(flag, ChangeSynch) || hasFlag(flag, ChangeRemove) {
		p.cache.Flush()
		return
	}
	if hasFlag(flag, ChangeTopChanged) && len(p.nodes) > 0 {
		tail := p.nodes[len(p.nodes)-1]
		p.cache.InvalidateTail(tail.Fingerprint)
	}
	if hasFlag(flag, ChangeZoomed) {
		p.cache.InvalidateStaleROI(p.planROI(vp, nil))
	}
}

// planROI computes the target roi for this run: the whole downsampled
// source for Preview, a zoom-clamped window for Full/Secondary (§4.5 step
// 6d). A nil source is accepted for the ZOOMED cache-invalidation call
// above, which only needs the roi shape, not pixel dimensions.
func (p *Pipeline) planROI(vp Viewport, src *module.PixelBuffer) module.ROI {
	if p.Kind == Preview {
		w, h := vp.ImageW, vp.ImageH
		if src != nil {
			w, h = src.Width, src.Height
		}
		return module.ROI{X: 0, Y: 0, Width: w, Height: h, Scale: vp.Scale()}
	}

	clamped := CheckZoomBounds(vp)
	scale := clamped.Scale()
	w, h := clamped.BoxW, clamped.BoxH
	if src != nil {
		if w > src.Width {
			w = src.Width
		}
		if h > src.Height {
			h = src.Height
		}
	}
	cx := int((clamped.CenterX+0.5)*float64(clamped.ImageW)) - w/2
	cy := int((clamped.CenterY+0.5)*float64(clamped.ImageH)) - h/2
	if cx < 0 {
		cx = 0
	}
	if cy < 0 {
		cy = 0
	}
	return module.ROI{X: cx, Y: cy, Width: w, Height: h, Scale: scale}
}

// runNodes invokes module processing across nodes in rank order, consulting
// the cache before each node and inserting its output after (§4.5 step 6e).
// It reports whether any node returned StatusInterrupted.
func (p *Pipeline) runNodes(ctx context.Context, source *module.PixelBuffer, vp Viewport) (interrupted bool, err error) {
	buf := source
	roi := p.planROI(vp, source)

	for _, n := range p.nodes {
		if ctx.Err() != nil || p.shutdown.Load() || p.pendingChange() {
			return true, nil
		}
		if !n.Enabled {
			continue
		}
		if entry, ok := p.cache.Get(n.Fingerprint); ok {
			buf = entry.Buffer
			continue
		}

		out := module.NewPixelBuffer(buf.Width, buf.Height, buf.Channels, buf.ColorSpace)
		inst := &module.Instance{
			Op: n.Op, InstancePriority: n.InstancePriority,
			Enabled: n.Enabled, Params: n.Params, BlendParams: n.BlendParams, Rank: n.Rank,
		}
		nodeCtx := &module.NodeContext{Shutdown: p.shutdown, Device: n.Device}

		status, procErr := n.Module().Process(ctx, inst, nodeCtx, buf, out, roi, roi)
		if procErr != nil {
			return false, procErr
		}
		switch status {
		case module.StatusInterrupted:
			return true, nil
		case module.StatusErr:
			return false, nil
		}
		p.cache.Put(n.Fingerprint, out, roi)
		buf = out
	}
	return false, nil
}

func (p *Pipeline) publish(vp Viewport, source *module.PixelBuffer) {
	clamped := CheckZoomBounds(vp)
	bb := &Backbuffer{
		Buf:     p.lastBuffer(source),
		Width:   clamped.BoxW,
		Height:  clamped.BoxH,
		Scale:   clamped.Scale(),
		CenterX: clamped.CenterX,
		CenterY: clamped.CenterY,
	}
	p.backbuffer.Store(bb)
}

// lastBuffer returns the output of the pipeline's tail node, or the raw
// source if the pipeline has no enabled nodes.
func (p *Pipeline) lastBuffer(source *module.PixelBuffer) *module.PixelBuffer {
	for i := len(p.nodes) - 1; i >= 0; i-- {
		if entry, ok := p.cache.Get(p.nodes[i].Fingerprint); ok {
			return entry.Buffer
		}
	}
	return source
}

func rollingAverage(prev, sample time.Duration) time.Duration {
	if prev == 0 {
		return sample
	}
	return prev + (sample-prev)/4
}
