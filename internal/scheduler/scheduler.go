// Package scheduler implements the Render Scheduler (§4.5): one bounded
// worker-pool class per pipeline kind (Full/Preview/Secondary), so that
// zooming the full-resolution image cannot starve the preview or a
// secondary viewer.
//
// Grounded on the teacher's internal/pipeline.Pipeline worker pool
// (buffered job channel, sync.WaitGroup workers, subscriber broadcast
// channel), generalized from one pool into three named classes and from
// arbitrary job payloads into render-run requests.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"devengine/internal/pipeline"
)

// Request asks the scheduler to run one pipeline once. Requests for the
// same pipeline collapse: a pending, not-yet-started request for a kind is
// replaced in place by a newer one rather than queued twice (§4.5 "Duplicate
// pending requests for the same pipeline collapse").
type Request struct {
	Kind  pipeline.Kind
	Input pipeline.RunInput
}

// Outcome is published to subscribers after a render run completes.
type Outcome struct {
	Kind   pipeline.Kind
	Status pipeline.Status
	Err    error
}

// class is the per-pipeline-kind worker pool. It holds at most one pending
// request at a time: Submit overwrites pending rather than queuing, which
// is what gives request coalescing its O(1) memory behavior.
type class struct {
	mu      sync.Mutex
	pending *Request
	hasWork chan struct{} // signaled (non-blocking) whenever pending is set
	p       *pipeline.Pipeline
}

func newClass(p *pipeline.Pipeline) *class {
	return &class{p: p, hasWork: make(chan struct{}, 1)}
}

func (c *class) submit(req Request) {
	c.mu.Lock()
	c.pending = &req
	c.mu.Unlock()
	select {
	case c.hasWork <- struct{}{}:
	default:
	}
}

// take pops the current pending request, if any, clearing it so a
// concurrent submit starts a fresh coalescing window.
func (c *class) take() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		var zero Request
		return zero, false
	}
	req := *c.pending
	c.pending = nil
	return req, true
}

// Scheduler owns one class per pipeline kind and a fixed number of worker
// goroutines draining each.
type Scheduler struct {
	log     *slog.Logger
	classes map[pipeline.Kind]*class

	mu        sync.Mutex
	subs      map[int]chan Outcome
	nextSubID int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New starts a scheduler with workersPerClass goroutines servicing each of
// the three pipelines independently.
func New(ctx context.Context, log *slog.Logger, full, preview, secondary *pipeline.Pipeline, workersPerClass int) *Scheduler {
	if workersPerClass < 1 {
		workersPerClass = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		log:    log,
		cancel: cancel,
		subs:   make(map[int]chan Outcome),
		classes: map[pipeline.Kind]*class{
			pipeline.Full:      newClass(full),
			pipeline.Preview:   newClass(preview),
			pipeline.Secondary: newClass(secondary),
		},
	}
	for kind, c := range s.classes {
		for i := 0; i < workersPerClass; i++ {
			s.wg.Add(1)
			go s.worker(ctx, kind, c)
		}
	}
	return s
}

// Submit enqueues a render request for one pipeline kind. A request for a
// kind with no registered class is a programming error and is dropped with
// a log line rather than a panic, since it can only come from a future
// pipeline kind the scheduler wasn't told about.
func (s *Scheduler) Submit(req Request) {
	c, ok := s.classes[req.Kind]
	if !ok {
		if s.log != nil {
			s.log.Warn("scheduler: no worker class for pipeline kind", "kind", req.Kind)
		}
		return
	}
	c.submit(req)
}

func (s *Scheduler) worker(ctx context.Context, kind pipeline.Kind, c *class) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.hasWork:
			req, ok := c.take()
			if !ok {
				continue
			}
			status, err := c.p.Run(ctx, req.Input)
			if s.log != nil {
				if err != nil {
					s.log.Error("render run failed", "pipeline", kind, "error", err)
				} else {
					s.log.Debug("render run finished", "pipeline", kind, "status", status)
				}
			}
			s.broadcast(Outcome{Kind: kind, Status: status, Err: err})
		}
	}
}

// Subscribe returns a channel of render outcomes across all three
// pipelines, and an unsubscribe function. A slow subscriber's channel is
// dropped-from rather than blocking workers (§4.5 saturation-drop
// discipline applied to the notification fan-out too).
func (s *Scheduler) Subscribe() (<-chan Outcome, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Outcome, 8)
	s.subs[id] = ch
	unsub := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
	return ch, unsub
}

func (s *Scheduler) broadcast(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- o:
		default:
			if s.log != nil {
				s.log.Warn("scheduler: outcome channel full, dropping", "subscriber", id, "pipeline", o.Kind)
			}
		}
	}
}

// Stop cancels all workers and waits for them to exit, then closes every
// subscriber channel.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
