package develop

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"devengine/internal/devcheck"
	"devengine/internal/develop/errs"
	"devengine/internal/history"
	"devengine/internal/lifecycle"
	"devengine/internal/logging"
	"devengine/internal/module"
	"devengine/internal/pipeline"
	"devengine/internal/scheduler"
)

// Controller owns every currently loaded image's State and is the sole
// entry point the CLI and HTTP surfaces call into (§4.10).
//
// mu is this process's dev_threadsafe: held only around the states map
// itself (load/unload), never across a history mutation or a render run,
// so two different images never contend on it (§5 "process-wide,... only
// during load/unload").
type Controller struct {
	env *Env

	mu         sync.Mutex
	states     map[string]*State
	watchPaths map[string]string // source path -> image id, for env.Watcher callbacks

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController starts a controller bound to env. The returned context
// governs every scheduler this controller ever creates; cancel it (or call
// Shutdown) to stop all background render workers.
func NewController(env *Env) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{env: env, states: make(map[string]*State), watchPaths: make(map[string]string), ctx: ctx, cancel: cancel}
	if env.Watcher != nil {
		env.Watcher.Start(c.onSourceChanged)
	}
	return c
}

// lock acquires the controller's dev_threadsafe, recording the acquisition
// for the lock-order assertion (§5). Held only around the states map
// itself, never across a history mutation or a render run.
func (c *Controller) lock() {
	devcheck.Enter(devcheck.LevelController)
	c.mu.Lock()
}

func (c *Controller) unlock() {
	c.mu.Unlock()
	devcheck.Exit(devcheck.LevelController)
}

// Shutdown tears down every loaded image's pipelines and scheduler.
func (c *Controller) Shutdown() {
	c.lock()
	defer c.unlock()
	for id, st := range c.states {
		st.GUILeaving.Store(true)
		for _, p := range st.pipelines() {
			p.RequestShutdown()
		}
		if st.Scheduler != nil {
			st.Scheduler.Stop()
		}
		delete(c.states, id)
	}
	if c.env.Watcher != nil {
		if err := c.env.Watcher.Stop(); err != nil && c.env.Log != nil {
			c.env.Log.Warn("develop: watcher stop failed", "error", err)
		}
	}
	c.cancel()
}

// State returns the loaded State for imgID, if any.
func (c *Controller) State(imgID string) (*State, bool) {
	c.lock()
	defer c.unlock()
	st, ok := c.states[imgID]
	return st, ok
}

// LoadImage implements §4.8's on-load procedure end to end: decode the
// source, read persisted history through the registry (migrating legacy
// entries and running the preset resolver on first load), seed a fresh
// State, and mark all three pipelines for a full rebuild on their first
// run. Calling LoadImage again for an already-loaded image is a no-op that
// returns the existing State.
func (c *Controller) LoadImage(ctx context.Context, imgID, path string) (*State, error) {
	c.lock()
	defer c.unlock()

	if st, ok := c.states[imgID]; ok {
		return st, nil
	}

	buf, meta, err := c.env.Loader.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("develop: load %s: %w: %v", imgID, errs.InvalidImage, err)
	}
	if err := c.env.Store.EnsureImage(imgID, meta); err != nil {
		return nil, err
	}

	res, err := c.env.Store.ReadHistory(ctx, imgID, c.env.Registry, c.env.Workflow, c.env.SceneReferred)
	if err != nil {
		return nil, err
	}

	st := newState(imgID, res.Meta, c.env)
	st.Source = buf
	st.SourcePath = path
	st.History.ReplaceAll(res.Entries, res.HistoryEnd)
	st.Ordering = res.Ordering

	st.mu.Lock()
	st.syncInstancesFromActiveLocked(c.env.Registry, st.History.Active())
	st.mu.Unlock()

	st.Scheduler = scheduler.New(c.ctx, c.env.Log, st.Full, st.Preview, st.Secondary, c.env.Config.Processing.WorkerPerPipeline)
	for _, p := range st.pipelines() {
		p.SetLoading()
	}

	c.states[imgID] = st

	if res.Migrated && c.env.Log != nil {
		c.env.Log.Info("develop: history migrated or presets auto-applied on load", "image", imgID)
	}
	c.publish(lifecycle.Signal{Kind: lifecycle.KindImageLoaded, ImageID: imgID, At: time.Now()})

	if c.env.Watcher != nil {
		c.watchPaths[path] = imgID
		if err := c.env.Watcher.Add(filepath.Dir(path)); err != nil && c.env.Log != nil {
			c.env.Log.Warn("develop: failed to watch source directory", "path", path, "error", err)
		}
	}
	return st, nil
}

// ReloadSource re-decodes imgID's source file from disk and marks every
// pipeline's input as changed (§4.5 step 5), used when the external loader
// re-triggers after a watched source file is overwritten in place.
func (c *Controller) ReloadSource(ctx context.Context, imgID string) error {
	st, ok := c.State(imgID)
	if !ok {
		return fmt.Errorf("develop: ReloadSource %s: %w", imgID, errs.InvalidImage)
	}

	buf, _, err := c.env.Loader.Load(ctx, st.SourcePath)
	if err != nil {
		return fmt.Errorf("develop: reload source %s: %w: %v", imgID, errs.InvalidImage, err)
	}

	st.mu.Lock()
	st.Source = buf
	st.mu.Unlock()

	for _, p := range st.pipelines() {
		p.SetInputChanged()
	}
	c.publish(lifecycle.Signal{Kind: lifecycle.KindSourceReloaded, ImageID: imgID, At: time.Now()})
	return nil
}

// onSourceChanged is the loader.Watcher callback installed in
// NewController when env.Watcher is set; it maps a changed file path back
// to the image id loaded from it and reloads that image's source.
func (c *Controller) onSourceChanged(path string) {
	c.lock()
	imgID, ok := c.watchPaths[path]
	c.unlock()
	if !ok {
		return
	}
	if err := c.ReloadSource(context.Background(), imgID); err != nil && c.env.Log != nil {
		c.env.Log.Warn("develop: source reload after watch event failed", "image", imgID, "error", err)
	}
}

// Unload tears down imgID's pipelines and scheduler and drops its State.
// Any render in flight observes GUILeaving/shutdown and returns
// StatusInvalid rather than racing the teardown.
func (c *Controller) Unload(imgID string) {
	c.lock()
	st, ok := c.states[imgID]
	if ok {
		delete(c.states, imgID)
	}
	c.unlock()
	if !ok {
		return
	}
	st.GUILeaving.Store(true)
	for _, p := range st.pipelines() {
		p.RequestShutdown()
	}
	if st.Scheduler != nil {
		st.Scheduler.Stop()
	}
	c.publish(lifecycle.Signal{Kind: lifecycle.KindImageUnloaded, ImageID: imgID, At: time.Now()})
}

// EditRequest describes one AddHistoryItem call's inputs.
type EditRequest struct {
	Op               string
	InstancePriority int
	Enable           bool
	// Params, when non-nil, is merged key-by-key into the instance's
	// current parameter JSON object rather than replacing it wholesale, so
	// a caller can adjust one field without having to restate the rest
	// (§4.10 doesn't mandate this shape; it's the natural one for a CLI
	// driving an opaque, per-module JSON schema).
	Params      map[string]any
	BlendParams map[string]any
	// FocusHash and Target implement the §4.2 coalescing-for-undo gate: a
	// caller making closely-spaced edits against the same logical widget
	// passes a stable Target and the widget's current FocusHash so repeat
	// edits replace the tail entry instead of each pushing a new undo step.
	FocusHash string
	Target    any
}

// AddHistoryItem implements §4.10's central mutation: look up or create the
// instance, merge in new parameters, append to history with the
// appropriate coalescing decision, propagate the resulting change-flag to
// all three pipelines, emit a lifecycle signal, and trigger autosave.
func (c *Controller) AddHistoryItem(ctx context.Context, imgID string, req EditRequest) (history.ChangeFlag, error) {
	st, ok := c.State(imgID)
	if !ok {
		return history.ChangeUnchanged, fmt.Errorf("develop: AddHistoryItem %s: %w", imgID, errs.InvalidImage)
	}
	desc, ok := c.env.Registry.Descriptor(req.Op)
	if !ok {
		return history.ChangeUnchanged, fmt.Errorf("develop: AddHistoryItem %s/%s: %w", imgID, req.Op, errs.ModuleMismatch)
	}

	key := module.InstanceKey{Op: req.Op, InstancePriority: req.InstancePriority}

	st.mu.Lock()
	inst := st.instanceForLocked(key, c.env.Registry)
	if req.Params != nil {
		merged, err := mergeParamsJSON(inst.Params, req.Params)
		if err != nil {
			st.mu.Unlock()
			return history.ChangeUnchanged, fmt.Errorf("develop: merge params for %s/%s: %w", imgID, req.Op, err)
		}
		inst.Params = merged
	}
	if req.BlendParams != nil {
		merged, err := mergeParamsJSON(inst.BlendParams, req.BlendParams)
		if err != nil {
			st.mu.Unlock()
			return history.ChangeUnchanged, fmt.Errorf("develop: merge blend params for %s/%s: %w", imgID, req.Op, err)
		}
		inst.BlendParams = merged
	}
	inst.Enabled = req.Enable
	inst.Rank = st.rankForLocked(key)

	if mod, ok := c.env.Registry.Lookup(req.Op); ok {
		if err := mod.CommitParams(inst); err != nil {
			st.mu.Unlock()
			return history.ChangeUnchanged, fmt.Errorf("develop: CommitParams %s/%s: %w", imgID, req.Op, err)
		}
	}

	coalesce := req.Target != nil && st.History.ShouldCoalesce(req.Target, req.FocusHash)
	flag := st.History.Append(inst, desc.Flags, !coalesce, false, nil, req.FocusHash, req.Target)
	st.mu.Unlock()

	st.invalidate(flag)

	if c.env.Log != nil {
		logging.LogHistoryAppend(c.env.Log, imgID, req.Op, req.InstancePriority, st.History.HistoryEnd())
	}
	c.publish(lifecycle.Signal{Kind: lifecycle.KindHistoryChange, ImageID: imgID, At: time.Now()})
	c.maybeAutosave(st)

	return flag, nil
}

// PopHistory implements §4.2's PopTo plus the replay step it explicitly
// leaves to the caller: reset history_end to n, rebuild every module
// instance's live parameters from the new active prefix, and propagate the
// resulting change-flag.
func (c *Controller) PopHistory(imgID string, n int) (history.ChangeFlag, error) {
	st, ok := c.State(imgID)
	if !ok {
		return history.ChangeUnchanged, fmt.Errorf("develop: PopHistory %s: %w", imgID, errs.InvalidImage)
	}

	flag, _ := st.History.PopTo(n)

	st.mu.Lock()
	st.syncInstancesFromActiveLocked(c.env.Registry, st.History.Active())
	st.mu.Unlock()

	st.invalidate(flag)
	c.publish(lifecycle.Signal{Kind: lifecycle.KindHistoryChange, ImageID: imgID, At: time.Now()})
	c.maybeAutosave(st)
	return flag, nil
}

// Undo pops one step back.
func (c *Controller) Undo(imgID string) (history.ChangeFlag, error) {
	st, ok := c.State(imgID)
	if !ok {
		return history.ChangeUnchanged, fmt.Errorf("develop: Undo %s: %w", imgID, errs.InvalidImage)
	}
	return c.PopHistory(imgID, st.History.HistoryEnd()-1)
}

// Redo advances one step into the redo tail, if any remains.
func (c *Controller) Redo(imgID string) (history.ChangeFlag, error) {
	st, ok := c.State(imgID)
	if !ok {
		return history.ChangeUnchanged, fmt.Errorf("develop: Redo %s: %w", imgID, errs.InvalidImage)
	}
	return c.PopHistory(imgID, st.History.HistoryEnd()+1)
}

// ReloadHistory implements §4.10's ReloadHistory: discard in-memory history
// in favor of what's now persisted (e.g. after an external sidecar edit),
// replaying to the same cursor depth as before when the new history is at
// least that long.
func (c *Controller) ReloadHistory(ctx context.Context, imgID string) error {
	st, ok := c.State(imgID)
	if !ok {
		return fmt.Errorf("develop: ReloadHistory %s: %w", imgID, errs.InvalidImage)
	}

	originalCursor := st.History.HistoryEnd()
	res, err := c.env.Store.ReadHistory(ctx, imgID, c.env.Registry, c.env.Workflow, c.env.SceneReferred)
	if err != nil {
		return err
	}

	st.History.ReplaceAll(res.Entries, len(res.Entries))
	cursor := originalCursor
	if cursor > len(res.Entries) {
		cursor = len(res.Entries)
	}
	flag, _ := st.History.PopTo(cursor)

	st.mu.Lock()
	st.Ordering = res.Ordering
	st.syncInstancesFromActiveLocked(c.env.Registry, st.History.Active())
	st.mu.Unlock()

	st.invalidate(flag | history.ChangeRemove)
	c.publish(lifecycle.Signal{Kind: lifecycle.KindHistoryChange, ImageID: imgID, At: time.Now()})
	return nil
}

// Render submits one render request for imgID's kind pipeline and blocks
// until that pipeline's next outcome arrives or timeout elapses. It
// exercises the scheduler rather than calling pipeline.Run directly, so a
// render submitted here still coalesces with a concurrent GUI-driven
// request for the same pipeline (§4.5).
func (c *Controller) Render(ctx context.Context, imgID string, kind pipeline.Kind, vp pipeline.Viewport, timeout time.Duration) (pipeline.Status, error) {
	st, ok := c.State(imgID)
	if !ok {
		return pipeline.StatusInvalid, fmt.Errorf("develop: Render %s: %w", imgID, errs.InvalidImage)
	}

	ch, unsub := st.Scheduler.Subscribe()
	defer unsub()
	st.Scheduler.Submit(scheduler.Request{Kind: kind, Input: st.runInput(vp)})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case o, ok := <-ch:
			if !ok {
				return pipeline.StatusInvalid, fmt.Errorf("develop: Render %s: %w", imgID, errs.ScheduleSaturated)
			}
			if o.Kind != kind {
				continue
			}
			if o.Err != nil {
				return o.Status, o.Err
			}
			c.publish(lifecycle.Signal{Kind: lifecycle.KindPipeFinished, ImageID: imgID, Pipeline: kind.String(), At: time.Now()})
			return o.Status, nil
		case <-timer.C:
			return pipeline.StatusInvalid, fmt.Errorf("develop: Render %s/%s: %w", imgID, kind, errs.ScheduleSaturated)
		case <-ctx.Done():
			return pipeline.StatusInvalid, ctx.Err()
		}
	}
}

// WaitHash delegates to the named pipeline's hash-wait protocol (§4.4).
func (c *Controller) WaitHash(ctx context.Context, imgID string, kind pipeline.Kind, rank int, dir pipeline.Direction, expected uint64) (pipeline.WaitResult, bool, error) {
	st, ok := c.State(imgID)
	if !ok {
		return pipeline.WaitTimedOut, false, fmt.Errorf("develop: WaitHash %s: %w", imgID, errs.InvalidImage)
	}
	p := st.Full
	switch kind {
	case pipeline.Preview:
		p = st.Preview
	case pipeline.Secondary:
		p = st.Secondary
	}
	poll := time.Duration(c.env.Config.HashWait.PollIntervalMS) * time.Millisecond
	timeout := time.Duration(c.env.Config.HashWait.TimeoutMS) * time.Millisecond
	result, reprocess := p.WaitHash(ctx, rank, dir, expected, poll, timeout)
	return result, reprocess, nil
}

// maybeAutosave implements §4.10's autosave cadence: at most once per
// configured delay, skipped entirely once a slow write has disabled it for
// the session.
func (c *Controller) maybeAutosave(st *State) {
	cfg := c.env.Config.Autosave
	if !cfg.Enabled {
		return
	}

	st.autosaveMu.Lock()
	if st.autosaveDisabled {
		st.autosaveMu.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(st.lastAutosave) < time.Duration(cfg.DelaySeconds)*time.Second {
		st.autosaveMu.Unlock()
		return
	}
	st.lastAutosave = now
	st.autosaveMu.Unlock()

	entries := st.History.All()
	historyEnd := st.History.HistoryEnd()

	start := time.Now()
	if err := c.env.Store.WriteHistory(st.ImageID, entries, historyEnd); err != nil {
		if c.env.Log != nil {
			c.env.Log.Error("develop: autosave write failed", "image", st.ImageID, "error", err)
		}
		return
	}
	if err := c.env.Store.ExportSidecar(st.ImageID, entries, historyEnd, st.Ordering); err != nil {
		if c.env.Log != nil {
			c.env.Log.Warn("develop: sidecar export failed", "image", st.ImageID, "error", err)
		}
	}
	elapsed := time.Since(start)

	if _, stillLoaded := c.State(st.ImageID); !stillLoaded {
		return
	}

	threshold := time.Duration(cfg.SlowWriteThresholdMS) * time.Millisecond
	if elapsed > threshold {
		st.autosaveMu.Lock()
		st.autosaveDisabled = true
		st.autosaveMu.Unlock()
		if c.env.Log != nil {
			logging.LogAutosaveSlowWrite(c.env.Log, st.ImageID, elapsed, approxEntriesSize(entries[:min(historyEnd, len(entries))]))
			c.env.Log.Debug("develop: autosave disabled for session", "image", st.ImageID, "error", errs.AutosaveSlowDriveDetected)
		}
		c.publish(lifecycle.Signal{Kind: lifecycle.KindAutosaveSlow, ImageID: st.ImageID, At: time.Now()})
	}
}

func (c *Controller) publish(sig lifecycle.Signal) {
	if c.env.Hub != nil {
		c.env.Hub.Publish(sig)
	}
}

func approxEntriesSize(entries []history.Entry) int {
	n := 0
	for _, e := range entries {
		n += len(e.Params) + len(e.BlendParams)
	}
	return n
}

func mergeParamsJSON(current []byte, overlay map[string]any) ([]byte, error) {
	base := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &base); err != nil {
			return nil, err
		}
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}

