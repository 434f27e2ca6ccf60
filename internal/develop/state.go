package develop

import (
	"sync"
	"sync/atomic"
	"time"

	"devengine/internal/history"
	"devengine/internal/module"
	"devengine/internal/ordering"
	"devengine/internal/pipeline"
	"devengine/internal/scheduler"
)

// State is one loaded image's develop-engine aggregate (§3 "Develop
// state"): its ordering, live module instances, history stack, three
// pipelines, and the scheduler serializing runs across them.
//
// mu guards Instances and Ordering, extending the history mutex's scope to
// cover the "live parameters" the spec describes module instances as
// holding (§5 "Parameter bytes inside a module instance are mutated only
// under the history mutex") — History itself carries its own mutex and is
// safe to call without holding State.mu, but Instances/Ordering are plain
// maps/pointers with no such protection of their own.
type State struct {
	ImageID    string
	Meta       module.Metadata
	Source     *module.PixelBuffer
	SourcePath string

	mu        sync.Mutex
	Ordering  *ordering.List
	Instances map[module.InstanceKey]*module.Instance

	History *history.Stack

	Clock               *pipeline.Clock
	Full, Preview, Secondary *pipeline.Pipeline
	Scheduler           *scheduler.Scheduler

	GUILeaving atomic.Bool

	autosaveMu       sync.Mutex
	lastAutosave     time.Time
	autosaveDisabled bool
}

func newState(imgID string, meta module.Metadata, env *Env) *State {
	clock := &pipeline.Clock{}
	cacheSize := env.Config.Processing.WorkerPerPipeline * 8
	if cacheSize < 8 {
		cacheSize = 8
	}
	return &State{
		ImageID:   imgID,
		Meta:      meta,
		Instances: make(map[module.InstanceKey]*module.Instance),
		History:   history.New(env.Registry, history.CoalesceWindow{MergeSameSecs: float64(env.Config.Undo.MergeSameSecs), ReviewSecs: float64(env.Config.Undo.ReviewSecs)}),
		Clock:     clock,
		Full:      pipeline.New(pipeline.Full, env.Registry, clock, cacheSize),
		Preview:   pipeline.New(pipeline.Preview, env.Registry, clock, cacheSize),
		Secondary: pipeline.New(pipeline.Secondary, env.Registry, clock, cacheSize),
	}
}

// pipelines returns the three owned pipelines, for callers that treat them
// uniformly (invalidation, shutdown).
func (st *State) pipelines() [3]*pipeline.Pipeline {
	return [3]*pipeline.Pipeline{st.Full, st.Preview, st.Secondary}
}

// invalidate propagates flag to every pipeline (§4.10 "invalidates
// pipelines" on every history mutation).
func (st *State) invalidate(flag history.ChangeFlag) {
	if flag == history.ChangeUnchanged {
		return
	}
	for _, p := range st.pipelines() {
		p.Invalidate(flag)
	}
}

// instanceForLocked returns the live instance for key, creating one seeded
// from the registry's default parameters if this is the first time key has
// been touched (§3 "Lifecycle": one instance per installed type, plus one
// per additional multi-instance priority on demand). Callers must hold
// st.mu.
func (st *State) instanceForLocked(key module.InstanceKey, reg *module.Registry) *module.Instance {
	if inst, ok := st.Instances[key]; ok {
		return inst
	}
	inst := &module.Instance{Op: key.Op, InstancePriority: key.InstancePriority}
	if desc, ok := reg.Descriptor(key.Op); ok {
		inst.Params = append([]byte(nil), desc.DefaultParams...)
		inst.BlendParams = append([]byte(nil), desc.DefaultBlendParams...)
		inst.Enabled = desc.Flags.Has(module.FlagDefaultEnabled)
	}
	st.Instances[key] = inst
	return inst
}

// rankForLocked resolves key's ordering rank, falling back to the current
// instance count so a never-ordered op still gets a stable, if arbitrary,
// position rather than colliding at rank 0.
func (st *State) rankForLocked(key module.InstanceKey) int {
	if st.Ordering != nil {
		if r, ok := st.Ordering.Rank(key.Op, key.InstancePriority); ok {
			return r
		}
	}
	return len(st.Instances)
}

// syncInstancesFromActiveLocked rebuilds Instances from the history stack's
// current active prefix: every instance is reset to its registry defaults,
// then each active entry's parameters are replayed on top (§4.2 PopTo:
// "reset every module instance's live parameters to its defaults, then
// replay"). Callers must hold st.mu.
func (st *State) syncInstancesFromActiveLocked(reg *module.Registry, active []history.Entry) {
	for key, inst := range st.Instances {
		desc, ok := reg.Descriptor(key.Op)
		if !ok {
			continue
		}
		inst.Params = append([]byte(nil), desc.DefaultParams...)
		inst.BlendParams = append([]byte(nil), desc.DefaultBlendParams...)
		inst.Enabled = desc.Flags.Has(module.FlagDefaultEnabled)
		inst.Label, inst.LabelHandEdited = "", false
	}
	for _, e := range active {
		key := module.InstanceKey{Op: e.Op, InstancePriority: e.InstancePriority}
		inst := st.instanceForLocked(key, reg)
		inst.Params = append([]byte(nil), e.Params...)
		inst.BlendParams = append([]byte(nil), e.BlendParams...)
		inst.Enabled = e.Enabled
		inst.Label = e.Label
		inst.LabelHandEdited = e.LabelHandEdited
		inst.Rank = e.Rank
		if m, ok := reg.Lookup(e.Op); ok {
			_ = m.CommitParams(inst)
		}
	}
}

// runInput assembles a pipeline.RunInput from this state's current history
// and source, for the given viewport (§4.10, render submission).
func (st *State) runInput(vp pipeline.Viewport) pipeline.RunInput {
	return pipeline.RunInput{
		Entries:    st.History.Active(),
		Ordering:   st.Ordering,
		Source:     st.Source,
		Viewport:   vp,
		GUILeaving: &st.GUILeaving,
	}
}
