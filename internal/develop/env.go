// Package develop implements the Develop Controller (§4.10): the façade
// that ties one image's ordering list, module instances, history stack,
// and three pipelines together, and the autosave/lifecycle-signal plumbing
// around every mutation.
//
// Grounded on the teacher's internal/tasks package for the "one manager
// struct threading an Env-shaped bundle of collaborators through every
// operation" shape, generalized from per-job-type task managers into one
// controller keyed by image id.
package develop

import (
	"log/slog"

	"devengine/internal/config"
	"devengine/internal/lifecycle"
	"devengine/internal/module"
	"devengine/internal/module/loader"
	"devengine/internal/ordering"
	"devengine/internal/persistence"
)

// Env bundles the controller's collaborators. Constructed once at process
// start in cmd/devengine and passed by pointer everywhere, matching §3.1's
// "no ambient singletons" rule.
type Env struct {
	Log           *slog.Logger
	Config        *config.Config
	Store         *persistence.Store
	Hub           *lifecycle.Hub
	Registry      *module.Registry
	Loader        module.SourceLoader
	Watcher       *loader.Watcher // optional; nil disables re-trigger-on-change (§4.5 step 2)
	Workflow      ordering.Workflow
	SceneReferred bool
}
