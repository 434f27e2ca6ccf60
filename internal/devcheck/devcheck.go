// Package devcheck is a debug-build lock-order assertion helper. It has no
// third-party grounding in the pack: no example repo carries a lock-order
// verifier, so this is built directly on the standard library and gated
// behind a build tag rather than a config flag, following the teacher's
// convention of using go:build for anything that must not ship (see
// DESIGN.md).
//
// The fixed order this package enforces, per the design notes (§5): the
// controller's dev_threadsafe, then the history mutex, then a pipeline's
// per-run mutex. The one documented exception is node-rebuild, which takes
// the history mutex briefly from inside an already-running pipeline (§4.5
// step 6c); Enter treats LevelHistory-while-holding-LevelPipeline as legal.
//
// Without the devcheck build tag, Enter and Exit are no-ops (see
// devcheck_off.go) and compile away to nothing worth inlining around.
package devcheck

// Level identifies a position in the fixed lock-acquisition order.
type Level int

const (
	LevelController Level = iota + 1
	LevelHistory
	LevelPipeline
)

func (l Level) String() string {
	switch l {
	case LevelController:
		return "controller"
	case LevelHistory:
		return "history"
	case LevelPipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}
