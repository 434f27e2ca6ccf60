// Package errs defines the develop engine's error taxonomy as sentinel
// values, wrapped with fmt.Errorf's %w the way the teacher's
// internal/storage and internal/tasks packages do throughout.
package errs

import "errors"

var (
	// InvalidImage means an unknown image id or an unreadable source file.
	InvalidImage = errors.New("develop: invalid image")

	// ScheduleSaturated means Render got no outcome for its pipeline: the
	// wait timed out, or the scheduler's outcome channel closed before the
	// pipeline reported.
	ScheduleSaturated = errors.New("develop: pipeline schedule saturated")

	// ModuleMismatch means a persisted history entry names an operation
	// that is not installed in the registry.
	ModuleMismatch = errors.New("develop: history entry references unknown module")

	// LegacyMigrationFailed means a module's LegacyParams refused to
	// migrate a persisted entry to its current schema version.
	LegacyMigrationFailed = errors.New("develop: legacy parameter migration failed")

	// PipelineInterrupted is an internal control-flow sentinel; it must
	// never reach a caller outside internal/pipeline.
	PipelineInterrupted = errors.New("develop: pipeline run interrupted")

	// AutosaveSlowDriveDetected means a persistence write crossed the
	// configured slow-write threshold; autosave is disabled for the
	// session when this fires.
	AutosaveSlowDriveDetected = errors.New("develop: autosave write exceeded slow-drive threshold")

	// PersistenceConflict means a write transaction was refused; the
	// caller's in-memory state is left untouched.
	PersistenceConflict = errors.New("develop: persistence write conflict")
)
