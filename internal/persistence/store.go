// Package persistence round-trips history, ordering, and masks to a
// relational SQLite store, and produces the content hash used to detect
// out-of-process changes (§4.8).
//
// Grounded on the teacher's internal/storage (schema + ensureSchema + CRUD
// pattern) for the relational shape, and internal/darktable/db_watcher.go
// for the darktable-native column names and the nanoseconds-since-0001
// timestamp convention — this store now owns that schema outright instead
// of reading a foreign darktable library read-only.
package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"devengine/internal/history"
	"devengine/internal/module"
	"devengine/internal/ordering"
	"devengine/internal/preset"
)

// Image flag bits stored in images.flags (§6).
const (
	FlagAutoPresetsApplied       = 1 << 0
	FlagNoLegacyPresets          = 1 << 1
	FlagAutoPresetsAppliedOnce   = 1 << 2
)

// darktableEpochOffset is the Unix timestamp of "0001-01-01 00:00:00",
// reused from the teacher's db_watcher.go conversion so change_timestamp
// stays comparable with any darktable library this engine's schema was
// modeled on.
const darktableEpochOffset = -62135596800

func darktableNanosToTime(nanos int64) time.Time {
	if nanos <= 0 {
		return time.Time{}
	}
	unixSeconds := (nanos / 1000000000) + darktableEpochOffset
	return time.Unix(unixSeconds, 0).UTC()
}

func timeToDarktableNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return (t.Unix() - darktableEpochOffset) * 1000000000
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db         *sql.DB
	log        *slog.Logger
	sidecarDir string
}

// Open opens (or creates) the database at path and ensures its schema.
// sidecarDir is where ExportSidecar/ImportSidecar read and write XMP
// sidecars; an empty sidecarDir disables sidecar export entirely.
func Open(path, sidecarDir string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}
	s := &Store{db: db, log: log, sidecarDir: sidecarDir}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			width INT, height INT,
			history_end INT NOT NULL DEFAULT 0,
			change_timestamp INT,
			flags INT NOT NULL DEFAULT 0,
			maker TEXT, model TEXT, lens TEXT,
			iso REAL, exposure REAL, aperture REAL, focal_length REAL,
			raw INT, ldr INT, hdr INT, monochrome INT,
			content_hash TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS history (
			imgid TEXT, num INT,
			operation TEXT, op_params BLOB, module_version INT,
			enabled INT,
			blendop_params BLOB, blendop_version INT,
			multi_priority INT, multi_name TEXT, multi_name_hand_edited INT,
			rank INT, focus_hash TEXT,
			PRIMARY KEY (imgid, num)
		);`,
		`CREATE TABLE IF NOT EXISTS masks_history (
			imgid TEXT, num INT, formid TEXT, form_type TEXT, form_json BLOB
		);`,
		`CREATE TABLE IF NOT EXISTS presets (
			operation TEXT, op_version INT, op_params BLOB, blendop_params BLOB,
			enabled INT, autoapply INT, writeprotect INT,
			model TEXT, maker TEXT, lens TEXT,
			iso_min REAL, iso_max REAL,
			exposure_min REAL, exposure_max REAL,
			aperture_min REAL, aperture_max REAL,
			focal_length_min REAL, focal_length_max REAL,
			format INT,
			name TEXT, multi_name TEXT, multi_name_hand_edited INT
		);`,
		`CREATE TABLE IF NOT EXISTS ordering_lists (
			imgid TEXT PRIMARY KEY, workflow TEXT, version INT, entries_json TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY, job_type TEXT NOT NULL, status TEXT NOT NULL,
			input_path TEXT, output_path TEXT, options_json TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP, completed_at TIMESTAMP, error_message TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS job_results (
			job_id TEXT, meta_json TEXT, created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_imgid ON history(imgid);`,
		`CREATE INDEX IF NOT EXISTS idx_masks_history_imgid ON masks_history(imgid);`,
		`CREATE INDEX IF NOT EXISTS idx_presets_operation ON presets(operation);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("persistence: ensureSchema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureImage inserts an image row if it doesn't already exist, seeding it
// from the source's capture metadata. It is a no-op on an existing row, so
// LoadImage can call it unconditionally on every load.
func (s *Store) EnsureImage(id string, meta module.Metadata) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO images
		(id, width, height, history_end, change_timestamp, flags, maker, model, lens,
		 iso, exposure, aperture, focal_length, raw, ldr, hdr, monochrome)
		VALUES (?, ?, ?, 0, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, meta.Width, meta.Height, timeToDarktableNanos(time.Unix(meta.ChangeTimestamp, 0)),
		meta.Maker, meta.Model, meta.Lens, meta.ISO, meta.Exposure, meta.Aperture, meta.FocalLength,
		boolToInt(meta.Raw), boolToInt(meta.LDR), boolToInt(meta.HDR), boolToInt(meta.Monochrome))
	if err != nil {
		return fmt.Errorf("persistence: EnsureImage(%s): %w", id, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// imageRow is the subset of the images table ReadHistory needs.
type imageRow struct {
	flags      int
	historyEnd int
	meta       module.Metadata
}

func (s *Store) loadImageRow(id string) (imageRow, error) {
	var row imageRow
	var raw, ldr, hdr, mono int
	var changeTs int64
	err := s.db.QueryRow(`SELECT history_end, flags, width, height, maker, model, lens,
		iso, exposure, aperture, focal_length, raw, ldr, hdr, monochrome, change_timestamp
		FROM images WHERE id = ?`, id).Scan(
		&row.historyEnd, &row.flags, &row.meta.Width, &row.meta.Height,
		&row.meta.Maker, &row.meta.Model, &row.meta.Lens,
		&row.meta.ISO, &row.meta.Exposure, &row.meta.Aperture, &row.meta.FocalLength,
		&raw, &ldr, &hdr, &mono, &changeTs)
	if err != nil {
		return row, fmt.Errorf("persistence: loadImageRow(%s): %w", id, err)
	}
	row.meta.Raw, row.meta.LDR, row.meta.HDR, row.meta.Monochrome = raw != 0, ldr != 0, hdr != 0, mono != 0
	row.meta.ChangeTimestamp = darktableNanosToTime(changeTs).Unix()
	return row, nil
}

// ReadResult is everything ReadHistory needs to hand back to the develop
// controller to seed a fresh Develop state (§4.8 "On load").
type ReadResult struct {
	Entries    []history.Entry
	HistoryEnd int
	Ordering   *ordering.List
	Meta       module.Metadata
	Migrated   bool
}

// ReadHistory implements §4.8's on-load procedure: load persisted history,
// validate each entry against the installed registry, migrate legacy
// parameter bytes, run the preset resolver exactly once per image, and
// return everything needed to seed a Develop state.
func (s *Store) ReadHistory(ctx context.Context, imgID string, reg *module.Registry, wf ordering.Workflow, sceneReferred bool) (ReadResult, error) {
	row, err := s.loadImageRow(imgID)
	if err != nil {
		return ReadResult{}, err
	}

	entries, err := s.loadHistoryRows(imgID)
	if err != nil {
		return ReadResult{}, err
	}

	validated, migrated := validateAndMigrate(entries, reg, s.log, imgID)

	firstRun := row.flags&FlagAutoPresetsApplied == 0
	if firstRun {
		resolved, ordList, err := preset.Resolve(s, row.meta, preset.Options{Workflow: wf, SceneReferred: sceneReferred})
		if err != nil {
			return ReadResult{}, fmt.Errorf("persistence: preset resolve for %s: %w", imgID, err)
		}
		validated = prependAndRenumber(resolved, validated)
		row.historyEnd = len(validated)
		row.flags |= FlagAutoPresetsApplied
		if err := s.setImageFlags(imgID, row.flags); err != nil {
			return ReadResult{}, err
		}
		migrated = true
		if ordList != nil {
			if err := s.writeOrderingLocked(imgID, wf, ordList); err != nil {
				return ReadResult{}, err
			}
		}
	}

	validated = enforceDefaultEnabled(validated, reg)
	validated = coerceOneInstancePriority(validated, reg, s.log, imgID)

	ordList, err := s.loadOrdering(imgID, wf)
	if err != nil {
		return ReadResult{}, err
	}
	if ordList == nil {
		ordList = ordering.Default(reg, wf)
	}

	if migrated {
		if err := s.writeContentHash(imgID, validated); err != nil {
			return ReadResult{}, err
		}
	}

	return ReadResult{
		Entries:    validated,
		HistoryEnd: row.historyEnd,
		Ordering:   ordList,
		Meta:       row.meta,
		Migrated:   migrated,
	}, nil
}

func (s *Store) loadHistoryRows(imgID string) ([]history.Entry, error) {
	rows, err := s.db.Query(`SELECT operation, op_params, module_version, enabled,
		blendop_params, multi_priority, multi_name, multi_name_hand_edited, rank, focus_hash
		FROM history WHERE imgid = ? ORDER BY num ASC`, imgID)
	if err != nil {
		return nil, fmt.Errorf("persistence: loadHistoryRows(%s): %w", imgID, err)
	}
	defer rows.Close()

	var out []history.Entry
	for rows.Next() {
		var e history.Entry
		var enabled, handEdited int
		var focusHash sql.NullString
		if err := rows.Scan(&e.Op, &e.Params, &e.OpVersion, &enabled,
			&e.BlendParams, &e.InstancePriority, &e.Label, &handEdited, &e.Rank, &focusHash); err != nil {
			return nil, fmt.Errorf("persistence: scan history row: %w", err)
		}
		e.Enabled = enabled != 0
		e.LabelHandEdited = handEdited != 0
		e.FocusHash = focusHash.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// validateAndMigrate drops entries whose op isn't installed (ModuleMismatch)
// and invokes LegacyParams on version-skewed entries (LegacyMigrationFailed
// drops the entry), per §4.8 step 3 and §7's error taxonomy.
func validateAndMigrate(entries []history.Entry, reg *module.Registry, log *slog.Logger, imgID string) ([]history.Entry, bool) {
	out := make([]history.Entry, 0, len(entries))
	migrated := false
	for _, e := range entries {
		desc, ok := reg.Descriptor(e.Op)
		if !ok {
			if log != nil {
				log.Warn("persistence: dropping history entry for uninstalled operation", "image", imgID, "op", e.Op)
			}
			migrated = true
			continue
		}
		if e.OpVersion != desc.Version {
			if desc.LegacyParams == nil {
				if log != nil {
					log.Warn("persistence: dropping entry with no legacy migration path", "image", imgID, "op", e.Op, "stored_version", e.OpVersion, "current_version", desc.Version)
				}
				migrated = true
				continue
			}
			newBytes, newVersion, err := desc.LegacyParams(e.Params, e.OpVersion)
			if err != nil {
				if log != nil {
					log.Warn("persistence: legacy migration failed", "image", imgID, "op", e.Op, "stored_version", e.OpVersion, "current_version", desc.Version, "error", err)
				}
				migrated = true
				continue
			}
			e.Params = newBytes
			e.OpVersion = newVersion
			migrated = true
		}
		out = append(out, e)
	}
	return out, migrated
}

// enforceDefaultEnabled re-asserts P2 on every load: DEFAULT_ENABLED ∧
// HIDE_ENABLE_BUTTON entries are force-enabled regardless of stored value.
func enforceDefaultEnabled(entries []history.Entry, reg *module.Registry) []history.Entry {
	for i := range entries {
		if desc, ok := reg.Descriptor(entries[i].Op); ok {
			if desc.Flags.Has(module.FlagDefaultEnabled) && desc.Flags.Has(module.FlagHideEnableButton) {
				entries[i].Enabled = true
			}
		}
	}
	return entries
}

// coerceOneInstancePriority resolves the §9 open question: a persisted
// ONE_INSTANCE entry with instance-priority > 0 is coerced to 0, with a
// warning, since that combination can only arise from a schema downgrade
// or external corruption.
func coerceOneInstancePriority(entries []history.Entry, reg *module.Registry, log *slog.Logger, imgID string) []history.Entry {
	for i := range entries {
		desc, ok := reg.Descriptor(entries[i].Op)
		if !ok || !desc.Flags.Has(module.FlagOneInstance) {
			continue
		}
		if entries[i].InstancePriority > 0 {
			if log != nil {
				log.Warn("persistence: coercing ONE_INSTANCE multi_priority to 0", "image", imgID, "op", entries[i].Op, "stored_priority", entries[i].InstancePriority)
			}
			entries[i].InstancePriority = 0
		}
	}
	return entries
}

// prependAndRenumber inserts resolved preset entries ahead of the existing
// history, matching §4.7's "prepended... shifting existing num values up".
func prependAndRenumber(resolved, existing []history.Entry) []history.Entry {
	out := make([]history.Entry, 0, len(resolved)+len(existing))
	out = append(out, resolved...)
	out = append(out, existing...)
	return out
}

// WriteHistory implements §4.8's on-write procedure: replace the persisted
// history wholesale inside one transaction and update history_end plus the
// content hash.
func (s *Store) WriteHistory(imgID string, entries []history.Entry, historyEnd int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("persistence: WriteHistory begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM history WHERE imgid = ?`, imgID); err != nil {
		return fmt.Errorf("persistence: WriteHistory delete: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM masks_history WHERE imgid = ?`, imgID); err != nil {
		return fmt.Errorf("persistence: WriteHistory delete masks: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO history
		(imgid, num, operation, op_params, module_version, enabled, blendop_params,
		 blendop_version, multi_priority, multi_name, multi_name_hand_edited, rank, focus_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("persistence: WriteHistory prepare: %w", err)
	}
	defer stmt.Close()

	maskStmt, err := tx.Prepare(`INSERT INTO masks_history (imgid, num, formid, form_type, form_json) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("persistence: WriteHistory prepare masks: %w", err)
	}
	defer maskStmt.Close()

	for i, e := range entries {
		if i >= historyEnd {
			break // only the active prefix is persisted; redo tail is transient
		}
		if _, err := stmt.Exec(imgID, i, e.Op, e.Params, e.OpVersion, boolToInt(e.Enabled),
			e.BlendParams, e.OpVersion, e.InstancePriority, e.Label, boolToInt(e.LabelHandEdited), e.Rank, e.FocusHash); err != nil {
			return fmt.Errorf("persistence: WriteHistory insert row %d: %w", i, err)
		}
		for _, m := range e.Masks {
			if _, err := maskStmt.Exec(imgID, i, m.FormID, m.Kind, m.Data); err != nil {
				return fmt.Errorf("persistence: WriteHistory insert mask: %w", err)
			}
		}
	}

	if _, err := tx.Exec(`UPDATE images SET history_end = ? WHERE id = ?`, historyEnd, imgID); err != nil {
		return fmt.Errorf("persistence: WriteHistory update history_end: %w", err)
	}
	hash := ContentHash(entries[:min(historyEnd, len(entries))])
	if _, err := tx.Exec(`UPDATE images SET content_hash = ? WHERE id = ?`, hash, imgID); err != nil {
		return fmt.Errorf("persistence: WriteHistory update content_hash: %w", err)
	}

	return tx.Commit()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (s *Store) writeContentHash(imgID string, entries []history.Entry) error {
	hash := ContentHash(entries)
	_, err := s.db.Exec(`UPDATE images SET content_hash = ? WHERE id = ?`, hash, imgID)
	if err != nil {
		return fmt.Errorf("persistence: writeContentHash(%s): %w", imgID, err)
	}
	return nil
}

func (s *Store) setImageFlags(imgID string, flags int) error {
	_, err := s.db.Exec(`UPDATE images SET flags = ? WHERE id = ?`, flags, imgID)
	if err != nil {
		return fmt.Errorf("persistence: setImageFlags(%s): %w", imgID, err)
	}
	return nil
}

// ContentHash computes the SHA-256 over the canonical serialized entry
// list (§4.8 step 6), reusing the sha256-of-JSON habit seen in the
// teacher's grpcserver.
func ContentHash(entries []history.Entry) string {
	type canonical struct {
		Op          string
		OpVersion   int
		Prio        int
		Enabled     bool
		Params      []byte
		BlendParams []byte
		Rank        int
	}
	c := make([]canonical, len(entries))
	for i, e := range entries {
		c[i] = canonical{e.Op, e.OpVersion, e.InstancePriority, e.Enabled, e.Params, e.BlendParams, e.Rank}
	}
	blob, _ := json.Marshal(c)
	sum := sha256.Sum256(blob)
	return fmt.Sprintf("%x", sum)
}

// loadOrdering loads a per-image ordering override, if one was stored.
func (s *Store) loadOrdering(imgID string, wf ordering.Workflow) (*ordering.List, error) {
	var blob string
	var version int
	err := s.db.QueryRow(`SELECT version, entries_json FROM ordering_lists WHERE imgid = ?`, imgID).Scan(&version, &blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: loadOrdering(%s): %w", imgID, err)
	}
	var entries []ordering.Entry
	if err := json.Unmarshal([]byte(blob), &entries); err != nil {
		return nil, fmt.Errorf("persistence: decode ordering for %s: %w", imgID, err)
	}
	return &ordering.List{Version: version, Entries: entries}, nil
}

func (s *Store) writeOrderingLocked(imgID string, wf ordering.Workflow, list *ordering.List) error {
	blob, err := json.Marshal(list.Entries)
	if err != nil {
		return fmt.Errorf("persistence: encode ordering for %s: %w", imgID, err)
	}
	_, err = s.db.Exec(`INSERT INTO ordering_lists (imgid, workflow, version, entries_json) VALUES (?, ?, ?, ?)
		ON CONFLICT(imgid) DO UPDATE SET workflow = excluded.workflow, version = excluded.version, entries_json = excluded.entries_json`,
		imgID, string(wf), list.Version, string(blob))
	if err != nil {
		return fmt.Errorf("persistence: writeOrdering(%s): %w", imgID, err)
	}
	return nil
}

// WriteOrdering persists a per-image ordering override explicitly (e.g.
// after a manual reorder), independent of the preset-resolver write path.
func (s *Store) WriteOrdering(imgID string, wf ordering.Workflow, list *ordering.List) error {
	return s.writeOrderingLocked(imgID, wf, list)
}

// AutoApplyPresets implements preset.Store.
func (s *Store) AutoApplyPresets() ([]preset.Preset, error) {
	rows, err := s.db.Query(`SELECT operation, op_version, op_params, blendop_params, enabled, autoapply,
		writeprotect, model, maker, lens, iso_min, iso_max, exposure_min, exposure_max,
		aperture_min, aperture_max, focal_length_min, focal_length_max, format, name,
		multi_name, multi_name_hand_edited
		FROM presets WHERE autoapply = 1`)
	if err != nil {
		return nil, fmt.Errorf("persistence: AutoApplyPresets: %w", err)
	}
	defer rows.Close()

	var out []preset.Preset
	for rows.Next() {
		var p preset.Preset
		var enabled, autoapply, writeprotect, handEdited, format int
		if err := rows.Scan(&p.Operation, &p.OpVersion, &p.OpParams, &p.BlendParams, &enabled, &autoapply,
			&writeprotect, &p.Model, &p.Maker, &p.Lens,
			&p.ISO.Min, &p.ISO.Max, &p.Exposure.Min, &p.Exposure.Max,
			&p.Aperture.Min, &p.Aperture.Max, &p.FocalLength.Min, &p.FocalLength.Max,
			&format, &p.Name, &p.MultiName, &handEdited); err != nil {
			return nil, fmt.Errorf("persistence: scan preset row: %w", err)
		}
		p.Enabled = enabled != 0
		p.AutoApply = autoapply != 0
		p.WriteProtect = writeprotect != 0
		p.MultiNameHand = handEdited != 0
		p.Format = decodeFormatMask(format)
		out = append(out, p)
	}
	return out, rows.Err()
}

func decodeFormatMask(bits int) preset.FormatMask {
	if bits == 0 {
		return preset.FormatMask{Any: true}
	}
	return preset.FormatMask{
		Raw:        bits&1 != 0,
		LDR:        bits&2 != 0,
		HDR:        bits&4 != 0,
		Monochrome: bits&8 != 0,
	}
}

// IOOrderPreset implements preset.Store: selects a workflow-scoped ordering
// preset by naming convention (the pseudo-op "ioporder" row whose Name
// matches the workflow), or reports not-found so the caller falls back to
// the workflow default.
func (s *Store) IOOrderPreset(wf ordering.Workflow) (*ordering.List, bool, error) {
	var blob string
	var version int
	err := s.db.QueryRow(`SELECT op_version, op_params FROM presets WHERE operation = 'ioporder' AND name = ? LIMIT 1`, string(wf)).Scan(&version, &blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persistence: IOOrderPreset(%s): %w", wf, err)
	}
	var entries []ordering.Entry
	if err := json.Unmarshal([]byte(blob), &entries); err != nil {
		return nil, false, fmt.Errorf("persistence: decode ioporder preset: %w", err)
	}
	return &ordering.List{Version: version, Entries: entries}, true, nil
}

// RecordRenderRun records one render run in a run-history log, reusing the teacher's jobs/job_results table shape
// verbatim (§6) rather than inventing a parallel mechanism.
func (s *Store) RecordRenderRun(id, pipelineKind, status string, meta map[string]any) error {
	metaJSON, _ := json.Marshal(meta)
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO jobs (id, job_type, status, completed_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)`,
		id, pipelineKind, status); err != nil {
		return fmt.Errorf("persistence: RecordRenderRun: %w", err)
	}
	_, err := s.db.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?)`, id, string(metaJSON))
	if err != nil {
		return fmt.Errorf("persistence: RecordRenderRun meta: %w", err)
	}
	return nil
}

// sortEntriesByRank is a small helper used by callers assembling an
// ordering-consistent entry slice before persistence.
func sortEntriesByRank(entries []history.Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })
}
