// Package history implements the versioned edit-history stack (§4.2): an
// ordered log of immutable edit entries with a cursor separating the active
// prefix from the redo tail.
package history

import (
	"bytes"
	"sync"
	"time"

	"devengine/internal/devcheck"
	"devengine/internal/module"
)

// ChangeFlag mirrors pipeline.ChangeFlag without importing the pipeline
// package, avoiding an import cycle: history is a leaf the pipeline
// consumes, not the other way around. pipeline.ChangeFlag's bit values are
// defined to match these exactly (see pipeline/state.go).
type ChangeFlag uint32

const (
	ChangeUnchanged   ChangeFlag = 0
	ChangeTopChanged  ChangeFlag = 1 << 0
	ChangeZoomed      ChangeFlag = 1 << 1
	ChangeSynch       ChangeFlag = 1 << 2
	ChangeRemove      ChangeFlag = 1 << 3
)

// Mask is a deep-copyable mask form descriptor (§3 "Mask form").
type Mask struct {
	FormID string
	Kind   string // polygon, gradient, brush, ...
	Data   []byte
}

func (m Mask) clone() Mask {
	out := m
	out.Data = append([]byte(nil), m.Data...)
	return out
}

// Entry is one immutable history snapshot (§3 "History entry").
type Entry struct {
	Op                string
	OpVersion         int
	InstancePriority  int
	Label             string
	LabelHandEdited   bool
	Enabled           bool
	Params            []byte
	BlendParams       []byte
	Rank              int
	Masks             []Mask
	FocusHash         string
}

func (e Entry) key() module.InstanceKey {
	return module.InstanceKey{Op: e.Op, InstancePriority: e.InstancePriority}
}

func (e Entry) clone() Entry {
	out := e
	out.Params = append([]byte(nil), e.Params...)
	out.BlendParams = append([]byte(nil), e.BlendParams...)
	if e.Masks != nil {
		out.Masks = make([]Mask, len(e.Masks))
		for i, m := range e.Masks {
			out.Masks[i] = m.clone()
		}
	}
	return out
}

func sameEdit(a, b Entry, compareMasks bool) bool {
	if a.Op != b.Op || a.InstancePriority != b.InstancePriority {
		return false
	}
	if !bytes.Equal(a.Params, b.Params) || !bytes.Equal(a.BlendParams, b.BlendParams) {
		return false
	}
	if a.FocusHash != b.FocusHash {
		return false
	}
	if compareMasks {
		if len(a.Masks) != len(b.Masks) {
			return false
		}
		for i := range a.Masks {
			if a.Masks[i].FormID != b.Masks[i].FormID || !bytes.Equal(a.Masks[i].Data, b.Masks[i].Data) {
				return false
			}
		}
	}
	return true
}

// AlwaysOn reports whether an op's flags mark it "always on": entries for
// such ops survive the "drop obsolete redo tail" step of Append even though
// they sit above history_end (§4.2).
func AlwaysOn(flags module.Flag) bool {
	return flags.Has(module.FlagDefaultEnabled) && !flags.Has(module.FlagHideEnableButton)
}

// CoalesceWindow is the per-user-configurable undo-coalescing gate
// (§4.2 "Coalescing for undo").
type CoalesceWindow struct {
	MergeSameSecs float64
	ReviewSecs    float64
}

type coalesceState struct {
	target    any
	focusHash string
	lastEdit  time.Time
}

// Stack is the ordered history log plus its cursor. All exported methods
// take the stack's mutex, matching §5's lock-order discipline (history
// mutex is acquired standalone here; the pipeline mutex is a separate,
// higher-level concern the develop package composes on top).
type Stack struct {
	mu         sync.Mutex
	entries    []Entry
	historyEnd int
	window     CoalesceWindow
	coalesce   map[any]*coalesceState
	registry   *module.Registry

	// LastChangeFlag is the change-flag raised by the most recent mutation,
	// for the develop package to read-and-clear when propagating to
	// pipelines (§4.5 step 6b reads this from each pipeline independently,
	// but the stack is the single source of truth for what happened).
	lastChangeFlag ChangeFlag
}

// New creates an empty history stack.
func New(reg *module.Registry, window CoalesceWindow) *Stack {
	return &Stack{
		registry: reg,
		window:   window,
		coalesce: make(map[any]*coalesceState),
	}
}

// lock acquires the history mutex, recording the acquisition for the
// lock-order assertion (§5).
func (s *Stack) lock() {
	devcheck.Enter(devcheck.LevelHistory)
	s.mu.Lock()
}

func (s *Stack) unlock() {
	s.mu.Unlock()
	devcheck.Exit(devcheck.LevelHistory)
}

// Len returns the total number of entries (active + redo tail).
func (s *Stack) Len() int {
	s.lock()
	defer s.unlock()
	return len(s.entries)
}

// HistoryEnd returns the cursor.
func (s *Stack) HistoryEnd() int {
	s.lock()
	defer s.unlock()
	return s.historyEnd
}

// Active returns a deep copy of entries [0, history_end).
func (s *Stack) Active() []Entry {
	s.lock()
	defer s.unlock()
	out := make([]Entry, s.historyEnd)
	for i := 0; i < s.historyEnd; i++ {
		out[i] = s.entries[i].clone()
	}
	return out
}

// All returns a deep copy of every entry, active and redo tail.
func (s *Stack) All() []Entry {
	s.lock()
	defer s.unlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.clone()
	}
	return out
}

// TakeChangeFlag reads and clears the change-flag raised by the most recent
// mutation (read-and-clear, as §4.5 step 6b requires of the pipeline loop;
// the stack exposes the same discipline so the develop controller can
// propagate it to all three pipelines atomically with respect to further
// Append calls).
func (s *Stack) TakeChangeFlag() ChangeFlag {
	s.lock()
	defer s.unlock()
	f := s.lastChangeFlag
	s.lastChangeFlag = ChangeUnchanged
	return f
}

// Append implements §4.2's append operation.
//
// If newItem is false and the tail active entry matches (type, instance
// priority) with identical parameters (and masks, when includeMasks), the
// tail is replaced in place (TOP_CHANGED). Otherwise a new entry is pushed,
// history_end advances, and SYNCH is raised. Before pushing, the redo tail
// above history_end is dropped except for always-on entries and duplicate
// earlier occurrences, which are preserved and folded into the new active
// prefix (P3, I3, P6).
func (s *Stack) Append(inst *module.Instance, flags module.Flag, newItem bool, includeMasks bool, masks []Mask, focusHash string, target any) ChangeFlag {
	s.lock()
	defer s.unlock()

	candidate := Entry{
		Op:               inst.Op,
		InstancePriority: inst.InstancePriority,
		Label:            inst.Label,
		LabelHandEdited:  inst.LabelHandEdited,
		Enabled:          inst.Enabled,
		Params:           append([]byte(nil), inst.Params...),
		BlendParams:      append([]byte(nil), inst.BlendParams...),
		Rank:             inst.Rank,
		FocusHash:        focusHash,
	}
	if includeMasks {
		candidate.Masks = append([]Mask(nil), masks...)
	}
	if flags.Has(module.FlagDefaultEnabled) && flags.Has(module.FlagHideEnableButton) {
		// P2: such entries are always enabled regardless of what the
		// caller passed in.
		candidate.Enabled = true
	}

	if !newItem && s.historyEnd > 0 {
		tail := s.entries[s.historyEnd-1]
		if sameEdit(tail, candidate, includeMasks) {
			s.entries[s.historyEnd-1] = candidate.clone()
			s.lastChangeFlag = ChangeTopChanged
			s.noteCoalesce(target, focusHash)
			return ChangeTopChanged
		}
	}

	preserved := s.dropObsoleteRedoTail(candidate.key())
	s.entries = append(s.entries[:s.historyEnd], preserved...)
	s.entries = append(s.entries, candidate)
	s.historyEnd = len(s.entries)
	s.lastChangeFlag = ChangeSynch
	s.noteCoalesce(target, focusHash)
	return ChangeSynch
}

// dropObsoleteRedoTail removes the redo tail [history_end, len) except for
// always-on entries and entries that duplicate an earlier occurrence of the
// same (op, instance-priority) that will remain in the active prefix.
// history_end is not mutated here; the caller folds the preserved slice
// into the new active prefix and recomputes history_end from the result.
func (s *Stack) dropObsoleteRedoTail(incomingKey module.InstanceKey) []Entry {
	if s.historyEnd >= len(s.entries) {
		return nil
	}
	seenInActive := make(map[module.InstanceKey]bool, s.historyEnd)
	for i := 0; i < s.historyEnd; i++ {
		seenInActive[s.entries[i].key()] = true
	}
	var preserved []Entry
	for i := s.historyEnd; i < len(s.entries); i++ {
		e := s.entries[i]
		if e.key() == incomingKey {
			continue // the incoming append supersedes this one
		}
		alwaysOn := false
		if s.registry != nil {
			if d, ok := s.registry.Descriptor(e.Op); ok {
				alwaysOn = AlwaysOn(d.Flags)
			}
		}
		duplicateEarlier := seenInActive[e.key()]
		if alwaysOn || duplicateEarlier {
			preserved = append(preserved, e)
		}
	}
	return preserved
}

func (s *Stack) noteCoalesce(target any, focusHash string) {
	if target == nil {
		return
	}
	s.coalesce[target] = &coalesceState{target: target, focusHash: focusHash, lastEdit: time.Now()}
}

// ShouldCoalesce reports whether an edit against target with focusHash
// falls inside the configured merge window of the previous edit against the
// same target, i.e. whether the caller should pass newItem=false to Append.
func (s *Stack) ShouldCoalesce(target any, focusHash string) bool {
	s.lock()
	defer s.unlock()
	st, ok := s.coalesce[target]
	if !ok {
		return false
	}
	if st.focusHash != focusHash {
		return false
	}
	return time.Since(st.lastEdit).Seconds() <= s.window.MergeSameSecs
}

// AppendMasks appends a new entry recording a deep copy of the currently
// edited mask form set (§4.2 "AppendMasks").
func (s *Stack) AppendMasks(inst *module.Instance, flags module.Flag, masks []Mask, focusHash string, target any) ChangeFlag {
	return s.Append(inst, flags, false, true, masks, focusHash, target)
}

// PopTo resets history_end to n and reports whether the set of module
// instances active at the new cursor differs from the set active at the
// old cursor (i.e. whether the caller must schedule REMOVE rather than
// SYNCH). It does not itself touch module instance parameters; the develop
// package replays entries [0, n) into instances after calling PopTo,
// per §4.2.
func (s *Stack) PopTo(n int) (changed ChangeFlag, maskSetChanged bool) {
	s.lock()
	defer s.unlock()
	if n < 0 {
		n = 0
	}
	if n > len(s.entries) {
		n = len(s.entries)
	}

	oldActive := s.keysInPrefix(s.historyEnd)
	newActive := s.keysInPrefix(n)
	oldMasks := s.maskSetInPrefix(s.historyEnd)
	newMasks := s.maskSetInPrefix(n)

	s.historyEnd = n

	if !sameKeySet(oldActive, newActive) {
		s.lastChangeFlag = ChangeRemove
		return ChangeRemove, !sameMaskSet(oldMasks, newMasks)
	}
	s.lastChangeFlag = ChangeSynch
	return ChangeSynch, !sameMaskSet(oldMasks, newMasks)
}

// TruncateThenAppend drops the redo tail unconditionally and appends a new
// entry (I3: "truncate-then-append drops the redo tail"). Unlike Append, it
// never coalesces and never preserves always-on/duplicate redo entries,
// since the caller has explicitly asked to discard everything past the
// cursor.
func (s *Stack) TruncateThenAppend(inst *module.Instance, focusHash string) ChangeFlag {
	s.lock()
	defer s.unlock()
	s.entries = s.entries[:s.historyEnd]
	s.entries = append(s.entries, Entry{
		Op:               inst.Op,
		InstancePriority: inst.InstancePriority,
		Label:            inst.Label,
		LabelHandEdited:  inst.LabelHandEdited,
		Enabled:          inst.Enabled,
		Params:           append([]byte(nil), inst.Params...),
		BlendParams:      append([]byte(nil), inst.BlendParams...),
		Rank:             inst.Rank,
		FocusHash:        focusHash,
	})
	s.historyEnd = len(s.entries)
	s.lastChangeFlag = ChangeSynch
	return ChangeSynch
}

// FindLast searches from the tail of the active prefix for the most recent
// entry with the given op name (§4.2 "FindLast").
func (s *Stack) FindLast(op string) (Entry, bool) {
	s.lock()
	defer s.unlock()
	for i := s.historyEnd - 1; i >= 0; i-- {
		if s.entries[i].Op == op {
			return s.entries[i].clone(), true
		}
	}
	return Entry{}, false
}

// InvalidateReferences is a documented no-op: history entries never hold an
// owning back-pointer to a module instance (§9 design note), so there is
// nothing to null out when a module is removed. Kept for API parity with
// callers migrating from a pointer-based design.
func (s *Stack) InvalidateReferences(moduleID string) {}

func (s *Stack) keysInPrefix(n int) map[module.InstanceKey]bool {
	out := make(map[module.InstanceKey]bool, n)
	for i := 0; i < n && i < len(s.entries); i++ {
		out[s.entries[i].key()] = true
	}
	return out
}

func (s *Stack) maskSetInPrefix(n int) map[string]bool {
	out := make(map[string]bool)
	for i := 0; i < n && i < len(s.entries); i++ {
		for _, m := range s.entries[i].Masks {
			out[m.FormID] = true
		}
	}
	return out
}

func sameKeySet(a, b map[module.InstanceKey]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func sameMaskSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// ReplaceAll resets the stack to exactly the given entries with the given
// cursor, bypassing coalescing/dedup logic. Used by persistence on load and
// by the preset resolver when prepending resolved entries (§4.7/§4.8), both
// of which construct a whole new history rather than appending one edit.
func (s *Stack) ReplaceAll(entries []Entry, historyEnd int) {
	s.lock()
	defer s.unlock()
	s.entries = make([]Entry, len(entries))
	for i, e := range entries {
		s.entries[i] = e.clone()
	}
	if historyEnd < 0 {
		historyEnd = 0
	}
	if historyEnd > len(s.entries) {
		historyEnd = len(s.entries)
	}
	s.historyEnd = historyEnd
	s.lastChangeFlag = ChangeRemove
}
