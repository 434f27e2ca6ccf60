// Package preset implements the preset resolver (§4.7): camera/lens/exposure
// metadata matching against user and built-in presets, run once per image
// at first edit.
package preset

import (
	"sort"

	"devengine/internal/history"
	"devengine/internal/module"
	"devengine/internal/ordering"
)

// pseudoOps are never eligible for auto-apply (§4.7).
var pseudoOps = map[string]bool{
	"ioporder":     true,
	"metadata":     true,
	"modulegroups": true,
	"export":       true,
	"tagging":      true,
	"collect":      true,
}

// Range is an inclusive numeric selector range; a zero-value Range (Min==Max==0)
// matches anything.
type Range struct{ Min, Max float64 }

func (r Range) matches(v float64) bool {
	if r.Min == 0 && r.Max == 0 {
		return true
	}
	return v >= r.Min && v <= r.Max
}

func (r Range) specificity() int {
	if r.Min == 0 && r.Max == 0 {
		return 0
	}
	return 1
}

// Preset is one row of the abstract `data.presets` table (§6).
type Preset struct {
	Operation       string
	OpVersion       int
	OpParams        []byte
	BlendParams     []byte
	Enabled         bool
	AutoApply       bool
	WriteProtect    bool // false => user preset, true => built-in
	Model           string
	Maker           string
	Lens            string
	ISO             Range
	Exposure        Range
	Aperture        Range
	FocalLength     Range
	Format          FormatMask
	Name            string
	MultiName       string
	MultiNameHand   bool
}

// FormatMask selects by raw/LDR/HDR/monochrome bits; zero value matches any
// format.
type FormatMask struct {
	Raw, LDR, HDR, Monochrome bool
	Any                       bool
}

func (f FormatMask) matches(m module.Metadata) bool {
	if f.Any {
		return true
	}
	if !f.Raw && !f.LDR && !f.HDR && !f.Monochrome {
		return true
	}
	return (f.Raw && m.Raw) || (f.LDR && m.LDR) || (f.HDR && m.HDR) || (f.Monochrome && m.Monochrome)
}

func (p Preset) matches(m module.Metadata) bool {
	if p.Model != "" && p.Model != m.Model {
		return false
	}
	if p.Maker != "" && p.Maker != m.Maker {
		return false
	}
	if p.Lens != "" && p.Lens != m.Lens {
		return false
	}
	if !p.ISO.matches(m.ISO) || !p.Exposure.matches(m.Exposure) ||
		!p.Aperture.matches(m.Aperture) || !p.FocalLength.matches(m.FocalLength) {
		return false
	}
	return p.Format.matches(m)
}

// specificity ranks more specific matches first: each of model/maker/lens
// that's non-empty, plus each bounded numeric range, adds one point.
func (p Preset) specificity() int {
	s := 0
	if p.Model != "" {
		s++
	}
	if p.Maker != "" {
		s++
	}
	if p.Lens != "" {
		s++
	}
	s += p.ISO.specificity() + p.Exposure.specificity() + p.Aperture.specificity() + p.FocalLength.specificity()
	return s
}

// Store is the subset of persistence the resolver needs: querying
// autoapply presets and a workflow-scoped ioporder preset. Implemented by
// internal/persistence; declared here to avoid a persistence->preset
// import cycle (persistence calls Resolve, so preset cannot import it back).
type Store interface {
	AutoApplyPresets() ([]Preset, error)
	IOOrderPreset(workflow ordering.Workflow) (*ordering.List, bool, error)
}

// Options controls resolver behavior not captured by the preset rows
// themselves.
type Options struct {
	Workflow           ordering.Workflow
	SceneReferred      bool // excludes "basecurve" per §4.7 when true
}

// Resolve matches eligible presets against image metadata and returns the
// history entries to prepend plus the ordering list to adopt, without
// mutating anything — the caller (persistence.ReadHistory) is responsible
// for prepending and for setting AUTO_PRESETS_APPLIED (§4.7's "atomically
// with the write").
func Resolve(store Store, meta module.Metadata, opts Options) ([]history.Entry, *ordering.List, error) {
	all, err := store.AutoApplyPresets()
	if err != nil {
		return nil, nil, err
	}

	byOp := make(map[string][]Preset)
	for _, p := range all {
		if !p.AutoApply || !p.Enabled {
			continue
		}
		if pseudoOps[p.Operation] {
			continue
		}
		if opts.SceneReferred && p.Operation == "basecurve" {
			continue
		}
		if !p.matches(meta) {
			continue
		}
		byOp[p.Operation] = append(byOp[p.Operation], p)
	}

	var entries []history.Entry
	for op, candidates := range byOp {
		chosen := selectForOp(candidates)
		for i, p := range chosen {
			entries = append(entries, history.Entry{
				Op:               op,
				OpVersion:        p.OpVersion,
				InstancePriority: i,
				Label:            p.MultiName,
				LabelHandEdited:  p.MultiNameHand,
				Enabled:          true,
				Params:           append([]byte(nil), p.OpParams...),
				BlendParams:      append([]byte(nil), p.BlendParams...),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Op != entries[j].Op {
			return entries[i].Op < entries[j].Op
		}
		return entries[i].InstancePriority < entries[j].InstancePriority
	})

	ordList, found, err := store.IOOrderPreset(opts.Workflow)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		ordList = nil // caller falls back to the workflow default
	}

	return entries, ordList, nil
}

// selectForOp picks the preset(s) that win for one operation: user presets
// (WriteProtect=false) beat built-ins if any user preset matches; within
// the winning group, presets are ranked by specificity (most specific
// first); presets that would genuinely conflict (same specificity) are all
// kept and serialised into increasing instance-priorities by a stable
// window function (their relative order is whatever stable sort leaves
// them in, i.e. the order returned by the store).
func selectForOp(candidates []Preset) []Preset {
	var user, builtin []Preset
	for _, p := range candidates {
		if p.WriteProtect {
			builtin = append(builtin, p)
		} else {
			user = append(user, p)
		}
	}
	group := builtin
	if len(user) > 0 {
		group = user
	}
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].specificity() > group[j].specificity()
	})
	return group
}
