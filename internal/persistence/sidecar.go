// XMP sidecar round-trip (§4.8 "sidecar export"). Grounded on the teacher's
// internal/tasks/xmp_processor.go darktable XMP parser — the struct shape
// (xmpmeta/RDF/Description/history/Seq/li) and attribute names are kept
// verbatim so a sidecar this store writes parses with the same reader, but
// that parser was read-only against a foreign darktable library; this one
// owns both directions and writes every field a history entry needs to
// round-trip (blend params, multi-instance naming, the ordering rank) where
// the teacher's only read the four it needed for its own pano pipeline.
package persistence

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"devengine/internal/history"
	"devengine/internal/ordering"
)

// sidecarLi is one <li> history row. Params/BlendopParams are base64 rather
// than darktable's own hex-of-gzip encoding: this engine's module ABI never
// needs to interoperate with a real darktable install, only to round-trip
// its own bytes through a human-inspectable text file.
type sidecarLi struct {
	Num                 int    `xml:"num,attr"`
	Operation           string `xml:"operation,attr"`
	Enabled             string `xml:"enabled,attr"`
	ModVersion          int    `xml:"modversion,attr"`
	Params              string `xml:"params,attr"`
	MultiPriority       int    `xml:"multi_priority,attr"`
	MultiName           string `xml:"multi_name,attr,omitempty"`
	MultiNameHandEdited string `xml:"multi_name_hand_edited,attr"`
	BlendopVersion      int    `xml:"blendop_version,attr"`
	BlendopParams       string `xml:"blendop_params,attr"`
	IopOrder            int    `xml:"iop_order,attr"`
}

// sidecarXMP mirrors the teacher's XMPMeta nesting exactly.
type sidecarXMP struct {
	XMLName xml.Name `xml:"xmpmeta"`
	RDF     struct {
		Description struct {
			History struct {
				Seq struct {
					Li []sidecarLi `xml:"li"`
				} `xml:"Seq"`
			} `xml:"history"`
		} `xml:"Description"`
	} `xml:"RDF"`
}

func (s *Store) sidecarPath(imgID string) string {
	return filepath.Join(s.sidecarDir, imgID+".xmp")
}

// ExportSidecar writes the active history prefix [0, historyEnd) to this
// image's sidecar file, in ordering-rank order so a hand-read sidecar lists
// operations in the order the pipeline actually runs them rather than the
// order they were appended in. A Store opened with no sidecarDir treats
// this as a no-op, since sidecar export is an optional convenience, not a
// requirement for the SQLite store to be the source of truth.
func (s *Store) ExportSidecar(imgID string, entries []history.Entry, historyEnd int, ord *ordering.List) error {
	if s.sidecarDir == "" {
		return nil
	}
	active := append([]history.Entry(nil), entries[:min(historyEnd, len(entries))]...)
	for i := range active {
		if ord != nil {
			if r, ok := ord.Rank(active[i].Op, active[i].InstancePriority); ok {
				active[i].Rank = r
			}
		}
	}
	sortEntriesByRank(active)

	var xmp sidecarXMP
	for i, e := range active {
		xmp.RDF.Description.History.Seq.Li = append(xmp.RDF.Description.History.Seq.Li, sidecarLi{
			Num:                 i,
			Operation:           e.Op,
			Enabled:             boolAttr(e.Enabled),
			ModVersion:          e.OpVersion,
			Params:              base64.StdEncoding.EncodeToString(e.Params),
			MultiPriority:       e.InstancePriority,
			MultiName:           e.Label,
			MultiNameHandEdited: boolAttr(e.LabelHandEdited),
			BlendopVersion:      e.OpVersion,
			BlendopParams:       base64.StdEncoding.EncodeToString(e.BlendParams),
			IopOrder:            e.Rank,
		})
	}

	blob, err := xml.MarshalIndent(xmp, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal sidecar for %s: %w", imgID, err)
	}
	if err := os.MkdirAll(s.sidecarDir, 0755); err != nil {
		return fmt.Errorf("persistence: sidecar dir %s: %w", s.sidecarDir, err)
	}
	path := s.sidecarPath(imgID)
	if err := os.WriteFile(path, append([]byte(xml.Header), blob...), 0644); err != nil {
		return fmt.Errorf("persistence: write sidecar %s: %w", path, err)
	}
	return nil
}

// ImportSidecar reads back a sidecar this store (or a compatible one)
// wrote, returning the active history entries it describes. historyEnd for
// the returned slice is always its full length: a sidecar has no redo
// tail, only the operations that were actually applied (§4.8 "the sidecar
// describes the active prefix, never the redo tail").
func (s *Store) ImportSidecar(imgID string) ([]history.Entry, error) {
	path := s.sidecarPath(imgID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persistence: read sidecar %s: %w", path, err)
	}

	var xmp sidecarXMP
	if err := xml.Unmarshal(data, &xmp); err != nil {
		return nil, fmt.Errorf("persistence: parse sidecar %s: %w", path, err)
	}

	out := make([]history.Entry, 0, len(xmp.RDF.Description.History.Seq.Li))
	for _, li := range xmp.RDF.Description.History.Seq.Li {
		params, err := base64.StdEncoding.DecodeString(li.Params)
		if err != nil {
			return nil, fmt.Errorf("persistence: decode params for %s/%s: %w", imgID, li.Operation, err)
		}
		blend, err := base64.StdEncoding.DecodeString(li.BlendopParams)
		if err != nil {
			return nil, fmt.Errorf("persistence: decode blendop_params for %s/%s: %w", imgID, li.Operation, err)
		}
		out = append(out, history.Entry{
			Op:               li.Operation,
			OpVersion:        li.ModVersion,
			InstancePriority: li.MultiPriority,
			Label:            li.MultiName,
			LabelHandEdited:  parseBoolAttr(li.MultiNameHandEdited),
			Enabled:          parseBoolAttr(li.Enabled),
			Params:           params,
			BlendParams:      blend,
			Rank:             li.IopOrder,
		})
	}
	return out, nil
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBoolAttr(s string) bool { return s == "1" }
