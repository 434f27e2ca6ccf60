package persistence

import (
	"testing"

	"devengine/internal/history"
	"devengine/internal/ordering"
)

func TestExportSidecarThenImportSidecarRoundTrips(t *testing.T) {
	s := openTestStore(t)

	entries := []history.Entry{
		{Op: "exposure", OpVersion: 1, Enabled: true, Params: []byte(`{"gain":2}`), BlendParams: []byte(`{}`)},
		{Op: "sharpen", OpVersion: 2, Enabled: false, Label: "soft", Params: []byte(`{"amount":1}`)},
	}

	if err := s.ExportSidecar("img1", entries, 2, nil); err != nil {
		t.Fatalf("ExportSidecar: %v", err)
	}

	got, err := s.ImportSidecar("img1")
	if err != nil {
		t.Fatalf("ImportSidecar: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 entries back, got %d", len(got))
	}
	if got[0].Op != "exposure" || got[0].OpVersion != 1 || !got[0].Enabled || string(got[0].Params) != `{"gain":2}` {
		t.Fatalf("exposure entry round-tripped wrong: %+v", got[0])
	}
	if got[1].Op != "sharpen" || got[1].Enabled || got[1].Label != "soft" {
		t.Fatalf("sharpen entry round-tripped wrong: %+v", got[1])
	}
}

func TestExportSidecarOnlyWritesActivePrefix(t *testing.T) {
	s := openTestStore(t)

	entries := []history.Entry{
		{Op: "exposure", OpVersion: 1, Enabled: true},
		{Op: "sharpen", OpVersion: 1, Enabled: true}, // beyond historyEnd, i.e. a redo tail entry
	}
	if err := s.ExportSidecar("img1", entries, 1, nil); err != nil {
		t.Fatalf("ExportSidecar: %v", err)
	}

	got, err := s.ImportSidecar("img1")
	if err != nil {
		t.Fatalf("ImportSidecar: %v", err)
	}
	if len(got) != 1 || got[0].Op != "exposure" {
		t.Fatalf("want only the active prefix exported, got %+v", got)
	}
}

func TestExportSidecarOrdersByRank(t *testing.T) {
	s := openTestStore(t)

	entries := []history.Entry{
		{Op: "sharpen", OpVersion: 1, Enabled: true},
		{Op: "exposure", OpVersion: 1, Enabled: true},
	}
	ord := &ordering.List{Entries: []ordering.Entry{
		{Op: "exposure", Rank: 0},
		{Op: "sharpen", Rank: 1},
	}}
	if err := s.ExportSidecar("img1", entries, 2, ord); err != nil {
		t.Fatalf("ExportSidecar: %v", err)
	}

	got, err := s.ImportSidecar("img1")
	if err != nil {
		t.Fatalf("ImportSidecar: %v", err)
	}
	if len(got) != 2 || got[0].Op != "exposure" || got[1].Op != "sharpen" {
		t.Fatalf("want sidecar rows in rank order (exposure, sharpen), got %+v", got)
	}
}

func TestExportSidecarNoopWithoutSidecarDir(t *testing.T) {
	s, err := Open(":memory:", "", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.ExportSidecar("img1", nil, 0, nil); err != nil {
		t.Fatalf("ExportSidecar with empty sidecarDir should be a no-op, got: %v", err)
	}
	if _, err := s.ImportSidecar("img1"); err == nil {
		t.Fatal("want an error reading back a sidecar that was never written")
	}
}
