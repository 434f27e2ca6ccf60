package logging

import (
	"bytes"
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTraditionalHandlerPropagatesBoundAttrsAcrossWith(t *testing.T) {
	var buf bytes.Buffer
	h := &TraditionalHandler{logger: log.New(&buf, "", 0), level: slog.LevelInfo}

	bound := h.WithAttrs([]slog.Attr{slog.String("image", "img-1")}).WithGroup("render").WithAttrs([]slog.Attr{slog.Int("rank", 2)})
	logger := slog.New(bound)
	logger.Info("node processed")

	out := buf.String()
	if !strings.Contains(out, "image=img-1") {
		t.Fatalf("want bound attr from before WithGroup to survive, got %q", out)
	}
	if !strings.Contains(out, "render.rank=2") {
		t.Fatalf("want attr bound after WithGroup to carry the group prefix, got %q", out)
	}
}

func TestTraditionalHandlerWithAttrsLeavesOriginalHandlerUnchanged(t *testing.T) {
	var buf bytes.Buffer
	h := &TraditionalHandler{logger: log.New(&buf, "", 0), level: slog.LevelInfo}

	bound := h.WithAttrs([]slog.Attr{slog.String("image", "img-1")})
	if bound == slog.Handler(h) {
		t.Fatal("want WithAttrs to return a distinct handler, not mutate the receiver")
	}

	slog.New(h).Info("unbound record")
	if strings.Contains(buf.String(), "image=img-1") {
		t.Fatal("want the original handler to remain unaffected by a derived handler's bound attrs")
	}
}

func TestHandleFormatsLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	h := &TraditionalHandler{logger: log.New(&buf, "", 0), level: slog.LevelInfo}

	if err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelWarn, "disk nearly full", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := buf.String(); !strings.Contains(got, "[WARN] disk nearly full") {
		t.Fatalf("want traditional [LEVEL] message format, got %q", got)
	}
}

func TestPruneOldLogsRemovesFilesPastRetentionButKeepsRecentOnes(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "devengine-2020-01-01.log")
	recent := filepath.Join(dir, "devengine-"+time.Now().Format("2006-01-02")+".log")
	malformed := filepath.Join(dir, "devengine-not-a-date.log")

	for _, p := range []string{old, recent, malformed} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}

	pruneOldLogs(dir, 30)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("want the old dated log file removed")
	}
	if _, err := os.Stat(recent); err != nil {
		t.Fatalf("want today's log file kept, stat: %v", err)
	}
	if _, err := os.Stat(malformed); err != nil {
		t.Fatalf("want a non-date-suffixed file left alone rather than guessed at, stat: %v", err)
	}
}
