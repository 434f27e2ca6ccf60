package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"devengine/internal/config"
)

// New returns a slog.Logger with the provided level string (info, debug, warn, error).
// format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Setup configures global logging with file output and rotation
func Setup(cfg *config.Config) (*slog.Logger, error) {
	// Parse log level
	level := parseLevel(cfg.Logging.Level)

	// Create log directory
	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
	}

	// Configure output writers
	var writers []io.Writer

	// Always include stdout for immediate feedback
	writers = append(writers, os.Stdout)

	// Add file output if enabled
	if cfg.Logging.FileOutput {
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("devengine-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %v", err)
		}

		writers = append(writers, file)

		// Create a symlink for the current log
		currentLogPath := filepath.Join(cfg.Logging.LogDir, "devengine-current.log")
		os.Remove(currentLogPath) // Remove existing symlink
		if err := os.Symlink(filepath.Base(logFile), currentLogPath); err != nil {
			// Symlink failed, but continue - it's not critical
		}

		// An editing session left running for weeks accumulates one
		// day-stamped file per day; prune anything past MaxAge rather
		// than letting LogDir grow unbounded.
		if cfg.Logging.MaxAge > 0 {
			pruneOldLogs(cfg.Logging.LogDir, cfg.Logging.MaxAge)
		}
	}

	// Combine all writers
	multiWriter := io.MultiWriter(writers...)

	// Create a standard logger that uses traditional format
	logger := log.New(multiWriter, "", log.LstdFlags)

	// Create a wrapper that implements slog.Handler interface but uses traditional format
	handler := &TraditionalHandler{
		logger: logger,
		level:  level,
	}

	slogLogger := slog.New(handler)

	// Set as default logger
	slog.SetDefault(slogLogger)

	// Log startup information
	slogLogger.Info("devengine logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)

	return slogLogger, nil
}

// TraditionalHandler implements slog.Handler with traditional log formatting.
// groupPrefix/boundAttrs hold state accumulated through WithGroup/WithAttrs:
// a render loop calls logger.With("image", imgID) once per image and logs
// through that bound logger for the life of the edit session, so those
// attrs must survive into every record it emits, not just the first.
type TraditionalHandler struct {
	logger      *log.Logger
	level       slog.Level
	groupPrefix string
	boundAttrs  []string
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String()

	// Build message with attributes
	msg := r.Message
	attrs := make([]string, 0, len(h.boundAttrs)+r.NumAttrs())
	attrs = append(attrs, h.boundAttrs...)

	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if h.groupPrefix != "" {
			key = h.groupPrefix + "." + key
		}
		attrs = append(attrs, fmt.Sprintf("%s=%v", key, a.Value))
		return true
	})

	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}

	// Use traditional format: [LEVEL] message
	h.logger.Printf("[%s] %s", strings.ToUpper(level), msg)

	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	bound := make([]string, len(h.boundAttrs), len(h.boundAttrs)+len(attrs))
	copy(bound, h.boundAttrs)
	for _, a := range attrs {
		key := a.Key
		if h.groupPrefix != "" {
			key = h.groupPrefix + "." + key
		}
		bound = append(bound, fmt.Sprintf("%s=%v", key, a.Value))
	}
	return &TraditionalHandler{logger: h.logger, level: h.level, groupPrefix: h.groupPrefix, boundAttrs: bound}
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	prefix := name
	if h.groupPrefix != "" {
		prefix = h.groupPrefix + "." + name
	}
	return &TraditionalHandler{logger: h.logger, level: h.level, groupPrefix: prefix, boundAttrs: h.boundAttrs}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pruneOldLogs removes devengine-YYYY-MM-DD.log files in dir older than
// maxAgeDays, parsing the date out of the filename rather than relying on
// mtime so a file copied or touched by backup tooling doesn't survive past
// its name's date. Failures are swallowed: a stale log file left behind is
// harmless, and pruning must never be the reason Setup fails to start.
func pruneOldLogs(dir string, maxAgeDays int) {
	matches, err := filepath.Glob(filepath.Join(dir, "devengine-*.log"))
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	for _, path := range matches {
		base := filepath.Base(path)
		base = strings.TrimPrefix(base, "devengine-")
		base = strings.TrimSuffix(base, ".log")
		stamp, err := time.Parse("2006-01-02", base)
		if err != nil {
			continue
		}
		if stamp.Before(cutoff) {
			os.Remove(path)
		}
	}
}

// LogRenderStart logs the beginning of a pipeline render run.
func LogRenderStart(logger *slog.Logger, pipelineKind, imgID string, fingerprint uint64) {
	logger.Info("render started",
		"pipeline", pipelineKind,
		"image", imgID,
		"fingerprint", fingerprint,
	)
}

// LogRenderComplete logs a successful render run, formatting the duration
// with go-humanize for a user-facing ballpark alongside the exact millisecond
// count, upgrading the teacher's plain duration.String() habit.
func LogRenderComplete(logger *slog.Logger, pipelineKind, imgID string, duration time.Duration, fingerprint uint64) {
	logger.Info("render completed",
		"pipeline", pipelineKind,
		"image", imgID,
		"duration_ms", duration.Milliseconds(),
		"duration_human", humanize.RelTime(time.Now().Add(-duration), time.Now(), "elapsed", ""),
		"fingerprint", fingerprint,
	)
}

// LogRenderInterrupted logs a render run that was cancelled mid-flight,
// typically because a newer request preempted it.
func LogRenderInterrupted(logger *slog.Logger, pipelineKind, imgID string, duration time.Duration) {
	logger.Warn("render interrupted",
		"pipeline", pipelineKind,
		"image", imgID,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogHistoryAppend logs a new entry landing on an image's history stack.
func LogHistoryAppend(logger *slog.Logger, imgID, op string, instancePriority, historyEnd int) {
	logger.Info("history entry appended",
		"image", imgID,
		"op", op,
		"multi_priority", instancePriority,
		"history_end", historyEnd,
	)
}

// LogPresetApplied logs an auto-apply or user-triggered preset application.
func LogPresetApplied(logger *slog.Logger, imgID, presetName, op string) {
	logger.Info("preset applied",
		"image", imgID,
		"preset", presetName,
		"op", op,
	)
}

// LogMigration logs a legacy history entry being rewritten to a newer
// module version via its registered LegacyParamsFunc.
func LogMigration(logger *slog.Logger, imgID, op string, fromVersion, toVersion int, err error) {
	if err != nil {
		logger.Warn("history migration failed, dropping entry",
			"image", imgID,
			"op", op,
			"from_version", fromVersion,
			"to_version", toVersion,
			"error", err.Error(),
		)
		return
	}
	logger.Info("history entry migrated",
		"image", imgID,
		"op", op,
		"from_version", fromVersion,
		"to_version", toVersion,
	)
}

// LogAutosaveSlowWrite logs a persistence write that crossed the
// configured slow-write threshold, formatting the payload size and
// throughput with go-humanize so the message reads naturally for an
// operator scanning logs rather than as raw byte/nanosecond counts.
func LogAutosaveSlowWrite(logger *slog.Logger, imgID string, duration time.Duration, bytesWritten int) {
	var throughput string
	if duration > 0 {
		bps := float64(bytesWritten) / duration.Seconds()
		throughput = humanize.Bytes(uint64(bps)) + "/s"
	} else {
		throughput = humanize.Bytes(uint64(bytesWritten))
	}
	logger.Warn("autosave write exceeded threshold, disabling autosave for session",
		"image", imgID,
		"duration_ms", duration.Milliseconds(),
		"bytes", humanize.Bytes(uint64(bytesWritten)),
		"throughput", throughput,
	)
}
