// Package logsink implements the run's append-only JSONL event recorder:
// one JSON object per line, a severity filter, and scoped timing blocks, fed
// through a single mutex-guarded writer in the style of the teacher's
// subagentlog.SyncWriter.
package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level mirrors the spec's fixed severity order, DEBUG < INFO < WARNING <
// ERROR < CRITICAL. It is distinct from slog.Level so the run log's ordering
// is explicit and not tied to slog's numeric scale.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a case-insensitive level name, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug
	case "WARNING", "WARN":
		return LevelWarning
	case "ERROR":
		return LevelError
	case "CRITICAL":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// syncWriter serializes writes across goroutines, grounded on
// subagentlog.SyncWriter.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Sink is the append-only JSONL run-log recorder. It is safe for concurrent
// use; every Event call is one append of one JSON line.
type Sink struct {
	w        *syncWriter
	level    Level
	runID    string
	closer   io.Closer
}

// Open creates (or appends to) logDir/run_<runID>.jsonl and returns a Sink
// that appends to it, filtering out events below minLevel.
func Open(logDir, runID string, minLevel Level) (*Sink, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logsink: creating log dir %q: %w", logDir, err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("run_%s.jsonl", runID))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logsink: opening %q: %w", path, err)
	}
	return &Sink{
		w:      &syncWriter{w: f},
		level:  minLevel,
		runID:  runID,
		closer: f,
	}, nil
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Event appends one JSONL record if level is at or above the sink's minimum
// level. fields are merged into the record; a field named "run_id",
// "timestamp", "level", "component", or "operation" in fields is ignored in
// favor of the named parameters.
func (s *Sink) Event(level Level, component, operation string, fields map[string]any) {
	if level < s.level {
		return
	}
	rec := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level.String(),
		"run_id":    s.runID,
		"component": component,
		"operation": operation,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "run_id" || k == "timestamp" || k == "level" || k == "component" || k == "operation" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec[k] = stringifyUnsupported(fields[k])
	}
	line, err := json.Marshal(rec)
	if err != nil {
		// Marshalling failure must not crash the pipeline; fall back to a
		// minimal record carrying the marshal error itself.
		line, _ = json.Marshal(map[string]any{
			"timestamp": rec["timestamp"],
			"level":     LevelError.String(),
			"run_id":    s.runID,
			"component": "logsink",
			"operation": "marshal_failure",
			"error":     err.Error(),
		})
	}
	line = append(line, '\n')
	_, _ = s.w.Write(line)
}

// stringifyUnsupported converts values that encoding/json cannot represent
// (errors, channels, funcs) into their string form, per the run log's
// "dropped keys preserved in stringified form" design note.
func stringifyUnsupported(v any) any {
	switch t := v.(type) {
	case error:
		return t.Error()
	default:
		if _, err := json.Marshal(v); err != nil {
			return fmt.Sprintf("%v", v)
		}
		return v
	}
}

// TimingBlock starts a scoped timer; calling the returned function emits an
// event carrying duration_ms.
func (s *Sink) TimingBlock(component, operation string, fields map[string]any) func() {
	start := time.Now()
	return func() {
		f := map[string]any{}
		for k, v := range fields {
			f[k] = v
		}
		f["duration_ms"] = time.Since(start).Milliseconds()
		s.Event(LevelInfo, component, operation, f)
	}
}

// Handler adapts Sink to slog.Handler so a single *slog.Logger both prints
// human-readable progress (via a second handler composed by the caller, e.g.
// slog.NewTextHandler(os.Stderr, ...)) and appends structured JSONL records.
type Handler struct {
	sink  *Sink
	attrs []slog.Attr
	group string
}

// NewHandler wraps sink as a slog.Handler.
func NewHandler(sink *Sink) *Handler {
	return &Handler{sink: sink}
}

func slogToLevel(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarning
	default:
		return LevelError
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return slogToLevel(level) >= h.sink.level
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	fields := map[string]any{"message": r.Message}
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})
	component := "slog"
	if h.group != "" {
		component = h.group
	}
	h.sink.Event(slogToLevel(r.Level), component, r.Message, fields)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &out
}

func (h *Handler) WithGroup(name string) slog.Handler {
	out := *h
	out.group = name
	return &out
}
