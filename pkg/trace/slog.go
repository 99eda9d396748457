package trace

import (
	"context"
	"log/slog"
	"sort"
)

// SlogSink writes records as slog lines. Conflict and failure events are
// logged at Warn, everything else at Debug.
type SlogSink struct {
	Logger *slog.Logger
}

// NewSlogSink returns a sink writing to l, or to slog.Default when l is nil.
func NewSlogSink(l *slog.Logger) *SlogSink {
	if l == nil {
		l = slog.Default()
	}
	return &SlogSink{Logger: l}
}

// Emit logs r.
func (s *SlogSink) Emit(ctx context.Context, r Record) {
	level := slog.LevelDebug
	if isWarnEvent(r.Event) {
		level = slog.LevelWarn
	}
	if !s.Logger.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, 5+len(r.Attrs))
	attrs = append(attrs, slog.String("stage", r.Stage), slog.String("event", r.Event))
	if r.RunID != "" {
		attrs = append(attrs, slog.String("run", r.RunID))
	}
	if r.Node != "" {
		attrs = append(attrs, slog.String("node", r.Node))
	}
	if r.Edge != "" {
		attrs = append(attrs, slog.String("edge", r.Edge))
	}
	for _, k := range sortedKeys(r.Attrs) {
		attrs = append(attrs, slog.Any(k, r.Attrs[k]))
	}
	msg := r.Msg
	if msg == "" {
		msg = r.Stage + " " + r.Event
	}
	s.Logger.LogAttrs(ctx, level, msg, attrs...)
}

func isWarnEvent(ev string) bool {
	switch ev {
	case "conflict", "unsolvable", "unplaced", "infeasible", "fail":
		return true
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
