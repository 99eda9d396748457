// Package trace carries structured diagnostic records out of the solver
// packages. Solvers never log; they emit Records to a Sink chosen by the
// caller (slog, OpenTelemetry span events, or an in-memory buffer for tests).
package trace

import (
	"context"
	"sync"
)

// Record is one diagnostic event.
type Record struct {
	RunID string // correlation id of the solve pass
	Stage string // "check", "calc", "reactive", "triangle", "slope", "stress"
	Event string // short machine name, e.g. "placed", "conflict"
	Node  string
	Edge  string
	Msg   string
	Attrs map[string]any
}

// Sink receives Records. Implementations must not call back into the
// solver that emitted the record.
type Sink interface {
	Emit(ctx context.Context, r Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Record)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, r Record) { f(ctx, r) }

// Discard drops every record.
var Discard Sink = SinkFunc(func(context.Context, Record) {})

type multi []Sink

func (m multi) Emit(ctx context.Context, r Record) {
	for _, s := range m {
		s.Emit(ctx, r)
	}
}

// Multi fans records out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Discard
	case 1:
		return out[0]
	}
	return out
}

// Memory keeps every record in order. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// Emit appends r.
func (m *Memory) Emit(_ context.Context, r Record) {
	m.mu.Lock()
	m.records = append(m.records, r)
	m.mu.Unlock()
}

// Records returns a copy of everything emitted so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Filter returns the records matching stage and event. Empty strings match
// anything.
func (m *Memory) Filter(stage, event string) []Record {
	var out []Record
	for _, r := range m.Records() {
		if (stage == "" || r.Stage == stage) && (event == "" || r.Event == event) {
			out = append(out, r)
		}
	}
	return out
}

// Reset drops all records.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.records = nil
	m.mu.Unlock()
}
