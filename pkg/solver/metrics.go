package solver

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for solver passes.
var (
	tracer = otel.Tracer("isopipe.solver")
	meter  = otel.Meter("isopipe.solver")
)

var (
	passLatency  metric.Float64Histogram
	passTotal    metric.Int64Counter
	placements   metric.Int64Counter
	conflictsSet metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		passLatency, err = meter.Float64Histogram(
			"solver_pass_duration_seconds",
			metric.WithDescription("Duration of solver passes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		passTotal, err = meter.Int64Counter(
			"solver_pass_total",
			metric.WithDescription("Solver passes by operation and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		placements, err = meter.Int64Counter(
			"solver_node_placements_total",
			metric.WithDescription("Nodes placed by the metric calculator, by method"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		conflictsSet, err = meter.Int64Counter(
			"solver_conflicts_total",
			metric.WithDescription("Conflict flags written, by stage"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordPass(ctx context.Context, op string, d time.Duration, ok bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("ok", ok),
	)
	passLatency.Record(ctx, d.Seconds(), attrs)
	passTotal.Add(ctx, 1, attrs)
}

func recordPlacement(ctx context.Context, method string) {
	if err := initMetrics(); err != nil {
		return
	}
	placements.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func recordConflict(ctx context.Context, stage string) {
	if err := initMetrics(); err != nil {
		return
	}
	conflictsSet.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// startPassSpan creates a span for one solver operation.
func startPassSpan(ctx context.Context, op string, nodes, edges int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "solver."+op,
		trace.WithAttributes(
			attribute.Int("isopipe.node_count", nodes),
			attribute.Int("isopipe.edge_count", edges),
		),
	)
}
