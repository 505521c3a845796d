// Package metrics holds the OpenTelemetry instruments of the evaluation engine.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"etica/internal/domain"
)

const instrumentationName = "etica"

// Instrument names.
const (
	DetectRuns     = "etica.detect.runs"
	DetectFindings = "etica.detect.findings"
	RuleFailures   = "etica.rules.failures"
	VigilanceScore = "etica.vigilance.global"
)

// Recorder is safe for concurrent use. A nil Recorder records nothing.
type Recorder struct {
	runs     metric.Int64Counter
	findings metric.Int64Counter
	failures metric.Int64Counter
	global   metric.Float64Histogram
}

// New builds the instruments on mp, or on the global provider when mp is nil.
func New(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var r Recorder
	var err error
	if r.runs, err = meter.Int64Counter(DetectRuns,
		metric.WithDescription("Detector evaluations"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", DetectRuns, err)
	}
	if r.findings, err = meter.Int64Counter(DetectFindings,
		metric.WithDescription("Tensions reported by the detector"),
		metric.WithUnit("{tension}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", DetectFindings, err)
	}
	if r.failures, err = meter.Int64Counter(RuleFailures,
		metric.WithDescription("Rules skipped because their evaluation failed"),
		metric.WithUnit("{rule}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", RuleFailures, err)
	}
	if r.global, err = meter.Float64Histogram(VigilanceScore,
		metric.WithDescription("Global residual vigilance score"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(20, 40, 60, 80, 100),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", VigilanceScore, err)
	}
	return &r, nil
}

// RecordDetection counts one detector run of the given operation.
func (r *Recorder) RecordDetection(ctx context.Context, operation string, findings []domain.DetectedTension, failedRules []string) {
	if r == nil {
		return
	}
	op := attribute.String("operation", operation)
	r.runs.Add(ctx, 1, metric.WithAttributes(op))
	for _, f := range findings {
		r.findings.Add(ctx, 1, metric.WithAttributes(op, attribute.String("rule_id", f.RuleID)))
	}
	for _, id := range failedRules {
		r.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_id", id)))
	}
}

func (r *Recorder) RecordScore(ctx context.Context, operation string, global float64, level int) {
	if r == nil {
		return
	}
	r.global.Record(ctx, global, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("level", level),
	))
}
