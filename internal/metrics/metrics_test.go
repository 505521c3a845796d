package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"etica/internal/domain"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "got %T", agg)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	rec, err := New(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	ctx := context.Background()
	findings := []domain.DetectedTension{{RuleID: "R01"}, {RuleID: "R02"}}
	rec.RecordDetection(ctx, "detect", findings, []string{"R11"})
	rec.RecordDetection(ctx, "assess", findings[:1], nil)
	rec.RecordScore(ctx, "assess", 43.7, 3)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, got[DetectRuns]))
	assert.Equal(t, int64(3), sum(t, got[DetectFindings]))
	assert.Equal(t, int64(1), sum(t, got[RuleFailures]))

	hist, ok := got[VigilanceScore].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 43.7, hist.DataPoints[0].Sum, 1e-9)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	rec.RecordDetection(context.Background(), "detect", []domain.DetectedTension{{RuleID: "R01"}}, []string{"R02"})
	rec.RecordScore(context.Background(), "score", 10, 1)
}

func TestNewUsesGlobalProvider(t *testing.T) {
	rec, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}
