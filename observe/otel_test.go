package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelListener_RecordsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	l, err := NewOTelListener(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewOTelListener() = %v", err)
	}

	ctx := context.Background()
	l.OnEvent(ctx, Event{Kind: "ratelimit", Name: "orders", Metric: "rejected", Value: 1})
	l.OnEvent(ctx, Event{Kind: "ratelimit", Name: "orders", Metric: "rejected", Value: 2})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() = %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "failsafe.ratelimit.rejected" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("data type = %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}

	if total != 3 {
		t.Errorf("failsafe.ratelimit.rejected total = %d, want 3", total)
	}
}
