package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelListener forwards bus events to OpenTelemetry counters.
//
// Counters are created lazily, one per (kind, metric) pair, named
// failsafe.<kind>.<metric>. The pattern name travels as the pattern.name
// attribute so a single instrument covers every instance of a kind.
type OTelListener struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
}

// NewOTelListener creates a listener publishing to the given meter.
func NewOTelListener(meter metric.Meter) (*OTelListener, error) {
	return &OTelListener{
		meter:    meter,
		counters: make(map[string]metric.Int64Counter),
	}, nil
}

// OnEvent increments the counter for the event's kind and metric.
func (o *OTelListener) OnEvent(ctx context.Context, ev Event) {
	counter, err := o.counter("failsafe." + ev.Kind + "." + ev.Metric)
	if err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("pattern.kind", ev.Kind),
		attribute.String("pattern.name", ev.Name),
	}
	for k, v := range ev.Attrs {
		attrs = append(attrs, attribute.String(k, v))
	}

	counter.Add(ctx, ev.Value, metric.WithAttributes(attrs...))
}

func (o *OTelListener) counter(name string) (metric.Int64Counter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if c, ok := o.counters[name]; ok {
		return c, nil
	}

	c, err := o.meter.Int64Counter(
		name,
		metric.WithDescription("failsafe pattern event count"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	o.counters[name] = c
	return c, nil
}

// Ensure OTelListener implements Listener
var _ Listener = (*OTelListener)(nil)
