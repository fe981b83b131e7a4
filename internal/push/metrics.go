package push

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pacelight/pacelight/internal/apns"
	"github.com/pacelight/pacelight/internal/timer"
)

const meterName = "github.com/pacelight/pacelight/internal/push"

// DeliveryMetrics holds the OpenTelemetry instruments for push deliveries.
type DeliveryMetrics struct {
	deliveryDuration metric.Float64Histogram
	deliveryTotal    metric.Int64Counter
	suppressedTotal  metric.Int64Counter
}

// NewDeliveryMetrics creates delivery metrics instruments.
func NewDeliveryMetrics() (*DeliveryMetrics, error) {
	meter := otel.Meter(meterName)

	deliveryDuration, err := meter.Float64Histogram(
		"push.delivery.duration",
		metric.WithDescription("Duration of push gateway deliveries in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	deliveryTotal, err := meter.Int64Counter(
		"push.delivery.total",
		metric.WithDescription("Total number of push delivery attempts"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, err
	}

	suppressedTotal, err := meter.Int64Counter(
		"push.suppressed.total",
		metric.WithDescription("Total number of suppressed duplicate triggers"),
		metric.WithUnit("{trigger}"),
	)
	if err != nil {
		return nil, err
	}

	return &DeliveryMetrics{
		deliveryDuration: deliveryDuration,
		deliveryTotal:    deliveryTotal,
		suppressedTotal:  suppressedTotal,
	}, nil
}

// RecordDelivery records one delivery attempt.
func (m *DeliveryMetrics) RecordDelivery(event timer.Event, priority apns.Priority, result *apns.Result, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("push.event", string(event)),
		attribute.String("push.priority", string(priority)),
	}
	if result != nil {
		attrs = append(attrs, attribute.String("push.environment", string(result.Environment)))
	}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
		if delivery, ok := apns.AsDeliveryError(err); ok {
			attrs = append(attrs, attribute.String("push.failure", string(delivery.Kind)))
		}
	}

	// Metrics outlive request contexts.
	ctx := context.Background()
	m.deliveryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.deliveryTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSuppressed records a duplicate trigger dropped by the dedup guard.
func (m *DeliveryMetrics) RecordSuppressed(event timer.Event) {
	if m == nil {
		return
	}
	m.suppressedTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("push.event", string(event)),
	))
}
