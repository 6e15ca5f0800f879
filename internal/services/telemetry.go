package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/framefox/foxconnect/internal/services"

var tracer = otel.Tracer(instrumentationName)

type engineMetrics struct {
	transitions   metric.Int64Counter
	guardFailures metric.Int64Counter
	bundleCopies  metric.Int64Counter
	fulfillments  metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter) engineMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	return engineMetrics{
		transitions:   int64Counter(meter, "fulfillment.order.transitions", "Order transition attempts by event and outcome."),
		guardFailures: int64Counter(meter, "fulfillment.order.guard_failures", "Transitions refused by a guard."),
		bundleCopies:  int64Counter(meter, "fulfillment.bundle.copies", "Bundle copies placed on order items."),
		fulfillments:  int64Counter(meter, "fulfillment.shipments.recorded", "Fulfillments recorded against orders."),
	}
}

func int64Counter(meter metric.Meter, name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return counter
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
