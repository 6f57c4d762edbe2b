package dispatch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"

	"pkt.systems/rentald/internal/wire"
)

type dispatchMetrics struct {
	datagrams metric.Int64Counter
	malformed metric.Int64Counter
}

func newDispatchMetrics(logger pslog.Logger) *dispatchMetrics {
	meter := otel.Meter("pkt.systems/rentald/dispatch")
	m := &dispatchMetrics{}
	var err error

	m.datagrams, err = meter.Int64Counter(
		"rentald.dispatch.datagrams",
		metric.WithDescription("Datagrams routed, by operation"),
	)
	logMetricInitError(logger, "rentald.dispatch.datagrams", err)

	m.malformed, err = meter.Int64Counter(
		"rentald.dispatch.malformed",
		metric.WithDescription("Datagrams dropped as malformed"),
	)
	logMetricInitError(logger, "rentald.dispatch.malformed", err)

	return m
}

func (m *dispatchMetrics) recordDatagram(ctx context.Context, op wire.Operation) {
	if m == nil || m.datagrams == nil {
		return
	}
	m.datagrams.Add(metricContext(ctx), 1, metric.WithAttributes(
		attribute.String("rentald.dispatch.op", string(op)),
	))
}

func (m *dispatchMetrics) recordMalformed(ctx context.Context) {
	if m == nil || m.malformed == nil {
		return
	}
	m.malformed.Add(metricContext(ctx), 1)
}

func metricContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
