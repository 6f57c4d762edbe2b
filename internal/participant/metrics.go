package participant

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"

	"pkt.systems/rentald/internal/txn"
)

type participantMetrics struct {
	votes       metric.Int64Counter
	decisions   metric.Int64Counter
	escalations metric.Int64Counter
	recovered   metric.Int64Counter
}

func newParticipantMetrics(logger pslog.Logger) *participantMetrics {
	meter := otel.Meter("pkt.systems/rentald/participant")
	m := &participantMetrics{}
	var err error

	m.votes, err = meter.Int64Counter(
		"rentald.txn.prepare.votes",
		metric.WithDescription("Prepare votes cast, by vote"),
	)
	logMetricInitError(logger, "rentald.txn.prepare.votes", err)

	m.decisions, err = meter.Int64Counter(
		"rentald.txn.decisions",
		metric.WithDescription("Coordinator decisions applied, by outcome"),
	)
	logMetricInitError(logger, "rentald.txn.decisions", err)

	m.escalations, err = meter.Int64Counter(
		"rentald.txn.escalation.broadcasts",
		metric.WithDescription("Decision-request broadcasts after coordinator silence"),
	)
	logMetricInitError(logger, "rentald.txn.escalation.broadcasts", err)

	m.recovered, err = meter.Int64Counter(
		"rentald.txn.recovered",
		metric.WithDescription("Journal records replayed at startup, by state"),
	)
	logMetricInitError(logger, "rentald.txn.recovered", err)

	return m
}

func (m *participantMetrics) recordVote(ctx context.Context, vote txn.Vote) {
	if m == nil || m.votes == nil {
		return
	}
	m.votes.Add(metricContext(ctx), 1, metric.WithAttributes(
		attribute.String("rentald.txn.vote", string(vote)),
	))
}

func (m *participantMetrics) recordDecision(ctx context.Context, state txn.State) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.Add(metricContext(ctx), 1, metric.WithAttributes(
		attribute.String("rentald.txn.state", string(state)),
	))
}

func (m *participantMetrics) recordEscalation(ctx context.Context) {
	if m == nil || m.escalations == nil {
		return
	}
	m.escalations.Add(metricContext(ctx), 1)
}

func (m *participantMetrics) recordRecovered(ctx context.Context, state txn.State) {
	if m == nil || m.recovered == nil {
		return
	}
	m.recovered.Add(metricContext(ctx), 1, metric.WithAttributes(
		attribute.String("rentald.txn.state", string(state)),
	))
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
