package gate

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/crewline/ratchet/pkg/contracts"
)

// Metrics counts gate activity. A nil *Metrics is a no-op, so callers
// never have to branch on whether telemetry is wired.
type Metrics struct {
	decisions metric.Int64Counter
	fallbacks metric.Int64Counter
	overrides metric.Int64Counter
}

// NewMetrics registers the gate instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	decisions, err := meter.Int64Counter("ratchet.gate.decisions",
		metric.WithDescription("Gate decisions by stage and verdict"))
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter("ratchet.gate.coherence_fallbacks",
		metric.WithDescription("Snapshots whose coherence status was unreadable"))
	if err != nil {
		return nil, err
	}
	overrides, err := meter.Int64Counter("ratchet.gate.overrides",
		metric.WithDescription("Policy override uses by stage"))
	if err != nil {
		return nil, err
	}
	return &Metrics{decisions: decisions, fallbacks: fallbacks, overrides: overrides}, nil
}

// Decision records one gate verdict.
func (m *Metrics) Decision(ctx context.Context, stage string, d contracts.Decision) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("decision", string(d)),
	))
}

// CoherenceFallback records one unreadable-coherence fallback.
func (m *Metrics) CoherenceFallback(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenantID)))
}

// Override records one use of the override escape hatch.
func (m *Metrics) Override(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.overrides.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
