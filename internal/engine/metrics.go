package engine

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kairo/internal/telemetry"
)

// registerMetrics registers observable gauges for governor and ledger
// health. Called from New when Config.RegisterMetrics is set.
func (e *Engine) registerMetrics() {
	meter := telemetry.Meter("kairo/engine")

	_, _ = meter.Float64ObservableGauge("kairo.governor.energy_drift",
		metric.WithDescription("Absolute deviation of total energy from the genesis baseline"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(e.Status().EnergyDrift)
			return nil
		}),
	)

	_, _ = meter.Float64ObservableGauge("kairo.governor.coherence",
		metric.WithDescription("Fraction of nodes passing the validity floor"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(e.Status().Coherence)
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("kairo.quarantine.engaged",
		metric.WithDescription("1 while mutations are blocked by quarantine"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			var v int64
			if e.gate.Quarantined() {
				v = 1
			}
			o.Observe(v)
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("kairo.lineage.entries",
		metric.WithDescription("Total ledger entries"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(e.LedgerSummary().TotalEntries)
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("kairo.lineage.shards",
		metric.WithDescription("Total ledger shards, open shard included"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(e.LedgerSummary().TotalShards))
			return nil
		}),
	)
}
