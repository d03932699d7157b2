package kairo

import (
	"context"
	"time"
)

// QuarantineHook receives async notifications when the quarantine gate
// changes state. Multiple hooks may be registered via multiple
// WithQuarantineHook calls. Hook methods run in goroutines; they must not
// block indefinitely. Failures are logged but do not affect the engine.
type QuarantineHook interface {
	OnQuarantine(ctx context.Context, q Quarantine) error
	OnClear(ctx context.Context, checkpointID string) error
}

// Quarantine describes a trip of the quarantine gate.
type Quarantine struct {
	Reason       string    `json:"reason"`
	ReasonCode   int       `json:"reason_code"`
	Observed     float64   `json:"observed"`
	Threshold    float64   `json:"threshold"`
	FaultTraceID string    `json:"fault_trace_id"`
	TrippedAt    time.Time `json:"tripped_at"`
}
