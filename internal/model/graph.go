package model

import "time"

// Node is a belief entity. Belief is always within [0,1].
type Node struct {
	ID     string  `json:"id"`
	Belief float64 `json:"belief"`
	Energy float64 `json:"energy"`
	Valid  bool    `json:"valid"`
}

// Edge is a directed connection. Self-loops and cycles are permitted.
type Edge struct {
	ID     string  `json:"id"`
	Src    string  `json:"src"`
	Dst    string  `json:"dst"`
	Weight float64 `json:"weight"`
}

// EdgeSpec describes one edge in a batch bind.
type EdgeSpec struct {
	Src    string  `json:"src"`
	Dst    string  `json:"dst"`
	Weight float64 `json:"weight"`
}

// PropagateResult reports the endpoint states after a propagation.
type PropagateResult struct {
	EdgeID   string `json:"edge_id"`
	Src      Node   `json:"src"`
	Dst      Node   `json:"dst"`
	SelfLoop bool   `json:"self_loop"`
}

// GovernorStatus is the aggregate health read.
type GovernorStatus struct {
	EnergyDrift float64 `json:"energy_drift"`
	Coherence   float64 `json:"coherence"`
	NodeCount   int     `json:"node_count"`
	EdgeCount   int     `json:"edge_count"`
	Quarantined bool    `json:"quarantined"`
}

// AuditResult is the caller-facing validity audit. Raw score terms stay internal.
type AuditResult struct {
	NodeID string `json:"node_id"`
	Valid  bool   `json:"valid"`
}

// QuarantineReason names why the gate tripped.
type QuarantineReason string

const (
	ReasonDriftExceeded   QuarantineReason = "drift_exceeded"
	ReasonCoherenceFloor  QuarantineReason = "coherence_below_floor"
	ReasonLedgerCorrupted QuarantineReason = "ledger_corrupted"
	ReasonRestoreFailure  QuarantineReason = "restore_failure"
)

// Code returns the stable numeric code for a reason.
func (r QuarantineReason) Code() int {
	switch r {
	case ReasonDriftExceeded:
		return CodeDriftExceeded
	case ReasonCoherenceFloor:
		return CodeCoherenceFloor
	case ReasonRestoreFailure:
		return CodeChecksumMismatch
	default:
		return CodeInternalInvariant
	}
}

// QuarantineState is Active (Quarantined == false) or Quarantined with details.
type QuarantineState struct {
	Quarantined  bool             `json:"quarantined"`
	Reason       QuarantineReason `json:"reason,omitempty"`
	ReasonCode   int              `json:"reason_code,omitempty"`
	Observed     float64          `json:"observed,omitempty"`
	Threshold    float64          `json:"threshold,omitempty"`
	FaultTraceID string           `json:"fault_trace_id,omitempty"`
	TrippedAt    *time.Time       `json:"tripped_at,omitempty"`
}

// CorrectionOutcome classifies a governor correction attempt.
type CorrectionOutcome string

const (
	CorrectionSuccess CorrectionOutcome = "success"
	CorrectionPartial CorrectionOutcome = "partial"
	CorrectionFailed  CorrectionOutcome = "failed"
)

// CorrectionAttempt records one elastic correction pass.
type CorrectionAttempt struct {
	AttemptID           string            `json:"attempt_id"`
	Timestamp           time.Time         `json:"timestamp"`
	Cycle               uint64            `json:"cycle"`
	PreDelta            float64           `json:"pre_delta"`
	AttemptedCorrection float64           `json:"attempted_correction"`
	PostDelta           float64           `json:"post_delta"`
	Outcome             CorrectionOutcome `json:"outcome"`
}

// CorrectionSummary aggregates the correction log.
type CorrectionSummary struct {
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	Partials    int     `json:"partials"`
	Failures    int     `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
}
