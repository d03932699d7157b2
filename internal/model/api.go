package model

import "time"

// ErrorDetail is the caller-facing error payload returned by the gateway.
type ErrorDetail struct {
	Code         int       `json:"code"`
	Tag          ErrorKind `json:"tag"`
	Message      string    `json:"message"`
	FaultTraceID string    `json:"fault_trace_id,omitempty"`
}

// DetailFor converts an error into its caller-facing payload.
func DetailFor(err error) ErrorDetail {
	e := AsError(err)
	return ErrorDetail{
		Code:         e.Code,
		Tag:          e.Kind,
		Message:      e.Message,
		FaultTraceID: e.FaultTraceID,
	}
}

// Thresholds are the governed limits reported in the health read.
type Thresholds struct {
	DriftEpsilon   float64 `json:"drift_epsilon"`
	CoherenceFloor float64 `json:"coherence_floor"`
	ValidityFloor  float64 `json:"validity_floor"`
	ShardSize      int     `json:"shard_size"`
	CorrectionK    float64 `json:"correction_k"`
}

// Health is the combined read.
type Health struct {
	Status            GovernorStatus    `json:"status"`
	Quarantine        QuarantineState   `json:"quarantine"`
	Ledger            LedgerSummary     `json:"ledger"`
	Corrections       CorrectionSummary `json:"corrections"`
	Thresholds        Thresholds        `json:"thresholds"`
	DriftWithinBounds bool              `json:"drift_within_bounds"`
	LastAudit         *time.Time        `json:"last_audit,omitempty"`
	Checkpoints       int               `json:"checkpoints"`
}
