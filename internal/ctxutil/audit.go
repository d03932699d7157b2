package ctxutil

import (
	"sync"
	"time"
)

// Phase is a step in the lifecycle of one gateway request.
type Phase string

const (
	PhaseReceived  Phase = "received"
	PhaseValidated Phase = "validated"
	PhaseExecuted  Phase = "executed"
	PhaseResponded Phase = "responded"
	PhaseError     Phase = "error"
)

// PhaseMark records when a phase was reached.
type PhaseMark struct {
	Phase Phase     `json:"phase"`
	At    time.Time `json:"at"`
}

// AuditMeta carries the per-request audit trail populated by the gateway.
type AuditMeta struct {
	RequestID string
	Tool      string

	mu     sync.Mutex
	phases []PhaseMark
}

// NewAuditMeta starts a trail in PhaseReceived.
func NewAuditMeta(requestID, tool string, at time.Time) *AuditMeta {
	return &AuditMeta{
		RequestID: requestID,
		Tool:      tool,
		phases:    []PhaseMark{{Phase: PhaseReceived, At: at}},
	}
}

// Mark appends a phase.
func (a *AuditMeta) Mark(p Phase, at time.Time) {
	a.mu.Lock()
	a.phases = append(a.phases, PhaseMark{Phase: p, At: at})
	a.mu.Unlock()
}

// Phases returns a copy of the recorded phases in order.
func (a *AuditMeta) Phases() []PhaseMark {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]PhaseMark(nil), a.phases...)
}

// Last returns the most recent phase.
func (a *AuditMeta) Last() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phases[len(a.phases)-1].Phase
}

// Elapsed is the time between the first and last phase.
func (a *AuditMeta) Elapsed() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phases[len(a.phases)-1].At.Sub(a.phases[0].At)
}
