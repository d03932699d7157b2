// Package governor evaluates the two runtime invariants (energy drift and
// coherence) and runs elastic corrections when drift exceeds its bound.
package governor

import (
	"math"

	"github.com/ashita-ai/kairo/internal/graph"
	"github.com/ashita-ai/kairo/internal/model"
)

// Defaults for the governed limits.
const (
	DefaultDriftEpsilon   = 1e-10
	DefaultCoherenceFloor = 0.97
	DefaultCorrectionK    = 0.8
)

// Governor holds the thresholds. It is stateless otherwise.
type Governor struct {
	DriftEpsilon   float64
	CoherenceFloor float64
	CorrectionK    float64
}

// New returns a governor with the default thresholds.
func New() Governor {
	return Governor{
		DriftEpsilon:   DefaultDriftEpsilon,
		CoherenceFloor: DefaultCoherenceFloor,
		CorrectionK:    DefaultCorrectionK,
	}
}

// Verdict is the outcome of one evaluation. Reason is set only on a breach.
type Verdict struct {
	Status    model.GovernorStatus
	Breach    bool
	Reason    model.QuarantineReason
	Observed  float64
	Threshold float64
}

// Drift returns |Σ energy − baseline|, or 0 before genesis.
func Drift(s *graph.Store, baseline float64, hasBaseline bool) float64 {
	if !hasBaseline {
		return 0
	}
	return math.Abs(s.TotalEnergy() - baseline)
}

// Evaluate computes the status and checks both invariants. Drift is checked
// first; a store with both violations reports drift.
func (g Governor) Evaluate(s *graph.Store, baseline float64, hasBaseline bool) Verdict {
	v := Verdict{Status: model.GovernorStatus{
		EnergyDrift: Drift(s, baseline, hasBaseline),
		Coherence:   s.Coherence(),
		NodeCount:   s.NodeCount(),
		EdgeCount:   s.EdgeCount(),
	}}
	switch {
	case v.Status.EnergyDrift > g.DriftEpsilon:
		v.Breach = true
		v.Reason = model.ReasonDriftExceeded
		v.Observed = v.Status.EnergyDrift
		v.Threshold = g.DriftEpsilon
	case v.Status.Coherence < g.CoherenceFloor:
		v.Breach = true
		v.Reason = model.ReasonCoherenceFloor
		v.Observed = v.Status.Coherence
		v.Threshold = g.CoherenceFloor
	}
	return v
}

// Correct runs one elastic pass toward the conserved per-node mean
// baseline/n. It never touches beliefs and returns the pre and post drift
// together with the total adjustment applied.
func (g Governor) Correct(s *graph.Store, baseline float64) (pre, attempted, post float64) {
	pre = Drift(s, baseline, true)
	n := s.NodeCount()
	if n == 0 {
		return pre, 0, pre
	}
	attempted = s.Rebalance(g.CorrectionK, baseline/float64(n))
	post = Drift(s, baseline, true)
	return pre, attempted, post
}

// Classify maps a correction's pre/post drift onto an outcome.
func (g Governor) Classify(pre, post float64) model.CorrectionOutcome {
	switch {
	case post <= g.DriftEpsilon:
		return model.CorrectionSuccess
	case post < pre:
		return model.CorrectionPartial
	default:
		return model.CorrectionFailed
	}
}
