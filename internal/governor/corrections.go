package governor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kairo/internal/model"
)

// CorrectionLogger is the append-only record of correction attempts. It is
// not safe for concurrent use; the engine serializes access.
type CorrectionLogger struct {
	attempts []model.CorrectionAttempt
	newID    func() string
}

// NewCorrectionLogger creates an empty log. A nil idFunc uses random UUIDs.
func NewCorrectionLogger(idFunc func() string) *CorrectionLogger {
	if idFunc == nil {
		idFunc = func() string { return uuid.NewString() }
	}
	return &CorrectionLogger{newID: idFunc}
}

// Record appends an attempt and returns it with its id assigned.
func (l *CorrectionLogger) Record(at time.Time, cycle uint64, pre, attempted, post float64, outcome model.CorrectionOutcome) model.CorrectionAttempt {
	a := model.CorrectionAttempt{
		AttemptID:           l.newID(),
		Timestamp:           at.UTC(),
		Cycle:               cycle,
		PreDelta:            pre,
		AttemptedCorrection: attempted,
		PostDelta:           post,
		Outcome:             outcome,
	}
	l.attempts = append(l.attempts, a)
	return a
}

// Attempts returns a copy of every recorded attempt, oldest first.
func (l *CorrectionLogger) Attempts() []model.CorrectionAttempt {
	out := make([]model.CorrectionAttempt, len(l.attempts))
	copy(out, l.attempts)
	return out
}

// Summary aggregates outcomes. SuccessRate is 0 with no attempts.
func (l *CorrectionLogger) Summary() model.CorrectionSummary {
	var s model.CorrectionSummary
	for _, a := range l.attempts {
		switch a.Outcome {
		case model.CorrectionSuccess:
			s.Successes++
		case model.CorrectionPartial:
			s.Partials++
		default:
			s.Failures++
		}
	}
	s.Attempts = len(l.attempts)
	if s.Attempts > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.Attempts)
	}
	return s
}

// ExportJSON renders the log and its summary.
func (l *CorrectionLogger) ExportJSON() ([]byte, error) {
	doc := struct {
		Summary  model.CorrectionSummary   `json:"summary"`
		Attempts []model.CorrectionAttempt `json:"attempts"`
	}{Summary: l.Summary(), Attempts: l.Attempts()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("governor: marshal corrections: %w", err)
	}
	return data, nil
}
