// Package quarantine implements the process-wide mutation gate.
//
// The controller is latched: once tripped it stays quarantined until Clear,
// and there is no time-based recovery. It is safe for concurrent use so that
// reads of the state never need the engine lock.
package quarantine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kairo/internal/model"
)

// Controller holds the quarantine state.
type Controller struct {
	mu    sync.RWMutex
	state model.QuarantineState
	clock func() time.Time
	newID func() string
}

// New creates an Active controller. Nil arguments fall back to wall time and
// random UUIDs.
func New(clock func() time.Time, idFunc func() string) *Controller {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if idFunc == nil {
		idFunc = func() string { return uuid.NewString() }
	}
	return &Controller{clock: clock, newID: idFunc}
}

// Trip engages quarantine and returns the fault trace id. Tripping an
// already quarantined controller keeps the original fault.
func (c *Controller) Trip(reason model.QuarantineReason, observed, threshold float64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Quarantined {
		return c.state.FaultTraceID
	}
	at := c.clock().UTC()
	c.state = model.QuarantineState{
		Quarantined:  true,
		Reason:       reason,
		ReasonCode:   reason.Code(),
		Observed:     observed,
		Threshold:    threshold,
		FaultTraceID: c.newID(),
		TrippedAt:    &at,
	}
	return c.state.FaultTraceID
}

// Quarantined reports whether the gate is engaged.
func (c *Controller) Quarantined() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Quarantined
}

// State returns a copy of the current state.
func (c *Controller) State() model.QuarantineState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	if s.TrippedAt != nil {
		at := *s.TrippedAt
		s.TrippedAt = &at
	}
	return s
}

// Check returns a Quarantined error while the gate is engaged.
func (c *Controller) Check() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Quarantined {
		return model.QuarantinedError(c.state.FaultTraceID)
	}
	return nil
}

// Clear returns the controller to Active and reports whether it was
// quarantined. Only checkpoint restore calls this.
func (c *Controller) Clear() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.state.Quarantined
	c.state = model.QuarantineState{}
	return was
}
