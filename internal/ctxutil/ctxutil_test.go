package ctxutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))

	generated := RequestIDFromContext(WithRequestID(context.Background(), ""))
	assert.Len(t, generated, 36)
}

func TestAuditPhases(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewAuditMeta("req-1", "node_create", t0)
	a.Mark(PhaseValidated, t0.Add(time.Millisecond))
	a.Mark(PhaseExecuted, t0.Add(2*time.Millisecond))
	a.Mark(PhaseResponded, t0.Add(5*time.Millisecond))

	var got []Phase
	for _, m := range a.Phases() {
		got = append(got, m.Phase)
	}
	assert.Equal(t, []Phase{PhaseReceived, PhaseValidated, PhaseExecuted, PhaseResponded}, got)
	assert.Equal(t, PhaseResponded, a.Last())
	assert.Equal(t, 5*time.Millisecond, a.Elapsed())

	ctx := WithAudit(context.Background(), a)
	assert.Same(t, a, AuditFromContext(ctx))
	assert.Nil(t, AuditFromContext(context.Background()))
}
