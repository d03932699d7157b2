package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kairo/internal/model"
)

func TestNewError_StableCodes(t *testing.T) {
	tests := []struct {
		kind model.ErrorKind
		code int
	}{
		{model.KindValidation, 4000},
		{model.KindNotFound, 4004},
		{model.KindEsvRejected, 1000},
		{model.KindQuarantined, 5000},
		{model.KindChecksumMismatch, 6001},
		{model.KindPersistence, 6002},
		{model.KindInternalInvariant, 9000},
		{model.KindRateLimited, 4029},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.code, model.NewError(tc.kind, "x").Code)
		})
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", model.NotFoundf("node %q", "node_3"))
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NotErrorIs(t, err, model.ErrValidation)
}

func TestQuarantinedError(t *testing.T) {
	err := model.QuarantinedError("trace-9")
	assert.Equal(t, "trace-9", err.FaultTraceID)
	assert.Contains(t, err.Error(), "fault_trace_id=trace-9")

	d := model.DetailFor(err)
	assert.Equal(t, model.CodeQuarantined, d.Code)
	assert.Equal(t, model.KindQuarantined, d.Tag)
	assert.Equal(t, "trace-9", d.FaultTraceID)
}

func TestAsError_UntypedIsInternal(t *testing.T) {
	e := model.AsError(errors.New("disk on fire"))
	assert.Equal(t, model.KindInternalInvariant, e.Kind)
	assert.Equal(t, "internal error", e.Message)
}
