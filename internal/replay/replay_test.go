package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kairo/internal/model"
	"github.com/ashita-ai/kairo/internal/testutil"
)

func TestGenerateScenario_Deterministic(t *testing.T) {
	a := GenerateScenario(42, DefaultCycles)
	b := GenerateScenario(42, DefaultCycles)
	require.Len(t, a, DefaultCycles)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, GenerateScenario(43, DefaultCycles))
}

func TestGenerateScenario_FirstSteps(t *testing.T) {
	steps := GenerateScenario(42, 2)
	// 42 % 5 == 2: bind node_2 -> node_4 with weight 0.42.
	assert.Equal(t, model.ScenarioStep{Kind: model.StepBind, Src: "node_2", Dst: "node_4", Weight: 0.42}, steps[0])
	assert.Equal(t, model.StepCreate, steps[1].Kind)
	assert.Empty(t, GenerateScenario(42, -1))
}

func TestGenerateScenario_Bounds(t *testing.T) {
	for _, s := range GenerateScenario(ParseSeed("bounds"), 1000) {
		switch s.Kind {
		case model.StepCreate:
			assert.GreaterOrEqual(t, s.Belief, 0.0)
			assert.Less(t, s.Belief, 1.0)
			assert.Less(t, s.Energy, 10.0)
		case model.StepMutate:
			assert.LessOrEqual(t, s.Delta, 0.09)
			assert.GreaterOrEqual(t, s.Delta, -0.1)
		}
	}
}

func TestParseSeed(t *testing.T) {
	assert.Equal(t, uint64(42), ParseSeed("42"))
	assert.Equal(t, uint64(42), ParseSeed(" 42 "))
	assert.Equal(t, ParseSeed("DAY1"), ParseSeed("DAY1"))
	assert.NotEqual(t, ParseSeed("DAY1"), ParseSeed("DAY2"))
	// FNV-1a 64 of the empty string is the offset basis.
	assert.Equal(t, uint64(0xcbf29ce484222325), ParseSeed(""))
}

func TestExecuteAndHash_Reproducible(t *testing.T) {
	for _, seed := range []string{"42", "DAY1"} {
		t.Run(seed, func(t *testing.T) {
			steps := GenerateScenario(ParseSeed(seed), DefaultCycles)
			a, err := ExecuteAndHash(steps)
			require.NoError(t, err)
			b, err := ExecuteAndHash(steps)
			require.NoError(t, err)

			assert.Equal(t, a, b)
			assert.Len(t, a.GlobalHash, 64)
			assert.Equal(t, DefaultCycles, a.Applied+a.Rejected)
			assert.Positive(t, a.Entries)
		})
	}
}

func TestExecuteAndHash_ChangedStepChangesHash(t *testing.T) {
	steps := GenerateScenario(ParseSeed("DAY1"), DefaultCycles)
	base, err := ExecuteAndHash(steps)
	require.NoError(t, err)

	changed := append([]model.ScenarioStep(nil), steps...)
	changed[0] = model.ScenarioStep{Kind: model.StepCreate, Belief: 0.9, Energy: 1}
	got, err := ExecuteAndHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, base.GlobalHash, got.GlobalHash)
}

func TestExecuteAndHash_DifferentSeeds(t *testing.T) {
	a, err := ExecuteAndHash(GenerateScenario(42, DefaultCycles))
	require.NoError(t, err)
	b, err := ExecuteAndHash(GenerateScenario(43, DefaultCycles))
	require.NoError(t, err)
	assert.NotEqual(t, a.GlobalHash, b.GlobalHash)
}

func TestValidateEpisode(t *testing.T) {
	ep, err := ValidateEpisode(42, DefaultCycles, map[string]string{"local": "h", "docker": "h", "k8s": "h"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ep.Variance)
	assert.True(t, ep.Certified)
	assert.Equal(t, "docker", ep.Environments[0].Label, "environments are sorted")

	ep, err = ValidateEpisode(42, DefaultCycles, map[string]string{"local": "h1", "docker": "h2", "k8s": "h1"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ep.Variance)
	assert.False(t, ep.Certified)

	_, err = ValidateEpisode(42, DefaultCycles, map[string]string{"local": "h", "docker": "h"}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestValidateEpisode_UsesInjectedClockAndIDs(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	clock := func() time.Time { return at }
	newID := func() string { return "episode-fixed" }

	ep, err := ValidateEpisode(7, 25, map[string]string{"a": "h", "b": "h", "c": "h"}, clock, newID)
	require.NoError(t, err)
	assert.Equal(t, "episode-fixed", ep.EpisodeID)
	assert.Equal(t, uint64(7), ep.Seed)
	assert.Equal(t, 25, ep.Cycles)
	require.NotNil(t, ep.ValidatedAt)
	assert.True(t, ep.ValidatedAt.Equal(at))
	for _, env := range ep.Environments {
		assert.True(t, env.RecordedAt.Equal(at), env.Label)
	}
}

func TestRunEpisode(t *testing.T) {
	ep, err := RunEpisode(context.Background(), ParseSeed("DAY1"), DefaultCycles, []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	assert.True(t, ep.Certified)
	assert.Equal(t, 0.0, ep.Variance)
	assert.Len(t, ep.Environments, 4)
	assert.Equal(t, DefaultCycles, ep.Cycles)

	_, err = RunEpisode(context.Background(), 1, 10, []string{"a", "b"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = RunEpisode(context.Background(), 1, 10, []string{"a", "a", "b"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestRunEpisode_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunEpisode(ctx, 42, DefaultCycles, []string{"a", "b", "c"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestProtocol(t *testing.T) {
	clock := &testutil.LogicalClock{}
	n := 0
	p := NewProtocol(clock.Now, func() string { n++; return fmt.Sprintf("episode-%d", n) })

	ep := p.CreateEpisode(42, DefaultCycles)
	assert.Equal(t, "episode-1", ep.EpisodeID)

	_, err := p.Validate(ep.EpisodeID)
	assert.ErrorIs(t, err, model.ErrValidation, "no environments yet")

	for _, env := range []string{"local", "docker", "k8s"} {
		require.NoError(t, p.Record(ep.EpisodeID, env, "abc123"))
	}
	assert.ErrorIs(t, p.Record(ep.EpisodeID, "local", "abc123"), model.ErrValidation)
	assert.ErrorIs(t, p.Record("episode-9", "x", "abc123"), model.ErrNotFound)

	got, err := p.Validate(ep.EpisodeID)
	require.NoError(t, err)
	assert.True(t, got.Certified)
	require.NotNil(t, got.ValidatedAt)
	assert.ErrorIs(t, p.Record(ep.EpisodeID, "late", "abc123"), model.ErrValidation)

	bad := p.CreateEpisode(7, DefaultCycles)
	require.NoError(t, p.Record(bad.EpisodeID, "local", "hash1"))
	require.NoError(t, p.Record(bad.EpisodeID, "docker", "hash2"))
	require.NoError(t, p.Record(bad.EpisodeID, "k8s", "hash3"))
	got, err = p.Validate(bad.EpisodeID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Variance)
	assert.False(t, got.Certified)

	data, err := p.ExportAudit()
	require.NoError(t, err)
	var episodes []model.ReplayEpisode
	require.NoError(t, json.Unmarshal(data, &episodes))
	require.Len(t, episodes, 2)
	assert.Equal(t, "episode-1", episodes[0].EpisodeID)
	assert.Len(t, episodes[0].Environments, 3)
}
