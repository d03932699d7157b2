package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kairo/internal/checkpoint"
	"github.com/ashita-ai/kairo/internal/integrity"
	"github.com/ashita-ai/kairo/internal/model"
	"github.com/ashita-ai/kairo/internal/testutil"
)

func newTestEngine(t *testing.T, opts ...func(*Config)) *Engine {
	t.Helper()
	clock := &testutil.LogicalClock{}
	cfg := DefaultConfig()
	cfg.Clock = clock.Now
	cfg.Logger = testutil.TestLogger()
	for _, o := range opts {
		o(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// buildScenario3 creates two nodes, binds them, and propagates once.
func buildScenario3(t *testing.T, e *Engine) {
	t.Helper()
	_, err := e.CreateNode(0.5, 1.0)
	require.NoError(t, err)
	_, err = e.CreateNode(0.3, 1.0)
	require.NoError(t, err)
	edge, err := e.BindEdge("node_0", "node_1", 0.8)
	require.NoError(t, err)
	_, err = e.Propagate(edge.ID)
	require.NoError(t, err)
}

func TestScenario_GenesisFixesBaseline(t *testing.T) {
	e := newTestEngine(t)
	n, err := e.CreateNode(0.5, 1.0)
	require.NoError(t, err)
	assert.Equal(t, "node_0", n.ID)
	assert.True(t, n.Valid)

	st := e.Status()
	assert.Equal(t, 0.0, st.EnergyDrift)
	assert.Equal(t, 1, st.NodeCount)
	assert.False(t, st.Quarantined)
}

func TestScenario_SecondNodeKeepsDriftZero(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateNode(0.5, 1.0)
	require.NoError(t, err)
	n, err := e.CreateNode(0.3, 1.0)
	require.NoError(t, err)

	assert.Equal(t, 0.5, n.Energy)
	first, _ := e.QueryNode("node_0")
	assert.Equal(t, 0.5, first.Energy)
	assert.Equal(t, 0.0, e.Status().EnergyDrift)
	assert.False(t, e.Status().Quarantined)
}

func TestScenario_PropagateConservesEnergy(t *testing.T) {
	e := newTestEngine(t)
	buildScenario3(t, e)

	n1, _ := e.QueryNode("node_1")
	assert.InDelta(t, 0.46, n1.Belief, 1e-12)
	st := e.Status()
	assert.LessOrEqual(t, st.EnergyDrift, 1e-10)
	assert.False(t, st.Quarantined)
	assert.Equal(t, int64(4), e.LedgerSummary().TotalEntries)
}

func TestScenario_DriftTripsQuarantine(t *testing.T) {
	e := newTestEngine(t)
	buildScenario3(t, e)

	// node_1 has no outgoing edge, so its spend dissipates.
	n, err := e.MutateNode("node_1", -0.1)
	require.NoError(t, err, "the triggering mutation is committed")
	assert.InDelta(t, 0.36, n.Belief, 1e-12)

	st := e.Status()
	assert.True(t, st.Quarantined)

	q := e.Quarantine()
	assert.Equal(t, model.ReasonDriftExceeded, q.Reason)
	assert.Len(t, q.FaultTraceID, 36)

	last := e.LastEntry()
	assert.Equal(t, model.OpNodeMutate, last.Operation.Kind, "breach is still recorded")

	attempts, sum := e.Corrections()
	require.Len(t, attempts, 1)
	assert.Equal(t, model.CorrectionPartial, attempts[0].Outcome)
	assert.InDelta(t, 0.2*attempts[0].PreDelta, attempts[0].PostDelta, 1e-12)
	assert.Equal(t, 1, sum.Attempts)

	_, err = e.CreateNode(0.5, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrQuarantined)
	assert.Equal(t, q.FaultTraceID, model.AsError(err).FaultTraceID)
}

func TestQuarantine_BlocksEveryMutation(t *testing.T) {
	e := newTestEngine(t)
	buildScenario3(t, e)
	_, err := e.MutateNode("node_1", -0.1)
	require.NoError(t, err)
	require.True(t, e.Status().Quarantined)

	before := e.LedgerSummary()
	nodes := e.Nodes()

	calls := map[string]func() error{
		"create":     func() error { _, err := e.CreateNode(0.5, 1); return err },
		"mutate":     func() error { _, err := e.MutateNode("node_0", 0.1); return err },
		"bind":       func() error { _, err := e.BindEdge("node_0", "node_1", 1); return err },
		"propagate":  func() error { _, err := e.Propagate("edge_0"); return err },
		"checkpoint": func() error { _, err := e.CreateCheckpoint(context.Background()); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrQuarantined)
		})
	}

	assert.Equal(t, before, e.LedgerSummary())
	assert.Equal(t, nodes, e.Nodes())

	_, ok := e.QueryNode("node_0")
	assert.True(t, ok, "reads stay available")
	_, err = e.Audit("node_0")
	assert.NoError(t, err)
}

func TestScenario_ShardRotation(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateNode(0.9, 1)
	require.NoError(t, err)
	_, err = e.BindEdge("node_0", "node_0", 0.5)
	require.NoError(t, err)
	for i := 0; i < 248; i++ {
		_, err := e.Propagate("edge_0")
		require.NoError(t, err)
	}

	sum := e.LedgerSummary()
	assert.Equal(t, int64(250), sum.TotalEntries)
	assert.Equal(t, 1, sum.FinalizedShards)
	assert.Equal(t, 0, sum.OpenEntries)

	_, err = e.Propagate("edge_0")
	require.NoError(t, err)
	shards := e.Shards()
	require.Len(t, shards, 2)
	assert.Equal(t, 250, shards[0].Entries)
	assert.NotEmpty(t, shards[0].Hash)
	assert.Equal(t, int64(250), shards[1].FirstSeq)
	assert.Equal(t, model.OpEdgeSelfLoop, e.LastEntry().Operation.Kind)
}

func TestValidation(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateNode(0.5, 1)
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"nan belief", func() error { _, err := e.CreateNode(math.NaN(), 1); return err }, model.ErrValidation},
		{"negative energy", func() error { _, err := e.CreateNode(0.5, -1); return err }, model.ErrValidation},
		{"energy above max", func() error { _, err := e.CreateNode(0.5, 1e5); return err }, model.ErrValidation},
		{"infinite energy", func() error { _, err := e.CreateNode(0.5, math.Inf(1)); return err }, model.ErrValidation},
		{"delta above one", func() error { _, err := e.MutateNode("node_0", 1.5); return err }, model.ErrValidation},
		{"empty node id", func() error { _, err := e.MutateNode("", 0.1); return err }, model.ErrValidation},
		{"unknown node", func() error { _, err := e.MutateNode("node_9", 0.1); return err }, model.ErrNotFound},
		{"huge weight", func() error { _, err := e.BindEdge("node_0", "node_0", 1e7); return err }, model.ErrValidation},
		{"missing endpoint", func() error { _, err := e.BindEdge("node_0", "node_4", 1); return err }, model.ErrNotFound},
		{"unknown edge", func() error { _, err := e.Propagate("edge_3"); return err }, model.ErrNotFound},
		{"unknown audit", func() error { _, err := e.Audit("node_3"); return err }, model.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := e.LedgerSummary()
			err := tc.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, before, e.LedgerSummary(), "nothing recorded")
		})
	}
}

func TestPrecondition_RejectsInvalidNode(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateNode(0.1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrEsvRejected)
	assert.Equal(t, 0, e.Status().NodeCount)

	_, err = e.CreateNode(0.5, 1)
	require.NoError(t, err)
	_, err = e.MutateNode("node_0", -0.45)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrEsvRejected)

	n, _ := e.QueryNode("node_0")
	assert.Equal(t, 0.5, n.Belief, "rejected mutation touched nothing")
	assert.Equal(t, int64(1), e.LedgerSummary().TotalEntries)
}

func TestBindEdges_AllOrNothing(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateNode(0.5, 1)
	require.NoError(t, err)
	_, err = e.CreateNode(0.5, 1)
	require.NoError(t, err)

	_, err = e.BindEdges([]model.EdgeSpec{
		{Src: "node_0", Dst: "node_1", Weight: 0.5},
		{Src: "node_1", Dst: "node_7", Weight: 0.5},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 0, e.Status().EdgeCount)

	edges, err := e.BindEdges([]model.EdgeSpec{
		{Src: "node_0", Dst: "node_1", Weight: 0.5},
		{Src: "node_1", Dst: "node_0", Weight: 0.5},
	})
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "edge_1", edges[1].ID)
	assert.Equal(t, int64(4), e.LedgerSummary().TotalEntries)

	_, err = e.BindEdges(nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestLastEntry_EmptyLedger(t *testing.T) {
	e := newTestEngine(t)
	last := e.LastEntry()
	assert.Equal(t, int64(-1), last.Seq)
	assert.Equal(t, integrity.ZeroHash, last.Hash)
}

func TestCheckpoint_RestoreClearsQuarantine(t *testing.T) {
	ctx := context.Background()
	var (
		mu      sync.Mutex
		tripped []model.QuarantineState
		cleared []string
	)
	e := newTestEngine(t, func(c *Config) {
		c.OnQuarantine = func(st model.QuarantineState) {
			mu.Lock()
			defer mu.Unlock()
			tripped = append(tripped, st)
		}
		c.OnClear = func(id string) {
			mu.Lock()
			defer mu.Unlock()
			cleared = append(cleared, id)
		}
	})
	buildScenario3(t, e)

	cp, err := e.CreateCheckpoint(ctx)
	require.NoError(t, err)
	saved := e.Nodes()

	_, err = e.MutateNode("node_1", -0.1)
	require.NoError(t, err)
	require.True(t, e.Status().Quarantined)

	require.NoError(t, e.Restore(ctx, cp.ID))
	assert.False(t, e.Status().Quarantined)
	assert.Equal(t, saved, e.Nodes())
	assert.LessOrEqual(t, e.Status().EnergyDrift, 1e-10)
	assert.Equal(t, model.OpQuarantineCleared, e.LastEntry().Operation.Kind)
	require.NoError(t, e.VerifyLedger())

	mu.Lock()
	assert.Len(t, tripped, 1)
	assert.Equal(t, []string{cp.ID}, cleared)
	mu.Unlock()

	_, err = e.CreateNode(0.6, 1)
	assert.NoError(t, err, "mutations resume after recovery")
}

func TestCheckpoint_RestoreWhileActive(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	_, err := e.CreateNode(0.5, 1)
	require.NoError(t, err)
	cp, err := e.CreateCheckpoint(ctx)
	require.NoError(t, err)

	_, err = e.CreateNode(0.7, 1)
	require.NoError(t, err)
	require.NoError(t, e.Restore(ctx, cp.ID))

	assert.Equal(t, 1, e.Status().NodeCount)
	assert.Equal(t, model.OpCheckpointRestore, e.LastEntry().Operation.Kind)

	n, err := e.CreateNode(0.7, 1)
	require.NoError(t, err)
	assert.Equal(t, "node_1", n.ID, "id counters come from the checkpoint")
}

func TestCheckpoint_TamperedTagKeepsQuarantine(t *testing.T) {
	ctx := context.Background()
	shared := checkpoint.NewMemoryStore()
	a := newTestEngine(t, func(c *Config) { c.Checkpoints = shared })
	_, err := a.CreateNode(0.5, 1)
	require.NoError(t, err)
	cp, err := a.CreateCheckpoint(ctx)
	require.NoError(t, err)

	b := newTestEngine(t, func(c *Config) { c.Checkpoints = shared })
	buildScenario3(t, b)
	_, err = b.MutateNode("node_1", -0.1)
	require.NoError(t, err)
	fault := b.Quarantine().FaultTraceID
	before := b.LedgerSummary()

	err = b.Restore(ctx, cp.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrChecksumMismatch)
	assert.True(t, b.Status().Quarantined)
	assert.Equal(t, fault, b.Quarantine().FaultTraceID)
	assert.Equal(t, before, b.LedgerSummary())
	assert.Equal(t, 2, b.Status().NodeCount)
}

func TestCheckpoint_UnknownID(t *testing.T) {
	e := newTestEngine(t)
	err := e.Restore(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.False(t, e.Status().Quarantined)
}

func TestExportLineage(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, func(c *Config) { c.ExportDir = dir })
	buildScenario3(t, e)

	receipt, err := e.ExportLineage("lineage.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "lineage.json"), receipt.Path)
	assert.Equal(t, int64(4), receipt.Entries)
	assert.Equal(t, e.GlobalHash(), receipt.SessionHash)

	for _, bad := range []string{"", "../escape.json", "/etc/kairo.json", "."} {
		t.Run(fmt.Sprintf("reject %q", bad), func(t *testing.T) {
			_, err := e.ExportLineage(bad)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}

	_, err = e.ExportLineage("missing/dir/out.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrPersistence)
	assert.NotContains(t, err.Error(), dir, "no paths in errors")
}

func TestHealth(t *testing.T) {
	e := newTestEngine(t)
	h := e.Health(context.Background())
	assert.Nil(t, h.LastAudit)
	assert.Equal(t, 0, h.Checkpoints)
	assert.True(t, h.DriftWithinBounds)

	buildScenario3(t, e)
	_, err := e.Audit("node_1")
	require.NoError(t, err)
	_, err = e.CreateCheckpoint(context.Background())
	require.NoError(t, err)

	h = e.Health(context.Background())
	assert.NotNil(t, h.LastAudit)
	assert.Equal(t, 1, h.Checkpoints)
	assert.Equal(t, int64(4), h.Ledger.TotalEntries)
	assert.Equal(t, 0.97, h.Thresholds.CoherenceFloor)
	assert.Equal(t, 250, h.Thresholds.ShardSize)
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateNode(0.9, 1)
	require.NoError(t, err)
	_, err = e.BindEdge("node_0", "node_0", 0.5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, _ = e.Propagate("edge_0")
				_ = e.Status()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(202), e.LedgerSummary().TotalEntries)
	require.NoError(t, e.VerifyLedger())
}

// flakyStore fails every Save and Load with an I/O error.
type flakyStore struct {
	*checkpoint.MemoryStore
}

var errDiskFull = errors.New("disk full")

func (flakyStore) Save(context.Context, checkpoint.Record) error { return errDiskFull }

func (flakyStore) Load(context.Context, string) (checkpoint.Record, error) {
	return checkpoint.Record{}, errDiskFull
}

func TestCheckpoint_StoreFailureIsNotAnInvariant(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, func(c *Config) { c.Checkpoints = flakyStore{checkpoint.NewMemoryStore()} })
	buildScenario3(t, e)

	_, err := e.CreateCheckpoint(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrPersistence)
	assert.NotErrorIs(t, err, model.ErrInternalInvariant)
	assert.False(t, e.Status().Quarantined)

	before := e.LedgerSummary()
	err = e.Restore(ctx, "cp-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrPersistence)
	assert.False(t, e.Status().Quarantined)
	assert.Equal(t, before, e.LedgerSummary(), "nothing recorded")

	// The engine keeps serving writes.
	_, err = e.Propagate("edge_0")
	require.NoError(t, err)
}

func TestMutate_SelfLoopReturnsSpend(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateNode(0.5, 0.002)
	require.NoError(t, err)
	_, err = e.BindEdge("node_0", "node_0", 1)
	require.NoError(t, err)

	// The full cost (0.005) exceeds the node's energy, but every share of it
	// flows back over the self-loop.
	n, err := e.MutateNode("node_0", 0.1)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, n.Belief, 1e-12)
	assert.InDelta(t, 0.002, n.Energy, 1e-15)
	assert.False(t, e.Status().Quarantined)
}

// Conserving operations over many steps at the top of the energy range must
// never drift past epsilon through rounding alone.
func TestConservingOperationsNeverDrift(t *testing.T) {
	e := newTestEngine(t)
	rng := rand.New(rand.NewPCG(7, 11))
	eps := e.Thresholds().DriftEpsilon

	_, err := e.CreateNode(0.9, 9999)
	require.NoError(t, err)
	const nodes = 30
	for i := 1; i < nodes; i++ {
		// Requesting pool/i leaves every node with an equal share.
		_, err := e.CreateNode(0.5+rng.Float64()/2, 9999/float64(i))
		require.NoError(t, err)
	}
	// Every node gets outgoing edges so no mutation dissipates.
	var edges []string
	for i := 0; i < nodes; i++ {
		for j := 0; j < 3; j++ {
			dst := rng.IntN(nodes)
			edge, err := e.BindEdge(fmt.Sprintf("node_%d", i), fmt.Sprintf("node_%d", dst), 0.1+rng.Float64()*0.8)
			require.NoError(t, err)
			edges = append(edges, edge.ID)
		}
	}
	require.LessOrEqual(t, e.Status().EnergyDrift, eps)

	for step := 0; step < 20000; step++ {
		if rng.IntN(2) == 0 {
			_, err = e.Propagate(edges[rng.IntN(len(edges))])
		} else {
			_, err = e.MutateNode(fmt.Sprintf("node_%d", rng.IntN(nodes)), rng.Float64()*0.4-0.2)
		}
		if err != nil {
			require.ErrorIs(t, err, model.ErrEsvRejected, "step %d", step)
		}
		st := e.Status()
		require.False(t, st.Quarantined, "step %d: %+v", step, e.Quarantine())
		require.LessOrEqual(t, st.EnergyDrift, eps, "step %d", step)
	}
}
