package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kairo/internal/graph"
	"github.com/ashita-ai/kairo/internal/model"
	"github.com/ashita-ai/kairo/internal/testutil"
)

func sampleSnapshot() graph.Snapshot {
	s := graph.NewStore(graph.DefaultScorer())
	s.CreateNode(0.5, 1, 0, true)
	s.CreateNode(0.3, 1, 1, false)
	s.BindEdge("node_0", "node_1", 0.8)
	s.Propagate("edge_0", 0.05)
	return s.Snapshot()
}

func newManager(t *testing.T, store Store) *Manager {
	t.Helper()
	key, err := NewKey()
	require.NoError(t, err)
	clock := &testutil.LogicalClock{}
	m, err := NewManager(store, key, clock.Now, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	return s
}

func TestManager_RoundTrip(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return openSQLite(t) },
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := newManager(t, mk(t))
			snap := sampleSnapshot()

			cp, err := m.Create(ctx, snap, 1, true, 3)
			require.NoError(t, err)
			assert.Len(t, cp.ID, 36)
			assert.Equal(t, testutil.Epoch, cp.CreatedAt)

			got, err := m.Open(ctx, cp.ID)
			require.NoError(t, err)
			assert.Equal(t, cp.ID, got.ID)
			assert.Equal(t, snap, got.Graph)
			assert.Equal(t, 1.0, got.Baseline)
			assert.True(t, got.HasBaseline)
			assert.Equal(t, int64(3), got.LedgerSeq)
			assert.True(t, cp.CreatedAt.Equal(got.CreatedAt))

			n, err := m.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestManager_OpenUnknown(t *testing.T) {
	m := newManager(t, NewMemoryStore())
	_, err := m.Open(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)

	sq := newManager(t, openSQLite(t))
	_, err = sq.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestManager_TamperedPayload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := newManager(t, store)
	cp, err := m.Create(ctx, sampleSnapshot(), 1, true, 3)
	require.NoError(t, err)

	rec := store.records[cp.ID]
	rec.Payload[len(rec.Payload)-2] ^= 0x01
	store.records[cp.ID] = rec

	_, err = m.Open(ctx, cp.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrChecksumMismatch)
}

func TestManager_TamperedSQLiteRow(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	m := newManager(t, store)
	cp, err := m.Create(ctx, sampleSnapshot(), 1, true, 3)
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, `UPDATE checkpoints SET tag = ? WHERE id = ?`, "00", cp.ID)
	require.NoError(t, err)

	_, err = m.Open(ctx, cp.ID)
	assert.ErrorIs(t, err, model.ErrChecksumMismatch)
}

func TestManager_WrongKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := newManager(t, store)
	cp, err := a.Create(ctx, sampleSnapshot(), 1, true, 0)
	require.NoError(t, err)

	b := newManager(t, store)
	_, err = b.Open(ctx, cp.ID)
	assert.ErrorIs(t, err, model.ErrChecksumMismatch)
}

func TestNewManager_KeyLength(t *testing.T) {
	_, err := NewManager(NewMemoryStore(), nil, nil, nil)
	require.Error(t, err)
	_, err = NewManager(NewMemoryStore(), make([]byte, 65), nil, nil)
	require.Error(t, err)
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cp.db")
	key, err := NewKey()
	require.NoError(t, err)

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	m1, err := NewManager(s1, key, nil, nil)
	require.NoError(t, err)
	cp, err := m1.Create(ctx, sampleSnapshot(), 1, true, 3)
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	m2, err := NewManager(s2, key, nil, nil)
	require.NoError(t, err)
	defer func() { _ = m2.Close() }()

	got, err := m2.Open(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.Graph, got.Graph)
}
