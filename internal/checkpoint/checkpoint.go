// Package checkpoint captures and restores full graph snapshots.
//
// A checkpoint is serialized to JSON and sealed with a keyed BLAKE2b tag. The
// sealed record is what a Store persists; the tag is verified in constant
// time before any restore touches the graph.
package checkpoint

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kairo/internal/graph"
	"github.com/ashita-ai/kairo/internal/integrity"
	"github.com/ashita-ai/kairo/internal/model"
)

// KeySize is the length of generated tag keys.
const KeySize = 32

// Checkpoint is a restorable copy of engine state.
type Checkpoint struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	Baseline    float64        `json:"baseline"`
	HasBaseline bool           `json:"has_baseline"`
	LedgerSeq   int64          `json:"ledger_seq"`
	Graph       graph.Snapshot `json:"graph"`
}

// Record is a sealed checkpoint as persisted.
type Record struct {
	ID        string
	CreatedAt time.Time
	Payload   []byte
	Tag       string
}

// Store persists sealed records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	// Load returns a not_found error for unknown ids.
	Load(ctx context.Context, id string) (Record, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// NewKey returns a random tag key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("checkpoint: generate key: %w", err)
	}
	return key, nil
}

// Manager seals, persists, and opens checkpoints.
type Manager struct {
	store Store
	key   []byte
	clock func() time.Time
	newID func() string
}

// NewManager creates a manager. key must be 1..64 bytes. Nil clock and idFunc
// fall back to wall time and random UUIDs.
func NewManager(store Store, key []byte, clock func() time.Time, idFunc func() string) (*Manager, error) {
	if len(key) == 0 || len(key) > 64 {
		return nil, fmt.Errorf("checkpoint: key must be 1..64 bytes, got %d", len(key))
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if idFunc == nil {
		idFunc = func() string { return uuid.NewString() }
	}
	return &Manager{store: store, key: append([]byte(nil), key...), clock: clock, newID: idFunc}, nil
}

// Create seals and persists a checkpoint of the given state.
func (m *Manager) Create(ctx context.Context, snap graph.Snapshot, baseline float64, hasBaseline bool, ledgerSeq int64) (Checkpoint, error) {
	cp := Checkpoint{
		ID:          m.newID(),
		CreatedAt:   m.clock().UTC(),
		Baseline:    baseline,
		HasBaseline: hasBaseline,
		LedgerSeq:   ledgerSeq,
		Graph:       snap,
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: marshal: %w", err)
	}
	tag, err := integrity.Tag(m.key, payload)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: tag: %w", err)
	}
	if err := m.store.Save(ctx, Record{ID: cp.ID, CreatedAt: cp.CreatedAt, Payload: payload, Tag: tag}); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: save %s: %w", cp.ID, err)
	}
	return cp, nil
}

// Open loads a checkpoint and verifies its tag. A mismatch returns
// checksum_mismatch and nothing is decoded.
func (m *Manager) Open(ctx context.Context, id string) (Checkpoint, error) {
	rec, err := m.store.Load(ctx, id)
	if err != nil {
		return Checkpoint{}, err
	}
	want, err := integrity.Tag(m.key, rec.Payload)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: tag: %w", err)
	}
	if !integrity.Equal(want, rec.Tag) {
		return Checkpoint{}, model.NewError(model.KindChecksumMismatch, "checkpoint integrity check failed")
	}
	var cp Checkpoint
	if err := json.Unmarshal(rec.Payload, &cp); err != nil {
		return Checkpoint{}, model.NewError(model.KindChecksumMismatch, "checkpoint payload unreadable")
	}
	if cp.ID != rec.ID {
		return Checkpoint{}, model.NewError(model.KindChecksumMismatch, "checkpoint id mismatch")
	}
	return cp, nil
}

// Count returns the number of stored checkpoints.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
