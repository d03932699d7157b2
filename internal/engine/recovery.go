package engine

import (
	"context"
	"errors"

	"github.com/ashita-ai/kairo/internal/checkpoint"
	"github.com/ashita-ai/kairo/internal/graph"
	"github.com/ashita-ai/kairo/internal/model"
)

// CreateCheckpoint seals and persists the current state. Rejected while
// quarantined.
func (e *Engine) CreateCheckpoint(ctx context.Context) (checkpoint.Checkpoint, error) {
	e.lock()
	defer e.unlock()

	if err := e.gate.Check(); err != nil {
		return checkpoint.Checkpoint{}, err
	}
	cp, err := e.checkpoints.Create(ctx, e.store.Snapshot(), e.baseline, e.hasBaseline, e.ledger.Len())
	if err != nil {
		e.logger.Error("engine: checkpoint persist failed", "error", err)
		return checkpoint.Checkpoint{}, model.NewError(model.KindPersistence, "checkpoint could not be persisted")
	}
	e.logger.Info("engine: checkpoint created", "checkpoint_id", cp.ID, "nodes", len(cp.Graph.Nodes))
	return cp, nil
}

// Restore replaces the graph with a checkpoint. It is the only way out of
// quarantine. The tag is verified before anything is touched; on mismatch
// the engine stays (or becomes) quarantined and the restore is not retried.
// The ledger is never rewound: a restore is itself recorded, as
// quarantine.cleared when it ends a quarantine and checkpoint.restore
// otherwise.
func (e *Engine) Restore(ctx context.Context, checkpointID string) error {
	if checkpointID == "" {
		return model.Validationf("checkpoint id is required")
	}

	e.lock()
	defer e.unlock()

	cp, err := e.checkpoints.Open(ctx, checkpointID)
	if err != nil {
		if errors.Is(err, model.ErrChecksumMismatch) {
			e.logger.Error("engine: checkpoint failed verification", "checkpoint_id", checkpointID)
			e.trip(model.ReasonRestoreFailure, 0, 0)
			return err
		}
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		e.logger.Error("engine: checkpoint load failed", "checkpoint_id", checkpointID, "error", err)
		return model.NewError(model.KindPersistence, "checkpoint could not be loaded")
	}

	next := graph.NewStore(e.cfg.Scorer)
	if err := next.Restore(cp.Graph); err != nil {
		e.logger.Error("engine: checkpoint snapshot inconsistent", "checkpoint_id", checkpointID, "error", err)
		e.trip(model.ReasonRestoreFailure, 0, 0)
		return model.NewError(model.KindInternalInvariant, "checkpoint snapshot is inconsistent")
	}

	e.store = next
	e.baseline = cp.Baseline
	e.hasBaseline = cp.HasBaseline

	wasQuarantined := e.gate.Quarantined()
	kind := model.OpCheckpointRestore
	if wasQuarantined {
		kind = model.OpQuarantineCleared
	}
	op := model.Operation{
		Kind:     kind,
		Subjects: []string{cp.ID},
		Params:   []model.Param{{Name: "ledger_seq", Value: float64(cp.LedgerSeq)}},
	}
	if _, err := e.ledger.Append(op); err != nil {
		e.trip(model.ReasonLedgerCorrupted, 0, 0)
		e.logger.Error("engine: ledger append failed", "op", string(kind), "error", err)
		return err
	}

	if wasQuarantined {
		e.gate.Clear()
		e.logger.Warn("engine: quarantine cleared", "checkpoint_id", cp.ID)
		if hook := e.cfg.OnClear; hook != nil {
			id := cp.ID
			e.pending = append(e.pending, func() { hook(id) })
		}
	} else {
		e.logger.Info("engine: checkpoint restored", "checkpoint_id", cp.ID)
	}
	return nil
}
