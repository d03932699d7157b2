package engine

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ashita-ai/kairo/internal/integrity"
	"github.com/ashita-ai/kairo/internal/model"
)

// QueryNode returns a node. Available while quarantined.
func (e *Engine) QueryNode(id string) (model.Node, bool) {
	e.lock()
	defer e.unlock()
	return e.store.Node(id)
}

// Nodes returns every node in creation order.
func (e *Engine) Nodes() []model.Node {
	e.lock()
	defer e.unlock()
	return e.store.Nodes()
}

// Edges returns every edge in bind order.
func (e *Engine) Edges() []model.Edge {
	e.lock()
	defer e.unlock()
	return e.store.Edges()
}

// Status returns the governor's aggregate read.
func (e *Engine) Status() model.GovernorStatus {
	e.lock()
	defer e.unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() model.GovernorStatus {
	st := e.cfg.Governor.Evaluate(e.store, e.baseline, e.hasBaseline).Status
	st.Quarantined = e.gate.Quarantined()
	return st
}

// Audit reports whether a node passes the validity floor.
func (e *Engine) Audit(id string) (model.AuditResult, error) {
	if id == "" {
		return model.AuditResult{}, model.Validationf("node id is required")
	}
	e.lock()
	defer e.unlock()
	n, ok := e.store.Node(id)
	if !ok {
		return model.AuditResult{}, model.NotFoundf("node %s not found", id)
	}
	at := e.cfg.Clock().UTC()
	e.lastAudit = &at
	return model.AuditResult{NodeID: n.ID, Valid: n.Valid}, nil
}

// Quarantine returns the gate state.
func (e *Engine) Quarantine() model.QuarantineState {
	return e.gate.State()
}

// LastEntry returns the newest ledger entry, or a placeholder with seq -1
// and the zero hash on an empty ledger.
func (e *Engine) LastEntry() model.LineageEntry {
	e.lock()
	defer e.unlock()
	if last, ok := e.ledger.Last(); ok {
		return last
	}
	return model.LineageEntry{Seq: -1, PrevHash: integrity.ZeroHash, Hash: integrity.ZeroHash}
}

// Entries pages through the ledger. limit <= 0 returns everything from from.
func (e *Engine) Entries(from int64, limit int) []model.LineageEntry {
	e.lock()
	defer e.unlock()
	return e.ledger.Entries(from, limit)
}

// GlobalHash returns the ledger fingerprint.
func (e *Engine) GlobalHash() string {
	e.lock()
	defer e.unlock()
	return e.ledger.GlobalHash()
}

// LedgerSummary returns shard metadata.
func (e *Engine) LedgerSummary() model.LedgerSummary {
	e.lock()
	defer e.unlock()
	return e.ledger.Summary()
}

// Shards returns per-shard metadata, finalized shards first.
func (e *Engine) Shards() []model.ShardInfo {
	e.lock()
	defer e.unlock()
	return e.ledger.Shards()
}

// VerifyLedger recomputes every link and shard hash. A failure trips
// quarantine as ledger corruption.
func (e *Engine) VerifyLedger() error {
	e.lock()
	defer e.unlock()
	if err := e.ledger.Verify(); err != nil {
		e.trip(model.ReasonLedgerCorrupted, 0, 0)
		return err
	}
	return nil
}

// ExportLineage writes the ledger export. With ExportDir set, relative
// paths resolve inside it and paths escaping it are rejected. I/O failures
// are reported without the path.
func (e *Engine) ExportLineage(path string) (model.ExportReceipt, error) {
	resolved, err := e.resolveExportPath(path)
	if err != nil {
		return model.ExportReceipt{}, err
	}

	e.lock()
	defer e.unlock()
	receipt, err := e.ledger.Export(resolved, e.cfg.Clock())
	if err != nil {
		e.logger.Warn("engine: lineage export failed", "error", err)
		return model.ExportReceipt{}, model.NewError(model.KindPersistence, "lineage export could not be written")
	}
	e.logger.Info("engine: lineage exported", "entries", receipt.Entries)
	return receipt, nil
}

func (e *Engine) resolveExportPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", model.Validationf("export path is required")
	}
	dir := e.cfg.ExportDir
	if dir == "" {
		return filepath.Clean(path), nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == "." {
		return "", model.Validationf("export path must be a file inside the export directory")
	}
	return filepath.Clean(path), nil
}

// Corrections returns the correction log and its summary.
func (e *Engine) Corrections() ([]model.CorrectionAttempt, model.CorrectionSummary) {
	e.lock()
	defer e.unlock()
	return e.corrections.Attempts(), e.corrections.Summary()
}

// CorrectionsJSON renders the correction log.
func (e *Engine) CorrectionsJSON() ([]byte, error) {
	e.lock()
	defer e.unlock()
	return e.corrections.ExportJSON()
}

// Health is the combined governance read.
func (e *Engine) Health(ctx context.Context) model.Health {
	e.lock()
	status := e.statusLocked()
	h := model.Health{
		Status:            status,
		Quarantine:        e.gate.State(),
		Ledger:            e.ledger.Summary(),
		Corrections:       e.corrections.Summary(),
		Thresholds:        e.Thresholds(),
		DriftWithinBounds: status.EnergyDrift <= e.cfg.Governor.DriftEpsilon,
	}
	if e.lastAudit != nil {
		at := *e.lastAudit
		h.LastAudit = &at
	}
	e.unlock()

	n, err := e.checkpoints.Count(ctx)
	if err != nil {
		e.logger.Warn("engine: count checkpoints", "error", err)
	}
	h.Checkpoints = n
	return h
}
