// Package engine is the governed graph runtime.
//
// Every mutating call runs the same pipeline under one exclusive lock:
// validate arguments, check the quarantine gate, check the validity
// precondition, commit to the graph, re-evaluate the governor (which may run
// a correction and trip quarantine), then append to the lineage ledger.
// A governor breach never undoes the mutation that caused it; the mutation
// stays committed and recorded, and quarantine blocks everything after it.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kairo/internal/checkpoint"
	"github.com/ashita-ai/kairo/internal/governor"
	"github.com/ashita-ai/kairo/internal/graph"
	"github.com/ashita-ai/kairo/internal/lineage"
	"github.com/ashita-ai/kairo/internal/model"
	"github.com/ashita-ai/kairo/internal/quarantine"
)

// Defaults for input bounds and costs.
const (
	DefaultMutationCost = 0.05
	DefaultMaxEnergy    = 1e4
	DefaultMaxWeight    = 1e6
	MaxDelta            = 1.0
	BatchStallThreshold = 500 * time.Millisecond
)

// Config holds engine thresholds and collaborators. Start from DefaultConfig.
type Config struct {
	Governor     governor.Governor
	Scorer       graph.Scorer
	ShardSize    int
	MutationCost float64
	MaxEnergy    float64
	MaxWeight    float64

	// ExportDir confines lineage exports when set.
	ExportDir string

	// Clock stamps quarantine trips, corrections, and checkpoints.
	// LedgerClock stamps ledger entries and defaults to Clock.
	Clock       func() time.Time
	LedgerClock func() time.Time
	NewID       func() string

	Checkpoints   checkpoint.Store
	CheckpointKey []byte

	Logger *slog.Logger

	OnQuarantine func(model.QuarantineState)
	OnClear      func(checkpointID string)

	RegisterMetrics bool
}

// DefaultConfig returns the production thresholds with wall-clock time and
// in-memory checkpoints.
func DefaultConfig() Config {
	return Config{
		Governor:     governor.New(),
		Scorer:       graph.DefaultScorer(),
		ShardSize:    lineage.DefaultShardSize,
		MutationCost: DefaultMutationCost,
		MaxEnergy:    DefaultMaxEnergy,
		MaxWeight:    DefaultMaxWeight,
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	cfg         Config
	logger      *slog.Logger
	store       *graph.Store
	ledger      *lineage.Ledger
	gate        *quarantine.Controller
	corrections *governor.CorrectionLogger
	checkpoints *checkpoint.Manager

	baseline    float64
	hasBaseline bool
	cycle       uint64
	lastAudit   *time.Time

	// hooks queued under the lock, run after it is released
	pending []func()
}

// New creates an engine with an empty graph and ledger.
func New(cfg Config) (*Engine, error) {
	if cfg.ShardSize <= 0 {
		cfg.ShardSize = lineage.DefaultShardSize
	}
	if cfg.MaxEnergy <= 0 {
		cfg.MaxEnergy = DefaultMaxEnergy
	}
	if cfg.MaxWeight <= 0 {
		cfg.MaxWeight = DefaultMaxWeight
	}
	if cfg.MutationCost < 0 || math.IsNaN(cfg.MutationCost) {
		return nil, fmt.Errorf("engine: mutation cost must be >= 0, got %v", cfg.MutationCost)
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.LedgerClock == nil {
		cfg.LedgerClock = cfg.Clock
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = checkpoint.NewMemoryStore()
	}
	if len(cfg.CheckpointKey) == 0 {
		key, err := checkpoint.NewKey()
		if err != nil {
			return nil, err
		}
		cfg.CheckpointKey = key
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mgr, err := checkpoint.NewManager(cfg.Checkpoints, cfg.CheckpointKey, cfg.Clock, cfg.NewID)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		store:       graph.NewStore(cfg.Scorer),
		ledger:      lineage.New(cfg.ShardSize, cfg.LedgerClock),
		gate:        quarantine.New(cfg.Clock, cfg.NewID),
		corrections: governor.NewCorrectionLogger(cfg.NewID),
		checkpoints: mgr,
	}
	if cfg.RegisterMetrics {
		e.registerMetrics()
	}
	return e, nil
}

// Close releases the checkpoint store.
func (e *Engine) Close() error {
	return e.checkpoints.Close()
}

func (e *Engine) lock() { e.mu.Lock() }

// unlock releases the lock and then runs queued hooks, so a hook may call
// back into the engine.
func (e *Engine) unlock() {
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// Thresholds returns the governed limits.
func (e *Engine) Thresholds() model.Thresholds {
	return model.Thresholds{
		DriftEpsilon:   e.cfg.Governor.DriftEpsilon,
		CoherenceFloor: e.cfg.Governor.CoherenceFloor,
		ValidityFloor:  e.cfg.Scorer.Floor,
		ShardSize:      e.cfg.ShardSize,
		CorrectionK:    e.cfg.Governor.CorrectionK,
	}
}

// settle runs the governor after a commit and records op in the ledger.
// Must be called with e.mu held.
func (e *Engine) settle(op model.Operation) error {
	e.cycle++
	v := e.cfg.Governor.Evaluate(e.store, e.baseline, e.hasBaseline)
	if v.Breach {
		if v.Reason == model.ReasonDriftExceeded {
			e.correct()
		}
		e.trip(v.Reason, v.Observed, v.Threshold)
	}
	if _, err := e.ledger.Append(op); err != nil {
		e.trip(model.ReasonLedgerCorrupted, 0, 0)
		e.logger.Error("engine: ledger append failed", "op", string(op.Kind), "error", err)
		return err
	}
	return nil
}

// correct runs one elastic correction pass and logs it.
func (e *Engine) correct() {
	pre, attempted, post := e.cfg.Governor.Correct(e.store, e.baseline)
	outcome := e.cfg.Governor.Classify(pre, post)
	a := e.corrections.Record(e.cfg.Clock(), e.cycle, pre, attempted, post, outcome)
	e.logger.Warn("engine: drift correction",
		"attempt_id", a.AttemptID,
		"cycle", a.Cycle,
		"pre", pre,
		"post", post,
		"outcome", string(outcome),
	)
}

// trip engages quarantine and queues the hook. Must be called with e.mu held.
func (e *Engine) trip(reason model.QuarantineReason, observed, threshold float64) {
	if e.gate.Quarantined() {
		return
	}
	id := e.gate.Trip(reason, observed, threshold)
	e.logger.Error("engine: quarantine engaged",
		"reason", string(reason),
		"code", reason.Code(),
		"observed", observed,
		"threshold", threshold,
		"fault_trace_id", id,
	)
	if hook := e.cfg.OnQuarantine; hook != nil {
		st := e.gate.State()
		e.pending = append(e.pending, func() { hook(st) })
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
