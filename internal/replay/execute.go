package replay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kairo/internal/engine"
	"github.com/ashita-ai/kairo/internal/model"
)

// MinEnvironments is the number of independent executions a certified
// episode needs.
const MinEnvironments = 3

// Epoch is where every replay ledger clock starts.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// logicalClock yields Epoch + n milliseconds on its n-th reading.
type logicalClock struct {
	mu sync.Mutex
	n  int64
}

func (c *logicalClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.n) * time.Millisecond)
	c.n++
	return t
}

// ExecuteAndHash runs steps on a fresh engine whose ledger uses a logical
// clock, and returns the ledger fingerprint. Rejected steps are part of the
// deterministic outcome; only internal invariant failures abort the run.
func ExecuteAndHash(steps []model.ScenarioStep) (model.ExecutionResult, error) {
	clock := &logicalClock{}
	cfg := engine.DefaultConfig()
	cfg.LedgerClock = clock.now
	cfg.Logger = slog.New(slog.DiscardHandler)

	e, err := engine.New(cfg)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	defer func() { _ = e.Close() }()

	var res model.ExecutionResult
	for _, s := range steps {
		if err := apply(e, s); err != nil {
			if !rejected(err) {
				return model.ExecutionResult{}, err
			}
			res.Rejected++
			continue
		}
		res.Applied++
	}

	sum := e.LedgerSummary()
	res.GlobalHash = sum.GlobalHash
	res.Entries = sum.TotalEntries
	res.Quarantined = e.Quarantine().Quarantined
	return res, nil
}

func apply(e *engine.Engine, s model.ScenarioStep) error {
	var err error
	switch s.Kind {
	case model.StepCreate:
		_, err = e.CreateNode(s.Belief, s.Energy)
	case model.StepMutate:
		_, err = e.MutateNode(s.NodeID, s.Delta)
	case model.StepBind:
		_, err = e.BindEdge(s.Src, s.Dst, s.Weight)
	case model.StepPropagate:
		_, err = e.Propagate(s.EdgeID)
	case model.StepStatus:
		_ = e.Status()
	default:
		err = model.Validationf("unknown step kind %q", s.Kind)
	}
	return err
}

func rejected(err error) bool {
	return errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrEsvRejected) ||
		errors.Is(err, model.ErrQuarantined) ||
		errors.Is(err, model.ErrValidation)
}

// Variance is 0 when every hash matches and 1 otherwise.
func Variance(records []model.EnvironmentRecord) float64 {
	for i := 1; i < len(records); i++ {
		if records[i].GlobalHash != records[0].GlobalHash {
			return 1
		}
	}
	return 0
}

// ValidateEpisode certifies a cycles-step episode of seed from
// per-environment hashes. Fewer than MinEnvironments results is a validation
// error. clock and newID stamp the episode and default to wall time and
// random UUIDs when nil.
func ValidateEpisode(seed uint64, cycles int, results map[string]string, clock func() time.Time, newID func() string) (model.ReplayEpisode, error) {
	if len(results) < MinEnvironments {
		return model.ReplayEpisode{}, model.Validationf("need at least %d environments, got %d", MinEnvironments, len(results))
	}
	labels := make([]string, 0, len(results))
	for label := range results {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	p := NewProtocol(clock, newID)
	ep := p.CreateEpisode(seed, cycles)
	for _, label := range labels {
		if err := p.Record(ep.EpisodeID, label, results[label]); err != nil {
			return model.ReplayEpisode{}, err
		}
	}
	return p.Validate(ep.EpisodeID)
}

// RunEpisode executes the seeded scenario once per environment label, each
// on its own engine and goroutine, and validates the results.
func RunEpisode(ctx context.Context, seed uint64, cycles int, envs []string) (model.ReplayEpisode, error) {
	if len(envs) < MinEnvironments {
		return model.ReplayEpisode{}, model.Validationf("need at least %d environments, got %d", MinEnvironments, len(envs))
	}
	seen := make(map[string]bool, len(envs))
	for _, env := range envs {
		if env == "" || seen[env] {
			return model.ReplayEpisode{}, model.Validationf("environment labels must be unique and non-empty")
		}
		seen[env] = true
	}

	hashes := make([]string, len(envs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range envs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := ExecuteAndHash(GenerateScenario(seed, cycles))
			if err != nil {
				return err
			}
			hashes[i] = res.GlobalHash
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.ReplayEpisode{}, err
	}

	results := make(map[string]string, len(envs))
	for i, env := range envs {
		results[env] = hashes[i]
	}
	return ValidateEpisode(seed, cycles, results, nil, nil)
}
