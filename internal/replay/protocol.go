package replay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kairo/internal/model"
)

// Protocol tracks episodes whose environment results arrive separately, for
// example from runs on different hosts.
type Protocol struct {
	mu       sync.Mutex
	episodes []*model.ReplayEpisode
	byID     map[string]*model.ReplayEpisode
	clock    func() time.Time
	newID    func() string
}

// NewProtocol creates an empty registry. Nil arguments fall back to wall
// time and random UUIDs.
func NewProtocol(clock func() time.Time, idFunc func() string) *Protocol {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if idFunc == nil {
		idFunc = func() string { return uuid.NewString() }
	}
	return &Protocol{byID: make(map[string]*model.ReplayEpisode), clock: clock, newID: idFunc}
}

// CreateEpisode registers a new, unvalidated episode.
func (p *Protocol) CreateEpisode(seed uint64, cycles int) model.ReplayEpisode {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep := &model.ReplayEpisode{EpisodeID: p.newID(), Seed: seed, Cycles: cycles}
	p.episodes = append(p.episodes, ep)
	p.byID[ep.EpisodeID] = ep
	return cloneEpisode(ep)
}

// Record adds one environment's hash. A label may be recorded once, and a
// validated episode is closed.
func (p *Protocol) Record(episodeID, label, globalHash string) error {
	if label == "" || globalHash == "" {
		return model.Validationf("label and global hash are required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ep, ok := p.byID[episodeID]
	if !ok {
		return model.NotFoundf("episode %s not found", episodeID)
	}
	if ep.ValidatedAt != nil {
		return model.Validationf("episode %s is already validated", episodeID)
	}
	for _, r := range ep.Environments {
		if r.Label == label {
			return model.Validationf("environment %s already recorded", label)
		}
	}
	ep.Environments = append(ep.Environments, model.EnvironmentRecord{
		Label:      label,
		GlobalHash: globalHash,
		RecordedAt: p.clock().UTC(),
	})
	return nil
}

// Validate computes variance and certification for an episode.
func (p *Protocol) Validate(episodeID string) (model.ReplayEpisode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep, ok := p.byID[episodeID]
	if !ok {
		return model.ReplayEpisode{}, model.NotFoundf("episode %s not found", episodeID)
	}
	if len(ep.Environments) < MinEnvironments {
		return model.ReplayEpisode{}, model.Validationf("need at least %d environments, got %d", MinEnvironments, len(ep.Environments))
	}
	ep.Variance = Variance(ep.Environments)
	ep.Certified = ep.Variance == 0
	at := p.clock().UTC()
	ep.ValidatedAt = &at
	return cloneEpisode(ep), nil
}

// Episode returns one episode.
func (p *Protocol) Episode(episodeID string) (model.ReplayEpisode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep, ok := p.byID[episodeID]
	if !ok {
		return model.ReplayEpisode{}, false
	}
	return cloneEpisode(ep), true
}

// Episodes returns every episode in creation order.
func (p *Protocol) Episodes() []model.ReplayEpisode {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ReplayEpisode, len(p.episodes))
	for i, ep := range p.episodes {
		out[i] = cloneEpisode(ep)
	}
	return out
}

// ExportAudit renders every episode as indented JSON.
func (p *Protocol) ExportAudit() ([]byte, error) {
	data, err := json.MarshalIndent(p.Episodes(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("replay: marshal audit: %w", err)
	}
	return data, nil
}

func cloneEpisode(ep *model.ReplayEpisode) model.ReplayEpisode {
	out := *ep
	out.Environments = append([]model.EnvironmentRecord(nil), ep.Environments...)
	if ep.ValidatedAt != nil {
		at := *ep.ValidatedAt
		out.ValidatedAt = &at
	}
	return out
}
