package model

import "time"

// ScenarioKind is the operation type of one scenario step.
type ScenarioKind string

const (
	StepCreate    ScenarioKind = "create"
	StepMutate    ScenarioKind = "mutate"
	StepBind      ScenarioKind = "bind"
	StepPropagate ScenarioKind = "propagate"
	StepStatus    ScenarioKind = "status"
)

// ScenarioStep is one deterministic replay operation.
type ScenarioStep struct {
	Kind   ScenarioKind `json:"kind"`
	Belief float64      `json:"belief,omitempty"`
	Energy float64      `json:"energy,omitempty"`
	NodeID string       `json:"node_id,omitempty"`
	Delta  float64      `json:"delta,omitempty"`
	Src    string       `json:"src,omitempty"`
	Dst    string       `json:"dst,omitempty"`
	Weight float64      `json:"weight,omitempty"`
	EdgeID string       `json:"edge_id,omitempty"`
}

// ExecutionResult is the outcome of running a scenario on a fresh engine.
type ExecutionResult struct {
	GlobalHash  string `json:"global_hash"`
	Applied     int    `json:"applied"`
	Rejected    int    `json:"rejected"`
	Quarantined bool   `json:"quarantined"`
	Entries     int64  `json:"entries"`
}

// EnvironmentRecord is one execution environment's contribution to an episode.
type EnvironmentRecord struct {
	Label      string    `json:"label"`
	GlobalHash string    `json:"global_hash"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ReplayEpisode is a cross-environment determinism check.
type ReplayEpisode struct {
	EpisodeID    string              `json:"episode_id"`
	Seed         uint64              `json:"seed"`
	Cycles       int                 `json:"cycles"`
	Environments []EnvironmentRecord `json:"environments"`
	Variance     float64             `json:"variance"`
	Certified    bool                `json:"certified"`
	ValidatedAt  *time.Time          `json:"validated_at,omitempty"`
}
