// Package replay proves determinism: it generates seeded scenarios, runs
// them on fresh engines, and compares the resulting ledger fingerprints
// across independent executions.
package replay

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/ashita-ai/kairo/internal/model"
)

// DefaultCycles is the standard scenario length.
const DefaultCycles = 250

// LCG constants. The state wraps at 64 bits.
const (
	lcgMul = 1103515245
	lcgInc = 12345
)

// GenerateScenario derives a scenario from seed. The same seed always yields
// the same steps.
func GenerateScenario(seed uint64, cycles int) []model.ScenarioStep {
	if cycles < 0 {
		cycles = 0
	}
	steps := make([]model.ScenarioStep, 0, cycles)
	rng := seed
	for i := 0; i < cycles; i++ {
		steps = append(steps, stepFor(rng))
		rng = rng*lcgMul + lcgInc
	}
	return steps
}

func stepFor(rng uint64) model.ScenarioStep {
	switch rng % 5 {
	case 0:
		return model.ScenarioStep{
			Kind:   model.StepCreate,
			Belief: float64(rng%100) / 100,
			Energy: float64(rng % 10),
		}
	case 1:
		return model.ScenarioStep{
			Kind:   model.StepMutate,
			NodeID: fmt.Sprintf("node_%d", rng%10),
			Delta:  (float64(rng%20) - 10) / 100,
		}
	case 2:
		return model.ScenarioStep{
			Kind:   model.StepBind,
			Src:    fmt.Sprintf("node_%d", rng%10),
			Dst:    fmt.Sprintf("node_%d", (rng/10)%10),
			Weight: float64(rng%100) / 100,
		}
	case 3:
		return model.ScenarioStep{
			Kind:   model.StepPropagate,
			EdgeID: fmt.Sprintf("edge_%d", rng%5),
		}
	default:
		return model.ScenarioStep{Kind: model.StepStatus}
	}
}

// ParseSeed accepts a decimal seed or hashes any other label with FNV-1a.
func ParseSeed(s string) uint64 {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
