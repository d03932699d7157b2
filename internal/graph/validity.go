package graph

// Scorer computes the per-node validity score: a weighted combination of a
// semantic term (the belief itself) and an epistemic-confidence term (whether
// the node is grounded by any energy).
type Scorer struct {
	SemanticWeight   float64
	ConfidenceWeight float64
	Floor            float64
}

// DefaultScorer returns weights 0.6/0.4 with a 0.5 floor.
func DefaultScorer() Scorer {
	return Scorer{SemanticWeight: 0.6, ConfidenceWeight: 0.4, Floor: 0.5}
}

// Score returns the validity score for a node state.
func (s Scorer) Score(belief, energy float64) float64 {
	grounded := 0.0
	if energy > 0 {
		grounded = 1
	}
	return s.SemanticWeight*belief + s.ConfidenceWeight*grounded
}

// Valid reports whether the score meets the floor.
func (s Scorer) Valid(belief, energy float64) bool {
	return s.Score(belief, energy) >= s.Floor
}
