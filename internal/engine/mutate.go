package engine

import (
	"time"

	"github.com/ashita-ai/kairo/internal/graph"
	"github.com/ashita-ai/kairo/internal/model"
)

// CreateNode admits a node. The first node fixes the energy baseline; later
// nodes draw their share from that pool.
func (e *Engine) CreateNode(belief, energy float64) (model.Node, error) {
	if !finite(belief) {
		return model.Node{}, model.Validationf("belief must be a finite number")
	}
	if !finite(energy) || energy < 0 || energy > e.cfg.MaxEnergy {
		return model.Node{}, model.Validationf("energy must be within [0, %g]", e.cfg.MaxEnergy)
	}

	e.lock()
	defer e.unlock()

	if err := e.gate.Check(); err != nil {
		return model.Node{}, err
	}

	genesis := !e.hasBaseline
	share := graph.ShareFor(energy, e.baseline, genesis)
	if !e.cfg.Scorer.Valid(graph.Clamp01(belief), share) {
		return model.Node{}, model.NewError(model.KindEsvRejected, "node fails the validity precondition")
	}

	n := e.store.CreateNode(belief, energy, e.baseline, genesis)
	if genesis {
		e.baseline = energy
		e.hasBaseline = true
	}

	op := model.Operation{
		Kind:     model.OpNodeCreate,
		Subjects: []string{n.ID},
		Params:   []model.Param{{Name: "belief", Value: n.Belief}, {Name: "energy", Value: energy}},
	}
	if err := e.settle(op); err != nil {
		return model.Node{}, err
	}
	n, _ = e.store.Node(n.ID)
	return n, nil
}

// MutateNode adds delta to a node's belief. The energy cost of the applied
// change flows out along the node's outgoing connections.
func (e *Engine) MutateNode(id string, delta float64) (model.Node, error) {
	if id == "" {
		return model.Node{}, model.Validationf("node id is required")
	}
	if !finite(delta) || delta < -MaxDelta || delta > MaxDelta {
		return model.Node{}, model.Validationf("delta must be within [-%g, %g]", MaxDelta, MaxDelta)
	}

	e.lock()
	defer e.unlock()

	if err := e.gate.Check(); err != nil {
		return model.Node{}, err
	}
	plan, ok := e.store.PlanMutate(id, delta, e.cfg.MutationCost)
	if !ok {
		return model.Node{}, model.NotFoundf("node %s not found", id)
	}
	if !e.cfg.Scorer.Valid(plan.Belief, plan.Energy) {
		return model.Node{}, model.NewError(model.KindEsvRejected, "mutation fails the validity precondition")
	}

	e.store.ApplyMutate(plan)
	op := model.Operation{
		Kind:     model.OpNodeMutate,
		Subjects: []string{id},
		Params:   []model.Param{{Name: "delta", Value: delta}},
	}
	if err := e.settle(op); err != nil {
		return model.Node{}, err
	}
	n, _ := e.store.Node(id)
	return n, nil
}

// BindEdge creates a directed connection. Self-loops and cycles are allowed.
func (e *Engine) BindEdge(src, dst string, weight float64) (model.Edge, error) {
	edges, err := e.BindEdges([]model.EdgeSpec{{Src: src, Dst: dst, Weight: weight}})
	if err != nil {
		return model.Edge{}, err
	}
	return edges[0], nil
}

// BindEdges binds a batch under one lock. Every spec is checked before any
// edge is created, so the batch is all-or-nothing. Each edge gets its own
// ledger entry.
func (e *Engine) BindEdges(specs []model.EdgeSpec) ([]model.Edge, error) {
	if len(specs) == 0 {
		return nil, model.Validationf("at least one edge is required")
	}
	for i, s := range specs {
		if s.Src == "" || s.Dst == "" {
			return nil, model.Validationf("edge %d: src and dst are required", i)
		}
		if !finite(s.Weight) || s.Weight < -e.cfg.MaxWeight || s.Weight > e.cfg.MaxWeight {
			return nil, model.Validationf("edge %d: weight must be within [-%g, %g]", i, e.cfg.MaxWeight, e.cfg.MaxWeight)
		}
	}

	start := time.Now()
	e.lock()
	defer e.unlock()

	if err := e.gate.Check(); err != nil {
		return nil, err
	}
	for _, s := range specs {
		if _, ok := e.store.Node(s.Src); !ok {
			return nil, model.NotFoundf("node %s not found", s.Src)
		}
		if _, ok := e.store.Node(s.Dst); !ok {
			return nil, model.NotFoundf("node %s not found", s.Dst)
		}
	}

	out := make([]model.Edge, 0, len(specs))
	for _, s := range specs {
		edge, _ := e.store.BindEdge(s.Src, s.Dst, s.Weight)
		op := model.Operation{
			Kind:     model.OpEdgeBind,
			Subjects: []string{edge.ID, edge.Src, edge.Dst},
			Params:   []model.Param{{Name: "weight", Value: edge.Weight}},
		}
		if err := e.settle(op); err != nil {
			return nil, err
		}
		out = append(out, edge)
	}

	if elapsed := time.Since(start); elapsed > BatchStallThreshold {
		e.logger.Warn("engine: edge batch stalled", "edges", len(specs), "elapsed", elapsed)
	}
	return out, nil
}

// Propagate moves the destination's belief toward the source's along one
// connection. Work is bounded to the two endpoints.
func (e *Engine) Propagate(edgeID string) (model.PropagateResult, error) {
	if edgeID == "" {
		return model.PropagateResult{}, model.Validationf("edge id is required")
	}

	e.lock()
	defer e.unlock()

	if err := e.gate.Check(); err != nil {
		return model.PropagateResult{}, err
	}
	res, ok := e.store.Propagate(edgeID, e.cfg.MutationCost)
	if !ok {
		return model.PropagateResult{}, model.NotFoundf("edge %s not found", edgeID)
	}

	kind := model.OpEdgePropagate
	if res.SelfLoop {
		kind = model.OpEdgeSelfLoop
	}
	op := model.Operation{Kind: kind, Subjects: []string{edgeID, res.Src.ID, res.Dst.ID}}
	if err := e.settle(op); err != nil {
		return model.PropagateResult{}, err
	}

	// Correction may have moved energies; report the settled endpoints.
	res.Src, _ = e.store.Node(res.Src.ID)
	res.Dst, _ = e.store.Node(res.Dst.ID)
	return res, nil
}
