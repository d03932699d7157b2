// Package graph owns nodes, connections, and their numeric state.
//
// The store is a plain data structure: it enforces clamping and energy
// conservation rules but knows nothing about quarantine, the ledger, or
// locking. The engine drives it under a single exclusive lock.
package graph

import (
	"fmt"
	"math"

	"github.com/ashita-ai/kairo/internal/model"
)

type node struct {
	id     string
	belief float64
	energy float64
}

// Store holds the graph in creation order.
type Store struct {
	scorer Scorer

	nodes    map[string]*node
	order    []string
	edges    map[string]model.Edge
	edgeSeq  []string
	outgoing map[string][]string // node id -> outgoing edge ids, in bind order

	nextNode int
	nextEdge int

	// total is the energy sum conserving operations must preserve. It moves
	// only on create, dissipation, correction, and restore.
	total float64
}

// NewStore creates an empty store.
func NewStore(scorer Scorer) *Store {
	s := &Store{scorer: scorer}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.nodes = make(map[string]*node)
	s.order = nil
	s.edges = make(map[string]model.Edge)
	s.edgeSeq = nil
	s.outgoing = make(map[string][]string)
	s.nextNode = 0
	s.nextEdge = 0
	s.total = 0
}

// Scorer returns the validity scorer.
func (s *Store) Scorer() Scorer { return s.scorer }

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int { return len(s.order) }

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int { return len(s.edgeSeq) }

func (s *Store) view(n *node) model.Node {
	return model.Node{ID: n.id, Belief: n.belief, Energy: n.energy, Valid: s.scorer.Valid(n.belief, n.energy)}
}

// Node returns the node with id.
func (s *Store) Node(id string) (model.Node, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return model.Node{}, false
	}
	return s.view(n), true
}

// Nodes returns all nodes in creation order.
func (s *Store) Nodes() []model.Node {
	out := make([]model.Node, len(s.order))
	for i, id := range s.order {
		out[i] = s.view(s.nodes[id])
	}
	return out
}

// Edge returns the edge with id.
func (s *Store) Edge(id string) (model.Edge, bool) {
	e, ok := s.edges[id]
	return e, ok
}

// Edges returns all edges in bind order.
func (s *Store) Edges() []model.Edge {
	out := make([]model.Edge, len(s.edgeSeq))
	for i, id := range s.edgeSeq {
		out[i] = s.edges[id]
	}
	return out
}

// TotalEnergy sums node energies with compensated summation.
func (s *Store) TotalEnergy() float64 {
	var sum, comp float64
	for _, id := range s.order {
		sum, comp = neumaierAdd(sum, comp, s.nodes[id].energy)
	}
	return sum + comp
}

// Coherence is the fraction of valid nodes, or 1 with no nodes.
func (s *Store) Coherence() float64 {
	if len(s.order) == 0 {
		return 1
	}
	valid := 0
	for _, id := range s.order {
		n := s.nodes[id]
		if s.scorer.Valid(n.belief, n.energy) {
			valid++
		}
	}
	return float64(valid) / float64(len(s.order))
}

// ShareFor returns the energy a new node requesting e receives from a fixed
// pool. The genesis node takes its request whole.
func ShareFor(requested, pool float64, genesis bool) float64 {
	if genesis {
		return requested
	}
	if pool+requested == 0 {
		return 0
	}
	return pool * requested / (pool + requested)
}

// CreateNode admits a node. For genesis, the node takes energy whole. Later
// nodes draw their share from pool: every existing node is scaled by
// pool/(pool+energy) and any rounding residual is credited to the new node,
// keeping the total equal to pool.
func (s *Store) CreateNode(belief, energy, pool float64, genesis bool) model.Node {
	n := &node{id: fmt.Sprintf("node_%d", s.nextNode), belief: Clamp01(belief)}
	s.nextNode++

	if genesis || len(s.order) == 0 {
		n.energy = energy
	} else if pool+energy > 0 {
		scale := pool / (pool + energy)
		for _, id := range s.order {
			s.nodes[id].energy *= scale
		}
		n.energy = ShareFor(energy, pool, false)
		s.nodes[n.id] = n
		s.order = append(s.order, n.id)
		s.total = pool
		s.settleResidual(n)
		return s.view(n)
	}

	s.nodes[n.id] = n
	s.order = append(s.order, n.id)
	s.total = s.TotalEnergy()
	return s.view(n)
}

// settleResidual credits total - Σenergy to n so the sum stays within one
// ulp of total. Anchoring to total keeps rounding from accumulating across
// transfers.
func (s *Store) settleResidual(n *node) {
	residual := s.total - s.TotalEnergy()
	n.energy += residual
	if n.energy < 0 {
		n.energy = 0
	}
}

// MutationPlan is a proposed mutation, computed before anything is committed.
type MutationPlan struct {
	NodeID  string
	Belief  float64
	Energy  float64
	Applied float64  // belief change after clamping
	Cost    float64  // energy leaving the node
	Targets []string // recipients of Cost, one share per outgoing edge
}

// Dissipated reports whether the spend has nowhere to go.
func (p MutationPlan) Dissipated() bool { return p.Cost > 0 && len(p.Targets) == 0 }

// PlanMutate computes the effect of adding delta to a node's belief. The
// energy cost is costRate*|applied change|, capped at the node's energy.
func (s *Store) PlanMutate(id string, delta, costRate float64) (MutationPlan, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return MutationPlan{}, false
	}
	belief := Clamp01(n.belief + delta)
	applied := belief - n.belief
	cost := math.Min(costRate*math.Abs(applied), n.energy)

	targets := make([]string, 0, len(s.outgoing[id]))
	self := 0
	for _, eid := range s.outgoing[id] {
		dst := s.edges[eid].Dst
		if dst == id {
			self++
		}
		targets = append(targets, dst)
	}
	energy := n.energy - cost
	if self > 0 {
		// Shares routed over self-loops come straight back.
		energy += cost * float64(self) / float64(len(targets))
	}
	return MutationPlan{
		NodeID:  id,
		Belief:  belief,
		Energy:  energy,
		Applied: applied,
		Cost:    cost,
		Targets: targets,
	}, true
}

// ApplyMutate commits a plan from PlanMutate. A dissipated spend lowers the
// conserved total; otherwise the last recipient absorbs the rounding residual.
func (s *Store) ApplyMutate(p MutationPlan) model.Node {
	n := s.nodes[p.NodeID]
	n.belief = p.Belief
	n.energy -= p.Cost
	if len(p.Targets) == 0 {
		s.total -= p.Cost
		return s.view(n)
	}
	share := p.Cost / float64(len(p.Targets))
	for _, t := range p.Targets {
		s.nodes[t].energy += share
	}
	s.settleResidual(s.nodes[p.Targets[len(p.Targets)-1]])
	return s.view(n)
}

// BindEdge adds a directed edge. Both endpoints must exist.
func (s *Store) BindEdge(src, dst string, weight float64) (model.Edge, bool) {
	if _, ok := s.nodes[src]; !ok {
		return model.Edge{}, false
	}
	if _, ok := s.nodes[dst]; !ok {
		return model.Edge{}, false
	}
	e := model.Edge{ID: fmt.Sprintf("edge_%d", s.nextEdge), Src: src, Dst: dst, Weight: weight}
	s.nextEdge++
	s.edges[e.ID] = e
	s.edgeSeq = append(s.edgeSeq, e.ID)
	s.outgoing[src] = append(s.outgoing[src], e.ID)
	return e, true
}

// Propagate moves dst.belief toward src.belief by weight and transfers the
// energy cost of the change from src to dst. A self-loop changes nothing.
// Only the two endpoints are touched.
func (s *Store) Propagate(edgeID string, costRate float64) (model.PropagateResult, bool) {
	e, ok := s.edges[edgeID]
	if !ok {
		return model.PropagateResult{}, false
	}
	src, dst := s.nodes[e.Src], s.nodes[e.Dst]
	if e.Src == e.Dst {
		v := s.view(src)
		return model.PropagateResult{EdgeID: edgeID, Src: v, Dst: v, SelfLoop: true}, true
	}

	next := Clamp01(dst.belief + e.Weight*(src.belief-dst.belief))
	change := next - dst.belief
	cost := math.Min(costRate*math.Abs(change), src.energy)

	dst.belief = next
	src.energy -= cost
	dst.energy += cost
	s.settleResidual(dst)
	return model.PropagateResult{EdgeID: edgeID, Src: s.view(src), Dst: s.view(dst)}, true
}

// Rebalance applies energy_i += -k*(energy_i - target) to every node and
// returns the total absolute adjustment.
func (s *Store) Rebalance(k, target float64) float64 {
	var moved float64
	for _, id := range s.order {
		n := s.nodes[id]
		adj := -k * (n.energy - target)
		n.energy += adj
		if n.energy < 0 {
			n.energy = 0
		}
		moved += math.Abs(adj)
	}
	s.total = s.TotalEnergy()
	return moved
}

// Snapshot is a full copy of the store.
type Snapshot struct {
	Nodes    []model.Node `json:"nodes"`
	Edges    []model.Edge `json:"edges"`
	NextNode int          `json:"next_node"`
	NextEdge int          `json:"next_edge"`
}

// Snapshot copies the current state.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{Nodes: s.Nodes(), Edges: s.Edges(), NextNode: s.nextNode, NextEdge: s.nextEdge}
}

// Restore replaces the store contents with snap.
func (s *Store) Restore(snap Snapshot) error {
	s.reset()
	for _, n := range snap.Nodes {
		if _, dup := s.nodes[n.ID]; dup {
			return fmt.Errorf("graph: restore: duplicate node %s", n.ID)
		}
		s.nodes[n.ID] = &node{id: n.ID, belief: Clamp01(n.Belief), energy: n.Energy}
		s.order = append(s.order, n.ID)
	}
	for _, e := range snap.Edges {
		if _, ok := s.nodes[e.Src]; !ok {
			return fmt.Errorf("graph: restore: edge %s references unknown node %s", e.ID, e.Src)
		}
		if _, ok := s.nodes[e.Dst]; !ok {
			return fmt.Errorf("graph: restore: edge %s references unknown node %s", e.ID, e.Dst)
		}
		s.edges[e.ID] = e
		s.edgeSeq = append(s.edgeSeq, e.ID)
		s.outgoing[e.Src] = append(s.outgoing[e.Src], e.ID)
	}
	s.nextNode = snap.NextNode
	s.nextEdge = snap.NextEdge
	s.total = s.TotalEnergy()
	return nil
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func neumaierAdd(sum, comp, v float64) (float64, float64) {
	t := sum + v
	if math.Abs(sum) >= math.Abs(v) {
		comp += (sum - t) + v
	} else {
		comp += (v - t) + sum
	}
	return t, comp
}
