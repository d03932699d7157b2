package mcp

import (
	"context"
	"errors"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kairo/internal/model"
	"github.com/ashita-ai/kairo/internal/replay"
)

const (
	maxBatchEdges   = 500
	maxReplayCycles = 5000
	maxReplayEnvs   = 8
	maxLedgerPage   = 1000
)

type nodeCreateArgs struct {
	Belief *float64 `json:"belief" validate:"required"`
	Energy *float64 `json:"energy" validate:"required"`
}

type nodeMutateArgs struct {
	NodeID string   `json:"node_id" validate:"required,max=64"`
	Delta  *float64 `json:"delta" validate:"required"`
}

type nodeArgs struct {
	NodeID string `json:"node_id" validate:"required,max=64"`
}

type edgeArgs struct {
	Src    string   `json:"src" validate:"required,max=64"`
	Dst    string   `json:"dst" validate:"required,max=64"`
	Weight *float64 `json:"weight" validate:"required"`
}

type edgeBatchArgs struct {
	Edges []edgeArgs `json:"edges" validate:"required,min=1,max=500,dive"`
}

type propagateArgs struct {
	EdgeID string `json:"edge_id" validate:"required,max=64"`
}

type ledgerPageArgs struct {
	From  int64 `json:"from" validate:"min=0"`
	Limit int   `json:"limit" validate:"min=0,max=1000"`
}

type exportArgs struct {
	Path string `json:"path" validate:"required,max=4096"`
}

type recoverArgs struct {
	CheckpointID string `json:"checkpoint_id" validate:"required,max=64"`
}

type replayArgs struct {
	Seed         string   `json:"seed" validate:"required,max=128"`
	Cycles       int      `json:"cycles" validate:"min=0,max=5000"`
	Environments []string `json:"environments" validate:"omitempty,min=3,max=8,unique,dive,required,max=64"`
}

func (s *Server) registerTools() {
	// node_create: create a belief node funded from the energy pool.
	s.addTool(
		mcplib.NewTool("node_create",
			mcplib.WithDescription(`Create a belief node.

The first node fixes the energy baseline of the graph. Later nodes draw
their share from the existing pool, so total energy never grows. Rejected
with esv_rejected when the node would start below the validity floor.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("belief",
				mcplib.Description("Initial belief, clamped into [0, 1]"),
				mcplib.Required(),
			),
			mcplib.WithNumber("energy",
				mcplib.Description("Requested energy, non-negative"),
				mcplib.Required(),
				mcplib.Min(0),
			),
		),
		s.handleNodeCreate,
	)

	// node_mutate: shift a node's belief.
	s.addTool(
		mcplib.NewTool("node_mutate",
			mcplib.WithDescription(`Shift the belief of a node by delta.

The change costs energy, which flows to the node's outgoing neighbours.
A node with no outgoing edges loses that energy, which breaches the
conservation bound and quarantines the engine.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("node_id", mcplib.Description("Node to mutate"), mcplib.Required()),
			mcplib.WithNumber("delta",
				mcplib.Description("Belief change in [-1, 1]"),
				mcplib.Required(),
				mcplib.Min(-1),
				mcplib.Max(1),
			),
		),
		s.handleNodeMutate,
	)

	s.addTool(
		mcplib.NewTool("node_query",
			mcplib.WithDescription("Read one node."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("node_id", mcplib.Description("Node to read"), mcplib.Required()),
		),
		s.handleNodeQuery,
	)

	s.addTool(
		mcplib.NewTool("edge_bind",
			mcplib.WithDescription("Bind a directed, weighted edge. Self-loops and cycles are allowed."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("src", mcplib.Description("Source node"), mcplib.Required()),
			mcplib.WithString("dst", mcplib.Description("Destination node"), mcplib.Required()),
			mcplib.WithNumber("weight", mcplib.Description("Edge weight"), mcplib.Required()),
		),
		s.handleEdgeBind,
	)

	s.addTool(
		mcplib.NewTool("edge_bind_batch",
			mcplib.WithDescription("Bind several edges at once. Either every edge is bound or none is."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithArray("edges",
				mcplib.Description("Edges to bind, each {src, dst, weight}"),
				mcplib.Required(),
				mcplib.MinItems(1),
				mcplib.MaxItems(maxBatchEdges),
				mcplib.Items(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"src":    map[string]any{"type": "string"},
						"dst":    map[string]any{"type": "string"},
						"weight": map[string]any{"type": "number"},
					},
					"required": []string{"src", "dst", "weight"},
				}),
			),
		),
		s.handleEdgeBindBatch,
	)

	s.addTool(
		mcplib.NewTool("edge_propagate",
			mcplib.WithDescription("Pull the destination's belief toward the source's along one edge."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("edge_id", mcplib.Description("Edge to propagate along"), mcplib.Required()),
		),
		s.handleEdgePropagate,
	)

	s.addTool(
		mcplib.NewTool("governor_status",
			mcplib.WithDescription("Aggregate drift, coherence, graph size, and quarantine flag."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleGovernorStatus,
	)

	s.addTool(
		mcplib.NewTool("esv_audit",
			mcplib.WithDescription("Report whether one node passes the validity floor."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("node_id", mcplib.Description("Node to audit"), mcplib.Required()),
		),
		s.handleAudit,
	)

	s.addTool(
		mcplib.NewTool("lineage_replay",
			mcplib.WithDescription("Page through the operation ledger in sequence order."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("from", mcplib.Description("First sequence number"), mcplib.Min(0), mcplib.DefaultNumber(0)),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum entries to return, 0 for the default page"),
				mcplib.Min(0),
				mcplib.Max(maxLedgerPage),
				mcplib.DefaultNumber(100),
			),
		),
		s.handleLineageReplay,
	)

	s.addTool(
		mcplib.NewTool("lineage_export",
			mcplib.WithDescription("Write the full ledger to a JSON file and return a receipt."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("path", mcplib.Description("Destination file"), mcplib.Required()),
		),
		s.handleLineageExport,
	)

	s.addTool(
		mcplib.NewTool("health",
			mcplib.WithDescription("Combined governance read: status, quarantine, ledger, corrections, thresholds, and the pattern registry in force."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleHealth,
	)

	s.addTool(
		mcplib.NewTool("checkpoint_create",
			mcplib.WithDescription("Seal the current graph into a checkpoint. Rejected while quarantined."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleCheckpointCreate,
	)

	s.addTool(
		mcplib.NewTool("quarantine_recover",
			mcplib.WithDescription(`Restore the graph from a verified checkpoint.

This is the only way out of quarantine. A checkpoint that fails
verification leaves the engine quarantined and is not retried.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("checkpoint_id", mcplib.Description("Checkpoint to restore"), mcplib.Required()),
		),
		s.handleRecover,
	)

	s.addTool(
		mcplib.NewTool("replay_run",
			mcplib.WithDescription(`Run a seeded scenario on independent fresh engines and compare their ledger hashes.

The episode is certified when every environment produced the same hash.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("seed", mcplib.Description("Decimal seed, or any text which is hashed to a seed"), mcplib.Required()),
			mcplib.WithNumber("cycles",
				mcplib.Description("Scenario length"),
				mcplib.Min(1),
				mcplib.Max(maxReplayCycles),
				mcplib.DefaultNumber(replay.DefaultCycles),
			),
			mcplib.WithArray("environments",
				mcplib.Description("Environment labels, at least 3"),
				mcplib.WithStringItems(),
				mcplib.MinItems(replay.MinEnvironments),
				mcplib.MaxItems(maxReplayEnvs),
			),
		),
		s.handleReplayRun,
	)
}

func (s *Server) handleNodeCreate(_ context.Context, request mcplib.CallToolRequest) (any, error) {
	var args nodeCreateArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	return s.engine.CreateNode(*args.Belief, *args.Energy)
}

func (s *Server) handleNodeMutate(_ context.Context, request mcplib.CallToolRequest) (any, error) {
	var args nodeMutateArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	return s.engine.MutateNode(args.NodeID, *args.Delta)
}

func (s *Server) handleNodeQuery(_ context.Context, request mcplib.CallToolRequest) (any, error) {
	var args nodeArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	n, ok := s.engine.QueryNode(args.NodeID)
	if !ok {
		return nil, model.NotFoundf("node %s not found", args.NodeID)
	}
	return n, nil
}

func (s *Server) handleEdgeBind(_ context.Context, request mcplib.CallToolRequest) (any, error) {
	var args edgeArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	return s.engine.BindEdge(args.Src, args.Dst, *args.Weight)
}

func (s *Server) handleEdgeBindBatch(_ context.Context, request mcplib.CallToolRequest) (any, error) {
	var args edgeBatchArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	specs := make([]model.EdgeSpec, len(args.Edges))
	for i, e := range args.Edges {
		specs[i] = model.EdgeSpec{Src: e.Src, Dst: e.Dst, Weight: *e.Weight}
	}
	edges, err := s.engine.BindEdges(specs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"edges": edges, "bound": len(edges)}, nil
}

func (s *Server) handleEdgePropagate(_ context.Context, request mcplib.CallToolRequest) (any, error) {
	var args propagateArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	return s.engine.Propagate(args.EdgeID)
}

func (s *Server) handleGovernorStatus(_ context.Context, _ mcplib.CallToolRequest) (any, error) {
	return s.engine.Status(), nil
}

func (s *Server) handleAudit(_ context.Context, request mcplib.CallToolRequest) (any, error) {
	var args nodeArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	return s.engine.Audit(args.NodeID)
}

func (s *Server) handleLineageReplay(_ context.Context, request mcplib.CallToolRequest) (any, error) {
	var args ledgerPageArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	limit := args.Limit
	if limit == 0 {
		limit = 100
	}
	entries := s.engine.Entries(args.From, limit)
	if entries == nil {
		entries = []model.LineageEntry{}
	}
	summary := s.engine.LedgerSummary()
	return map[string]any{
		"entries":     entries,
		"total":       summary.TotalEntries,
		"global_hash": summary.GlobalHash,
		"last":        s.engine.LastEntry(),
	}, nil
}

func (s *Server) handleLineageExport(_ context.Context, request mcplib.CallToolRequest) (any, error) {
	var args exportArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	return s.engine.ExportLineage(args.Path)
}

// healthView adds the pattern registry in force to the engine health read.
type healthView struct {
	model.Health
	Registry registryView `json:"registry"`
	Version  string       `json:"version"`
}

type registryView struct {
	Version string `json:"version"`
	Sealed  string `json:"sealed"`
	Digest  string `json:"digest"`
}

func (s *Server) handleHealth(ctx context.Context, _ mcplib.CallToolRequest) (any, error) {
	if err := s.engine.VerifyLedger(); err != nil {
		return nil, err
	}
	reg := s.sanitizer.Registry()
	return healthView{
		Health:   s.engine.Health(ctx),
		Registry: registryView{Version: reg.Version, Sealed: reg.Sealed, Digest: reg.Digest()},
		Version:  s.version,
	}, nil
}

func (s *Server) handleCheckpointCreate(ctx context.Context, _ mcplib.CallToolRequest) (any, error) {
	cp, err := s.engine.CreateCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"checkpoint_id": cp.ID,
		"created_at":    cp.CreatedAt,
		"ledger_seq":    cp.LedgerSeq,
	}, nil
}

func (s *Server) handleRecover(ctx context.Context, request mcplib.CallToolRequest) (any, error) {
	var args recoverArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	if err := s.engine.Restore(ctx, args.CheckpointID); err != nil {
		return nil, err
	}
	return map[string]any{
		"status":     "restored",
		"quarantine": s.engine.Quarantine(),
		"governor":   s.engine.Status(),
	}, nil
}

func (s *Server) handleReplayRun(ctx context.Context, request mcplib.CallToolRequest) (any, error) {
	var args replayArgs
	if err := s.bind(request, &args); err != nil {
		return nil, err
	}
	cycles := args.Cycles
	if cycles == 0 {
		cycles = replay.DefaultCycles
	}
	envs := args.Environments
	if len(envs) == 0 {
		envs = []string{"env-a", "env-b", "env-c"}
	}
	seed := replay.ParseSeed(args.Seed)

	ep := s.protocol.CreateEpisode(seed, cycles)
	run, err := replay.RunEpisode(ctx, seed, cycles, envs)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, model.Validationf("replay cancelled")
		}
		return nil, err
	}
	for _, env := range run.Environments {
		if err := s.protocol.Record(ep.EpisodeID, env.Label, env.GlobalHash); err != nil {
			return nil, err
		}
	}
	return s.protocol.Validate(ep.EpisodeID)
}
