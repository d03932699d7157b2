package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// quarantine-recovery: walks the caller through leaving quarantine.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("quarantine-recovery",
			mcplib.WithPromptDescription("Steps to inspect a quarantine and recover from a checkpoint"),
			mcplib.WithArgument("fault_trace_id",
				mcplib.ArgumentDescription("Fault trace id from the quarantined error"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleRecoveryPrompt,
	)

	// governed-session: system prompt snippet for working against the engine.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("governed-session",
			mcplib.WithPromptDescription("System prompt snippet explaining the checkpoint, mutate, verify workflow"),
		),
		s.handleSessionPrompt,
	)
}

func (s *Server) handleRecoveryPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	faultID := request.Params.Arguments["fault_trace_id"]
	if faultID == "" {
		return nil, fmt.Errorf("fault_trace_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Recover from quarantine %s", faultID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`The engine is quarantined under fault %s. Every mutation is blocked
until it is recovered. Reads still work.

1. CALL health and read the quarantine section: reason, reason_code, and
   the observed value against its threshold.

2. CALL lineage_replay with a small limit near the end of the ledger to see
   which operation preceded the trip. The triggering operation is recorded.

3. CALL quarantine_recover with the checkpoint_id of the most recent
   checkpoint you created while the engine was healthy.
   - If it returns checksum_mismatch, that checkpoint is unusable. Do not
     retry it; pick an older one.

4. CALL governor_status to confirm quarantined is false before mutating again.`, faultID),
				},
			},
		},
	}, nil
}

func (s *Server) handleSessionPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Working with the kairo governed graph",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have access to kairo, a belief graph whose every change is governed
and recorded.

## The Pattern: Checkpoint, Mutate, Verify

### Before a series of changes:
Call checkpoint_create. A checkpoint is the only way out of quarantine.

### While changing:
Use node_create, edge_bind or edge_bind_batch, node_mutate, and
edge_propagate. A node with no outgoing edges loses the energy its
mutations cost, which quarantines the engine.

### After changing:
Call governor_status. If quarantined is true, follow the
quarantine-recovery prompt.

## Errors

Every error carries a code and a tag:
- 4000 validation_error: bad input, nothing changed
- 4004 not_found: unknown id, nothing changed
- 1000 esv_rejected: the node would start below the validity floor
- 5000 quarantined: mutations are blocked; note the fault_trace_id
- 6001 checksum_mismatch: the checkpoint failed verification`,
				},
			},
		},
	}, nil
}
