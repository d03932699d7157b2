package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	uriGovernorStatus = "kairo://governor/status"
	uriLineageSummary = "kairo://lineage/summary"
	uriCorrections    = "kairo://governor/corrections"
	uriEpisodes       = "kairo://replay/episodes"
)

func (s *Server) registerResources() {
	// kairo://governor/status: drift, coherence, graph size, quarantine flag.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriGovernorStatus,
			"Governor Status",
			mcplib.WithResourceDescription("Aggregate drift, coherence, graph size, and quarantine flag"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatusResource,
	)

	// kairo://lineage/summary: shard counts and the global hash.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriLineageSummary,
			"Lineage Summary",
			mcplib.WithResourceDescription("Shard counts, entry count, and the global hash of the operation ledger"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleLineageSummaryResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriCorrections,
			"Correction Log",
			mcplib.WithResourceDescription("Elastic correction attempts and their success rate"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCorrectionsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriEpisodes,
			"Replay Episodes",
			mcplib.WithResourceDescription("Audit of replay episodes run through replay_run"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleEpisodesResource,
	)
}

func (s *Server) handleStatusResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return s.resource(ctx, uriGovernorStatus, s.engine.Status())
}

func (s *Server) handleLineageSummaryResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return s.resource(ctx, uriLineageSummary, map[string]any{
		"summary": s.engine.LedgerSummary(),
		"shards":  s.engine.Shards(),
	})
}

func (s *Server) handleCorrectionsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := s.engine.CorrectionsJSON()
	if err != nil {
		return nil, err
	}
	return s.resourceJSON(ctx, uriCorrections, data)
}

func (s *Server) handleEpisodesResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := s.protocol.ExportAudit()
	if err != nil {
		return nil, err
	}
	return s.resourceJSON(ctx, uriEpisodes, data)
}

// resource sanitizes v and wraps it as JSON text contents.
func (s *Server) resource(ctx context.Context, uri string, v any) ([]mcplib.ResourceContents, error) {
	data, _, err := s.sanitizer.SanitizeValue(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("mcp: read %s: response withheld", uri)
	}
	return textContents(uri, data), nil
}

// resourceJSON is resource for values that are already encoded.
func (s *Server) resourceJSON(ctx context.Context, uri string, raw []byte) ([]mcplib.ResourceContents, error) {
	data, _, err := s.sanitizer.SanitizeJSON(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("mcp: read %s: response withheld", uri)
	}
	return textContents(uri, data), nil
}

func textContents(uri string, data []byte) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}
}
