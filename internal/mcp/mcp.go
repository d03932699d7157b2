// Package mcp implements the Model Context Protocol gateway for kairo.
//
// Every tool and resource delegates to the engine. Responses pass through
// the sanitizer before they leave the process, and engine errors cross the
// boundary as structured results carrying a stable code and tag.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kairo/internal/ctxutil"
	"github.com/ashita-ai/kairo/internal/engine"
	"github.com/ashita-ai/kairo/internal/model"
	"github.com/ashita-ai/kairo/internal/ratelimit"
	"github.com/ashita-ai/kairo/internal/replay"
	"github.com/ashita-ai/kairo/internal/sanitize"
	"github.com/ashita-ai/kairo/internal/telemetry"
)

// DefaultMaxArgumentBytes bounds the serialized arguments of one tool call.
const DefaultMaxArgumentBytes = 1 << 20

// Server wraps the MCP server with the engine and its outbound filter.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *engine.Engine
	sanitizer *sanitize.Sanitizer
	protocol  *replay.Protocol
	limiter   ratelimit.Limiter
	logger    *slog.Logger
	version   string
	validate  *validator.Validate
	tracer    trace.Tracer
	meter     metric.Meter
	clock     func() time.Time

	denials    metric.Int64Counter
	calls      metric.Int64Counter
	duration   metric.Float64Histogram
	invariants metric.Int64Counter

	handlers map[string]mcpserver.ToolHandlerFunc

	maxArgBytes int
	onFatal     func(error)
	fatalOnce   sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter rate limits tool calls per client session.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithFatalHandler registers the callback invoked once when an
// internal-invariant error reaches the gateway.
func WithFatalHandler(fn func(error)) Option {
	return func(s *Server) { s.onFatal = fn }
}

// WithMaxArgumentBytes overrides DefaultMaxArgumentBytes.
func WithMaxArgumentBytes(n int) Option {
	return func(s *Server) { s.maxArgBytes = n }
}

// WithClock sets the clock used for request phases and replay episodes.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) { s.clock = clock }
}

// WithMeter records gateway metrics on m instead of the global meter.
func WithMeter(m metric.Meter) Option {
	return func(s *Server) { s.meter = m }
}

// New creates and configures a new MCP server with all resources, tools, and prompts.
func New(eng *engine.Engine, san *sanitize.Sanitizer, logger *slog.Logger, version string, opts ...Option) *Server {
	s := &Server{
		engine:      eng,
		sanitizer:   san,
		limiter:     ratelimit.NoopLimiter{},
		logger:      logger,
		version:     version,
		validate:    newValidator(),
		tracer:      telemetry.Tracer("kairo/mcp"),
		meter:       telemetry.Meter("kairo/mcp"),
		clock:       func() time.Time { return time.Now().UTC() },
		maxArgBytes: DefaultMaxArgumentBytes,
		handlers:    make(map[string]mcpserver.ToolHandlerFunc),
	}
	for _, o := range opts {
		o(s)
	}
	s.protocol = replay.NewProtocol(s.clock, nil)

	s.registerMetrics()

	s.mcpServer = mcpserver.NewMCPServer(
		"kairo",
		version,
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// registerMetrics creates the gateway instruments. Instruments that fail to
// register stay nil and are skipped.
func (s *Server) registerMetrics() {
	var err error
	if s.denials, err = s.meter.Int64Counter("kairo.gateway.rate_limited",
		metric.WithDescription("Tool calls denied by the gateway rate limiter")); err != nil {
		s.logger.Warn("mcp: rate limit counter unavailable", "error", err)
	}
	if s.calls, err = s.meter.Int64Counter("kairo.gateway.tool_calls",
		metric.WithDescription("Tool calls by tool and outcome")); err != nil {
		s.logger.Warn("mcp: tool call counter unavailable", "error", err)
	}
	if s.duration, err = s.meter.Float64Histogram("kairo.gateway.tool_duration",
		metric.WithDescription("Tool call latency"),
		metric.WithUnit("ms")); err != nil {
		s.logger.Warn("mcp: tool duration histogram unavailable", "error", err)
	}
	if s.invariants, err = s.meter.Int64Counter("kairo.gateway.invariant_failures",
		metric.WithDescription("Internal invariant violations reported by tools")); err != nil {
		s.logger.Warn("mcp: invariant counter unavailable", "error", err)
	}
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Protocol returns the replay episode registry fed by replay_run.
func (s *Server) Protocol() *replay.Protocol {
	return s.protocol
}

const serverInstructions = `kairo is a governed belief graph. Every mutation is checked against an
energy conservation bound and a validity floor; a breach quarantines the
engine until it is recovered from a verified checkpoint.

Create a checkpoint (checkpoint_create) while the engine is healthy so that
quarantine_recover has something to restore. Read governor_status or health
before and after mutating.`

// toolFunc is the body of a tool. The returned value is sanitized and
// serialized as the tool result.
type toolFunc func(ctx context.Context, request mcplib.CallToolRequest) (any, error)

// addTool registers tool with fn wrapped in the request lifecycle.
func (s *Server) addTool(tool mcplib.Tool, fn toolFunc) {
	h := s.tool(tool.Name, fn)
	s.handlers[tool.Name] = h
	s.mcpServer.AddTool(tool, h)
}

// tool wraps fn with the request lifecycle: request id, span, rate limit,
// argument bound, error mapping, and response sanitization.
func (s *Server) tool(name string, fn toolFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		ctx = ctxutil.WithRequestID(ctx, "")
		audit := ctxutil.NewAuditMeta(ctxutil.RequestIDFromContext(ctx), name, s.clock())
		ctx = ctxutil.WithAudit(ctx, audit)

		ctx, span := s.tracer.Start(ctx, "mcp.tool "+name,
			trace.WithAttributes(
				attribute.String("mcp.tool", name),
				attribute.String("kairo.request_id", audit.RequestID),
			),
		)
		defer span.End()

		start := time.Now()
		result, outcome := s.runTool(ctx, name, request, audit, fn)
		if result.IsError {
			span.SetStatus(codes.Error, "tool error")
		}
		s.record(ctx, name, outcome, time.Since(start))

		s.logger.Debug("mcp: tool call",
			"tool", name,
			"request_id", audit.RequestID,
			"phase", string(audit.Last()),
			"elapsed_ms", audit.Elapsed().Milliseconds(),
		)
		return result, nil
	}
}

// record counts a finished call. outcome is "ok" or the error tag.
func (s *Server) record(ctx context.Context, tool, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("mcp.tool", tool),
		attribute.String("kairo.outcome", outcome),
	)
	if s.calls != nil {
		s.calls.Add(ctx, 1, attrs)
	}
	if s.duration != nil {
		s.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}

// runTool returns the result and its outcome label.
func (s *Server) runTool(ctx context.Context, name string, request mcplib.CallToolRequest, audit *ctxutil.AuditMeta, fn toolFunc) (*mcplib.CallToolResult, string) {
	fail := func(err error) (*mcplib.CallToolResult, string) {
		audit.Mark(ctxutil.PhaseError, s.clock())
		return s.errorResult(ctx, err), string(model.AsError(err).Kind)
	}

	if !s.allow(ctx, name) {
		return fail(model.NewError(model.KindRateLimited, "too many requests"))
	}
	if args := request.GetArguments(); len(args) > 0 {
		raw, err := json.Marshal(args)
		if err != nil || len(raw) > s.maxArgBytes {
			return fail(model.Validationf("arguments exceed %d bytes", s.maxArgBytes))
		}
	}
	audit.Mark(ctxutil.PhaseValidated, s.clock())

	v, err := fn(ctx, request)
	if err != nil {
		return fail(err)
	}
	audit.Mark(ctxutil.PhaseExecuted, s.clock())

	data, _, err := s.sanitizer.SanitizeValue(ctx, v)
	if err != nil {
		if errors.Is(err, sanitize.ErrWithheld) {
			s.logger.Warn("mcp: response withheld", "tool", name, "request_id", audit.RequestID)
			audit.Mark(ctxutil.PhaseError, s.clock())
			return s.errorResult(ctx, errWithheld), "withheld"
		}
		return fail(err)
	}
	audit.Mark(ctxutil.PhaseResponded, s.clock())
	return mcplib.NewToolResultText(string(data)), "ok"
}

// errWithheld is reported when the sanitizer rejects a response outright.
// It is not an engine fault and never stops the server.
var errWithheld = model.NewError(model.KindInternalInvariant, "response withheld")

// allow applies the limiter keyed by client session. Limiter errors fail open.
func (s *Server) allow(ctx context.Context, tool string) bool {
	key := "local"
	if session := mcpserver.ClientSessionFromContext(ctx); session != nil && session.SessionID() != "" {
		key = session.SessionID()
	}
	ok, err := s.limiter.Allow(ctx, key)
	if err != nil {
		s.logger.Warn("mcp: limiter error, allowing call", "error", err)
		return true
	}
	if !ok && s.denials != nil {
		s.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("mcp.tool", tool)))
	}
	return ok
}

// errorResult renders err as the structured error payload. Internal
// invariant failures from the engine are reported to the fatal handler.
func (s *Server) errorResult(ctx context.Context, err error) *mcplib.CallToolResult {
	detail := model.DetailFor(err)
	if detail.Tag == model.KindInternalInvariant && err != errWithheld {
		s.fatal(ctx, err)
	}
	if len(s.sanitizer.CheckText(detail.Message)) > 0 {
		detail.Message = "request failed"
	}
	data, mErr := json.Marshal(map[string]model.ErrorDetail{"error": detail})
	if mErr != nil {
		return errorResult("internal error")
	}
	s.logger.Debug("mcp: tool error", "request_id", ctxutil.RequestIDFromContext(ctx), "code", detail.Code, "tag", string(detail.Tag))
	return errorResult(string(data))
}

func (s *Server) fatal(ctx context.Context, err error) {
	s.logger.Error("mcp: internal invariant violated", "error", err)
	if s.invariants != nil {
		s.invariants.Add(ctx, 1)
	}
	if s.onFatal == nil {
		return
	}
	s.fatalOnce.Do(func() { s.onFatal(err) })
}

// bind decodes the call arguments into dst and validates its tags.
func (s *Server) bind(request mcplib.CallToolRequest, dst any) error {
	if err := request.BindArguments(dst); err != nil {
		return model.Validationf("arguments are malformed")
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return model.Validationf("%s failed %s", fe.Field(), describeTag(fe))
		}
		return model.Validationf("arguments are invalid")
	}
	return nil
}

// newValidator reports fields by their JSON argument names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
