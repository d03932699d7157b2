// Package kairo is the public API for embedding the kairo governed graph
// server.
//
//	app, err := kairo.New(
//	    kairo.WithVersion(version),
//	    kairo.WithLogger(logger),
//	    kairo.WithQuarantineHook(pager{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, and internal/* never imports the root.
// Public types (Quarantine) are standalone structs; conversion helpers live
// here because this is the only file that sees both sides of the boundary.
package kairo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kairo/internal/checkpoint"
	"github.com/ashita-ai/kairo/internal/config"
	"github.com/ashita-ai/kairo/internal/engine"
	"github.com/ashita-ai/kairo/internal/governor"
	"github.com/ashita-ai/kairo/internal/graph"
	"github.com/ashita-ai/kairo/internal/mcp"
	"github.com/ashita-ai/kairo/internal/model"
	"github.com/ashita-ai/kairo/internal/ratelimit"
	"github.com/ashita-ai/kairo/internal/sanitize"
	"github.com/ashita-ai/kairo/internal/server"
	"github.com/ashita-ai/kairo/internal/telemetry"
)

// App is the kairo server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	engine       *engine.Engine
	mcpSrv       *mcp.Server
	srv          *server.Server // nil when serving stdio
	limiters     []ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
	genesisID    string
	fatal        chan error
}

// New initialises the server. It loads configuration, opens the checkpoint
// store, wires the engine, sanitizer, and gateway, and seals a genesis
// checkpoint so that recovery is always possible. It does NOT accept
// connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.httpAddr != nil {
		cfg.HTTPAddr = *o.httpAddr
	}
	if o.checkpointDB != "" {
		cfg.CheckpointDB = o.checkpointDB
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	transport := "stdio"
	if cfg.HTTPAddr != "" {
		transport = "http"
	}
	logger.Info("kairo starting", "version", version, "transport", transport)

	// Outbound filter registry; its version tags exported telemetry.
	reg, err := sanitize.Default()
	if err != nil {
		return nil, fmt.Errorf("sanitizer: %w", err)
	}

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		Endpoint:        cfg.OTELEndpoint,
		Insecure:        cfg.OTELInsecure,
		ServiceName:     cfg.ServiceName,
		Version:         version,
		RegistryVersion: reg.Version,
		ShardSize:       cfg.ShardSize,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openCheckpointStore(cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	a := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
		fatal:        make(chan error, 1),
	}

	ecfg := engineConfig(cfg, logger, store)
	ecfg.OnQuarantine, ecfg.OnClear = a.quarantineHooks(o.quarantineHooks)
	eng, err := engine.New(ecfg)
	if err != nil {
		_ = store.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}
	a.engine = eng

	san := sanitize.New(reg,
		sanitize.WithAllowList(cfg.SanitizerAllow),
		sanitize.WithStrict(cfg.SanitizerStrict),
		sanitize.WithLogger(logger),
	)
	logger.Info("sanitizer: registry loaded",
		"version", reg.Version, "patterns", len(reg.Patterns()), "strict", cfg.SanitizerStrict)

	// Rate limiter.
	toolLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	a.limiters = append(a.limiters, toolLimiter)
	logger.Info("rate limiting: memory (in-process token bucket)",
		"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)

	a.mcpSrv = mcp.New(eng, san, logger, version,
		mcp.WithLimiter(toolLimiter),
		mcp.WithMaxArgumentBytes(int(cfg.MaxRequestBodyBytes)),
		mcp.WithFatalHandler(a.onFatal),
	)

	if cfg.HTTPAddr != "" {
		ipLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		a.limiters = append(a.limiters, ipLimiter)
		a.srv = server.New(server.ServerConfig{
			Addr:                cfg.HTTPAddr,
			MCPServer:           a.mcpSrv.MCPServer(),
			RateLimiter:         ipLimiter,
			Logger:              logger,
			Version:             version,
			MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
			Status:              eng.Status,
		})
	}

	// Genesis checkpoint.
	cp, err := eng.CreateCheckpoint(context.Background())
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("genesis checkpoint: %w", err)
	}
	a.genesisID = cp.ID
	logger.Info("genesis checkpoint sealed", "checkpoint_id", cp.ID)

	return a, nil
}

// GenesisCheckpoint returns the id of the checkpoint sealed at startup.
func (a *App) GenesisCheckpoint() string {
	return a.genesisID
}

// Handler returns the HTTP handler, or nil when serving stdio.
func (a *App) Handler() http.Handler {
	if a.srv == nil {
		return nil
	}
	return a.srv.Handler()
}

// Run serves MCP over stdio or streamable HTTP and blocks until ctx is
// cancelled, the transport fails, or an internal invariant is violated.
// On return, Shutdown is called automatically.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if a.srv != nil {
			err = a.srv.Start()
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
		} else {
			stdio := mcpserver.NewStdioServer(a.mcpSrv.MCPServer())
			err = stdio.Listen(ctx, os.Stdin, os.Stdout)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
		}
		errCh <- err
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = err
	case err := <-a.fatal:
		a.logger.Error("kairo: stopping after internal invariant violation", "error", err)
		runErr = fmt.Errorf("internal invariant violated: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops accepting requests, then closes the checkpoint store,
// limiters, and OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kairo shutting down")

	var firstErr error
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Error("http shutdown error", "error", err)
			firstErr = err
		}
	}
	a.closeResources()

	a.logger.Info("kairo stopped")
	return firstErr
}

func (a *App) closeResources() {
	for _, l := range a.limiters {
		_ = l.Close()
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.logger.Error("checkpoint store close error", "error", err)
		}
	}
	_ = a.otelShutdown(context.Background())
}

// onFatal is called by the gateway at most once.
func (a *App) onFatal(err error) {
	select {
	case a.fatal <- err:
	default:
	}
}

// quarantineHooks adapts the public hooks to the engine callbacks. Hooks run
// in their own goroutines; failures are logged and do not affect the engine.
func (a *App) quarantineHooks(hooks []QuarantineHook) (func(model.QuarantineState), func(string)) {
	if len(hooks) == 0 {
		return nil, nil
	}
	onTrip := func(st model.QuarantineState) {
		q := toPublicQuarantine(st)
		for _, h := range hooks {
			go func() {
				if err := h.OnQuarantine(context.Background(), q); err != nil {
					a.logger.Warn("quarantine hook failed", "error", err, "fault_trace_id", q.FaultTraceID)
				}
			}()
		}
	}
	onClear := func(checkpointID string) {
		for _, h := range hooks {
			go func() {
				if err := h.OnClear(context.Background(), checkpointID); err != nil {
					a.logger.Warn("quarantine clear hook failed", "error", err, "checkpoint_id", checkpointID)
				}
			}()
		}
	}
	return onTrip, onClear
}

func openCheckpointStore(cfg config.Config, logger *slog.Logger) (checkpoint.Store, error) {
	if cfg.CheckpointDB == "" {
		logger.Info("checkpoints: memory")
		return checkpoint.NewMemoryStore(), nil
	}
	store, err := checkpoint.OpenSQLite(cfg.CheckpointDB)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: %w", err)
	}
	logger.Info("checkpoints: sqlite", "path", cfg.CheckpointDB)
	if len(cfg.CheckpointKey) == 0 {
		logger.Warn("checkpoints: KAIRO_CHECKPOINT_KEY unset, checkpoints from earlier runs will not verify")
	}
	return store, nil
}

// engineConfig maps configuration onto engine thresholds.
func engineConfig(cfg config.Config, logger *slog.Logger, store checkpoint.Store) engine.Config {
	ecfg := engine.DefaultConfig()
	ecfg.Governor = governor.Governor{
		DriftEpsilon:   cfg.DriftEpsilon,
		CoherenceFloor: cfg.CoherenceFloor,
		CorrectionK:    cfg.CorrectionK,
	}
	ecfg.Scorer = graph.Scorer{
		SemanticWeight:   cfg.SemanticWeight,
		ConfidenceWeight: cfg.ConfidenceWeight,
		Floor:            cfg.ValidityFloor,
	}
	ecfg.ShardSize = cfg.ShardSize
	ecfg.MutationCost = cfg.MutationCost
	ecfg.MaxEnergy = cfg.MaxEnergy
	ecfg.MaxWeight = cfg.MaxWeight
	ecfg.ExportDir = cfg.ExportDir
	ecfg.Checkpoints = store
	ecfg.CheckpointKey = cfg.CheckpointKey
	ecfg.Logger = logger
	ecfg.RegisterMetrics = true
	return ecfg
}

func toPublicQuarantine(st model.QuarantineState) Quarantine {
	q := Quarantine{
		Reason:       string(st.Reason),
		ReasonCode:   st.ReasonCode,
		Observed:     st.Observed,
		Threshold:    st.Threshold,
		FaultTraceID: st.FaultTraceID,
	}
	if st.TrippedAt != nil {
		q.TrippedAt = *st.TrippedAt
	} else {
		q.TrippedAt = time.Now().UTC()
	}
	return q
}
