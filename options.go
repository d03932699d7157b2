package kairo

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	httpAddr        *string
	checkpointDB    string
	logger          *slog.Logger
	version         string
	quarantineHooks []QuarantineHook
}

// WithHTTPAddr overrides the listen address from config (KAIRO_HTTP_ADDR env var).
// An empty address serves MCP over stdio.
func WithHTTPAddr(addr string) Option {
	return func(o *resolvedOptions) { o.httpAddr = &addr }
}

// WithCheckpointDB overrides the sqlite checkpoint path from config (KAIRO_CHECKPOINT_DB env var).
func WithCheckpointDB(path string) Option {
	return func(o *resolvedOptions) { o.checkpointDB = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported by the gateway and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithQuarantineHook registers a hook notified when the engine trips into
// quarantine and when a recovery clears it. May be called more than once.
func WithQuarantineHook(hook QuarantineHook) Option {
	return func(o *resolvedOptions) { o.quarantineHooks = append(o.quarantineHooks, hook) }
}
