// Package server serves the MCP gateway over streamable HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kairo/internal/model"
	"github.com/ashita-ai/kairo/internal/ratelimit"
)

// Server is the HTTP front of the gateway.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies for the HTTP server.
type ServerConfig struct {
	Addr                string
	MCPServer           *mcpserver.MCPServer
	RateLimiter         ratelimit.Limiter
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration

	// Status backs GET /health. Nil reports only liveness.
	Status func() model.GovernorStatus
}

// New creates a new HTTP server with all routes and middleware.
func New(cfg ServerConfig) *Server {
	mux := http.NewServeMux()

	// MCP StreamableHTTP transport (rate limited).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		var h http.Handler = mcpHTTP
		if cfg.RateLimiter != nil {
			h = ratelimit.Middleware(cfg.RateLimiter, ratelimit.IPKeyFunc, cfg.Logger)(h)
		}
		mux.Handle("/mcp", h)
	}

	// Health (no rate limit).
	mux.HandleFunc("GET /health", healthHandler(cfg.Version, cfg.Status))

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			ReadHeaderTimeout: 10 * time.Second,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Quarantined bool   `json:"quarantined"`
	Nodes       int    `json:"nodes"`
}

// healthHandler reports liveness. A quarantined engine answers 503 so load
// balancers stop routing mutations to it.
func healthHandler(version string, status func() model.GovernorStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Version: version}
		code := http.StatusOK
		if status != nil {
			st := status()
			resp.Quarantined = st.Quarantined
			resp.Nodes = st.NodeCount
			if st.Quarantined {
				resp.Status = "quarantined"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the gateway error payload.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]model.ErrorDetail{"error": model.DetailFor(err)})
}
