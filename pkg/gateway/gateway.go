// Package gateway exposes the runtime over HTTP: tool discovery, the
// call endpoint and approval confirmation. Tool failures are reported in
// the result envelope with HTTP 200; RFC 7807 problems are reserved for
// transport and request-shape errors.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rigproject/rig/pkg/registry"
	"github.com/rigproject/rig/pkg/rtp"
	"github.com/rigproject/rig/pkg/runtime"
)

const maxCallBodyBytes = 1 << 20

// Server serves the gateway endpoints for one registry/runtime pair.
type Server struct {
	registry *registry.ToolRegistry
	runtime  *runtime.Runtime
	logger   *slog.Logger

	authSecret []byte
	limiter    *GlobalRateLimiter
}

// Option configures the server.
type Option func(*Server)

// WithLogger overrides the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAuthSecret enables bearer-token authentication on every endpoint
// except health. Empty secret leaves the gateway open.
func WithAuthSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.authSecret = []byte(secret)
		}
	}
}

// WithRateLimit enables per-IP rate limiting.
func WithRateLimit(rps, burst int) Option {
	return func(s *Server) { s.limiter = NewGlobalRateLimiter(rps, burst) }
}

// NewServer creates a gateway server.
func NewServer(reg *registry.ToolRegistry, rt *runtime.Runtime, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		runtime:  rt,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("GET /v1/tools/{name}", s.handleGetTool)
	mux.HandleFunc("POST /v1/tools/{call}", s.handleCall)
	mux.HandleFunc("POST /v1/approvals/{approve}", s.handleApprove)

	var h http.Handler = mux
	if s.authSecret != nil {
		h = s.authMiddleware(h)
	}
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = AccessLog(s.logger)(h)
	h = RequestID(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	defs := s.registry.List()
	out := make([]wireToolDef, 0, len(defs))
	for _, t := range defs {
		out = append(out, toWireToolDef(t))
	}
	writeJSON(w, out)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	t, ok := s.registry.Get(name)
	if !ok {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "tool not found")
		return
	}
	writeJSON(w, toWireToolDef(t))
}

// callBody is the request shape of the call endpoint. Context is optional.
type callBody struct {
	Args    map[string]any   `json:"args"`
	Context *rtp.CallContext `json:"context"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(r.PathValue("call"), ":call")
	if !ok {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "unknown tools action")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCallBodyBytes)
	var body callBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if body.Args == nil {
		body.Args = map[string]any{}
	}

	call := rtp.CallContext{}
	if body.Context != nil {
		call = *body.Context
	}
	fillCallIdentity(r, &call)

	result := s.runtime.Call(r.Context(), name, body.Args, call)
	writeJSON(w, toWireResult(result))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutSuffix(r.PathValue("approve"), ":approve")
	if !ok {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "unknown approvals action")
		return
	}

	result := s.runtime.ApproveAndCall(r.Context(), token)
	writeJSON(w, toWireResult(result))
}

// fillCallIdentity defaults tenant and actor from verified token claims
// when the request body did not carry them.
func fillCallIdentity(r *http.Request, call *rtp.CallContext) {
	id := identityFrom(r.Context())
	if call.TenantID == "" {
		call.TenantID = id.TenantID
	}
	if call.Actor == "" {
		call.Actor = id.Actor
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
