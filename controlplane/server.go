package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/registry"
)

// DefaultPrefix is the default mount prefix for the control plane.
const DefaultPrefix = "/failsafe"

// Config configures the control-plane server.
type Config struct {
	// Registry is the component index to expose. Required.
	Registry *registry.Registry

	// Prefix is the mount prefix. Default: DefaultPrefix
	Prefix string

	// Auth guards mutating routes (PUT/POST/DELETE) when set.
	// Read routes stay open.
	Auth *JWTAuth

	// Logger records control actions. Default: discard.
	Logger observe.Logger
}

// Server serves the control-plane HTTP API over a registry.
type Server struct {
	reg    *registry.Registry
	prefix string
	auth   *JWTAuth
	log    observe.Logger
}

// New creates a control-plane server.
func New(config Config) *Server {
	prefix := strings.TrimSuffix(config.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	log := config.Logger
	if log == nil {
		log = observe.NopLogger()
	}
	return &Server{
		reg:    config.Registry,
		prefix: prefix,
		auth:   config.Auth,
		log:    log,
	}
}

// Mount registers every control-plane route on the mux.
func (s *Server) Mount(mux *http.ServeMux) {
	p := s.prefix

	mux.HandleFunc("GET "+p+"/liveness", s.handleLiveness)
	mux.HandleFunc("GET "+p+"/health", s.handleHealth)
	mux.HandleFunc("GET "+p+"/patterns", s.handlePatterns)
	mux.HandleFunc("GET "+p+"/config", s.handleConfigAll)
	mux.HandleFunc("GET "+p+"/config/{kind}/{name}", s.handleConfigGet)
	mux.HandleFunc("PUT "+p+"/config/{kind}/{name}", s.protected(s.handleConfigPut))
	mux.HandleFunc("GET "+p+"/metrics", s.handleMetricsAll)
	mux.HandleFunc("GET "+p+"/metrics/{kind}/{name}", s.handleMetricsGet)
	mux.HandleFunc("DELETE "+p+"/metrics/{kind}/{name}", s.protected(s.handleMetricsReset))
	mux.HandleFunc("POST "+p+"/control/{kind}/{name}/enable", s.protected(s.handleEnable))
	mux.HandleFunc("POST "+p+"/control/{kind}/{name}/disable", s.protected(s.handleDisable))
}

// Handler returns a standalone handler with every route mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Mount(mux)
	return mux
}

func (s *Server) protected(next http.HandlerFunc) http.HandlerFunc {
	if s.auth == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Authenticate(r); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	entries := s.reg.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"components": len(entries),
	})
}

// patternResponse is one row of the pattern listing.
type patternResponse struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handlePatterns(w http.ResponseWriter, _ *http.Request) {
	entries := s.reg.List()
	out := make([]patternResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, patternResponse{Kind: string(e.Kind), Name: e.Name, Enabled: e.Enabled})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConfigAll(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]map[string]any)
	for _, e := range s.reg.List() {
		cfg, err := s.reg.Config(e.Kind, e.Name)
		if err != nil {
			continue
		}
		out[string(e.Kind)+"/"+e.Name] = cfg
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	kind, name, ok := s.component(w, r)
	if !ok {
		return
	}
	cfg, err := s.reg.Config(kind, name)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	kind, name, ok := s.component(w, r)
	if !ok {
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if err := s.reg.UpdateConfig(kind, name, fields); err != nil {
		writeRegistryError(w, err)
		return
	}

	s.log.Info(r.Context(), "config updated",
		observe.Field{Key: "kind", Value: string(kind)},
		observe.Field{Key: "name", Value: name},
	)

	cfg, err := s.reg.Config(kind, name)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleMetricsAll(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]map[string]any)
	for _, e := range s.reg.List() {
		m, err := s.reg.MetricsSnapshot(e.Kind, e.Name)
		if err != nil {
			continue
		}
		out[string(e.Kind)+"/"+e.Name] = m
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMetricsGet(w http.ResponseWriter, r *http.Request) {
	kind, name, ok := s.component(w, r)
	if !ok {
		return
	}
	m, err := s.reg.MetricsSnapshot(kind, name)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	kind, name, ok := s.component(w, r)
	if !ok {
		return
	}
	if err := s.reg.ResetMetrics(kind, name); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.log.Info(r.Context(), "metrics reset",
		observe.Field{Key: "kind", Value: string(kind)},
		observe.Field{Key: "name", Value: name},
	)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	kind, name, ok := s.component(w, r)
	if !ok {
		return
	}

	var err error
	if enabled {
		err = s.reg.Enable(kind, name)
	} else {
		err = s.reg.Disable(kind, name)
	}
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	s.log.Info(r.Context(), "gate toggled",
		observe.Field{Key: "kind", Value: string(kind)},
		observe.Field{Key: "name", Value: name},
		observe.Field{Key: "enabled", Value: enabled},
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":    string(kind),
		"name":    name,
		"enabled": enabled,
	})
}

func (s *Server) component(w http.ResponseWriter, r *http.Request) (registry.Kind, string, bool) {
	kind, err := registry.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return "", "", false
	}
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusNotFound, "not_found", "component name is required")
		return "", "", false
	}
	return kind, name, true
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrUnknownKind):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, registry.ErrUnknownField):
		writeError(w, http.StatusBadRequest, "unknown_field", err.Error())
	default:
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
