// Package daemon exposes the render service over HTTP for thin clients:
// they post raw user text and get back a PNG or a classified failure.
package daemon

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snaptexdev/snaptex/internal/render"
	"github.com/snaptexdev/snaptex/internal/sandbox"
)

// Server is the snaptex daemon HTTP server.
type Server struct {
	svc      *render.Service
	apiToken string
	version  string
	log      *slog.Logger

	mux *http.ServeMux
}

// Config for Server construction.
type Config struct {
	APIToken string
	Version  string
	Logger   *slog.Logger
}

func New(svc *render.Service, cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		svc:      svc,
		apiToken: cfg.APIToken,
		version:  cfg.Version,
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.mux = http.NewServeMux()

	s.mux.HandleFunc("/render", s.authMiddleware(s.handleRender))
	s.mux.HandleFunc("/events", s.authMiddleware(s.handleEvents))
	s.mux.HandleFunc("/stats", s.authMiddleware(s.handleStats))
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/version", s.handleVersion)
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken != "" {
			token := r.Header.Get("Authorization")
			token = strings.TrimPrefix(token, "Bearer ")
			if token != s.apiToken {
				writeError(w, http.StatusUnauthorized, "invalid or missing API token", "auth")
				return
			}
		}
		next(w, r)
	}
}

// handleRender takes the user text exactly as received and maps each
// outcome class to a distinct response: 200 with the PNG, 422 with the
// limit or input diagnostic, 500 for internal failures (logged with the
// request id, details withheld from the client).
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "request")
		return
	}

	var req struct {
		Text  string `json:"text"`
		Scope string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "request")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required", "request")
		return
	}

	reqID := uuid.New().String()
	start := time.Now()

	res, err := s.svc.Render(r.Context(), req.Scope, req.Text)
	if err != nil {
		var le *sandbox.LimitError
		var ie *sandbox.InputError
		switch {
		case errors.As(err, &le):
			writeError(w, http.StatusUnprocessableEntity, le.Error(), le.Kind.String())
		case errors.As(err, &ie):
			writeError(w, http.StatusUnprocessableEntity, ie.Msg, "input")
		default:
			s.log.Error("render request failed",
				"request_id", reqID, "scope", req.Scope, "error", err)
			writeError(w, http.StatusInternalServerError, "internal render failure", "internal")
		}
		return
	}

	s.log.Info("render served",
		"request_id", reqID,
		"scope", req.Scope,
		"key", res.Key,
		"cache_hit", res.CacheHit,
		"bytes", len(res.Image),
		"duration", time.Since(start),
	)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Image)))
	w.Header().Set("X-Snaptex-Key", res.Key)
	if res.CacheHit {
		w.Header().Set("X-Snaptex-Cache", "hit")
	} else {
		w.Header().Set("X-Snaptex-Cache", "miss")
	}
	_, _ = w.Write(res.Image)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	evs, err := s.svc.RecentEvents(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.CacheStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cache":    st,
		"strategy": s.svc.StrategyName(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// writeError reports a failure with its outcome kind so clients can map
// it to a user-visible action without parsing the message.
func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind})
}
