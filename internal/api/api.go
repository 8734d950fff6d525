// Package api implements the control API: an HTTP surface over the core
// operations, for the CLI and any future operator tooling to drive
// without linking against the server's internals. Only the
// administrative routes (config writes and shutdown) are loopback-only.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"queuectl/internal/config"
	"queuectl/internal/core"
	"queuectl/internal/job"
	"queuectl/internal/store"
)

// Server is the HTTP front end for one Core.
type Server struct {
	core       *core.Core
	logger     *zap.SugaredLogger
	httpServer *http.Server
	router     chi.Router
}

// New builds a Server bound to addr. addr should be a loopback address
// (e.g. "127.0.0.1:7777"); LoopbackOnly is a second line of defense in
// case it is ever misconfigured to listen more broadly.
func New(c *core.Core, addr string, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{core: c, logger: logger}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.structuredLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleEnqueue)
		r.Get("/jobs", s.handleList)
		r.Get("/status", s.handleStatus)

		r.Get("/dlq", s.handleListDead)
		r.Post("/dlq/{id}/retry", s.handleRetryOne)
		r.Post("/dlq/retry", s.handleRetryAll)

		r.Get("/config", s.handleListConfig)
		r.Get("/config/{key}", s.handleGetConfig)

		r.Group(func(r chi.Router) {
			r.Use(LoopbackOnly(s.logger))
			r.Put("/config/{key}", s.handleSetConfig)
			r.Post("/shutdown", s.handleShutdown)
		})
	})
	r.Get("/healthz", s.handleHealthz)
	return r
}

// Start begins listening; it returns http.ErrServerClosed on a clean
// shutdown, which callers should not treat as an error.
func (s *Server) Start() error {
	s.logger.Infow("control API starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new connections and waits for in-flight
// requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router directly, for tests that hit it with
// httptest.NewServer instead of a real listener.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string `json:"id,omitempty"`
		Command    string `json:"command"`
		MaxRetries *int   `json:"max_retries,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "PARSE_ERROR")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required", "VALIDATION_ERROR")
		return
	}

	j, err := s.core.Enqueue(job.Job{ID: req.ID, Command: req.Command, MaxRetries: req.MaxRetries})
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.core.List(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.core.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListDead(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.core.List(string(job.StateDead))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleRetryOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.core.RequeueDead(id); err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": string(job.StatePending)})
}

func (s *Server) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.core.RequeueAllDead()
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

func (s *Server) handleListConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.core.ListConfig()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, err := s.core.GetConfig(key)
	if err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": v})
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "PARSE_ERROR")
		return
	}
	canonical, err := s.core.SetConfig(key, req.Value)
	if err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": canonical})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting_down"})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.core.Shutdown(ctx); err != nil {
			s.logger.Errorw("graceful shutdown did not complete cleanly", "error", err)
		}
	}()
}

func writeJobError(w http.ResponseWriter, err error) {
	var invalid *job.ErrInvalidTransition
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, store.ErrEmptyID):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, err.Error(), "CONFLICT")
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func writeConfigError(w http.ResponseWriter, err error) {
	var unknown *config.ErrUnknownKey
	if errors.As(err, &unknown) {
		writeError(w, http.StatusNotFound, err.Error(), "UNKNOWN_KEY")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) structuredLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// LoopbackOnly rejects any request whose remote address is not
// localhost. The control API has no authentication of its own; this is
// the whole of its access control, same-box operators only.
func LoopbackOnly(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(host)
			if ip == nil || !ip.IsLoopback() {
				if logger != nil {
					logger.Warnw("control API rejected non-loopback request", "remote_addr", r.RemoteAddr)
				}
				writeError(w, http.StatusForbidden, "control API only accepts local connections", "FORBIDDEN")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
