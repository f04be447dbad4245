// Package server exposes the live status of a run over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/scheduler"
)

// Source reports the state of a run.
type Source interface {
	Progress() scheduler.Progress
	Stats() *model.RunStatistics
	// BreakerStates maps collaborator namespaces to their circuit state.
	BreakerStates() map[string]string
}

// ProgressResponse is the body of GET /progress.
type ProgressResponse struct {
	Progress scheduler.Progress  `json:"progress"`
	Stats    model.StatsSnapshot `json:"stats"`
	Breakers map[string]string   `json:"breakers,omitempty"`
}

// NewRouter returns the status API. An empty origins list allows any origin.
func NewRouter(src Source, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/progress", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, ProgressResponse{
			Progress: src.Progress(),
			Stats:    src.Stats().Snapshot(),
			Breakers: src.BreakerStates(),
		})
	})
	r.Get("/errors", func(w http.ResponseWriter, _ *http.Request) {
		errs := src.Stats().Errors()
		if errs == nil {
			errs = []model.RecordedError{}
		}
		writeJSON(w, http.StatusOK, errs)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

// Server is a running status server.
type Server struct {
	srv  *http.Server
	addr string
	done chan error
}

// Start listens on addr and serves h in the background.
func Start(addr string, h http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, eris.Wrapf(err, "server: listen %s", addr)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr: ln.Addr().String(),
		done: make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	zap.L().Info("server: status api listening", zap.String("addr", s.addr))
	return s, nil
}

// Addr is the bound address, useful when started on port 0.
func (s *Server) Addr() string { return s.addr }

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	if err := <-s.done; err != nil {
		return eris.Wrap(err, "server: serve")
	}
	return nil
}
