// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/poiesic/chatvec/ingestion"
	"github.com/poiesic/chatvec/progress"
	"github.com/poiesic/chatvec/storage"
)

const (
	DefaultPort           = 8750
	DefaultStreamInterval = 500 * time.Millisecond

	shutdownTimeout = 10 * time.Second
)

var (
	ErrSyncerRequired   = errors.New("syncer is required")
	ErrTasksRequired    = errors.New("progress store is required")
	ErrAutoSyncRequired = errors.New("auto-sync repository is required")
	ErrInvalidPort      = errors.New("port must be between 1 and 65535")
)

// Server exposes sync, progress and auto-sync operations over HTTP.
type Server struct {
	router         *chi.Mux
	port           int
	apiToken       string
	streamInterval time.Duration
	baseCtx        context.Context
	syncer         *ingestion.Syncer
	tasks          *progress.Store
	autoSync       storage.AutoSyncRepository
	logger         *slog.Logger
}

// Option configures a Server.
type Option func(*Server) error

// WithPort sets the listen port.
func WithPort(port int) Option {
	return func(s *Server) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPort, port)
		}
		s.port = port
		return nil
	}
}

// WithAPIToken requires "Authorization: Bearer <token>" on /api routes.
// An empty token disables the check.
func WithAPIToken(token string) Option {
	return func(s *Server) error {
		s.apiToken = token
		return nil
	}
}

// WithStreamInterval sets how often the progress stream polls a task.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) error {
		if d > 0 {
			s.streamInterval = d
		}
		return nil
	}
}

// WithBaseContext sets the context background syncs run under. Syncs
// started over HTTP outlive their request, so they must not use it.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) error {
		if ctx != nil {
			s.baseCtx = ctx
		}
		return nil
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// NewServer wires the routes.
func NewServer(syncer *ingestion.Syncer, tasks *progress.Store, autoSync storage.AutoSyncRepository, opts ...Option) (*Server, error) {
	if syncer == nil {
		return nil, ErrSyncerRequired
	}
	if tasks == nil {
		return nil, ErrTasksRequired
	}
	if autoSync == nil {
		return nil, ErrAutoSyncRequired
	}

	s := &Server{
		router:         chi.NewRouter(),
		port:           DefaultPort,
		streamInterval: DefaultStreamInterval,
		baseCtx:        context.Background(),
		syncer:         syncer,
		tasks:          tasks,
		autoSync:       autoSync,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "api")

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.health)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(s.apiToken))

		r.Post("/sync", s.startSync)
		r.Get("/sync", s.listSynced)
		r.Delete("/sync/{talker}", s.deleteTalker)

		r.Get("/progress/{taskID}", s.getProgress)
		r.Delete("/progress/{taskID}", s.deleteProgress)
		r.Get("/progress/{taskID}/stream", s.streamProgress)

		r.Get("/autosync", s.listAutoSync)
		r.Put("/autosync", s.setAutoSync)
	})

	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
