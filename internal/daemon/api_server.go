package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"solasola/internal/logging"
)

type apiServer struct {
	bind     string
	token    string
	logger   *slog.Logger
	daemon   *Daemon
	validate *validator.Validate
	router   chi.Router

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(d *Daemon) *apiServer {
	srv := &apiServer{
		bind:     strings.TrimSpace(d.cfg.Paths.APIBind),
		token:    d.cfg.Paths.APIToken,
		logger:   logging.NewComponentLogger(d.opts.Logger, "api-server"),
		daemon:   d,
		validate: validator.New(),
	}
	srv.router = srv.routes()
	return srv
}

func (s *apiServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/api/health", restHandler(s.logger, s.handleHealth))

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.token))

		r.Route("/api/tasks", func(r chi.Router) {
			r.Post("/", restHandler(s.logger, s.handleSubmit))
			r.Get("/", restHandler(s.logger, s.handleListTasks))
			r.Get("/{id}", restHandler(s.logger, s.handleGetTask))
			r.Post("/{id}/cancel", restHandler(s.logger, s.handleCancelTask))
		})

		r.Route("/api/models", func(r chi.Router) {
			r.Get("/", restHandler(s.logger, s.handleListModels))
			r.Post("/install", restHandler(s.logger, s.handleInstallModel))
			r.Post("/sweep", restHandler(s.logger, s.handleSweep))
			r.Delete("/{id}", restHandler(s.logger, s.handleDeleteModel))
		})

		r.Get("/api/events", s.handleEvents)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Request contexts end with the daemon so event streams close on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// address reports the bound listener address, or "" when not serving.
func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
