package httpapi

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

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"reelswap/internal/config"
	"reelswap/internal/ledger"
	"reelswap/internal/logging"
	"reelswap/internal/objectstore"
	"reelswap/internal/taskqueue"
)

// Jobs is the slice of the ledger the front door needs.
type Jobs interface {
	CreateJob(ctx context.Context, sourceRef string) (*ledger.Job, error)
	GetJob(ctx context.Context, id string) (*ledger.Job, error)
	Fail(ctx context.Context, id, message string) (*ledger.Job, error)
}

// Enqueuer hands the split task to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task taskqueue.Task) (int64, error)
}

// HealthChecker reports whether the shared store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the collaborators a Server routes to.
type Deps struct {
	Jobs   Jobs
	Queue  Enqueuer
	Store  objectstore.Store
	Health HealthChecker
	Logger *slog.Logger
}

// Server serves the job API.
type Server struct {
	bind    string
	token   string
	jobs    Jobs
	queue   Enqueuer
	store   objectstore.Store
	health  HealthChecker
	logger  *slog.Logger
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// New builds a Server from cfg and deps.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("httpapi: config is required")
	}
	if deps.Jobs == nil || deps.Queue == nil || deps.Store == nil {
		return nil, errors.New("httpapi: jobs, queue, and store are required")
	}
	s := &Server{
		bind:   strings.TrimSpace(cfg.API.Bind),
		token:  cfg.API.Token,
		jobs:   deps.Jobs,
		queue:  deps.Queue,
		store:  deps.Store,
		health: deps.Health,
		logger: logging.NewComponentLogger(deps.Logger, "api-server"),
	}

	router := mux.NewRouter()
	router.Use(s.withRequestID, s.logRequests)
	router.HandleFunc("/jobs", s.requireToken(s.handleCreateJob)).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(s.logger, w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(s.logger, w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
	})

	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.API.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	}).Handler(router)
	return s, nil
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured bind address and serves in the
// background until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("api server already started")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	server := s.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once Start has succeeded. It stays set
// after Stop.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting up to five seconds for open requests.
func (s *Server) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown", logging.Error(err))
	}
}
