package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-guardrail/internal/db"
	mcpserver "github.com/kubilitics/kubilitics-guardrail/internal/mcp/server"
	"github.com/kubilitics/kubilitics-guardrail/internal/safety/policy"
)

// ToolService is the facade the HTTP transport exposes.
type ToolService interface {
	ListTools() []mcpserver.ToolDefinition
	ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
	DescribePolicy() (policy.Rules, bool)
	GetStats() mcpserver.Stats
}

// Config holds HTTP listener settings.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// AllowedOrigins enables CORS for browser callers; empty disables it.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Server is the HTTP transport over the tool facade.
type Server struct {
	config  Config
	tools   ToolService
	archive db.AuditStore
	logger  *zap.Logger
	router  *mux.Router
	handler http.Handler

	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// NewServer creates the transport. archive may be nil, in which case the
// archive endpoint reports 404.
func NewServer(cfg Config, tools ToolService, archive db.AuditStore, logger *zap.Logger) (*Server, error) {
	if tools == nil {
		return nil, fmt.Errorf("tool service cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:  cfg.withDefaults(),
		tools:   tools,
		archive: archive,
		logger:  logger.Named("http"),
	}
	s.router = s.routes()
	s.handler = s.router
	if len(s.config.AllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		})
		s.handler = c.Handler(s.router)
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

const apiPrefix = "/api/v1"

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// API routes sit on the root router so a method mismatch reports 405.
	r.HandleFunc(apiPrefix+"/tools", s.handleListTools).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/tools/{name}", s.handleExecuteTool).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/audit", s.handleAuditLog).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/audit/archive", s.handleAuditArchive).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/policy", s.handlePolicy).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/stats", s.handleStats).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method "+req.Method+" not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "no route for "+req.URL.Path)
	})
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.logger.Info("HTTP server started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address while running.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	httpServer := s.httpServer
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	s.wg.Wait()
	s.logger.Info("HTTP server stopped")
	return err
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
