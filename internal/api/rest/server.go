package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/agentforge/govern/internal/engine"
	"github.com/agentforge/govern/internal/metrics"
)

// Server is the REST API server
type Server struct {
	engine        *engine.Engine
	router        *mux.Router
	httpServer    *http.Server
	logger        *zap.Logger
	config        Config
	startTime     time.Time
	authenticator *Authenticator
	metrics       *metrics.Metrics
}

// Config configures the REST API server
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableCORS   bool
	JWTSecret    string
	Version      string
}

// DefaultConfig returns default REST server configuration
func DefaultConfig() Config {
	return Config{
		Port:        8080,
		ReadTimeout: 15 * time.Second,
		// SSE change streams outlive the usual write timeout
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
		Version:      "1.0.0",
	}
}

// New creates a new REST API server
func New(cfg Config, eng *engine.Engine, logger *zap.Logger, m *metrics.Metrics) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		engine:        eng,
		router:        mux.NewRouter(),
		logger:        logger,
		config:        cfg,
		startTime:     time.Now(),
		authenticator: NewAuthenticator([]byte(cfg.JWTSecret)),
		metrics:       m,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	// Health and status endpoints (no auth required)
	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/v1/status", s.statusHandler).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.authenticator.Middleware)

	agents := v1.PathPrefix("/agents").Subrouter()
	agents.HandleFunc("", s.createAgentHandler).Methods("POST")
	agents.HandleFunc("", s.listAgentsHandler).Methods("GET")
	agents.HandleFunc("/slug/{slug}", s.getAgentBySlugHandler).Methods("GET")
	agents.HandleFunc("/{id}", s.getAgentHandler).Methods("GET")
	agents.HandleFunc("/{id}", s.updateAgentHandler).Methods("PATCH")
	agents.HandleFunc("/{id}", s.deleteAgentHandler).Methods("DELETE")
	agents.HandleFunc("/{id}/sub-agents", s.listSubAgentsHandler).Methods("GET")
	agents.HandleFunc("/{id}/history", s.historyHandler).Methods("GET")
	agents.HandleFunc("/{id}/knowledge", s.addKnowledgeHandler).Methods("POST")
	agents.HandleFunc("/{id}/knowledge", s.listKnowledgeHandler).Methods("GET")

	members := v1.PathPrefix("/members").Subrouter()
	members.HandleFunc("", s.listMembersHandler).Methods("GET")
	members.HandleFunc("/{id}", s.getMemberHandler).Methods("GET")
	members.HandleFunc("/{id}/role", s.changeRoleHandler).Methods("PUT")
	members.HandleFunc("/{id}/deactivate", s.deactivateMemberHandler).Methods("POST")
	members.HandleFunc("/{id}/reactivate", s.reactivateMemberHandler).Methods("POST")

	v1.HandleFunc("/changes", s.changesHandler).Methods("GET")
}

// Start starts the REST API server
func (s *Server) Start() error {
	s.logger.Info("starting REST API server",
		zap.Int("port", s.config.Port),
		zap.Bool("jwt_auth", s.config.JWTSecret != ""),
		zap.Bool("cors", s.config.EnableCORS),
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the REST API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for tests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"engine": "ok"},
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, StatusResponse{
		Version:   s.config.Version,
		Uptime:    time.Since(s.startTime).String(),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				WriteError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Principal-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for request logging
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE streaming works through
// the logging middleware
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
