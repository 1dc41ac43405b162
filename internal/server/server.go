package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tributary-ai/completion-gateway/internal/gateway"
	"github.com/tributary-ai/completion-gateway/internal/interactions"
	"github.com/tributary-ai/completion-gateway/internal/middleware"
	"github.com/tributary-ai/completion-gateway/internal/routing"
	"github.com/tributary-ai/completion-gateway/internal/types"
)

const (
	defaultInteractionsLimit = 50
	maxInteractionsLimit     = 500
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	CORS           CORSConfig    `yaml:"cors"`
}

// CORSConfig holds cross-origin settings
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxAge         int      `yaml:"max_age"`
}

// Completer serves completion requests
type Completer interface {
	Handle(ctx context.Context, req *types.CompletionRequest, meta gateway.RequestMeta) (*types.CompletionResponse, error)
}

// RoutingInspector explains routing decisions
type RoutingInspector interface {
	Decide(feature, modelHint string) *routing.RoutingDecision
	Features() map[string]string
}

// ProviderCatalog lists registered providers
type ProviderCatalog interface {
	Describe() []types.ProviderDescriptor
	Len() int
}

// UserResolver extracts a verified user id from a request
type UserResolver interface {
	UserID(r *http.Request) string
}

// Pinger is implemented by stores that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the HTTP layer serves. Interactions,
// Identity, Validator and Doc may be nil.
type Dependencies struct {
	Gateway      Completer
	Routing      RoutingInspector
	Providers    ProviderCatalog
	Interactions interactions.Reader
	Identity     UserResolver
	Validator    *middleware.ValidationMiddleware
	Doc          *openapi3.T
}

// Server represents the HTTP server
type Server struct {
	deps       Dependencies
	httpServer *http.Server
	handler    http.Handler
	logger     *logrus.Logger
	config     *ServerConfig
}

// NewServer creates a new server instance
func NewServer(deps Dependencies, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	if deps.Gateway == nil || deps.Routing == nil || deps.Providers == nil {
		return nil, errors.New("server requires gateway, routing and providers")
	}
	if config == nil {
		config = &ServerConfig{Port: "8080"}
	}

	s := &Server{
		deps:   deps,
		logger: logger,
		config: config,
	}
	s.handler = s.buildHandler()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        s.handler,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting completion gateway server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping completion gateway server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// buildHandler wires CORS in front of routing so preflights never depend on
// a route match
func (s *Server) buildHandler() http.Handler {
	r := s.setupRoutes()

	origins := s.config.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	maxAge := s.config.CORS.MaxAge
	if maxAge <= 0 {
		maxAge = 300
	}

	withCORS := cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         maxAge,
	})(r)

	return otelhttp.NewHandler(withCORS, "completion-gateway")
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBody(s.config.MaxBodyBytes))
	if s.deps.Validator != nil {
		r.Use(s.deps.Validator.Middleware)
	}

	r.HandleFunc("/completion", s.handleCompletion).Methods("POST")
	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/completion", s.handleCompletion).Methods("POST")
	api.HandleFunc("/health", s.handleHealthCheck).Methods("GET")
	api.HandleFunc("/providers", s.handleListProviders).Methods("GET")
	api.HandleFunc("/routing/decision", s.handleRoutingDecision).Methods("POST")
	api.HandleFunc("/interactions", s.handleListInteractions).Methods("GET")

	s.setupSwaggerRoutes(r)

	// OPTIONS without preflight headers still succeeds
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.RequestIDFromContext(r.Context()),
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// Handlers

// handleCompletion serves the gateway operation. Every resolved outcome is
// a 200; only an unusable request is a 400.
func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req types.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeDecodeError(w, err)
		return
	}

	meta := gateway.RequestMeta{
		RequestID: middleware.RequestIDFromContext(r.Context()),
		ClientIP:  middleware.ClientIP(r),
	}
	if s.deps.Identity != nil {
		meta.UserID = s.deps.Identity.UserID(r)
	}

	resp, err := s.deps.Gateway.Handle(r.Context(), &req, meta)
	if err != nil {
		var validationErr *gateway.ValidationError
		if errors.As(err, &validationErr) {
			s.writeErrorResponse(w, http.StatusBadRequest, types.ErrorDetail{
				Message: validationErr.Message,
				Type:    "invalid_request",
				Code:    "validation_error",
				Fields:  validationErr.Fields,
			})
			return
		}
		s.writeErrorResponse(w, http.StatusBadRequest, types.ErrorDetail{
			Message: err.Error(),
			Type:    "invalid_request",
			Code:    "invalid_request",
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealthCheck reports liveness. Storage trouble degrades the status
// but never the HTTP code.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	response := types.HealthResponse{
		Status:    "healthy",
		Providers: s.deps.Providers.Len(),
		Timestamp: time.Now().Unix(),
	}

	if pinger, ok := s.deps.Interactions.(Pinger); ok {
		if err := pinger.Ping(r.Context()); err != nil {
			s.logger.WithError(err).Warn("Interaction store unreachable")
			response.Status = "degraded"
			response.Storage = "unreachable"
		} else {
			response.Storage = "ok"
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleListProviders lists all registered providers without credentials
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.deps.Providers.Describe()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": providers,
		"features":  s.deps.Routing.Features(),
		"count":     len(providers),
	})
}

// handleRoutingDecision returns the routing decision without calling a provider
func (s *Server) handleRoutingDecision(w http.ResponseWriter, r *http.Request) {
	var req types.RoutingDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeDecodeError(w, err)
		return
	}

	completion := types.CompletionRequest{Feature: req.Feature, ModelHint: req.ModelHint}
	completion.Normalize()

	writeJSON(w, http.StatusOK, s.deps.Routing.Decide(completion.Feature, completion.ModelHint))
}

// handleListInteractions lists recent interaction records
func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Interactions == nil {
		s.writeErrorResponse(w, http.StatusNotImplemented, types.ErrorDetail{
			Message: "the configured interaction store cannot list records",
			Type:    "not_implemented",
		})
		return
	}

	limit := defaultInteractionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxInteractionsLimit {
			s.writeErrorResponse(w, http.StatusBadRequest, types.ErrorDetail{
				Message: fmt.Sprintf("limit must be an integer between 1 and %d", maxInteractionsLimit),
				Type:    "invalid_request",
				Fields:  map[string]string{"limit": "out of range"},
			})
			return
		}
		limit = parsed
	}

	records, err := s.deps.Interactions.Recent(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list interactions")
		s.writeErrorResponse(w, http.StatusInternalServerError, types.ErrorDetail{
			Message: "failed to list interactions",
			Type:    "storage_error",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interactions": records,
		"count":        len(records),
	})
}

// Helper functions

func (s *Server) writeDecodeError(w http.ResponseWriter, err error) {
	detail := types.ErrorDetail{
		Message: fmt.Sprintf("Invalid JSON: %v", err),
		Type:    "invalid_request",
		Code:    "invalid_json",
	}

	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		detail.Message = "request body is required"
		detail.Fields = map[string]string{"message": "message is required and must not be blank"}
	case errors.As(err, &maxBytesErr):
		detail.Message = fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit)
		detail.Code = "body_too_large"
	}

	s.writeErrorResponse(w, http.StatusBadRequest, detail)
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, detail types.ErrorDetail) {
	writeJSON(w, statusCode, types.ErrorResponse{
		Error:     detail,
		Timestamp: time.Now().Unix(),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
