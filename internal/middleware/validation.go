package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/completion-gateway/internal/types"
)

// ValidationConfig configures the validation middleware
type ValidationConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ValidationMiddleware validates JSON requests against the OpenAPI document.
// Routes the document does not describe pass through untouched.
type ValidationMiddleware struct {
	router  routers.Router
	logger  *logrus.Logger
	enabled bool
}

// NewValidationMiddleware creates a new validation middleware
func NewValidationMiddleware(config ValidationConfig, doc *openapi3.T, logger *logrus.Logger) (*ValidationMiddleware, error) {
	vm := &ValidationMiddleware{
		logger:  logger,
		enabled: config.Enabled,
	}

	if !config.Enabled {
		logger.Info("API validation middleware disabled")
		return vm, nil
	}
	if doc == nil {
		return nil, errors.New("validation enabled without an OpenAPI document")
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAPI router: %w", err)
	}
	vm.router = router

	logger.WithField("paths", doc.Paths.Len()).Info("API validation middleware enabled")
	return vm, nil
}

// Middleware returns the HTTP middleware function
func (vm *ValidationMiddleware) Middleware(next http.Handler) http.Handler {
	if !vm.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := vm.validateRequest(r); err != nil {
			vm.logger.WithError(err).WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"request_id": RequestIDFromContext(r.Context()),
			}).Warn("Request validation failed")

			writeValidationError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validateRequest validates an HTTP request against the OpenAPI document
func (vm *ValidationMiddleware) validateRequest(r *http.Request) error {
	if r.Body != nil && r.ContentLength != 0 && !isJSON(r.Header.Get("Content-Type")) {
		return nil
	}

	route, pathParams, err := vm.router.FindRoute(r)
	if err != nil {
		if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
			return nil
		}
		return fmt.Errorf("route lookup failed: %w", err)
	}

	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		defer func() { r.Body = io.NopCloser(bytes.NewReader(body)) }()
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}

	if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}
	return nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// writeValidationError uses the same envelope as the gateway's invalid request
func writeValidationError(w http.ResponseWriter, err error) {
	detail := types.ErrorDetail{
		Message: "Request validation failed",
		Type:    "invalid_request",
		Code:    "validation_error",
	}

	var reqErr *openapi3filter.RequestError
	var schemaErr *openapi3.SchemaError
	switch {
	case errors.As(err, &reqErr) && reqErr.Parameter != nil:
		detail.Message = fmt.Sprintf("Invalid %s parameter %q", reqErr.Parameter.In, reqErr.Parameter.Name)
		detail.Fields = map[string]string{reqErr.Parameter.Name: "invalid"}
	case errors.As(err, &schemaErr):
		detail.Message = "Request body does not match the API schema"
		if field := strings.Join(schemaErr.JSONPointer(), "."); field != "" {
			detail.Fields = map[string]string{field: schemaErr.Reason}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(types.ErrorResponse{
		Error:     detail,
		Timestamp: time.Now().Unix(),
	})
}
