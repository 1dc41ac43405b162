package server

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tributary-ai/completion-gateway/docs"
)

// setupSwaggerRoutes sets up Swagger UI routes for API documentation
func (s *Server) setupSwaggerRoutes(r *mux.Router) {
	r.HandleFunc(swaggerSpecPath, s.handleOpenAPIYAML).Methods("GET")
	r.HandleFunc("/docs/openapi.json", s.handleOpenAPIJSON).Methods("GET")

	r.HandleFunc("/docs", s.serveSwaggerIndex).Methods("GET")
	r.HandleFunc("/docs/", s.serveSwaggerIndex).Methods("GET")
}

// handleOpenAPIYAML serves the embedded document as written
func (s *Server) handleOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml")
	w.Write(docs.OpenAPIYAML)
}

// handleOpenAPIJSON serves the parsed document as JSON
func (s *Server) handleOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	doc := s.deps.Doc
	if doc == nil {
		loaded, err := docs.Load()
		if err != nil {
			s.logger.WithError(err).Error("Failed to load OpenAPI document")
			http.Error(w, "Error loading OpenAPI spec", http.StatusInternalServerError)
			return
		}
		doc = loaded
	}

	jsonData, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		http.Error(w, "Error converting to JSON", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(jsonData)
}

const swaggerSpecPath = "/docs/openapi.yaml"

var swaggerIndex = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
<script>
SwaggerUIBundle({url: {{.SpecURL}}, dom_id: "#swagger-ui", supportedSubmitMethods: ["get", "post"], validatorUrl: null});
</script>
</body>
</html>
`))

// serveSwaggerIndex renders Swagger UI pointed at the embedded document
func (s *Server) serveSwaggerIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := swaggerIndex.Execute(w, struct{ Title, SpecURL string }{
		Title:   "Completion Gateway API",
		SpecURL: swaggerSpecPath,
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to render Swagger UI")
	}
}
