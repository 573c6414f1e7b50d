// Package httpapi implements the abstract HTTP surface of spec §6.1,
// following the http.ServeMux method-pattern routing and respondJSON/
// respondError helper style of the teacher's internal/httpapi package, with
// the playground.Service swapped for memoryd.Service.
package httpapi

import (
	"encoding/json"
	"net/http"

	"agentmemory/internal/memoryd"
)

// Server exposes the memory service over HTTP.
type Server struct {
	service *memoryd.Service
	mux     *http.ServeMux
}

// NewServer creates the HTTP API server wired to the memory service.
func NewServer(service *memoryd.Service) *Server {
	s := &Server{service: service, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /sessions/", s.handleListSessions)
	s.mux.HandleFunc("GET /sessions/{id}/memory", s.handleGetSession)
	s.mux.HandleFunc("PUT /sessions/{id}/memory", s.handlePutSession)
	s.mux.HandleFunc("DELETE /sessions/{id}/memory", s.handleDeleteSession)
	s.mux.HandleFunc("POST /long-term-memory", s.handleIndexMemories)
	s.mux.HandleFunc("POST /long-term-memory/search", s.handleSearchLongTerm)
	s.mux.HandleFunc("POST /memory/search", s.handleSearchMerged)
	s.mux.HandleFunc("POST /memory-prompt", s.handleMemoryPrompt)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusFromError(err), map[string]any{"error": err.Error()})
}
