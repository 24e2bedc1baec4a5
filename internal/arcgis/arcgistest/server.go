// Package arcgistest provides an in-process fake ArcGIS REST peer for tests.
package arcgistest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// ServicesPath is the path prefix the fake serves the catalog under.
const ServicesPath = "/arcgis/rest/services"

// Server routes requests by exact path. Unrouted paths return 404.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// NewServer starts a fake peer that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// RootURL is the services root to hand to the client under test.
func (s *Server) RootURL() string {
	return s.URL + ServicesPath
}

// Handle routes a path relative to the services root ("" is the root itself).
func (s *Server) Handle(rel string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[s.path(rel)] = h
}

// JSON serves a fixed JSON document at rel.
func (s *Server) JSON(rel string, doc any) {
	body, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	s.Raw(rel, "application/json", body)
}

// Raw serves a fixed body with the given content type at rel.
func (s *Server) Raw(rel, contentType string, body []byte) {
	s.Handle(rel, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	})
}

// PeerError serves an error envelope with HTTP 200, the way the peer reports failures.
func (s *Server) PeerError(rel string, code int, message string) {
	s.JSON(rel, map[string]any{
		"error": map[string]any{"code": code, "message": message, "details": []string{}},
	})
}

// Hits returns how many requests reached rel.
func (s *Server) Hits(rel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[s.path(rel)]
}

func (s *Server) path(rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return ServicesPath
	}
	return ServicesPath + "/" + rel
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	h, ok := s.handlers[r.URL.Path]
	s.hits[r.URL.Path]++
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}
