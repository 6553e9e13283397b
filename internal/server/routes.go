package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Websets
	mux.HandleFunc("/api/websets", s.handleWebsetsRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/websets/", s.handleWebsetRoutes) // GET /{id}, /{id}/stream, /{id}/ws

	// API routes - History (the /api/websets GET forms remain as aliases)
	mux.HandleFunc("/api/history/websets", s.app.HistoryHandler.ListHandler)
	mux.HandleFunc("/api/history/websets/", s.app.HistoryHandler.DetailHandler)

	// API routes - Stats
	mux.HandleFunc("/api/stats", s.app.StatsHandler.OverviewHandler)
	mux.HandleFunc("/api/stats/overview", s.app.StatsHandler.OverviewHandler)
	mux.HandleFunc("/api/stats/database", s.app.StatsHandler.DatabaseHandler)
	mux.HandleFunc("/api/stats/url-resolution", s.app.StatsHandler.URLResolutionHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	return mux
}

// handleWebsetsRoute dispatches /api/websets by method.
func (s *Server) handleWebsetsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.app.WebsetHandler.CreateHandler(w, r)
	case http.MethodGet:
		s.app.HistoryHandler.ListHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWebsetRoutes dispatches /api/websets/{id} and its subpaths.
func (s *Server) handleWebsetRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/websets/")
	switch {
	case strings.HasSuffix(rest, "/stream"):
		s.app.StreamHandler.StreamHandler(w, r)
	case strings.HasSuffix(rest, "/ws"):
		s.app.WSHandler.StreamHandler(w, r)
	case rest != "" && !strings.Contains(rest, "/"):
		s.app.HistoryHandler.DetailHandler(w, r)
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}
