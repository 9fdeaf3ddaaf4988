package api

import "net/http"

// NewRouter wires the handler onto a ServeMux
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /research", h.CreateBasic)
	mux.HandleFunc("POST /research/complete", h.CreateComplete)
	mux.HandleFunc("POST /research/edit_only", h.EditOnly)
	mux.HandleFunc("GET /research", h.List)
	mux.HandleFunc("GET /research/{id}", h.Get)
	mux.HandleFunc("GET /research/{id}/status", h.Status)
	mux.HandleFunc("GET /research/{id}/outline", h.Outline)
	mux.HandleFunc("GET /research/{id}/progress", h.Progress)
	mux.HandleFunc("GET /research/{id}/cost", h.Cost)

	return mux
}
