package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/spawn-mcp/research-pipeline/pkg/errors"
	"github.com/spawn-mcp/research-pipeline/pkg/orchestrator"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// Service is the orchestrator surface the HTTP API exposes
type Service interface {
	Create(ctx context.Context, req types.ResearchRequest, mode orchestrator.Mode) (*types.ResearchTask, error)
	Get(ctx context.Context, id string) (*types.ResearchTask, error)
	Status(ctx context.Context, id string) (*orchestrator.StatusReport, error)
	Outline(ctx context.Context, id string) (*types.Outline, error)
	Progress(ctx context.Context, id string) (*orchestrator.ProgressReport, error)
	List(ctx context.Context) ([]types.TaskSummary, error)
	ResumeForEdit(ctx context.Context, id string) (*types.ResearchTask, error)
	Cost(ctx context.Context, id string) (types.CostSummary, error)
}

// Handler serves the research REST API
type Handler struct {
	svc Service
}

// New creates a handler
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

type editOnlyRequest struct {
	ResearchID string `json:"research_id"`
}

type costResponse struct {
	ID   string            `json:"id"`
	Cost types.CostSummary `json:"cost_summary"`
}

type listResponse struct {
	Tasks []types.TaskSummary `json:"tasks"`
	Total int                 `json:"total"`
}

// POST /research
func (h *Handler) CreateBasic(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, orchestrator.ModeBasic)
}

// POST /research/complete
func (h *Handler) CreateComplete(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, orchestrator.ModeComplete)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, mode orchestrator.Mode) {
	var req types.ResearchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	task, err := h.svc.Create(r.Context(), req, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GET /research/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GET /research/{id}/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /research/{id}/outline
func (h *Handler) Outline(w http.ResponseWriter, r *http.Request) {
	outline, err := h.svc.Outline(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outline)
}

// GET /research/{id}/progress
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /research
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Tasks: tasks, Total: len(tasks)})
}

// POST /research/edit_only
func (h *Handler) EditOnly(w http.ResponseWriter, r *http.Request) {
	var req editOnlyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.ResearchID) == "" {
		writeError(w, errors.New(errors.KindValidation, errors.CodeMissingRequired, "research_id is required").
			WithDetail("field", "research_id"))
		return
	}
	task, err := h.svc.ResumeForEdit(r.Context(), req.ResearchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GET /research/{id}/cost
func (h *Handler) Cost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, err := h.svc.Cost(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, costResponse{ID: id, Cost: summary})
}

// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, errors.KindValidation, errors.CodeInvalidInput, "invalid JSON body")
	}
	return nil
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string            `json:"code"`
	Kind    errors.Kind       `json:"kind"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	payload := errorPayload{Code: errors.CodeInternal, Kind: errors.KindOf(err), Message: err.Error()}
	if e, ok := errors.As(err); ok {
		payload.Code = e.Code
		payload.Message = e.Message
		payload.Details = e.Details
	}
	if status >= http.StatusInternalServerError {
		log.Printf("Failed to serve request: %v", err)
	}
	writeJSON(w, status, errorBody{Error: payload})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
