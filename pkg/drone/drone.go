// Package drone runs section research out of process. A drone is an HTTP
// service wrapping a section researcher; the orchestrator reaches it
// through Remote.
package drone

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/costledger"
	"github.com/spawn-mcp/research-pipeline/pkg/researcher"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// SectionResearcher fills in one outline section
type SectionResearcher interface {
	Research(ctx context.Context, section types.Section, rc types.ResearchContext) (types.Section, error)
}

// Factory builds a researcher that bills its calls to ledger
type Factory func(ledger researcher.Ledger) SectionResearcher

// sectionRequest is the input payload for the drone section endpoint
type sectionRequest struct {
	Section types.Section         `json:"section"`
	Context types.ResearchContext `json:"context"`
}

// sectionResponse is the researched section plus the calls it cost, so
// the orchestrator can bill them to the task
type sectionResponse struct {
	Section     types.Section           `json:"section"`
	LLMCalls    []costledger.LLMCall    `json:"llm_calls,omitempty"`
	SearchCalls []costledger.SearchCall `json:"search_calls,omitempty"`
	DroneID     string                  `json:"drone_id"`
	DurationS   float64                 `json:"duration_s"`
	Timestamp   time.Time               `json:"timestamp"`
}

// callLog collects the calls of one request
type callLog struct {
	mu     sync.Mutex
	llm    []costledger.LLMCall
	search []costledger.SearchCall
}

func (c *callLog) LogLLMRequest(ctx context.Context, taskID string, call costledger.LLMCall) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.llm = append(c.llm, call)
	return 0
}

func (c *callLog) LogSearchRequest(ctx context.Context, taskID string, call costledger.SearchCall) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.search = append(c.search, call)
	return 0
}

// errorResponse still reports the calls made before the failure; they are
// billed like those of a successful section
type errorResponse struct {
	Error       string                  `json:"error"`
	LLMCalls    []costledger.LLMCall    `json:"llm_calls,omitempty"`
	SearchCalls []costledger.SearchCall `json:"search_calls,omitempty"`
}

// Handler serves section research for one drone
type Handler struct {
	droneID string
	factory Factory
}

// NewHandler creates the drone HTTP handler
func NewHandler(droneID string, factory Factory) *Handler {
	return &Handler{droneID: droneID, factory: factory}
}

// Routes registers the drone endpoints
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /section", h.section)
	return mux
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) section(w http.ResponseWriter, r *http.Request) {
	var req sectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	if req.Section.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "section title is required"})
		return
	}

	start := time.Now()
	log.Printf("Drone %s researching section %q for task %s", h.droneID, req.Section.Title, req.Context.TaskID)
	calls := &callLog{}
	out, err := h.factory(calls).Research(r.Context(), req.Section, req.Context)
	if err != nil {
		log.Printf("Drone %s failed section %q: %v", h.droneID, req.Section.Title, err)
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:       err.Error(),
			LLMCalls:    calls.llm,
			SearchCalls: calls.search,
		})
		return
	}

	writeJSON(w, http.StatusOK, sectionResponse{
		Section:     out,
		LLMCalls:    calls.llm,
		SearchCalls: calls.search,
		DroneID:     h.droneID,
		DurationS:   time.Since(start).Seconds(),
		Timestamp:   time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write drone response: %v", err)
	}
}
