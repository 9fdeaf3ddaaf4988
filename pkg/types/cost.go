package types

import "time"

// CostEventType distinguishes billable call kinds
type CostEventType string

const (
	CostEventLLM    CostEventType = "llm"
	CostEventSearch CostEventType = "search"
)

// TimingStatus is the state of a phase or section interval
type TimingStatus string

const (
	TimingPending   TimingStatus = "pending"
	TimingCompleted TimingStatus = "completed"
	TimingFailed    TimingStatus = "failed"
)

// CostEvent is one billable external call record. Events are append-only.
type CostEvent struct {
	Type         CostEventType `json:"type"`
	Timestamp    time.Time     `json:"timestamp"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model,omitempty"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Requests     int           `json:"requests"`
	CostUSD      float64       `json:"cost_usd"`
	Excerpt      string        `json:"excerpt,omitempty"`
	Purpose      string        `json:"purpose,omitempty"`
}

// PhaseTiming records the interval spent in one phase
type PhaseTiming struct {
	Name            string       `json:"name"`
	StartTime       time.Time    `json:"start_time"`
	EndTime         *time.Time   `json:"end_time,omitempty"`
	DurationSeconds *float64     `json:"duration_seconds,omitempty"`
	Status          TimingStatus `json:"status"`
}

// SectionTiming records the interval spent researching one section
type SectionTiming struct {
	ID              string       `json:"id"`
	Title           string       `json:"title,omitempty"`
	StartTime       time.Time    `json:"start_time"`
	EndTime         *time.Time   `json:"end_time,omitempty"`
	DurationSeconds *float64     `json:"duration_seconds,omitempty"`
	Status          TimingStatus `json:"status"`
}

// UsageBreakdown aggregates spend for one model or provider
type UsageBreakdown struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// CostSummary is derived from the event log and never mutated directly
type CostSummary struct {
	TotalCostUSD      float64                   `json:"total_cost_usd"`
	LLMCostUSD        float64                   `json:"llm_cost_usd"`
	SearchCostUSD     float64                   `json:"search_cost_usd"`
	TotalInputTokens  int                       `json:"total_input_tokens"`
	TotalOutputTokens int                       `json:"total_output_tokens"`
	LLMRequests       int                       `json:"llm_requests"`
	SearchRequests    int                       `json:"search_requests"`
	ByModel           map[string]UsageBreakdown `json:"by_model"`
	ByProvider        map[string]UsageBreakdown `json:"by_provider"`
}

// Clone returns a copy with independent breakdown maps.
func (s CostSummary) Clone() CostSummary {
	c := s
	c.ByModel = make(map[string]UsageBreakdown, len(s.ByModel))
	for k, v := range s.ByModel {
		c.ByModel[k] = v
	}
	c.ByProvider = make(map[string]UsageBreakdown, len(s.ByProvider))
	for k, v := range s.ByProvider {
		c.ByProvider[k] = v
	}
	return c
}

// CostRecord is the persisted form of a task's ledger (cost.json)
type CostRecord struct {
	TaskID   string          `json:"task_id"`
	Events   []CostEvent     `json:"events"`
	Phases   []PhaseTiming   `json:"phases"`
	Sections []SectionTiming `json:"sections"`
	Summary  CostSummary     `json:"summary"`
	Updated  time.Time       `json:"updated_at"`
}
