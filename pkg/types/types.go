package types

import (
	"time"
)

// TaskStatus represents the current phase of a research task
type TaskStatus string

const (
	StatusPending     TaskStatus = "PENDING"
	StatusAnalyzing   TaskStatus = "ANALYZING"
	StatusOutlining   TaskStatus = "OUTLINING"
	StatusResearching TaskStatus = "RESEARCHING"
	StatusEditing     TaskStatus = "EDITING"
	StatusCompleted   TaskStatus = "COMPLETED"
	StatusFailed      TaskStatus = "FAILED"
)

// Terminal reports whether no further phase can follow the status.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ResearchRequest is the client-submitted research query
type ResearchRequest struct {
	Query          string `json:"query"`
	Topic          string `json:"topic,omitempty"`
	Scope          string `json:"scope,omitempty"`
	TargetAudience string `json:"target_audience,omitempty"`
}

// Analysis is the normalized output of the analyze phase
type Analysis struct {
	Topic          string         `json:"topic"`
	Scope          string         `json:"scope"`
	TargetAudience string         `json:"target_audience"`
	Raw            map[string]any `json:"raw,omitempty"`
}

// Section is one unit of the outline, researched independently
type Section struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     string   `json:"content,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// Researched reports whether the section carries synthesized content.
func (s Section) Researched() bool {
	return s.Content != ""
}

// Outline is the ordered list of sections produced by the outline phase
type Outline struct {
	Title    string    `json:"title,omitempty"`
	Sections []Section `json:"sections"`
}

// ResearchResult is the edited, merged document
type ResearchResult struct {
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Sections []Section `json:"sections"`
	Sources  []string  `json:"sources"`
}

// ProgressInfo is the latest progress snapshot for a task
type ProgressInfo struct {
	Phase          string         `json:"phase"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
	CurrentSection int            `json:"current_section,omitempty"`
	TotalSections  int            `json:"total_sections,omitempty"`
	SectionTitle   string         `json:"section_title,omitempty"`
	CompletedCount int            `json:"completed_sections,omitempty"`
	FailedCount    int            `json:"failed_sections,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// TaskError is the user-visible failure record of a task
type TaskError struct {
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ResearchTask is one end-to-end research request and its accumulated state
type ResearchTask struct {
	ID         string          `json:"id"`
	Status     TaskStatus      `json:"status"`
	Request    ResearchRequest `json:"request"`
	Analysis   *Analysis       `json:"analysis,omitempty"`
	Outline    *Outline        `json:"outline,omitempty"`
	Sections   []Section       `json:"sections,omitempty"`
	Result     *ResearchResult `json:"result,omitempty"`
	Error      *TaskError      `json:"error,omitempty"`
	PublishURL string          `json:"publish_url,omitempty"`
	Progress   ProgressInfo    `json:"progress_info"`
	Cost       *CostSummary    `json:"cost_summary,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewResearchTask creates a PENDING task for the request.
func NewResearchTask(id string, req ResearchRequest, now time.Time) *ResearchTask {
	return &ResearchTask{
		ID:      id,
		Status:  StatusPending,
		Request: req,
		Progress: ProgressInfo{
			Phase:     "pending",
			Message:   "Research task created",
			Timestamp: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so snapshots can be shared with readers.
func (t *ResearchTask) Clone() *ResearchTask {
	if t == nil {
		return nil
	}
	c := *t
	if t.Analysis != nil {
		a := *t.Analysis
		a.Raw = copyAnyMap(t.Analysis.Raw)
		c.Analysis = &a
	}
	if t.Outline != nil {
		o := *t.Outline
		o.Sections = CloneSections(t.Outline.Sections)
		c.Outline = &o
	}
	c.Sections = CloneSections(t.Sections)
	if t.Result != nil {
		r := *t.Result
		r.Sections = CloneSections(t.Result.Sections)
		r.Sources = append([]string(nil), t.Result.Sources...)
		c.Result = &r
	}
	if t.Error != nil {
		e := *t.Error
		if t.Error.Details != nil {
			e.Details = make(map[string]string, len(t.Error.Details))
			for k, v := range t.Error.Details {
				e.Details[k] = v
			}
		}
		c.Error = &e
	}
	c.Progress.Extra = copyAnyMap(t.Progress.Extra)
	if t.Cost != nil {
		cost := t.Cost.Clone()
		c.Cost = &cost
	}
	return &c
}

// CloneSections deep-copies a section list, preserving nil.
func CloneSections(in []Section) []Section {
	if in == nil {
		return nil
	}
	out := make([]Section, len(in))
	for i, s := range in {
		out[i] = s
		if s.Sources != nil {
			out[i].Sources = append([]string(nil), s.Sources...)
		}
	}
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// TaskSummary is the list-view representation of a task
type TaskSummary struct {
	ID        string     `json:"id"`
	Query     string     `json:"query"`
	Status    TaskStatus `json:"status"`
	Phase     string     `json:"phase"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	HasResult bool       `json:"has_result"`
}

// Summary builds the list-view representation.
func (t *ResearchTask) Summary() TaskSummary {
	return TaskSummary{
		ID:        t.ID,
		Query:     t.Request.Query,
		Status:    t.Status,
		Phase:     t.Progress.Phase,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
		HasResult: t.Result != nil || t.Status == StatusCompleted,
	}
}

// ResearchContext is what a section researcher needs to know about its task
type ResearchContext struct {
	TaskID         string `json:"task_id"`
	Topic          string `json:"topic"`
	Scope          string `json:"scope"`
	TargetAudience string `json:"target_audience"`
}
