package costledger

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

const excerptLimit = 100

// Persister stores a task's cost record (cost.json)
type Persister interface {
	SaveCost(ctx context.Context, taskID string, record *types.CostRecord) error
	LoadCost(ctx context.Context, taskID string) (*types.CostRecord, error)
}

// Listener receives the recomputed summary after every cost event.
// Errors are logged and never reach the caller of the ledger.
type Listener func(ctx context.Context, taskID string, summary types.CostSummary) error

// LLMCall describes one LLM generation to be billed
type LLMCall struct {
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Prompt       string `json:"prompt,omitempty"`
	Purpose      string `json:"purpose"`
}

// SearchCall describes one search request to be billed. Providers that bill
// by token report token counts; the rest are charged a flat fee.
type SearchCall struct {
	Provider     string `json:"provider"`
	Query        string `json:"query"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	Purpose      string `json:"purpose"`
}

// Ledger is the per-task append-only cost and timing log
type Ledger struct {
	pricing   Pricing
	store     Persister
	now       func() time.Time
	mu        sync.Mutex
	tasks     map[string]*taskLedger
	listeners []Listener
}

type taskLedger struct {
	mu       sync.Mutex
	events   []types.CostEvent
	phases   []types.PhaseTiming
	sections []types.SectionTiming
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the ledger's time source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithListener registers a summary listener
func WithListener(fn Listener) Option {
	return func(l *Ledger) { l.listeners = append(l.listeners, fn) }
}

// New creates a ledger. store may be nil for an in-memory ledger.
func New(pricing Pricing, store Persister, opts ...Option) *Ledger {
	l := &Ledger{
		pricing: pricing,
		store:   store,
		now:     time.Now,
		tasks:   make(map[string]*taskLedger),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddListener registers a summary listener after construction
func (l *Ledger) AddListener(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// entry returns the task's ledger, seeding it from the store on first use
// so that a restarted process continues the existing cost.json.
func (l *Ledger) entry(ctx context.Context, taskID string) *taskLedger {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.tasks[taskID]; ok {
		return t
	}
	t := &taskLedger{}
	if l.store != nil {
		rec, err := l.store.LoadCost(ctx, taskID)
		if err != nil {
			log.Printf("Failed to load cost record for task %s: %v", taskID, err)
		} else if rec != nil {
			t.events = rec.Events
			t.phases = rec.Phases
			t.sections = rec.Sections
		}
	}
	l.tasks[taskID] = t
	return t
}

// LogLLMRequest bills one LLM call and returns its cost
func (l *Ledger) LogLLMRequest(ctx context.Context, taskID string, call LLMCall) float64 {
	cost := 0.0
	if price, ok := l.pricing.modelPrice(call.Model); ok {
		cost = tokenCost(price, call.InputTokens, call.OutputTokens)
	} else {
		log.Printf("Warning: no pricing for model %q, recording zero cost", call.Model)
	}

	l.append(ctx, taskID, types.CostEvent{
		Type:         types.CostEventLLM,
		Timestamp:    l.now(),
		Provider:     call.Provider,
		Model:        call.Model,
		InputTokens:  call.InputTokens,
		OutputTokens: call.OutputTokens,
		Requests:     1,
		CostUSD:      cost,
		Excerpt:      excerpt(call.Prompt),
		Purpose:      call.Purpose,
	})
	return cost
}

// LogSearchRequest bills one search call and returns its cost
func (l *Ledger) LogSearchRequest(ctx context.Context, taskID string, call SearchCall) float64 {
	provider := strings.ToLower(call.Provider)
	model := ""
	cost := 0.0

	if call.InputTokens > 0 || call.OutputTokens > 0 {
		model = provider + "-search"
		if price, ok := l.pricing.Models[model]; ok {
			cost = tokenCost(price, call.InputTokens, call.OutputTokens)
		} else {
			log.Printf("Warning: no pricing for search model %q, recording zero cost", model)
		}
	} else if fee, ok := l.pricing.SearchFees[provider]; ok {
		cost = fee
	} else {
		log.Printf("Warning: no pricing for search provider %q, recording zero cost", provider)
	}

	l.append(ctx, taskID, types.CostEvent{
		Type:         types.CostEventSearch,
		Timestamp:    l.now(),
		Provider:     call.Provider,
		Model:        model,
		InputTokens:  call.InputTokens,
		OutputTokens: call.OutputTokens,
		Requests:     1,
		CostUSD:      cost,
		Excerpt:      excerpt(call.Query),
		Purpose:      call.Purpose,
	})
	return cost
}

func (l *Ledger) append(ctx context.Context, taskID string, event types.CostEvent) {
	t := l.entry(ctx, taskID)

	t.mu.Lock()
	t.events = append(t.events, event)
	rec := l.snapshot(taskID, t)
	l.persist(ctx, rec)
	t.mu.Unlock()

	l.notify(ctx, taskID, rec.Summary)
}

// StartPhase opens (or reopens) the timing record for a phase
func (l *Ledger) StartPhase(ctx context.Context, taskID, name string) {
	t := l.entry(ctx, taskID)
	t.mu.Lock()
	defer t.mu.Unlock()

	timing := types.PhaseTiming{Name: name, StartTime: l.now(), Status: types.TimingPending}
	if i := findPhase(t.phases, name); i >= 0 {
		t.phases[i] = timing
	} else {
		t.phases = append(t.phases, timing)
	}
	l.persist(ctx, l.snapshot(taskID, t))
}

// EndPhase closes a phase timing. Ending an unknown phase records a
// zero-length interval.
func (l *Ledger) EndPhase(ctx context.Context, taskID, name string, status types.TimingStatus) {
	t := l.entry(ctx, taskID)
	t.mu.Lock()
	defer t.mu.Unlock()

	end := l.now()
	i := findPhase(t.phases, name)
	if i < 0 {
		t.phases = append(t.phases, types.PhaseTiming{Name: name, StartTime: end})
		i = len(t.phases) - 1
	}
	p := &t.phases[i]
	p.EndTime = &end
	p.DurationSeconds = duration(p.StartTime, end)
	p.Status = status
	l.persist(ctx, l.snapshot(taskID, t))
}

// StartSection opens (or reopens) the timing record for a section
func (l *Ledger) StartSection(ctx context.Context, taskID, id, title string) {
	t := l.entry(ctx, taskID)
	t.mu.Lock()
	defer t.mu.Unlock()

	timing := types.SectionTiming{ID: id, Title: title, StartTime: l.now(), Status: types.TimingPending}
	if i := findSection(t.sections, id); i >= 0 {
		t.sections[i] = timing
	} else {
		t.sections = append(t.sections, timing)
	}
	l.persist(ctx, l.snapshot(taskID, t))
}

// EndSection closes a section timing
func (l *Ledger) EndSection(ctx context.Context, taskID, id string, status types.TimingStatus) {
	t := l.entry(ctx, taskID)
	t.mu.Lock()
	defer t.mu.Unlock()

	end := l.now()
	i := findSection(t.sections, id)
	if i < 0 {
		t.sections = append(t.sections, types.SectionTiming{ID: id, StartTime: end})
		i = len(t.sections) - 1
	}
	s := &t.sections[i]
	s.EndTime = &end
	s.DurationSeconds = duration(s.StartTime, end)
	s.Status = status
	l.persist(ctx, l.snapshot(taskID, t))
}

// Summary recomputes the cost summary from the task's full event log
func (l *Ledger) Summary(ctx context.Context, taskID string) types.CostSummary {
	t := l.entry(ctx, taskID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summarize(t.events)
}

// Record returns a copy of the task's events, timings and summary
func (l *Ledger) Record(ctx context.Context, taskID string) *types.CostRecord {
	t := l.entry(ctx, taskID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return l.snapshot(taskID, t)
}

// Forget drops the in-memory entry for a task. The persisted record stays.
func (l *Ledger) Forget(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tasks, taskID)
}

// snapshot must be called with t.mu held
func (l *Ledger) snapshot(taskID string, t *taskLedger) *types.CostRecord {
	rec := &types.CostRecord{
		TaskID:   taskID,
		Events:   append([]types.CostEvent{}, t.events...),
		Phases:   make([]types.PhaseTiming, len(t.phases)),
		Sections: make([]types.SectionTiming, len(t.sections)),
		Summary:  Summarize(t.events),
		Updated:  l.now(),
	}
	copy(rec.Phases, t.phases)
	copy(rec.Sections, t.sections)
	return rec
}

func (l *Ledger) persist(ctx context.Context, rec *types.CostRecord) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveCost(ctx, rec.TaskID, rec); err != nil {
		log.Printf("Failed to persist cost record for task %s: %v", rec.TaskID, err)
	}
}

func (l *Ledger) notify(ctx context.Context, taskID string, summary types.CostSummary) {
	l.mu.Lock()
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		if err := fn(ctx, taskID, summary.Clone()); err != nil {
			log.Printf("Failed to mirror cost for task %s: %v", taskID, err)
		}
	}
}

// Summarize folds an event list into a summary
func Summarize(events []types.CostEvent) types.CostSummary {
	s := types.CostSummary{
		ByModel:    make(map[string]types.UsageBreakdown),
		ByProvider: make(map[string]types.UsageBreakdown),
	}
	for _, e := range events {
		s.TotalCostUSD += e.CostUSD
		s.TotalInputTokens += e.InputTokens
		s.TotalOutputTokens += e.OutputTokens

		switch e.Type {
		case types.CostEventLLM:
			s.LLMCostUSD += e.CostUSD
			s.LLMRequests += e.Requests
		case types.CostEventSearch:
			s.SearchCostUSD += e.CostUSD
			s.SearchRequests += e.Requests
		}

		if e.Model != "" {
			s.ByModel[e.Model] = addUsage(s.ByModel[e.Model], e)
		}
		if e.Provider != "" {
			s.ByProvider[e.Provider] = addUsage(s.ByProvider[e.Provider], e)
		}
	}
	return s
}

func addUsage(u types.UsageBreakdown, e types.CostEvent) types.UsageBreakdown {
	u.Requests += e.Requests
	u.InputTokens += e.InputTokens
	u.OutputTokens += e.OutputTokens
	u.CostUSD += e.CostUSD
	return u
}

func findPhase(phases []types.PhaseTiming, name string) int {
	for i := range phases {
		if phases[i].Name == name {
			return i
		}
	}
	return -1
}

func findSection(sections []types.SectionTiming, id string) int {
	for i := range sections {
		if sections[i].ID == id {
			return i
		}
	}
	return -1
}

func duration(start, end time.Time) *float64 {
	d := end.Sub(start).Seconds()
	if d < 0 {
		d = 0
	}
	return &d
}

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= excerptLimit {
		return text
	}
	return string(r[:excerptLimit]) + "..."
}
