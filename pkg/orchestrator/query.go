package orchestrator

import (
	"context"
	"log"
	"math"
	"sort"

	"github.com/spawn-mcp/research-pipeline/pkg/errors"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// Get returns the task with outline, sections and result backfilled from
// the store where the registry copy lacks them.
func (o *Orchestrator) Get(ctx context.Context, id string) (*types.ResearchTask, error) {
	task := o.Registry.Get(id)
	if task == nil {
		loaded, err := o.Store.LoadFull(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to load task")
		}
		if loaded == nil {
			return nil, errors.NotFound("research task", id)
		}
		o.Registry.Put(loaded)
		return loaded, nil
	}

	if err := o.Store.Backfill(ctx, task); err != nil {
		return nil, errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to load task")
	}
	return task, nil
}

// List returns summaries of every known task, newest first. Tasks only
// present in the store are included.
func (o *Orchestrator) List(ctx context.Context) ([]types.TaskSummary, error) {
	byID := make(map[string]types.TaskSummary)
	for _, t := range o.Registry.List() {
		byID[t.ID] = t.Summary()
	}

	ids, err := o.Store.ListIDs(ctx)
	if err != nil {
		log.Printf("Failed to list stored tasks: %v", err)
	}
	for _, id := range ids {
		if _, ok := byID[id]; ok {
			continue
		}
		t, err := o.Store.Load(ctx, id)
		if err != nil {
			log.Printf("Failed to load task %s: %v", id, err)
			continue
		}
		if t != nil {
			byID[id] = t.Summary()
		}
	}

	out := make([]types.TaskSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Cost recomputes the task's cost summary
func (o *Orchestrator) Cost(ctx context.Context, id string) (types.CostSummary, error) {
	if err := o.exists(ctx, id); err != nil {
		return types.CostSummary{}, err
	}
	return o.Ledger.Summary(ctx, id), nil
}

// StatusReport is the status endpoint view of a task
type StatusReport struct {
	ID                   string             `json:"id"`
	Status               types.TaskStatus   `json:"status"`
	Progress             types.ProgressInfo `json:"progress_info"`
	CompletionPercentage *float64           `json:"completion_percentage,omitempty"`
	PublishURL           string             `json:"publish_url,omitempty"`
	Error                *types.TaskError   `json:"error,omitempty"`
}

// Status returns the task status with a completion percentage while researching
func (o *Orchestrator) Status(ctx context.Context, id string) (*StatusReport, error) {
	task, err := o.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		ID:                   task.ID,
		Status:               task.Status,
		Progress:             task.Progress,
		CompletionPercentage: CompletionPercentage(task),
		PublishURL:           task.PublishURL,
		Error:                task.Error,
	}, nil
}

// CompletionPercentage is the share of sections processed while a task is
// RESEARCHING, nil otherwise.
func CompletionPercentage(task *types.ResearchTask) *float64 {
	if task.Status != types.StatusResearching {
		return nil
	}
	p := task.Progress
	pct := 0.0
	switch {
	case p.Phase == PhaseResearchComplete:
		pct = 100
	case p.TotalSections > 0:
		pct = float64(p.CompletedCount+p.FailedCount) / float64(p.TotalSections) * 100
	}
	pct = math.Round(pct*10) / 10
	return &pct
}

// ProgressReport is the progress endpoint view: status plus time and
// section accounting.
type ProgressReport struct {
	ID       string             `json:"id"`
	Status   types.TaskStatus   `json:"status"`
	Progress types.ProgressInfo `json:"progress_info"`
	Elapsed  Elapsed            `json:"elapsed"`
	Counts   Counts             `json:"counts"`
}

// Elapsed breaks down where a task's time went
type Elapsed struct {
	TotalSeconds float64               `json:"total_seconds"`
	Phases       []types.PhaseTiming   `json:"phases"`
	Sections     []types.SectionTiming `json:"sections"`
}

// Counts summarizes section and source progress
type Counts struct {
	OutlineSections    int `json:"outline_sections"`
	ResearchedSections int `json:"researched_sections"`
	FailedSections     int `json:"failed_sections"`
	Sources            int `json:"sources"`
}

// Progress returns the task's progress with timing and count breakdowns
func (o *Orchestrator) Progress(ctx context.Context, id string) (*ProgressReport, error) {
	task, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := o.Ledger.Record(ctx, id)

	end := o.now()
	if task.Status.Terminal() {
		end = task.UpdatedAt
	}
	report := &ProgressReport{
		ID:       task.ID,
		Status:   task.Status,
		Progress: task.Progress,
		Elapsed: Elapsed{
			TotalSeconds: math.Max(0, end.Sub(task.CreatedAt).Seconds()),
			Phases:       rec.Phases,
			Sections:     rec.Sections,
		},
		Counts: Counts{ResearchedSections: len(task.Sections)},
	}
	if task.Outline != nil {
		report.Counts.OutlineSections = len(task.Outline.Sections)
	}
	for _, s := range rec.Sections {
		if s.Status == types.TimingFailed {
			report.Counts.FailedSections++
		}
	}
	seen := make(map[string]bool)
	for _, s := range task.Sections {
		for _, src := range s.Sources {
			seen[src] = true
		}
	}
	report.Counts.Sources = len(seen)
	return report, nil
}

// Outline returns the task's outline; a task without one is NotFound
func (o *Orchestrator) Outline(ctx context.Context, id string) (*types.Outline, error) {
	task, err := o.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	outline := task.Outline
	if outline == nil {
		if outline, err = o.Store.LoadOutline(ctx, id); err != nil {
			return nil, errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to load outline")
		}
	}
	if outline == nil {
		return nil, errors.NotFound("outline for task", id)
	}
	return outline, nil
}

// RecoverInterrupted marks tasks that were mid-run when the process stopped
// as FAILED. Basic runs that finished research are left as they are.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	ids, err := o.Store.ListIDs(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to list tasks")
	}
	recovered := 0
	for _, id := range ids {
		if o.Running(id) {
			continue
		}
		task, err := o.Store.LoadFull(ctx, id)
		if err != nil || task == nil {
			if err != nil {
				log.Printf("Failed to load task %s during recovery: %v", id, err)
			}
			continue
		}
		if task.Status.Terminal() || (task.Status == types.StatusResearching && task.Progress.Phase == PhaseResearchComplete) {
			continue
		}
		o.fail(ctx, task, errors.New(errors.KindOrchestration, errors.CodeInternal, "interrupted by process restart"))
		recovered++
	}
	return recovered, nil
}

// lookup reads the task snapshot without backfilling components
func (o *Orchestrator) lookup(ctx context.Context, id string) (*types.ResearchTask, error) {
	if task := o.Registry.Get(id); task != nil {
		return task, nil
	}
	task, err := o.Store.Load(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to load task")
	}
	if task == nil {
		return nil, errors.NotFound("research task", id)
	}
	return task, nil
}

func (o *Orchestrator) exists(ctx context.Context, id string) error {
	_, err := o.lookup(ctx, id)
	return err
}
