package orchestrator

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spawn-mcp/research-pipeline/pkg/editor"
	"github.com/spawn-mcp/research-pipeline/pkg/errors"
	"github.com/spawn-mcp/research-pipeline/pkg/events"
	"github.com/spawn-mcp/research-pipeline/pkg/publish"
	"github.com/spawn-mcp/research-pipeline/pkg/registry"
	"github.com/spawn-mcp/research-pipeline/pkg/store"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// Mode selects how far a run goes
type Mode string

const (
	// ModeBasic stops once every section has been researched
	ModeBasic Mode = "basic"
	// ModeComplete continues through editing and publishing
	ModeComplete Mode = "complete"
)

// Preparer analyzes a request and drafts its outline
type Preparer interface {
	Analyze(ctx context.Context, taskID string, req types.ResearchRequest) (map[string]any, error)
	Outline(ctx context.Context, taskID string, req types.ResearchRequest, analysis types.Analysis) (*types.Outline, error)
}

// SectionResearcher fills in one outline section
type SectionResearcher interface {
	Research(ctx context.Context, section types.Section, rc types.ResearchContext) (types.Section, error)
}

// Editor merges researched sections into the final result
type Editor interface {
	Edit(ctx context.Context, taskID string, in editor.Input) (*types.ResearchResult, error)
}

// Ledger is the cost and timing surface the orchestrator drives
type Ledger interface {
	StartPhase(ctx context.Context, taskID, name string)
	EndPhase(ctx context.Context, taskID, name string, status types.TimingStatus)
	StartSection(ctx context.Context, taskID, id, title string)
	EndSection(ctx context.Context, taskID, id string, status types.TimingStatus)
	Summary(ctx context.Context, taskID string) types.CostSummary
	Record(ctx context.Context, taskID string) *types.CostRecord
}

// Scheduler runs background work
type Scheduler interface {
	Go(name string, fn func(ctx context.Context)) error
}

// Deps are the collaborators of an Orchestrator. Publisher and Events may be nil.
type Deps struct {
	Preparer   Preparer
	Researcher SectionResearcher
	Editor     Editor
	Publisher  publish.Publisher
	Store      store.TaskStore
	Ledger     Ledger
	Registry   *registry.Registry
	Events     events.Publisher
	Scheduler  Scheduler
}

// Orchestrator drives research tasks through their phases
type Orchestrator struct {
	Deps
	now func() time.Time

	mu     sync.Mutex
	active map[string]bool

	// saveMu orders snapshot writes so a cost mirror never stores a stale status
	saveMu sync.Mutex
}

// New creates an orchestrator
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		Deps:   deps,
		now:    time.Now,
		active: make(map[string]bool),
	}
}

// Create registers a PENDING task for req and schedules its run
func (o *Orchestrator) Create(ctx context.Context, req types.ResearchRequest, mode Mode) (*types.ResearchTask, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, errors.New(errors.KindValidation, errors.CodeMissingRequired, "query is required").
			WithDetail("field", "query")
	}
	if mode != ModeBasic && mode != ModeComplete {
		return nil, errors.New(errors.KindValidation, errors.CodeInvalidInput, fmt.Sprintf("unknown mode %q", mode))
	}

	task := types.NewResearchTask(uuid.New().String(), req, o.now())
	if err := o.persist(ctx, task); err != nil {
		return nil, err
	}
	log.Printf("Task %s: created (%s run) for %q", task.ID, mode, req.Query)

	o.claim(task.ID)
	err := o.Scheduler.Go(task.ID, func(ctx context.Context) {
		o.Run(ctx, task.ID, req, mode)
	})
	if err != nil {
		o.release(task.ID)
		werr := errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to schedule run")
		o.fail(ctx, task, werr)
		return nil, werr
	}
	return task.Clone(), nil
}

// Run executes a task from PENDING. It never returns an error: failures
// and panics leave the task FAILED with the error recorded.
func (o *Orchestrator) Run(ctx context.Context, taskID string, req types.ResearchRequest, mode Mode) {
	defer o.release(taskID)

	task := o.Registry.Get(taskID)
	if task == nil {
		task = types.NewResearchTask(taskID, req, o.now())
	}
	defer o.recoverPanic(ctx, task)

	if err := o.runPhases(ctx, task, mode); err != nil {
		o.fail(ctx, task, err)
	}
}

func (o *Orchestrator) runPhases(ctx context.Context, task *types.ResearchTask, mode Mode) error {
	if err := o.analyze(ctx, task); err != nil {
		return err
	}
	if err := o.outline(ctx, task); err != nil {
		return err
	}
	if err := o.research(ctx, task); err != nil {
		return err
	}

	if mode == ModeBasic {
		task.Progress = types.ProgressInfo{
			Phase:          PhaseResearchComplete,
			Message:        fmt.Sprintf("Research complete: %d of %d sections researched", len(task.Sections), len(task.Outline.Sections)),
			Timestamp:      o.now(),
			TotalSections:  len(task.Outline.Sections),
			CompletedCount: len(task.Sections),
			FailedCount:    len(task.Outline.Sections) - len(task.Sections),
		}
		return o.persist(ctx, task)
	}

	if err := o.transition(ctx, task, types.StatusEditing, PhaseEdit, "Editing the final document"); err != nil {
		return err
	}
	return o.editAndPublish(ctx, task)
}

func (o *Orchestrator) analyze(ctx context.Context, task *types.ResearchTask) error {
	if err := o.transition(ctx, task, types.StatusAnalyzing, PhaseAnalyze, "Analyzing the research request"); err != nil {
		return err
	}
	o.Ledger.StartPhase(ctx, task.ID, PhaseAnalyze)

	raw, err := o.Preparer.Analyze(ctx, task.ID, task.Request)
	if err != nil {
		o.Ledger.EndPhase(ctx, task.ID, PhaseAnalyze, types.TimingFailed)
		return errors.Wrap(err, errors.KindPrepare, errors.CodeAnalyzeFailed, "failed to analyze request")
	}
	analysis := NormalizeAnalysis(raw, task.Request)
	task.Analysis = &analysis
	o.Ledger.EndPhase(ctx, task.ID, PhaseAnalyze, types.TimingCompleted)
	return nil
}

func (o *Orchestrator) outline(ctx context.Context, task *types.ResearchTask) error {
	if err := o.transition(ctx, task, types.StatusOutlining, PhaseOutline, fmt.Sprintf("Drafting an outline for %q", task.Analysis.Topic)); err != nil {
		return err
	}
	o.Ledger.StartPhase(ctx, task.ID, PhaseOutline)

	outline, err := o.Preparer.Outline(ctx, task.ID, task.Request, *task.Analysis)
	if err == nil && (outline == nil || len(outline.Sections) == 0) {
		err = fmt.Errorf("outline has no sections")
	}
	if err != nil {
		o.Ledger.EndPhase(ctx, task.ID, PhaseOutline, types.TimingFailed)
		return errors.Wrap(err, errors.KindPrepare, errors.CodeOutlineFailed, "failed to create outline")
	}
	if outline.Title == "" {
		outline.Title = task.Analysis.Topic
	}
	for i := range outline.Sections {
		outline.Sections[i].Content = ""
		outline.Sections[i].Sources = nil
	}

	task.Outline = outline
	if err := o.Store.SaveOutline(ctx, task.ID, outline); err != nil {
		o.Ledger.EndPhase(ctx, task.ID, PhaseOutline, types.TimingFailed)
		return errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to save outline")
	}
	o.Ledger.EndPhase(ctx, task.ID, PhaseOutline, types.TimingCompleted)
	return nil
}

// research runs the sections one after another. A section that fails or
// comes back empty is left out; the phase itself only fails on
// persistence errors or cancellation.
func (o *Orchestrator) research(ctx context.Context, task *types.ResearchTask) error {
	sections := task.Outline.Sections
	total := len(sections)
	if err := o.transition(ctx, task, types.StatusResearching, PhaseResearch, fmt.Sprintf("Researching %d sections", total)); err != nil {
		return err
	}
	o.Ledger.StartPhase(ctx, task.ID, PhaseResearch)

	rc := types.ResearchContext{
		TaskID:         task.ID,
		Topic:          task.Analysis.Topic,
		Scope:          task.Analysis.Scope,
		TargetAudience: task.Analysis.TargetAudience,
	}

	researched := make([]types.Section, 0, total)
	failed := 0
	for i, section := range sections {
		if err := ctx.Err(); err != nil {
			o.Ledger.EndPhase(ctx, task.ID, PhaseResearch, types.TimingFailed)
			return errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "research interrupted")
		}

		task.Progress = types.ProgressInfo{
			Phase:          PhaseResearch,
			Message:        fmt.Sprintf("Researching section %d/%d: %s", i+1, total, section.Title),
			Timestamp:      o.now(),
			CurrentSection: i + 1,
			TotalSections:  total,
			SectionTitle:   section.Title,
			CompletedCount: len(researched),
			FailedCount:    failed,
		}
		if err := o.persist(ctx, task); err != nil {
			o.Ledger.EndPhase(ctx, task.ID, PhaseResearch, types.TimingFailed)
			return err
		}

		sectionID := fmt.Sprintf("section_%d", i+1)
		o.Ledger.StartSection(ctx, task.ID, sectionID, section.Title)

		out, err := o.Researcher.Research(ctx, section, rc)
		if err == nil && !out.Researched() {
			err = fmt.Errorf("no content produced")
		}
		if err != nil {
			serr := errors.Wrap(err, errors.KindResearchSection, errors.CodeSectionFailed, fmt.Sprintf("section %q failed", section.Title))
			log.Printf("Task %s: skipping section %d/%d: %v", task.ID, i+1, total, serr)
			o.Ledger.EndSection(ctx, task.ID, sectionID, types.TimingFailed)
			failed++
			continue
		}
		o.Ledger.EndSection(ctx, task.ID, sectionID, types.TimingCompleted)

		researched = append(researched, out)
		task.Sections = types.CloneSections(researched)
		if err := o.Store.SaveSections(ctx, task.ID, task.Sections); err != nil {
			o.Ledger.EndPhase(ctx, task.ID, PhaseResearch, types.TimingFailed)
			return errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to save sections")
		}
	}

	task.Sections = researched
	if err := o.Store.SaveSections(ctx, task.ID, task.Sections); err != nil {
		o.Ledger.EndPhase(ctx, task.ID, PhaseResearch, types.TimingFailed)
		return errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to save sections")
	}
	o.Ledger.EndPhase(ctx, task.ID, PhaseResearch, types.TimingCompleted)
	log.Printf("Task %s: researched %d of %d sections", task.ID, len(researched), total)
	return nil
}

// editAndPublish expects the task to already be EDITING
func (o *Orchestrator) editAndPublish(ctx context.Context, task *types.ResearchTask) error {
	o.Ledger.StartPhase(ctx, task.ID, PhaseEdit)

	analysis := NormalizeAnalysis(nil, task.Request)
	if task.Analysis != nil {
		analysis = *task.Analysis
	}
	title := ""
	if task.Outline != nil {
		title = task.Outline.Title
	}

	result, err := o.Editor.Edit(ctx, task.ID, editor.Input{
		Query:    task.Request.Query,
		Analysis: analysis,
		Title:    title,
		Sections: types.CloneSections(task.Sections),
	})
	if err != nil {
		o.Ledger.EndPhase(ctx, task.ID, PhaseEdit, types.TimingFailed)
		return errors.Wrap(err, errors.KindEdit, errors.CodeEditFailed, "failed to edit document")
	}

	task.Result = result
	if err := o.Store.SaveResult(ctx, task.ID, result); err != nil {
		o.Ledger.EndPhase(ctx, task.ID, PhaseEdit, types.TimingFailed)
		return errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to save result")
	}
	o.Ledger.EndPhase(ctx, task.ID, PhaseEdit, types.TimingCompleted)

	o.publish(ctx, task)

	return o.transition(ctx, task, types.StatusCompleted, PhaseCompleted, "Research completed")
}

// publish pushes the rendered document. Failures only cost the publish URL.
func (o *Orchestrator) publish(ctx context.Context, task *types.ResearchTask) {
	task.PublishURL = ""
	if o.Publisher == nil {
		return
	}

	task.Progress = types.ProgressInfo{Phase: PhasePublish, Message: "Publishing the document", Timestamp: o.now()}
	if err := o.persist(ctx, task); err != nil {
		log.Printf("Failed to persist publish progress for task %s: %v", task.ID, err)
	}

	o.Ledger.StartPhase(ctx, task.ID, PhasePublish)
	path := publish.DocumentPath(task.ID, task.Result.Title)
	url, err := o.Publisher.Publish(ctx, path, publish.RenderMarkdown(task.Result))
	if err != nil {
		perr := errors.Wrap(err, errors.KindPublish, errors.CodePublishFailed, "failed to publish document")
		log.Printf("Task %s: %v", task.ID, perr)
		o.Ledger.EndPhase(ctx, task.ID, PhasePublish, types.TimingFailed)
		return
	}
	task.PublishURL = url
	o.Ledger.EndPhase(ctx, task.ID, PhasePublish, types.TimingCompleted)
	log.Printf("Task %s: published to %s", task.ID, url)
}

// ResumeForEdit restarts a task whose research is done at EDITING and
// schedules edit and publish. Missing prerequisites are a ValidationError
// and leave the task untouched.
func (o *Orchestrator) ResumeForEdit(ctx context.Context, taskID string) (*types.ResearchTask, error) {
	task, err := o.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.TrimSpace(task.Request.Query) == "":
		return nil, errors.Validation("task has no research request").WithDetail("missing", "request")
	case task.Outline == nil || len(task.Outline.Sections) == 0:
		return nil, errors.Validation("task has no outline").WithDetail("missing", "outline")
	case len(task.Sections) == 0:
		return nil, errors.Validation("task has no researched sections").WithDetail("missing", "sections")
	}
	if !o.claim(taskID) {
		return nil, errors.Validation("task is still running").WithDetail("status", string(task.Status))
	}
	if task.Status != types.StatusResearching && task.Status != types.StatusEditing {
		if err := ValidateTransition(task.Status, types.StatusEditing); err != nil {
			o.release(taskID)
			return nil, errors.Validation(fmt.Sprintf("cannot edit a task in status %s", task.Status))
		}
	}

	task.Error = nil
	if err := o.transition(ctx, task, types.StatusEditing, PhaseEdit, "Editing the final document"); err != nil {
		o.release(taskID)
		return nil, err
	}

	// the background edit owns task from here on
	snapshot := task.Clone()
	err = o.Scheduler.Go(taskID, func(ctx context.Context) {
		defer o.release(taskID)
		defer o.recoverPanic(ctx, task)
		if err := o.editAndPublish(ctx, task); err != nil {
			o.fail(ctx, task, err)
		}
	})
	if err != nil {
		o.release(taskID)
		werr := errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to schedule edit")
		o.fail(ctx, task, werr)
		return nil, werr
	}
	return snapshot, nil
}

// transition moves the task to status, then records progress and persists.
// Re-entering EDITING from EDITING is permitted for edit-only restarts.
func (o *Orchestrator) transition(ctx context.Context, task *types.ResearchTask, status types.TaskStatus, phase, message string) error {
	if !(task.Status == types.StatusEditing && status == types.StatusEditing) {
		if err := ValidateTransition(task.Status, status); err != nil {
			return err
		}
	}
	task.Status = status
	task.Progress = types.ProgressInfo{Phase: phase, Message: message, Timestamp: o.now()}
	if err := o.persist(ctx, task); err != nil {
		return err
	}
	o.emit(ctx, task)
	return nil
}

// persist attaches the current cost, writes the snapshot without its
// components and refreshes the registry copy.
func (o *Orchestrator) persist(ctx context.Context, task *types.ResearchTask) error {
	task.UpdatedAt = o.now()
	summary := o.Ledger.Summary(ctx, task.ID)
	task.Cost = &summary

	snapshot := task.Clone()
	snapshot.Outline, snapshot.Sections, snapshot.Result = nil, nil, nil

	o.saveMu.Lock()
	defer o.saveMu.Unlock()
	o.Registry.Put(task)
	if err := o.Store.Save(ctx, snapshot); err != nil {
		return errors.Wrap(err, errors.KindOrchestration, errors.CodeInternal, "failed to save task")
	}
	return nil
}

// MirrorCost copies a fresh cost summary into the cached and stored
// snapshots of a task this process tracks. Unknown tasks are ignored.
func (o *Orchestrator) MirrorCost(ctx context.Context, taskID string, summary types.CostSummary) error {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()
	if !o.Registry.SetCost(taskID, summary) {
		return nil
	}
	snapshot := o.Registry.Get(taskID)
	snapshot.Outline, snapshot.Sections, snapshot.Result = nil, nil, nil
	return o.Store.Save(ctx, snapshot)
}

func (o *Orchestrator) emit(ctx context.Context, task *types.ResearchTask) {
	if o.Events == nil {
		return
	}
	if err := o.Events.Publish(ctx, events.FromTask(task)); err != nil {
		log.Printf("Failed to publish status event for task %s: %v", task.ID, err)
	}
}

// fail records err on the task and moves it to FAILED
func (o *Orchestrator) fail(ctx context.Context, task *types.ResearchTask, err error) {
	phase := phaseOf(task.Status)
	log.Printf("Task %s: failed during %s: %v", task.ID, phase, err)

	details := map[string]string{
		"error": err.Error(),
		"kind":  string(errors.KindOf(err)),
		"phase": phase,
	}
	if e, ok := errors.As(err); ok {
		details["code"] = e.Code
		if raw, ok := e.Details["error"]; ok {
			details["error"] = raw
		}
	}
	task.Error = &types.TaskError{Message: err.Error(), Details: details}

	if task.Status != types.StatusFailed {
		if verr := ValidateTransition(task.Status, types.StatusFailed); verr != nil {
			log.Printf("Task %s: %v", task.ID, verr)
		}
	}
	task.Status = types.StatusFailed
	task.Progress = types.ProgressInfo{Phase: PhaseFailed, Message: err.Error(), Timestamp: o.now()}

	// the run context may already be cancelled; the failure must still land
	saveCtx := context.WithoutCancel(ctx)
	if perr := o.persist(saveCtx, task); perr != nil {
		log.Printf("Failed to persist failure of task %s: %v", task.ID, perr)
	}
	o.emit(saveCtx, task)
}

func (o *Orchestrator) recoverPanic(ctx context.Context, task *types.ResearchTask) {
	if r := recover(); r != nil {
		log.Printf("Task %s: panic: %v\n%s", task.ID, r, debug.Stack())
		o.fail(ctx, task, errors.New(errors.KindOrchestration, errors.CodePanic, fmt.Sprintf("panic: %v", r)))
	}
}

// claim marks a task as owned by a run; it reports false when already owned
func (o *Orchestrator) claim(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[id] {
		return false
	}
	o.active[id] = true
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, id)
}

// Running reports whether a run currently owns the task
func (o *Orchestrator) Running(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[id]
}
