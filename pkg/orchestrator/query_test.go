package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/errors"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

func TestListNewestFirstIncludesStoredTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	old := types.NewResearchTask("old", types.ResearchRequest{Query: "old"}, base)
	old.Status = types.StatusCompleted
	if err := h.store.Save(ctx, old); err != nil {
		t.Fatal(err)
	}
	h.orch.now = func() time.Time { return base.Add(time.Hour) }
	fresh := h.create(t, ModeBasic)

	list, err := h.orch.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != fresh.ID || list[1].ID != "old" {
		t.Fatalf("list = %+v", list)
	}
	if !list[1].HasResult {
		t.Error("completed stored task should report a result")
	}
}

func TestStatusCompletionPercentage(t *testing.T) {
	task := types.NewResearchTask("t", types.ResearchRequest{Query: "q"}, time.Now())
	if CompletionPercentage(task) != nil {
		t.Fatal("no percentage outside RESEARCHING")
	}
	task.Status = types.StatusResearching
	task.Progress = types.ProgressInfo{Phase: PhaseResearch, TotalSections: 3, CompletedCount: 1, FailedCount: 1}
	if got := CompletionPercentage(task); got == nil || *got != 66.7 {
		t.Fatalf("completion = %v", got)
	}
}

func TestQueriesOnUnknownTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Status(ctx, "nope"); errors.HTTPStatus(err) != 404 {
		t.Errorf("Status() error = %v", err)
	}
	if _, err := h.orch.Cost(ctx, "nope"); errors.HTTPStatus(err) != 404 {
		t.Errorf("Cost() error = %v", err)
	}
	if _, err := h.orch.Progress(ctx, "nope"); errors.HTTPStatus(err) != 404 {
		t.Errorf("Progress() error = %v", err)
	}
}

func TestOutlineMissingIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.Save(ctx, types.NewResearchTask("p", types.ResearchRequest{Query: "q"}, time.Now())); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Outline(ctx, "p"); !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("Outline() error = %v", err)
	}
}

func TestProgressReport(t *testing.T) {
	h := newHarness(t)
	task := h.create(t, ModeComplete)

	report, err := h.orch.Progress(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Counts.OutlineSections != 3 || report.Counts.ResearchedSections != 3 || report.Counts.Sources != 3 {
		t.Errorf("counts = %+v", report.Counts)
	}
	if len(report.Elapsed.Phases) != 5 || len(report.Elapsed.Sections) != 3 {
		t.Errorf("elapsed = %+v", report.Elapsed)
	}

	outline, err := h.orch.Outline(context.Background(), task.ID)
	if err != nil || len(outline.Sections) != 3 {
		t.Fatalf("Outline() = %+v, %v", outline, err)
	}
	cost, err := h.orch.Cost(context.Background(), task.ID)
	if err != nil || cost.ByModel == nil {
		t.Fatalf("Cost() = %+v, %v", cost, err)
	}
}
