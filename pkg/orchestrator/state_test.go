package orchestrator

import (
	"testing"

	"github.com/spawn-mcp/research-pipeline/pkg/errors"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

func TestValidateTransitionValidMatrix(t *testing.T) {
	t.Parallel()

	valid := [][2]types.TaskStatus{
		{types.StatusPending, types.StatusAnalyzing},
		{types.StatusAnalyzing, types.StatusOutlining},
		{types.StatusOutlining, types.StatusResearching},
		{types.StatusResearching, types.StatusEditing},
		{types.StatusEditing, types.StatusCompleted},
		{types.StatusPending, types.StatusFailed},
		{types.StatusResearching, types.StatusFailed},
		{types.StatusEditing, types.StatusFailed},
		{types.StatusCompleted, types.StatusEditing},
		{types.StatusFailed, types.StatusEditing},
	}
	for _, pair := range valid {
		if err := ValidateTransition(pair[0], pair[1]); err != nil {
			t.Fatalf("expected valid transition %s->%s, got %v", pair[0], pair[1], err)
		}
	}
}

func TestValidateTransitionInvalid(t *testing.T) {
	t.Parallel()

	invalid := [][2]types.TaskStatus{
		{types.StatusPending, types.StatusOutlining},
		{types.StatusAnalyzing, types.StatusResearching},
		{types.StatusOutlining, types.StatusAnalyzing},
		{types.StatusCompleted, types.StatusFailed},
		{types.StatusFailed, types.StatusAnalyzing},
		{types.StatusPending, types.StatusCompleted},
	}
	for _, pair := range invalid {
		err := ValidateTransition(pair[0], pair[1])
		if err == nil {
			t.Fatalf("expected invalid transition %s->%s", pair[0], pair[1])
		}
		if e, ok := errors.As(err); !ok || e.Code != errors.CodeInvalidTransition {
			t.Fatalf("error = %v", err)
		}
	}
}
