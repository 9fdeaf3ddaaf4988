package orchestrator

import (
	"fmt"

	"github.com/spawn-mcp/research-pipeline/pkg/errors"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// Progress phase names. They also name the ledger phase timings.
const (
	PhasePending          = "pending"
	PhaseAnalyze          = "analyze"
	PhaseOutline          = "outline"
	PhaseResearch         = "research"
	PhaseResearchComplete = "research_complete"
	PhaseEdit             = "edit"
	PhasePublish          = "publish"
	PhaseCompleted        = "completed"
	PhaseFailed           = "failed"
)

var allowedTransitions = map[types.TaskStatus][]types.TaskStatus{
	types.StatusPending:     {types.StatusAnalyzing, types.StatusFailed},
	types.StatusAnalyzing:   {types.StatusOutlining, types.StatusFailed},
	types.StatusOutlining:   {types.StatusResearching, types.StatusFailed},
	types.StatusResearching: {types.StatusEditing, types.StatusFailed},
	types.StatusEditing:     {types.StatusCompleted, types.StatusFailed},
	// edit-only restarts
	types.StatusCompleted: {types.StatusEditing},
	types.StatusFailed:    {types.StatusEditing},
}

// ValidateTransition reports whether a task may move from one status to another
func ValidateTransition(from, to types.TaskStatus) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return errors.New(errors.KindOrchestration, errors.CodeInvalidTransition,
		fmt.Sprintf("invalid status transition %s -> %s", from, to)).
		WithDetail("from", string(from)).
		WithDetail("to", string(to))
}

// phaseOf names the phase a task was in while holding status
func phaseOf(status types.TaskStatus) string {
	switch status {
	case types.StatusPending:
		return PhasePending
	case types.StatusAnalyzing:
		return PhaseAnalyze
	case types.StatusOutlining:
		return PhaseOutline
	case types.StatusResearching:
		return PhaseResearch
	case types.StatusEditing:
		return PhaseEdit
	case types.StatusCompleted:
		return PhaseCompleted
	default:
		return PhaseFailed
	}
}
