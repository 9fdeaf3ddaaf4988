package orchestrator

import (
	"testing"

	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

func TestNormalizeAnalysis(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		req  types.ResearchRequest
		want types.Analysis
	}{
		{
			name: "exact keys",
			raw:  map[string]any{"topic": "Go", "scope": "history", "target_audience": "engineers"},
			want: types.Analysis{Topic: "Go", Scope: "history", TargetAudience: "engineers"},
		},
		{
			name: "case insensitive and audience alias",
			raw:  map[string]any{"TOPIC": "Go", "Scope": "history", "Audience": "students"},
			want: types.Analysis{Topic: "Go", Scope: "history", TargetAudience: "students"},
		},
		{
			name: "defaults when missing or blank",
			raw:  map[string]any{"topic": "  ", "scope": nil},
			want: types.Analysis{Topic: DefaultTopic, Scope: DefaultScope, TargetAudience: DefaultAudience},
		},
		{
			name: "request wins",
			raw:  map[string]any{"topic": "Go", "scope": "history"},
			req:  types.ResearchRequest{Topic: "Golang", TargetAudience: "managers"},
			want: types.Analysis{Topic: "Golang", Scope: "history", TargetAudience: "managers"},
		},
		{
			name: "list values are joined",
			raw:  map[string]any{"topic": "Go", "target_audience": []any{"students", "teachers"}},
			want: types.Analysis{Topic: "Go", Scope: DefaultScope, TargetAudience: "students, teachers"},
		},
		{
			name: "nil analysis",
			want: types.Analysis{Topic: DefaultTopic, Scope: DefaultScope, TargetAudience: DefaultAudience},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeAnalysis(tt.raw, tt.req)
			if got.Topic != tt.want.Topic || got.Scope != tt.want.Scope || got.TargetAudience != tt.want.TargetAudience {
				t.Errorf("NormalizeAnalysis() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
