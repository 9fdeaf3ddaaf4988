package orchestrator

import (
	"fmt"
	"strings"

	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// Fallbacks used when neither the request nor the model names a field
const (
	DefaultTopic    = "General topic"
	DefaultScope    = "Comprehensive"
	DefaultAudience = "General audience"
)

// NormalizeAnalysis turns the model's raw analysis into topic, scope and
// audience. Keys match case-insensitively; fields given in the request win.
func NormalizeAnalysis(raw map[string]any, req types.ResearchRequest) types.Analysis {
	return types.Analysis{
		Topic:          firstNonEmpty(req.Topic, lookup(raw, "topic"), DefaultTopic),
		Scope:          firstNonEmpty(req.Scope, lookup(raw, "scope"), DefaultScope),
		TargetAudience: firstNonEmpty(req.TargetAudience, lookup(raw, "target_audience", "targetaudience", "audience"), DefaultAudience),
		Raw:            raw,
	}
}

func lookup(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if s := stringValue(v); s != "" {
				return s
			}
		}
	}
	for _, key := range keys {
		for k, v := range raw {
			if strings.EqualFold(k, key) {
				if s := stringValue(v); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case []any:
		parts := make([]string, 0, len(s))
		for _, p := range s {
			if str := stringValue(p); str != "" {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
