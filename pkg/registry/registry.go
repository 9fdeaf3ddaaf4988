package registry

import (
	"sort"
	"sync"

	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// Registry is the in-memory cache of task snapshots shared by the
// orchestrator and the API. Every value going in or out is a deep copy.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*types.ResearchTask
}

// New creates an empty registry
func New() *Registry {
	return &Registry{tasks: make(map[string]*types.ResearchTask)}
}

// Put stores a copy of the task
func (r *Registry) Put(task *types.ResearchTask) {
	if task == nil {
		return
	}
	snapshot := task.Clone()
	r.mu.Lock()
	r.tasks[task.ID] = snapshot
	r.mu.Unlock()
}

// Get returns a copy of the task, or nil
func (r *Registry) Get(id string) *types.ResearchTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[id].Clone()
}

// Has reports whether the registry knows the task
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[id]
	return ok
}

// IDs returns the known task ids in lexical order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// List returns copies of every cached task
func (r *Registry) List() []*types.ResearchTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.ResearchTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// SetCost mirrors a cost summary into the cached snapshot. Unknown ids are ignored.
func (r *Registry) SetCost(id string, summary types.CostSummary) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return false
	}
	cost := summary.Clone()
	t.Cost = &cost
	return true
}
