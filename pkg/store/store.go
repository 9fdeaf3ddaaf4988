package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spawn-mcp/research-pipeline/pkg/timeout"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// Component names, one persisted document each per task
const (
	ComponentTask     = "task"
	ComponentOutline  = "outline"
	ComponentSections = "sections"
	ComponentResult   = "result"
	ComponentCost     = "cost"
)

// TaskStore is the durable per-task persistence contract. Missing documents
// are reported as nil values, never as errors.
type TaskStore interface {
	Save(ctx context.Context, task *types.ResearchTask) error
	Load(ctx context.Context, id string) (*types.ResearchTask, error)
	LoadFull(ctx context.Context, id string) (*types.ResearchTask, error)
	Backfill(ctx context.Context, task *types.ResearchTask) error
	ListIDs(ctx context.Context) ([]string, error)

	SaveOutline(ctx context.Context, id string, outline *types.Outline) error
	LoadOutline(ctx context.Context, id string) (*types.Outline, error)
	SaveSections(ctx context.Context, id string, sections []types.Section) error
	LoadSections(ctx context.Context, id string) ([]types.Section, error)
	SaveResult(ctx context.Context, id string, result *types.ResearchResult) error
	LoadResult(ctx context.Context, id string) (*types.ResearchResult, error)
	SaveCost(ctx context.Context, id string, record *types.CostRecord) error
	LoadCost(ctx context.Context, id string) (*types.CostRecord, error)
}

// Backend reads and writes raw component documents. Get returns nil data
// when the document does not exist.
type Backend interface {
	Put(ctx context.Context, id, component string, data []byte) error
	Get(ctx context.Context, id, component string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
}

// Store implements TaskStore on top of a Backend
type Store struct {
	backend  Backend
	timeouts *timeout.Manager
}

// New creates a store. timeouts may be nil.
func New(backend Backend, timeouts *timeout.Manager) *Store {
	return &Store{backend: backend, timeouts: timeouts}
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid task id %q", id)
	}
	return nil
}

func (s *Store) put(ctx context.Context, id, component string, v any) error {
	if err := validID(id); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", component, err)
	}
	_, err = timeout.Run(ctx, s.timeouts, timeout.OpStore, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Put(ctx, id, component, data)
	})
	if err != nil {
		return fmt.Errorf("save %s for task %s: %w", component, id, err)
	}
	return nil
}

// get decodes a component into v and reports whether it existed
func (s *Store) get(ctx context.Context, id, component string, v any) (bool, error) {
	if err := validID(id); err != nil {
		return false, err
	}
	data, err := timeout.Run(ctx, s.timeouts, timeout.OpStore, func(ctx context.Context) ([]byte, error) {
		return s.backend.Get(ctx, id, component)
	})
	if err != nil {
		return false, fmt.Errorf("load %s for task %s: %w", component, id, err)
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s for task %s: %w", component, id, err)
	}
	return true, nil
}

// Save writes the full task snapshot
func (s *Store) Save(ctx context.Context, task *types.ResearchTask) error {
	return s.put(ctx, task.ID, ComponentTask, task)
}

// Load reads the task snapshot, or nil when the task is unknown
func (s *Store) Load(ctx context.Context, id string) (*types.ResearchTask, error) {
	var task types.ResearchTask
	ok, err := s.get(ctx, id, ComponentTask, &task)
	if err != nil || !ok {
		return nil, err
	}
	return &task, nil
}

// LoadFull reads the snapshot and backfills outline, sections and result
func (s *Store) LoadFull(ctx context.Context, id string) (*types.ResearchTask, error) {
	task, err := s.Load(ctx, id)
	if err != nil || task == nil {
		return task, err
	}
	if err := s.Backfill(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Backfill loads only the components missing from task
func (s *Store) Backfill(ctx context.Context, task *types.ResearchTask) error {
	if task.Outline == nil {
		outline, err := s.LoadOutline(ctx, task.ID)
		if err != nil {
			return err
		}
		task.Outline = outline
	}
	if task.Sections == nil {
		sections, err := s.LoadSections(ctx, task.ID)
		if err != nil {
			return err
		}
		task.Sections = sections
	}
	if task.Result == nil {
		result, err := s.LoadResult(ctx, task.ID)
		if err != nil {
			return err
		}
		task.Result = result
	}
	return nil
}

// ListIDs returns every persisted task id
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	return timeout.Run(ctx, s.timeouts, timeout.OpStore, s.backend.List)
}

func (s *Store) SaveOutline(ctx context.Context, id string, outline *types.Outline) error {
	return s.put(ctx, id, ComponentOutline, outline)
}

func (s *Store) LoadOutline(ctx context.Context, id string) (*types.Outline, error) {
	var outline types.Outline
	ok, err := s.get(ctx, id, ComponentOutline, &outline)
	if err != nil || !ok {
		return nil, err
	}
	return &outline, nil
}

func (s *Store) SaveSections(ctx context.Context, id string, sections []types.Section) error {
	if sections == nil {
		sections = []types.Section{}
	}
	return s.put(ctx, id, ComponentSections, sections)
}

func (s *Store) LoadSections(ctx context.Context, id string) ([]types.Section, error) {
	var sections []types.Section
	ok, err := s.get(ctx, id, ComponentSections, &sections)
	if err != nil || !ok {
		return nil, err
	}
	if sections == nil {
		sections = []types.Section{}
	}
	return sections, nil
}

func (s *Store) SaveResult(ctx context.Context, id string, result *types.ResearchResult) error {
	return s.put(ctx, id, ComponentResult, result)
}

func (s *Store) LoadResult(ctx context.Context, id string) (*types.ResearchResult, error) {
	var result types.ResearchResult
	ok, err := s.get(ctx, id, ComponentResult, &result)
	if err != nil || !ok {
		return nil, err
	}
	return &result, nil
}

func (s *Store) SaveCost(ctx context.Context, id string, record *types.CostRecord) error {
	return s.put(ctx, id, ComponentCost, record)
}

func (s *Store) LoadCost(ctx context.Context, id string) (*types.CostRecord, error) {
	var record types.CostRecord
	ok, err := s.get(ctx, id, ComponentCost, &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}
