package registry

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

func TestPutGetReturnCopies(t *testing.T) {
	r := New()
	task := types.NewResearchTask("a", types.ResearchRequest{Query: "q"}, time.Now())
	task.Sections = []types.Section{{Title: "S", Sources: []string{"https://x"}}}
	r.Put(task)

	task.Status = types.StatusFailed
	task.Sections[0].Sources[0] = "mutated"

	got := r.Get("a")
	if got.Status != types.StatusPending || got.Sections[0].Sources[0] != "https://x" {
		t.Fatalf("registry shares memory with the writer: %+v", got)
	}

	got.Sections[0].Title = "reader edit"
	if r.Get("a").Sections[0].Title != "S" {
		t.Fatal("registry shares memory with the reader")
	}

	if r.Get("missing") != nil || r.Has("missing") {
		t.Fatal("unknown id should be absent")
	}
}

func TestIDsAndList(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		r.Put(types.NewResearchTask(id, types.ResearchRequest{Query: id}, time.Now()))
	}
	if got := r.IDs(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("IDs() = %v", got)
	}
	if got := len(r.List()); got != 3 {
		t.Errorf("List() has %d tasks", got)
	}
}

func TestSetCost(t *testing.T) {
	r := New()
	r.Put(types.NewResearchTask("a", types.ResearchRequest{Query: "q"}, time.Now()))

	if !r.SetCost("a", types.CostSummary{TotalCostUSD: 1.5}) {
		t.Fatal("SetCost() on a known task returned false")
	}
	if r.SetCost("zzz", types.CostSummary{}) {
		t.Fatal("SetCost() on an unknown task returned true")
	}
	if got := r.Get("a").Cost; got == nil || got.TotalCostUSD != 1.5 {
		t.Fatalf("cost = %+v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		id := fmt.Sprintf("t%d", i%5)
		go func() {
			defer wg.Done()
			r.Put(types.NewResearchTask(id, types.ResearchRequest{Query: id}, time.Now()))
			r.SetCost(id, types.CostSummary{TotalCostUSD: 1})
		}()
		go func() {
			defer wg.Done()
			_ = r.Get(id)
			_ = r.List()
		}()
	}
	wg.Wait()
	if len(r.IDs()) != 5 {
		t.Fatalf("IDs() = %v", r.IDs())
	}
}
