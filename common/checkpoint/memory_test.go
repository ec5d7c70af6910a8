package checkpoint

import (
	"context"
	"testing"

	"github.com/lyzr/orchestrator/common/model"
)

func TestMemoryStoreSaveAndLoad(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	snap := model.WorkflowStatusSnapshot{
		WorkflowInstanceID: "wf-1",
		Status:             model.WorkflowRunning,
		Variables:          map[string]any{"count": 1},
	}
	if err := s.Save(ctx, "wf-1", snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	cp, err := s.Load(ctx, "wf-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cp.Snapshot.Status != model.WorkflowRunning {
		t.Errorf("expected running status, got %s", cp.Snapshot.Status)
	}
}

func TestMemoryStoreLoadMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Load(context.Background(), "ghost"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListIncompleteFiltersTerminalRuns(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Save(ctx, "running", model.WorkflowStatusSnapshot{WorkflowInstanceID: "running", Status: model.WorkflowRunning})
	s.Save(ctx, "done", model.WorkflowStatusSnapshot{WorkflowInstanceID: "done", Status: model.WorkflowCompleted})

	incomplete, err := s.ListIncomplete(ctx)
	if err != nil {
		t.Fatalf("list incomplete failed: %v", err)
	}
	if len(incomplete) != 1 || incomplete[0].WorkflowInstanceID != "running" {
		t.Errorf("expected only the running instance, got %+v", incomplete)
	}
}
