package checkpoint

import (
	"context"
	"sync"

	"github.com/lyzr/orchestrator/common/model"
)

// MemoryStore is an in-process Store, used in tests and for local/dev runs
// where no Postgres instance is configured. It keeps only the latest
// snapshot per instance — there is no crash-recovery benefit to an
// in-process store, so there is nothing to gain from also tracking deltas.
type MemoryStore struct {
	mu    sync.RWMutex
	saved map[string]Checkpoint
	seq   map[string]int64
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		saved: make(map[string]Checkpoint),
		seq:   make(map[string]int64),
	}
}

func (m *MemoryStore) Save(_ context.Context, workflowInstanceID string, snapshot model.WorkflowStatusSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.seq[workflowInstanceID]
	m.seq[workflowInstanceID] = next + 1
	m.saved[workflowInstanceID] = Checkpoint{
		WorkflowInstanceID: workflowInstanceID,
		Snapshot:           snapshot,
		SequenceNum:        next,
	}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, workflowInstanceID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.saved[workflowInstanceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cp, nil
}

func (m *MemoryStore) ListIncomplete(_ context.Context) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Checkpoint
	for _, cp := range m.saved {
		if cp.Snapshot.Status == model.WorkflowRunning {
			out = append(out, cp)
		}
	}
	return out, nil
}
