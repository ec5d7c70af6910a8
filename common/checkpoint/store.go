// Package checkpoint persists workflow run state so a crashed or restarted
// engine can resume in-flight workflows instead of losing them. Saves are
// incremental JSON Merge Patch deltas against the last full snapshot, mirroring
// how the run repository treats a run as an append-only history of status
// transitions rather than a single mutable row.
package checkpoint

import (
	"context"
	"time"

	"github.com/lyzr/orchestrator/common/model"
)

// Checkpoint is one persisted snapshot of a workflow instance's state.
type Checkpoint struct {
	WorkflowInstanceID string
	Snapshot           model.WorkflowStatusSnapshot
	SequenceNum        int64
	SavedAt            time.Time
}

// Store is the pluggable persistence contract the engine drives from. A
// workflow instance saves a checkpoint after every node completes and on
// every terminal transition; on restart the engine lists incomplete
// instances and resumes (or at minimum reports) them.
type Store interface {
	// Save persists the instance's current status snapshot under
	// workflowInstanceID, incrementing its sequence number.
	Save(ctx context.Context, workflowInstanceID string, snapshot model.WorkflowStatusSnapshot) error

	// Load returns the most recent checkpoint for a workflow instance.
	Load(ctx context.Context, workflowInstanceID string) (*Checkpoint, error)

	// ListIncomplete returns the most recent checkpoint of every instance
	// whose last saved status is still running, for crash recovery.
	ListIncomplete(ctx context.Context) ([]Checkpoint, error)
}
