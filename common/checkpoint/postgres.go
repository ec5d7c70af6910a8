package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/lyzr/orchestrator/common/db"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
)

// PostgresStore persists checkpoints to a checkpoint table, wrapping the
// same pgxpool-backed db.DB used for run history. Rows after the first for a
// given instance store a JSON Merge Patch (RFC 7396) against the previous
// cumulative snapshot rather than the full document, so a long-running
// workflow with hundreds of node completions doesn't re-write its entire
// variable set on every save.
type PostgresStore struct {
	db  *db.DB
	log *logger.Logger
}

// NewPostgresStore creates a Postgres-backed checkpoint store.
func NewPostgresStore(database *db.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: database, log: log}
}

// Save writes the next checkpoint row for workflowInstanceID. The first save
// for an instance stores the full snapshot as sequence 0; every later save
// stores the merge patch between the previous cumulative snapshot and this
// one.
func (s *PostgresStore) Save(ctx context.Context, workflowInstanceID string, snapshot model.WorkflowStatusSnapshot) error {
	full, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	prev, err := s.Load(ctx, workflowInstanceID)
	if err != nil && err != ErrNotFound {
		return fmt.Errorf("load previous checkpoint: %w", err)
	}

	if err == ErrNotFound {
		_, execErr := s.db.Exec(ctx, insertCheckpointQuery, workflowInstanceID, 0, full, false, string(snapshot.Status))
		if execErr != nil {
			return fmt.Errorf("insert base checkpoint: %w", execErr)
		}
		return nil
	}

	prevFull, marshalErr := json.Marshal(prev.Snapshot)
	if marshalErr != nil {
		return fmt.Errorf("marshal previous snapshot: %w", marshalErr)
	}

	delta, diffErr := jsonpatch.CreateMergePatch(prevFull, full)
	if diffErr != nil {
		return fmt.Errorf("compute merge patch: %w", diffErr)
	}

	nextSeq := prev.SequenceNum + 1
	_, execErr := s.db.Exec(ctx, insertCheckpointQuery, workflowInstanceID, nextSeq, delta, true, string(snapshot.Status))
	if execErr != nil {
		return fmt.Errorf("insert checkpoint delta: %w", execErr)
	}
	return nil
}

// Load replays the base snapshot plus every subsequent merge patch to
// reconstruct the most recent checkpoint for a workflow instance.
func (s *PostgresStore) Load(ctx context.Context, workflowInstanceID string) (*Checkpoint, error) {
	rows, err := s.db.Query(ctx, selectCheckpointRowsQuery, workflowInstanceID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var (
		cumulative []byte
		seq        int64
		savedAt    time.Time
		found      bool
	)
	for rows.Next() {
		var (
			payload  []byte
			isDelta  bool
			status   string
		)
		if err := rows.Scan(&seq, &payload, &isDelta, &status, &savedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		found = true
		if !isDelta {
			cumulative = payload
			continue
		}
		merged, mergeErr := jsonpatch.MergePatch(cumulative, payload)
		if mergeErr != nil {
			return nil, fmt.Errorf("apply merge patch at sequence %d: %w", seq, mergeErr)
		}
		cumulative = merged
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}

	var snapshot model.WorkflowStatusSnapshot
	if err := json.Unmarshal(cumulative, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal reconstructed snapshot: %w", err)
	}

	return &Checkpoint{
		WorkflowInstanceID: workflowInstanceID,
		Snapshot:           snapshot,
		SequenceNum:        seq,
		SavedAt:            savedAt,
	}, nil
}

// ListIncomplete returns the latest checkpoint for every instance whose most
// recently saved status is still "running", for crash recovery at startup.
func (s *PostgresStore) ListIncomplete(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.db.Query(ctx, selectIncompleteInstancesQuery, string(model.WorkflowRunning))
	if err != nil {
		return nil, fmt.Errorf("query incomplete instances: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan instance id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instance ids: %w", err)
	}

	checkpoints := make([]Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, loadErr := s.Load(ctx, id)
		if loadErr != nil {
			s.log.Warn("failed to reconstruct checkpoint during recovery", "workflow_instance_id", id, "error", loadErr)
			continue
		}
		checkpoints = append(checkpoints, *cp)
	}
	return checkpoints, nil
}

const (
	insertCheckpointQuery = `
		INSERT INTO workflow_checkpoint (workflow_instance_id, sequence_num, payload, is_delta, status, saved_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`

	selectCheckpointRowsQuery = `
		SELECT sequence_num, payload, is_delta, status, saved_at
		FROM workflow_checkpoint
		WHERE workflow_instance_id = $1
		ORDER BY sequence_num ASC
	`

	selectIncompleteInstancesQuery = `
		SELECT workflow_instance_id
		FROM (
			SELECT DISTINCT ON (workflow_instance_id) workflow_instance_id, status
			FROM workflow_checkpoint
			ORDER BY workflow_instance_id, sequence_num DESC
		) latest
		WHERE status = $1
	`
)
