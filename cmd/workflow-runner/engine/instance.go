package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/factory"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/router"
	"github.com/lyzr/orchestrator/common/checkpoint"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
	"github.com/lyzr/orchestrator/common/queue"
)

// instance is one live workflow run: its queues, live node objects, variable
// store, and bookkeeping for status/progress/termination.
type instance struct {
	id              string
	def             *model.WorkflowDefinition
	variables       *model.Variables
	queues          map[string]*queue.Queue
	nodes           map[string]factory.Node
	router          *router.Router
	log             *logger.Logger
	hierarchyPrefix string
	store           checkpoint.Store

	gate   *gate
	cancel context.CancelFunc

	runningNodes atomic.Int64
	terminal     atomic.Bool
	termMu       sync.Mutex

	mu            sync.Mutex
	status        model.WorkflowStatus
	startedAt     time.Time
	endedAt       time.Time
	nodeInstances []model.NodeInstance
	failureReason string
	deadLetters   []model.DeadLetterEntry

	events      chan model.Event
	subsMu      sync.Mutex
	subscribers []chan model.Event
	sequence    atomic.Int64
	done        chan struct{}
}

func newInstance(def *model.WorkflowDefinition, initialVariables map[string]any, log *logger.Logger, r *router.Router, f *factory.Factory, hierarchyPrefix string, store checkpoint.Store) (*instance, error) {
	inst := &instance{
		id:              uuid.NewString(),
		def:             def,
		variables:       model.NewVariables(def.DefaultVariables, initialVariables),
		queues:          make(map[string]*queue.Queue),
		nodes:           make(map[string]factory.Node),
		router:          r,
		log:             log.WithFields(map[string]any{"workflow_id": def.WorkflowID}),
		hierarchyPrefix: hierarchyPrefix,
		store:           store,
		gate:            newGate(),
		status:          model.WorkflowRunning,
		startedAt:       time.Now(),
		events:          make(chan model.Event, 256),
		done:            make(chan struct{}),
	}
	inst.subscribers = []chan model.Event{inst.events}

	for i := range def.Nodes {
		nd := &def.Nodes[i]
		node, err := f.Build(nd)
		if err != nil {
			return nil, fmt.Errorf("build node %s: %w", nd.ID, err)
		}
		inst.nodes[nd.ID] = node
		inst.queues[nd.ID] = queue.New(nd.ID, queue.Options{DeadLetters: inst}, log)
	}

	return inst, nil
}

// DeadLetter implements queue.DeadLetterSink, recording poison messages on
// the instance for inspection via the control surface.
func (inst *instance) DeadLetter(entry model.DeadLetterEntry) {
	inst.log.Warn("message dead-lettered", "node_id", entry.NodeID, "reason", entry.Reason, "final_retry_count", entry.FinalRetryCount)
	inst.mu.Lock()
	inst.deadLetters = append(inst.deadLetters, entry)
	inst.mu.Unlock()
	inst.publish(model.Event{
		Type:   model.EventNodeFailed,
		NodeID: entry.NodeID,
		Data:   map[string]any{"dead_letter": true, "reason": entry.Reason, "last_error": entry.LastError},
	})
}

// DeadLetters returns a copy of every message this instance has dead-lettered.
func (inst *instance) DeadLetters() []model.DeadLetterEntry {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := make([]model.DeadLetterEntry, len(inst.deadLetters))
	copy(out, inst.deadLetters)
	return out
}

func (inst *instance) publish(ev model.Event) {
	ev.EventID = uuid.NewString()
	ev.WorkflowInstanceID = inst.id
	ev.SequenceNum = inst.sequence.Add(1)
	ev.HierarchicalKey = inst.hierarchicalKey(ev.NodeID)
	ev.Timestamp = time.Now()

	inst.subsMu.Lock()
	defer inst.subsMu.Unlock()
	for _, sub := range inst.subscribers {
		select {
		case sub <- ev:
		default:
			inst.log.Warn("event channel full, dropping event", "type", ev.Type)
		}
	}
}

// subscribe opens an additional event channel fed by every future publish,
// for consumers beyond the primary one Engine.Events returns (e.g. the
// Redis fanout relay running alongside an SSE stream on the same instance).
func (inst *instance) subscribe() <-chan model.Event {
	ch := make(chan model.Event, 256)
	inst.subsMu.Lock()
	inst.subscribers = append(inst.subscribers, ch)
	inst.subsMu.Unlock()
	return ch
}

func (inst *instance) hierarchicalKey(nodeID string) string {
	if inst.hierarchyPrefix == "" {
		return nodeID
	}
	return fmt.Sprintf("[%s/%s]", inst.hierarchyPrefix, nodeID)
}

// Variables implements factory.RunContext.
func (inst *instance) Variables() *model.Variables { return inst.variables }

// WorkflowInstanceID implements factory.RunContext.
func (inst *instance) WorkflowInstanceID() string { return inst.id }

// Logger implements factory.RunContext.
func (inst *instance) Logger() *logger.Logger { return inst.log }

func (inst *instance) recordNodeInstance(ni model.NodeInstance) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.nodeInstances = append(inst.nodeInstances, ni)
}

// checkpointNow persists the instance's current status snapshot, if a store
// is configured. Failures are logged, not propagated — a checkpoint write
// failure must never interrupt the run it is trying to protect.
func (inst *instance) checkpointNow(ctx context.Context) {
	if inst.store == nil {
		return
	}
	if err := inst.store.Save(ctx, inst.id, *inst.snapshot()); err != nil {
		inst.log.Warn("checkpoint save failed", "error", err)
	}
}

func (inst *instance) isQuiescent() bool {
	if inst.runningNodes.Load() != 0 {
		return false
	}
	for _, q := range inst.queues {
		if q.Len() != 0 {
			return false
		}
	}
	return true
}

// snapshot builds the read-only status projection (§4.4 getWorkflowStatus).
func (inst *instance) snapshot() *model.WorkflowStatusSnapshot {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	instances := make([]model.NodeInstanceSnapshot, 0, len(inst.nodeInstances))
	completed := 0
	for _, ni := range inst.nodeInstances {
		instances = append(instances, model.NodeInstanceSnapshot{
			InstanceID: ni.InstanceID,
			NodeID:     ni.NodeID,
			Status:     ni.Status,
			SourcePort: ni.SourcePort,
			StartTime:  ni.StartTime,
			EndTime:    ni.EndTime,
			Error:      ni.ErrorMessage,
		})
		if ni.Status == model.StatusCompleted {
			completed++
		}
	}

	reachable := len(inst.def.Nodes)
	fraction := 0.0
	if reachable > 0 {
		fraction = float64(completed) / float64(reachable)
	}

	elapsed := time.Since(inst.startedAt)
	if !inst.endedAt.IsZero() {
		elapsed = inst.endedAt.Sub(inst.startedAt)
	}

	return &model.WorkflowStatusSnapshot{
		WorkflowInstanceID: inst.id,
		Status:             inst.status,
		StartedAt:          inst.startedAt,
		EndedAt:             inst.endedAt,
		Variables:          inst.variables.Snapshot(),
		NodeInstances:      instances,
		FailureReason:      inst.failureReason,
		Progress: model.ProgressSnapshot{
			WorkflowInstanceID: inst.id,
			NodesCompleted:     completed,
			NodesReachable:     reachable,
			Fraction:           fraction,
			Elapsed:            elapsed,
			Timestamp:          time.Now(),
		},
	}
}
