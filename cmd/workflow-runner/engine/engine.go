// Package engine implements the workflow engine (§4.4): it builds a live
// node and a lease queue for every node in a graph, runs one supervisor
// goroutine per node, and drives the graph from its entry points to
// termination, publishing lifecycle events and variable-level progress
// along the way.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/lyzr/orchestrator/cmd/workflow-runner/factory"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/router"
	"github.com/lyzr/orchestrator/common/checkpoint"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
)

// ErrInstanceNotFound is returned by instance-scoped operations given an
// unknown workflow instance id.
var ErrInstanceNotFound = fmt.Errorf("workflow instance not found")

// Engine owns every live workflow instance in this process.
type Engine struct {
	factory *factory.Factory
	router  *router.Router
	log     *logger.Logger
	store   checkpoint.Store

	mu        sync.RWMutex
	instances map[string]*instance
}

// New creates an Engine. The factory must be constructed with this Engine's
// Run method as its WorkflowRunner so subflow/container nodes can recurse
// back into the same engine — see cmd/workflow-runner/factory.New. A nil
// store disables checkpointing; callers that don't need crash recovery (most
// tests) can pass nil instead of a checkpoint.MemoryStore.
func New(f *factory.Factory, r *router.Router, log *logger.Logger, store checkpoint.Store) *Engine {
	return &Engine{factory: f, router: r, log: log, store: store, instances: make(map[string]*instance)}
}

// Run starts a workflow and blocks until it reaches a terminal status. It
// satisfies factory.WorkflowRunner, so subflow and container nodes can call
// it directly.
func (e *Engine) Run(ctx context.Context, def *model.WorkflowDefinition, initialVariables map[string]any, hierarchyPrefix string) (*model.WorkflowStatusSnapshot, error) {
	inst, err := e.register(def, initialVariables, hierarchyPrefix)
	if err != nil {
		return nil, err
	}
	e.drive(ctx, inst)
	<-inst.done
	return inst.snapshot(), nil
}

// StartAsync registers and launches a workflow without waiting for
// completion, returning its instance id immediately so a caller (the HTTP
// control surface) can poll GetWorkflowStatus.
func (e *Engine) StartAsync(ctx context.Context, def *model.WorkflowDefinition, initialVariables map[string]any) (string, error) {
	inst, err := e.register(def, initialVariables, "")
	if err != nil {
		return "", err
	}
	go e.drive(ctx, inst)
	return inst.id, nil
}

func (e *Engine) register(def *model.WorkflowDefinition, initialVariables map[string]any, hierarchyPrefix string) (*instance, error) {
	inst, err := newInstance(def, initialVariables, e.log, e.router, e.factory, hierarchyPrefix, e.store)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.instances[inst.id] = inst
	e.mu.Unlock()
	return inst, nil
}

func (e *Engine) drive(ctx context.Context, inst *instance) {
	runCtx, cancel := context.WithCancel(ctx)
	inst.cancel = cancel

	inst.publish(model.Event{Type: model.EventWorkflowStarted})

	var wg sync.WaitGroup
	for nodeID := range inst.nodes {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			inst.runSupervisor(runCtx, id)
		}(nodeID)
	}

	entries := inst.def.EntryPoints()
	if len(entries) == 0 {
		inst.mu.Lock()
		inst.failureReason = "workflow has no entry point"
		inst.mu.Unlock()
		inst.finish()
	} else {
		for _, entry := range entries {
			q, ok := inst.queues[entry]
			if !ok {
				continue
			}
			_ = q.Enqueue(&model.Message{
				Kind:         model.MessageNext,
				SourceNodeID: "",
				Context:      model.NewNodeExecutionContext(inst.variables.Snapshot()),
			})
		}
	}

	wg.Wait()
}

// instanceByID looks up a live instance, for use by the other engine ops.
func (e *Engine) instanceByID(id string) (*instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instances[id]
	return inst, ok
}

// Pause halts every node supervisor after its current execution finishes.
func (e *Engine) Pause(id string) error {
	inst, ok := e.instanceByID(id)
	if !ok {
		return ErrInstanceNotFound
	}
	inst.gate.pause()
	return nil
}

// Resume reopens the gate a prior Pause closed.
func (e *Engine) Resume(id string) error {
	inst, ok := e.instanceByID(id)
	if !ok {
		return ErrInstanceNotFound
	}
	inst.gate.resume()
	return nil
}

// Cancel stops every supervisor and marks the workflow cancelled.
func (e *Engine) Cancel(id string) error {
	inst, ok := e.instanceByID(id)
	if !ok {
		return ErrInstanceNotFound
	}
	inst.mu.Lock()
	inst.status = model.WorkflowCancelled
	inst.mu.Unlock()
	inst.gate.resume() // release any paused supervisors so they observe cancellation
	if inst.cancel != nil {
		inst.cancel()
	}
	inst.finish()
	return nil
}

// GetWorkflowStatus returns the current status snapshot for a running or
// finished instance.
func (e *Engine) GetWorkflowStatus(id string) (*model.WorkflowStatusSnapshot, error) {
	inst, ok := e.instanceByID(id)
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.snapshot(), nil
}

// Events returns the instance's lifecycle event stream. The channel is never
// closed; a consumer stops reading once Done() is closed.
func (e *Engine) Events(id string) (<-chan model.Event, error) {
	inst, ok := e.instanceByID(id)
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.events, nil
}

// Subscribe opens an additional lifecycle event channel for an instance,
// independent of the one Events returns, so a second consumer (e.g. a
// Redis fanout relay) can observe the same run without splitting events
// with whoever already holds Events's channel.
func (e *Engine) Subscribe(id string) (<-chan model.Event, error) {
	inst, ok := e.instanceByID(id)
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.subscribe(), nil
}

// DeadLetters returns every message an instance has dead-lettered so far.
func (e *Engine) DeadLetters(id string) ([]model.DeadLetterEntry, error) {
	inst, ok := e.instanceByID(id)
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.DeadLetters(), nil
}

// Done returns a channel closed when the instance reaches a terminal state.
func (e *Engine) Done(id string) (<-chan struct{}, error) {
	inst, ok := e.instanceByID(id)
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.done, nil
}
