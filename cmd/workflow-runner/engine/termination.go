package engine

import (
	"context"
	"time"

	"github.com/lyzr/orchestrator/common/model"
)

// quiescenceGrace guards the termination check against the race between a
// node finishing and the envelope it just routed becoming visible in the
// downstream queue: the first quiescence observation is re-verified after
// this grace period before the workflow is declared terminal.
const quiescenceGrace = 15 * time.Millisecond

// checkTermination implements the engine's termination test (§4.5): the
// workflow is done once no node is running and every queue is empty. It is
// serialized on termMu and double-checked to close the window between a
// supervisor decrementing runningNodes and its routed envelope landing in
// the next queue.
func (inst *instance) checkTermination() {
	if inst.terminal.Load() {
		return
	}
	inst.termMu.Lock()
	defer inst.termMu.Unlock()
	if inst.terminal.Load() {
		return
	}
	if !inst.isQuiescent() {
		return
	}

	time.Sleep(quiescenceGrace)
	if !inst.isQuiescent() {
		return
	}

	inst.finish()
}

func (inst *instance) finish() {
	if !inst.terminal.CompareAndSwap(false, true) {
		return
	}

	inst.mu.Lock()
	inst.endedAt = time.Now()
	if inst.failureReason != "" {
		inst.status = model.WorkflowFailed
	} else if inst.status != model.WorkflowCancelled {
		inst.status = model.WorkflowCompleted
	}
	status := inst.status
	inst.mu.Unlock()

	inst.publish(model.Event{Type: model.EventWorkflowTerminal, Status: model.NodeStatus(status)})
	inst.checkpointNow(context.Background())
	inst.cancel()
	close(inst.done)
}
