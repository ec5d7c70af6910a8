package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/factory"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/router"
	"github.com/lyzr/orchestrator/common/metrics"
	"github.com/lyzr/orchestrator/common/model"
	"github.com/lyzr/orchestrator/common/queue"
)

// checkoutPoll is how long each Checkout call blocks before the supervisor
// rechecks ctx/pause state; keeps cancellation and pause responsive without
// busy-looping.
const checkoutPoll = 500 * time.Millisecond

// runSupervisor drives one node's checkout -> execute -> route -> complete
// loop until ctx is cancelled. Each node gets exactly one supervisor
// goroutine (§4.4); concurrency across the graph comes from running one
// supervisor per node, not from multiple workers sharing the same queue.
func (inst *instance) runSupervisor(ctx context.Context, nodeID string) {
	q := inst.queues[nodeID]
	node := inst.nodes[nodeID]

	for {
		if err := inst.gate.wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		lease, err := q.Checkout(ctx, checkoutPoll)
		if err != nil || lease == nil {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		inst.runningNodes.Add(1)
		inst.executeLease(ctx, nodeID, node, q, lease)
		inst.runningNodes.Add(-1)

		inst.checkpointNow(ctx)
		inst.checkTermination()
	}
}

// executeLease runs the node once for a checked-out envelope, records the
// node instance, routes the resulting message, and completes the lease on
// both success and failure.
func (inst *instance) executeLease(ctx context.Context, nodeID string, node factory.Node, q *queue.Queue, lease *model.Lease) {
	nctx := model.NewNodeExecutionContext(inputOf(lease))
	instanceID := uuid.NewString()
	start := time.Now()

	inst.publish(model.Event{Type: model.EventNodeStarted, NodeID: nodeID, Status: model.StatusRunning})

	var emittedFeedback []map[string]any
	emit := func(input map[string]any) {
		emittedFeedback = append(emittedFeedback, input)
	}

	rm := metrics.CaptureStart(ctx)
	port, execErr := node.Execute(ctx, inst, nctx, emit)
	end := time.Now()
	rm.Finalize(ctx)
	nctx.Metadata["runtime"] = rm.ToMap()
	nctx.Metadata["system"] = metrics.GetSystemInfo().ToMap()

	for _, fb := range emittedFeedback {
		inst.routeNext(nodeID, fb)
	}

	ni := model.NodeInstance{
		InstanceID:         instanceID,
		NodeID:             nodeID,
		WorkflowInstanceID: inst.id,
		StartTime:          start,
		EndTime:            end,
		SourcePort:         port,
		Context:            nctx,
	}

	switch {
	case execErr != nil && ctx.Err() != nil:
		ni.Status = model.StatusCancelled
		inst.recordNodeInstance(ni)
		inst.publish(model.Event{Type: model.EventNodeCancelled, NodeID: nodeID, Status: model.StatusCancelled})
		// A cancelled envelope is done, not retryable — Complete removes it
		// outright rather than routing it back through Abandon's retry path.
		q.Complete(lease.ID)
		return

	case execErr != nil:
		ni.Status = model.StatusFailed
		ni.ErrorMessage = execErr.Error()
		ni.Exception = execErr
		inst.recordNodeInstance(ni)
		inst.publish(model.Event{Type: model.EventNodeFailed, NodeID: nodeID, Status: model.StatusFailed, Data: map[string]any{"error": execErr.Error()}})

		failMsg := &model.Message{
			Kind:             model.MessageFail,
			SourceNodeID:     nodeID,
			SourceInstanceID: instanceID,
			Timestamp:        end,
			Context:          nctx,
			Error:            execErr.Error(),
			Exception:        execErr,
		}
		failedRoutes := inst.router.Route(inst.def, nodeID, failMsg, inst.variables.Snapshot(), inst.queueLookup)
		for _, fr := range failedRoutes {
			inst.log.Warn("failed to route on-fail edge", "edge_id", fr.Edge.ID, "reason", fr.Reason)
		}
		if inst.onFailEdgeCount(nodeID) == 0 {
			inst.markUnrecoverable(nodeID, execErr.Error())
		}
		q.Complete(lease.ID)

	default:
		ni.Status = model.StatusCompleted
		inst.recordNodeInstance(ni)
		inst.publish(model.Event{Type: model.EventNodeCompleted, NodeID: nodeID, Status: model.StatusCompleted})

		completeMsg := &model.Message{
			Kind:             model.MessageComplete,
			SourceNodeID:     nodeID,
			SourceInstanceID: instanceID,
			SourcePort:       port,
			Timestamp:        end,
			Context:          nctx,
		}
		failedRoutes := inst.router.Route(inst.def, nodeID, completeMsg, inst.variables.Snapshot(), inst.queueLookup)
		for _, fr := range failedRoutes {
			inst.log.Warn("failed to route edge", "edge_id", fr.Edge.ID, "reason", fr.Reason)
		}
		q.Complete(lease.ID)
	}
}

// routeNext delivers one loop-iteration `next` message from an emitting
// node directly into its loop-body edges.
func (inst *instance) routeNext(nodeID string, input map[string]any) {
	msg := &model.Message{
		Kind:         model.MessageNext,
		SourceNodeID: nodeID,
		Timestamp:    time.Now(),
		Context:      model.NewNodeExecutionContext(input),
	}
	failedRoutes := inst.router.Route(inst.def, nodeID, msg, inst.variables.Snapshot(), inst.queueLookup)
	for _, fr := range failedRoutes {
		inst.log.Warn("failed to route loop iteration", "edge_id", fr.Edge.ID, "reason", fr.Reason)
	}
}

func (inst *instance) onFailEdgeCount(nodeID string) int {
	n := 0
	for _, e := range inst.def.OutgoingEdges(nodeID) {
		if e.Kind == model.EdgeOnFail {
			n++
		}
	}
	return n
}

func (inst *instance) markUnrecoverable(nodeID, reason string) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.failureReason == "" {
		inst.failureReason = "node " + nodeID + ": " + reason
	}
}

func (inst *instance) queueLookup(nodeID string) (router.QueueTarget, bool) {
	q, ok := inst.queues[nodeID]
	return q, ok
}

func inputOf(lease *model.Lease) map[string]any {
	if lease.Envelope == nil || lease.Envelope.Message == nil || lease.Envelope.Message.Context == nil {
		return nil
	}
	return lease.Envelope.Message.Context.Output
}
