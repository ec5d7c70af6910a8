// Package router implements the engine's message router (§4.2): given a
// completing/failing node and its source port, it selects outgoing edges,
// builds one downstream envelope per matching edge, and enqueues each onto
// the target node's queue. It is deliberately side-effect-free beyond the
// provided QueueLookup — the same responsibility split the teacher's
// coordinator draws between routing decisions and stream publication.
package router

import (
	"fmt"

	"github.com/lyzr/orchestrator/cmd/workflow-runner/condition"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
)

// completeEdgeKinds is the set of edge kinds a complete message may match.
// loop-body is deliberately excluded here: it is reserved for `next`
// messages entering a loop body, so a loop node's own terminal completion
// always exits via an on-complete edge (see Router.Route doc and DESIGN.md
// for the reasoning behind this split).
var completeEdgeKinds = map[model.EdgeKind]bool{
	model.EdgeOnComplete:     true,
	model.EdgeTrueBranch:     true,
	model.EdgeFalseBranch:    true,
	model.EdgeSwitchCase:     true,
	model.EdgeLoopExit:       true,
	model.EdgeIterationCheck: true,
}

// QueueTarget is the subset of common/queue.Queue the router needs.
type QueueTarget interface {
	Enqueue(message *model.Message) error
}

// QueueLookup resolves a node id to its queue, or (nil, false) if the node
// has none (graph misconfiguration, or a node removed mid-run).
type QueueLookup func(nodeID string) (QueueTarget, bool)

// FailedRoute records an edge the router could not deliver to — a missing
// target queue is a recorded failure, not a retry (§4.2).
type FailedRoute struct {
	Edge   model.Edge
	Reason string
}

// Router evaluates outgoing edges and enqueues downstream envelopes.
type Router struct {
	evaluator *condition.Evaluator
	log       *logger.Logger
}

// New creates a Router.
func New(evaluator *condition.Evaluator, log *logger.Logger) *Router {
	return &Router{evaluator: evaluator, log: log}
}

// Route selects the outgoing edges of def that match msg's kind, source
// port, and condition, builds a downstream envelope for each, and enqueues
// it via lookup. It returns the routes it could not deliver (missing target
// queue) for the caller to record as failures.
func (r *Router) Route(def *model.WorkflowDefinition, sourceNodeID string, msg *model.Message, variables map[string]any, lookup QueueLookup) []FailedRoute {
	var failed []FailedRoute

	for _, edge := range def.OutgoingEdges(sourceNodeID) {
		if !r.edgeMatchesKind(edge, msg.Kind) {
			continue
		}
		if edge.SourcePort != "" && msg.SourcePort != "" && edge.SourcePort != msg.SourcePort {
			continue
		}
		if edge.Condition != "" {
			ok, err := r.evaluator.Evaluate(edge.Condition, outputOf(msg), variables)
			if err != nil {
				r.log.Warn("edge condition evaluation failed, skipping edge",
					"edge_id", edge.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}

		queue, ok := lookup(edge.TargetNodeID)
		if !ok {
			failed = append(failed, FailedRoute{Edge: edge, Reason: fmt.Sprintf("no queue registered for target node %s", edge.TargetNodeID)})
			continue
		}

		downstream := &model.Message{
			Kind:             model.MessageNext,
			SourceNodeID:     sourceNodeID,
			SourceInstanceID: msg.SourceInstanceID,
			Timestamp:        msg.Timestamp,
			Context:          model.NewNodeExecutionContext(outputOf(msg)),
		}
		if err := queue.Enqueue(downstream); err != nil {
			failed = append(failed, FailedRoute{Edge: edge, Reason: err.Error()})
		}
	}

	return failed
}

func (r *Router) edgeMatchesKind(edge model.Edge, kind model.MessageKind) bool {
	switch kind {
	case model.MessageComplete:
		return completeEdgeKinds[edge.Kind]
	case model.MessageFail:
		return edge.Kind == model.EdgeOnFail
	case model.MessageNext:
		return edge.Kind == model.EdgeLoopBody
	default:
		return false
	}
}

func outputOf(msg *model.Message) map[string]any {
	if msg.Context == nil {
		return nil
	}
	return msg.Context.Output
}
