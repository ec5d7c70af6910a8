package router

import (
	"testing"

	"github.com/lyzr/orchestrator/cmd/workflow-runner/condition"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
)

type fakeQueue struct {
	enqueued []*model.Message
}

func (q *fakeQueue) Enqueue(msg *model.Message) error {
	q.enqueued = append(q.enqueued, msg)
	return nil
}

func testRouter() *Router {
	return New(condition.NewEvaluator(), logger.New("error", "json"))
}

func TestRouteMatchesOnCompleteEdge(t *testing.T) {
	def := &model.WorkflowDefinition{
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "b", Kind: model.EdgeOnComplete},
		},
	}
	targetQueue := &fakeQueue{}
	r := testRouter()

	msg := &model.Message{Kind: model.MessageComplete, Context: model.NewNodeExecutionContext(map[string]any{"x": 1})}
	failed := r.Route(def, "a", msg, nil, func(nodeID string) (QueueTarget, bool) {
		if nodeID == "b" {
			return targetQueue, true
		}
		return nil, false
	})

	if len(failed) != 0 {
		t.Fatalf("expected no failed routes, got %v", failed)
	}
	if len(targetQueue.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued message, got %d", len(targetQueue.enqueued))
	}
}

func TestRouteFiltersByCondition(t *testing.T) {
	def := &model.WorkflowDefinition{
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "b", Kind: model.EdgeOnComplete, Condition: "output.approved"},
		},
	}
	targetQueue := &fakeQueue{}
	r := testRouter()

	msg := &model.Message{Kind: model.MessageComplete, Context: model.NewNodeExecutionContext(map[string]any{"approved": false})}
	r.Route(def, "a", msg, nil, func(nodeID string) (QueueTarget, bool) { return targetQueue, true })

	if len(targetQueue.enqueued) != 0 {
		t.Errorf("expected condition to suppress routing, got %d enqueued", len(targetQueue.enqueued))
	}
}

func TestRouteReportsMissingTargetQueue(t *testing.T) {
	def := &model.WorkflowDefinition{
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "ghost", Kind: model.EdgeOnComplete},
		},
	}
	r := testRouter()

	msg := &model.Message{Kind: model.MessageComplete, Context: model.NewNodeExecutionContext(nil)}
	failed := r.Route(def, "a", msg, nil, func(nodeID string) (QueueTarget, bool) { return nil, false })

	if len(failed) != 1 {
		t.Fatalf("expected 1 failed route, got %d", len(failed))
	}
}

func TestRouteBranchPortSelection(t *testing.T) {
	def := &model.WorkflowDefinition{
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "branch", TargetNodeID: "whenTrue", Kind: model.EdgeTrueBranch, SourcePort: string(model.EdgeTrueBranch)},
			{ID: "e2", SourceNodeID: "branch", TargetNodeID: "whenFalse", Kind: model.EdgeFalseBranch, SourcePort: string(model.EdgeFalseBranch)},
		},
	}
	trueQueue, falseQueue := &fakeQueue{}, &fakeQueue{}
	r := testRouter()

	msg := &model.Message{Kind: model.MessageComplete, SourcePort: string(model.EdgeTrueBranch), Context: model.NewNodeExecutionContext(nil)}
	r.Route(def, "branch", msg, nil, func(nodeID string) (QueueTarget, bool) {
		switch nodeID {
		case "whenTrue":
			return trueQueue, true
		case "whenFalse":
			return falseQueue, true
		}
		return nil, false
	})

	if len(trueQueue.enqueued) != 1 || len(falseQueue.enqueued) != 0 {
		t.Errorf("expected only the true branch to route, got true=%d false=%d", len(trueQueue.enqueued), len(falseQueue.enqueued))
	}
}
