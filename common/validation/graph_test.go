package validation

import (
	"testing"

	"github.com/lyzr/orchestrator/common/model"
)

func linearGraph() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		WorkflowID:       "wf1",
		EntryPointNodeID: "a",
		Nodes: []model.NodeDefinition{
			{ID: "a", Kind: model.KindNoop},
			{ID: "b", Kind: model.KindNoop},
		},
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "b", Kind: model.EdgeOnComplete},
		},
	}
}

func TestValidateGraphAcceptsLinearPipeline(t *testing.T) {
	if err := ValidateGraph(linearGraph()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateGraphRejectsDuplicateNodeID(t *testing.T) {
	def := linearGraph()
	def.Nodes = append(def.Nodes, model.NodeDefinition{ID: "a", Kind: model.KindNoop})
	if err := ValidateGraph(def); err == nil {
		t.Error("expected error for duplicate node id")
	}
}

func TestValidateGraphRejectsDanglingEdge(t *testing.T) {
	def := linearGraph()
	def.Edges = append(def.Edges, model.Edge{ID: "e2", SourceNodeID: "a", TargetNodeID: "ghost", Kind: model.EdgeOnComplete})
	if err := ValidateGraph(def); err == nil {
		t.Error("expected error for dangling edge target")
	}
}

func TestValidateGraphRejectsCycleWithoutLoopFeedback(t *testing.T) {
	def := linearGraph()
	def.Edges = append(def.Edges, model.Edge{ID: "e2", SourceNodeID: "b", TargetNodeID: "a", Kind: model.EdgeOnComplete})
	if err := ValidateGraph(def); err == nil {
		t.Error("expected error for a plain cycle")
	}
}

func TestValidateGraphAllowsLoopFeedbackCycle(t *testing.T) {
	def := &model.WorkflowDefinition{
		WorkflowID:       "wf-loop",
		EntryPointNodeID: "while",
		Nodes: []model.NodeDefinition{
			{ID: "while", Kind: model.KindLoopWhile, Configuration: map[string]any{"condition": "true"}},
			{ID: "body", Kind: model.KindNoop},
		},
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "while", TargetNodeID: "body", Kind: model.EdgeLoopBody},
			{ID: "e2", SourceNodeID: "body", TargetNodeID: "while", Kind: model.EdgeIterationCheck},
		},
	}
	if err := ValidateGraph(def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateGraphRejectsBranchMissingPort(t *testing.T) {
	def := &model.WorkflowDefinition{
		WorkflowID: "wf-branch",
		Nodes: []model.NodeDefinition{
			{ID: "b", Kind: model.KindBranch, Configuration: map[string]any{"condition": "output.x"}},
			{ID: "t", Kind: model.KindNoop},
		},
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "b", TargetNodeID: "t", Kind: model.EdgeTrueBranch},
		},
	}
	if err := ValidateGraph(def); err == nil {
		t.Error("expected error for branch missing false-branch edge")
	}
}

func TestValidateGraphRejectsUnreachableNode(t *testing.T) {
	def := linearGraph()
	def.Nodes = append(def.Nodes,
		model.NodeDefinition{ID: "island1", Kind: model.KindNoop},
		model.NodeDefinition{ID: "island2", Kind: model.KindNoop},
	)
	def.Edges = append(def.Edges, model.Edge{ID: "e2", SourceNodeID: "island1", TargetNodeID: "island2", Kind: model.EdgeOnComplete})
	if err := ValidateGraph(def); err == nil {
		t.Error("expected error for an unreachable island disconnected from the explicit entry point")
	}
}
