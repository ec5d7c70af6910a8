package engine

import (
	"context"
	"testing"
	"time"

	"github.com/lyzr/orchestrator/cmd/workflow-runner/condition"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/factory"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/router"
	"github.com/lyzr/orchestrator/common/checkpoint"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
)

func testEngine() *Engine {
	log := logger.New("error", "json")
	evaluator := condition.NewEvaluator()
	r := router.New(evaluator, log)

	var eng *Engine
	f := factory.New(evaluator, func(ctx context.Context, def *model.WorkflowDefinition, vars map[string]any, prefix string) (*model.WorkflowStatusSnapshot, error) {
		return eng.Run(ctx, def, vars, prefix)
	}, nil, log)
	eng = New(f, r, log, checkpoint.NewMemoryStore())
	return eng
}

func TestEngineRunsLinearPipeline(t *testing.T) {
	def := &model.WorkflowDefinition{
		WorkflowID:       "linear",
		EntryPointNodeID: "start",
		Nodes: []model.NodeDefinition{
			{ID: "start", Kind: model.KindNoop},
			{ID: "end", Kind: model.KindNoop},
		},
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "start", TargetNodeID: "end", Kind: model.EdgeOnComplete},
		},
	}

	eng := testEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := eng.Run(ctx, def, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != model.WorkflowCompleted {
		t.Fatalf("expected completed status, got %s", snap.Status)
	}
	if len(snap.NodeInstances) != 2 {
		t.Fatalf("expected 2 node instances, got %d", len(snap.NodeInstances))
	}
}

func TestEngineBranchesOnVariable(t *testing.T) {
	def := &model.WorkflowDefinition{
		WorkflowID:       "branching",
		EntryPointNodeID: "check",
		Nodes: []model.NodeDefinition{
			{ID: "check", Kind: model.KindBranch, Configuration: map[string]any{"condition": "variables.approved == true"}},
			{ID: "approvedPath", Kind: model.KindNoop},
			{ID: "rejectedPath", Kind: model.KindNoop},
		},
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "check", TargetNodeID: "approvedPath", Kind: model.EdgeTrueBranch, SourcePort: string(model.EdgeTrueBranch)},
			{ID: "e2", SourceNodeID: "check", TargetNodeID: "rejectedPath", Kind: model.EdgeFalseBranch, SourcePort: string(model.EdgeFalseBranch)},
		},
	}

	eng := testEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := eng.Run(ctx, def, map[string]any{"approved": true}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != model.WorkflowCompleted {
		t.Fatalf("expected completed status, got %s", snap.Status)
	}

	var ranApproved, ranRejected bool
	for _, ni := range snap.NodeInstances {
		if ni.NodeID == "approvedPath" {
			ranApproved = true
		}
		if ni.NodeID == "rejectedPath" {
			ranRejected = true
		}
	}
	if !ranApproved || ranRejected {
		t.Errorf("expected only the approved path to run, ranApproved=%v ranRejected=%v", ranApproved, ranRejected)
	}
}

func TestEngineCancellation(t *testing.T) {
	def := &model.WorkflowDefinition{
		WorkflowID:       "cancellable",
		EntryPointNodeID: "tick",
		Nodes: []model.NodeDefinition{
			{ID: "tick", Kind: model.KindTimer, Configuration: map[string]any{"schedule": "0 0 1 1 *"}},
		},
	}

	eng := testEngine()
	ctx := context.Background()

	inst, err := eng.register(def, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	go eng.drive(ctx, inst)

	time.Sleep(50 * time.Millisecond)
	if err := eng.Cancel(inst.id); err != nil {
		t.Fatal(err)
	}

	select {
	case <-inst.done:
	case <-time.After(2 * time.Second):
		t.Fatal("workflow did not terminate after cancel")
	}

	snap := inst.snapshot()
	if snap.Status != model.WorkflowCancelled {
		t.Errorf("expected cancelled status, got %s", snap.Status)
	}
}

func TestEngineForEachRunsBodyOncePerItem(t *testing.T) {
	def := &model.WorkflowDefinition{
		WorkflowID:       "foreach",
		EntryPointNodeID: "fe",
		Nodes: []model.NodeDefinition{
			{ID: "fe", Kind: model.KindLoopForEach, Configuration: map[string]any{
				"collectionExpression": "input.items",
				"itemVariableName":     "elem",
			}},
			{ID: "body", Kind: model.KindNoop},
			{ID: "after", Kind: model.KindNoop},
		},
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "fe", TargetNodeID: "body", Kind: model.EdgeLoopBody},
			{ID: "e2", SourceNodeID: "fe", TargetNodeID: "after", Kind: model.EdgeOnComplete},
		},
	}

	eng := testEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := eng.Run(ctx, def, map[string]any{"items": []any{"a", "b", "c"}}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != model.WorkflowCompleted {
		t.Fatalf("expected completed status, got %s", snap.Status)
	}

	var bodyRuns, afterRuns int
	for _, ni := range snap.NodeInstances {
		switch ni.NodeID {
		case "body":
			bodyRuns++
		case "after":
			afterRuns++
		}
	}
	if bodyRuns != 3 {
		t.Errorf("expected body to run once per item (3), got %d", bodyRuns)
	}
	if afterRuns != 1 {
		t.Errorf("expected after to run exactly once, got %d", afterRuns)
	}
}

func TestEngineContainerFailsFastOnChildError(t *testing.T) {
	def := &model.WorkflowDefinition{
		WorkflowID:       "container-fail-fast",
		EntryPointNodeID: "box",
		Nodes: []model.NodeDefinition{
			{
				ID:   "box",
				Kind: model.KindContainer,
				Configuration: map[string]any{
					"childNodes": []any{
						map[string]any{"nodeId": "first", "runtimeType": string(model.KindNoop)},
						map[string]any{"nodeId": "bad", "runtimeType": string(model.KindInlineScript), "scriptContent": "out = 1 / 0"},
						map[string]any{"nodeId": "never", "runtimeType": string(model.KindNoop)},
					},
				},
			},
		},
	}

	eng := testEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := eng.Run(ctx, def, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != model.WorkflowFailed {
		t.Fatalf("expected failed status, got %s", snap.Status)
	}

	var ranBox bool
	for _, ni := range snap.NodeInstances {
		if ni.NodeID == "box" {
			ranBox = true
			if ni.Status != model.StatusFailed {
				t.Errorf("expected box to be marked failed, got %s", ni.Status)
			}
		}
	}
	if !ranBox {
		t.Fatalf("expected box node instance to be recorded")
	}
}

func TestEngineCheckpointsFinalStatus(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	log := logger.New("error", "json")
	evaluator := condition.NewEvaluator()
	r := router.New(evaluator, log)
	var eng *Engine
	f := factory.New(evaluator, func(ctx context.Context, def *model.WorkflowDefinition, vars map[string]any, prefix string) (*model.WorkflowStatusSnapshot, error) {
		return eng.Run(ctx, def, vars, prefix)
	}, nil, log)
	eng = New(f, r, log, store)

	def := &model.WorkflowDefinition{
		WorkflowID:       "checkpointed",
		EntryPointNodeID: "start",
		Nodes:            []model.NodeDefinition{{ID: "start", Kind: model.KindNoop}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := eng.Run(ctx, def, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cp, err := store.Load(context.Background(), snap.WorkflowInstanceID)
	if err != nil {
		t.Fatalf("expected a checkpoint to be saved: %v", err)
	}
	if cp.Snapshot.Status != model.WorkflowCompleted {
		t.Errorf("expected checkpoint to record completed status, got %s", cp.Snapshot.Status)
	}
}
