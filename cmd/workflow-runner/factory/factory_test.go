package factory

import (
	"context"
	"testing"

	"github.com/lyzr/orchestrator/cmd/workflow-runner/condition"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
)

func newConditionEvaluatorForTest() ConditionEvaluator {
	return condition.NewEvaluator()
}

type fakeRunContext struct {
	vars *model.Variables
	log  *logger.Logger
}

func newFakeRunContext(vars map[string]any) *fakeRunContext {
	return &fakeRunContext{vars: model.NewVariables(vars, nil), log: logger.New("error", "json")}
}

func (f *fakeRunContext) Variables() *model.Variables      { return f.vars }
func (f *fakeRunContext) WorkflowInstanceID() string       { return "wf-test" }
func (f *fakeRunContext) Logger() *logger.Logger           { return f.log }

func TestNoopNodePassesInputThrough(t *testing.T) {
	n := &NoopNode{}
	if err := n.Initialize(&model.NodeDefinition{ID: "n1", Kind: model.KindNoop}); err != nil {
		t.Fatal(err)
	}
	nctx := model.NewNodeExecutionContext(map[string]any{"x": 1})
	if _, err := n.Execute(context.Background(), newFakeRunContext(nil), nctx, nil); err != nil {
		t.Fatal(err)
	}
	if nctx.Output["x"] != 1 {
		t.Errorf("expected passthrough, got %v", nctx.Output)
	}
}

func TestBranchNodeSelectsPortByCondition(t *testing.T) {
	cel := newConditionEvaluatorForTest()
	n := &BranchNode{evaluator: cel}
	def := &model.NodeDefinition{ID: "b1", Kind: model.KindBranch, Configuration: map[string]any{"condition": "output.x > 5"}}
	if err := n.Initialize(def); err != nil {
		t.Fatal(err)
	}

	nctx := model.NewNodeExecutionContext(map[string]any{"x": 7.0})
	port, err := n.Execute(context.Background(), newFakeRunContext(nil), nctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if port != string(model.EdgeTrueBranch) {
		t.Errorf("expected true-branch, got %s", port)
	}
}

func TestSwitchNodeDispatchesByCase(t *testing.T) {
	n := &SwitchNode{}
	def := &model.NodeDefinition{
		ID:   "s1",
		Kind: model.KindSwitch,
		Configuration: map[string]any{
			"expression": `input.status`,
			"cases": map[string]any{
				"approved": "approvedPort",
				"rejected": "rejectedPort",
			},
		},
	}
	if err := n.Initialize(def); err != nil {
		t.Fatal(err)
	}

	nctx := model.NewNodeExecutionContext(map[string]any{"status": "approved"})
	port, err := n.Execute(context.Background(), newFakeRunContext(nil), nctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if port != "approvedPort" {
		t.Errorf("expected approvedPort, got %s", port)
	}

	nctx2 := model.NewNodeExecutionContext(map[string]any{"status": "unknown"})
	port2, err := n.Execute(context.Background(), newFakeRunContext(nil), nctx2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if port2 != "default" {
		t.Errorf("expected default, got %s", port2)
	}
}

func TestLoopForEachEmitsOnePerItem(t *testing.T) {
	n := &LoopForEachNode{}
	def := &model.NodeDefinition{
		ID:   "l1",
		Kind: model.KindLoopForEach,
		Configuration: map[string]any{
			"collectionExpression": "input.items",
			"itemVariableName":     "elem",
		},
	}
	if err := n.Initialize(def); err != nil {
		t.Fatal(err)
	}

	nctx := model.NewNodeExecutionContext(map[string]any{"items": []any{"a", "b", "c"}})
	var emitted []map[string]any
	port, err := n.Execute(context.Background(), newFakeRunContext(nil), nctx, func(in map[string]any) {
		emitted = append(emitted, in)
	})
	if err != nil {
		t.Fatal(err)
	}
	if port != string(model.EdgeLoopBody) {
		t.Errorf("expected loop-body port, got %s", port)
	}
	if len(emitted) != 3 {
		t.Fatalf("expected 3 emitted iterations, got %d", len(emitted))
	}
	if emitted[1]["elem"] != "b" {
		t.Errorf("expected second item b, got %v", emitted[1]["elem"])
	}
}

func TestLoopWhileSafetyCap(t *testing.T) {
	n := &LoopWhileNode{evaluator: newConditionEvaluatorForTest(), maxIterations: 3, condition: "true"}
	run := newFakeRunContext(nil)
	nctx := model.NewNodeExecutionContext(nil)

	for i := 0; i < 3; i++ {
		if _, err := n.Execute(context.Background(), run, nctx, func(map[string]any) {}); err != nil {
			t.Fatalf("iteration %d: unexpected error %v", i, err)
		}
	}
	if _, err := n.Execute(context.Background(), run, nctx, func(map[string]any) {}); err == nil {
		t.Error("expected safety cap error on 4th iteration")
	}
}
