package factory

import (
	"context"
	"fmt"

	"github.com/lyzr/orchestrator/common/model"
)

// LoopForEachNode evaluates a collection expression once, emits one `next`
// message per item (routed to the loop body via loop-body edges), then
// completes with source port loop-body once every item has been emitted.
type LoopForEachNode struct {
	collectionExpr string
	itemVar        string
}

func (n *LoopForEachNode) Initialize(def *model.NodeDefinition) error {
	expr, _ := def.Configuration["collectionExpression"].(string)
	if expr == "" {
		return fmt.Errorf("loop-foreach node requires collectionExpression")
	}
	n.collectionExpr = expr

	n.itemVar = "item"
	if v, ok := def.Configuration["itemVariableName"].(string); ok && v != "" {
		n.itemVar = v
	}
	return nil
}

func (n *LoopForEachNode) Execute(ctx context.Context, run RunContext, nctx *model.NodeExecutionContext, emit Emit) (string, error) {
	value, err := evalValueExpression(n.collectionExpr, nctx.Input, run.Variables().Snapshot())
	if err != nil {
		return "", fmt.Errorf("loop-foreach collection expression: %w", err)
	}

	items, ok := value.([]any)
	if !ok {
		return "", fmt.Errorf("loop-foreach collection expression did not produce a list, got %T", value)
	}

	for i, item := range items {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		iterationInput := map[string]any{
			n.itemVar: item,
			"index":   i,
		}
		for k, v := range nctx.Input {
			if _, exists := iterationInput[k]; !exists {
				iterationInput[k] = v
			}
		}
		emit(iterationInput)
	}

	nctx.Output["itemCount"] = len(items)
	return string(model.EdgeLoopBody), nil
}

// LoopWhileNode re-evaluates its condition on every invocation. While the
// condition holds it emits one `next` message to drive the loop body and
// completes with source port iteration-check; the node runs again when the
// body's completion is routed back to it over an iteration-check edge. Once
// the condition is false it completes with source port loop-body, matching
// an on-complete-style downstream exit edge. A safety cap aborts the loop if
// the condition never goes false.
type LoopWhileNode struct {
	evaluator     ConditionEvaluator
	nodeID        string
	condition     string
	maxIterations int
}

const defaultLoopWhileMaxIterations = 1000

func (n *LoopWhileNode) Initialize(def *model.NodeDefinition) error {
	cond, _ := def.Configuration["condition"].(string)
	if cond == "" {
		return fmt.Errorf("loop-while node requires a non-empty condition")
	}
	n.nodeID = def.ID
	n.condition = cond

	n.maxIterations = defaultLoopWhileMaxIterations
	if raw, ok := def.Configuration["maxIterations"]; ok {
		switch v := raw.(type) {
		case int:
			n.maxIterations = v
		case float64:
			n.maxIterations = int(v)
		}
	}
	return nil
}

func (n *LoopWhileNode) Execute(ctx context.Context, run RunContext, nctx *model.NodeExecutionContext, emit Emit) (string, error) {
	counterKey := fmt.Sprintf("__loopWhileIterations:%s", n.nodeID)
	count := run.Variables().Increment(counterKey, 1)
	if count > n.maxIterations {
		return "", fmt.Errorf("loop-while exceeded safety cap of %d iterations", n.maxIterations)
	}

	ok, err := n.evaluator.Evaluate(n.condition, nctx.Input, run.Variables().Snapshot())
	if err != nil {
		return "", fmt.Errorf("loop-while condition: %w", err)
	}

	for k, v := range nctx.Input {
		nctx.Output[k] = v
	}
	nctx.Output["iteration"] = count

	if ok {
		emit(nctx.Input)
		return string(model.EdgeIterationCheck), nil
	}
	return string(model.EdgeLoopBody), nil
}
