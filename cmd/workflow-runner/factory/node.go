// Package factory converts a node definition into a live node object per
// the engine's node factory contract: initialize(definition) and
// execute(workflow_context, node_context, cancellation). Each runtime kind
// {compiled-native, inline-script, script-file, branch, switch,
// loop-foreach, loop-while, subflow, container, timer, noop} is a
// self-contained variant behind the single Node interface; Build is the
// factory's single dispatch point.
package factory

import (
	"context"
	"fmt"

	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
)

// RunContext is what a node's Execute needs from the engine: the shared
// workflow variables and enough identity to log and emit diagnostics.
// Kept as a narrow interface (rather than importing the engine package
// directly) so factory has no dependency on engine — the engine depends on
// factory, not the other way around.
type RunContext interface {
	Variables() *model.Variables
	WorkflowInstanceID() string
	Logger() *logger.Logger
}

// Emit is called by loop variants to publish one `next` message per
// iteration, ahead of the node's own terminal completion.
type Emit func(input map[string]any)

// Node is the live, initialized node object the engine's supervisor drives.
type Node interface {
	// Initialize prepares the node from its definition: pre-compiling
	// expressions, parsing schedules, validating required configuration.
	// Errors here are fatal for the node (§7: node-init).
	Initialize(def *model.NodeDefinition) error

	// Execute runs one invocation of the node. It returns the source port
	// used to select outgoing edges on completion (empty string if the
	// node has no ports) and an error if the node failed. emit may be
	// called any number of times before Execute returns to publish `next`
	// messages (loop-foreach/loop-while).
	Execute(ctx context.Context, run RunContext, nctx *model.NodeExecutionContext, emit Emit) (sourcePort string, err error)
}

// WorkflowRunner runs a child workflow to completion, used by the subflow
// and container variants. hierarchyPrefix namespaces child lifecycle events
// (e.g. "[parent/child]") so nested runs stay unambiguous on a shared event
// stream (§4.7).
type WorkflowRunner func(ctx context.Context, def *model.WorkflowDefinition, initialVariables map[string]any, hierarchyPrefix string) (*model.WorkflowStatusSnapshot, error)

// ConditionEvaluator is the §4.3 boolean-expression evaluator, satisfied by
// cmd/workflow-runner/condition.Evaluator.
type ConditionEvaluator interface {
	Evaluate(expr string, output map[string]any, variables map[string]any) (bool, error)
}

// NativeImplementation is the contract an externally supplied compiled-native
// node must fulfil; the engine is agnostic to how it is hosted (in-process
// registration, HTTP call-out, subprocess — all out of core scope per §1).
type NativeImplementation interface {
	Execute(ctx context.Context, input map[string]any, variables map[string]any) (output map[string]any, err error)
}

// Factory builds live Node objects from node definitions.
type Factory struct {
	evaluator   ConditionEvaluator
	runWorkflow WorkflowRunner
	natives     map[string]NativeImplementation
	log         *logger.Logger
}

// New creates a node Factory. runWorkflow and natives may be nil if the
// workflow never uses subflow/container or compiled-native nodes.
func New(evaluator ConditionEvaluator, runWorkflow WorkflowRunner, natives map[string]NativeImplementation, log *logger.Logger) *Factory {
	if natives == nil {
		natives = make(map[string]NativeImplementation)
	}
	return &Factory{evaluator: evaluator, runWorkflow: runWorkflow, natives: natives, log: log}
}

// Build constructs and initializes the live node for a definition.
func (f *Factory) Build(def *model.NodeDefinition) (Node, error) {
	var n Node

	switch def.Kind {
	case model.KindNoop:
		n = &NoopNode{}
	case model.KindBranch:
		n = &BranchNode{evaluator: f.evaluator}
	case model.KindSwitch:
		n = &SwitchNode{}
	case model.KindLoopForEach:
		n = &LoopForEachNode{}
	case model.KindLoopWhile:
		n = &LoopWhileNode{evaluator: f.evaluator}
	case model.KindTimer:
		n = &TimerNode{}
	case model.KindSubflow:
		n = &SubflowNode{runWorkflow: f.runWorkflow}
	case model.KindContainer:
		n = &ContainerNode{runWorkflow: f.runWorkflow}
	case model.KindInlineScript:
		n = &ScriptNode{}
	case model.KindScriptFile:
		n = &ScriptNode{loadFromPath: true}
	case model.KindCompiledNative:
		n = &CompiledNativeNode{natives: f.natives}
	default:
		return nil, fmt.Errorf("unknown node runtime kind: %s", def.Kind)
	}

	if err := n.Initialize(def); err != nil {
		return nil, fmt.Errorf("node %s (%s) init failed: %w", def.ID, def.Kind, err)
	}
	return n, nil
}
