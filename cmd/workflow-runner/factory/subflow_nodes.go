package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lyzr/orchestrator/cmd/workflow-runner/compiler"
	"github.com/lyzr/orchestrator/common/model"
	"github.com/lyzr/orchestrator/common/validation"
)

// SubflowNode runs a referenced child workflow to completion and maps
// selected variables in both directions.
type SubflowNode struct {
	runWorkflow WorkflowRunner

	definition     *model.WorkflowDefinition
	inputMappings  map[string]string // child variable name -> input path key
	outputMappings map[string]string // parent output key -> child variable name
	timeout        time.Duration
}

func (n *SubflowNode) Initialize(def *model.NodeDefinition) error {
	if n.runWorkflow == nil {
		return fmt.Errorf("subflow node requires a workflow runner")
	}

	skipValidation, _ := def.Configuration["skipValidation"].(bool)

	wf, err := loadSubflowDefinition(def.Configuration, skipValidation)
	if err != nil {
		return err
	}
	n.definition = wf

	n.inputMappings = stringMap(def.Configuration["inputMappings"])
	n.outputMappings = stringMap(def.Configuration["outputMappings"])

	n.timeout = 10 * time.Minute
	if raw, ok := def.Configuration["timeout"].(string); ok && raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			n.timeout = d
		}
	}
	return nil
}

func (n *SubflowNode) Execute(ctx context.Context, run RunContext, nctx *model.NodeExecutionContext, emit Emit) (string, error) {
	childVars := map[string]any{}
	for childVar, inputKey := range n.inputMappings {
		childVars[childVar] = nctx.Input[inputKey]
	}

	runCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	prefix := fmt.Sprintf("%s/%s", run.WorkflowInstanceID(), n.definition.WorkflowID)
	snapshot, err := n.runWorkflow(runCtx, n.definition, childVars, prefix)
	if err != nil {
		return "", fmt.Errorf("subflow %s: %w", n.definition.WorkflowID, err)
	}

	for k, v := range nctx.Input {
		nctx.Output[k] = v
	}
	for parentKey, childVar := range n.outputMappings {
		if snapshot.Variables != nil {
			nctx.Output[parentKey] = snapshot.Variables[childVar]
		}
	}

	switch snapshot.Status {
	case model.WorkflowCompleted:
		return "", nil
	case model.WorkflowCancelled:
		return "", context.Canceled
	default:
		return "", fmt.Errorf("subflow %s finished with status %s", n.definition.WorkflowID, snapshot.Status)
	}
}

// ContainerNode groups a set of child nodes and connections into a single
// nested graph that runs fail-fast: the first unhandled child failure fails
// the container.
type ContainerNode struct {
	runWorkflow WorkflowRunner
	definition  *model.WorkflowDefinition
}

func (n *ContainerNode) Initialize(def *model.NodeDefinition) error {
	if n.runWorkflow == nil {
		return fmt.Errorf("container node requires a workflow runner")
	}

	nodesRaw, _ := def.Configuration["childNodes"].([]any)
	connsRaw, _ := def.Configuration["childConnections"].([]any)
	if len(nodesRaw) == 0 {
		return fmt.Errorf("container node requires at least one child node")
	}

	encodedNodes, err := json.Marshal(nodesRaw)
	if err != nil {
		return fmt.Errorf("marshal container child nodes: %w", err)
	}
	var nodes []model.NodeDefinition
	if err := json.Unmarshal(encodedNodes, &nodes); err != nil {
		return fmt.Errorf("unmarshal container child nodes: %w", err)
	}

	var edges []model.Edge
	if len(connsRaw) > 0 {
		encodedEdges, err := json.Marshal(connsRaw)
		if err != nil {
			return fmt.Errorf("marshal container child connections: %w", err)
		}
		if err := json.Unmarshal(encodedEdges, &edges); err != nil {
			return fmt.Errorf("unmarshal container child connections: %w", err)
		}
	} else {
		// Sequential convenience wiring: chain the declared nodes in order.
		for i := 0; i+1 < len(nodes); i++ {
			edges = append(edges, model.Edge{
				ID:           fmt.Sprintf("%s-seq-%d", def.ID, i),
				SourceNodeID: nodes[i].ID,
				TargetNodeID: nodes[i+1].ID,
				Kind:         model.EdgeOnComplete,
			})
		}
	}

	n.definition = &model.WorkflowDefinition{
		WorkflowID:       def.ID + "-container",
		WorkflowName:     def.Name,
		EntryPointNodeID: nodes[0].ID,
		Nodes:            nodes,
		Edges:            edges,
	}
	return nil
}

func (n *ContainerNode) Execute(ctx context.Context, run RunContext, nctx *model.NodeExecutionContext, emit Emit) (string, error) {
	prefix := fmt.Sprintf("%s/%s", run.WorkflowInstanceID(), n.definition.WorkflowID)
	snapshot, err := n.runWorkflow(ctx, n.definition, nctx.Input, prefix)
	if err != nil {
		return "", fmt.Errorf("container %s: %w", n.definition.WorkflowID, err)
	}

	for k, v := range nctx.Input {
		nctx.Output[k] = v
	}
	if snapshot.Variables != nil {
		for k, v := range snapshot.Variables {
			nctx.Output[k] = v
		}
	}

	switch snapshot.Status {
	case model.WorkflowCompleted:
		return "", nil
	case model.WorkflowCancelled:
		return "", context.Canceled
	default:
		return "", fmt.Errorf("container %s failed fast: %s", n.definition.WorkflowID, snapshot.FailureReason)
	}
}

// loadSubflowDefinition resolves a subflow node's child graph from either
// an inline workflowDefinition or a workflowFilePath (JSON or YAML,
// dispatched by extension). skipValidation bypasses ValidateGraph for an
// already-trusted definition.
func loadSubflowDefinition(config map[string]any, skipValidation bool) (*model.WorkflowDefinition, error) {
	if path, ok := config["workflowFilePath"].(string); ok && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read subflow workflow file %s: %w", path, err)
		}
		isYAML := strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
		if skipValidation {
			if isYAML {
				return compiler.ParseYAML(data)
			}
			return compiler.ParseJSON(data)
		}
		if isYAML {
			return compiler.LoadYAML(data)
		}
		return compiler.LoadJSON(data)
	}

	raw, ok := config["workflowDefinition"]
	if !ok {
		return nil, fmt.Errorf("subflow node requires a workflowFilePath or an embedded workflowDefinition")
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal subflow definition: %w", err)
	}
	var wf model.WorkflowDefinition
	if err := json.Unmarshal(encoded, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal subflow definition: %w", err)
	}
	if !skipValidation {
		if err := validation.ValidateGraph(&wf); err != nil {
			return nil, fmt.Errorf("workflow %s failed validation: %w", wf.WorkflowID, err)
		}
	}
	return &wf, nil
}

func stringMap(raw any) map[string]string {
	out := map[string]string{}
	m, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
