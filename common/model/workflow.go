// Package model defines the immutable workflow graph types and the runtime
// records the engine produces while executing a graph.
package model

import "time"

// NodeKind is the discriminant for a node's runtime implementation.
type NodeKind string

const (
	KindCompiledNative NodeKind = "compiled-native"
	KindInlineScript   NodeKind = "inline-script"
	KindScriptFile     NodeKind = "script-file"
	KindBranch         NodeKind = "branch"
	KindSwitch         NodeKind = "switch"
	KindLoopForEach    NodeKind = "loop-foreach"
	KindLoopWhile      NodeKind = "loop-while"
	KindSubflow        NodeKind = "subflow"
	KindContainer      NodeKind = "container"
	KindTimer          NodeKind = "timer"
	KindNoop           NodeKind = "noop"
)

// EdgeKind categorizes which message/port combination activates an edge.
type EdgeKind string

const (
	EdgeOnComplete    EdgeKind = "on-complete"
	EdgeOnFail        EdgeKind = "on-fail"
	EdgeOnCancel      EdgeKind = "on-cancel"
	EdgeLoopBody      EdgeKind = "loop-body"
	EdgeTrueBranch    EdgeKind = "true-branch"
	EdgeFalseBranch   EdgeKind = "false-branch"
	EdgeSwitchCase    EdgeKind = "switch-case"
	EdgeLoopExit      EdgeKind = "loop-exit"
	EdgeIterationCheck EdgeKind = "iteration-check"
)

// NodeDefinition is the discriminated record for one graph node.
type NodeDefinition struct {
	ID                string         `json:"nodeId" yaml:"nodeId"`
	Name              string         `json:"nodeName,omitempty" yaml:"nodeName,omitempty"`
	Kind              NodeKind       `json:"runtimeType" yaml:"runtimeType"`
	AssemblyReference string         `json:"assemblyReference,omitempty" yaml:"assemblyReference,omitempty"`
	ScriptPath        string         `json:"scriptPath,omitempty" yaml:"scriptPath,omitempty"`
	ScriptContent     string         `json:"scriptContent,omitempty" yaml:"scriptContent,omitempty"`
	Configuration     map[string]any `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// Edge connects a source node to a target node.
type Edge struct {
	ID                string        `json:"edgeId" yaml:"edgeId"`
	SourceNodeID      string        `json:"sourceNodeId" yaml:"sourceNodeId"`
	TargetNodeID      string        `json:"targetNodeId" yaml:"targetNodeId"`
	Kind              EdgeKind      `json:"type" yaml:"type"`
	SourcePort        string        `json:"sourcePort,omitempty" yaml:"sourcePort,omitempty"`
	TargetPort        string        `json:"targetPort,omitempty" yaml:"targetPort,omitempty"`
	Condition         string        `json:"condition,omitempty" yaml:"condition,omitempty"`
	MaxRetries        *int          `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	VisibilityTimeout time.Duration `json:"visibilityTimeout,omitempty" yaml:"visibilityTimeout,omitempty"`
}

// WorkflowDefinition is the immutable graph: nodes, edges and defaults.
type WorkflowDefinition struct {
	WorkflowID        string                 `json:"workflowId" yaml:"workflowId"`
	WorkflowName      string                 `json:"workflowName" yaml:"workflowName"`
	EntryPointNodeID  string                 `json:"entryPointNodeId,omitempty" yaml:"entryPointNodeId,omitempty"`
	Nodes             []NodeDefinition       `json:"nodes" yaml:"nodes"`
	Edges             []Edge                 `json:"connections" yaml:"connections"`
	DefaultVariables  map[string]any         `json:"defaultVariables,omitempty" yaml:"defaultVariables,omitempty"`
}

// NodeByID returns the node definition with the given id, if present.
func (w *WorkflowDefinition) NodeByID(id string) (*NodeDefinition, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// OutgoingEdges returns every edge whose source is the given node id.
func (w *WorkflowDefinition) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.SourceNodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns every edge whose target is the given node id.
func (w *WorkflowDefinition) IncomingEdges(nodeID string) []Edge {
	var in []Edge
	for _, e := range w.Edges {
		if e.TargetNodeID == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// EntryPoints returns the explicit entry node (if named) or every node with
// no incoming edges.
func (w *WorkflowDefinition) EntryPoints() []string {
	if w.EntryPointNodeID != "" {
		return []string{w.EntryPointNodeID}
	}

	hasIncoming := make(map[string]bool, len(w.Nodes))
	for _, e := range w.Edges {
		hasIncoming[e.TargetNodeID] = true
	}

	var entries []string
	for _, n := range w.Nodes {
		if !hasIncoming[n.ID] {
			entries = append(entries, n.ID)
		}
	}
	return entries
}
