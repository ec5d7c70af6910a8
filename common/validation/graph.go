package validation

import (
	"fmt"

	"github.com/lyzr/orchestrator/common/model"
)

// ValidateGraph checks a workflow definition for structural correctness
// (§4.6): node-id uniqueness, edge endpoints, entry-point existence, cycles
// (ignoring loop-local feedback edges), reachability, and per-kind
// invariants (branch has both outgoing ports, switch has at least one case,
// loops reference a body, subflow/container carry a child graph).
func ValidateGraph(def *model.WorkflowDefinition) error {
	if len(def.Nodes) == 0 {
		return fmt.Errorf("workflow %s has no nodes", def.WorkflowID)
	}

	seen := make(map[string]*model.NodeDefinition, len(def.Nodes))
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("node at index %d has an empty id", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("duplicate node id: %s", n.ID)
		}
		seen[n.ID] = n
	}

	for _, e := range def.Edges {
		if _, ok := seen[e.SourceNodeID]; !ok {
			return fmt.Errorf("edge %s references non-existent source node: %s", e.ID, e.SourceNodeID)
		}
		if _, ok := seen[e.TargetNodeID]; !ok {
			return fmt.Errorf("edge %s references non-existent target node: %s", e.ID, e.TargetNodeID)
		}
	}

	entries := def.EntryPoints()
	if len(entries) == 0 {
		return fmt.Errorf("workflow %s has no entry point", def.WorkflowID)
	}
	for _, e := range entries {
		if _, ok := seen[e]; !ok {
			return fmt.Errorf("entry point node does not exist: %s", e)
		}
	}

	if err := checkCycles(def, seen); err != nil {
		return err
	}
	if err := checkReachability(def, entries, seen); err != nil {
		return err
	}
	if err := checkPerKindInvariants(def, seen); err != nil {
		return err
	}

	return nil
}

// feedbackEdgeKinds are loop-local back-edges that legitimately close a
// cycle (a loop node revisiting itself or its body) and must be excluded
// from the plain-DFS cycle check.
var feedbackEdgeKinds = map[model.EdgeKind]bool{
	model.EdgeLoopBody:      true,
	model.EdgeIterationCheck: true,
	model.EdgeLoopExit:      true,
}

func checkCycles(def *model.WorkflowDefinition, nodes map[string]*model.NodeDefinition) error {
	visited := make(map[string]bool, len(nodes))
	recStack := make(map[string]bool, len(nodes))

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		recStack[id] = true

		for _, e := range def.OutgoingEdges(id) {
			if feedbackEdgeKinds[e.Kind] {
				continue
			}
			if !visited[e.TargetNodeID] {
				if err := visit(e.TargetNodeID); err != nil {
					return err
				}
			} else if recStack[e.TargetNodeID] {
				return fmt.Errorf("workflow contains a cycle through edge %s (%s -> %s) not marked as loop feedback", e.ID, id, e.TargetNodeID)
			}
		}

		recStack[id] = false
		return nil
	}

	for id := range nodes {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkReachability(def *model.WorkflowDefinition, entries []string, nodes map[string]*model.NodeDefinition) error {
	reached := make(map[string]bool, len(nodes))
	queue := append([]string{}, entries...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reached[id] {
			continue
		}
		reached[id] = true
		for _, e := range def.OutgoingEdges(id) {
			if !reached[e.TargetNodeID] {
				queue = append(queue, e.TargetNodeID)
			}
		}
	}

	var unreachable []string
	for id := range nodes {
		if !reached[id] {
			unreachable = append(unreachable, id)
		}
	}
	if len(unreachable) > 0 {
		return fmt.Errorf("unreachable nodes from entry points: %v", unreachable)
	}
	return nil
}

func checkPerKindInvariants(def *model.WorkflowDefinition, nodes map[string]*model.NodeDefinition) error {
	for id, n := range nodes {
		outgoing := def.OutgoingEdges(id)

		switch n.Kind {
		case model.KindBranch:
			hasTrue, hasFalse := false, false
			for _, e := range outgoing {
				hasTrue = hasTrue || e.Kind == model.EdgeTrueBranch
				hasFalse = hasFalse || e.Kind == model.EdgeFalseBranch
			}
			if !hasTrue || !hasFalse {
				return fmt.Errorf("branch node %s must have both a true-branch and a false-branch outgoing edge", id)
			}

		case model.KindSwitch:
			cases, _ := n.Configuration["cases"].(map[string]any)
			if len(cases) == 0 {
				return fmt.Errorf("switch node %s must declare at least one case", id)
			}

		case model.KindLoopForEach, model.KindLoopWhile:
			hasBody := false
			for _, e := range outgoing {
				if e.Kind == model.EdgeLoopBody {
					hasBody = true
				}
			}
			if !hasBody {
				return fmt.Errorf("loop node %s must have a loop-body edge", id)
			}

		case model.KindSubflow:
			_, hasInline := n.Configuration["workflowDefinition"]
			path, _ := n.Configuration["workflowFilePath"].(string)
			if !hasInline && path == "" {
				return fmt.Errorf("subflow node %s requires a workflowFilePath or an embedded workflowDefinition", id)
			}

		case model.KindContainer:
			childNodes, _ := n.Configuration["childNodes"].([]any)
			if len(childNodes) == 0 {
				return fmt.Errorf("container node %s requires at least one child node", id)
			}
		}
	}
	return nil
}
