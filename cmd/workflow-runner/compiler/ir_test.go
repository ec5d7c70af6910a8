package compiler

import "testing"

func TestLoadJSONValidGraph(t *testing.T) {
	raw := []byte(`{
		"workflowId": "wf1",
		"workflowName": "demo",
		"nodes": [
			{"nodeId": "a", "runtimeType": "noop"},
			{"nodeId": "b", "runtimeType": "noop"}
		],
		"connections": [
			{"edgeId": "e1", "sourceNodeId": "a", "targetNodeId": "b", "type": "on-complete"}
		]
	}`)

	def, err := LoadJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.WorkflowID != "wf1" || len(def.Nodes) != 2 {
		t.Errorf("unexpected parsed definition: %+v", def)
	}
}

func TestLoadJSONRejectsInvalidGraph(t *testing.T) {
	raw := []byte(`{"workflowId": "wf1", "nodes": [{"nodeId": "a", "runtimeType": "noop"}], "connections": [{"edgeId":"e1","sourceNodeId":"a","targetNodeId":"ghost","type":"on-complete"}]}`)
	if _, err := LoadJSON(raw); err == nil {
		t.Error("expected validation error for dangling edge")
	}
}

func TestLoadYAMLValidGraph(t *testing.T) {
	raw := []byte(`
workflowId: wf2
workflowName: demo-yaml
nodes:
  - nodeId: a
    runtimeType: noop
connections: []
`)
	def, err := LoadYAML(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.WorkflowID != "wf2" {
		t.Errorf("unexpected workflow id: %s", def.WorkflowID)
	}
}
