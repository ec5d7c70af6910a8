// Package compiler loads a workflow graph file (JSON or YAML) into a
// validated model.WorkflowDefinition — the boundary between a graph
// author's file and the engine's in-memory representation.
package compiler

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lyzr/orchestrator/common/model"
	"github.com/lyzr/orchestrator/common/validation"
)

// LoadJSON parses JSON graph bytes into a validated WorkflowDefinition.
func LoadJSON(data []byte) (*model.WorkflowDefinition, error) {
	def, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	return finish(def)
}

// LoadYAML parses YAML graph bytes into a validated WorkflowDefinition.
func LoadYAML(data []byte) (*model.WorkflowDefinition, error) {
	def, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	return finish(def)
}

// ParseJSON parses JSON graph bytes without running graph validation, for
// callers (e.g. a subflow node's SkipValidation option) that accept an
// already-trusted definition.
func ParseJSON(data []byte) (*model.WorkflowDefinition, error) {
	var def model.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow JSON: %w", err)
	}
	if def.WorkflowID == "" {
		return nil, fmt.Errorf("workflow definition is missing workflowId")
	}
	return &def, nil
}

// ParseYAML parses YAML graph bytes without running graph validation.
func ParseYAML(data []byte) (*model.WorkflowDefinition, error) {
	var def model.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow YAML: %w", err)
	}
	if def.WorkflowID == "" {
		return nil, fmt.Errorf("workflow definition is missing workflowId")
	}
	return &def, nil
}

func finish(def *model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	if err := validation.ValidateGraph(def); err != nil {
		return nil, fmt.Errorf("workflow %s failed validation: %w", def.WorkflowID, err)
	}
	return def, nil
}
