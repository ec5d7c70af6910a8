package factory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lyzr/orchestrator/cmd/workflow-runner/resolver"
	"github.com/lyzr/orchestrator/common/model"
)

// scriptStatement is one `target = expression` assignment compiled from a
// node's script text.
type scriptStatement struct {
	target string
	expr   string
}

// ScriptNode runs a small sequence of CEL assignment statements against
// {input, variables}, writing each result into the node's output under the
// statement's target key. loadFromPath distinguishes inline-script (text
// embedded in Configuration) from script-file (text read from ScriptPath).
type ScriptNode struct {
	loadFromPath bool
	statements   []scriptStatement
}

func (n *ScriptNode) Initialize(def *model.NodeDefinition) error {
	text := def.ScriptContent
	if n.loadFromPath {
		if def.ScriptPath == "" {
			return fmt.Errorf("script-file node requires a scriptPath")
		}
		if text == "" {
			contents, err := os.ReadFile(def.ScriptPath)
			if err != nil {
				return fmt.Errorf("read script file %s: %w", def.ScriptPath, err)
			}
			text = string(contents)
		}
	}
	if text == "" {
		return fmt.Errorf("script node has no script content")
	}

	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("script line %d: expected `target = expression`, got %q", i+1, line)
		}
		target := strings.TrimSpace(parts[0])
		expr := strings.TrimSpace(parts[1])
		if target == "" || expr == "" {
			return fmt.Errorf("script line %d: empty target or expression", i+1)
		}
		// Pre-compile eagerly so syntax errors surface at node init, not
		// mid-run.
		if _, err := compileExpression(expr); err != nil {
			return fmt.Errorf("script line %d: %w", i+1, err)
		}
		n.statements = append(n.statements, scriptStatement{target: target, expr: expr})
	}
	if len(n.statements) == 0 {
		return fmt.Errorf("script node compiled zero statements")
	}
	return nil
}

func (n *ScriptNode) Execute(ctx context.Context, run RunContext, nctx *model.NodeExecutionContext, emit Emit) (string, error) {
	variables := run.Variables().Snapshot()
	for k, v := range nctx.Input {
		nctx.Output[k] = v
	}
	for _, stmt := range n.statements {
		value, err := evalValueExpression(stmt.expr, nctx.Output, variables)
		if err != nil {
			return "", fmt.Errorf("statement %s: %w", stmt.target, err)
		}
		nctx.Output[stmt.target] = value
	}
	return "", nil
}

// CompiledNativeNode dispatches to an externally supplied implementation
// resolved by name from AssemblyReference. The engine never inspects what
// that implementation does internally (§1: specified only at its interface).
// Configuration keys other than assemblyReference are static call parameters
// that may reference workflow variables/input (`$variables.path`,
// `${$input.path}`); they're resolved fresh against each execution's live
// state and merged into the input sent to the implementation.
type CompiledNativeNode struct {
	natives map[string]NativeImplementation
	impl    NativeImplementation
	params  map[string]any
}

func (n *CompiledNativeNode) Initialize(def *model.NodeDefinition) error {
	if def.AssemblyReference == "" {
		return fmt.Errorf("compiled-native node requires an assemblyReference")
	}
	impl, ok := n.natives[def.AssemblyReference]
	if !ok {
		return fmt.Errorf("no registered native implementation for assemblyReference %q", def.AssemblyReference)
	}
	n.impl = impl

	n.params = make(map[string]any, len(def.Configuration))
	for k, v := range def.Configuration {
		n.params[k] = v
	}
	return nil
}

func (n *CompiledNativeNode) Execute(ctx context.Context, run RunContext, nctx *model.NodeExecutionContext, emit Emit) (string, error) {
	variables := run.Variables().Snapshot()

	input := nctx.Input
	if len(n.params) > 0 {
		resolved, err := resolver.New().ResolveConfig(resolver.Env{Variables: variables, Input: nctx.Input}, n.params)
		if err != nil {
			return "", fmt.Errorf("resolve compiled-native parameters: %w", err)
		}
		input = make(map[string]any, len(nctx.Input)+len(resolved))
		for k, v := range nctx.Input {
			input[k] = v
		}
		for k, v := range resolved {
			input[k] = v
		}
	}

	output, err := n.impl.Execute(ctx, input, variables)
	if err != nil {
		return "", err
	}
	for k, v := range output {
		nctx.Output[k] = v
	}
	return "", nil
}
