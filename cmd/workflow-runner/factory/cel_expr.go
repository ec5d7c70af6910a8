package factory

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// celEnv is the shared CEL environment for value-producing expressions
// (switch expressions, inline-script/script-file assignments). Unlike the
// boolean condition grammar in cmd/workflow-runner/condition, these
// expressions only need to PRODUCE a value, so CEL's declaration-checked
// evaluation is a better fit than the hand-rolled parser.
var celEnv *cel.Env
var celEnvOnce sync.Once
var celEnvErr error

func sharedCelEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("input", cel.DynType),
			cel.Variable("variables", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

var (
	programCacheMu sync.Mutex
	programCache   = map[string]cel.Program{}
)

func compileExpression(expr string) (cel.Program, error) {
	programCacheMu.Lock()
	if p, ok := programCache[expr]; ok {
		programCacheMu.Unlock()
		return p, nil
	}
	programCacheMu.Unlock()

	env, err := sharedCelEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expr, issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build program for %q: %w", expr, err)
	}

	programCacheMu.Lock()
	programCache[expr] = program
	programCacheMu.Unlock()
	return program, nil
}

// evalValueExpression evaluates a CEL expression against {input, variables}
// and returns its native result.
func evalValueExpression(expr string, input, variables map[string]any) (any, error) {
	program, err := compileExpression(expr)
	if err != nil {
		return nil, err
	}
	out, _, err := program.Eval(map[string]any{
		"input":     input,
		"variables": variables,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expr, err)
	}
	return out.Value(), nil
}
