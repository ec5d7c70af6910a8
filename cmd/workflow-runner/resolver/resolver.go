// Package resolver resolves `$variables.path` / `$input.path` references
// (and `${...}` string interpolation of the same) inside a node's
// configuration map against the workflow's variables and the node's
// inherited input — the mechanism node definitions use to parameterize
// themselves off live workflow state (e.g. a compiled-native node's
// call parameters templated with a variable).
package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Resolver resolves variable/input references embedded in a node's
// configuration.
type Resolver struct{}

// New creates a Resolver.
func New() *Resolver {
	return &Resolver{}
}

// Env is the set of maps a reference can resolve against.
type Env struct {
	Variables map[string]any
	Input     map[string]any
}

var interpolationPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveConfig returns a copy of config with every string value's
// references substituted.
func (r *Resolver) ResolveConfig(env Env, config map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(config))
	for key, value := range config {
		v, err := r.resolveValue(env, value)
		if err != nil {
			return nil, fmt.Errorf("resolve config key %q: %w", key, err)
		}
		resolved[key] = v
	}
	return resolved, nil
}

func (r *Resolver) resolveValue(env Env, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(env, v)
	case map[string]any:
		return r.ResolveConfig(env, v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.resolveValue(env, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func (r *Resolver) resolveString(env Env, str string) (any, error) {
	if strings.HasPrefix(str, "$variables.") || strings.HasPrefix(str, "$input.") {
		return r.resolveReference(env, str)
	}
	if strings.Contains(str, "${") {
		return r.resolveInterpolation(env, str)
	}
	return str, nil
}

// resolveReference resolves a bare "$variables.path" or "$input.path",
// returning the referenced value with its native type (not stringified).
func (r *Resolver) resolveReference(env Env, expr string) (any, error) {
	var root any
	var path string
	switch {
	case strings.HasPrefix(expr, "$variables."):
		root, path = env.Variables, strings.TrimPrefix(expr, "$variables.")
	case strings.HasPrefix(expr, "$input."):
		root, path = env.Input, strings.TrimPrefix(expr, "$input.")
	default:
		return nil, fmt.Errorf("unrecognized reference expression: %s", expr)
	}

	data, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("marshal resolver root: %w", err)
	}
	if path == "" {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}

	result := gjson.GetBytes(data, path)
	if !result.Exists() {
		return nil, nil
	}
	return result.Value(), nil
}

func (r *Resolver) resolveInterpolation(env Env, str string) (string, error) {
	result := str
	for _, match := range interpolationPattern.FindAllStringSubmatch(str, -1) {
		placeholder, expr := match[0], match[1]
		value, err := r.resolveString(env, expr)
		if err != nil {
			return "", fmt.Errorf("resolve interpolation %s: %w", placeholder, err)
		}

		var asStr string
		switch v := value.(type) {
		case string:
			asStr = v
		case nil:
			asStr = ""
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("marshal interpolated value: %w", err)
			}
			asStr = string(b)
		}
		result = strings.Replace(result, placeholder, asStr, 1)
	}
	return result, nil
}

