package main

import (
	"fmt"
	"strings"
)

// nativeFunc is the signature every demo compiled-native implementation
// hosted by this process satisfies: input plus the caller's workflow
// variables in, output map out.
type nativeFunc func(input map[string]any, variables map[string]any) (map[string]any, error)

// registry is the set of native implementations this runner exposes over
// HTTP, keyed by the name a compiled-native node's definition carries.
var registry = map[string]nativeFunc{
	"echo":        echoNative,
	"uppercase":   uppercaseNative,
	"sum-numbers": sumNumbersNative,
}

// echoNative returns the input under an "echoed" key and the current
// variables under a "variables" key, useful for exercising the wire format.
func echoNative(input map[string]any, variables map[string]any) (map[string]any, error) {
	return map[string]any{
		"echoed":    input,
		"variables": variables,
	}, nil
}

// uppercaseNative upper-cases input["text"].
func uppercaseNative(input map[string]any, variables map[string]any) (map[string]any, error) {
	text, ok := input["text"].(string)
	if !ok {
		return nil, fmt.Errorf("uppercase: input.text must be a string")
	}
	return map[string]any{"text": strings.ToUpper(text)}, nil
}

// sumNumbersNative adds up input["numbers"], a JSON array of numbers.
func sumNumbersNative(input map[string]any, variables map[string]any) (map[string]any, error) {
	raw, ok := input["numbers"].([]any)
	if !ok {
		return nil, fmt.Errorf("sum-numbers: input.numbers must be an array")
	}
	var total float64
	for _, v := range raw {
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("sum-numbers: all entries must be numbers")
		}
		total += n
	}
	return map[string]any{"sum": total}, nil
}
