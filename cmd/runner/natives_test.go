package main

import "testing"

func TestEchoNativeReturnsInputAndVariables(t *testing.T) {
	out, err := echoNative(map[string]any{"a": 1}, map[string]any{"b": 2})
	if err != nil {
		t.Fatal(err)
	}
	echoed, ok := out["echoed"].(map[string]any)
	if !ok || echoed["a"] != 1 {
		t.Errorf("unexpected echoed output: %v", out["echoed"])
	}
}

func TestUppercaseNative(t *testing.T) {
	out, err := uppercaseNative(map[string]any{"text": "hello"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out["text"] != "HELLO" {
		t.Errorf("expected HELLO, got %v", out["text"])
	}
}

func TestUppercaseNativeRejectsMissingText(t *testing.T) {
	if _, err := uppercaseNative(map[string]any{}, nil); err == nil {
		t.Fatal("expected error for missing text")
	}
}

func TestSumNumbersNative(t *testing.T) {
	out, err := sumNumbersNative(map[string]any{"numbers": []any{float64(1), float64(2), float64(3.5)}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out["sum"] != 6.5 {
		t.Errorf("expected 6.5, got %v", out["sum"])
	}
}

func TestSumNumbersNativeRejectsNonNumeric(t *testing.T) {
	if _, err := sumNumbersNative(map[string]any{"numbers": []any{"not a number"}}, nil); err == nil {
		t.Fatal("expected error for non-numeric entry")
	}
}
