package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lyzr/orchestrator/common/logger"
)

func TestExecuteHandlerDispatchesToRegisteredNative(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute/{name}", executeHandler(logger.New("error", "json")))

	body, _ := json.Marshal(executeRequest{Input: map[string]any{"text": "hi"}})
	req := httptest.NewRequest(http.MethodPost, "/execute/uppercase", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp executeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Output["text"] != "HI" {
		t.Errorf("expected HI, got %v", resp.Output["text"])
	}
}

func TestExecuteHandlerUnknownNativeReturns404(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute/{name}", executeHandler(logger.New("error", "json")))

	req := httptest.NewRequest(http.MethodPost, "/execute/does-not-exist", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestExecuteHandlerNativeErrorReturns422(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute/{name}", executeHandler(logger.New("error", "json")))

	req := httptest.NewRequest(http.MethodPost, "/execute/uppercase", bytes.NewReader([]byte(`{"input":{}}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}
