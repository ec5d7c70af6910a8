package factory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lyzr/orchestrator/common/clients"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
)

func TestHTTPNativeImplementationExecutesAgainstExternalWorker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute/uppercase" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req struct {
			Input map[string]any `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{"text": "HELLO"},
		})
	}))
	defer srv.Close()

	log := logger.New("error", "json")
	client := clients.NewHTTPClient(http.DefaultClient, log)
	impl := NewHTTPNativeImplementation(client, srv.URL, "uppercase")

	output, err := impl.Execute(context.Background(), map[string]any{"text": "hello"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if output["text"] != "HELLO" {
		t.Errorf("expected HELLO, got %v", output["text"])
	}
}

func TestHTTPNativeImplementationPropagatesWorkerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{"error": "boom"})
	}))
	defer srv.Close()

	log := logger.New("error", "json")
	client := clients.NewHTTPClient(http.DefaultClient, log)
	impl := NewHTTPNativeImplementation(client, srv.URL, "broken")

	_, err := impl.Execute(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestCompiledNativeNodeDispatchesToHTTPImplementation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{"sum": float64(6)},
		})
	}))
	defer srv.Close()

	log := logger.New("error", "json")
	client := clients.NewHTTPClient(http.DefaultClient, log)
	natives := map[string]NativeImplementation{
		"sum-numbers": NewHTTPNativeImplementation(client, srv.URL, "sum-numbers"),
	}

	n := &CompiledNativeNode{natives: natives}
	def := &model.NodeDefinition{ID: "n1", Kind: model.KindCompiledNative, AssemblyReference: "sum-numbers"}
	if err := n.Initialize(def); err != nil {
		t.Fatal(err)
	}

	nctx := model.NewNodeExecutionContext(map[string]any{"numbers": []any{float64(1), float64(2), float64(3)}})
	if _, err := n.Execute(context.Background(), newFakeRunContext(nil), nctx, nil); err != nil {
		t.Fatal(err)
	}
	if nctx.Output["sum"] != float64(6) {
		t.Errorf("expected sum 6, got %v", nctx.Output["sum"])
	}
}
