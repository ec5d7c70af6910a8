package factory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lyzr/orchestrator/common/clients"
)

// HTTPNativeImplementation adapts a compiled-native node's AssemblyReference
// to an HTTP call-out against an external worker process (cmd/runner is the
// reference implementation), so a native step can live outside this binary
// entirely without the engine knowing the difference.
type HTTPNativeImplementation struct {
	client  *clients.HTTPClient
	baseURL string
	name    string
}

// NewHTTPNativeImplementation builds a NativeImplementation that POSTs to
// baseURL+"/execute/"+name.
func NewHTTPNativeImplementation(client *clients.HTTPClient, baseURL, name string) *HTTPNativeImplementation {
	return &HTTPNativeImplementation{client: client, baseURL: baseURL, name: name}
}

type httpNativeRequest struct {
	Input     map[string]any `json:"input"`
	Variables map[string]any `json:"variables"`
}

type httpNativeResponse struct {
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (h *HTTPNativeImplementation) Execute(ctx context.Context, input map[string]any, variables map[string]any) (map[string]any, error) {
	body, err := json.Marshal(httpNativeRequest{Input: input, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal native request: %w", err)
	}

	url := h.baseURL + "/execute/" + h.name
	resp, err := h.client.DoRequest(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("call native %s: %w", h.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read native %s response: %w", h.name, err)
	}

	var parsed httpNativeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode native %s response: %w", h.name, err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("native %s: %s", h.name, parsed.Error)
	}
	return parsed.Output, nil
}
