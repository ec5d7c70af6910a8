package main

import (
	"encoding/json"
	"net/http"

	"github.com/lyzr/orchestrator/common/logger"
)

// executeRequest mirrors what factory.HTTPNativeImplementation sends: the
// node's resolved input and the workflow's current variables.
type executeRequest struct {
	Input     map[string]any `json:"input"`
	Variables map[string]any `json:"variables"`
}

type executeResponse struct {
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// executeHandler dispatches POST /execute/{name} to the matching native
// implementation in registry.
func executeHandler(log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		fn, ok := registry[name]
		if !ok {
			writeExecuteError(w, http.StatusNotFound, "unknown native: "+name)
			return
		}

		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeExecuteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		output, err := fn(req.Input, req.Variables)
		if err != nil {
			log.Warn("native execution failed", "name", name, "error", err)
			writeExecuteError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(executeResponse{Output: output})
	}
}

func writeExecuteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(executeResponse{Error: message})
}
