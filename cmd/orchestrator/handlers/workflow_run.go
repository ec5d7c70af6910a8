package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/orchestrator/cmd/orchestrator/middleware"
	"github.com/lyzr/orchestrator/cmd/orchestrator/service"
	"github.com/lyzr/orchestrator/common/bootstrap"
)

// WorkflowRunHandler exposes the engine's start/status/pause/resume/cancel
// control surface over HTTP.
type WorkflowRunHandler struct {
	components *bootstrap.Components
	runs       *service.WorkflowRunService
}

// NewWorkflowRunHandler creates a WorkflowRunHandler.
func NewWorkflowRunHandler(components *bootstrap.Components, runs *service.WorkflowRunService) *WorkflowRunHandler {
	return &WorkflowRunHandler{components: components, runs: runs}
}

// StartRun compiles a posted graph (JSON or YAML, by ?format=) and starts it.
func (h *WorkflowRunHandler) StartRun(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	username := middleware.GetUsername(c)
	if username == "" {
		username = "system"
	}

	// Run-time inputs are supplied via the graph's own defaultVariables;
	// the posted body is the graph definition itself.
	resp, err := h.runs.StartRun(c.Request().Context(), &service.StartRunRequest{
		Username:  username,
		Format:    c.QueryParam("format"),
		GraphData: body,
	})
	if err != nil {
		if rateLimitErr, ok := err.(*service.RateLimitError); ok {
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"error":   "rate_limit_exceeded",
				"message": rateLimitErr.Error(),
			})
		}
		h.components.Logger.Warn("failed to start workflow run", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("failed to start workflow: %v", err))
	}

	return c.JSON(http.StatusCreated, resp)
}

// GetStatus returns the status snapshot for a running or finished instance.
func (h *WorkflowRunHandler) GetStatus(c echo.Context) error {
	id := c.Param("id")
	snap, err := h.runs.Status(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow instance not found")
	}
	return c.JSON(http.StatusOK, snap)
}

// PauseRun pauses a live instance.
func (h *WorkflowRunHandler) PauseRun(c echo.Context) error {
	if err := h.runs.Pause(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow instance not found")
	}
	return c.NoContent(http.StatusAccepted)
}

// ResumeRun resumes a paused instance.
func (h *WorkflowRunHandler) ResumeRun(c echo.Context) error {
	if err := h.runs.Resume(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow instance not found")
	}
	return c.NoContent(http.StatusAccepted)
}

// CancelRun cancels a live instance.
func (h *WorkflowRunHandler) CancelRun(c echo.Context) error {
	if err := h.runs.Cancel(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow instance not found")
	}
	return c.NoContent(http.StatusAccepted)
}

// DeadLetters returns every message an instance has dead-lettered.
func (h *WorkflowRunHandler) DeadLetters(c echo.Context) error {
	entries, err := h.runs.DeadLetters(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow instance not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"dead_letters": entries})
}

// StreamEvents relays an instance's lifecycle events as server-sent events
// until the instance reaches a terminal state or the client disconnects.
func (h *WorkflowRunHandler) StreamEvents(c echo.Context) error {
	id := c.Param("id")
	events, err := h.runs.Events(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow instance not found")
	}
	done, err := h.runs.Done(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow instance not found")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	enc := newSSEEncoder(res)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.write(ev); err != nil {
				return nil
			}
		case <-done:
			// drain any events already buffered before the channel closes
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					_ = enc.write(ev)
				default:
					return nil
				}
			}
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// ListIncomplete returns every instance whose last checkpoint was still
// running, for operators inspecting crash recovery at startup.
func (h *WorkflowRunHandler) ListIncomplete(c echo.Context) error {
	checkpoints, err := h.runs.Incomplete(c.Request().Context())
	if err != nil {
		h.components.Logger.Error("failed to list incomplete runs", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list incomplete runs")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"incomplete": checkpoints})
}
