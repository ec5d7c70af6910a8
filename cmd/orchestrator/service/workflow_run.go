package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/orchestrator/cmd/workflow-runner/compiler"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/engine"
	"github.com/lyzr/orchestrator/common/bootstrap"
	"github.com/lyzr/orchestrator/common/checkpoint"
	"github.com/lyzr/orchestrator/common/model"
	"github.com/lyzr/orchestrator/common/ratelimit"
	rediscommon "github.com/lyzr/orchestrator/common/redis"
)

// eventChannelPrefix is the Redis pub/sub channel namespace fanout
// subscribes to with PSubscribe("workflow:events:*").
const eventChannelPrefix = "workflow:events:"

// WorkflowRunService is the control-surface facade over the engine: it
// compiles graph files into WorkflowDefinitions and drives Engine's
// start/pause/resume/cancel/status operations on behalf of the HTTP layer.
type WorkflowRunService struct {
	engine      *engine.Engine
	store       checkpoint.Store
	components  *bootstrap.Components
	rateLimiter *ratelimit.RateLimiter
	relay       *rediscommon.Client
}

// NewWorkflowRunService creates a WorkflowRunService. relay may be nil, in
// which case events are only available through Events()/StreamEvents and
// never fanned out to Redis for the websocket dashboard relay.
func NewWorkflowRunService(eng *engine.Engine, store checkpoint.Store, components *bootstrap.Components, rateLimiter *ratelimit.RateLimiter, relay *rediscommon.Client) *WorkflowRunService {
	return &WorkflowRunService{engine: eng, store: store, components: components, rateLimiter: rateLimiter, relay: relay}
}

// StartRunRequest is the payload for starting a new workflow run.
type StartRunRequest struct {
	Username  string
	Format    string // "json" or "yaml"
	GraphData []byte
	Inputs    map[string]any
}

// StartRunResponse is returned immediately after a run is registered.
type StartRunResponse struct {
	WorkflowInstanceID string `json:"workflow_instance_id"`
	WorkflowID         string `json:"workflow_id"`
}

// StartRun compiles the supplied graph and launches it asynchronously,
// applying a per-user rate limit keyed by the graph's inspected complexity
// tier before admitting the run.
func (s *WorkflowRunService) StartRun(ctx context.Context, req *StartRunRequest) (*StartRunResponse, error) {
	def, err := s.compile(req.Format, req.GraphData)
	if err != nil {
		return nil, err
	}

	if s.rateLimiter != nil {
		profile := ratelimit.InspectWorkflow(graphAsMap(def))
		result, limitErr := s.rateLimiter.CheckTieredLimit(ctx, req.Username, profile.Tier)
		if limitErr != nil {
			s.components.Logger.Warn("rate limit check failed, allowing request", "error", limitErr)
		} else if !result.Allowed {
			return nil, &RateLimitError{
				Tier:              profile.Tier,
				Limit:             result.Limit,
				CurrentCount:      result.CurrentCount,
				RetryAfterSeconds: result.RetryAfterSeconds,
			}
		}
	}

	instanceID, err := s.engine.StartAsync(ctx, def, req.Inputs)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}

	s.relayEvents(instanceID)

	return &StartRunResponse{WorkflowInstanceID: instanceID, WorkflowID: def.WorkflowID}, nil
}

// relayEvents forwards an instance's lifecycle events onto a Redis channel
// so cmd/fanout can push them to any websocket dashboard watching that run,
// independent of whoever called StartRun staying connected for the SSE
// stream. No-op if no relay client was configured.
func (s *WorkflowRunService) relayEvents(instanceID string) {
	if s.relay == nil {
		return
	}
	events, err := s.engine.Subscribe(instanceID)
	if err != nil {
		return
	}
	done, err := s.engine.Done(instanceID)
	if err != nil {
		return
	}
	channel := eventChannelPrefix + instanceID
	go func() {
		ctx := context.Background()
		for {
			select {
			case ev := <-events:
				payload, err := json.Marshal(ev)
				if err != nil {
					s.components.Logger.Warn("failed to marshal event for relay", "error", err)
					continue
				}
				if err := s.relay.PublishEvent(ctx, channel, string(payload)); err != nil {
					s.components.Logger.Warn("failed to relay event", "error", err)
				}
			case <-done:
				// drain any events already buffered before returning
				for {
					select {
					case ev := <-events:
						if payload, err := json.Marshal(ev); err == nil {
							_ = s.relay.PublishEvent(ctx, channel, string(payload))
						}
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *WorkflowRunService) compile(format string, data []byte) (*model.WorkflowDefinition, error) {
	switch format {
	case "yaml", "yml":
		return compiler.LoadYAML(data)
	default:
		return compiler.LoadJSON(data)
	}
}

// graphAsMap gives the rate limiter's generic workflow inspector something
// to walk without it needing to know about model.WorkflowDefinition.
func graphAsMap(def *model.WorkflowDefinition) map[string]any {
	nodes := make([]interface{}, 0, len(def.Nodes))
	for _, n := range def.Nodes {
		nodes = append(nodes, map[string]interface{}{
			"id":   n.ID,
			"type": string(n.Kind),
		})
	}
	return map[string]any{"nodes": nodes}
}

// Status returns the current status snapshot for a live instance.
func (s *WorkflowRunService) Status(id string) (*model.WorkflowStatusSnapshot, error) {
	return s.engine.GetWorkflowStatus(id)
}

// Pause halts a run's node supervisors after their current execution.
func (s *WorkflowRunService) Pause(id string) error { return s.engine.Pause(id) }

// Resume reopens a paused run.
func (s *WorkflowRunService) Resume(id string) error { return s.engine.Resume(id) }

// Cancel stops a run and marks it cancelled.
func (s *WorkflowRunService) Cancel(id string) error { return s.engine.Cancel(id) }

// Events returns the instance's lifecycle event stream for SSE relay.
func (s *WorkflowRunService) Events(id string) (<-chan model.Event, error) {
	return s.engine.Events(id)
}

// Done returns the channel closed when the run reaches a terminal state.
func (s *WorkflowRunService) Done(id string) (<-chan struct{}, error) {
	return s.engine.Done(id)
}

// DeadLetters returns every message a run has dead-lettered so far.
func (s *WorkflowRunService) DeadLetters(id string) ([]model.DeadLetterEntry, error) {
	return s.engine.DeadLetters(id)
}

// Incomplete lists checkpoints for every run still marked running at the
// last save, for crash-recovery inspection at startup.
func (s *WorkflowRunService) Incomplete(ctx context.Context) ([]checkpoint.Checkpoint, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListIncomplete(ctx)
}
