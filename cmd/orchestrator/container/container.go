package container

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lyzr/orchestrator/cmd/orchestrator/service"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/condition"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/engine"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/factory"
	"github.com/lyzr/orchestrator/cmd/workflow-runner/router"
	"github.com/lyzr/orchestrator/common/bootstrap"
	"github.com/lyzr/orchestrator/common/checkpoint"
	"github.com/lyzr/orchestrator/common/clients"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
	"github.com/lyzr/orchestrator/common/ratelimit"
	rediscommon "github.com/lyzr/orchestrator/common/redis"
	"github.com/redis/go-redis/v9"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components  *bootstrap.Components
	Redis       *redis.Client
	RateLimiter *ratelimit.RateLimiter

	// Engine stack
	CheckpointStore    checkpoint.Store
	Engine             *engine.Engine
	WorkflowRunService *service.WorkflowRunService
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	// Create Redis client
	redisClient, err := createRedisClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	rateLimiter := ratelimit.NewRateLimiter(redisClient, components.Logger)
	redisWrapped := rediscommon.NewClient(redisClient, components.Logger)

	// Engine stack: compiler -> validated WorkflowDefinition -> factory ->
	// router -> per-instance supervisors, checkpointed to Postgres.
	checkpointStore := checkpoint.NewPostgresStore(components.DB, components.Logger)
	evaluator := condition.NewEvaluator()
	r := router.New(evaluator, components.Logger)

	var eng *engine.Engine
	f := factory.New(evaluator, func(ctx context.Context, def *model.WorkflowDefinition, vars map[string]any, prefix string) (*model.WorkflowStatusSnapshot, error) {
		return eng.Run(ctx, def, vars, prefix)
	}, nativeImplementations(components.Logger), components.Logger)
	eng = engine.New(f, r, components.Logger, checkpointStore)

	workflowRunService := service.NewWorkflowRunService(eng, checkpointStore, components, rateLimiter, redisWrapped)

	return &Container{
		Components:         components,
		Redis:              redisClient,
		RateLimiter:        rateLimiter,
		CheckpointStore:    checkpointStore,
		Engine:             eng,
		WorkflowRunService: workflowRunService,
	}, nil
}

// createRedisClient creates a Redis client from environment variables
func createRedisClient() (*redis.Client, error) {
	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", redisHost, redisPort),
		Password: redisPassword,
		DB:       0,
	})

	return client, nil
}

// getEnv gets an environment variable or returns a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// nativeImplementations registers an HTTP call-out NativeImplementation for
// every name in RUNNER_NATIVES (comma-separated), all pointed at RUNNER_URL
// (cmd/runner's address). Returns nil if RUNNER_URL isn't set, so workflows
// that never use a compiled-native node don't need an external worker.
func nativeImplementations(log *logger.Logger) map[string]factory.NativeImplementation {
	runnerURL := os.Getenv("RUNNER_URL")
	if runnerURL == "" {
		return nil
	}
	names := strings.Split(getEnv("RUNNER_NATIVES", "echo,uppercase,sum-numbers"), ",")
	httpClient := clients.NewHTTPClient(&http.Client{Timeout: 30 * time.Second}, log)

	natives := make(map[string]factory.NativeImplementation, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		natives[name] = factory.NewHTTPNativeImplementation(httpClient, runnerURL, name)
	}
	return natives
}
