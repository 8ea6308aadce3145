// Package redis provides Redis persistence. Documents are JSON strings, set
// indexes track membership and a sorted set scores WAITING executions by their
// wake-up time.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "crmflow"

type keys struct {
	prefix string
}

func (k keys) workflow(id string) string  { return k.prefix + ":workflow:" + id }
func (k keys) workflows() string          { return k.prefix + ":workflows" }
func (k keys) execution(id string) string { return k.prefix + ":execution:" + id }
func (k keys) executions() string         { return k.prefix + ":executions" }
func (k keys) due() string                { return k.prefix + ":executions:due" }

type Persistence struct {
	client     goredis.UniversalClient
	logger     *slog.Logger
	workflows  *WorkflowRepository
	executions *ExecutionRepository
}

// NewPersistence parses a redis:// URL and checks connectivity.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewWithClient(logger, client, defaultPrefix), nil
}

// NewWithClient wraps an existing client; prefix namespaces every key.
func NewWithClient(logger *slog.Logger, client goredis.UniversalClient, prefix string) *Persistence {
	if prefix == "" {
		prefix = defaultPrefix
	}

	k := keys{prefix: prefix}
	logger = logger.With("module", "redis")

	return &Persistence{
		client:     client,
		logger:     logger,
		workflows:  &WorkflowRepository{client: client, keys: k},
		executions: &ExecutionRepository{client: client, keys: k, logger: logger},
	}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}
