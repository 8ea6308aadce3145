package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/persistence/memory"
	"github.com/dukex/crmflow/pkg/persistence/postgresql"
	"github.com/dukex/crmflow/pkg/persistence/redis"
)

var ErrUnsupportedPersistence = errors.New("unsupported persistence provider")

var supportedPersistenceProviders = []string{"memory", "file", "postgresql", "redis"}

// ParsePersistenceProvider picks the backend from the URL scheme. An empty URL
// means memory and a bare path means file.
func ParsePersistenceProvider(databaseURL string) (string, error) {
	if databaseURL == "" {
		return "memory", nil
	}

	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", nil
	}

	if scheme == "postgres" {
		scheme = "postgresql"
	}

	if !slices.Contains(supportedPersistenceProviders, scheme) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPersistence, scheme)
	}

	return scheme, nil
}

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, parseErr := ParsePersistenceProvider(databaseURL)
	if parseErr != nil {
		return nil, parseErr
	}

	logger.InfoContext(ctx, "Using persistence provider", "provider", provider)

	var (
		store persistence.Persistence
		err   error
	)

	switch provider {
	case "postgresql":
		store, err = postgresql.NewPersistence(ctx, logger, databaseURL)
	case "redis":
		store, err = redis.NewPersistence(ctx, logger, databaseURL)
	case "file":
		store, err = file.NewPersistence(databaseURL)
	default:
		store = memory.NewPersistence()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open %s persistence: %w", provider, err)
	}

	return store, nil
}
