// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/imageflow/pkg/persistence"
	"github.com/dukex/imageflow/pkg/persistence/file"
	"github.com/dukex/imageflow/pkg/persistence/postgresql"
	"github.com/dukex/imageflow/pkg/persistence/redis"
)

// Stores bundles the history log, instance table and result store of a process.
type Stores struct {
	Persistence persistence.Persistence
	Results     persistence.ResultRepository
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	case "redis", "rediss":
		return "redis"
	default:
		return "file"
	}
}

// NewPersistence opens the instance and history store named by databaseURL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return store, nil
	case "redis":
		return nil, fmt.Errorf("redis cannot hold the history log: %s", databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

// NewStores opens the history store and the result store. The result store reuses
// the history store's connection when both live in the same database.
func NewStores(ctx context.Context, logger *slog.Logger, databaseURL, resultsURL string) (*Stores, error) {
	store, err := NewPersistence(ctx, logger, databaseURL)
	if err != nil {
		return nil, err
	}

	if resultsURL == "" {
		resultsURL = databaseURL
	}

	var results persistence.ResultRepository

	switch parsePersistenceProvider(resultsURL) {
	case "redis":
		results, err = redis.Open(ctx, resultsURL, logger)
	case "postgresql":
		if pg, ok := store.(*postgresql.Persistence); ok && resultsURL == databaseURL {
			results = pg.ResultRepository()

			break
		}

		var pg *postgresql.Persistence

		pg, err = postgresql.NewPersistence(ctx, logger, resultsURL)
		if err == nil {
			results = &ownedResults{ResultRepository: pg.ResultRepository(), owner: pg}
		}
	default:
		results = file.NewResultRepository(file.CleanRoot(resultsURL))
	}

	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open result store: %w", err), store.Close(ctx))
	}

	return &Stores{Persistence: store, Results: results}, nil
}

func (s *Stores) Close(ctx context.Context) error {
	return errors.Join(s.Results.Close(ctx), s.Persistence.Close(ctx))
}

// ownedResults closes the connection it was opened on.
type ownedResults struct {
	*postgresql.ResultRepository

	owner *postgresql.Persistence
}

func (o *ownedResults) Close(ctx context.Context) error {
	return o.owner.Close(ctx)
}
