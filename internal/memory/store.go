package memory

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
)

// Database types accepted by Open.
const (
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
)

// Repository is the contract for experience persistence.
type Repository interface {
	// Insert validates e, fills missing timestamps, stores it and returns
	// the assigned id. e.ID is updated as well. Constraint violations
	// return an error wrapping ErrValidation.
	Insert(ctx context.Context, e *Experience) (int64, error)

	// Get returns the experience with id, or an error wrapping ErrNotFound.
	Get(ctx context.Context, id int64) (*Experience, error)

	// FindSimilarCandidates returns up to limit experiences with the given
	// domain and type, most recently created first. It is a bounded
	// pre-filter for duplicate detection, not an exhaustive search.
	FindSimilarCandidates(ctx context.Context, domain Domain, typ ExperienceType, limit int) ([]Experience, error)

	// Count returns the number of stored experiences.
	Count(ctx context.Context) (int, error)

	// InTransaction runs fn against a repository whose writes commit
	// atomically when fn returns nil and roll back otherwise.
	InTransaction(ctx context.Context, fn func(Repository) error) error
}

// Store is a Repository backed by a database connection.
type Store interface {
	Repository

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Open connects to the database selected by dbType and creates the schema
// if needed. For SQLite, databaseURL is a file path or ":memory:".
func Open(ctx context.Context, dbType, databaseURL string) (Store, error) {
	switch dbType {
	case "", DBTypeSQLite:
		return NewSQLiteStore(ctx, databaseURL)
	case DBTypePostgres:
		store, err := NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, goerr.New("unknown database type", goerr.V("db_type", dbType))
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultCandidateLimit
	}
	return limit
}
