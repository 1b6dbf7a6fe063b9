package migrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/easeaico/adk-compliance-agent/internal/legacy"
	"github.com/easeaico/adk-compliance-agent/internal/logging"
	"github.com/easeaico/adk-compliance-agent/internal/memory"
	"github.com/m-mizutani/goerr/v2"
)

// Target names the destination database.
type Target struct {
	DBType      string
	DatabaseURL string
}

// Run checks that sourcePath is readable and target is reachable, then
// loads the legacy records and migrates them. Either check failing
// returns an error wrapping ErrStorageUnavailable before any transaction
// is opened.
func (e *Engine) Run(ctx context.Context, sourcePath string, target Target, opts Options) (*Report, error) {
	if err := checkSource(sourcePath); err != nil {
		return nil, err
	}
	if err := checkTarget(target); err != nil {
		return nil, err
	}

	records, err := legacy.Load(ctx, sourcePath)
	if err != nil {
		if errors.Is(err, legacy.ErrSourceUnavailable) {
			return nil, goerr.Wrap(errors.Join(ErrStorageUnavailable, err), "legacy source unreadable")
		}
		return nil, goerr.Wrap(err, "failed to load legacy records", goerr.V("source", sourcePath))
	}

	store, err := memory.Open(ctx, target.DBType, target.DatabaseURL)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(ErrStorageUnavailable, err), "migration target unreachable")
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logging.From(ctx).Warn("failed to close migration target", "error", cerr)
		}
	}()

	logging.From(ctx).Info("migrating legacy records",
		"source", sourcePath, "db_type", target.DBType, "records", len(records))
	return e.Migrate(ctx, records, store, opts)
}

func checkSource(path string) error {
	if path == "" {
		return goerr.Wrap(ErrStorageUnavailable, "legacy source not set")
	}
	f, err := os.Open(path)
	if err != nil {
		return goerr.Wrap(ErrStorageUnavailable, "legacy source unreadable",
			goerr.V("source", path), goerr.V("cause", err.Error()))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return goerr.Wrap(ErrStorageUnavailable, "legacy source is not a file", goerr.V("source", path))
	}
	return nil
}

// checkTarget rejects a SQLite target whose directory does not exist, so
// a typo never creates a fresh database somewhere unexpected.
func checkTarget(t Target) error {
	if t.DatabaseURL == "" {
		return goerr.Wrap(ErrStorageUnavailable, "migration target not set")
	}
	if t.DBType != "" && t.DBType != memory.DBTypeSQLite {
		return nil
	}
	if strings.HasPrefix(t.DatabaseURL, ":memory:") {
		return nil
	}

	dir := filepath.Dir(t.DatabaseURL)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return goerr.Wrap(ErrStorageUnavailable, "migration target directory missing",
			goerr.V("path", t.DatabaseURL))
	}
	return nil
}
