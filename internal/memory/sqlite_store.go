package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/easeaico/adk-compliance-agent/internal/clock"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS experiences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL CHECK (type IN ('effective', 'ineffective')),
		domain TEXT NOT NULL CHECK (domain IN ('Tools', 'Protocol', 'Communication', 'Process', 'Debugging', 'Decision')),
		situation TEXT NOT NULL,
		approach TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reasoning TEXT NOT NULL,
		confidence REAL CHECK (confidence IS NULL OR (confidence >= 0 AND confidence <= 1)),
		tags TEXT NOT NULL DEFAULT '[]',
		revision_of INTEGER REFERENCES experiences(id),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Candidate lookup for duplicate detection
	CREATE INDEX IF NOT EXISTS idx_experiences_domain_type
		ON experiences(domain, type, created_at DESC, id DESC);

	CREATE INDEX IF NOT EXISTS idx_experiences_revision_of ON experiences(revision_of);
`

const experienceColumns = `id, type, domain, situation, approach, outcome, reasoning,
	confidence, tags, revision_of, created_at, updated_at`

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	*sqliteRepo
	db *sql.DB
}

// sqliteRepo holds the queries shared by the store and its transactions.
type sqliteRepo struct {
	q     sqlQuerier
	clock clock.Clock
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*sqliteRepo)

// WithSQLiteClock overrides the clock used for default timestamps.
func WithSQLiteClock(c clock.Clock) SQLiteOption {
	return func(r *sqliteRepo) { r.clock = c }
}

// NewSQLiteStore opens the database at dbPath, verifies connectivity and
// creates the schema. Use ":memory:" for an in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	// Enable WAL mode and foreign keys for better performance and data integrity
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", dbPath))
	}

	// Every connection to ":memory:" is a separate database.
	if strings.HasPrefix(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to ping database", goerr.V("path", dbPath))
	}

	repo := &sqliteRepo{q: db, clock: clock.Real()}
	for _, opt := range opts {
		opt(repo)
	}
	store := &SQLiteStore{sqliteRepo: repo, db: db}

	if err := store.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// InitSchema creates the experiences table if it doesn't exist.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return goerr.Wrap(err, "failed to initialize schema")
	}
	return nil
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return goerr.Wrap(err, "failed to ping database")
	}
	return nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTransaction runs fn inside a single database transaction.
func (s *SQLiteStore) InTransaction(ctx context.Context, fn func(Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}

	if err := fn(&sqliteRepo{q: tx, clock: s.clock}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return goerr.Wrap(err, "transaction rolled back with error", goerr.V("rollback_error", rbErr.Error()))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// InTransaction on a transaction-bound repository joins the transaction
// already in progress.
func (r *sqliteRepo) InTransaction(ctx context.Context, fn func(Repository) error) error {
	return fn(r)
}

// Insert stores e and returns its new id.
func (r *sqliteRepo) Insert(ctx context.Context, e *Experience) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	if e.RevisionOf != nil {
		if _, err := r.Get(ctx, *e.RevisionOf); err != nil {
			if errors.Is(err, ErrNotFound) {
				return 0, goerr.Wrap(ErrValidation, "revision_of references a missing experience",
					goerr.V("revision_of", *e.RevisionOf))
			}
			return 0, err
		}
	}

	fillTimestamps(e, r.clock)

	tags, err := encodeTags(e.Tags)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO experiences (type, domain, situation, approach, outcome, reasoning,
			confidence, tags, revision_of, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.q.ExecContext(ctx, query,
		string(e.Type), string(e.Domain), e.Situation, e.Approach, e.Outcome, e.Reasoning,
		nullFloat(e.Confidence), tags, nullInt(e.RevisionOf), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to insert experience")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read inserted id")
	}
	e.ID = id
	return id, nil
}

// Get retrieves one experience by id.
func (r *sqliteRepo) Get(ctx context.Context, id int64) (*Experience, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+experienceColumns+` FROM experiences WHERE id = ?`, id)
	e, err := scanSQLiteExperience(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerr.Wrap(ErrNotFound, "experience not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get experience", goerr.V("id", id))
	}
	return e, nil
}

// FindSimilarCandidates returns the most recent experiences sharing
// domain and type.
func (r *sqliteRepo) FindSimilarCandidates(ctx context.Context, domain Domain, typ ExperienceType, limit int) ([]Experience, error) {
	query := `
		SELECT ` + experienceColumns + `
		FROM experiences
		WHERE domain = ? AND type = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.q.QueryContext(ctx, query, string(domain), string(typ), normalizeLimit(limit))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query candidates")
	}
	defer rows.Close()

	var experiences []Experience
	for rows.Next() {
		e, err := scanSQLiteExperience(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan experience")
		}
		experiences = append(experiences, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "error iterating candidates")
	}
	return experiences, nil
}

// Count returns the number of stored experiences.
func (r *sqliteRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiences`).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count experiences")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteExperience(row rowScanner) (*Experience, error) {
	var (
		e          Experience
		typ        string
		domain     string
		confidence sql.NullFloat64
		tags       string
		revisionOf sql.NullInt64
	)
	err := row.Scan(
		&e.ID,
		&typ,
		&domain,
		&e.Situation,
		&e.Approach,
		&e.Outcome,
		&e.Reasoning,
		&confidence,
		&tags,
		&revisionOf,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Type = ExperienceType(typ)
	e.Domain = Domain(domain)
	if confidence.Valid {
		v := confidence.Float64
		e.Confidence = &v
	}
	if revisionOf.Valid {
		v := revisionOf.Int64
		e.RevisionOf = &v
	}
	if e.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	return &e, nil
}

func fillTimestamps(e *Experience, c clock.Clock) {
	now := c.Now().Unix()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	if e.UpdatedAt == 0 {
		e.UpdatedAt = e.CreatedAt
	}
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode tags")
	}
	return string(b), nil
}

func decodeTags(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, goerr.Wrap(err, "failed to decode tags", goerr.V("tags", s))
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
