package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/tributary-ai/completion-gateway/internal/interactions"
	"github.com/tributary-ai/completion-gateway/internal/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	pingTimeout = 5 * time.Second
)

// PostgresConfig holds the connection pool settings
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Store persists interaction records in SQLite or PostgreSQL
type Store struct {
	db     *sqlx.DB
	driver string
	logger *logrus.Logger
}

var (
	_ interactions.Store  = (*Store)(nil)
	_ interactions.Reader = (*Store)(nil)
)

// NewSQLite opens (or creates) a SQLite database at path
func NewSQLite(path string, logger *logrus.Logger) (*Store, error) {
	db, err := sqlx.Open(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc serializes writers per connection
	db.SetMaxOpenConns(1)

	for _, stmt := range sqlitePragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, driver: DriverSQLite, logger: logger}
	if err := store.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("path", path).Info("SQLite interaction store opened")
	return store, nil
}

// NewPostgres connects to PostgreSQL, verifies the connection and creates the
// schema if needed
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *logrus.Logger) (*Store, error) {
	db, err := sqlx.Open(DriverPostgres, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &Store{db: db, driver: DriverPostgres, logger: logger}

	if err := store.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("max_open_conns", cfg.MaxOpenConns).Info("PostgreSQL interaction store connected")
	return store, nil
}

// NewWithDB wraps an existing connection. The schema is not touched.
func NewWithDB(db *sql.DB, driver string, logger *logrus.Logger) *Store {
	return &Store{db: sqlx.NewDb(db, driver), driver: driver, logger: logger}
}

// Driver returns the database/sql driver name
func (s *Store) Driver() string {
	return s.driver
}

// EnsureSchema creates the interactions table and its indexes
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := sqliteSchema
	if s.driver == DriverPostgres {
		statements = postgresSchema
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", describe(err))
		}
	}
	return nil
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Insert writes all records in one transaction
func (s *Store) Insert(ctx context.Context, records []*types.InteractionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.db.Rebind(insertInteraction)
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query,
			rec.ID.String(),
			rec.RequestID,
			rec.UserID,
			rec.Feature,
			rec.Message,
			rec.Response,
			rec.ProviderUsed,
			rec.Succeeded,
			string(rec.Status),
			rec.Attempts,
			rec.PromptTokens,
			rec.ResponseTokens,
			rec.LatencyMs,
			rec.Timestamp.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert interaction %s: %w", rec.ID, describe(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit interactions: %w", describe(err))
	}
	return nil
}

// Recent returns up to limit records, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]*types.InteractionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []interactionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(selectRecent), limit); err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", describe(err))
	}

	out := make([]*types.InteractionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Close() error {
	s.logger.WithField("driver", s.driver).Info("Closing interaction store")
	return s.db.Close()
}

type interactionRow struct {
	ID             string    `db:"id"`
	RequestID      string    `db:"request_id"`
	UserID         string    `db:"user_id"`
	Feature        string    `db:"feature"`
	Message        string    `db:"message"`
	Response       string    `db:"response"`
	ProviderUsed   string    `db:"provider_used"`
	Succeeded      bool      `db:"succeeded"`
	Status         string    `db:"status"`
	Attempts       int       `db:"attempts"`
	PromptTokens   int       `db:"prompt_tokens"`
	ResponseTokens int       `db:"response_tokens"`
	LatencyMs      int64     `db:"latency_ms"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r interactionRow) record() (*types.InteractionRecord, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid interaction id %q: %w", r.ID, err)
	}
	return &types.InteractionRecord{
		ID:             id,
		RequestID:      r.RequestID,
		UserID:         r.UserID,
		Feature:        r.Feature,
		Message:        r.Message,
		Response:       r.Response,
		ProviderUsed:   r.ProviderUsed,
		Succeeded:      r.Succeeded,
		Status:         types.RecordStatus(r.Status),
		Attempts:       r.Attempts,
		PromptTokens:   r.PromptTokens,
		ResponseTokens: r.ResponseTokens,
		LatencyMs:      r.LatencyMs,
		Timestamp:      r.CreatedAt.UTC(),
	}, nil
}

// describe adds the SQLSTATE code to PostgreSQL errors
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("postgres %s (%s): %w", pqErr.Code, pqErr.Code.Name(), err)
	}
	return err
}
