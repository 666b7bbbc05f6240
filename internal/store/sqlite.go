package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"recurbot/internal/domain"
	"recurbot/internal/recur"
)

var (
	ErrEmpty    = errors.New("no deliveries ready")
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Open opens the database at path in WAL mode. SQLite allows one writer,
// so the pool holds a single connection; ":memory:" works for tests.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// EnsureSchema creates tables if they don't exist. Instants are RFC 3339
// text: next_fire, next_run_at and lease_until in UTC with fixed-width
// nanoseconds so they compare as strings, prev_output with the offset it
// fired at. cycle_date is YYYY-MM-DD.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  definition TEXT NOT NULL,
  webhook_url TEXT NOT NULL,
  username TEXT NOT NULL DEFAULT '',
  message TEXT NOT NULL,
  enabled INTEGER NOT NULL DEFAULT 1,
  prev_output TEXT NOT NULL,
  cycle_date TEXT NOT NULL,
  next_fire TEXT,
  misses INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_next_fire ON events(enabled, next_fire);
CREATE TABLE IF NOT EXISTS deliveries (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  type TEXT NOT NULL,
  payload BLOB NOT NULL,
  fire_at TEXT NOT NULL,
  state TEXT NOT NULL CHECK(state IN ('queued','running','succeeded','failed')) DEFAULT 'queued',
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 5,
  next_run_at TEXT NOT NULL,
  lease_until TEXT,
  visibility_timeout INTEGER NOT NULL DEFAULT 60,
  idempotency_key TEXT,
  last_error TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_next_run ON deliveries(state, next_run_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_deliveries_idem ON deliveries(idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE TABLE IF NOT EXISTS delivery_attempts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  delivery_id TEXT NOT NULL,
  finished_at TEXT NOT NULL,
  success INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  FOREIGN KEY(delivery_id) REFERENCES deliveries(id)
);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	Ping(ctx context.Context) error

	// Event operations
	CreateEvent(ctx context.Context, e domain.Event) (string, error)
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	GetEventByName(ctx context.Context, name string) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	UpdateEvent(ctx context.Context, e domain.Event) error
	DeleteEvent(ctx context.Context, id string) error
	GetDueEvents(ctx context.Context, now time.Time) ([]domain.Event, error)
	CommitFire(ctx context.Context, id string, anchor recur.RecurResult, nextFire *time.Time) error
	SetNextFire(ctx context.Context, id string, nextFire *time.Time) error
	RecordMiss(ctx context.Context, id string) (int, error)
	SetEnabled(ctx context.Context, id string, enabled bool, reason string) error

	// Delivery operations
	Enqueue(ctx context.Context, d domain.Delivery) (string, error)
	LeaseNext(ctx context.Context, now time.Time) (domain.Delivery, Lease, error)
	Retry(ctx context.Context, id, err string, delay time.Duration) error
	Succeed(ctx context.Context, id string) error
	Fail(ctx context.Context, id, err string) error
	RecoverStale(ctx context.Context, now time.Time) (int, error)
	GetDelivery(ctx context.Context, id string) (domain.Delivery, error)
	ListRecentDeliveries(ctx context.Context, limit int) ([]domain.Delivery, error)
	CountDeliveries(ctx context.Context) (map[string]int, error)
}

type Lease struct{ Until time.Time }

type sqliteRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db, now: time.Now} }

func (r *sqliteRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// write runs a write statement with retries on contention.
func (r *sqliteRepo) write(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOp(ctx, defaultRetryConfig, func() error {
		var err error
		res, err = r.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// inTx runs fn in a transaction, retrying the whole transaction on
// contention.
func (r *sqliteRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOp(ctx, defaultRetryConfig, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// mustAffect turns an update that matched no row into ErrNotFound.
func mustAffect(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders t in UTC so that stored instants sort as text.
func formatTime(t time.Time) string { return t.UTC().Format(sortableTime) }

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type scanner interface {
	Scan(dest ...any) error
}
