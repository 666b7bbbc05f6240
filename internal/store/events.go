package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recurbot/internal/domain"
	"recurbot/internal/recur"
)

const eventColumns = `id,name,definition,webhook_url,username,message,enabled,prev_output,cycle_date,next_fire,misses,last_error,created_at,updated_at`

func scanEvent(row scanner) (domain.Event, error) {
	var (
		e                  domain.Event
		def                string
		prevOutput, cycle  string
		nextFire           sql.NullString
		createdAt, updated string
	)
	if err := row.Scan(&e.ID, &e.Name, &def, &e.WebhookURL, &e.Username, &e.Message, &e.Enabled,
		&prevOutput, &cycle, &nextFire, &e.Misses, &e.LastError, &createdAt, &updated); err != nil {
		return domain.Event{}, err
	}
	if err := json.Unmarshal([]byte(def), &e.Definition); err != nil {
		return domain.Event{}, fmt.Errorf("event %s definition: %w", e.ID, err)
	}
	var err error
	if e.Anchor.OutputDateTime, err = parseTime(prevOutput); err != nil {
		return domain.Event{}, fmt.Errorf("event %s prev_output: %w", e.ID, err)
	}
	if e.Anchor.CycleDate, err = recur.ParseDate(cycle); err != nil {
		return domain.Event{}, fmt.Errorf("event %s cycle_date: %w", e.ID, err)
	}
	if e.NextFire, err = parseNullTime(nextFire); err != nil {
		return domain.Event{}, fmt.Errorf("event %s next_fire: %w", e.ID, err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Event{}, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Event{}, err
	}
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *sqliteRepo) CreateEvent(ctx context.Context, e domain.Event) (string, error) {
	id := e.ID
	if id == "" {
		id = "evt_" + uuid.NewString()
	}
	def, err := json.Marshal(e.Definition)
	if err != nil {
		return "", fmt.Errorf("encode definition: %w", err)
	}
	now := formatTime(r.now())
	_, err = r.write(ctx, `
INSERT INTO events (`+eventColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, id, e.Name, string(def), e.WebhookURL, e.Username, e.Message, e.Enabled,
		e.Anchor.OutputDateTime.Format(time.RFC3339Nano), e.Anchor.CycleDate.Format(recur.DateLayout),
		formatNullTime(e.NextFire), e.Misses, e.LastError, now, now)
	if isUniqueViolation(err) {
		return "", fmt.Errorf("event %q: %w", e.Name, ErrConflict)
	}
	return id, err
}

func (r *sqliteRepo) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=?`, id)
	e, err := scanEvent(row)
	return e, notFound(err, "event", id)
}

func (r *sqliteRepo) GetEventByName(ctx context.Context, name string) (domain.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE name=?`, name)
	e, err := scanEvent(row)
	return e, notFound(err, "event", name)
}

func (r *sqliteRepo) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// UpdateEvent replaces every mutable column, anchor included.
func (r *sqliteRepo) UpdateEvent(ctx context.Context, e domain.Event) error {
	def, err := json.Marshal(e.Definition)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	res, err := r.write(ctx, `
UPDATE events SET name=?,definition=?,webhook_url=?,username=?,message=?,enabled=?,
  prev_output=?,cycle_date=?,next_fire=?,misses=?,last_error=?,updated_at=?
WHERE id=?`, e.Name, string(def), e.WebhookURL, e.Username, e.Message, e.Enabled,
		e.Anchor.OutputDateTime.Format(time.RFC3339Nano), e.Anchor.CycleDate.Format(recur.DateLayout),
		formatNullTime(e.NextFire), e.Misses, e.LastError, formatTime(r.now()), e.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("event %q: %w", e.Name, ErrConflict)
	}
	if err != nil {
		return err
	}
	return mustAffect(res, "event", e.ID)
}

func (r *sqliteRepo) DeleteEvent(ctx context.Context, id string) error {
	res, err := r.write(ctx, "DELETE FROM events WHERE id=?", id)
	if err != nil {
		return err
	}
	return mustAffect(res, "event", id)
}

func (r *sqliteRepo) GetDueEvents(ctx context.Context, now time.Time) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+eventColumns+` FROM events
WHERE enabled=1 AND next_fire IS NOT NULL AND next_fire <= ?
ORDER BY next_fire`, formatTime(now))
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// CommitFire stores the occurrence that just fired as the new anchor and
// clears the miss counter.
func (r *sqliteRepo) CommitFire(ctx context.Context, id string, anchor recur.RecurResult, nextFire *time.Time) error {
	res, err := r.write(ctx, `
UPDATE events SET prev_output=?,cycle_date=?,next_fire=?,misses=0,last_error='',updated_at=?
WHERE id=?`, anchor.OutputDateTime.Format(time.RFC3339Nano), anchor.CycleDate.Format(recur.DateLayout),
		formatNullTime(nextFire), formatTime(r.now()), id)
	if err != nil {
		return err
	}
	return mustAffect(res, "event", id)
}

func (r *sqliteRepo) SetNextFire(ctx context.Context, id string, nextFire *time.Time) error {
	res, err := r.write(ctx, `UPDATE events SET next_fire=?,updated_at=? WHERE id=?`,
		formatNullTime(nextFire), formatTime(r.now()), id)
	if err != nil {
		return err
	}
	return mustAffect(res, "event", id)
}

// RecordMiss bumps the miss counter and returns its new value.
func (r *sqliteRepo) RecordMiss(ctx context.Context, id string) (int, error) {
	var misses int
	err := retryOp(ctx, defaultRetryConfig, func() error {
		return r.db.QueryRowContext(ctx, `
UPDATE events SET misses=misses+1,updated_at=? WHERE id=? RETURNING misses`,
			formatTime(r.now()), id).Scan(&misses)
	})
	return misses, notFound(err, "event", id)
}

// SetEnabled toggles the event. Enabling clears the miss counter; reason
// is kept as last_error.
func (r *sqliteRepo) SetEnabled(ctx context.Context, id string, enabled bool, reason string) error {
	res, err := r.write(ctx, `
UPDATE events SET enabled=?,last_error=?,misses=CASE WHEN ? THEN 0 ELSE misses END,updated_at=?
WHERE id=?`, enabled, reason, enabled, formatTime(r.now()), id)
	if err != nil {
		return err
	}
	return mustAffect(res, "event", id)
}
