package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recurbot/internal/domain"
)

const deliveryColumns = `id,event_id,type,payload,fire_at,state,attempts,max_attempts,next_run_at,visibility_timeout,idempotency_key,last_error,created_at,updated_at`

func scanDelivery(row scanner) (domain.Delivery, error) {
	var (
		d                    domain.Delivery
		idem                 sql.NullString
		fireAt, nextRun      string
		createdAt, updatedAt string
	)
	if err := row.Scan(&d.ID, &d.EventID, &d.Type, &d.Payload, &fireAt, &d.State, &d.Attempts, &d.MaxAttempts,
		&nextRun, &d.VisibilityTimeout, &idem, &d.LastError, &createdAt, &updatedAt); err != nil {
		return domain.Delivery{}, err
	}
	d.IdempotencyKey = idem.String
	var err error
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&d.FireAt, fireAt}, {&d.NextRunAt, nextRun}, {&d.CreatedAt, createdAt}, {&d.UpdatedAt, updatedAt}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return domain.Delivery{}, fmt.Errorf("delivery %s: %w", d.ID, err)
		}
	}
	return d, nil
}

// Enqueue stores a queued delivery. A delivery whose idempotency key is
// already present is not inserted again; the existing id is returned.
func (r *sqliteRepo) Enqueue(ctx context.Context, d domain.Delivery) (string, error) {
	id := d.ID
	if id == "" {
		id = "dlv_" + uuid.NewString()
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = 5
	}
	if d.VisibilityTimeout == 0 {
		d.VisibilityTimeout = 60
	}
	var idem sql.NullString
	if d.IdempotencyKey != "" {
		idem = sql.NullString{String: d.IdempotencyKey, Valid: true}
	}

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if idem.Valid {
			var existing string
			err := tx.QueryRowContext(ctx, "SELECT id FROM deliveries WHERE idempotency_key = ?", idem).Scan(&existing)
			if err == nil {
				id = existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
		now := formatTime(r.now())
		_, err := tx.ExecContext(ctx, `
INSERT INTO deliveries (id,event_id,type,payload,fire_at,state,attempts,max_attempts,next_run_at,visibility_timeout,idempotency_key,created_at,updated_at)
VALUES (?,?,?,?,?,'queued',0,?,?,?,?,?,?)
`, id, d.EventID, d.Type, d.Payload, formatTime(d.FireAt), d.MaxAttempts, now, d.VisibilityTimeout, idem, now, now)
		return err
	})
	return id, err
}

// LeaseNext marks the oldest due delivery running until its visibility
// timeout passes. It returns ErrEmpty when nothing is due.
func (r *sqliteRepo) LeaseNext(ctx context.Context, now time.Time) (domain.Delivery, Lease, error) {
	var (
		d     domain.Delivery
		lease Lease
	)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
SELECT `+deliveryColumns+` FROM deliveries
WHERE state='queued' AND next_run_at <= ?
ORDER BY next_run_at ASC, created_at ASC
LIMIT 1
`, formatTime(now))
		var err error
		if d, err = scanDelivery(row); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrEmpty
			}
			return err
		}
		lease.Until = now.Add(time.Duration(d.VisibilityTimeout) * time.Second)
		_, err = tx.ExecContext(ctx, `UPDATE deliveries SET state='running',lease_until=?,updated_at=? WHERE id=?`,
			formatTime(lease.Until), formatTime(now), d.ID)
		return err
	})
	if err != nil {
		return domain.Delivery{}, Lease{}, err
	}
	d.State = domain.DeliveryRunning
	return d, lease, nil
}

func (r *sqliteRepo) recordAttempt(ctx context.Context, tx *sql.Tx, id string, success bool, errStr string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO delivery_attempts(delivery_id, finished_at, success, error) VALUES (?,?,?,?)`,
		id, formatTime(r.now()), success, errStr)
	return err
}

// Retry records a failed attempt and requeues the delivery after delay, or
// fails it for good once it has used up its attempts.
func (r *sqliteRepo) Retry(ctx context.Context, id, errStr string, delay time.Duration) error {
	now := r.now()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.recordAttempt(ctx, tx, id, false, errStr); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
UPDATE deliveries
SET attempts = attempts + 1,
    state = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'queued' END,
    next_run_at = ?,
    lease_until = NULL,
    last_error = ?,
    updated_at = ?
WHERE id = ?`, formatTime(now.Add(delay)), errStr, formatTime(now), id)
		if err != nil {
			return err
		}
		return mustAffect(res, "delivery", id)
	})
}

func (r *sqliteRepo) Succeed(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.recordAttempt(ctx, tx, id, true, ""); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
UPDATE deliveries SET state='succeeded',attempts=attempts+1,lease_until=NULL,updated_at=? WHERE id=?`,
			formatTime(r.now()), id)
		if err != nil {
			return err
		}
		return mustAffect(res, "delivery", id)
	})
}

// Fail stops the delivery without further attempts.
func (r *sqliteRepo) Fail(ctx context.Context, id, errStr string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.recordAttempt(ctx, tx, id, false, errStr); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
UPDATE deliveries SET state='failed',attempts=attempts+1,lease_until=NULL,last_error=?,updated_at=? WHERE id=?`,
			errStr, formatTime(r.now()), id)
		if err != nil {
			return err
		}
		return mustAffect(res, "delivery", id)
	})
}

// RecoverStale requeues deliveries whose lease ran out, as after a crash.
func (r *sqliteRepo) RecoverStale(ctx context.Context, now time.Time) (int, error) {
	ts := formatTime(now)
	res, err := r.write(ctx, `
UPDATE deliveries
SET state='queued', next_run_at=?, lease_until=NULL, updated_at=?
WHERE state='running' AND lease_until <= ?`, ts, ts, ts)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *sqliteRepo) GetDelivery(ctx context.Context, id string) (domain.Delivery, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id=?`, id)
	d, err := scanDelivery(row)
	return d, notFound(err, "delivery", id)
}

func (r *sqliteRepo) ListRecentDeliveries(ctx context.Context, limit int) ([]domain.Delivery, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+deliveryColumns+` FROM deliveries ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// CountDeliveries returns the number of deliveries per state.
func (r *sqliteRepo) CountDeliveries(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM deliveries GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
