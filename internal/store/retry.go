package store

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// retryConfig bounds how long a write keeps retrying transient SQLite
// errors. busy_timeout covers most lock waits at the connection level; the
// rest (LOCKED, IOERR_SHORT_READ under WAL) surface here.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// transientMarkers are substrings modernc.org/sqlite puts in the messages of
// errors worth retrying, by name and by numeric code.
var transientMarkers = []string{
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"IOERR_SHORT_READ",
	"database is locked",
	"database table is locked",
	"(5)",
	"(6)",
	"(522)",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// retryOp runs fn until it succeeds, fails with a non-transient error, runs
// out of attempts or ctx is done.
func retryOp(ctx context.Context, cfg retryConfig, fn func() error) error {
	var err error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if err = fn(); err == nil || !isTransient(err) {
			return err
		}
		if attempt == cfg.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoffDelay(cfg, attempt)):
		}
	}
	return err
}

// backoffDelay is baseDelay*2^attempt capped at maxDelay, plus up to
// baseDelay of jitter.
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	d := cfg.baseDelay << uint(attempt)
	if d > cfg.maxDelay || d <= 0 {
		d = cfg.maxDelay
	}
	return d + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}
