package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurbot/internal/domain"
	"recurbot/internal/store"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewSQLiteRepo(db)
}

func runPool(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func enqueue(t *testing.T, repo store.Repository, typ string) string {
	t.Helper()
	id, err := repo.Enqueue(context.Background(), domain.Delivery{EventID: "evt_test", Type: typ, Payload: []byte(`{"n":1}`)})
	require.NoError(t, err)
	return id
}

func waitForState(t *testing.T, repo store.Repository, id, state string) domain.Delivery {
	t.Helper()
	var d domain.Delivery
	require.Eventually(t, func() bool {
		var err error
		d, err = repo.GetDelivery(context.Background(), id)
		return err == nil && d.State == state
	}, 2*time.Second, 5*time.Millisecond)
	return d
}

func TestPoolDelivers(t *testing.T) {
	repo := newRepo(t)
	var got atomic.Value
	handlers := map[string]Handler{
		"webhook": HandlerFunc(func(ctx context.Context, payload json.RawMessage) error {
			got.Store(string(payload))
			return nil
		}),
	}
	id := enqueue(t, repo, "webhook")
	runPool(t, NewPool(repo, handlers, 2, 5*time.Millisecond))

	d := waitForState(t, repo, id, domain.DeliverySucceeded)
	assert.Equal(t, 1, d.Attempts)
	assert.JSONEq(t, `{"n":1}`, got.Load().(string))
}

func TestPoolRetriesTransientFailures(t *testing.T) {
	repo := newRepo(t)
	handlers := map[string]Handler{
		"webhook": HandlerFunc(func(context.Context, json.RawMessage) error {
			return errors.New("connection refused")
		}),
	}
	id := enqueue(t, repo, "webhook")
	runPool(t, NewPool(repo, handlers, 1, 5*time.Millisecond))

	require.Eventually(t, func() bool {
		d, err := repo.GetDelivery(context.Background(), id)
		return err == nil && d.Attempts == 1
	}, 2*time.Second, 5*time.Millisecond)

	d, err := repo.GetDelivery(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryQueued, d.State)
	assert.Equal(t, "connection refused", d.LastError)
	assert.True(t, d.NextRunAt.After(time.Now().Add(-time.Second)))
}

func TestPoolFailsPermanentErrors(t *testing.T) {
	repo := newRepo(t)
	handlers := map[string]Handler{
		"webhook": HandlerFunc(func(context.Context, json.RawMessage) error {
			return Permanent(errors.New("webhook HTTP 404"))
		}),
	}
	id := enqueue(t, repo, "webhook")
	runPool(t, NewPool(repo, handlers, 1, 5*time.Millisecond))

	d := waitForState(t, repo, id, domain.DeliveryFailed)
	assert.Equal(t, "webhook HTTP 404", d.LastError)
}

func TestPoolFailsUnknownTypes(t *testing.T) {
	repo := newRepo(t)
	id := enqueue(t, repo, "carrier_pigeon")
	runPool(t, NewPool(repo, map[string]Handler{}, 1, 5*time.Millisecond))

	d := waitForState(t, repo, id, domain.DeliveryFailed)
	assert.Equal(t, "no handler", d.LastError)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	repo := newRepo(t)
	var (
		mu            sync.Mutex
		running, peak int
	)
	handlers := map[string]Handler{
		"webhook": HandlerFunc(func(context.Context, json.RawMessage) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		}),
	}
	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, enqueue(t, repo, "webhook"))
	}
	runPool(t, NewPool(repo, handlers, 2, 5*time.Millisecond))

	for _, id := range ids {
		waitForState(t, repo, id, domain.DeliverySucceeded)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

func TestBackoffExp(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{7, 60 * time.Second},
		{40, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffExp(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad request")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.NoError(t, Permanent(nil))
}
