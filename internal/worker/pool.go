package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"recurbot/internal/domain"
	"recurbot/internal/store"
)

type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) error {
	return f(ctx, payload)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the delivery fails at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Pool leases due deliveries and runs them on at most size goroutines.
type Pool struct {
	repo      store.Repository
	handlers  map[string]Handler
	sem       chan struct{}
	pollEvery time.Duration
	wg        sync.WaitGroup
}

func NewPool(repo store.Repository, handlers map[string]Handler, size int, pollEvery time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{repo: repo, handlers: handlers, sem: make(chan struct{}, size), pollEvery: pollEvery}
}

// Run polls until ctx is done, then waits for running deliveries.
func (p *Pool) Run(ctx context.Context) {
	t := time.NewTicker(p.pollEvery)
	defer t.Stop()
	log.Info().Int("size", cap(p.sem)).Dur("poll", p.pollEvery).Msg("worker pool started")
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case now := <-t.C:
			p.drain(ctx, now)
		}
	}
}

func (p *Pool) drain(ctx context.Context, now time.Time) {
	for {
		d, lease, err := p.repo.LeaseNext(ctx, now)
		if errors.Is(err, store.ErrEmpty) {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to lease delivery")
			return
		}
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			// The lease runs out and RecoverStale requeues it.
			return
		}
		p.wg.Add(1)
		go func(d domain.Delivery, lease store.Lease) {
			defer func() {
				<-p.sem
				p.wg.Done()
			}()
			p.process(ctx, d, lease)
		}(d, lease)
	}
}

func (p *Pool) process(ctx context.Context, d domain.Delivery, lease store.Lease) {
	// Results are recorded even when shutdown cancels ctx mid-delivery.
	bookkeeping := context.WithoutCancel(ctx)
	logger := log.With().Str("delivery_id", d.ID).Str("event_id", d.EventID).Logger()

	h, ok := p.handlers[d.Type]
	if !ok {
		logger.Error().Str("type", d.Type).Msg("no handler for delivery type")
		if err := p.repo.Fail(bookkeeping, d.ID, "no handler"); err != nil {
			logger.Error().Err(err).Msg("failed to mark delivery failed")
		}
		return
	}

	c, cancel := context.WithDeadline(ctx, lease.Until)
	defer cancel()
	err := h.Handle(c, d.Payload)

	switch {
	case err == nil:
		if err := p.repo.Succeed(bookkeeping, d.ID); err != nil {
			logger.Error().Err(err).Msg("failed to mark delivery succeeded")
			return
		}
		logger.Info().Time("fire_at", d.FireAt).Msg("delivered")
	case IsPermanent(err):
		logger.Error().Err(err).Msg("delivery failed permanently")
		if err := p.repo.Fail(bookkeeping, d.ID, err.Error()); err != nil {
			logger.Error().Err(err).Msg("failed to mark delivery failed")
		}
	default:
		next := backoffExp(d.Attempts)
		logger.Warn().Err(err).Int("attempt", d.Attempts+1).Dur("retry_in", next).Msg("delivery failed")
		if err := p.repo.Retry(bookkeeping, d.ID, err.Error(), next); err != nil {
			logger.Error().Err(err).Msg("failed to requeue delivery")
		}
	}
}

func backoffExp(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	if attempts > 7 {
		return 60 * time.Second
	}
	d := 1 << (attempts - 1) // 1,2,4,8...
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * time.Second
}
