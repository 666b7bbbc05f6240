package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"recurbot/internal/domain"
	"recurbot/internal/handlers/webhook"
	"recurbot/internal/recur"
	"recurbot/internal/store"
)

// Config tunes the scheduler.
type Config struct {
	// PollSpec is the cron spec the due-event poll runs on.
	PollSpec string
	// MaxLateness is how late an occurrence may be found and still be
	// announced. Older ones are skipped, as after downtime.
	MaxLateness time.Duration
	// MissThreshold is the number of consecutive polls an event may fail
	// to advance before it is disabled.
	MissThreshold int
	// MaxCatchUp bounds the occurrences one event may advance per poll.
	MaxCatchUp int
	// MaxAttempts is given to every delivery.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		PollSpec:      "@every 30s",
		MaxLateness:   5 * time.Minute,
		MissThreshold: 3,
		MaxCatchUp:    64,
		MaxAttempts:   5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollSpec == "" {
		c.PollSpec = d.PollSpec
	}
	if c.MaxLateness <= 0 {
		c.MaxLateness = d.MaxLateness
	}
	if c.MissThreshold <= 0 {
		c.MissThreshold = d.MissThreshold
	}
	if c.MaxCatchUp <= 0 {
		c.MaxCatchUp = d.MaxCatchUp
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}

type Service struct {
	repo store.Repository
	cfg  Config
	cron *cron.Cron
	now  func() time.Time
}

func NewService(repo store.Repository, cfg Config) (*Service, error) {
	cfg = cfg.withDefaults()
	if err := ValidatePollSpec(cfg.PollSpec); err != nil {
		return nil, fmt.Errorf("poll spec %q: %w", cfg.PollSpec, err)
	}
	logger := cronLogger{log.With().Str("component", "cron").Logger()}
	return &Service{
		repo: repo,
		cfg:  cfg,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		now: time.Now,
	}, nil
}

// Start polls on the configured spec until ctx is done, then waits for a
// running poll to finish. Polls never overlap.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.PollSpec, func() { s.ProcessDue(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	log.Info().Str("spec", s.cfg.PollSpec).Msg("schedule service started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// ProcessDue runs one poll now.
func (s *Service) ProcessDue(ctx context.Context) {
	s.processDueEvents(ctx, s.now())
}

func (s *Service) processDueEvents(ctx context.Context, now time.Time) {
	events, err := s.repo.GetDueEvents(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to get due events")
		return
	}

	for _, e := range events {
		if err := s.processEvent(ctx, e, now); err != nil {
			log.Error().Err(err).Str("event_id", e.ID).Msg("failed to process event")
		}
	}
}

// processEvent announces every occurrence of e due by now, oldest first,
// committing each one as the new anchor once its delivery is queued.
func (s *Service) processEvent(ctx context.Context, e domain.Event, now time.Time) error {
	logger := log.With().Str("event_id", e.ID).Str("event", e.Name).Logger()

	pattern, err := e.Definition.Pattern()
	if err != nil {
		return s.disable(ctx, e, fmt.Errorf("invalid definition: %w", err))
	}
	ev := recur.NewRecurringEvent(pattern, e.Anchor)

	for i := 1; ; i++ {
		next, err := ev.GetNext()
		if err != nil {
			return s.disable(ctx, e, err)
		}
		r, ok := next.Get()
		if !ok {
			return s.miss(ctx, e, logger)
		}
		if r.OutputDateTime.After(now) {
			// Nothing was due after all; the stored next fire was stale.
			return s.repo.SetNextFire(ctx, e.ID, &r.OutputDateTime)
		}

		if late := now.Sub(r.OutputDateTime); late <= s.cfg.MaxLateness {
			id, err := s.enqueue(ctx, e, r)
			if errors.Is(err, errRender) {
				return s.disable(ctx, e, err)
			}
			if err != nil {
				return fmt.Errorf("enqueue occurrence %s: %w", r.OutputDateTime.Format(time.RFC3339), err)
			}
			logger.Info().Str("delivery_id", id).Time("fire_at", r.OutputDateTime).Msg("occurrence enqueued")
		} else {
			logger.Warn().Time("fire_at", r.OutputDateTime).Dur("late", late).Msg("skipping stale occurrence")
		}

		fire := followingFire(ev, r)
		if err := s.repo.CommitFire(ctx, e.ID, r, &fire); err != nil {
			return fmt.Errorf("commit anchor: %w", err)
		}
		logger.Debug().Time("next_fire", fire).Str("cycle", r.CycleDate.Format(recur.DateLayout)).Msg("anchor committed")

		if fire.After(now) {
			return nil
		}
		if i >= s.cfg.MaxCatchUp {
			logger.Warn().Int("max_catch_up", s.cfg.MaxCatchUp).Msg("catch-up limit reached, continuing next poll")
			return nil
		}
	}
}

// followingFire is when ev fires next. When it cannot advance, the fire
// stays at the occurrence just committed: the event remains due and the
// next GetNext records the miss.
func followingFire(ev *recur.RecurringEvent, current recur.RecurResult) time.Time {
	next, err := ev.PeekNext()
	if err != nil {
		return current.OutputDateTime
	}
	if r, ok := next.Get(); ok {
		return r.OutputDateTime
	}
	return current.OutputDateTime
}

var errRender = errors.New("message cannot be rendered")

func (s *Service) enqueue(ctx context.Context, e domain.Event, r recur.RecurResult) (string, error) {
	payload, err := webhook.NewPayload(e, r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errRender, err)
	}
	return s.repo.Enqueue(ctx, domain.Delivery{
		EventID:        e.ID,
		Type:           webhook.Type,
		Payload:        payload,
		FireAt:         r.OutputDateTime,
		MaxAttempts:    s.cfg.MaxAttempts,
		IdempotencyKey: domain.FireKey(e.ID, r.OutputDateTime),
	})
}

func (s *Service) miss(ctx context.Context, e domain.Event, logger zerolog.Logger) error {
	misses, err := s.repo.RecordMiss(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("record miss: %w", err)
	}
	if misses < s.cfg.MissThreshold {
		logger.Warn().Int("misses", misses).Time("anchor", e.Anchor.OutputDateTime).Msg("event did not advance")
		return nil
	}
	logger.Error().Int("misses", misses).Msg("event keeps failing to advance, disabling it; operator attention required")
	return s.repo.SetEnabled(ctx, e.ID, false, fmt.Sprintf("did not advance for %d polls", misses))
}

func (s *Service) disable(ctx context.Context, e domain.Event, cause error) error {
	log.Error().Err(cause).Str("event_id", e.ID).Str("event", e.Name).Msg("disabling event")
	if err := s.repo.SetEnabled(ctx, e.ID, false, cause.Error()); err != nil {
		return fmt.Errorf("disable after %v: %w", cause, err)
	}
	return nil
}

// ValidatePollSpec checks a cron spec, descriptors such as "@every 30s"
// included.
func ValidatePollSpec(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
