package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"recurbot/internal/api"
	"recurbot/internal/config"
	"recurbot/internal/eventfile"
	"recurbot/internal/handlers/webhook"
	"recurbot/internal/scheduler"
	"recurbot/internal/store"
	"recurbot/internal/worker"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	flags := pflag.NewFlagSet("recurbot", pflag.ExitOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP bind address")
	flags.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite DB path")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of delivery goroutines")
	flags.DurationVar(&cfg.WorkerPoll, "worker-poll", cfg.WorkerPoll, "poll interval for the delivery queue")
	flags.StringVar(&cfg.PollSpec, "poll-spec", cfg.PollSpec, "cron spec for the due-event poll")
	flags.StringVar(&cfg.EventsFile, "events", cfg.EventsFile, "YAML events file to sync at startup")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "mount pprof under /debug/pprof")
	_ = flags.Parse(os.Args[1:])
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid flags")
	}

	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	repo := store.NewSQLiteRepo(db)
	_ = recoverStale(context.Background(), repo, time.Now())

	if cfg.EventsFile != "" {
		f, err := eventfile.Load(cfg.EventsFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.EventsFile).Msg("load events file")
		}
		res, err := eventfile.Sync(context.Background(), repo, f, time.Now())
		if err != nil {
			log.Fatal().Err(err).Msg("sync events file")
		}
		log.Info().Int("created", res.Created).Int("updated", res.Updated).Msg("events file synced")
	}

	sched, err := scheduler.NewService(repo, cfg.Scheduler())
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler")
	}

	// Handlers registry
	handlers := map[string]worker.Handler{
		webhook.Type: webhook.Webhook{Client: &http.Client{}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	pool := worker.NewPool(repo, handlers, cfg.Workers, cfg.WorkerPoll)
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := sched.Start(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	// HTTP server
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.NewServer(repo, api.Options{
			AllowedOrigins: cfg.CORSOrigins,
			EnableDebug:    cfg.Debug,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	wg.Wait()
}

// recoverStale requeues deliveries whose lease ran out while the process
// was down. A failure is logged; startup carries on.
func recoverStale(ctx context.Context, repo store.Repository, now time.Time) error {
	n, err := repo.RecoverStale(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("recover stale deliveries")
		return err
	}
	log.Info().Int("recovered", n).Msg("recovered stale running deliveries")
	return nil
}
