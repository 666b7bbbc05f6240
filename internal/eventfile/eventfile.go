// Package eventfile keeps the store in line with a YAML file of events, so a
// deployment can declare its announcements instead of posting them to the
// API.
package eventfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"recurbot/internal/domain"
	"recurbot/internal/recur"
	"recurbot/internal/scheduler"
	"recurbot/internal/store"
)

// File is the top level of an events file.
type File struct {
	Events []Entry `yaml:"events"`
}

// Entry declares one event.
type Entry struct {
	Name       string           `yaml:"name"`
	Definition recur.Definition `yaml:"definition"`
	WebhookURL string           `yaml:"webhook_url"`
	Username   string           `yaml:"username,omitempty"`
	Message    string           `yaml:"message,omitempty"`
	// Enabled defaults to true. Only an explicit false is applied to
	// events that already exist.
	Enabled *bool `yaml:"enabled,omitempty"`
	// CycleDate (YYYY-MM-DD) seeds new events; existing ones keep their
	// anchor.
	CycleDate string `yaml:"cycle_date,omitempty"`
}

func (e Entry) event() domain.Event {
	enabled := e.Enabled == nil || *e.Enabled
	return domain.Event{
		Name:       e.Name,
		Definition: e.Definition,
		WebhookURL: e.WebhookURL,
		Username:   e.Username,
		Message:    e.Message,
		Enabled:    enabled,
	}
}

func (e Entry) cycle() (*time.Time, error) {
	if e.CycleDate == "" {
		return nil, nil
	}
	d, err := recur.ParseDate(e.CycleDate)
	if err != nil {
		return nil, fmt.Errorf("cycle_date: %w", err)
	}
	return &d, nil
}

// Load reads and validates an events file. The first invalid entry fails
// the whole file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse events file: %w", err)
	}

	seen := make(map[string]bool, len(f.Events))
	for i, e := range f.Events {
		if e.Name == "" {
			return nil, fmt.Errorf("events[%d]: name is required", i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("events[%d]: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = true
		if e.WebhookURL == "" {
			return nil, fmt.Errorf("event %q: webhook_url is required", e.Name)
		}
		if _, err := e.cycle(); err != nil {
			return nil, fmt.Errorf("event %q: %w", e.Name, err)
		}
		if _, err := scheduler.Validate(e.event()); err != nil {
			return nil, fmt.Errorf("event %q: %w", e.Name, err)
		}
	}
	return &f, nil
}

// SyncResult counts what Sync changed.
type SyncResult struct {
	Created int
	Updated int
}

// Sync creates the file's events missing from repo and updates the
// definition, webhook and message of the ones already there.
func Sync(ctx context.Context, repo store.Repository, f *File, now time.Time) (SyncResult, error) {
	var res SyncResult
	for _, entry := range f.Events {
		existing, err := repo.GetEventByName(ctx, entry.Name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			id, err := create(ctx, repo, entry, now)
			if err != nil {
				return res, fmt.Errorf("create event %q: %w", entry.Name, err)
			}
			log.Info().Str("event_id", id).Str("event", entry.Name).Msg("event created from file")
			res.Created++
		case err != nil:
			return res, fmt.Errorf("look up event %q: %w", entry.Name, err)
		default:
			if err := update(ctx, repo, existing, entry); err != nil {
				return res, fmt.Errorf("update event %q: %w", entry.Name, err)
			}
			log.Debug().Str("event_id", existing.ID).Str("event", entry.Name).Msg("event updated from file")
			res.Updated++
		}
	}
	return res, nil
}

func create(ctx context.Context, repo store.Repository, entry Entry, now time.Time) (string, error) {
	e := entry.event()
	cycle, err := entry.cycle()
	if err != nil {
		return "", err
	}
	if err := scheduler.Seed(&e, cycle, now); err != nil {
		return "", err
	}
	return repo.CreateEvent(ctx, e)
}

func update(ctx context.Context, repo store.Repository, e domain.Event, entry Entry) error {
	e.Definition = entry.Definition
	e.WebhookURL = entry.WebhookURL
	e.Username = entry.Username
	e.Message = entry.Message
	if entry.Enabled != nil && !*entry.Enabled {
		e.Enabled = false
	}
	if err := scheduler.Reschedule(&e); err != nil {
		return err
	}
	return repo.UpdateEvent(ctx, e)
}
