package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"recurbot/internal/domain"
	"recurbot/internal/recur"
	"recurbot/internal/scheduler"
	"recurbot/internal/store"
)

// Options configures the HTTP API.
type Options struct {
	// AllowedOrigins for CORS; empty allows any.
	AllowedOrigins []string
	// EnableDebug mounts pprof under /debug/pprof.
	EnableDebug bool
	// Now defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	repo store.Repository
	now  func() time.Time
}

func NewServer(repo store.Repository, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{repo: repo, now: now}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Post("/api/patterns/preview", s.previewPattern)
	r.Post("/api/events", s.createEvent)
	r.Get("/api/events", s.listEvents)
	r.Get("/api/events/{id}", s.getEvent)
	r.Put("/api/events/{id}", s.updateEvent)
	r.Delete("/api/events/{id}", s.deleteEvent)
	r.Get("/api/events/{id}/upcoming", s.upcoming)
	r.Get("/api/events/{id}/calendar.ics", s.calendar)
	r.Get("/api/deliveries", s.listDeliveries)
	r.Get("/api/deliveries/{id}", s.getDelivery)

	// Debug routes (pprof)
	if opts.EnableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		http.Error(w, "database unavailable", 503)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	events, err := s.repo.ListEvents(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	counts, err := s.repo.CountDeliveries(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	enabled := 0
	for _, e := range events {
		if e.Enabled {
			enabled++
		}
	}

	var b strings.Builder
	b.WriteString("recurbot_up 1\n")
	fmt.Fprintf(&b, "recurbot_events{enabled=\"true\"} %d\n", enabled)
	fmt.Fprintf(&b, "recurbot_events{enabled=\"false\"} %d\n", len(events)-enabled)
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Fprintf(&b, "recurbot_deliveries{state=%q} %d\n", state, counts[state])
	}

	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

type resultView struct {
	Output    string `json:"output"`
	CycleDate string `json:"cycle_date"`
}

func viewResult(r recur.RecurResult) resultView {
	return resultView{
		Output:    r.OutputDateTime.Format(time.RFC3339),
		CycleDate: r.CycleDate.Format(recur.DateLayout),
	}
}

func viewResults(rs []recur.RecurResult) []resultView {
	out := make([]resultView, len(rs))
	for i, r := range rs {
		out[i] = viewResult(r)
	}
	return out
}

type eventView struct {
	domain.Event
	Anchor resultView `json:"anchor"`
}

func viewEvent(e domain.Event) eventView {
	return eventView{Event: e, Anchor: viewResult(e.Anchor)}
}

type previewReq struct {
	Definition recur.Definition `json:"definition"`
	CycleDate  string           `json:"cycle_date"`
	Count      int              `json:"count"`
}

type previewResp struct {
	WorstCaseCycleDays int          `json:"worst_case_cycle_days"`
	Occurrences        []resultView `json:"occurrences"`
}

func (s *Server) previewPattern(w http.ResponseWriter, r *http.Request) {
	var req previewReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	pattern, err := req.Definition.Pattern()
	if err != nil {
		httpError(w, err)
		return
	}
	cycle, err := s.cycleDate(req.CycleDate, req.Definition)
	if err != nil {
		httpError(w, err)
		return
	}
	results, err := recur.NewRecurringEvent(pattern, pattern.Seed(cycle)).Upcoming(clampCount(req.Count, 5))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, 200, previewResp{WorstCaseCycleDays: pattern.WorstCaseCycleDays(), Occurrences: viewResults(results)})
}

// cycleDate parses an explicit YYYY-MM-DD cycle date, or falls back to the
// definition's default for today.
func (s *Server) cycleDate(raw string, def recur.Definition) (time.Time, error) {
	if raw == "" {
		return def.DefaultCycle(s.now())
	}
	d, err := recur.ParseDate(raw)
	if err != nil {
		return time.Time{}, badRequest(fmt.Errorf("cycle_date: %w", err))
	}
	return d, nil
}

type eventReq struct {
	Name       string            `json:"name"`
	Definition *recur.Definition `json:"definition"`
	WebhookURL string            `json:"webhook_url"`
	Username   string            `json:"username"`
	Message    *string           `json:"message"`
	Enabled    *bool             `json:"enabled"`
	CycleDate  string            `json:"cycle_date"`
}

type createEventResp struct {
	ID       string `json:"id"`
	NextFire string `json:"next_fire,omitempty"`
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req eventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", 400)
		return
	}
	if req.Definition == nil {
		http.Error(w, "definition is required", 400)
		return
	}
	if req.WebhookURL == "" {
		http.Error(w, "webhook_url is required", 400)
		return
	}

	e := domain.Event{
		Name:       req.Name,
		Definition: *req.Definition,
		WebhookURL: req.WebhookURL,
		Username:   req.Username,
		Enabled:    true,
	}
	if req.Message != nil {
		e.Message = *req.Message
	}
	if req.Enabled != nil {
		e.Enabled = *req.Enabled
	}
	if err := s.seed(&e, req.CycleDate); err != nil {
		httpError(w, err)
		return
	}

	id, err := s.repo.CreateEvent(r.Context(), e)
	if err != nil {
		httpError(w, err)
		return
	}
	resp := createEventResp{ID: id}
	if e.NextFire != nil {
		resp.NextFire = e.NextFire.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) seed(e *domain.Event, rawCycle string) error {
	if rawCycle == "" {
		return scheduler.Seed(e, nil, s.now())
	}
	cycle, err := recur.ParseDate(rawCycle)
	if err != nil {
		return badRequest(fmt.Errorf("cycle_date: %w", err))
	}
	return scheduler.Seed(e, &cycle, s.now())
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.repo.ListEvents(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	views := make([]eventView, len(events))
	for i, e := range events {
		views[i] = viewEvent(e)
	}
	writeJSON(w, 200, views)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.repo.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, 200, viewEvent(e))
}

// updateEvent changes the given fields. A new definition keeps the anchor
// unless cycle_date restarts the event; re-enabling clears the misses.
func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.repo.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}

	var req eventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	if req.Name != "" {
		e.Name = req.Name
	}
	if req.WebhookURL != "" {
		e.WebhookURL = req.WebhookURL
	}
	if req.Username != "" {
		e.Username = req.Username
	}
	if req.Message != nil {
		e.Message = *req.Message
	}
	if req.Definition != nil {
		e.Definition = *req.Definition
	}
	if req.Enabled != nil {
		if *req.Enabled && !e.Enabled {
			e.Misses = 0
			e.LastError = ""
		}
		e.Enabled = *req.Enabled
	}

	if req.CycleDate != "" {
		err = s.seed(&e, req.CycleDate)
	} else {
		err = scheduler.Reschedule(&e)
	}
	if err != nil {
		httpError(w, err)
		return
	}

	if err := s.repo.UpdateEvent(r.Context(), e); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, 200, viewEvent(e))
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) upcoming(w http.ResponseWriter, r *http.Request) {
	e, err := s.repo.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	results, err := scheduler.Upcoming(e, clampCount(count, 5))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, 200, viewResults(results))
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	deliveries, err := s.repo.ListRecentDeliveries(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if deliveries == nil {
		deliveries = []domain.Delivery{}
	}
	writeJSON(w, 200, deliveries)
}

func (s *Server) getDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := s.repo.GetDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, 200, d)
}

const maxCount = 100

func clampCount(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > maxCount {
		return maxCount
	}
	return n
}

type badRequestError struct{ error }

func (e badRequestError) Unwrap() error { return e.error }

func badRequest(err error) error { return badRequestError{err} }

// httpError maps store and pattern errors to status codes.
func httpError(w http.ResponseWriter, err error) {
	var (
		cfg *recur.ConfigError
		bad badRequestError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", 404)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, err.Error(), 409)
	case errors.As(err, &cfg), errors.As(err, &bad), errors.Is(err, scheduler.ErrInvalidMessage):
		http.Error(w, err.Error(), 400)
	case errors.Is(err, recur.ErrUnimplemented):
		http.Error(w, err.Error(), 422)
	default:
		http.Error(w, err.Error(), 500)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
