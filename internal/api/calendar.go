package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/emersion/go-ical"
	"github.com/go-chi/chi/v5"

	"recurbot/internal/domain"
	"recurbot/internal/handlers/webhook"
	"recurbot/internal/recur"
	"recurbot/internal/scheduler"
)

const productID = "-//recurbot//Upcoming Occurrences//EN"

// calendar serves the event's upcoming occurrences as an iCalendar feed so
// they can be subscribed to from a calendar client.
func (s *Server) calendar(w http.ResponseWriter, r *http.Request) {
	e, err := s.repo.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	results, err := scheduler.Upcoming(e, clampCount(count, 10))
	if err != nil {
		httpError(w, err)
		return
	}

	cal, err := s.buildCalendar(e, results)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		http.Error(w, fmt.Sprintf("encode calendar: %v", err), 500)
		return
	}

	w.Header().Set("content-type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) buildCalendar(e domain.Event, results []recur.RecurResult) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText("X-WR-CALNAME", e.Name)

	stamp := s.now().UTC()
	for _, r := range results {
		summary, err := webhook.Render(e, r)
		if err != nil {
			return nil, err
		}
		ev := ical.NewComponent(ical.CompEvent)
		ev.Props.SetText(ical.PropUID, domain.FireKey(e.ID, r.OutputDateTime))
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		ev.Props.SetDateTime(ical.PropDateTimeStart, r.OutputDateTime.UTC())
		ev.Props.SetText(ical.PropSummary, e.Name)
		ev.Props.SetText(ical.PropDescription, summary)
		cal.Children = append(cal.Children, ev)
	}
	return cal, nil
}
