package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurbot/internal/domain"
	"recurbot/internal/recur"
	"recurbot/internal/worker"
)

func occurrence() recur.RecurResult {
	return recur.RecurResult{
		OutputDateTime: time.Date(2022, 6, 7, 7, 30, 0, 0, time.FixedZone("PDT", -7*3600)),
		CycleDate:      recur.NewDate(2022, 8, 1),
	}
}

func TestHandlePostsMessage(t *testing.T) {
	var got message
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	e := domain.Event{Name: "Book club", WebhookURL: srv.URL, Username: "recurbot", Message: "{{.Name}} at {{.Time.Format \"15:04 MST\"}}"}
	payload, err := NewPayload(e, occurrence())
	require.NoError(t, err)

	require.NoError(t, Webhook{}.Handle(context.Background(), payload))
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "Book club at 07:30 PDT", got.Content)
	assert.Equal(t, "recurbot", got.Username)
}

func TestHandleStatusCodes(t *testing.T) {
	tests := []struct {
		status    int
		wantErr   bool
		permanent bool
	}{
		{http.StatusOK, false, false},
		{http.StatusNotFound, true, true},
		{http.StatusBadRequest, true, true},
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadGateway, true, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			payload, err := json.Marshal(Request{URL: srv.URL, Content: "hi"})
			require.NoError(t, err)

			err = Webhook{Client: srv.Client()}.Handle(context.Background(), payload)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, tt.permanent, worker.IsPermanent(err))
		})
	}
}

func TestHandleRejectsBadPayloads(t *testing.T) {
	err := Webhook{}.Handle(context.Background(), json.RawMessage(`{"content":"no url"}`))
	assert.True(t, worker.IsPermanent(err))

	err = Webhook{}.Handle(context.Background(), json.RawMessage(`not json`))
	assert.True(t, worker.IsPermanent(err))
}

func TestRender(t *testing.T) {
	e := domain.Event{Name: "Standup"}
	got, err := Render(e, occurrence())
	require.NoError(t, err)
	assert.Equal(t, "Standup", got, "empty messages fall back to the name")

	e.Message = "next cycle {{.Cycle}}"
	got, err = Render(e, occurrence())
	require.NoError(t, err)
	assert.Equal(t, "next cycle 2022-08-01", got)

	e.Message = "{{.Nope}}"
	_, err = Render(e, occurrence())
	assert.Error(t, err)

	assert.Error(t, ValidateMessage("{{.Name"))
	assert.NoError(t, ValidateMessage("{{.Name}} on {{.Time.Weekday}}"))
}
