package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"recurbot/internal/domain"
	"recurbot/internal/recur"
	"recurbot/internal/worker"
)

// Type is the delivery type this handler is registered under.
const Type = "webhook"

// DefaultMessage is used for events without a message template.
const DefaultMessage = "{{.Name}}"

// Webhook posts announcements to Discord-style chat webhooks, which take
// the message in a "content" field.
type Webhook struct {
	Client *http.Client
}

// Request is the payload of a webhook delivery.
type Request struct {
	URL      string `json:"url"`
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
	Timeout  int    `json:"timeout,omitempty"` // seconds
}

type message struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

func (h Webhook) Handle(ctx context.Context, payload json.RawMessage) error {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return worker.Permanent(fmt.Errorf("invalid webhook payload: %w", err))
	}
	if req.URL == "" {
		return worker.Permanent(fmt.Errorf("URL is required"))
	}
	if req.Timeout <= 0 {
		req.Timeout = 30
	}

	client := h.Client
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Second)
	defer cancel()

	body, err := json.Marshal(message{Content: req.Content, Username: req.Username})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return worker.Permanent(fmt.Errorf("failed to create webhook request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("webhook HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		// Client errors other than timeouts and rate limits will not go
		// away on retry.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return worker.Permanent(err)
		}
		return err
	}
	return nil
}

// MessageData is what message templates are executed with.
type MessageData struct {
	Name  string
	Time  time.Time // the occurrence, at the offset it fires at
	Cycle string    // cycle date, YYYY-MM-DD
}

func parseMessage(msg string) (*template.Template, error) {
	if msg == "" {
		msg = DefaultMessage
	}
	return template.New("message").Option("missingkey=error").Parse(msg)
}

// ValidateMessage reports whether msg parses as a message template.
func ValidateMessage(msg string) error {
	_, err := parseMessage(msg)
	return err
}

// Render executes the event's message template for one occurrence.
func Render(e domain.Event, r recur.RecurResult) (string, error) {
	tmpl, err := parseMessage(e.Message)
	if err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, MessageData{
		Name:  e.Name,
		Time:  r.OutputDateTime,
		Cycle: r.CycleDate.Format(recur.DateLayout),
	})
	if err != nil {
		return "", fmt.Errorf("render message: %w", err)
	}
	return buf.String(), nil
}

// NewPayload renders the delivery payload announcing occurrence r of e.
func NewPayload(e domain.Event, r recur.RecurResult) (json.RawMessage, error) {
	content, err := Render(e, r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Request{URL: e.WebhookURL, Content: content, Username: e.Username})
}
