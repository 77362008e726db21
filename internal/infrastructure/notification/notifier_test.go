package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"signflow/internal/config"
	"signflow/internal/domain/entity"
	"signflow/internal/infrastructure/httpclient"
)

type logCapture struct {
	logs chan *entity.APILog
}

func (c *logCapture) Save(_ context.Context, log *entity.APILog) error {
	c.logs <- log
	return nil
}

func TestNotifyAttemptsEveryRecipient(t *testing.T) {
	received := make(chan Message, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m Message
		_ = json.NewDecoder(r.Body).Decode(&m)
		received <- m
		if m.To == "bad@example.com" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	cfg := &config.Config{Notification: config.NotificationConfig{Enabled: true, BaseURL: srv.URL, From: "noreply@example.com"}}
	n := NewNotifier(cfg, httpclient.NewHTTPClient(nil, logger), logger)

	err := n.Notify(context.Background(), []Message{
		{To: "a@example.com", Subject: "Sign"},
		{To: "bad@example.com", Subject: "Sign"},
		{To: "c@example.com", Subject: "Sign"},
	})
	if err == nil {
		t.Fatalf("expected aggregated failure")
	}
	if got := len(multierr.Errors(err)); got != 1 {
		t.Fatalf("expected one failure, got %d: %v", got, err)
	}
	if len(received) != 3 {
		t.Fatalf("expected all three recipients attempted, got %d", len(received))
	}
	first := <-received
	if first.From != "noreply@example.com" {
		t.Fatalf("expected default sender, got %q", first.From)
	}
}

func TestNotifyDisabled(t *testing.T) {
	logger := zaptest.NewLogger(t)
	n := NewNotifier(&config.Config{}, httpclient.NewHTTPClient(nil, logger), logger)
	if err := n.Notify(context.Background(), []Message{{To: "a@example.com"}}); err != nil {
		t.Fatalf("disabled notifier must not fail: %v", err)
	}
}

func TestNotifyKeepsSigningLinkOutOfCallLog(t *testing.T) {
	const token = "ab12ab12ab12ab12ab12ab12ab12ab12"
	var delivered Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&delivered)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	capture := &logCapture{logs: make(chan *entity.APILog, 1)}
	cfg := &config.Config{Notification: config.NotificationConfig{Enabled: true, BaseURL: srv.URL}}
	n := NewNotifier(cfg, httpclient.NewHTTPClient(capture, logger), logger)

	err := n.Notify(context.Background(), []Message{{
		To:        "a@x.com",
		Subject:   "Sign",
		Link:      "https://sign.example.com/sign/" + token,
		RequestID: "req_1",
		BaseID:    "base_1",
	}})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.HasSuffix(delivered.Link, token) {
		t.Fatalf("recipient must still receive the link, got %q", delivered.Link)
	}

	var saved *entity.APILog
	select {
	case saved = <-capture.logs:
	case <-time.After(2 * time.Second):
		t.Fatalf("no call log saved")
	}
	if strings.Contains(saved.RequestBody, token) {
		t.Fatalf("access token persisted in call log: %s", saved.RequestBody)
	}
	if !strings.Contains(saved.RequestBody, `"link":"[redacted]"`) {
		t.Fatalf("expected redacted link, got %s", saved.RequestBody)
	}
	if saved.BaseID != "base_1" || saved.RequestID != "req_1" {
		t.Fatalf("call log not attributed to tenant: %+v", saved)
	}
}
