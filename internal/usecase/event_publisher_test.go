package usecase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"

	"signflow/internal/config"
	"signflow/internal/domain/entity"
	"signflow/internal/infrastructure/httpclient"
	"signflow/internal/infrastructure/metrics"
)

type delivery struct {
	header http.Header
	body   []byte
}

func newPublisher(t *testing.T, lc *fxtest.Lifecycle, secret string, endpoints ...string) EventPublisher {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := &config.Config{}
	cfg.Webhook.Enabled = true
	cfg.Webhook.Endpoints = endpoints
	cfg.Webhook.Timeout = 5 * time.Second
	return NewEventPublisher(lc, cfg, httpclient.NewHTTPClient(nil, logger),
		httpclient.NewHMACSignature(secret), metrics.NewCollector(), logger)
}

var sampleEventRequest = &entity.SignatureRequest{ID: "req_1", BaseID: "base_1"}

func TestPublishSignsAndDelivers(t *testing.T) {
	received := make(chan delivery, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- delivery{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	lc := fxtest.NewLifecycle(t)
	publisher := newPublisher(t, lc, "s3cret", srv.URL+"/a", srv.URL+"/b")
	lc.RequireStart()

	publisher.Publish(context.Background(), entity.EventSignerSigned, sampleEventRequest, "sig_1")
	lc.RequireStop()

	close(received)
	verifier := httpclient.NewHMACSignature("s3cret")
	count := 0
	for d := range received {
		count++
		var event entity.Event
		if err := json.Unmarshal(d.body, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.Type != entity.EventSignerSigned || event.RequestID != "req_1" || event.BaseID != "base_1" || event.SignerID != "sig_1" {
			t.Fatalf("unexpected event %+v", event)
		}
		if d.header.Get("X-Event-Id") != event.ID || d.header.Get("X-Event-Type") != "signer.signed" {
			t.Fatalf("unexpected event headers %v", d.header)
		}
		if !verifier.Verify(d.body, d.header.Get(httpclient.SignatureHeader)) {
			t.Fatalf("signature does not match body")
		}
	}
	if count != 2 {
		t.Fatalf("expected one delivery per endpoint, got %d", count)
	}
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	lc := fxtest.NewLifecycle(t)
	publisher := newPublisher(t, lc, "", srv.URL)
	lc.RequireStart()
	publisher.Publish(context.Background(), entity.EventRequestCompleted, sampleEventRequest, "")
	lc.RequireStop()
}

func TestPublishWithoutEndpointsIsNoop(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	publisher := newPublisher(t, lc, "s3cret")
	lc.RequireStart()
	publisher.Publish(context.Background(), entity.EventRequestExpired, sampleEventRequest, "")
	lc.RequireStop()
}
