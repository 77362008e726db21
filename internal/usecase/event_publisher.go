package usecase

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/domain/entity"
	"signflow/internal/infrastructure/httpclient"
	"signflow/internal/infrastructure/metrics"
)

const (
	eventIDHeader   = "X-Event-Id"
	eventTypeHeader = "X-Event-Type"
)

// EventPublisher delivers lifecycle events to the configured endpoints.
// Delivery is best-effort: failures are logged and never retried.
type EventPublisher interface {
	Publish(ctx context.Context, eventType entity.EventType, req *entity.SignatureRequest, signerID string)
}

type eventPublisher struct {
	config     *config.Config
	httpClient httpclient.HTTPClient
	signature  *httpclient.HMACSignature
	metrics    *metrics.Collector
	logger     *zap.Logger
	inflight   sync.WaitGroup
}

func NewEventPublisher(
	lc fx.Lifecycle,
	cfg *config.Config,
	httpClient httpclient.HTTPClient,
	signature *httpclient.HMACSignature,
	mc *metrics.Collector,
	logger *zap.Logger,
) EventPublisher {
	p := &eventPublisher{
		config:     cfg,
		httpClient: httpClient,
		signature:  signature,
		metrics:    mc,
		logger:     logger,
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				p.inflight.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				logger.Warn("Event deliveries still in flight at shutdown")
				return nil
			}
		},
	})

	return p
}

func (p *eventPublisher) Publish(ctx context.Context, eventType entity.EventType, req *entity.SignatureRequest, signerID string) {
	event := entity.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		BaseID:     req.BaseID,
		RequestID:  req.ID,
		SignerID:   signerID,
		OccurredAt: time.Now().UTC(),
	}
	p.metrics.IncrementCounter("events_published", map[string]string{"type": string(eventType)})

	if !p.config.Webhook.Enabled || len(p.config.Webhook.Endpoints) == 0 {
		p.logger.Debug("Event delivery disabled, skipping",
			zap.String("event_type", string(eventType)),
			zap.String("request_id", req.ID),
		)
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	headers := map[string]string{
		eventIDHeader:   event.ID,
		eventTypeHeader: string(event.Type),
	}
	if p.signature.Enabled() {
		headers[httpclient.SignatureHeader] = p.signature.Sign(body)
	}

	// Deliveries outlive the triggering request.
	base := context.WithoutCancel(ctx)
	for _, endpoint := range p.config.Webhook.Endpoints {
		p.inflight.Add(1)
		go func(endpoint string) {
			defer p.inflight.Done()
			p.deliver(base, endpoint, event, body, headers)
		}(endpoint)
	}
}

func (p *eventPublisher) deliver(ctx context.Context, endpoint string, event entity.Event, body []byte, headers map[string]string) {
	if p.config.Webhook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Webhook.Timeout)
		defer cancel()
	}

	reqCtx := &httpclient.RequestContext{
		Target:    "webhook",
		BaseID:    event.BaseID,
		RequestID: event.RequestID,
		Headers:   headers,
	}
	if err := p.httpClient.Send(ctx, reqCtx, http.MethodPost, endpoint, body, nil); err != nil {
		p.metrics.IncrementCounter("event_delivery_failures", map[string]string{"type": string(event.Type)})
		p.logger.Warn("Failed to deliver event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("Event delivered",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("endpoint", endpoint),
	)
}
