package notification

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/infrastructure/httpclient"
)

// Message is one signing invitation.
type Message struct {
	To        string `json:"to"`
	Name      string `json:"name,omitempty"`
	From      string `json:"from,omitempty"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Link      string `json:"link"`
	RequestID string `json:"-"`
	BaseID    string `json:"-"`
}

// linkFields carry access tokens and are kept out of the call log.
var linkFields = []string{"link"}

// Notifier hands invitations to the mail service. Each message is attempted
// even when earlier ones fail; the returned error aggregates every failure.
type Notifier interface {
	Notify(ctx context.Context, messages []Message) error
}

type notifier struct {
	config *config.NotificationConfig
	http   httpclient.HTTPClient
	logger *zap.Logger
}

func NewNotifier(cfg *config.Config, http httpclient.HTTPClient, logger *zap.Logger) Notifier {
	return &notifier{
		config: &cfg.Notification,
		http:   http,
		logger: logger,
	}
}

func (n *notifier) Notify(ctx context.Context, messages []Message) error {
	if !n.config.Enabled {
		n.logger.Debug("Notification dispatch disabled, skipping",
			zap.Int("messages", len(messages)),
		)
		return nil
	}

	endpoint := strings.TrimRight(n.config.BaseURL, "/") + "/messages"
	var errs error
	for _, msg := range messages {
		if msg.From == "" {
			msg.From = n.config.From
		}
		if err := n.send(ctx, endpoint, msg); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("notify %s: %w", msg.To, err))
			continue
		}
		n.logger.Info("Signing invitation sent",
			zap.String("request_id", msg.RequestID),
			zap.String("to", msg.To),
		)
	}
	return errs
}

func (n *notifier) send(ctx context.Context, endpoint string, msg Message) error {
	if n.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.config.Timeout)
		defer cancel()
	}
	reqCtx := &httpclient.RequestContext{
		Target:    "notification",
		BaseID:    msg.BaseID,
		RequestID: msg.RequestID,
		Redact:    linkFields,
	}
	return n.http.Post(ctx, reqCtx, endpoint, msg, nil)
}
