package records

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/infrastructure/httpclient"
)

// FieldUpdate addresses one field of one record in the workspace.
type FieldUpdate struct {
	BaseID    string
	TableID   string
	RecordID  string
	FieldID   string
	Value     string
	RequestID string // Signature request that caused the write, for auditing
}

// Client writes values back into workspace records.
type Client interface {
	UpdateField(ctx context.Context, update FieldUpdate) error
}

type client struct {
	config *config.RecordsConfig
	http   httpclient.HTTPClient
	logger *zap.Logger
}

func NewClient(cfg *config.Config, http httpclient.HTTPClient, logger *zap.Logger) Client {
	return &client{
		config: &cfg.Records,
		http:   http,
		logger: logger,
	}
}

type updateBody struct {
	Fields map[string]string `json:"fields"`
}

func (c *client) UpdateField(ctx context.Context, update FieldUpdate) error {
	if !c.config.Enabled {
		c.logger.Debug("Records integration disabled, skipping field update",
			zap.String("record_id", update.RecordID),
		)
		return nil
	}

	apiURL := fmt.Sprintf("%s/bases/%s/tables/%s/records/%s",
		strings.TrimRight(c.config.BaseURL, "/"),
		url.PathEscape(update.BaseID),
		url.PathEscape(update.TableID),
		url.PathEscape(update.RecordID),
	)

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	c.logger.Info("Updating linked record",
		zap.String("request_id", update.RequestID),
		zap.String("record_id", update.RecordID),
		zap.String("field_id", update.FieldID),
	)

	reqCtx := &httpclient.RequestContext{
		Target:    "records",
		BaseID:    update.BaseID,
		RequestID: update.RequestID,
		Headers:   map[string]string{"Authorization": "Bearer " + c.config.Token},
	}
	body := updateBody{Fields: map[string]string{update.FieldID: update.Value}}
	if err := c.http.Patch(ctx, reqCtx, apiURL, body, nil); err != nil {
		return fmt.Errorf("failed to update record %s: %w", update.RecordID, err)
	}

	c.logger.Info("Linked record updated",
		zap.String("record_id", update.RecordID),
		zap.String("value", update.Value),
	)
	return nil
}
