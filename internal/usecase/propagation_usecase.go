package usecase

import (
	"context"

	"go.uber.org/zap"

	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/infrastructure/records"
)

// StatusPropagator writes the outcome of a resolved request back into its linked record.
type StatusPropagator interface {
	// Propagate returns a *apperror.PropagationWarning on failure. Callers log it;
	// it never undoes the status that triggered it.
	Propagate(ctx context.Context, req *entity.SignatureRequest) error
}

type statusPropagator struct {
	records records.Client
	logger  *zap.Logger
}

func NewStatusPropagator(recordsClient records.Client, logger *zap.Logger) StatusPropagator {
	return &statusPropagator{
		records: recordsClient,
		logger:  logger,
	}
}

func (p *statusPropagator) Propagate(ctx context.Context, req *entity.SignatureRequest) error {
	if !req.HasPropagationTarget() {
		return nil
	}

	var value string
	switch req.Status {
	case entity.RequestCompleted:
		value = req.CompleteValue
	case entity.RequestDeclined:
		value = req.DeclineValue
	default:
		return nil
	}
	if value == "" {
		p.logger.Debug("No propagation value configured",
			zap.String("request_id", req.ID),
			zap.String("status", string(req.Status)),
		)
		return nil
	}

	err := p.records.UpdateField(ctx, records.FieldUpdate{
		BaseID:    req.BaseID,
		TableID:   req.TableID,
		RecordID:  req.LinkedRecordID,
		FieldID:   req.StatusFieldID,
		Value:     value,
		RequestID: req.ID,
	})
	if err != nil {
		return &apperror.PropagationWarning{RecordID: req.LinkedRecordID, Err: err}
	}

	p.logger.Info("Status propagated to linked record",
		zap.String("request_id", req.ID),
		zap.String("record_id", req.LinkedRecordID),
		zap.String("value", value),
	)
	return nil
}
