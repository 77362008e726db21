package repository

import (
	"context"

	"signflow/internal/domain/entity"
)

// APILogRepository stores the outbound call log. Reads are scoped to one tenant.
type APILogRepository interface {
	Save(ctx context.Context, log *entity.APILog) error
	List(ctx context.Context, baseID string, limit, offset int) ([]entity.APILog, error)
	FindByRequestID(ctx context.Context, baseID, requestID string) ([]entity.APILog, error)
}
