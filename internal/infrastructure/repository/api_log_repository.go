package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"signflow/internal/domain/entity"
	"signflow/internal/domain/repository"
	"signflow/internal/infrastructure/database"
)

const apiLogColumns = `id, target, endpoint, method, request_body, response_body, status_code, duration_ms, request_id, base_id, created_at`

type apiLogRepository struct {
	db     *database.Database
	logger *zap.Logger
}

// NewAPILogRepository creates a new API log repository
func NewAPILogRepository(db *database.Database, logger *zap.Logger) repository.APILogRepository {
	return &apiLogRepository{
		db:     db,
		logger: logger,
	}
}

// Save saves an API log entry to the database
func (r *apiLogRepository) Save(ctx context.Context, log *entity.APILog) error {
	query := `
		INSERT INTO api_logs (target, endpoint, method, request_body, response_body, status_code, duration_ms, request_id, base_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err := r.db.DB.QueryRowContext(ctx, query,
		log.Target,
		log.Endpoint,
		log.Method,
		log.RequestBody,
		log.ResponseBody,
		log.StatusCode,
		log.Duration,
		log.RequestID,
		log.BaseID,
		log.CreatedAt,
	).Scan(&log.ID)

	if err != nil {
		r.logger.Error("Failed to save API log",
			zap.String("endpoint", log.Endpoint),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save API log: %w", err)
	}

	return nil
}

func (r *apiLogRepository) List(ctx context.Context, baseID string, limit, offset int) ([]entity.APILog, error) {
	query := `SELECT ` + apiLogColumns + ` FROM api_logs WHERE base_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`
	return r.query(ctx, query, baseID, limit, offset)
}

func (r *apiLogRepository) FindByRequestID(ctx context.Context, baseID, requestID string) ([]entity.APILog, error) {
	query := `SELECT ` + apiLogColumns + ` FROM api_logs WHERE base_id = $1 AND request_id = $2 ORDER BY id`
	return r.query(ctx, query, baseID, requestID)
}

func (r *apiLogRepository) query(ctx context.Context, query string, args ...interface{}) ([]entity.APILog, error) {
	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query API logs: %w", err)
	}
	defer rows.Close()

	logs := []entity.APILog{}
	for rows.Next() {
		var l entity.APILog
		if err := rows.Scan(
			&l.ID,
			&l.Target,
			&l.Endpoint,
			&l.Method,
			&l.RequestBody,
			&l.ResponseBody,
			&l.StatusCode,
			&l.Duration,
			&l.RequestID,
			&l.BaseID,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan API log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate API logs: %w", err)
	}
	return logs, nil
}
