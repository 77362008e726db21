package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"signflow/internal/domain/entity"
	"signflow/internal/domain/repository"
	"signflow/internal/infrastructure/database"
)

const versionColumns = `id, base_id, document_id, version, storage_ref, created_by, note, is_current, created_at`

type versionRepository struct {
	db     *database.Database
	logger *zap.Logger
}

func NewVersionRepository(db *database.Database, logger *zap.Logger) repository.VersionRepository {
	return &versionRepository{
		db:     db,
		logger: logger,
	}
}

func scanVersion(row rowScanner) (*entity.SignatureVersion, error) {
	var v entity.SignatureVersion
	err := row.Scan(
		&v.ID,
		&v.BaseID,
		&v.DocumentID,
		&v.Version,
		&v.StorageRef,
		&v.CreatedBy,
		&v.Note,
		&v.IsCurrent,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Create serializes writers per lineage with a transaction-scoped advisory lock,
// so version numbers stay gapless and a single row keeps is_current.
func (r *versionRepository) Create(ctx context.Context, v *entity.SignatureVersion) error {
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, v.BaseID+"/"+v.DocumentID); err != nil {
			return fmt.Errorf("failed to lock document versions: %w", err)
		}

		var latest int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM signature_versions WHERE base_id = $1 AND document_id = $2`,
			v.BaseID, v.DocumentID,
		).Scan(&latest)
		if err != nil {
			return fmt.Errorf("failed to read latest version: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE signature_versions SET is_current = FALSE WHERE base_id = $1 AND document_id = $2 AND is_current`,
			v.BaseID, v.DocumentID,
		); err != nil {
			return fmt.Errorf("failed to clear current version: %w", err)
		}

		v.Version = latest + 1
		v.IsCurrent = true
		_, err = tx.ExecContext(ctx, `
			INSERT INTO signature_versions (`+versionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			v.ID,
			v.BaseID,
			v.DocumentID,
			v.Version,
			v.StorageRef,
			v.CreatedBy,
			v.Note,
			v.IsCurrent,
			v.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert version: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("Document version created",
		zap.String("base_id", v.BaseID),
		zap.String("document_id", v.DocumentID),
		zap.Int("version", v.Version),
	)
	return nil
}

func (r *versionRepository) ListByDocument(ctx context.Context, baseID, documentID string) ([]entity.SignatureVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM signature_versions WHERE base_id = $1 AND document_id = $2 ORDER BY version DESC`

	rows, err := r.db.DB.QueryContext(ctx, query, baseID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := []entity.SignatureVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return versions, nil
}

func (r *versionRepository) FindCurrent(ctx context.Context, baseID, documentID string) (*entity.SignatureVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM signature_versions WHERE base_id = $1 AND document_id = $2 AND is_current`

	v, err := scanVersion(r.db.DB.QueryRowContext(ctx, query, baseID, documentID))
	if err == sql.ErrNoRows {
		return nil, nil // Not found, return nil without error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find current version: %w", err)
	}
	return v, nil
}
