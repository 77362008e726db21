package repository

import (
	"context"

	"signflow/internal/domain/entity"
)

// VersionRepository keys every lineage by tenant and document id.
type VersionRepository interface {
	// Create assigns the next version number and makes it the only current version.
	Create(ctx context.Context, v *entity.SignatureVersion) error
	ListByDocument(ctx context.Context, baseID, documentID string) ([]entity.SignatureVersion, error)
	FindCurrent(ctx context.Context, baseID, documentID string) (*entity.SignatureVersion, error)
}
