package usecase

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/domain/repository"
	"signflow/internal/infrastructure/storage"
)

// VersionUsecase maintains the version lineage of document identities.
// A lineage belongs to the tenant that wrote it; other tenants never see it.
type VersionUsecase interface {
	List(ctx context.Context, auth entity.AuthContext, documentID string) ([]entity.SignatureVersion, error)
	// Current returns the current version, or NotFoundError when the lineage is empty.
	Current(ctx context.Context, auth entity.AuthContext, documentID string) (*entity.SignatureVersion, error)
	Create(ctx context.Context, auth entity.AuthContext, documentID string, input *entity.CreateVersionRequest) (*entity.SignatureVersion, error)
	// Record registers an already stored artifact as the new current version of baseID's lineage.
	Record(ctx context.Context, baseID, documentID, storageRef, createdBy, note string) (*entity.SignatureVersion, error)
}

type versionUsecase struct {
	repo   repository.VersionRepository
	store  storage.BlobStore
	logger *zap.Logger
}

func NewVersionUsecase(repo repository.VersionRepository, store storage.BlobStore, logger *zap.Logger) VersionUsecase {
	return &versionUsecase{
		repo:   repo,
		store:  store,
		logger: logger,
	}
}

func (u *versionUsecase) List(ctx context.Context, auth entity.AuthContext, documentID string) ([]entity.SignatureVersion, error) {
	if err := requireTenant(auth); err != nil {
		return nil, err
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, apperror.NewValidation("documentId", "is required")
	}
	return u.repo.ListByDocument(ctx, auth.BaseID, documentID)
}

func (u *versionUsecase) Current(ctx context.Context, auth entity.AuthContext, documentID string) (*entity.SignatureVersion, error) {
	if err := requireTenant(auth); err != nil {
		return nil, err
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, apperror.NewValidation("documentId", "is required")
	}
	v, err := u.repo.FindCurrent(ctx, auth.BaseID, documentID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, &apperror.NotFoundError{Resource: "document version", ID: documentID}
	}
	return v, nil
}

func (u *versionUsecase) Create(ctx context.Context, auth entity.AuthContext, documentID string, input *entity.CreateVersionRequest) (*entity.SignatureVersion, error) {
	if err := requireTenant(auth); err != nil {
		return nil, err
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, apperror.NewValidation("documentId", "is required")
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, apperror.NewValidation("document", "is required")
	}
	content, err := base64.StdEncoding.DecodeString(strings.TrimSpace(input.Content))
	if err != nil {
		return nil, apperror.NewValidation("document", "must be base64 encoded")
	}

	ref, err := u.store.Write(ctx, storage.AreaVersion, "pdf", content)
	if err != nil {
		return nil, err
	}
	return u.Record(ctx, auth.BaseID, documentID, ref, auth.ActorID, input.Note)
}

func (u *versionUsecase) Record(ctx context.Context, baseID, documentID, storageRef, createdBy, note string) (*entity.SignatureVersion, error) {
	if baseID == "" {
		return nil, apperror.NewValidation("base_id", "is required")
	}
	v := &entity.SignatureVersion{
		ID:         uuid.NewString(),
		BaseID:     baseID,
		DocumentID: documentID,
		StorageRef: storageRef,
		CreatedBy:  createdBy,
		Note:       note,
		CreatedAt:  time.Now().UTC(),
	}
	if err := u.repo.Create(ctx, v); err != nil {
		u.logger.Error("Failed to create document version",
			zap.String("base_id", baseID),
			zap.String("document_id", documentID),
			zap.Error(err),
		)
		return nil, err
	}
	return v, nil
}
