package repository

import (
	"context"
	"time"

	"signflow/internal/domain/entity"
)

// SignatureRequestRepository persists the request aggregate. FindByID loads the
// request together with its signers and their fields; lookups return nil, nil
// when nothing matches.
type SignatureRequestRepository interface {
	// Create inserts the request with any signers and fields in one transaction.
	Create(ctx context.Context, req *entity.SignatureRequest) error
	FindByID(ctx context.Context, id string) (*entity.SignatureRequest, error)
	List(ctx context.Context, baseID string, limit, offset int) ([]entity.SignatureRequest, error)
	FindSignerByToken(ctx context.Context, token string) (*entity.Signer, error)

	// AddSigners inserts signers only while the request is still a draft.
	// Returns false when the request has left draft.
	AddSigners(ctx context.Context, requestID string, signers []entity.Signer) (bool, error)
	AddFields(ctx context.Context, requestID string, fields []entity.SignatureField) (bool, error)

	// TransitionStatus moves the request to `to` only if its current status is one of from.
	// Exactly one concurrent caller observes true for a given transition.
	TransitionStatus(ctx context.Context, id string, from []entity.RequestStatus, to entity.RequestStatus, at time.Time) (bool, error)

	// UpdateSignerStatus is the conditional counterpart for signer rows.
	UpdateSignerStatus(ctx context.Context, signerID string, from []entity.SignerStatus, to entity.SignerStatus, at time.Time) (bool, error)
	// MarkSignerSigned records the signed copy and field values. Both marks return false
	// when the signer already resolved, or when the request is no longer open or its
	// deadline is not after at.
	MarkSignerSigned(ctx context.Context, signerID, signedDocumentRef string, values map[string]string, at time.Time) (bool, error)
	MarkSignerDeclined(ctx context.Context, signerID, reason string, at time.Time) (bool, error)

	// SetCompletionArtifacts records the final document and certificate of a completed request.
	SetCompletionArtifacts(ctx context.Context, id, documentRef, certificateRef string) error
	// ListExpirable returns ids of open requests whose deadline passed before now.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error)
	// Delete removes the request; signers and fields cascade.
	Delete(ctx context.Context, id string) (bool, error)
}
