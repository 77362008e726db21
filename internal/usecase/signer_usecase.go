package usecase

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/domain/repository"
	"signflow/internal/infrastructure/metrics"
	"signflow/internal/infrastructure/pdf"
	"signflow/internal/infrastructure/storage"
)

// SignerUsecase is the signer state machine behind the public signing surface.
// Tokens are the only credential; every operation after resolution takes the
// signer's AuthContext explicitly.
type SignerUsecase interface {
	ResolveByToken(ctx context.Context, token string) (*entity.Signer, error)
	// Session resolves the token and marks the signer viewed on first access.
	Session(ctx context.Context, token string) (*entity.SigningSession, error)
	View(ctx context.Context, auth entity.AuthContext, requestID, signerID string) error
	Submit(ctx context.Context, auth entity.AuthContext, requestID, signerID string, submission *entity.Submission) (*entity.SubmitResult, error)
	Decline(ctx context.Context, auth entity.AuthContext, requestID, signerID, reason string) (entity.RequestStatus, error)
	// Document returns the signer's own signed copy once signed, otherwise the request document.
	Document(ctx context.Context, token string) ([]byte, error)
}

type signerUsecase struct {
	config     *config.Config
	repo       repository.SignatureRequestRepository
	tokens     repository.TokenCache
	store      storage.BlobStore
	compositor pdf.Compositor
	completion CompletionUsecase
	events     EventPublisher
	metrics    *metrics.Collector
	logger     *zap.Logger
	now        func() time.Time
}

func NewSignerUsecase(
	cfg *config.Config,
	repo repository.SignatureRequestRepository,
	tokens repository.TokenCache,
	store storage.BlobStore,
	compositor pdf.Compositor,
	completion CompletionUsecase,
	events EventPublisher,
	mc *metrics.Collector,
	logger *zap.Logger,
) SignerUsecase {
	return &signerUsecase{
		config:     cfg,
		repo:       repo,
		tokens:     tokens,
		store:      store,
		compositor: compositor,
		completion: completion,
		events:     events,
		metrics:    mc,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// resolve returns the request and signer behind token, preferring the token cache.
func (u *signerUsecase) resolve(ctx context.Context, token string) (*entity.SignatureRequest, *entity.Signer, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, &apperror.InvalidTokenError{}
	}

	ref, found, err := u.tokens.Get(ctx, token)
	if err != nil {
		u.logger.Warn("Token cache unavailable, falling back to database", zap.Error(err))
	}
	if found {
		if requestID, signerID, ok := parseTokenRef(ref); ok {
			req, err := u.repo.FindByID(ctx, requestID)
			if err != nil {
				return nil, nil, err
			}
			if req != nil {
				signer := req.FindSigner(signerID)
				if signer != nil && subtle.ConstantTimeCompare([]byte(signer.AccessToken), []byte(token)) == 1 {
					u.metrics.IncrementCounter("token_cache", map[string]string{"result": "hit"})
					return req, signer, nil
				}
			}
		}
	}
	u.metrics.IncrementCounter("token_cache", map[string]string{"result": "miss"})

	s, err := u.repo.FindSignerByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, &apperror.InvalidTokenError{}
	}
	req, err := u.repo.FindByID(ctx, s.RequestID)
	if err != nil {
		return nil, nil, err
	}
	if req == nil || req.FindSigner(s.ID) == nil {
		return nil, nil, &apperror.InvalidTokenError{}
	}

	if req.Status.IsOpen() || req.Status == entity.RequestDraft {
		if err := u.tokens.Set(ctx, token, tokenRef(req.ID, s.ID)); err != nil {
			u.logger.Warn("Failed to cache access token", zap.String("signer_id", s.ID), zap.Error(err))
		}
	}
	return req, req.FindSigner(s.ID), nil
}

func (u *signerUsecase) ResolveByToken(ctx context.Context, token string) (*entity.Signer, error) {
	_, signer, err := u.resolve(ctx, token)
	return signer, err
}

// lookup loads the request and signer within auth's scope.
func (u *signerUsecase) lookup(ctx context.Context, auth entity.AuthContext, requestID, signerID string) (*entity.SignatureRequest, *entity.Signer, error) {
	req, err := loadRequest(ctx, u.repo, auth, requestID)
	if err != nil {
		return nil, nil, err
	}
	signer := req.FindSigner(signerID)
	if signer == nil {
		return nil, nil, &apperror.UnknownSignerError{SignerID: signerID}
	}
	if !auth.CanActAsSigner(req, signerID) {
		return nil, nil, &apperror.NotFoundError{Resource: "signer", ID: signerID}
	}
	return req, signer, nil
}

// checkDeadline expires an overdue open request and reports RequestExpiredError.
func (u *signerUsecase) checkDeadline(ctx context.Context, auth entity.AuthContext, req *entity.SignatureRequest) error {
	if req.Status == entity.RequestExpired {
		return &apperror.RequestExpiredError{RequestID: req.ID}
	}
	if req.Status.IsOpen() && req.IsPastDeadline(u.now()) {
		if _, err := u.completion.Expire(ctx, auth, req.ID); err != nil {
			u.logger.Warn("Failed to expire overdue request", zap.String("request_id", req.ID), zap.Error(err))
		}
		return &apperror.RequestExpiredError{RequestID: req.ID}
	}
	return nil
}

// actionable reports why signer may not sign or decline right now.
func (u *signerUsecase) actionable(ctx context.Context, auth entity.AuthContext, req *entity.SignatureRequest, signer *entity.Signer) error {
	switch signer.Status {
	case entity.SignerSigned:
		return &apperror.AlreadySignedError{SignerID: signer.ID}
	case entity.SignerDeclined:
		return &apperror.SignerDeclinedError{SignerID: signer.ID}
	}
	if err := u.checkDeadline(ctx, auth, req); err != nil {
		return err
	}
	if !req.Status.IsOpen() {
		return &apperror.RequestClosedError{RequestID: req.ID, Status: string(req.Status)}
	}
	if !signer.Role.CanSign() {
		return apperror.NewValidation("role", "viewers cannot sign or decline")
	}
	if u.config.Signing.EnforceSignOrder && !req.IsUnlocked(signer) {
		return &apperror.OutOfOrderError{SignerID: signer.ID, SignOrder: signer.SignOrder}
	}
	return nil
}

// rejected explains a signer mark that matched no row, using the current state.
func (u *signerUsecase) rejected(ctx context.Context, auth entity.AuthContext, requestID, signerID string) error {
	req, signer, err := u.lookup(ctx, auth, requestID, signerID)
	if err != nil {
		return err
	}
	if err := u.actionable(ctx, auth, req, signer); err != nil {
		return err
	}
	return &apperror.RequestClosedError{RequestID: req.ID, Status: string(req.Status)}
}

func (u *signerUsecase) evaluate(ctx context.Context, auth entity.AuthContext, req *entity.SignatureRequest) entity.RequestStatus {
	status, err := u.completion.EvaluateCompletion(ctx, auth, req.ID)
	if err != nil {
		u.logger.Error("Failed to evaluate completion",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
		return req.Status
	}
	return status
}

func (u *signerUsecase) Session(ctx context.Context, token string) (*entity.SigningSession, error) {
	req, signer, err := u.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	auth := entity.SignerAuth(signer.ID)

	if req.Status == entity.RequestDraft {
		return nil, &apperror.RequestClosedError{RequestID: req.ID, Status: string(req.Status)}
	}
	if err := u.checkDeadline(ctx, auth, req); err != nil {
		return nil, err
	}

	if req.Status.IsOpen() && (signer.Status == entity.SignerPending || signer.Status == entity.SignerSent) {
		if err := u.View(ctx, auth, req.ID, signer.ID); err != nil {
			return nil, err
		}
		signer.Status = entity.SignerViewed
	}

	fields := make([]entity.SignatureField, len(signer.Fields))
	copy(fields, signer.Fields)
	entity.SortFields(fields)

	return &entity.SigningSession{
		Signer:        *signer,
		Request:       req.Summary(),
		Fields:        fields,
		DocumentURL:   signingLink(u.config, token) + "/document",
		AlreadySigned: signer.Status == entity.SignerSigned,
	}, nil
}

func (u *signerUsecase) View(ctx context.Context, auth entity.AuthContext, requestID, signerID string) error {
	req, signer, err := u.lookup(ctx, auth, requestID, signerID)
	if err != nil {
		return err
	}
	if req.Status == entity.RequestDraft {
		return &apperror.RequestClosedError{RequestID: req.ID, Status: string(req.Status)}
	}
	if !req.Status.IsOpen() || signer.Status.IsEngaged() {
		return nil
	}

	viewed, err := u.repo.UpdateSignerStatus(ctx, signer.ID,
		[]entity.SignerStatus{entity.SignerPending, entity.SignerSent}, entity.SignerViewed, u.now())
	if err != nil {
		return err
	}
	if !viewed {
		return nil
	}

	u.logger.Info("Signer viewed request",
		zap.String("request_id", req.ID),
		zap.String("signer_id", signer.ID),
	)
	u.events.Publish(ctx, entity.EventSignerViewed, req, signer.ID)
	u.evaluate(ctx, auth, req)
	return nil
}

func (u *signerUsecase) Submit(ctx context.Context, auth entity.AuthContext, requestID, signerID string, submission *entity.Submission) (*entity.SubmitResult, error) {
	start := time.Now()
	defer u.metrics.Since("submission", start)

	req, signer, err := u.lookup(ctx, auth, requestID, signerID)
	if err != nil {
		return nil, err
	}
	if err := u.actionable(ctx, auth, req, signer); err != nil {
		return nil, err
	}

	fields := make([]entity.SignatureField, len(signer.Fields))
	copy(fields, signer.Fields)
	entity.SortFields(fields)

	values := make(map[string]string, len(fields))
	for i := range fields {
		v := submission.ValueFor(&fields[i])
		if v == "" {
			if fields[i].Required {
				return nil, &apperror.MissingRequiredFieldError{FieldID: fields[i].ID, Label: fields[i].Label}
			}
			continue
		}
		values[fields[i].ID] = v
	}

	source, err := u.store.Read(ctx, req.SourceDocumentRef)
	if err != nil {
		u.logger.Error("Failed to read source document",
			zap.String("request_id", req.ID),
			zap.String("ref", req.SourceDocumentRef),
			zap.Error(err),
		)
		return nil, err
	}

	composition, err := u.compositor.Compose(ctx, source, fields, values)
	if err != nil {
		return nil, err
	}
	if composition.Warnings != nil {
		u.metrics.IncrementCounter("render_placeholders", nil)
		u.logger.Warn("Some fields were rendered as placeholders",
			zap.String("request_id", req.ID),
			zap.String("signer_id", signer.ID),
			zap.Error(composition.Warnings),
		)
	}

	signedRef, err := u.store.Write(ctx, storage.AreaSigned, "pdf", composition.Content)
	if err != nil {
		return nil, err
	}

	signed, err := u.repo.MarkSignerSigned(ctx, signer.ID, signedRef, values, u.now())
	if err != nil {
		return nil, err
	}
	if !signed {
		return nil, u.rejected(ctx, auth, req.ID, signer.ID)
	}

	u.metrics.IncrementCounter("signatures", map[string]string{"role": string(signer.Role)})
	u.logger.Info("Signer signed",
		zap.String("request_id", req.ID),
		zap.String("signer_id", signer.ID),
		zap.String("signed_document", signedRef),
		zap.Int("marked_fields", composition.Marked),
	)
	u.events.Publish(ctx, entity.EventSignerSigned, req, signer.ID)

	return &entity.SubmitResult{
		Success:            true,
		SignedDocumentPath: signedRef,
		RequestStatus:      u.evaluate(ctx, auth, req),
	}, nil
}

func (u *signerUsecase) Decline(ctx context.Context, auth entity.AuthContext, requestID, signerID, reason string) (entity.RequestStatus, error) {
	req, signer, err := u.lookup(ctx, auth, requestID, signerID)
	if err != nil {
		return "", err
	}
	if err := u.actionable(ctx, auth, req, signer); err != nil {
		return "", err
	}

	declined, err := u.repo.MarkSignerDeclined(ctx, signer.ID, strings.TrimSpace(reason), u.now())
	if err != nil {
		return "", err
	}
	if !declined {
		return "", u.rejected(ctx, auth, req.ID, signer.ID)
	}

	u.logger.Info("Signer declined",
		zap.String("request_id", req.ID),
		zap.String("signer_id", signer.ID),
	)
	u.events.Publish(ctx, entity.EventSignerDeclined, req, signer.ID)
	return u.evaluate(ctx, auth, req), nil
}

func (u *signerUsecase) Document(ctx context.Context, token string) ([]byte, error) {
	req, signer, err := u.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if req.Status == entity.RequestDraft {
		return nil, &apperror.RequestClosedError{RequestID: req.ID, Status: string(req.Status)}
	}
	ref := signer.SignedDocumentRef
	if ref == "" {
		ref = req.DocumentRef
	}
	if ref == "" {
		ref = req.SourceDocumentRef
	}
	return u.store.Read(ctx, ref)
}
