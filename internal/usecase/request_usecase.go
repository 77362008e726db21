package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/domain/repository"
	"signflow/internal/infrastructure/metrics"
	"signflow/internal/infrastructure/notification"
	"signflow/internal/infrastructure/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RequestUsecase is the management side of the request state machine.
type RequestUsecase interface {
	Create(ctx context.Context, auth entity.AuthContext, input *entity.CreateRequestInput) (*entity.CreatedRequest, error)
	AddSigners(ctx context.Context, auth entity.AuthContext, requestID string, input *entity.AddSignersInput) ([]entity.IssuedSigner, error)
	AssignFields(ctx context.Context, auth entity.AuthContext, requestID string, fields []entity.FieldInput) ([]entity.SignatureField, error)
	// Dispatch moves a draft to sent and invites signers. Requests already past draft are returned unchanged.
	Dispatch(ctx context.Context, auth entity.AuthContext, requestID string) (*entity.SignatureRequest, error)
	Get(ctx context.Context, auth entity.AuthContext, requestID string) (*entity.SignatureRequest, error)
	List(ctx context.Context, auth entity.AuthContext, limit, offset int) ([]entity.SignatureRequest, error)
	Delete(ctx context.Context, auth entity.AuthContext, requestID string) error
}

type requestUsecase struct {
	config  *config.Config
	repo    repository.SignatureRequestRepository
	tokens  repository.TokenCache
	store   storage.BlobStore
	inviter *inviter
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

func NewRequestUsecase(
	cfg *config.Config,
	repo repository.SignatureRequestRepository,
	tokens repository.TokenCache,
	store storage.BlobStore,
	notifier notification.Notifier,
	mc *metrics.Collector,
	logger *zap.Logger,
) RequestUsecase {
	return &requestUsecase{
		config: cfg,
		repo:   repo,
		tokens: tokens,
		store:  store,
		inviter: &inviter{
			config:   cfg,
			repo:     repo,
			notifier: notifier,
			logger:   logger,
		},
		metrics: mc,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// newAccessToken returns an opaque, unguessable signing token.
func newAccessToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// tokenRef is the value cached for an access token.
func tokenRef(requestID, signerID string) string {
	return requestID + "/" + signerID
}

func parseTokenRef(ref string) (requestID, signerID string, ok bool) {
	requestID, signerID, ok = strings.Cut(ref, "/")
	return requestID, signerID, ok && requestID != "" && signerID != ""
}

// loadRequest returns the request if it exists inside the caller's scope.
// Requests outside the scope are reported as not found.
func loadRequest(ctx context.Context, repo repository.SignatureRequestRepository, auth entity.AuthContext, requestID string) (*entity.SignatureRequest, error) {
	req, err := repo.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil || !auth.CanAccessRequest(req) {
		return nil, &apperror.NotFoundError{Resource: "signature request", ID: requestID}
	}
	return req, nil
}

func requireTenant(auth entity.AuthContext) error {
	if auth.BaseID == "" && !auth.System {
		return apperror.NewValidation("base_id", "tenant scope is required")
	}
	return nil
}

// buildSigners validates inputs against the existing signers of the request and issues tokens.
func buildSigners(requestID string, existing []entity.Signer, inputs []entity.SignerInput, now time.Time) ([]entity.Signer, error) {
	seen := make(map[string]bool, len(existing)+len(inputs))
	for _, s := range existing {
		seen[s.Email] = true
	}

	signers := make([]entity.Signer, 0, len(inputs))
	for i, in := range inputs {
		email := entity.NormalizeEmail(in.Email)
		if email == "" || !strings.Contains(email, "@") {
			return nil, apperror.NewValidation(fmt.Sprintf("signers[%d].email", i), "a valid email is required")
		}
		if seen[email] {
			return nil, &apperror.DuplicateSignerError{Email: email}
		}
		seen[email] = true

		role := in.Role
		if role == "" {
			role = entity.RoleSigner
		}
		if !role.IsValid() {
			return nil, apperror.NewValidation(fmt.Sprintf("signers[%d].role", i), fmt.Sprintf("unknown role %q", in.Role))
		}
		if in.SignOrder < 0 {
			return nil, apperror.NewValidation(fmt.Sprintf("signers[%d].sign_order", i), "must not be negative")
		}

		name := strings.TrimSpace(in.Name)
		if name == "" {
			name = email
		}

		signers = append(signers, entity.Signer{
			ID:          uuid.NewString(),
			RequestID:   requestID,
			Email:       email,
			Name:        name,
			Role:        role,
			SignOrder:   in.SignOrder,
			Position:    len(existing) + i,
			AccessToken: newAccessToken(),
			Status:      entity.SignerPending,
			CreatedAt:   now,
			Fields:      []entity.SignatureField{},
		})
	}
	return signers, nil
}

// bindFields resolves each field's signer by id or email among candidates and validates its geometry.
func bindFields(candidates []*entity.Signer, inputs []entity.FieldInput) ([]entity.SignatureField, error) {
	fields := make([]entity.SignatureField, 0, len(inputs))
	for i, in := range inputs {
		var owner *entity.Signer
		for _, s := range candidates {
			if (in.SignerID != "" && s.ID == in.SignerID) ||
				(in.SignerID == "" && in.SignerEmail != "" && s.Email == entity.NormalizeEmail(in.SignerEmail)) {
				owner = s
				break
			}
		}
		if owner == nil {
			ref := in.SignerID
			if ref == "" {
				ref = in.SignerEmail
			}
			return nil, &apperror.UnknownSignerError{SignerID: ref}
		}
		if !owner.Role.CanSign() {
			return nil, apperror.NewValidation(fmt.Sprintf("fields[%d]", i), "viewers cannot own fields")
		}

		f := in.SignatureField
		if f.Kind == nil {
			return nil, apperror.NewValidation(fmt.Sprintf("fields[%d].field_type", i), "is required")
		}
		if f.Page < 1 {
			return nil, apperror.NewValidation(fmt.Sprintf("fields[%d].page", i), "pages are numbered from 1")
		}
		if f.Width <= 0 || f.Height <= 0 || f.X < 0 || f.Y < 0 {
			return nil, apperror.NewValidation(fmt.Sprintf("fields[%d]", i), "position and size must be positive")
		}
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		f.SignerID = owner.ID
		f.Value = ""

		owner.Fields = append(owner.Fields, f)
		fields = append(fields, f)
	}
	return fields, nil
}

func signerPointers(signers []entity.Signer) []*entity.Signer {
	out := make([]*entity.Signer, len(signers))
	for i := range signers {
		out[i] = &signers[i]
	}
	return out
}

func issue(cfg *config.Config, signers []entity.Signer) []entity.IssuedSigner {
	issued := make([]entity.IssuedSigner, len(signers))
	for i, s := range signers {
		issued[i] = entity.IssuedSigner{
			Signer:      s,
			AccessToken: s.AccessToken,
			SigningURL:  signingLink(cfg, s.AccessToken),
		}
	}
	return issued
}

func (u *requestUsecase) cacheTokens(ctx context.Context, signers []entity.Signer) {
	for _, s := range signers {
		if err := u.tokens.Set(ctx, s.AccessToken, tokenRef(s.RequestID, s.ID)); err != nil {
			u.logger.Warn("Failed to cache access token",
				zap.String("signer_id", s.ID),
				zap.Error(err),
			)
		}
	}
}

// resolveSource stores uploaded content or checks that an existing reference is readable.
func (u *requestUsecase) resolveSource(ctx context.Context, input *entity.CreateRequestInput) (string, error) {
	if content := strings.TrimSpace(input.SourceDocumentContent); content != "" {
		raw, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", apperror.NewValidation("sourceDocumentContent", "must be base64 encoded")
		}
		if !strings.HasPrefix(string(raw), "%PDF") {
			return "", apperror.NewValidation("sourceDocumentContent", "must be a PDF document")
		}
		return u.store.Write(ctx, storage.AreaSource, "pdf", raw)
	}

	ref := strings.TrimSpace(input.SourceDocument)
	if ref == "" {
		return "", apperror.NewValidation("sourceDocument", "is required")
	}
	exists, err := u.store.Exists(ctx, ref)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", apperror.NewValidation("sourceDocument", fmt.Sprintf("%s does not exist", ref))
	}
	return ref, nil
}

func (u *requestUsecase) Create(ctx context.Context, auth entity.AuthContext, input *entity.CreateRequestInput) (*entity.CreatedRequest, error) {
	if err := requireTenant(auth); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperror.NewValidation("title", "is required")
	}
	if input.SourceDocument == "" && input.SourceDocumentContent == "" {
		return nil, apperror.NewValidation("sourceDocument", "is required")
	}

	now := u.now()
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return nil, apperror.NewValidation("expiresAt", "must be in the future")
	}

	requestID := uuid.NewString()
	signers, err := buildSigners(requestID, nil, input.Signers, now)
	if err != nil {
		return nil, err
	}
	if _, err := bindFields(signerPointers(signers), input.Fields); err != nil {
		return nil, err
	}

	sourceRef, err := u.resolveSource(ctx, input)
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if input.ExpiresAt != nil {
		t := input.ExpiresAt.UTC()
		expiresAt = &t
	}

	req := &entity.SignatureRequest{
		ID:                requestID,
		BaseID:            auth.BaseID,
		TableID:           input.TableID,
		DocumentID:        input.DocumentID,
		Title:             title,
		Message:           input.Message,
		SourceDocumentRef: sourceRef,
		DocumentRef:       sourceRef,
		LinkedRecordID:    input.LinkedRecordID,
		StatusFieldID:     input.StatusFieldID,
		CompleteValue:     input.CompleteValue,
		DeclineValue:      input.DeclineValue,
		Status:            entity.RequestDraft,
		ExpiresAt:         expiresAt,
		CreatedBy:         auth.ActorID,
		CreatedAt:         now,
		UpdatedAt:         now,
		Signers:           signers,
	}

	if err := u.repo.Create(ctx, req); err != nil {
		u.logger.Error("Failed to create signature request",
			zap.String("title", title),
			zap.Error(err),
		)
		return nil, err
	}
	u.cacheTokens(ctx, signers)
	u.metrics.IncrementCounter("requests_created", nil)

	u.logger.Info("Signature request created",
		zap.String("request_id", req.ID),
		zap.String("base_id", req.BaseID),
		zap.Int("signers", len(signers)),
	)

	return &entity.CreatedRequest{
		SignatureRequest: req,
		IssuedSigners:    issue(u.config, signers),
	}, nil
}

func (u *requestUsecase) AddSigners(ctx context.Context, auth entity.AuthContext, requestID string, input *entity.AddSignersInput) ([]entity.IssuedSigner, error) {
	req, err := loadRequest(ctx, u.repo, auth, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != entity.RequestDraft {
		return nil, &apperror.RequestClosedError{RequestID: req.ID, Status: string(req.Status)}
	}
	if len(input.Signers) == 0 {
		return nil, apperror.NewValidation("signers", "at least one signer is required")
	}

	signers, err := buildSigners(req.ID, req.Signers, input.Signers, u.now())
	if err != nil {
		return nil, err
	}
	if _, err := bindFields(signerPointers(signers), input.Fields); err != nil {
		return nil, err
	}

	added, err := u.repo.AddSigners(ctx, req.ID, signers)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, &apperror.RequestClosedError{RequestID: req.ID, Status: "no longer a draft"}
	}
	u.cacheTokens(ctx, signers)

	u.logger.Info("Signers added",
		zap.String("request_id", req.ID),
		zap.Int("count", len(signers)),
	)
	return issue(u.config, signers), nil
}

func (u *requestUsecase) AssignFields(ctx context.Context, auth entity.AuthContext, requestID string, inputs []entity.FieldInput) ([]entity.SignatureField, error) {
	req, err := loadRequest(ctx, u.repo, auth, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != entity.RequestDraft {
		return nil, &apperror.RequestClosedError{RequestID: req.ID, Status: string(req.Status)}
	}
	if len(inputs) == 0 {
		return nil, apperror.NewValidation("fields", "at least one field is required")
	}

	fields, err := bindFields(signerPointers(req.Signers), inputs)
	if err != nil {
		return nil, err
	}

	added, err := u.repo.AddFields(ctx, req.ID, fields)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, &apperror.RequestClosedError{RequestID: req.ID, Status: "no longer a draft"}
	}

	u.logger.Info("Fields assigned",
		zap.String("request_id", req.ID),
		zap.Int("count", len(fields)),
	)
	return fields, nil
}

func (u *requestUsecase) Dispatch(ctx context.Context, auth entity.AuthContext, requestID string) (*entity.SignatureRequest, error) {
	req, err := loadRequest(ctx, u.repo, auth, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != entity.RequestDraft {
		return req, nil
	}
	if len(req.ActingSigners()) == 0 {
		return nil, apperror.NewValidation("signers", "at least one signer or approver is required")
	}

	now := u.now()
	if req.IsPastDeadline(now) {
		return nil, &apperror.RequestExpiredError{RequestID: req.ID}
	}

	moved, err := u.repo.TransitionStatus(ctx, req.ID, []entity.RequestStatus{entity.RequestDraft}, entity.RequestSent, now)
	if err != nil {
		return nil, err
	}
	if !moved {
		return loadRequest(ctx, u.repo, auth, requestID)
	}
	req.Status = entity.RequestSent
	req.UpdatedAt = now

	invited := u.inviter.invite(ctx, req, now)
	u.metrics.IncrementCounter("requests_dispatched", nil)

	u.logger.Info("Signature request dispatched",
		zap.String("request_id", req.ID),
		zap.Int("invited", invited),
	)
	return req, nil
}

func (u *requestUsecase) Get(ctx context.Context, auth entity.AuthContext, requestID string) (*entity.SignatureRequest, error) {
	return loadRequest(ctx, u.repo, auth, requestID)
}

func (u *requestUsecase) List(ctx context.Context, auth entity.AuthContext, limit, offset int) ([]entity.SignatureRequest, error) {
	if auth.BaseID == "" {
		return nil, apperror.NewValidation("base_id", "tenant scope is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	reqs, err := u.repo.List(ctx, auth.BaseID, limit, offset)
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []entity.SignatureRequest{}
	}
	return reqs, nil
}

func (u *requestUsecase) Delete(ctx context.Context, auth entity.AuthContext, requestID string) error {
	req, err := loadRequest(ctx, u.repo, auth, requestID)
	if err != nil {
		return err
	}

	deleted, err := u.repo.Delete(ctx, req.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return &apperror.NotFoundError{Resource: "signature request", ID: requestID}
	}

	tokens := make([]string, 0, len(req.Signers))
	for _, s := range req.Signers {
		tokens = append(tokens, s.AccessToken)
	}
	if err := u.tokens.Delete(ctx, tokens...); err != nil {
		u.logger.Warn("Failed to evict access tokens", zap.String("request_id", req.ID), zap.Error(err))
	}
	return nil
}
