package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"signflow/internal/config"
	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/domain/repository"
	"signflow/internal/infrastructure/metrics"
	"signflow/internal/infrastructure/notification"
	"signflow/internal/infrastructure/pdf"
	"signflow/internal/infrastructure/storage"
)

// CompletionUsecase derives request status from signer states and runs the
// completion side effects exactly once per request.
type CompletionUsecase interface {
	// EvaluateCompletion is idempotent and safe to call concurrently for the same request.
	EvaluateCompletion(ctx context.Context, auth entity.AuthContext, requestID string) (entity.RequestStatus, error)
	// Expire moves an open request past its deadline to expired. Other requests are returned unchanged.
	Expire(ctx context.Context, auth entity.AuthContext, requestID string) (*entity.SignatureRequest, error)
	ExpireOverdue(ctx context.Context, limit int) (int, error)
	// Finalize regenerates the final document and certificate of a completed request that lacks them.
	Finalize(ctx context.Context, auth entity.AuthContext, requestID string) (*entity.SignatureRequest, error)
}

type completionUsecase struct {
	config      *config.Config
	repo        repository.SignatureRequestRepository
	tokens      repository.TokenCache
	store       storage.BlobStore
	merger      pdf.Merger
	certificate pdf.CertificateRenderer
	versions    VersionUsecase
	propagator  StatusPropagator
	events      EventPublisher
	inviter     *inviter
	metrics     *metrics.Collector
	logger      *zap.Logger
	now         func() time.Time
}

func NewCompletionUsecase(
	cfg *config.Config,
	repo repository.SignatureRequestRepository,
	tokens repository.TokenCache,
	store storage.BlobStore,
	merger pdf.Merger,
	certificate pdf.CertificateRenderer,
	versions VersionUsecase,
	propagator StatusPropagator,
	events EventPublisher,
	notifier notification.Notifier,
	mc *metrics.Collector,
	logger *zap.Logger,
) CompletionUsecase {
	return &completionUsecase{
		config:      cfg,
		repo:        repo,
		tokens:      tokens,
		store:       store,
		merger:      merger,
		certificate: certificate,
		versions:    versions,
		propagator:  propagator,
		events:      events,
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

func (u *completionUsecase) EvaluateCompletion(ctx context.Context, auth entity.AuthContext, requestID string) (entity.RequestStatus, error) {
	req, err := loadRequest(ctx, u.repo, auth, requestID)
	if err != nil {
		return "", err
	}
	if req.Status == entity.RequestDraft || req.Status.IsTerminal() {
		return req.Status, nil
	}

	now := u.now()
	if req.IsPastDeadline(now) {
		if _, err := u.expire(ctx, req, now); err != nil {
			return "", err
		}
		return u.currentStatus(ctx, requestID)
	}

	target := req.DeriveStatus()
	switch target {
	case entity.RequestCompleted:
		won, err := u.repo.TransitionStatus(ctx, req.ID, entity.SourcesOf(entity.RequestCompleted), entity.RequestCompleted, now)
		if err != nil {
			return "", err
		}
		if !won {
			return u.currentStatus(ctx, requestID)
		}
		req.Status = entity.RequestCompleted
		req.CompletedAt = &now
		u.complete(ctx, req, now)
		return entity.RequestCompleted, nil

	case entity.RequestDeclined:
		won, err := u.repo.TransitionStatus(ctx, req.ID, entity.SourcesOf(entity.RequestDeclined), entity.RequestDeclined, now)
		if err != nil {
			return "", err
		}
		if !won {
			return u.currentStatus(ctx, requestID)
		}
		req.Status = entity.RequestDeclined
		u.resolve(ctx, req, entity.EventRequestDeclined)
		return entity.RequestDeclined, nil

	case entity.RequestInProgress:
		if req.Status == entity.RequestSent {
			moved, err := u.repo.TransitionStatus(ctx, req.ID, []entity.RequestStatus{entity.RequestSent}, entity.RequestInProgress, now)
			if err != nil {
				return "", err
			}
			if !moved {
				return u.currentStatus(ctx, requestID)
			}
			req.Status = entity.RequestInProgress
			u.logger.Info("Signature request in progress", zap.String("request_id", req.ID))
		}
	}

	if u.config.Signing.EnforceSignOrder {
		if n := u.inviter.invite(ctx, req, now); n > 0 {
			u.logger.Info("Next signing tier unlocked",
				zap.String("request_id", req.ID),
				zap.Int("tier", req.OpenTier()),
				zap.Int("invited", n),
			)
		}
	}
	return req.Status, nil
}

func (u *completionUsecase) currentStatus(ctx context.Context, requestID string) (entity.RequestStatus, error) {
	req, err := u.repo.FindByID(ctx, requestID)
	if err != nil {
		return "", err
	}
	if req == nil {
		return "", &apperror.NotFoundError{Resource: "signature request", ID: requestID}
	}
	return req.Status, nil
}

// complete runs once, in the caller that won the transition into completed.
// Artifact failures are logged; the request stays completed and Finalize can retry them.
func (u *completionUsecase) complete(ctx context.Context, req *entity.SignatureRequest, at time.Time) {
	start := time.Now()
	defer u.metrics.Since("completion", start)

	u.logger.Info("Signature request completed",
		zap.String("request_id", req.ID),
		zap.Int("signed_copies", len(req.SignedDocumentRefs())),
	)

	if err := u.generateArtifacts(ctx, req, at); err != nil {
		u.metrics.IncrementCounter("completion_artifact_failures", nil)
		u.logger.Error("Failed to generate completion artifacts",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}

	u.resolve(ctx, req, entity.EventRequestCompleted)
}

// resolve performs the side effects shared by every resolution that propagates.
func (u *completionUsecase) resolve(ctx context.Context, req *entity.SignatureRequest, event entity.EventType) {
	if err := u.propagator.Propagate(ctx, req); err != nil {
		u.logger.Warn("Status propagation failed",
			zap.String("request_id", req.ID),
			zap.String("code", apperror.CodeOf(err)),
			zap.Error(err),
		)
	}
	u.events.Publish(ctx, event, req, "")
	u.evictTokens(ctx, req)
	u.metrics.IncrementCounter("requests_resolved", map[string]string{"status": string(req.Status)})
}

func (u *completionUsecase) evictTokens(ctx context.Context, req *entity.SignatureRequest) {
	tokens := make([]string, 0, len(req.Signers))
	for _, s := range req.Signers {
		tokens = append(tokens, s.AccessToken)
	}
	if err := u.tokens.Delete(ctx, tokens...); err != nil {
		u.logger.Warn("Failed to evict access tokens", zap.String("request_id", req.ID), zap.Error(err))
	}
}

// finalDocument returns the final artifact: the only signed copy as-is, or the
// signed copies concatenated in signer order.
func (u *completionUsecase) finalDocument(ctx context.Context, req *entity.SignatureRequest) (string, []byte, error) {
	refs := req.SignedDocumentRefs()
	if len(refs) == 0 {
		refs = []string{req.SourceDocumentRef}
	}

	docs := make([][]byte, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			content, err := u.store.Read(gctx, ref)
			if err != nil {
				return fmt.Errorf("failed to read signed copy %s: %w", ref, err)
			}
			docs[i] = content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	if len(docs) == 1 {
		return refs[0], docs[0], nil
	}

	merged, err := u.merger.Merge(ctx, docs)
	if err != nil {
		return "", nil, fmt.Errorf("failed to merge signed copies: %w", err)
	}
	ref, err := u.store.Write(ctx, storage.AreaFinal, "pdf", merged)
	if err != nil {
		return "", nil, err
	}
	return ref, merged, nil
}

func (u *completionUsecase) generateArtifacts(ctx context.Context, req *entity.SignatureRequest, at time.Time) error {
	docRef, content, err := u.finalDocument(ctx, req)
	if err != nil {
		return err
	}
	req.DocumentRef = docRef

	sum := sha256.Sum256(content)
	cert := entity.NewCompletionCertificate(req, at, hex.EncodeToString(sum[:]))
	rendered, err := u.certificate.Render(cert)
	if err != nil {
		return fmt.Errorf("failed to render certificate: %w", err)
	}
	certRef, err := u.store.Write(ctx, storage.AreaCertificate, "pdf", rendered)
	if err != nil {
		return err
	}

	if err := u.repo.SetCompletionArtifacts(ctx, req.ID, docRef, certRef); err != nil {
		return err
	}
	req.CertificateRef = certRef

	u.logger.Info("Completion artifacts stored",
		zap.String("request_id", req.ID),
		zap.String("document", docRef),
		zap.String("certificate", certRef),
	)

	if req.DocumentID != "" {
		if _, err := u.versions.Record(ctx, req.BaseID, req.DocumentID, docRef, req.CreatedBy, "Signed: "+req.Title); err != nil {
			return fmt.Errorf("failed to record signed version: %w", err)
		}
	}
	return nil
}

func (u *completionUsecase) expire(ctx context.Context, req *entity.SignatureRequest, now time.Time) (bool, error) {
	if !req.Status.IsOpen() || !req.IsPastDeadline(now) {
		return false, nil
	}
	won, err := u.repo.TransitionStatus(ctx, req.ID, entity.SourcesOf(entity.RequestExpired), entity.RequestExpired, now)
	if err != nil || !won {
		return false, err
	}
	req.Status = entity.RequestExpired
	req.UpdatedAt = now

	u.events.Publish(ctx, entity.EventRequestExpired, req, "")
	u.evictTokens(ctx, req)
	u.metrics.IncrementCounter("requests_resolved", map[string]string{"status": string(entity.RequestExpired)})
	u.logger.Info("Signature request expired", zap.String("request_id", req.ID))
	return true, nil
}

func (u *completionUsecase) Expire(ctx context.Context, auth entity.AuthContext, requestID string) (*entity.SignatureRequest, error) {
	req, err := loadRequest(ctx, u.repo, auth, requestID)
	if err != nil {
		return nil, err
	}
	expired, err := u.expire(ctx, req, u.now())
	if err != nil {
		return nil, err
	}
	if !expired && req.Status.IsOpen() {
		// Lost the race or not yet due; report the stored state.
		return loadRequest(ctx, u.repo, auth, requestID)
	}
	return req, nil
}

func (u *completionUsecase) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	ids, err := u.repo.ListExpirable(ctx, u.now(), limit)
	if err != nil {
		return 0, err
	}

	var errs error
	expired := 0
	for _, id := range ids {
		req, err := u.Expire(ctx, entity.SystemAuth(), id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("request %s: %w", id, err))
			continue
		}
		if req.Status == entity.RequestExpired {
			expired++
		}
	}
	return expired, errs
}

func (u *completionUsecase) Finalize(ctx context.Context, auth entity.AuthContext, requestID string) (*entity.SignatureRequest, error) {
	req, err := loadRequest(ctx, u.repo, auth, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != entity.RequestCompleted {
		return nil, &apperror.RequestClosedError{RequestID: req.ID, Status: string(req.Status)}
	}
	if req.CertificateRef != "" {
		return req, nil
	}

	at := u.now()
	if req.CompletedAt != nil {
		at = *req.CompletedAt
	}
	if err := u.generateArtifacts(ctx, req, at); err != nil {
		u.logger.Error("Failed to finalize signature request",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
		return nil, err
	}
	return req, nil
}
