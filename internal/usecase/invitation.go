package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/domain/entity"
	"signflow/internal/domain/repository"
	"signflow/internal/infrastructure/notification"
)

// inviter moves pending signers to sent and hands their invitations to the notifier.
type inviter struct {
	config   *config.Config
	repo     repository.SignatureRequestRepository
	notifier notification.Notifier
	logger   *zap.Logger
}

func signingLink(cfg *config.Config, token string) string {
	return strings.TrimRight(cfg.App.BaseURL, "/") + "/sign/" + token
}

// invitable returns the pending signers that may be notified now.
func (i *inviter) invitable(req *entity.SignatureRequest) []entity.Signer {
	var out []entity.Signer
	for _, s := range req.OrderedSigners() {
		if s.Status != entity.SignerPending {
			continue
		}
		if i.config.Signing.EnforceSignOrder && !req.IsUnlocked(&s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// invite returns the number of signers that were moved to sent.
func (i *inviter) invite(ctx context.Context, req *entity.SignatureRequest, now time.Time) int {
	var messages []notification.Message
	for _, s := range i.invitable(req) {
		moved, err := i.repo.UpdateSignerStatus(ctx, s.ID, []entity.SignerStatus{entity.SignerPending}, entity.SignerSent, now)
		if err != nil {
			i.logger.Error("Failed to mark signer as sent",
				zap.String("request_id", req.ID),
				zap.String("signer_id", s.ID),
				zap.Error(err),
			)
			continue
		}
		if !moved {
			continue
		}
		if signer := req.FindSigner(s.ID); signer != nil {
			signer.Status = entity.SignerSent
		}
		messages = append(messages, i.message(req, s))
	}

	if len(messages) == 0 {
		return 0
	}
	if err := i.notifier.Notify(ctx, messages); err != nil {
		i.logger.Warn("Failed to notify some signers",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}
	return len(messages)
}

func (i *inviter) message(req *entity.SignatureRequest, s entity.Signer) notification.Message {
	subject := fmt.Sprintf("Please sign: %s", req.Title)
	if s.Role == entity.RoleViewer {
		subject = fmt.Sprintf("Document shared with you: %s", req.Title)
	}
	body := req.Message
	if body == "" {
		body = fmt.Sprintf("You have been asked to review %q.", req.Title)
	}
	return notification.Message{
		To:        s.Email,
		Name:      s.Name,
		Subject:   subject,
		Body:      body,
		Link:      signingLink(i.config, s.AccessToken),
		RequestID: req.ID,
		BaseID:    req.BaseID,
	}
}
