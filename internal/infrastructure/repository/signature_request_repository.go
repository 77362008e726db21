package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/domain/repository"
	"signflow/internal/infrastructure/database"
)

const (
	requestColumns = `id, base_id, table_id, document_id, title, message, source_document_ref, document_ref,
		linked_record_id, status_field_id, complete_value, decline_value, status, expires_at, certificate_ref,
		created_by, created_at, updated_at, completed_at`
	signerColumns = `id, request_id, email, name, role, sign_order, position, access_token, status,
		signed_document_ref, decline_reason, viewed_at, signed_at, declined_at, created_at`
	fieldColumns = `id, signer_id, page, x, y, width, height, field_type, label, is_required, order_index,
		font_size, date_layout, value`
)

// requestAcceptsSigners guards signer resolutions on the owning request being open
// and not past its deadline at $2. The share lock serializes it with status transitions.
const requestAcceptsSigners = `EXISTS (
			SELECT 1 FROM signature_requests r
			WHERE r.id = signers.request_id
				AND r.status IN ('sent', 'in_progress')
				AND (r.expires_at IS NULL OR r.expires_at > $2)
			FOR SHARE
		)`

// uniqueViolation is the Postgres error code for a unique constraint violation.
const uniqueViolation = "23505"

type signatureRequestRepository struct {
	db     *database.Database
	logger *zap.Logger
}

func NewSignatureRequestRepository(db *database.Database, logger *zap.Logger) repository.SignatureRequestRepository {
	return &signatureRequestRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanRequest(row rowScanner) (*entity.SignatureRequest, error) {
	var req entity.SignatureRequest
	var expiresAt, completedAt sql.NullTime
	err := row.Scan(
		&req.ID,
		&req.BaseID,
		&req.TableID,
		&req.DocumentID,
		&req.Title,
		&req.Message,
		&req.SourceDocumentRef,
		&req.DocumentRef,
		&req.LinkedRecordID,
		&req.StatusFieldID,
		&req.CompleteValue,
		&req.DeclineValue,
		&req.Status,
		&expiresAt,
		&req.CertificateRef,
		&req.CreatedBy,
		&req.CreatedAt,
		&req.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	req.ExpiresAt = timePtr(expiresAt)
	req.CompletedAt = timePtr(completedAt)
	return &req, nil
}

func scanSigner(row rowScanner) (*entity.Signer, error) {
	var s entity.Signer
	var viewedAt, signedAt, declinedAt sql.NullTime
	err := row.Scan(
		&s.ID,
		&s.RequestID,
		&s.Email,
		&s.Name,
		&s.Role,
		&s.SignOrder,
		&s.Position,
		&s.AccessToken,
		&s.Status,
		&s.SignedDocumentRef,
		&s.DeclineReason,
		&viewedAt,
		&signedAt,
		&declinedAt,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.ViewedAt = timePtr(viewedAt)
	s.SignedAt = timePtr(signedAt)
	s.DeclinedAt = timePtr(declinedAt)
	return &s, nil
}

func scanField(row rowScanner) (*entity.SignatureField, error) {
	var f entity.SignatureField
	var fieldType entity.FieldType
	var fontSize float64
	var layout string
	err := row.Scan(
		&f.ID,
		&f.SignerID,
		&f.Page,
		&f.X,
		&f.Y,
		&f.Width,
		&f.Height,
		&fieldType,
		&f.Label,
		&f.Required,
		&f.OrderIndex,
		&fontSize,
		&layout,
		&f.Value,
	)
	if err != nil {
		return nil, err
	}
	kind, err := entity.KindFor(fieldType, fontSize, layout)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.ID, err)
	}
	f.Kind = kind
	return &f, nil
}

func (r *signatureRequestRepository) Create(ctx context.Context, req *entity.SignatureRequest) error {
	query := `
		INSERT INTO signature_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			req.ID,
			req.BaseID,
			req.TableID,
			req.DocumentID,
			req.Title,
			req.Message,
			req.SourceDocumentRef,
			req.DocumentRef,
			req.LinkedRecordID,
			req.StatusFieldID,
			req.CompleteValue,
			req.DeclineValue,
			req.Status,
			nullTime(req.ExpiresAt),
			req.CertificateRef,
			req.CreatedBy,
			req.CreatedAt,
			req.UpdatedAt,
			nullTime(req.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert signature request: %w", err)
		}

		for i := range req.Signers {
			if err := insertSigner(ctx, tx, &req.Signers[i]); err != nil {
				return err
			}
		}
		for i := range req.Signers {
			if err := insertFields(ctx, tx, req.ID, req.Signers[i].Fields); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("Signature request stored",
		zap.String("request_id", req.ID),
		zap.Int("signers", len(req.Signers)),
	)
	return nil
}

func insertSigner(ctx context.Context, tx *sql.Tx, s *entity.Signer) error {
	query := `
		INSERT INTO signers (` + signerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := tx.ExecContext(ctx, query,
		s.ID,
		s.RequestID,
		s.Email,
		s.Name,
		s.Role,
		s.SignOrder,
		s.Position,
		s.AccessToken,
		s.Status,
		s.SignedDocumentRef,
		s.DeclineReason,
		nullTime(s.ViewedAt),
		nullTime(s.SignedAt),
		nullTime(s.DeclinedAt),
		s.CreatedAt,
	)
	if isUniqueViolation(err) {
		return &apperror.DuplicateSignerError{Email: s.Email}
	}
	if err != nil {
		return fmt.Errorf("failed to insert signer: %w", err)
	}
	return nil
}

func insertFields(ctx context.Context, tx *sql.Tx, requestID string, fields []entity.SignatureField) error {
	query := `
		INSERT INTO signature_fields (request_id, ` + fieldColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	for _, f := range fields {
		_, err := tx.ExecContext(ctx, query,
			requestID,
			f.ID,
			f.SignerID,
			f.Page,
			f.X,
			f.Y,
			f.Width,
			f.Height,
			f.Kind.Type(),
			f.Label,
			f.Required,
			f.OrderIndex,
			entity.FontSizeOf(f.Kind),
			entity.LayoutOf(f.Kind),
			f.Value,
		)
		if err != nil {
			return fmt.Errorf("failed to insert field %s: %w", f.ID, err)
		}
	}
	return nil
}

func (r *signatureRequestRepository) FindByID(ctx context.Context, id string) (*entity.SignatureRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM signature_requests WHERE id = $1`

	req, err := scanRequest(r.db.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil // Not found, return nil without error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find signature request: %w", err)
	}

	reqs := []entity.SignatureRequest{*req}
	if err := r.loadSigners(ctx, reqs); err != nil {
		return nil, err
	}
	return &reqs[0], nil
}

func (r *signatureRequestRepository) List(ctx context.Context, baseID string, limit, offset int) ([]entity.SignatureRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM signature_requests
		WHERE base_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.DB.QueryContext(ctx, query, baseID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list signature requests: %w", err)
	}
	defer rows.Close()

	var reqs []entity.SignatureRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signature request: %w", err)
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate signature requests: %w", err)
	}

	if len(reqs) == 0 {
		return reqs, nil
	}
	if err := r.loadSigners(ctx, reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// loadSigners attaches signers and their fields to reqs with two queries.
func (r *signatureRequestRepository) loadSigners(ctx context.Context, reqs []entity.SignatureRequest) error {
	ids := make([]string, len(reqs))
	byRequest := make(map[string]*entity.SignatureRequest, len(reqs))
	for i := range reqs {
		ids[i] = reqs[i].ID
		reqs[i].Signers = []entity.Signer{}
		byRequest[reqs[i].ID] = &reqs[i]
	}

	signerQuery := `
		SELECT ` + signerColumns + `
		FROM signers
		WHERE request_id = ANY($1)
		ORDER BY request_id, position
	`
	rows, err := r.db.DB.QueryContext(ctx, signerQuery, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load signers: %w", err)
	}
	for rows.Next() {
		s, err := scanSigner(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan signer: %w", err)
		}
		s.Fields = []entity.SignatureField{}
		req := byRequest[s.RequestID]
		req.Signers = append(req.Signers, *s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate signers: %w", err)
	}
	rows.Close()

	signers := make(map[string]*entity.Signer)
	for i := range reqs {
		for j := range reqs[i].Signers {
			signers[reqs[i].Signers[j].ID] = &reqs[i].Signers[j]
		}
	}

	fieldQuery := `
		SELECT ` + fieldColumns + `
		FROM signature_fields
		WHERE request_id = ANY($1)
		ORDER BY order_index, id
	`
	rows, err = r.db.DB.QueryContext(ctx, fieldQuery, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load fields: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return fmt.Errorf("failed to scan field: %w", err)
		}
		if s, ok := signers[f.SignerID]; ok {
			s.Fields = append(s.Fields, *f)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate fields: %w", err)
	}
	return nil
}

func (r *signatureRequestRepository) FindSignerByToken(ctx context.Context, token string) (*entity.Signer, error) {
	query := `SELECT ` + signerColumns + ` FROM signers WHERE access_token = $1`

	s, err := scanSigner(r.db.DB.QueryRowContext(ctx, query, token))
	if err == sql.ErrNoRows {
		return nil, nil // Not found, return nil without error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find signer by token: %w", err)
	}
	return s, nil
}

// lockDraft locks the request row and reports whether it is still a draft.
func lockDraft(ctx context.Context, tx *sql.Tx, requestID string) (bool, error) {
	var status entity.RequestStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM signature_requests WHERE id = $1 FOR UPDATE`, requestID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock signature request: %w", err)
	}
	return status == entity.RequestDraft, nil
}

func (r *signatureRequestRepository) AddSigners(ctx context.Context, requestID string, signers []entity.Signer) (bool, error) {
	added := false
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		draft, err := lockDraft(ctx, tx, requestID)
		if err != nil || !draft {
			return err
		}
		for i := range signers {
			if err := insertSigner(ctx, tx, &signers[i]); err != nil {
				return err
			}
		}
		for i := range signers {
			if err := insertFields(ctx, tx, requestID, signers[i].Fields); err != nil {
				return err
			}
		}
		added = true
		return nil
	})
	return added, err
}

func (r *signatureRequestRepository) AddFields(ctx context.Context, requestID string, fields []entity.SignatureField) (bool, error) {
	added := false
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		draft, err := lockDraft(ctx, tx, requestID)
		if err != nil || !draft {
			return err
		}
		if err := insertFields(ctx, tx, requestID, fields); err != nil {
			return err
		}
		added = true
		return nil
	})
	return added, err
}

func (r *signatureRequestRepository) TransitionStatus(ctx context.Context, id string, from []entity.RequestStatus, to entity.RequestStatus, at time.Time) (bool, error) {
	query := `
		UPDATE signature_requests
		SET status = $1, updated_at = $2, completed_at = COALESCE($3, completed_at)
		WHERE id = $4 AND status = ANY($5)
	`

	var completedAt sql.NullTime
	if to == entity.RequestCompleted {
		completedAt = sql.NullTime{Time: at, Valid: true}
	}

	res, err := r.db.DB.ExecContext(ctx, query, to, at, completedAt, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to transition signature request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *signatureRequestRepository) UpdateSignerStatus(ctx context.Context, signerID string, from []entity.SignerStatus, to entity.SignerStatus, at time.Time) (bool, error) {
	query := `
		UPDATE signers
		SET status = $1, viewed_at = COALESCE(viewed_at, $2)
		WHERE id = $3 AND status = ANY($4)
	`

	var viewedAt sql.NullTime
	if to == entity.SignerViewed {
		viewedAt = sql.NullTime{Time: at, Valid: true}
	}

	res, err := r.db.DB.ExecContext(ctx, query, to, viewedAt, signerID, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to update signer status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *signatureRequestRepository) MarkSignerSigned(ctx context.Context, signerID, signedDocumentRef string, values map[string]string, at time.Time) (bool, error) {
	signQuery := `
		UPDATE signers
		SET status = 'signed', signed_document_ref = $1, signed_at = $2
		WHERE id = $3 AND status NOT IN ('signed', 'declined') AND ` + requestAcceptsSigners + `
	`
	valueQuery := `UPDATE signature_fields SET value = $1 WHERE id = $2 AND signer_id = $3`

	fieldIDs := make([]string, 0, len(values))
	for id := range values {
		fieldIDs = append(fieldIDs, id)
	}
	sort.Strings(fieldIDs)

	signed := false
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, signQuery, signedDocumentRef, at, signerID)
		if err != nil {
			return fmt.Errorf("failed to mark signer signed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return nil
		}
		for _, id := range fieldIDs {
			if _, err := tx.ExecContext(ctx, valueQuery, values[id], id, signerID); err != nil {
				return fmt.Errorf("failed to store field value: %w", err)
			}
		}
		signed = true
		return nil
	})
	return signed, err
}

func (r *signatureRequestRepository) MarkSignerDeclined(ctx context.Context, signerID, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE signers
		SET status = 'declined', decline_reason = $1, declined_at = $2
		WHERE id = $3 AND status NOT IN ('signed', 'declined') AND ` + requestAcceptsSigners + `
	`
	res, err := r.db.DB.ExecContext(ctx, query, reason, at, signerID)
	if err != nil {
		return false, fmt.Errorf("failed to mark signer declined: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *signatureRequestRepository) SetCompletionArtifacts(ctx context.Context, id, documentRef, certificateRef string) error {
	query := `
		UPDATE signature_requests
		SET document_ref = $1, certificate_ref = $2, updated_at = $3
		WHERE id = $4 AND status = 'completed'
	`
	res, err := r.db.DB.ExecContext(ctx, query, documentRef, certificateRef, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set completion artifacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &apperror.RequestClosedError{RequestID: id, Status: "not completed"}
	}
	return nil
}

func (r *signatureRequestRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM signature_requests
		WHERE status IN ('sent', 'in_progress') AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`
	rows, err := r.db.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expirable requests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan request id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *signatureRequestRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.DB.ExecContext(ctx, `DELETE FROM signature_requests WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete signature request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		r.logger.Info("Signature request deleted", zap.String("request_id", id))
	}
	return n > 0, nil
}
