package entity

import (
	"strings"
	"time"
)

type SignerRole string

const (
	RoleSigner   SignerRole = "signer"
	RoleViewer   SignerRole = "viewer"
	RoleApprover SignerRole = "approver"
)

func (r SignerRole) IsValid() bool {
	return r == RoleSigner || r == RoleViewer || r == RoleApprover
}

// CanSign reports whether the role may reach signed or declined. Viewers stop at viewed.
func (r SignerRole) CanSign() bool {
	return r == RoleSigner || r == RoleApprover
}

type SignerStatus string

const (
	SignerPending  SignerStatus = "pending"
	SignerSent     SignerStatus = "sent"
	SignerViewed   SignerStatus = "viewed"
	SignerSigned   SignerStatus = "signed"
	SignerDeclined SignerStatus = "declined"
)

// IsResolved reports whether the signer has finished acting.
func (s SignerStatus) IsResolved() bool {
	return s == SignerSigned || s == SignerDeclined
}

// IsEngaged reports whether the signer has opened or acted on the request.
func (s SignerStatus) IsEngaged() bool {
	return s == SignerViewed || s.IsResolved()
}

type Signer struct {
	ID                string           `json:"id"`
	RequestID         string           `json:"request_id"`
	Email             string           `json:"email"`
	Name              string           `json:"name"`
	Role              SignerRole       `json:"role"`
	SignOrder         int              `json:"sign_order"`
	Position          int              `json:"-"` // Insertion order within the request
	AccessToken       string           `json:"-"`
	Status            SignerStatus     `json:"status"`
	SignedDocumentRef string           `json:"signed_document,omitempty"`
	DeclineReason     string           `json:"decline_reason,omitempty"`
	ViewedAt          *time.Time       `json:"viewed_at,omitempty"`
	SignedAt          *time.Time       `json:"signed_at,omitempty"`
	DeclinedAt        *time.Time       `json:"declined_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	Fields            []SignatureField `json:"fields"`
}

// IssuedSigner is returned once at creation time and carries the access token.
type IssuedSigner struct {
	Signer
	AccessToken string `json:"access_token"`
	SigningURL  string `json:"signing_url,omitempty"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignerInput is the caller-supplied part of a new signer.
type SignerInput struct {
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      SignerRole `json:"role"`
	SignOrder int        `json:"sign_order"`
}

// SigningSession is what a token holder sees on the public signing surface.
type SigningSession struct {
	Signer        Signer           `json:"signer"`
	Request       RequestSummary   `json:"request"`
	Fields        []SignatureField `json:"fields"`
	DocumentURL   string           `json:"documentUrl"`
	AlreadySigned bool             `json:"alreadySigned"`
}

// Submission carries the values a signer entered.
type Submission struct {
	SignatureData map[string]string `json:"signatureData"` // field id -> image payload
	FieldValues   map[string]string `json:"fieldValues"`   // field id -> text value
}

// ValueFor returns the submitted value of field, preferring signature data for signature fields.
func (s *Submission) ValueFor(field *SignatureField) string {
	if field.Kind.Type() == FieldSignature {
		if v := strings.TrimSpace(s.SignatureData[field.ID]); v != "" {
			return v
		}
	}
	return strings.TrimSpace(s.FieldValues[field.ID])
}

type SubmitResult struct {
	Success            bool          `json:"success"`
	SignedDocumentPath string        `json:"signedDocumentPath"`
	RequestStatus      RequestStatus `json:"requestStatus"`
}
