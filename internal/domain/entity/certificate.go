package entity

import "time"

// CompletionCertificate summarises who signed a completed request and when.
type CompletionCertificate struct {
	RequestID    string              `json:"request_id"`
	Title        string              `json:"title"`
	CompletedAt  time.Time           `json:"completed_at"`
	DocumentRef  string              `json:"document"`
	DocumentHash string              `json:"document_sha256"`
	Participants []CertificateSigner `json:"signers"`
	StorageRef   string              `json:"storage_ref,omitempty"`
}

type CertificateSigner struct {
	Name     string       `json:"name"`
	Email    string       `json:"email"`
	Role     SignerRole   `json:"role"`
	Status   SignerStatus `json:"status"`
	SignedAt *time.Time   `json:"signed_at,omitempty"`
}

// NewCompletionCertificate lists signers in signer order.
func NewCompletionCertificate(req *SignatureRequest, completedAt time.Time, documentHash string) *CompletionCertificate {
	cert := &CompletionCertificate{
		RequestID:    req.ID,
		Title:        req.Title,
		CompletedAt:  completedAt,
		DocumentRef:  req.DocumentRef,
		DocumentHash: documentHash,
	}
	for _, s := range req.OrderedSigners() {
		cert.Participants = append(cert.Participants, CertificateSigner{
			Name:     s.Name,
			Email:    s.Email,
			Role:     s.Role,
			Status:   s.Status,
			SignedAt: s.SignedAt,
		})
	}
	return cert
}
