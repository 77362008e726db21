package entity

import (
	"sort"
	"time"
)

type RequestStatus string

const (
	RequestDraft      RequestStatus = "draft"
	RequestSent       RequestStatus = "sent"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestDeclined   RequestStatus = "declined"
	RequestExpired    RequestStatus = "expired"
)

// requestTransitions is the forward-only transition graph of a request.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestDraft:      {RequestSent},
	RequestSent:       {RequestInProgress, RequestCompleted, RequestDeclined, RequestExpired},
	RequestInProgress: {RequestCompleted, RequestDeclined, RequestExpired},
}

// IsTerminal reports whether no further transition is possible.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestCompleted || s == RequestDeclined || s == RequestExpired
}

// IsOpen reports whether signers may act on the request.
func (s RequestStatus) IsOpen() bool {
	return s == RequestSent || s == RequestInProgress
}

// CanTransitionTo reports whether to is reachable from s in one step.
func (s RequestStatus) CanTransitionTo(to RequestStatus) bool {
	for _, next := range requestTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status that may move directly into to.
func SourcesOf(to RequestStatus) []RequestStatus {
	var from []RequestStatus
	for _, s := range []RequestStatus{RequestDraft, RequestSent, RequestInProgress} {
		if s.CanTransitionTo(to) {
			from = append(from, s)
		}
	}
	return from
}

// SignatureRequest is the aggregate root: it owns its signers, which own their fields.
// The linked record is a weak reference resolved through the records API.
type SignatureRequest struct {
	ID                string        `json:"id"`
	BaseID            string        `json:"base_id"`
	TableID           string        `json:"table_id,omitempty"`
	DocumentID        string        `json:"document_id,omitempty"` // Version lineage identity
	Title             string        `json:"title"`
	Message           string        `json:"message,omitempty"`
	SourceDocumentRef string        `json:"source_document"`
	DocumentRef       string        `json:"document"` // Final document once completed
	LinkedRecordID    string        `json:"linked_record_id,omitempty"`
	StatusFieldID     string        `json:"status_field_id,omitempty"`
	CompleteValue     string        `json:"complete_value,omitempty"`
	DeclineValue      string        `json:"decline_value,omitempty"`
	Status            RequestStatus `json:"status"`
	ExpiresAt         *time.Time    `json:"expires_at,omitempty"`
	CertificateRef    string        `json:"completion_certificate,omitempty"`
	CreatedBy         string        `json:"created_by,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	Signers           []Signer      `json:"signers"`
}

// IsPastDeadline reports whether the deadline has passed at now.
func (r *SignatureRequest) IsPastDeadline(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// HasPropagationTarget reports whether status should be written back to a record.
func (r *SignatureRequest) HasPropagationTarget() bool {
	return r.LinkedRecordID != "" && r.StatusFieldID != ""
}

// FindSigner returns the signer with id, or nil.
func (r *SignatureRequest) FindSigner(id string) *Signer {
	for i := range r.Signers {
		if r.Signers[i].ID == id {
			return &r.Signers[i]
		}
	}
	return nil
}

// FindSignerByEmail matches emails case-insensitively.
func (r *SignatureRequest) FindSignerByEmail(email string) *Signer {
	email = NormalizeEmail(email)
	for i := range r.Signers {
		if r.Signers[i].Email == email {
			return &r.Signers[i]
		}
	}
	return nil
}

// OrderedSigners returns signers by sign_order then creation position.
func (r *SignatureRequest) OrderedSigners() []Signer {
	out := make([]Signer, len(r.Signers))
	copy(out, r.Signers)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SignOrder != out[j].SignOrder {
			return out[i].SignOrder < out[j].SignOrder
		}
		return out[i].Position < out[j].Position
	})
	return out
}

// ActingSigners returns signers whose role can sign or decline.
func (r *SignatureRequest) ActingSigners() []Signer {
	var out []Signer
	for _, s := range r.Signers {
		if s.Role.CanSign() {
			out = append(out, s)
		}
	}
	return out
}

// DeriveStatus applies the completion rules to the current signer states.
// It never moves a request backwards: terminal and draft requests are returned unchanged.
func (r *SignatureRequest) DeriveStatus() RequestStatus {
	if r.Status.IsTerminal() || r.Status == RequestDraft {
		return r.Status
	}

	acting := 0
	signed := 0
	engaged := false
	for _, s := range r.Signers {
		if s.Status == SignerDeclined {
			return RequestDeclined
		}
		if s.Status.IsEngaged() {
			engaged = true
		}
		if !s.Role.CanSign() {
			continue
		}
		acting++
		if s.Status == SignerSigned {
			signed++
		}
	}

	if acting > 0 && signed == acting {
		return RequestCompleted
	}
	if engaged {
		return RequestInProgress
	}
	return r.Status
}

// OpenTier returns the lowest sign_order tier above zero that still has
// unresolved acting signers. Zero means every ordered tier is resolved.
func (r *SignatureRequest) OpenTier() int {
	open := 0
	for _, s := range r.Signers {
		if s.SignOrder <= 0 || !s.Role.CanSign() || s.Status.IsResolved() {
			continue
		}
		if open == 0 || s.SignOrder < open {
			open = s.SignOrder
		}
	}
	return open
}

// IsUnlocked reports whether signer may act under tier gating.
func (r *SignatureRequest) IsUnlocked(signer *Signer) bool {
	if signer.SignOrder <= 0 {
		return true
	}
	open := r.OpenTier()
	return open == 0 || signer.SignOrder <= open
}

// SignedDocumentRefs returns the produced signed copies in signer order.
func (r *SignatureRequest) SignedDocumentRefs() []string {
	var refs []string
	for _, s := range r.OrderedSigners() {
		if s.SignedDocumentRef != "" {
			refs = append(refs, s.SignedDocumentRef)
		}
	}
	return refs
}

// RequestSummary is the request view exposed on the public signing surface.
type RequestSummary struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Message   string        `json:"message,omitempty"`
	Status    RequestStatus `json:"status"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

func (r *SignatureRequest) Summary() RequestSummary {
	return RequestSummary{
		ID:        r.ID,
		Title:     r.Title,
		Message:   r.Message,
		Status:    r.Status,
		ExpiresAt: r.ExpiresAt,
	}
}
