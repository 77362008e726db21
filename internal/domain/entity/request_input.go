package entity

import "time"

// CreateRequestInput is the management payload for a new signature request.
// The source document is either an existing storage reference or base64 content.
type CreateRequestInput struct {
	Title                 string        `json:"title"`
	Message               string        `json:"message"`
	TableID               string        `json:"tableId"`
	DocumentID            string        `json:"documentId"`
	SourceDocument        string        `json:"sourceDocument"`
	SourceDocumentContent string        `json:"sourceDocumentContent"`
	Signers               []SignerInput `json:"signers"`
	Fields                []FieldInput  `json:"fields"`
	ExpiresAt             *time.Time    `json:"expiresAt"`
	LinkedRecordID        string        `json:"linkedRecordId"`
	StatusFieldID         string        `json:"statusFieldId"`
	CompleteValue         string        `json:"completeValue"`
	DeclineValue          string        `json:"declineValue"`
}

// AddSignersInput adds signers to a draft, optionally with fields addressed by signer email.
type AddSignersInput struct {
	Signers []SignerInput `json:"signers"`
	Fields  []FieldInput  `json:"fields"`
}

type AssignFieldsInput struct {
	Fields []FieldInput `json:"fields"`
}

type DeclineInput struct {
	Reason string `json:"reason"`
}

// CreatedRequest is returned once at creation; it is the only response carrying access tokens.
type CreatedRequest struct {
	*SignatureRequest
	IssuedSigners []IssuedSigner `json:"issued_signers"`
}
