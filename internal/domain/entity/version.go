package entity

import "time"

// SignatureVersion is an immutable, numbered snapshot of a document identity.
// Lineages are owned by a tenant; exactly one version per lineage is current.
type SignatureVersion struct {
	ID         string    `json:"id"`
	BaseID     string    `json:"base_id"`
	DocumentID string    `json:"document_id"`
	Version    int       `json:"version"`
	StorageRef string    `json:"storage_ref"`
	CreatedBy  string    `json:"created_by"`
	Note       string    `json:"note,omitempty"`
	IsCurrent  bool      `json:"is_current"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateVersionRequest is the management payload for a new version.
// Content is the base64 encoded document.
type CreateVersionRequest struct {
	Content string `json:"document"`
	Note    string `json:"note"`
}
