package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"signature_requests", `
	CREATE TABLE IF NOT EXISTS signature_requests (
		id VARCHAR(64) PRIMARY KEY,
		base_id VARCHAR(64) NOT NULL,
		table_id VARCHAR(64) DEFAULT '',
		document_id VARCHAR(64) DEFAULT '',
		title VARCHAR(255) NOT NULL,
		message TEXT DEFAULT '',
		source_document_ref TEXT NOT NULL,
		document_ref TEXT DEFAULT '',
		linked_record_id VARCHAR(64) DEFAULT '',
		status_field_id VARCHAR(64) DEFAULT '',
		complete_value TEXT DEFAULT '',
		decline_value TEXT DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'draft',
		expires_at TIMESTAMPTZ,
		certificate_ref TEXT DEFAULT '',
		created_by VARCHAR(255) DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMPTZ
	);`},
	{"idx_signature_requests_base", `CREATE INDEX IF NOT EXISTS idx_signature_requests_base ON signature_requests(base_id, created_at DESC);`},
	{"idx_signature_requests_expiry", `CREATE INDEX IF NOT EXISTS idx_signature_requests_expiry ON signature_requests(status, expires_at);`},
	{"signers", `
	CREATE TABLE IF NOT EXISTS signers (
		id VARCHAR(64) PRIMARY KEY,
		request_id VARCHAR(64) NOT NULL REFERENCES signature_requests(id) ON DELETE CASCADE,
		email VARCHAR(255) NOT NULL,
		name VARCHAR(255) DEFAULT '',
		role VARCHAR(20) NOT NULL DEFAULT 'signer',
		sign_order INT NOT NULL DEFAULT 0,
		position INT NOT NULL DEFAULT 0,
		access_token VARCHAR(128) NOT NULL UNIQUE,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		signed_document_ref TEXT DEFAULT '',
		decline_reason TEXT DEFAULT '',
		viewed_at TIMESTAMPTZ,
		signed_at TIMESTAMPTZ,
		declined_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (request_id, email)
	);`},
	{"signature_fields", `
	CREATE TABLE IF NOT EXISTS signature_fields (
		id VARCHAR(64) PRIMARY KEY,
		request_id VARCHAR(64) NOT NULL REFERENCES signature_requests(id) ON DELETE CASCADE,
		signer_id VARCHAR(64) NOT NULL REFERENCES signers(id) ON DELETE CASCADE,
		page INT NOT NULL,
		x DOUBLE PRECISION NOT NULL,
		y DOUBLE PRECISION NOT NULL,
		width DOUBLE PRECISION NOT NULL,
		height DOUBLE PRECISION NOT NULL,
		field_type VARCHAR(20) NOT NULL,
		label VARCHAR(255) DEFAULT '',
		is_required BOOLEAN NOT NULL DEFAULT FALSE,
		order_index INT NOT NULL DEFAULT 0,
		font_size DOUBLE PRECISION NOT NULL DEFAULT 0,
		date_layout VARCHAR(64) DEFAULT '',
		value TEXT DEFAULT ''
	);`},
	{"idx_signature_fields_signer", `CREATE INDEX IF NOT EXISTS idx_signature_fields_signer ON signature_fields(signer_id);`},
	{"signature_versions", `
	CREATE TABLE IF NOT EXISTS signature_versions (
		id VARCHAR(64) PRIMARY KEY,
		base_id VARCHAR(64) NOT NULL,
		document_id VARCHAR(64) NOT NULL,
		version INT NOT NULL,
		storage_ref TEXT NOT NULL,
		created_by VARCHAR(255) DEFAULT '',
		note TEXT DEFAULT '',
		is_current BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (base_id, document_id, version)
	);`},
	{"idx_signature_versions_current", `CREATE UNIQUE INDEX IF NOT EXISTS idx_signature_versions_current ON signature_versions(base_id, document_id) WHERE is_current;`},
	{"api_logs", `
	CREATE TABLE IF NOT EXISTS api_logs (
		id BIGSERIAL PRIMARY KEY,
		target VARCHAR(50) NOT NULL,
		endpoint TEXT NOT NULL,
		method VARCHAR(10) NOT NULL,
		request_body TEXT DEFAULT '',
		response_body TEXT DEFAULT '',
		status_code INT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		request_id VARCHAR(64) DEFAULT '',
		base_id VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);`},
	{"idx_api_logs_request", `CREATE INDEX IF NOT EXISTS idx_api_logs_request ON api_logs(request_id);`},
	{"idx_api_logs_base", `CREATE INDEX IF NOT EXISTS idx_api_logs_base ON api_logs(base_id, id DESC);`},
}

// Migrate creates the schema. Every statement is idempotent.
func (d *Database) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := d.DB.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", m.name, err)
		}
	}

	d.logger.Info("Database migrations completed successfully", zap.Int("statements", len(migrations)))
	return nil
}
