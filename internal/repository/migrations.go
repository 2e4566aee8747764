package repository

import (
	"context"
	"database/sql"
)

// schema is the embedded bootstrap SQL for the three core tables plus the
// audit log and API-key table. The teacher ships no migration tool in its
// dependency set, so this stays a single idempotent CREATE-TABLE script
// run once at startup instead of introducing a migration framework.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                BIGSERIAL PRIMARY KEY,
	platform_user_id  TEXT NOT NULL,
	handle            TEXT NOT NULL,
	platform          TEXT NOT NULL DEFAULT 'instagram',
	access_token      TEXT NOT NULL,
	timezone          TEXT NOT NULL DEFAULT 'UTC',
	active            BOOLEAN NOT NULL DEFAULT true,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS media_assets (
	id          BIGSERIAL PRIMARY KEY,
	account_id  BIGINT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
	sha256      TEXT NOT NULL,
	short_hash  TEXT NOT NULL,
	stored_path TEXT NOT NULL DEFAULT '',
	media_url   TEXT NOT NULL,
	bytes       BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (account_id, sha256)
);

CREATE TABLE IF NOT EXISTS posts (
	id                 BIGSERIAL PRIMARY KEY,
	account_id         BIGINT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
	platform           TEXT NOT NULL DEFAULT 'instagram',
	post_type          TEXT NOT NULL,
	media_url          TEXT NOT NULL,
	caption            TEXT NOT NULL DEFAULT '',
	scheduled_at       TIMESTAMPTZ NOT NULL,
	status             TEXT NOT NULL DEFAULT 'scheduled',
	retry_count        INT NOT NULL DEFAULT 0,
	error_code         TEXT NOT NULL DEFAULT '',
	publish_result     JSONB,
	locked_at          TIMESTAMPTZ,
	asset_id           BIGINT REFERENCES media_assets(id) ON DELETE SET NULL,
	client_request_id  TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_posts_account_scheduled ON posts (account_id, scheduled_at, id);
CREATE INDEX IF NOT EXISTS idx_posts_status_scheduled ON posts (status, scheduled_at);
CREATE UNIQUE INDEX IF NOT EXISTS uq_posts_account_client_request
	ON posts (account_id, client_request_id) WHERE client_request_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS publish_attempts (
	id            BIGSERIAL PRIMARY KEY,
	post_id       BIGINT NOT NULL,
	account_id    BIGINT NOT NULL,
	from_status   TEXT NOT NULL,
	to_status     TEXT NOT NULL,
	event         TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
	id         BIGSERIAL PRIMARY KEY,
	label      TEXT NOT NULL DEFAULT '',
	api_key    TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the bootstrap schema. It is safe to call on every
// startup (every statement is IF NOT EXISTS).
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
