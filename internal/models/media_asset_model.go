package models

import "time"

// MediaAsset records a media file's content hash and public URL
// (spec.md §3). The bytes themselves live in object storage, which is
// out of scope (spec.md §1) — this row only remembers enough to dedupe
// re-ingested content and to resolve a post's media_url at publish time.
type MediaAsset struct {
	ID         int64     `db:"id" json:"id"`
	AccountID  int64     `db:"account_id" json:"account_id"`
	SHA256     string    `db:"sha256" json:"sha256"`
	ShortHash  string    `db:"short_hash" json:"short_hash"`
	StoredPath string    `db:"stored_path" json:"stored_path"`
	MediaURL   string    `db:"media_url" json:"media_url"`
	Bytes      int64     `db:"bytes" json:"bytes"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
