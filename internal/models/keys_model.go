package models

import "time"

// ApiKey gates the HTTP surface (spec.md §6). The teacher scoped keys to
// a UserID that owned accounts and posts; spec.md's data model has no
// tenant concept at all, so a valid key simply authorizes the caller —
// every resource below it is scoped by account_id, not by key ownership.
type ApiKey struct {
	ID        int64     `db:"id" json:"id"`
	Label     string    `db:"label" json:"label"`
	ApiKey    string    `db:"api_key" json:"api_key"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
