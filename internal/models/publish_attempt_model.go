package models

import "time"

// PublishAttempt is an append-only audit row for each PublishFSM
// transition, generalized from the teacher's PostingHistory (there:
// one row per platform call from a linear post-to-all-platforms loop).
// Kept for operator visibility into retries/terminal failures; not
// consulted by the FSM itself (the FSM's own resume state lives on the
// Post row, per spec.md §4.7's idempotency contract).
type PublishAttempt struct {
	ID           int64     `db:"id" json:"id"`
	PostID       int64     `db:"post_id" json:"post_id"`
	AccountID    int64     `db:"account_id" json:"account_id"`
	FromStatus   string    `db:"from_status" json:"from_status"`
	ToStatus     string    `db:"to_status" json:"to_status"`
	Event        string    `db:"event" json:"event"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
