package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
)

// PublishAttemptRepository is the append-only audit trail the PublishFSM
// writes a row to on every transition (spec.md §4.7), replacing the
// teacher's PostingHistory (one row per platform call there, one row per
// FSM transition here).
type PublishAttemptRepository interface {
	Create(ctx context.Context, tx *sql.Tx, a *models.PublishAttempt) (int64, error)
	ListByPost(ctx context.Context, postID int64) ([]*models.PublishAttempt, error)
}

type publishAttemptRepository struct {
	db *sql.DB
}

func NewPublishAttemptRepository(db *sql.DB) PublishAttemptRepository {
	return &publishAttemptRepository{db: db}
}

func (r *publishAttemptRepository) Create(ctx context.Context, tx *sql.Tx, a *models.PublishAttempt) (int64, error) {
	query := `
		INSERT INTO publish_attempts (post_id, account_id, from_status, to_status, event, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, a.PostID, a.AccountID, a.FromStatus, a.ToStatus, a.Event, a.ErrorMessage).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, a.PostID, a.AccountID, a.FromStatus, a.ToStatus, a.Event, a.ErrorMessage).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func (r *publishAttemptRepository) ListByPost(ctx context.Context, postID int64) ([]*models.PublishAttempt, error) {
	query := `SELECT id, post_id, account_id, from_status, to_status, event, error_message, created_at
		FROM publish_attempts WHERE post_id = $1 ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.PublishAttempt
	for rows.Next() {
		var a models.PublishAttempt
		if err := rows.Scan(&a.ID, &a.PostID, &a.AccountID, &a.FromStatus, &a.ToStatus, &a.Event, &a.ErrorMessage, &a.CreatedAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		attempts = append(attempts, &a)
	}
	return attempts, nil
}
