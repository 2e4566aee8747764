package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

const uniqueViolation = "23505"

// PostRepository is the Store's post-facing slice (spec.md §4.1, §4.6).
// Generalized from the teacher's PostRepository: the create path gains
// idempotency-aware conflict handling, range queries gain the
// (account_id, scheduled_at) ordering the calendar and leaser need, and
// the lease claim / watchdog reclaim queries implement spec.md §4.6.
type PostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, p *models.Post) (id int64, hit bool, err error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	Range(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error)
	NonTerminalBetween(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error)
	RecentForAccount(ctx context.Context, accountID int64, limit int) ([]*models.Post, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error
	CompareAndSetStatus(ctx context.Context, id int64, expected, next string) (bool, error)
	ClaimDue(ctx context.Context, now time.Time, grace time.Duration, batchSize int) ([]int64, error)
	ReclaimExpiredLeases(ctx context.Context, now time.Time, leaseTTL time.Duration) (int64, error)
	BulkDelete(ctx context.Context, ids []int64) (int64, error)
	DeleteAfter(ctx context.Context, accountID int64, after time.Time) (int64, error)
	ClearOld(ctx context.Context, accountID int64, now time.Time) (int64, error)
	FailAllNonTerminalForAccount(ctx context.Context, accountID int64, errorCode string) (int64, error)
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, account_id, platform, post_type, media_url, caption, scheduled_at,
	status, retry_count, error_code, publish_result, locked_at, asset_id, client_request_id,
	created_at, updated_at`

func scanPost(row interface{ Scan(...interface{}) error }) (*models.Post, error) {
	var p models.Post
	var publishResult []byte
	var clientRequestID sql.NullString
	var assetID sql.NullInt64
	var lockedAt sql.NullTime

	err := row.Scan(&p.ID, &p.AccountID, &p.Platform, &p.PostType, &p.MediaURL, &p.Caption, &p.ScheduledAt,
		&p.Status, &p.RetryCount, &p.ErrorCode, &publishResult, &lockedAt, &assetID, &clientRequestID,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(publishResult) > 0 {
		p.PublishResult = json.RawMessage(publishResult)
	}
	if clientRequestID.Valid {
		p.ClientRequestID = &clientRequestID.String
	}
	if assetID.Valid {
		p.AssetID = &assetID.Int64
	}
	if lockedAt.Valid {
		p.LockedAt = &lockedAt.Time
	}
	return &p, nil
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, p *models.Post) (int64, bool, error) {
	query := `
		INSERT INTO posts (account_id, platform, post_type, media_url, caption, scheduled_at, status, asset_id, client_request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	exec := r.db.QueryRowContext
	if tx != nil {
		exec = tx.QueryRowContext
	}

	var id int64
	err := exec(ctx, query, p.AccountID, p.Platform, p.PostType, p.MediaURL, p.Caption, p.ScheduledAt,
		p.Status, p.AssetID, p.ClientRequestID).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation && p.ClientRequestID != nil {
			existing, findErr := r.findByClientRequestID(ctx, tx, p.AccountID, *p.ClientRequestID)
			if findErr != nil {
				slog.Info(findErr.Error())
				return 0, false, findErr
			}
			if existing != nil {
				return existing.ID, true, nil
			}
		}
		slog.Info(err.Error())
		return 0, false, err
	}
	return id, false, nil
}

func (r *postRepository) findByClientRequestID(ctx context.Context, tx *sql.Tx, accountID int64, clientRequestID string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE account_id = $1 AND client_request_id = $2`
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, accountID, clientRequestID)
	} else {
		row = r.db.QueryRowContext(ctx, query, accountID, clientRequestID)
	}
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	p, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return p, nil
}

func (r *postRepository) Range(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts
		WHERE account_id = $1 AND scheduled_at >= $2 AND scheduled_at <= $3
		ORDER BY scheduled_at ASC, id ASC`
	return r.queryPosts(ctx, query, accountID, start, end)
}

func (r *postRepository) NonTerminalBetween(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts
		WHERE account_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
			AND status IN ('scheduled', 'leased', 'publishing')
		ORDER BY scheduled_at ASC, id ASC`
	return r.queryPosts(ctx, query, accountID, start, end)
}

// RecentForAccount returns an account's most recently touched posts, most
// recent first, for the auto-pause consecutive-failure check (spec.md §4.7).
func (r *postRepository) RecentForAccount(ctx context.Context, accountID int64, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE account_id = $1 ORDER BY updated_at DESC LIMIT $2`
	return r.queryPosts(ctx, query, accountID, limit)
}

func (r *postRepository) queryPosts(ctx context.Context, query string, args ...interface{}) ([]*models.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// UpdateFields applies a partial update. Supported keys: status,
// scheduled_at, caption, media_url, retry_count, error_code,
// publish_result, locked_at, asset_id. Unknown keys are ignored.
func (r *postRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	allowed := map[string]bool{
		"status": true, "scheduled_at": true, "caption": true, "media_url": true,
		"retry_count": true, "error_code": true, "publish_result": true,
		"locked_at": true, "asset_id": true,
	}

	set := "updated_at = now()"
	args := []interface{}{}
	i := 1
	for k, v := range fields {
		if !allowed[k] {
			continue
		}
		args = append(args, v)
		set += ", " + k + " = $" + strconv.Itoa(i)
		i++
	}
	args = append(args, id)
	query := "UPDATE posts SET " + set + " WHERE id = $" + strconv.Itoa(i)

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// CompareAndSetStatus implements the compare-and-set primitive spec.md §5
// and §4.6 require for safe cancellation and lease transitions.
func (r *postRepository) CompareAndSetStatus(ctx context.Context, id int64, expected, next string) (bool, error) {
	query := `UPDATE posts SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, next, id, expected)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClaimDue runs the SELECT ... FOR UPDATE SKIP LOCKED + UPDATE transaction
// of spec.md §4.6, returning the ids that were successfully leased.
func (r *postRepository) ClaimDue(ctx context.Context, now time.Time, grace time.Duration, batchSize int) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT id FROM posts
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, selectQuery, now.Add(grace), batchSize)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	updateQuery := `UPDATE posts SET status = 'leased', locked_at = $1, updated_at = $1 WHERE id = ANY($2)`
	if _, err := tx.ExecContext(ctx, updateQuery, now, pq.Array(ids)); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReclaimExpiredLeases is the watchdog sweep of spec.md §4.6/§5: posts
// stuck in leased/publishing past LeaseTTL return to scheduled with
// retry_count incremented so a subsequent ClaimDue can pick them up again.
func (r *postRepository) ReclaimExpiredLeases(ctx context.Context, now time.Time, leaseTTL time.Duration) (int64, error) {
	query := `
		UPDATE posts
		SET status = 'scheduled', retry_count = retry_count + 1, locked_at = NULL, updated_at = $1
		WHERE status IN ('leased', 'publishing') AND locked_at < $2
	`
	res, err := r.db.ExecContext(ctx, query, now, now.Add(-leaseTTL))
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return res.RowsAffected()
}

func (r *postRepository) BulkDelete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `DELETE FROM posts WHERE id = ANY($1)`
	res, err := r.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAfter implements the delete-after contract of spec.md §4.1/§8:
// only scheduled/leased rows after the cutoff are removed.
func (r *postRepository) DeleteAfter(ctx context.Context, accountID int64, after time.Time) (int64, error) {
	query := `DELETE FROM posts WHERE account_id = $1 AND scheduled_at > $2 AND status IN ('scheduled', 'leased')`
	res, err := r.db.ExecContext(ctx, query, accountID, after)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return res.RowsAffected()
}

// ClearOld implements the clear_old_posts endpoint of spec.md §6:
// removes every post for the account scheduled before now, regardless of
// status — unlike DeleteAfter this is not restricted to non-terminal rows.
func (r *postRepository) ClearOld(ctx context.Context, accountID int64, now time.Time) (int64, error) {
	query := `DELETE FROM posts WHERE account_id = $1 AND scheduled_at < $2`
	res, err := r.db.ExecContext(ctx, query, accountID, now)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return res.RowsAffected()
}

// FailAllNonTerminalForAccount implements the freeze side-effect of
// spec.md §6/§8: every non-terminal post for the account becomes failed
// with errorCode within one call (account_frozen for a manual freeze,
// account_paused for the FSM's auto-pause).
func (r *postRepository) FailAllNonTerminalForAccount(ctx context.Context, accountID int64, errorCode string) (int64, error) {
	query := `
		UPDATE posts SET status = 'failed', error_code = $1, locked_at = NULL, updated_at = now()
		WHERE account_id = $2 AND status IN ('scheduled', 'leased', 'publishing')
	`
	res, err := r.db.ExecContext(ctx, query, errorCode, accountID)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return res.RowsAffected()
}

func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
