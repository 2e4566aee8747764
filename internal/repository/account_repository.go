package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
)

// AccountRepository is the Store's account-facing slice (spec.md §4.1),
// generalized from the teacher's SocialAccountRepository with the
// multi-user ownership columns dropped (spec.md §1 treats onboarding as
// an external collaborator — accounts arrive already provisioned).
type AccountRepository interface {
	Create(ctx context.Context, tx *sql.Tx, a *models.Account) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	SetActive(ctx context.Context, id int64, active bool) error
	UpdateCredentials(ctx context.Context, id int64, accessToken, timezone string) error
	Remove(ctx context.Context, id int64) error
}

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, tx *sql.Tx, a *models.Account) (int64, error) {
	query := `
		INSERT INTO accounts (platform_user_id, handle, platform, access_token, timezone, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, a.PlatformUserID, a.Handle, a.Platform, a.AccessToken, a.Timezone, a.Active).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, a.PlatformUserID, a.Handle, a.Platform, a.AccessToken, a.Timezone, a.Active).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT id, platform_user_id, handle, platform, access_token, timezone, active, created_at, updated_at
		FROM accounts WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var a models.Account
	err := row.Scan(&a.ID, &a.PlatformUserID, &a.Handle, &a.Platform, &a.AccessToken, &a.Timezone, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &a, nil
}

func (r *accountRepository) List(ctx context.Context) ([]*models.Account, error) {
	query := `SELECT id, platform_user_id, handle, platform, access_token, timezone, active, created_at, updated_at FROM accounts ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.PlatformUserID, &a.Handle, &a.Platform, &a.AccessToken, &a.Timezone, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, &a)
	}
	return accounts, nil
}

func (r *accountRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE accounts SET active = $1, updated_at = now() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, active, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// UpdateCredentials implements POST /api/accounts/refresh (spec.md §6):
// an empty accessToken or timezone leaves that column unchanged.
func (r *accountRepository) UpdateCredentials(ctx context.Context, id int64, accessToken, timezone string) error {
	query := `
		UPDATE accounts
		SET access_token = CASE WHEN $1 = '' THEN access_token ELSE $1 END,
		    timezone = CASE WHEN $2 = '' THEN timezone ELSE $2 END,
		    updated_at = now()
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, accessToken, timezone, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *accountRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM accounts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
