package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
)

// MediaAssetRepository dedupes ingested media by content hash within an
// account, generalized from the teacher's Assets repository (there: a
// flat list of uploaded file records with no dedup key).
type MediaAssetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, m *models.MediaAsset) (int64, error)
	GetBySHA256(ctx context.Context, accountID int64, sha256 string) (*models.MediaAsset, error)
	GetByID(ctx context.Context, id int64) (*models.MediaAsset, error)
	Remove(ctx context.Context, id int64) error
}

type mediaAssetRepository struct {
	db *sql.DB
}

func NewMediaAssetRepository(db *sql.DB) MediaAssetRepository {
	return &mediaAssetRepository{db: db}
}

func (r *mediaAssetRepository) Create(ctx context.Context, tx *sql.Tx, m *models.MediaAsset) (int64, error) {
	query := `
		INSERT INTO media_assets (account_id, sha256, short_hash, stored_path, media_url, bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, sha256) DO UPDATE SET media_url = EXCLUDED.media_url
		RETURNING id
	`
	var id int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, m.AccountID, m.SHA256, m.ShortHash, m.StoredPath, m.MediaURL, m.Bytes).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, m.AccountID, m.SHA256, m.ShortHash, m.StoredPath, m.MediaURL, m.Bytes).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func (r *mediaAssetRepository) GetBySHA256(ctx context.Context, accountID int64, sha256 string) (*models.MediaAsset, error) {
	query := `SELECT id, account_id, sha256, short_hash, stored_path, media_url, bytes, created_at
		FROM media_assets WHERE account_id = $1 AND sha256 = $2`
	row := r.db.QueryRowContext(ctx, query, accountID, sha256)

	var m models.MediaAsset
	err := row.Scan(&m.ID, &m.AccountID, &m.SHA256, &m.ShortHash, &m.StoredPath, &m.MediaURL, &m.Bytes, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &m, nil
}

func (r *mediaAssetRepository) GetByID(ctx context.Context, id int64) (*models.MediaAsset, error) {
	query := `SELECT id, account_id, sha256, short_hash, stored_path, media_url, bytes, created_at
		FROM media_assets WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var m models.MediaAsset
	err := row.Scan(&m.ID, &m.AccountID, &m.SHA256, &m.ShortHash, &m.StoredPath, &m.MediaURL, &m.Bytes, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &m, nil
}

func (r *mediaAssetRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM media_assets WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
