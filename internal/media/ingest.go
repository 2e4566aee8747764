// Package media implements the content-hash half of the teacher's file
// ingestion pipeline (post_service.go's processFiles/saveFile), with the
// object-storage upload half dropped — object-storage listing/proxying is
// an out-of-scope external collaborator (spec.md §1). A post here already
// carries a publicly fetchable media_url; Ingest only fetches it back to
// fingerprint and register it in the MediaAsset table for dedup (spec.md
// §3's `(account_id, sha256)` unique invariant).
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/h2non/filetype"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

const maxIngestBytes = 100 * 1024 * 1024

var allowedExtensions = map[string]bool{
	"mp4": true, "mov": true, "jpeg": true, "png": true, "jpg": true,
}

// Ingestor fetches a media_url, fingerprints its content, and upserts a
// MediaAsset row so repeated scheduling of the same file dedupes instead
// of growing the table unboundedly.
type Ingestor struct {
	assets repository.MediaAssetRepository
	client *http.Client
}

func NewIngestor(assets repository.MediaAssetRepository, client *http.Client) *Ingestor {
	return &Ingestor{assets: assets, client: client}
}

// Ingest downloads mediaURL, validates its type against the teacher's
// allowed-extension set, and returns the deduped MediaAsset.
func (in *Ingestor) Ingest(ctx context.Context, accountID int64, mediaURL string) (*models.MediaAsset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid media_url", err)
	}

	resp, err := in.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "fetching media_url", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.Validation, fmt.Sprintf("media_url returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIngestBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "reading media content", err)
	}
	if len(body) > maxIngestBytes {
		return nil, apperr.New(apperr.Validation, "media exceeds maximum ingest size")
	}

	kind, err := filetype.Match(body)
	if err != nil || kind == filetype.Unknown {
		return nil, apperr.New(apperr.Validation, "unrecognized media type")
	}
	if !allowedExtensions[kind.Extension] {
		return nil, apperr.New(apperr.Validation, fmt.Sprintf("media type %s is not allowed", kind.Extension))
	}

	sum := sha256.Sum256(body)
	hexSum := hex.EncodeToString(sum[:])

	if existing, err := in.assets.GetBySHA256(ctx, accountID, hexSum); err == nil && existing != nil {
		return existing, nil
	}

	shortHash, err := gonanoid.New(10)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "generating short hash", err)
	}

	asset := &models.MediaAsset{
		AccountID:  accountID,
		SHA256:     hexSum,
		ShortHash:  shortHash,
		StoredPath: "",
		MediaURL:   mediaURL,
		Bytes:      int64(len(body)),
	}
	id, err := in.assets.Create(ctx, nil, asset)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "saving media asset", err)
	}
	asset.ID = id
	return asset, nil
}
