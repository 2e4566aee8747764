package media

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maheshrc27/postflow/internal/models"
)

type fakeAssetRepo struct {
	bySHA   map[string]*models.MediaAsset
	created []*models.MediaAsset
	nextID  int64
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{bySHA: make(map[string]*models.MediaAsset), nextID: 1}
}

func (r *fakeAssetRepo) Create(ctx context.Context, tx *sql.Tx, m *models.MediaAsset) (int64, error) {
	id := r.nextID
	r.nextID++
	cp := *m
	cp.ID = id
	r.bySHA[m.SHA256] = &cp
	r.created = append(r.created, &cp)
	return id, nil
}

func (r *fakeAssetRepo) GetBySHA256(ctx context.Context, accountID int64, sha256 string) (*models.MediaAsset, error) {
	if a, ok := r.bySHA[sha256]; ok {
		return a, nil
	}
	return nil, nil
}

func (r *fakeAssetRepo) GetByID(ctx context.Context, id int64) (*models.MediaAsset, error) { return nil, nil }
func (r *fakeAssetRepo) Remove(ctx context.Context, id int64) error                        { return nil }

// jpegBytes is a minimal JFIF signature (SOI + APP0 marker bytes) padded
// out so the body is non-trivial, enough for h2non/filetype's magic-byte
// sniff to classify it as jpeg without needing a decodable image.
func jpegBytes() []byte {
	b := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	return append(b, make([]byte, 64)...)
}

func TestIngestRegistersNewAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jpegBytes())
	}))
	defer srv.Close()

	repo := newFakeAssetRepo()
	in := NewIngestor(repo, srv.Client())

	asset, err := in.Ingest(context.Background(), 1, srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asset.ID == 0 {
		t.Fatal("expected an assigned asset id")
	}
	if asset.SHA256 == "" {
		t.Fatal("expected a computed sha256")
	}
	if asset.ShortHash == "" {
		t.Fatal("expected a generated short hash")
	}
}

func TestIngestDedupesBySHA256(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jpegBytes())
	}))
	defer srv.Close()

	repo := newFakeAssetRepo()
	in := NewIngestor(repo, srv.Client())

	first, err := in.Ingest(context.Background(), 1, srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := in.Ingest(context.Background(), 1, srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same asset on re-ingest, got %d and %d", first.ID, second.ID)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected exactly one Create call, got %d", len(repo.created))
	}
}

func TestIngestRejectsUnrecognizedType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a media file, just text"))
	}))
	defer srv.Close()

	repo := newFakeAssetRepo()
	in := NewIngestor(repo, srv.Client())

	if _, err := in.Ingest(context.Background(), 1, srv.URL); err == nil {
		t.Fatal("expected an error for an unrecognized media type")
	}
}

func TestIngestRejectsNon200Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	repo := newFakeAssetRepo()
	in := NewIngestor(repo, srv.Client())

	if _, err := in.Ingest(context.Background(), 1, srv.URL); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
