package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/logging"
	"github.com/maheshrc27/postflow/internal/media"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/planner"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

// PostService implements the CRUD plus Move/Edit/Replace contract of
// spec.md §4.1/§4.5, generalized from the teacher's PostService (there:
// a single multipart-upload CreatePost tied to R2 and a selected-accounts
// join table). Object storage upload is out of scope here (spec.md §1);
// posts carry a media_url/asset_id the caller already resolved.
type PostService interface {
	Create(ctx context.Context, accountID int64, req *transfer.PostCreate) (*models.Post, bool, error)
	Query(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error)
	Get(ctx context.Context, postID int64) (*models.Post, error)
	Move(ctx context.Context, postID int64, scheduledAt time.Time, overrideSpacing bool) (*models.Post, error)
	Edit(ctx context.Context, postID int64, caption *string) (*models.Post, error)
	Replace(ctx context.Context, postID int64, mediaURL string, caption *string) (*models.Post, error)
	Remove(ctx context.Context, postID int64) error
	BulkDelete(ctx context.Context, ids []int64) (int64, error)
	DeleteAfter(ctx context.Context, accountID int64, after time.Time) (int64, error)
}

type postService struct {
	db         *sql.DB
	posts      repository.PostRepository
	accounts   repository.AccountRepository
	ingest     *media.Ingestor
	clk        clock.Clock
	dailyCap   int
	minSpacing time.Duration
}

func NewPostService(db *sql.DB, posts repository.PostRepository, accounts repository.AccountRepository, ingest *media.Ingestor, clk clock.Clock, cfg *config.Config) PostService {
	return &postService{
		db:         db,
		posts:      posts,
		accounts:   accounts,
		ingest:     ingest,
		clk:        clk,
		dailyCap:   cfg.DailyPostCap,
		minSpacing: cfg.MinSpacing,
	}
}

func (s *postService) Create(ctx context.Context, accountID int64, req *transfer.PostCreate) (*models.Post, bool, error) {
	if req.MediaURL == "" {
		return nil, false, apperr.New(apperr.Validation, "media_url is required")
	}
	if req.PostType == "" {
		req.PostType = models.PostTypePhoto
	}
	if !models.ValidPostTypes[req.PostType] {
		return nil, false, apperr.New(apperr.Validation, "invalid post_type")
	}
	if req.PostType == models.PostTypeCarousel {
		var env models.CarouselEnvelope
		if err := json.Unmarshal([]byte(req.MediaURL), &env); err != nil || len(env.URLs) < 2 || len(env.URLs) > 10 {
			return nil, false, apperr.New(apperr.Validation, "carousel media_url must be a 2-10 item envelope")
		}
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Transient, "loading account", err)
	}
	if account == nil {
		return nil, false, apperr.New(apperr.NotFound, "account not found")
	}

	scheduledAt, err := parseScheduledAt(req.ScheduledAt, account.Timezone)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Validation, "invalid scheduled_at", err)
	}

	if !req.OverrideSpacing {
		if err := s.checkInvariants(ctx, account, scheduledAt, 0); err != nil {
			return nil, false, err
		}
	}

	platform := req.Platform
	if platform == "" {
		platform = models.DefaultPlatform
	}

	post := &models.Post{
		AccountID:   accountID,
		Platform:    platform,
		PostType:    req.PostType,
		MediaURL:    req.MediaURL,
		Caption:     req.Caption,
		ScheduledAt: scheduledAt,
		Status:      models.PostStatusScheduled,
		AssetID:     req.AssetID,
	}
	// A caller-supplied client_request_id is what makes Create idempotent
	// (spec.md §4.1's partial unique index); one generated server-side for
	// callers that omit it still lets every post carry a stable identity
	// for logging/tracing, it just can't dedupe a retried request.
	crid := req.ClientRequestID
	if crid == "" {
		crid = uuid.NewString()
	}
	post.ClientRequestID = &crid

	// Dedup-by-hash is best-effort: a post schedules fine off media_url
	// alone, so an ingest failure (unreachable URL, unsupported type) is
	// logged rather than rejected — only explicit AssetID callers get a
	// hard validation failure, via the asset FK constraint at insert time.
	if req.AssetID == nil && post.PostType != models.PostTypeCarousel && s.ingest != nil {
		if asset, err := s.ingest.Ingest(ctx, accountID, req.MediaURL); err != nil {
			logging.L().Sugar().Infow("media dedup ingest skipped", "account_id", accountID, "error", err)
		} else {
			post.AssetID = &asset.ID
		}
	}

	id, hit, err := s.posts.Create(ctx, nil, post)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Transient, "creating post", err)
	}
	post.ID = id
	return post, hit, nil
}

func (s *postService) Query(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error) {
	posts, err := s.posts.Range(ctx, accountID, start, end)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "querying posts", err)
	}
	return posts, nil
}

func (s *postService) Get(ctx context.Context, postID int64) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "loading post", err)
	}
	if post == nil {
		return nil, apperr.New(apperr.NotFound, "post not found")
	}
	return post, nil
}

// Move implements spec.md §4.5: only future-dated, still-scheduled posts
// may move, and the target slot must honor spacing/cap unless overridden.
func (s *postService) Move(ctx context.Context, postID int64, scheduledAt time.Time, overrideSpacing bool) (*models.Post, error) {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := s.assertFutureScheduled(post); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, post.AccountID)
	if err != nil || account == nil {
		return nil, apperr.New(apperr.NotFound, "account not found")
	}

	if !overrideSpacing {
		if err := s.checkInvariants(ctx, account, scheduledAt, post.ID); err != nil {
			return nil, err
		}
	}

	if err := s.posts.UpdateFields(ctx, postID, map[string]interface{}{"scheduled_at": scheduledAt}); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "moving post", err)
	}
	post.ScheduledAt = scheduledAt
	return post, nil
}

func (s *postService) Edit(ctx context.Context, postID int64, caption *string) (*models.Post, error) {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := s.assertFutureScheduled(post); err != nil {
		return nil, err
	}
	if caption == nil {
		return post, nil
	}

	if err := s.posts.UpdateFields(ctx, postID, map[string]interface{}{"caption": *caption}); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "editing post", err)
	}
	post.Caption = *caption
	return post, nil
}

// Replace swaps media_url and, if the caller omitted a caption, extracts
// one from the filename convention of spec.md §6/§9.
func (s *postService) Replace(ctx context.Context, postID int64, mediaURL string, caption *string) (*models.Post, error) {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := s.assertFutureScheduled(post); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{"media_url": mediaURL}
	post.MediaURL = mediaURL

	if caption != nil {
		fields["caption"] = *caption
		post.Caption = *caption
	} else if extracted := planner.ExtractCaption(mediaURL); extracted != "" {
		fields["caption"] = extracted
		post.Caption = extracted
	}

	if err := s.posts.UpdateFields(ctx, postID, fields); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "replacing post media", err)
	}
	return post, nil
}

func (s *postService) Remove(ctx context.Context, postID int64) error {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return err
	}

	// Cancellation is compare-and-set (spec.md §4.6/§9): a post already
	// posted/failed/cancelled is left alone; a leased/publishing worker
	// observes the flip before its next external call.
	if post.Status == models.PostStatusPosted {
		return apperr.New(apperr.Conflict, "cannot cancel a posted post")
	}
	if post.Status == models.PostStatusFailed || post.Status == models.PostStatusCancelled {
		return nil
	}

	ok, err := s.posts.CompareAndSetStatus(ctx, postID, post.Status, models.PostStatusCancelled)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "cancelling post", err)
	}
	if !ok {
		return apperr.New(apperr.Conflict, "post state changed concurrently")
	}
	return nil
}

func (s *postService) BulkDelete(ctx context.Context, ids []int64) (int64, error) {
	n, err := s.posts.BulkDelete(ctx, ids)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "bulk deleting posts", err)
	}
	return n, nil
}

func (s *postService) DeleteAfter(ctx context.Context, accountID int64, after time.Time) (int64, error) {
	n, err := s.posts.DeleteAfter(ctx, accountID, after)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "deleting posts after cutoff", err)
	}
	return n, nil
}

func (s *postService) assertFutureScheduled(post *models.Post) error {
	if post.Status != models.PostStatusScheduled {
		return apperr.New(apperr.Conflict, "only scheduled posts may be edited")
	}
	if !post.ScheduledAt.After(s.clk.Now()) {
		return apperr.New(apperr.Conflict, "cannot edit a past post")
	}
	return nil
}

// checkInvariants enforces spec.md §3's daily cap and spacing rules at
// schedule time. excludeID lets Move exclude the post being moved from
// its own neighbor check.
func (s *postService) checkInvariants(ctx context.Context, account *models.Account, scheduledAt time.Time, excludeID int64) error {
	loc, err := time.LoadLocation(account.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := scheduledAt.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.Add(24 * time.Hour)

	neighbors, err := s.posts.NonTerminalBetween(ctx, account.ID, dayStart.UTC(), dayEnd.UTC())
	if err != nil {
		return apperr.Wrap(apperr.Transient, "checking schedule invariants", err)
	}

	count := 0
	var conflicts []time.Time
	for _, n := range neighbors {
		if n.ID == excludeID {
			continue
		}
		count++
		if abs(n.ScheduledAt.Sub(scheduledAt)) < s.minSpacing {
			conflicts = append(conflicts, n.ScheduledAt)
		}
	}

	if count >= s.dailyCap {
		return apperr.New(apperr.Conflict, "daily cap exceeded")
	}
	if len(conflicts) > 0 {
		return apperr.SpacingConflictErr(conflicts)
	}
	return nil
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// parseScheduledAt accepts full ISO-8601 or the UI's local
// "YYYY-MM-DDTHH:mm" shorthand, normalizing to UTC using the account's
// timezone when the input carries no offset (spec.md §6 "Times").
func parseScheduledAt(value, timezone string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02T15:04", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized time format %q: %w", value, err)
	}
	return t.UTC(), nil
}
