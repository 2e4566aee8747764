package models

import (
	"encoding/json"
	"time"
)

// Post is the persisted unit of scheduled content (spec.md §3).
type Post struct {
	ID              int64           `db:"id" json:"id"`
	AccountID       int64           `db:"account_id" json:"account_id"`
	Platform        string          `db:"platform" json:"platform"`
	PostType        string          `db:"post_type" json:"post_type"`
	MediaURL        string          `db:"media_url" json:"media_url"`
	Caption         string          `db:"caption" json:"caption"`
	ScheduledAt     time.Time       `db:"scheduled_at" json:"scheduled_at"`
	Status          string          `db:"status" json:"status"`
	RetryCount      int             `db:"retry_count" json:"retry_count"`
	ErrorCode       string          `db:"error_code" json:"error_code,omitempty"`
	PublishResult   json.RawMessage `db:"publish_result" json:"publish_result,omitempty"`
	LockedAt        *time.Time      `db:"locked_at" json:"locked_at,omitempty"`
	AssetID         *int64          `db:"asset_id" json:"asset_id,omitempty"`
	ClientRequestID *string         `db:"client_request_id" json:"client_request_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Canonical post-type set, pinned per spec.md §9 Open Questions / DESIGN.md.
const (
	PostTypePhoto    = "photo"
	PostTypeReelFeed = "reel_feed"
	PostTypeReelOnly = "reel_only"
	PostTypeCarousel = "carousel"
)

var ValidPostTypes = map[string]bool{
	PostTypePhoto:    true,
	PostTypeReelFeed: true,
	PostTypeReelOnly: true,
	PostTypeCarousel: true,
}

// Status values form the PublishFSM's state set (spec.md §4.7).
const (
	PostStatusScheduled  = "scheduled"
	PostStatusLeased     = "leased"
	PostStatusPublishing = "publishing"
	PostStatusPosted     = "posted"
	PostStatusFailed     = "failed"
	PostStatusCancelled  = "cancelled"
)

// NonTerminalStatuses are the statuses that count against the daily cap
// and spacing invariants of spec.md §3.
var NonTerminalStatuses = map[string]bool{
	PostStatusScheduled:  true,
	PostStatusLeased:     true,
	PostStatusPublishing: true,
}

// CarouselEnvelope is the discriminated-union shape persisted in
// Post.MediaURL when PostType == PostTypeCarousel (spec.md §6).
type CarouselEnvelope struct {
	Type string   `json:"type"`
	URLs []string `json:"urls"`
}

// PublishResult is the opaque JSON stored in Post.PublishResult across the
// FSM's lifetime: the container id while publishing, the platform media id
// once posted.
type PublishResult struct {
	ContainerID     string `json:"container_id,omitempty"`
	PlatformMediaID string `json:"platform_media_id,omitempty"`
}
