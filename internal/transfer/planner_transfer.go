package transfer

// BatchPreflightRequest is the POST /api/posts/batch_preflight payload
// (spec.md §4.4/§6).
type BatchPreflightRequest struct {
	AccountID         int64          `json:"account_id"`
	StartDate         string         `json:"start_date"`
	EndDate           string         `json:"end_date"`
	WeeklyPlan        map[string]int `json:"weekly_plan"`
	RandomStart       string         `json:"random_start"`
	RandomEnd         string         `json:"random_end"`
	MinSpacingMinutes int            `json:"min_spacing_minutes"`
	MediaURLs         []MediaItem    `json:"media_urls"`
	VideoMode         string         `json:"video_mode"`
	OverrideSpacing   bool           `json:"override_spacing"`
	Seed              *uint64        `json:"seed,omitempty"`
}

// MediaItem is one pool entry; multiple URLs make it a carousel.
type MediaItem struct {
	URLs    []string `json:"urls"`
	IsVideo bool     `json:"is_video"`
}

// BatchCommitRequest carries exactly the preflight slotting parameters;
// it adds no commit-time fields of its own, so there is no per-commit
// override of flagged conflicts.
type BatchCommitRequest struct {
	BatchPreflightRequest
}
