package transfer

// PostCreate is the POST /api/posts payload (spec.md §6).
type PostCreate struct {
	AccountID       int64  `json:"account_id"`
	Platform        string `json:"platform"`
	PostType        string `json:"post_type"`
	MediaURL        string `json:"media_url"`
	Caption         string `json:"caption"`
	ScheduledAt     string `json:"scheduled_at"`
	AssetID         *int64 `json:"asset_id,omitempty"`
	ClientRequestID string `json:"client_request_id,omitempty"`
	OverrideSpacing bool   `json:"override_spacing,omitempty"`
}

// PostUpdate is the PUT/PATCH /api/posts/{id} payload. Only Move/Edit/
// Replace fields are settable; nil means "leave unchanged".
type PostUpdate struct {
	ScheduledAt     *string `json:"scheduled_at,omitempty"`
	MediaURL        *string `json:"media_url,omitempty"`
	Caption         *string `json:"caption,omitempty"`
	OverrideSpacing bool    `json:"override_spacing,omitempty"`
}

type BulkDeleteRequest struct {
	IDs []int64 `json:"ids"`
}

type DeleteAfterRequest struct {
	AccountID int64  `json:"account_id"`
	After     string `json:"after"`
}
