// Package platform is the pure I/O facade over the external graph API
// (spec.md §4.2), generalized from the teacher's instagram_service.go:
// the create-container/poll/publish call sequence survives, but it no
// longer mixes HTTP calls with repository lookups, status writes, or
// token decryption bookkeeping — those belong to the FSM and Store.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maheshrc27/postflow/internal/models"
)

// ContainerState is the poll result of ContainerStatus.
type ContainerState string

const (
	StateInProgress ContainerState = "IN_PROGRESS"
	StateFinished   ContainerState = "FINISHED"
	StateError      ContainerState = "ERROR"
	StateExpired    ContainerState = "EXPIRED"
)

// Limit is the account's rolling 24h publishing quota (spec.md §4.3).
type Limit struct {
	Used          int
	Limit         int
	WindowResetAt time.Time
}

// Client is a typed, policy-free wrapper over the graph API. Every
// method carries the caller's context as the per-call timeout boundary;
// every non-2xx response is classified by classify.go before it reaches
// the FSM.
type Client interface {
	CreateContainer(ctx context.Context, account *models.Account, mediaURL, caption, postType string) (containerID string, err error)
	CreateCarouselChild(ctx context.Context, account *models.Account, itemURL string) (childContainerID string, err error)
	CreateCarouselParent(ctx context.Context, account *models.Account, childIDs []string, caption string) (containerID string, err error)
	ContainerStatus(ctx context.Context, account *models.Account, containerID string) (ContainerState, error)
	Publish(ctx context.Context, account *models.Account, containerID string) (platformMediaID string, err error)
	PublishingLimit(ctx context.Context, account *models.Account) (Limit, error)
}

// accountLimiters is a keyed token-bucket registry, one *rate.Limiter per
// account, with the same GC-on-access eviction shape as the teacher's
// per-key IP rate limiter. The graph API enforces its abuse limits per
// access token, so a shared process-wide bucket would throttle every
// account for one busy account's sake; keying by account avoids that.
type accountLimiters struct {
	mu     sync.Mutex
	byAcct map[int64]*limiterEntry
	limit  rate.Limit
	burst  int
	ttl    time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAccountLimiters(perSecond float64, burst int) *accountLimiters {
	return &accountLimiters{
		byAcct: make(map[int64]*limiterEntry),
		limit:  rate.Limit(perSecond),
		burst:  burst,
		ttl:    10 * time.Minute,
	}
}

func (a *accountLimiters) wait(ctx context.Context, accountID int64) error {
	now := time.Now()

	a.mu.Lock()
	e, ok := a.byAcct[accountID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(a.limit, a.burst)}
		a.byAcct[accountID] = e
	}
	e.lastSeen = now
	for id, entry := range a.byAcct {
		if id != accountID && now.Sub(entry.lastSeen) > a.ttl {
			delete(a.byAcct, id)
		}
	}
	limiter := e.limiter
	a.mu.Unlock()

	return limiter.Wait(ctx)
}

type client struct {
	http    *http.Client
	baseURL string
	limiter *accountLimiters
}

// NewClient builds a Client sharing one *http.Client across accounts
// (spec.md §5's "platform HTTP client with per-host connection pool").
func NewClient(httpClient *http.Client, baseURL string) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://graph.instagram.com/v21.0"
	}
	return &client{
		http:    httpClient,
		baseURL: baseURL,
		limiter: newAccountLimiters(5, 10),
	}
}

func (c *client) do(ctx context.Context, accountID int64, method, url string, payload map[string]interface{}) ([]byte, int, error) {
	if err := c.limiter.wait(ctx, accountID); err != nil {
		return nil, 0, fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func (c *client) CreateContainer(ctx context.Context, account *models.Account, mediaURL, caption, postType string) (string, error) {
	url := fmt.Sprintf("%s/%s/media", c.baseURL, account.PlatformUserID)
	payload := map[string]interface{}{
		"caption":      caption,
		"access_token": account.AccessToken,
	}
	switch postType {
	case models.PostTypeReelFeed, models.PostTypeReelOnly:
		payload["media_type"] = "REELS"
		payload["video_url"] = mediaURL
		if postType == models.PostTypeReelOnly {
			payload["share_to_feed"] = false
		}
	default:
		payload["image_url"] = mediaURL
	}

	body, status, err := c.do(ctx, account.ID, http.MethodPost, url, payload)
	if err != nil {
		return "", Classify(err, status, nil)
	}
	return parseID(body, status)
}

func (c *client) CreateCarouselChild(ctx context.Context, account *models.Account, itemURL string) (string, error) {
	url := fmt.Sprintf("%s/%s/media", c.baseURL, account.PlatformUserID)
	payload := map[string]interface{}{
		"image_url":        itemURL,
		"is_carousel_item": true,
		"access_token":     account.AccessToken,
	}
	body, status, err := c.do(ctx, account.ID, http.MethodPost, url, payload)
	if err != nil {
		return "", Classify(err, status, nil)
	}
	return parseID(body, status)
}

func (c *client) CreateCarouselParent(ctx context.Context, account *models.Account, childIDs []string, caption string) (string, error) {
	url := fmt.Sprintf("%s/%s/media", c.baseURL, account.PlatformUserID)
	payload := map[string]interface{}{
		"media_type":   "CAROUSEL",
		"caption":      caption,
		"children":     childIDs,
		"access_token": account.AccessToken,
	}
	body, status, err := c.do(ctx, account.ID, http.MethodPost, url, payload)
	if err != nil {
		return "", Classify(err, status, nil)
	}
	return parseID(body, status)
}

func (c *client) ContainerStatus(ctx context.Context, account *models.Account, containerID string) (ContainerState, error) {
	url := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s", c.baseURL, containerID, account.AccessToken)
	body, status, err := c.do(ctx, account.ID, http.MethodGet, url, nil)
	if err != nil {
		return "", Classify(err, status, nil)
	}
	if status != http.StatusOK {
		return "", Classify(nil, status, body)
	}

	var result struct {
		StatusCode string `json:"status_code"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse container status: %w", err)
	}
	switch result.StatusCode {
	case "FINISHED":
		return StateFinished, nil
	case "ERROR":
		return StateError, nil
	case "EXPIRED":
		return StateExpired, nil
	default:
		return StateInProgress, nil
	}
}

func (c *client) Publish(ctx context.Context, account *models.Account, containerID string) (string, error) {
	url := fmt.Sprintf("%s/%s/media_publish", c.baseURL, account.PlatformUserID)
	payload := map[string]interface{}{
		"creation_id":  containerID,
		"access_token": account.AccessToken,
	}
	body, status, err := c.do(ctx, account.ID, http.MethodPost, url, payload)
	if err != nil {
		return "", Classify(err, status, nil)
	}
	return parseID(body, status)
}

func (c *client) PublishingLimit(ctx context.Context, account *models.Account) (Limit, error) {
	url := fmt.Sprintf("%s/%s/content_publishing_limit?fields=config,quota_usage&access_token=%s",
		c.baseURL, account.PlatformUserID, account.AccessToken)
	body, status, err := c.do(ctx, account.ID, http.MethodGet, url, nil)
	if err != nil {
		return Limit{}, Classify(err, status, nil)
	}
	if status != http.StatusOK {
		return Limit{}, Classify(nil, status, body)
	}

	var result struct {
		Data []struct {
			QuotaUsage int `json:"quota_usage"`
			Config     struct {
				QuotaTotal    int `json:"quota_total"`
				QuotaDuration int `json:"quota_duration"`
			} `json:"config"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return Limit{}, fmt.Errorf("parse publishing limit: %w", err)
	}
	if len(result.Data) == 0 {
		return Limit{Used: 0, Limit: 25, WindowResetAt: time.Now().Add(24 * time.Hour)}, nil
	}
	d := result.Data[0]
	resetAt := time.Now().Add(time.Duration(d.Config.QuotaDuration) * time.Second)
	return Limit{Used: d.QuotaUsage, Limit: d.Config.QuotaTotal, WindowResetAt: resetAt}, nil
}

func parseID(body []byte, status int) (string, error) {
	if status != http.StatusOK {
		return "", Classify(nil, status, body)
	}
	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse id response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("no id returned")
	}
	return result.ID, nil
}
