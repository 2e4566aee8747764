package fsm

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/pkg/utils"
)

type fakePostRepo struct {
	posts         map[int64]*models.Post
	recent        []*models.Post
	failAllCalls  int
	failAllCode   string
}

func newFakeFSMPostRepo(posts ...*models.Post) *fakePostRepo {
	r := &fakePostRepo{posts: make(map[int64]*models.Post)}
	for _, p := range posts {
		r.posts[p.ID] = p
	}
	return r
}

func (r *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, p *models.Post) (int64, bool, error) {
	return 0, false, nil
}
func (r *fakePostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	p, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}
func (r *fakePostRepo) Range(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error) {
	return nil, nil
}
func (r *fakePostRepo) NonTerminalBetween(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error) {
	return nil, nil
}
func (r *fakePostRepo) RecentForAccount(ctx context.Context, accountID int64, limit int) ([]*models.Post, error) {
	return r.recent, nil
}
func (r *fakePostRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	p, ok := r.posts[id]
	if !ok {
		return nil
	}
	if v, ok := fields["publish_result"]; ok {
		p.PublishResult = json.RawMessage(v.([]byte))
	}
	if v, ok := fields["scheduled_at"]; ok {
		p.ScheduledAt = v.(time.Time)
	}
	if v, ok := fields["retry_count"]; ok {
		p.RetryCount = v.(int)
	}
	if v, ok := fields["error_code"]; ok {
		if v == nil {
			p.ErrorCode = ""
		} else {
			p.ErrorCode = v.(string)
		}
	}
	return nil
}
func (r *fakePostRepo) CompareAndSetStatus(ctx context.Context, id int64, expected, next string) (bool, error) {
	p, ok := r.posts[id]
	if !ok || p.Status != expected {
		return false, nil
	}
	p.Status = next
	return true, nil
}
func (r *fakePostRepo) ClaimDue(ctx context.Context, now time.Time, grace time.Duration, batchSize int) ([]int64, error) {
	return nil, nil
}
func (r *fakePostRepo) ReclaimExpiredLeases(ctx context.Context, now time.Time, leaseTTL time.Duration) (int64, error) {
	return 0, nil
}
func (r *fakePostRepo) BulkDelete(ctx context.Context, ids []int64) (int64, error) { return 0, nil }
func (r *fakePostRepo) DeleteAfter(ctx context.Context, accountID int64, after time.Time) (int64, error) {
	return 0, nil
}
func (r *fakePostRepo) ClearOld(ctx context.Context, accountID int64, now time.Time) (int64, error) {
	return 0, nil
}
func (r *fakePostRepo) FailAllNonTerminalForAccount(ctx context.Context, accountID int64, errorCode string) (int64, error) {
	r.failAllCalls++
	r.failAllCode = errorCode
	return 0, nil
}
func (r *fakePostRepo) Remove(ctx context.Context, id int64) error { return nil }

type fakeAccountRepo struct {
	accounts map[int64]*models.Account
}

func (r *fakeAccountRepo) Create(ctx context.Context, tx *sql.Tx, a *models.Account) (int64, error) {
	return 0, nil
}
func (r *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}
func (r *fakeAccountRepo) List(ctx context.Context) ([]*models.Account, error) { return nil, nil }
func (r *fakeAccountRepo) SetActive(ctx context.Context, id int64, active bool) error {
	if a, ok := r.accounts[id]; ok {
		a.Active = active
	}
	return nil
}
func (r *fakeAccountRepo) UpdateCredentials(ctx context.Context, id int64, accessToken, timezone string) error {
	return nil
}
func (r *fakeAccountRepo) Remove(ctx context.Context, id int64) error { return nil }

type fakeAttemptRepo struct {
	attempts []*models.PublishAttempt
}

func (r *fakeAttemptRepo) Create(ctx context.Context, tx *sql.Tx, a *models.PublishAttempt) (int64, error) {
	r.attempts = append(r.attempts, a)
	return int64(len(r.attempts)), nil
}
func (r *fakeAttemptRepo) ListByPost(ctx context.Context, postID int64) ([]*models.PublishAttempt, error) {
	return r.attempts, nil
}

type fakePlatformClient struct {
	createContainerID string
	createErr         error
	pollState         platform.ContainerState
	pollErr           error
	publishID         string
	publishErr        error
}

func (c *fakePlatformClient) CreateContainer(ctx context.Context, account *models.Account, mediaURL, caption, postType string) (string, error) {
	return c.createContainerID, c.createErr
}
func (c *fakePlatformClient) CreateCarouselChild(ctx context.Context, account *models.Account, itemURL string) (string, error) {
	return "child", c.createErr
}
func (c *fakePlatformClient) CreateCarouselParent(ctx context.Context, account *models.Account, childIDs []string, caption string) (string, error) {
	return c.createContainerID, c.createErr
}
func (c *fakePlatformClient) ContainerStatus(ctx context.Context, account *models.Account, containerID string) (platform.ContainerState, error) {
	return c.pollState, c.pollErr
}
func (c *fakePlatformClient) Publish(ctx context.Context, account *models.Account, containerID string) (string, error) {
	return c.publishID, c.publishErr
}
func (c *fakePlatformClient) PublishingLimit(ctx context.Context, account *models.Account) (platform.Limit, error) {
	return platform.Limit{Limit: 25}, nil
}

type fakeGovernor struct {
	err error
}

func (g *fakeGovernor) Reserve(ctx context.Context, account *models.Account, instant time.Time) error {
	return g.err
}
func (g *fakeGovernor) Invalidate(accountID int64) {}

const testKey = "0123456789abcdef0123456789abcdef"

func encryptedToken(t *testing.T, plain string) string {
	t.Helper()
	enc, err := utils.Encrypt([]byte(plain), []byte(testKey))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return enc
}

func testConfig() Config {
	return Config{
		MaxRetries:     3,
		PollInitial:    time.Millisecond,
		PollFactor:     2,
		PollCap:        5 * time.Millisecond,
		PollMaxWait:    50 * time.Millisecond,
		PublishTimeout: time.Second,
	}
}

func TestRunCreatesContainerAndPublishesToPosted(t *testing.T) {
	account := &models.Account{ID: 1, Active: true, AccessToken: encryptedToken(t, "tok")}
	post := &models.Post{ID: 1, AccountID: 1, Status: models.PostStatusLeased, PostType: models.PostTypePhoto}

	posts := newFakeFSMPostRepo(post)
	accounts := &fakeAccountRepo{accounts: map[int64]*models.Account{1: account}}
	attempts := &fakeAttemptRepo{}
	pc := &fakePlatformClient{createContainerID: "c1", pollState: platform.StateFinished, publishID: "m1"}
	gov := &fakeGovernor{}
	m := NewMachine(posts, accounts, attempts, pc, gov, clock.Real{}, testConfig(), []byte(testKey))

	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posts.posts[1].Status != models.PostStatusPosted {
		t.Fatalf("expected posted, got %s", posts.posts[1].Status)
	}
	if len(attempts.attempts) != 2 {
		t.Fatalf("expected 2 audit rows (create + publish), got %d", len(attempts.attempts))
	}
}

func TestRunFailsWhenAccessTokenCannotBeDecrypted(t *testing.T) {
	account := &models.Account{ID: 1, Active: true, AccessToken: "not-valid-ciphertext"}
	post := &models.Post{ID: 1, AccountID: 1, Status: models.PostStatusLeased}

	posts := newFakeFSMPostRepo(post)
	accounts := &fakeAccountRepo{accounts: map[int64]*models.Account{1: account}}
	attempts := &fakeAttemptRepo{}
	pc := &fakePlatformClient{}
	gov := &fakeGovernor{}
	m := NewMachine(posts, accounts, attempts, pc, gov, clock.Real{}, testConfig(), []byte(testKey))

	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posts.posts[1].Status != models.PostStatusFailed {
		t.Fatalf("expected failed, got %s", posts.posts[1].Status)
	}
	if posts.posts[1].ErrorCode != "bad_credentials" {
		t.Fatalf("expected bad_credentials error code, got %s", posts.posts[1].ErrorCode)
	}
}

func TestRunFailsPostWhenAccountFrozen(t *testing.T) {
	account := &models.Account{ID: 1, Active: false, AccessToken: encryptedToken(t, "tok")}
	post := &models.Post{ID: 1, AccountID: 1, Status: models.PostStatusLeased}

	posts := newFakeFSMPostRepo(post)
	accounts := &fakeAccountRepo{accounts: map[int64]*models.Account{1: account}}
	attempts := &fakeAttemptRepo{}
	m := NewMachine(posts, accounts, attempts, &fakePlatformClient{}, &fakeGovernor{}, clock.Real{}, testConfig(), []byte(testKey))

	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posts.posts[1].Status != models.PostStatusFailed || posts.posts[1].ErrorCode != "account_frozen" {
		t.Fatalf("expected account_frozen failure, got status=%s code=%s", posts.posts[1].Status, posts.posts[1].ErrorCode)
	}
}

func TestRunRetriesOnRateLimitedGovernor(t *testing.T) {
	account := &models.Account{ID: 1, Active: true, AccessToken: encryptedToken(t, "tok")}
	scheduledAt := time.Now().Add(-time.Hour)
	post := &models.Post{ID: 1, AccountID: 1, Status: models.PostStatusLeased, ScheduledAt: scheduledAt}

	posts := newFakeFSMPostRepo(post)
	accounts := &fakeAccountRepo{accounts: map[int64]*models.Account{1: account}}
	attempts := &fakeAttemptRepo{}
	gov := &fakeGovernor{err: apperr.RateLimitedErr(time.Minute)}
	m := NewMachine(posts, accounts, attempts, &fakePlatformClient{}, gov, clock.Real{}, testConfig(), []byte(testKey))

	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posts.posts[1].Status != models.PostStatusScheduled {
		t.Fatalf("expected scheduled (retried), got %s", posts.posts[1].Status)
	}
	if posts.posts[1].RetryCount != 1 {
		t.Fatalf("expected retry_count incremented to 1, got %d", posts.posts[1].RetryCount)
	}
	if !posts.posts[1].ScheduledAt.After(scheduledAt) {
		t.Fatal("expected scheduled_at pushed into the future on retry")
	}
}

func TestRunFailsTerminallyOnTerminalPlatformError(t *testing.T) {
	account := &models.Account{ID: 1, Active: true, AccessToken: encryptedToken(t, "tok")}
	post := &models.Post{ID: 1, AccountID: 1, Status: models.PostStatusLeased}

	posts := newFakeFSMPostRepo(post)
	accounts := &fakeAccountRepo{accounts: map[int64]*models.Account{1: account}}
	attempts := &fakeAttemptRepo{}
	pc := &fakePlatformClient{createErr: apperr.New(apperr.Terminal, "bad media")}
	m := NewMachine(posts, accounts, attempts, pc, &fakeGovernor{}, clock.Real{}, testConfig(), []byte(testKey))

	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posts.posts[1].Status != models.PostStatusFailed {
		t.Fatalf("expected failed, got %s", posts.posts[1].Status)
	}
	if posts.posts[1].ErrorCode != "terminal_platform_error" {
		t.Fatalf("expected terminal_platform_error, got %s", posts.posts[1].ErrorCode)
	}
}

func TestRunFailsAfterMaxRetriesExhausted(t *testing.T) {
	account := &models.Account{ID: 1, Active: true, AccessToken: encryptedToken(t, "tok")}
	post := &models.Post{ID: 1, AccountID: 1, Status: models.PostStatusLeased, RetryCount: 3}

	posts := newFakeFSMPostRepo(post)
	accounts := &fakeAccountRepo{accounts: map[int64]*models.Account{1: account}}
	attempts := &fakeAttemptRepo{}
	pc := &fakePlatformClient{createErr: apperr.New(apperr.Transient, "network blip")}
	cfg := testConfig()
	cfg.MaxRetries = 3
	m := NewMachine(posts, accounts, attempts, pc, &fakeGovernor{}, clock.Real{}, cfg, []byte(testKey))

	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posts.posts[1].Status != models.PostStatusFailed || posts.posts[1].ErrorCode != "retries_exhausted" {
		t.Fatalf("expected retries_exhausted failure, got status=%s code=%s", posts.posts[1].Status, posts.posts[1].ErrorCode)
	}
}

func TestRunAutoPausesAccountAfterConsecutiveFailures(t *testing.T) {
	account := &models.Account{ID: 1, Active: true, AccessToken: encryptedToken(t, "tok")}
	post := &models.Post{ID: 1, AccountID: 1, Status: models.PostStatusLeased, RetryCount: 3}

	posts := newFakeFSMPostRepo(post)
	posts.recent = []*models.Post{
		{ID: 1, Status: models.PostStatusFailed, RetryCount: 3},
		{ID: 2, Status: models.PostStatusFailed, RetryCount: 2},
		{ID: 3, Status: models.PostStatusFailed, RetryCount: 4},
	}
	accounts := &fakeAccountRepo{accounts: map[int64]*models.Account{1: account}}
	attempts := &fakeAttemptRepo{}
	pc := &fakePlatformClient{createErr: apperr.New(apperr.Transient, "network blip")}
	cfg := testConfig()
	cfg.MaxRetries = 3
	cfg.AutoPauseAfterFails = 3
	m := NewMachine(posts, accounts, attempts, pc, &fakeGovernor{}, clock.Real{}, cfg, []byte(testKey))

	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accounts.accounts[1].Active {
		t.Fatal("expected account auto-paused (deactivated)")
	}
	if posts.failAllCalls != 1 || posts.failAllCode != "account_paused" {
		t.Fatalf("expected remaining posts failed with account_paused, got calls=%d code=%s", posts.failAllCalls, posts.failAllCode)
	}
}

func TestRunDoesNotAutoPauseWhenStreakTooShort(t *testing.T) {
	account := &models.Account{ID: 1, Active: true, AccessToken: encryptedToken(t, "tok")}
	post := &models.Post{ID: 1, AccountID: 1, Status: models.PostStatusLeased, RetryCount: 3}

	posts := newFakeFSMPostRepo(post)
	posts.recent = []*models.Post{
		{ID: 1, Status: models.PostStatusFailed, RetryCount: 3},
		{ID: 2, Status: models.PostStatusFailed, RetryCount: 1},
		{ID: 3, Status: models.PostStatusFailed, RetryCount: 4},
	}
	accounts := &fakeAccountRepo{accounts: map[int64]*models.Account{1: account}}
	attempts := &fakeAttemptRepo{}
	pc := &fakePlatformClient{createErr: apperr.New(apperr.Transient, "network blip")}
	cfg := testConfig()
	cfg.MaxRetries = 3
	cfg.AutoPauseAfterFails = 3
	m := NewMachine(posts, accounts, attempts, pc, &fakeGovernor{}, clock.Real{}, cfg, []byte(testKey))

	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !accounts.accounts[1].Active {
		t.Fatal("expected account left active: one post in the streak had retry_count below the floor")
	}
	if posts.failAllCalls != 0 {
		t.Fatal("expected no auto-pause side effect")
	}
}

func TestRunIgnoresAlreadyTerminalPost(t *testing.T) {
	account := &models.Account{ID: 1, Active: true, AccessToken: encryptedToken(t, "tok")}
	post := &models.Post{ID: 1, AccountID: 1, Status: models.PostStatusPosted}

	posts := newFakeFSMPostRepo(post)
	accounts := &fakeAccountRepo{accounts: map[int64]*models.Account{1: account}}
	attempts := &fakeAttemptRepo{}
	m := NewMachine(posts, accounts, attempts, &fakePlatformClient{}, &fakeGovernor{}, clock.Real{}, testConfig(), []byte(testKey))

	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posts.posts[1].Status != models.PostStatusPosted {
		t.Fatal("Run must not touch an already-terminal post")
	}
	if len(attempts.attempts) != 0 {
		t.Fatal("expected no audit rows written for a no-op run")
	}
}
