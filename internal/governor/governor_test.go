package governor

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/repository"
)

type fakeClient struct {
	limit       platform.Limit
	limitErr    error
	limitCalls  int
}

func (f *fakeClient) CreateContainer(ctx context.Context, account *models.Account, mediaURL, caption, postType string) (string, error) {
	return "", nil
}
func (f *fakeClient) CreateCarouselChild(ctx context.Context, account *models.Account, itemURL string) (string, error) {
	return "", nil
}
func (f *fakeClient) CreateCarouselParent(ctx context.Context, account *models.Account, childIDs []string, caption string) (string, error) {
	return "", nil
}
func (f *fakeClient) ContainerStatus(ctx context.Context, account *models.Account, containerID string) (platform.ContainerState, error) {
	return "", nil
}
func (f *fakeClient) Publish(ctx context.Context, account *models.Account, containerID string) (string, error) {
	return "", nil
}
func (f *fakeClient) PublishingLimit(ctx context.Context, account *models.Account) (platform.Limit, error) {
	f.limitCalls++
	return f.limit, f.limitErr
}

type fakeGovernorPostRepo struct {
	count int
}

func (r *fakeGovernorPostRepo) Create(ctx context.Context, tx *sql.Tx, p *models.Post) (int64, bool, error) {
	return 0, false, nil
}
func (r *fakeGovernorPostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	return nil, nil
}
func (r *fakeGovernorPostRepo) Range(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error) {
	return nil, nil
}
func (r *fakeGovernorPostRepo) NonTerminalBetween(ctx context.Context, accountID int64, start, end time.Time) ([]*models.Post, error) {
	posts := make([]*models.Post, r.count)
	for i := range posts {
		posts[i] = &models.Post{ID: int64(i + 1)}
	}
	return posts, nil
}
func (r *fakeGovernorPostRepo) RecentForAccount(ctx context.Context, accountID int64, limit int) ([]*models.Post, error) {
	return nil, nil
}
func (r *fakeGovernorPostRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return nil
}
func (r *fakeGovernorPostRepo) CompareAndSetStatus(ctx context.Context, id int64, expected, next string) (bool, error) {
	return false, nil
}
func (r *fakeGovernorPostRepo) ClaimDue(ctx context.Context, now time.Time, grace time.Duration, batchSize int) ([]int64, error) {
	return nil, nil
}
func (r *fakeGovernorPostRepo) ReclaimExpiredLeases(ctx context.Context, now time.Time, leaseTTL time.Duration) (int64, error) {
	return 0, nil
}
func (r *fakeGovernorPostRepo) BulkDelete(ctx context.Context, ids []int64) (int64, error) {
	return 0, nil
}
func (r *fakeGovernorPostRepo) DeleteAfter(ctx context.Context, accountID int64, after time.Time) (int64, error) {
	return 0, nil
}
func (r *fakeGovernorPostRepo) ClearOld(ctx context.Context, accountID int64, now time.Time) (int64, error) {
	return 0, nil
}
func (r *fakeGovernorPostRepo) FailAllNonTerminalForAccount(ctx context.Context, accountID int64, errorCode string) (int64, error) {
	return 0, nil
}
func (r *fakeGovernorPostRepo) Remove(ctx context.Context, id int64) error { return nil }

var _ repository.PostRepository = (*fakeGovernorPostRepo)(nil)

func testAccount() *models.Account {
	return &models.Account{ID: 1, Timezone: "UTC"}
}

func TestReserveRejectsLocalDailyCap(t *testing.T) {
	posts := &fakeGovernorPostRepo{count: DailyCap}
	client := &fakeClient{limit: platform.Limit{Used: 0, Limit: 25, WindowResetAt: time.Now().Add(time.Hour)}}
	g := NewGovernor(client, posts, nil, clock.Real{})

	err := g.Reserve(context.Background(), testAccount(), time.Now())
	if err == nil {
		t.Fatal("expected daily cap error")
	}
}

func TestReserveRejectsRemoteQuotaExhausted(t *testing.T) {
	posts := &fakeGovernorPostRepo{count: 0}
	client := &fakeClient{limit: platform.Limit{Used: 25, Limit: 25, WindowResetAt: time.Now().Add(time.Hour)}}
	g := NewGovernor(client, posts, nil, clock.Real{})

	err := g.Reserve(context.Background(), testAccount(), time.Now())
	if err == nil {
		t.Fatal("expected remote quota error")
	}
}

func TestReserveCachesRemoteQuotaBetweenCalls(t *testing.T) {
	posts := &fakeGovernorPostRepo{count: 0}
	client := &fakeClient{limit: platform.Limit{Used: 0, Limit: 25, WindowResetAt: time.Now().Add(time.Hour)}}
	g := NewGovernor(client, posts, nil, clock.Real{})

	for i := 0; i < 3; i++ {
		if err := g.Reserve(context.Background(), testAccount(), time.Now()); err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
	}
	if client.limitCalls != 1 {
		t.Fatalf("expected PublishingLimit called once across 3 Reserve calls, got %d", client.limitCalls)
	}
}

func TestReserveIsSafeForConcurrentAccounts(t *testing.T) {
	posts := &fakeGovernorPostRepo{count: 0}
	client := &fakeClient{limit: platform.Limit{Used: 0, Limit: 25, WindowResetAt: time.Now().Add(time.Hour)}}
	g := NewGovernor(client, posts, nil, clock.Real{})

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(accountID int64) {
			defer wg.Done()
			acct := &models.Account{ID: accountID, Timezone: "UTC"}
			for j := 0; j < 10; j++ {
				if err := g.Reserve(context.Background(), acct, time.Now()); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				g.Invalidate(accountID)
			}
		}(i)
	}
	wg.Wait()
}

func TestInvalidateForcesRefreshOnNextReserve(t *testing.T) {
	posts := &fakeGovernorPostRepo{count: 0}
	client := &fakeClient{limit: platform.Limit{Used: 0, Limit: 25, WindowResetAt: time.Now().Add(time.Hour)}}
	g := NewGovernor(client, posts, nil, clock.Real{})

	if err := g.Reserve(context.Background(), testAccount(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.Invalidate(1)
	if err := g.Reserve(context.Background(), testAccount(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.limitCalls != 2 {
		t.Fatalf("expected PublishingLimit called again after Invalidate, got %d calls", client.limitCalls)
	}
}
