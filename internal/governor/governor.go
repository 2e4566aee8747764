// Package governor enforces the two publishing budgets of spec.md §4.3:
// the platform's rolling 24h quota and the per-account per-day local
// cap. The local cap check is grounded on the Store's NonTerminalBetween
// range query; the remote quota cache is new code (the teacher never
// modeled a quota governor) mirrored into Redis so a restart doesn't
// immediately re-hit the platform for every account's first publish.
package governor

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/repository"
)

const DailyCap = 15

type cachedLimit struct {
	Used          int       `json:"used"`
	Limit         int       `json:"limit"`
	WindowResetAt time.Time `json:"window_reset_at"`
	CachedAt      time.Time `json:"cached_at"`
}

// Governor is consulted at publish time, not at schedule time (spec.md
// §4.3) — the local cap invariant is already enforced when a post is
// created or moved.
type Governor interface {
	Reserve(ctx context.Context, account *models.Account, instant time.Time) error
	Invalidate(accountID int64)
}

type governor struct {
	pc    platform.Client
	posts repository.PostRepository
	rdb   *redis.Client
	clk   clock.Clock

	// mem is read/written from checkRemoteQuota for every account's
	// publish attempt, which run concurrently across the worker pool
	// (spec.md §5 only serializes work within an account); mu guards it
	// the same way accountLimiters in platform/client.go guards its
	// per-account keyed map.
	mu  sync.Mutex
	mem map[int64]cachedLimit
}

// NewGovernor builds a Governor. rdb may be nil — the in-process cache
// still works standalone; Redis only adds cross-process reconciliation
// when multiple API/scheduler processes share one account set.
func NewGovernor(pc platform.Client, posts repository.PostRepository, rdb *redis.Client, clk clock.Clock) Governor {
	return &governor{
		pc:    pc,
		posts: posts,
		rdb:   rdb,
		clk:   clk,
		mem:   make(map[int64]cachedLimit),
	}
}

func (g *governor) Reserve(ctx context.Context, account *models.Account, instant time.Time) error {
	if err := g.checkLocalCap(ctx, account, instant); err != nil {
		return err
	}
	return g.checkRemoteQuota(ctx, account)
}

func (g *governor) checkLocalCap(ctx context.Context, account *models.Account, instant time.Time) error {
	loc, err := time.LoadLocation(account.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := instant.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.Add(24 * time.Hour)

	posts, err := g.posts.NonTerminalBetween(ctx, account.ID, dayStart.UTC(), dayEnd.UTC())
	if err != nil {
		return apperr.Wrap(apperr.Transient, "checking daily cap", err)
	}
	if len(posts) >= DailyCap {
		return apperr.New(apperr.Conflict, "daily cap exceeded")
	}
	return nil
}

func (g *governor) checkRemoteQuota(ctx context.Context, account *models.Account) error {
	limit, err := g.get(ctx, account.ID)
	now := g.clk.Now()
	if err != nil || now.Sub(limit.CachedAt) > 5*time.Minute || limit.WindowResetAt.Before(now) {
		fresh, err := g.pc.PublishingLimit(ctx, account)
		if err != nil {
			return err
		}
		limit = cachedLimit{Used: fresh.Used, Limit: fresh.Limit, WindowResetAt: fresh.WindowResetAt, CachedAt: now}
		g.set(ctx, account.ID, limit)
	}

	if limit.Used >= limit.Limit {
		retryAfter := limit.WindowResetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return apperr.RateLimitedErr(retryAfter)
	}
	return nil
}

func (g *governor) get(ctx context.Context, accountID int64) (cachedLimit, error) {
	g.mu.Lock()
	cl, ok := g.mem[accountID]
	g.mu.Unlock()
	if ok {
		return cl, nil
	}
	if g.rdb == nil {
		return cachedLimit{}, redis.Nil
	}

	raw, err := g.rdb.Get(ctx, redisKey(accountID)).Bytes()
	if err != nil {
		return cachedLimit{}, err
	}
	if err := json.Unmarshal(raw, &cl); err != nil {
		return cachedLimit{}, err
	}
	g.mu.Lock()
	g.mem[accountID] = cl
	g.mu.Unlock()
	return cl, nil
}

func (g *governor) set(ctx context.Context, accountID int64, cl cachedLimit) {
	g.mu.Lock()
	g.mem[accountID] = cl
	g.mu.Unlock()
	if g.rdb == nil {
		return
	}
	raw, err := json.Marshal(cl)
	if err != nil {
		return
	}
	g.rdb.Set(ctx, redisKey(accountID), raw, 10*time.Minute)
}

// Invalidate drops the cached remote quota so the next Reserve call
// refreshes it — called whenever the platform itself returns a quota
// error outside the governor's own check (spec.md §4.3: "refreshes ...
// whenever the platform returns a quota error").
func (g *governor) Invalidate(accountID int64) {
	g.mu.Lock()
	delete(g.mem, accountID)
	g.mu.Unlock()
	if g.rdb != nil {
		g.rdb.Del(context.Background(), redisKey(accountID))
	}
}

func redisKey(accountID int64) string {
	return "postflow:quota:" + strconv.FormatInt(accountID, 10)
}
