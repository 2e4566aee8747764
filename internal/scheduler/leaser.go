// Package scheduler implements the due-work leaser and lease watchdog of
// spec.md §4.6, wired on the teacher's robfig/cron job pattern (see
// internal/jobs/token_refresh_job.go: a struct holding its dependencies,
// one exported method invoked by cron.AddFunc). The SKIP LOCKED claim
// itself lives in the Store (repository.PostRepository.ClaimDue); this
// package owns the cadence and the hand-off into the asynq queue.
package scheduler

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/logging"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
)

// Config holds the tunables of spec.md §4.6/§5.
type Config struct {
	TickInterval time.Duration
	LeaseTTL     time.Duration
	BatchSize    int
	Grace        time.Duration
}

// Leaser is a single logical process that polls for due posts and hands
// them to the worker pool via asynq (spec.md §4.6). Any number of
// leasers may run concurrently — SKIP LOCKED makes dispatch at-most-once
// regardless of count.
type Leaser struct {
	posts       repository.PostRepository
	asynqClient *asynq.Client
	clk         clock.Clock
	cfg         Config
}

func NewLeaser(posts repository.PostRepository, asynqClient *asynq.Client, clk clock.Clock, cfg Config) *Leaser {
	return &Leaser{posts: posts, asynqClient: asynqClient, clk: clk, cfg: cfg}
}

// Tick runs one leasing pass: claim due posts, enqueue each for FSM
// processing. Safe to call concurrently from multiple leaser processes.
func (l *Leaser) Tick() {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TickInterval)
	defer cancel()

	ids, err := l.posts.ClaimDue(ctx, l.clk.Now(), l.cfg.Grace, l.cfg.BatchSize)
	if err != nil {
		logging.L().Sugar().Errorw("leaser tick failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	logging.L().Sugar().Infow("leased posts for publish", "count", len(ids))
	for _, id := range ids {
		err := queue.EnqueuePublish(l.asynqClient, queue.PublishPostPayload{PostID: id}, 0)
		if err != nil {
			logging.L().Sugar().Errorw("failed to enqueue leased post", "post_id", id, "error", err)
		}
	}
}

// WatchdogSweep reclaims leases that have outlived LeaseTTL (spec.md
// §4.6/§8: a dead worker's post becomes schedulable again within
// 2×LeaseTTL when the sweep runs every TickInterval).
func (l *Leaser) WatchdogSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TickInterval)
	defer cancel()

	n, err := l.posts.ReclaimExpiredLeases(ctx, l.clk.Now(), l.cfg.LeaseTTL)
	if err != nil {
		logging.L().Sugar().Errorw("watchdog sweep failed", "error", err)
		return
	}
	if n > 0 {
		logging.L().Sugar().Infow("watchdog reclaimed expired leases", "count", n)
	}
}
