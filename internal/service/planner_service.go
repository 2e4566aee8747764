package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/planner"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// PlannerService adapts the wire-level batch preflight/commit payloads of
// spec.md §6 into planner.Request, resolving the account's timezone the
// way post_service does for single-post scheduling.
type PlannerService interface {
	Preflight(ctx context.Context, req *transfer.BatchPreflightRequest) (*planner.Result, error)
	Commit(ctx context.Context, req *transfer.BatchCommitRequest) (int, error)
}

type plannerService struct {
	db       *sql.DB
	p        planner.Planner
	posts    repository.PostRepository
	accounts repository.AccountRepository
}

func NewPlannerService(db *sql.DB, p planner.Planner, posts repository.PostRepository, accounts repository.AccountRepository) PlannerService {
	return &plannerService{db: db, p: p, posts: posts, accounts: accounts}
}

func (s *plannerService) Preflight(ctx context.Context, req *transfer.BatchPreflightRequest) (*planner.Result, error) {
	preq, err := s.toRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := s.p.Preflight(ctx, *preq)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "preflight failed", err)
	}
	return result, nil
}

func (s *plannerService) Commit(ctx context.Context, req *transfer.BatchCommitRequest) (int, error) {
	preq, err := s.toRequest(ctx, &req.BatchPreflightRequest)
	if err != nil {
		return 0, err
	}
	result, err := s.p.Preflight(ctx, *preq)
	if err != nil {
		return 0, apperr.Wrap(apperr.Validation, "preflight failed", err)
	}
	created, err := s.p.Commit(ctx, s.db, s.posts, *preq, result)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "commit failed", err)
	}
	return created, nil
}

func (s *plannerService) toRequest(ctx context.Context, req *transfer.BatchPreflightRequest) (*planner.Request, error) {
	account, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "loading account", err)
	}
	if account == nil {
		return nil, apperr.New(apperr.NotFound, "account not found")
	}

	loc, err := time.LoadLocation(account.Timezone)
	if err != nil {
		loc = time.UTC
	}

	start, err := time.ParseInLocation("2006-01-02", req.StartDate, loc)
	if err != nil {
		return nil, apperr.New(apperr.Validation, "invalid start_date")
	}
	end, err := time.ParseInLocation("2006-01-02", req.EndDate, loc)
	if err != nil {
		return nil, apperr.New(apperr.Validation, "invalid end_date")
	}

	weeklyPlan := make(map[time.Weekday]int, len(req.WeeklyPlan))
	for name, count := range req.WeeklyPlan {
		if wd, ok := weekdayNames[name]; ok {
			weeklyPlan[wd] = count
		}
	}

	randomStart, err := parseClock(req.RandomStart, 9*60)
	if err != nil {
		return nil, apperr.New(apperr.Validation, "invalid random_start")
	}
	randomEnd, err := parseClock(req.RandomEnd, 21*60)
	if err != nil {
		return nil, apperr.New(apperr.Validation, "invalid random_end")
	}

	pool := make([]planner.MediaItem, 0, len(req.MediaURLs))
	for _, m := range req.MediaURLs {
		pool = append(pool, planner.MediaItem{URLs: m.URLs, IsVideo: m.IsVideo})
	}

	return &planner.Request{
		AccountID:         req.AccountID,
		StartDate:         start,
		EndDate:           end,
		WeeklyPlan:        weeklyPlan,
		Timezone:          account.Timezone,
		RandomStartMin:    randomStart,
		RandomEndMin:      randomEnd,
		MinSpacingMinutes: req.MinSpacingMinutes,
		MediaPool:         pool,
		VideoMode:         req.VideoMode,
		OverrideSpacing:   req.OverrideSpacing,
		Seed:              req.Seed,
	}, nil
}

// parseClock parses an "HH:MM" local time-of-day into minutes since
// midnight, the unit planner.Request expects.
func parseClock(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
