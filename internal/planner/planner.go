// Package planner expands a weekly plan plus a media pool into concrete,
// spacing-respecting, timezone-aware schedule slots (spec.md §4.4). New
// code — the teacher never modeled batch scheduling — grounded on the
// teacher's own per-request randomness-free CreatePost flow for the
// two-phase preflight/commit shape and on the store's transaction
// pattern for per-week-chunk atomicity.
package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/maheshrc27/postflow/internal/logging"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/store"
)

const maxDailyPosts = 15

// MediaItem is one pool entry. 2-10 URLs make it a carousel; a single
// URL is a photo or reel depending on IsVideo/VideoMode.
type MediaItem struct {
	URLs    []string
	IsVideo bool
}

// Request is the input to both Preflight and Commit (spec.md §4.4).
type Request struct {
	AccountID         int64
	StartDate         time.Time // date-only, interpreted in Timezone
	EndDate           time.Time
	WeeklyPlan        map[time.Weekday]int
	Timezone          string
	RandomStartMin    int // minutes after local midnight
	RandomEndMin      int
	MinSpacingMinutes int
	MediaPool         []MediaItem
	VideoMode         string // models.PostTypeReelFeed or models.PostTypeReelOnly
	OverrideSpacing   bool
	Seed              *uint64
}

// Slot is one planned post.
type Slot struct {
	ScheduledAt time.Time // UTC
	MediaURL    string
	PostType    string
	Caption     string
}

// Conflict records a day where fewer slots were produced than requested.
type Conflict struct {
	Date      string
	Requested int
	Available int
}

// Result is the preflight/commit output (spec.md §4.4).
type Result struct {
	Slots             []Slot
	Conflicts         []Conflict
	InsufficientMedia bool
	SeedUsed          uint64
}

type Planner interface {
	Preflight(ctx context.Context, req Request) (*Result, error)
	Commit(ctx context.Context, db *sql.DB, posts repository.PostRepository, req Request, pre *Result) (created int, err error)
}

type planner struct {
	posts repository.PostRepository
}

func NewPlanner(posts repository.PostRepository) Planner {
	return &planner{posts: posts}
}

func (p *planner) Preflight(ctx context.Context, req Request) (*Result, error) {
	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", req.Timezone, err)
	}

	var seed uint64
	if req.Seed != nil {
		seed = *req.Seed
	} else {
		seed = uint64(time.Now().UnixNano())
		logging.L().Sugar().Infow("planner seed generated", "account_id", req.AccountID, "seed", seed)
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	result := &Result{SeedUsed: seed}
	mediaIdx := 0

	for d := dateOnly(req.StartDate); !d.After(dateOnly(req.EndDate)); d = d.AddDate(0, 0, 1) {
		n := clamp(req.WeeklyPlan[d.Weekday()], 0, maxDailyPosts)
		if n == 0 {
			continue
		}

		dayStart := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
		dayEnd := dayStart.Add(24 * time.Hour)

		existingMinutes, err := p.existingMinutesOnDay(ctx, req.AccountID, dayStart, dayEnd, loc)
		if err != nil {
			return nil, err
		}

		offsets := sampleOffsets(rng, n, req.RandomStartMin, req.RandomEndMin)
		offsets = repair(offsets, req.MinSpacingMinutes, req.RandomEndMin, existingMinutes, req.OverrideSpacing)

		if len(offsets) < n {
			result.Conflicts = append(result.Conflicts, Conflict{
				Date:      dayStart.Format("2006-01-02"),
				Requested: n,
				Available: len(offsets),
			})
		}

		for _, off := range offsets {
			if mediaIdx >= len(req.MediaPool) {
				result.InsufficientMedia = true
				break
			}
			item := req.MediaPool[mediaIdx]
			mediaIdx++

			slotTime := dayStart.Add(time.Duration(off) * time.Minute)
			mediaURL, postType, caption := p.classifyItem(item, req.VideoMode)

			result.Slots = append(result.Slots, Slot{
				ScheduledAt: slotTime.UTC(),
				MediaURL:    mediaURL,
				PostType:    postType,
				Caption:     caption,
			})
		}
	}

	return result, nil
}

func (p *planner) classifyItem(item MediaItem, videoMode string) (mediaURL, postType, caption string) {
	if len(item.URLs) > 1 {
		env := models.CarouselEnvelope{Type: "carousel", URLs: item.URLs}
		raw, _ := json.Marshal(env)
		return string(raw), models.PostTypeCarousel, ExtractCaption(item.URLs[0])
	}

	url := item.URLs[0]
	caption = ExtractCaption(url)
	if item.IsVideo {
		if videoMode == models.PostTypeReelOnly {
			return url, models.PostTypeReelOnly, caption
		}
		return url, models.PostTypeReelFeed, caption
	}
	return url, models.PostTypePhoto, caption
}

func (p *planner) existingMinutesOnDay(ctx context.Context, accountID int64, dayStart, dayEnd time.Time, loc *time.Location) ([]int, error) {
	posts, err := p.posts.NonTerminalBetween(ctx, accountID, dayStart.UTC(), dayEnd.UTC())
	if err != nil {
		return nil, fmt.Errorf("loading existing posts: %w", err)
	}
	minutes := make([]int, 0, len(posts))
	for _, post := range posts {
		local := post.ScheduledAt.In(loc)
		minutes = append(minutes, local.Hour()*60+local.Minute())
	}
	return minutes, nil
}

// Commit inserts the preflight's slots atomically per ISO week chunk
// (spec.md §4.4: "per-week atomicity, not per-batch").
func (p *planner) Commit(ctx context.Context, db *sql.DB, posts repository.PostRepository, req Request, pre *Result) (int, error) {
	chunks := chunkByWeek(pre.Slots)
	created := 0

	for _, chunk := range chunks {
		err := store.InTx(ctx, db, func(tx *sql.Tx) error {
			for _, slot := range chunk {
				post := &models.Post{
					AccountID:   req.AccountID,
					Platform:    models.DefaultPlatform,
					PostType:    slot.PostType,
					MediaURL:    slot.MediaURL,
					Caption:     slot.Caption,
					ScheduledAt: slot.ScheduledAt,
					Status:      models.PostStatusScheduled,
				}
				if _, _, err := posts.Create(ctx, tx, post); err != nil {
					return fmt.Errorf("inserting planned post: %w", err)
				}
				created++
			}
			return nil
		})
		if err != nil {
			return created, err
		}
	}

	return created, nil
}

func sampleOffsets(rng *rand.Rand, n, start, end int) []int {
	span := end - start
	if span <= 0 {
		span = 1
	}
	seen := make(map[int]bool, n)
	offsets := make([]int, 0, n)
	attempts := 0
	for len(offsets) < n && attempts < n*50 {
		attempts++
		v := start + rng.IntN(span+1)
		if seen[v] {
			continue
		}
		seen[v] = true
		offsets = append(offsets, v)
	}
	sort.Ints(offsets)
	return offsets
}

// repair snaps sampled offsets apart by spacing minutes and, unless
// overrideSpacing, also respects existing scheduled minutes on the same
// day. Points pushed past end are dropped (spec.md §4.4 step 3-4).
func repair(offsets []int, spacing, end int, existing []int, overrideSpacing bool) []int {
	all := append([]int{}, offsets...)
	if !overrideSpacing {
		all = append(all, existing...)
		sort.Ints(all)
	}

	repaired := make([]int, 0, len(all))
	for i, v := range all {
		if i > 0 && v-repaired[len(repaired)-1] < spacing {
			v = repaired[len(repaired)-1] + spacing
		}
		if v > end {
			continue
		}
		repaired = append(repaired, v)
	}

	if overrideSpacing {
		return repaired
	}

	existingSet := make(map[int]bool, len(existing))
	for _, e := range existing {
		existingSet[e] = true
	}
	out := make([]int, 0, len(offsets))
	for _, v := range repaired {
		if !existingSet[v] {
			out = append(out, v)
		}
	}
	return out
}

func chunkByWeek(slots []Slot) [][]Slot {
	chunks := make(map[int][]Slot)
	var order []int
	for _, s := range slots {
		year, week := s.ScheduledAt.ISOWeek()
		key := year*100 + week
		if _, ok := chunks[key]; !ok {
			order = append(order, key)
		}
		chunks[key] = append(chunks[key], s)
	}
	sort.Ints(order)
	result := make([][]Slot, 0, len(order))
	for _, key := range order {
		result = append(result, chunks[key])
	}
	return result
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
