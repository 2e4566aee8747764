// Package fsm drives a single post through the external publish
// workflow of spec.md §4.7: create-container → poll-status → publish,
// with retry, backoff, and terminal-failure classification. Grounded on
// the teacher's instagram_service.go call sequence (single vs carousel
// media creation, then a publish call), restructured into one step per
// persisted status: Run dispatches on the post's stored status, and each
// step makes its platform calls and commits its own transition by
// compare-and-set, so a successor worker resumes from the stored state.
// There is no separate pure next(state, event) transition function.
package fsm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/governor"
	"github.com/maheshrc27/postflow/internal/logging"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
)

// Config holds the poll/backoff constants of spec.md §4.7 step 3 and §7.
type Config struct {
	MaxRetries     int
	PollInitial    time.Duration
	PollFactor     float64
	PollCap        time.Duration
	PollMaxWait    time.Duration
	PublishTimeout time.Duration

	// AutoPauseAfterFails freezes an account once this many of its most
	// recent posts all landed on failed with retry_count >= autoPauseMinRetries;
	// 0 disables the check. See maybeAutoPause.
	AutoPauseAfterFails int
}

// autoPauseMinRetries mirrors the original worker's fixed threshold: a post
// only counts toward an account's auto-pause streak once it has already
// been retried at least this many times, so a single unlucky post doesn't
// pause an otherwise healthy account.
const autoPauseMinRetries = 2

// Machine drives one post's FSM transitions. One Machine is shared
// across all workers; all per-post state lives on the Post row itself,
// which is what makes a crashed worker's resume idempotent.
type Machine struct {
	posts    repository.PostRepository
	accounts repository.AccountRepository
	attempts repository.PublishAttemptRepository
	pc       platform.Client
	gov      governor.Governor
	clk      clock.Clock
	cfg      Config

	// secretKey decrypts Account.AccessToken, which is stored at rest
	// encrypted (internal/service.AccountService.Refresh), the same key
	// the teacher's instagram_service.go uses to decrypt before every
	// platform call.
	secretKey []byte
}

func NewMachine(
	posts repository.PostRepository,
	accounts repository.AccountRepository,
	attempts repository.PublishAttemptRepository,
	pc platform.Client,
	gov governor.Governor,
	clk clock.Clock,
	cfg Config,
	secretKey []byte,
) *Machine {
	return &Machine{posts: posts, accounts: accounts, attempts: attempts, pc: pc, gov: gov, clk: clk, cfg: cfg, secretKey: secretKey}
}

// Run advances post id through however many FSM steps complete within
// one call: lease→publishing (container creation), then polling through
// to posted or failed. Cancellation is observed via compare-and-set
// before each externally visible transition (spec.md §4.6/§9).
func (m *Machine) Run(ctx context.Context, postID int64) error {
	post, err := m.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil || !models.NonTerminalStatuses[post.Status] {
		return nil
	}

	account, err := m.accounts.GetByID(ctx, post.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return m.terminalFail(ctx, post, "account_missing", "account no longer exists")
	}
	if !account.Active {
		return m.failAccountFrozen(ctx, post)
	}

	decrypted, err := utils.Decrypt(account.AccessToken, m.secretKey)
	if err != nil {
		return m.terminalFail(ctx, post, "bad_credentials", "stored access token could not be decrypted")
	}
	account.AccessToken = decrypted

	switch post.Status {
	case models.PostStatusLeased:
		return m.stepCreate(ctx, post, account)
	case models.PostStatusPublishing:
		return m.stepPollAndPublish(ctx, post, account)
	}
	return nil
}

func (m *Machine) stepCreate(ctx context.Context, post *models.Post, account *models.Account) error {
	if err := m.gov.Reserve(ctx, account, m.clk.Now()); err != nil {
		if e, ok := apperr.As(err); ok && e.Code == apperr.RateLimited {
			return m.retry(ctx, post, models.PostStatusLeased, "rate_limited", e.RetryAfter)
		}
		return m.retry(ctx, post, models.PostStatusLeased, "governor_error", 0)
	}

	containerID, err := m.createContainer(ctx, post, account)
	if err != nil {
		return m.handlePlatformError(ctx, post, models.PostStatusLeased, err)
	}

	ok, err := m.posts.CompareAndSetStatus(ctx, post.ID, models.PostStatusLeased, models.PostStatusPublishing)
	if err != nil {
		return err
	}
	if !ok {
		logging.L().Sugar().Infow("post left leased state before container commit, aborting", "post_id", post.ID)
		return nil
	}

	result := models.PublishResult{ContainerID: containerID}
	raw, _ := json.Marshal(result)
	if err := m.posts.UpdateFields(ctx, post.ID, map[string]interface{}{"publish_result": raw}); err != nil {
		return err
	}
	m.audit(ctx, post, models.PostStatusLeased, models.PostStatusPublishing, "create_container", "")

	post.Status = models.PostStatusPublishing
	post.PublishResult = raw
	return m.stepPollAndPublish(ctx, post, account)
}

func (m *Machine) createContainer(ctx context.Context, post *models.Post, account *models.Account) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	defer cancel()

	if post.PostType != models.PostTypeCarousel {
		return m.pc.CreateContainer(callCtx, account, post.MediaURL, post.Caption, post.PostType)
	}

	var envelope models.CarouselEnvelope
	if err := json.Unmarshal([]byte(post.MediaURL), &envelope); err != nil {
		return "", apperr.Wrap(apperr.Terminal, "invalid carousel envelope", err)
	}

	childIDs := make([]string, 0, len(envelope.URLs))
	for _, url := range envelope.URLs {
		childID, err := m.pc.CreateCarouselChild(callCtx, account, url)
		if err != nil {
			return "", err
		}
		childIDs = append(childIDs, childID)
	}
	return m.pc.CreateCarouselParent(callCtx, account, childIDs, post.Caption)
}

func (m *Machine) stepPollAndPublish(ctx context.Context, post *models.Post, account *models.Account) error {
	var result models.PublishResult
	if err := json.Unmarshal(post.PublishResult, &result); err != nil || result.ContainerID == "" {
		return m.terminalFail(ctx, post, "invalid_state", "publishing post missing container_id")
	}

	state, err := m.pollUntilSettled(ctx, account, result.ContainerID)
	if err != nil {
		return m.handlePlatformError(ctx, post, models.PostStatusPublishing, err)
	}

	switch state {
	case platform.StateError, platform.StateExpired:
		return m.handlePlatformError(ctx, post, models.PostStatusPublishing,
			apperr.New(apperr.Terminal, fmt.Sprintf("container ended in state %s", state)))
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	defer cancel()
	mediaID, err := m.pc.Publish(callCtx, account, result.ContainerID)
	if err != nil {
		return m.handlePlatformError(ctx, post, models.PostStatusPublishing, err)
	}

	ok, err := m.posts.CompareAndSetStatus(ctx, post.ID, models.PostStatusPublishing, models.PostStatusPosted)
	if err != nil {
		return err
	}
	if !ok {
		logging.L().Sugar().Infow("post left publishing state before posted commit", "post_id", post.ID)
		return nil
	}

	result.PlatformMediaID = mediaID
	raw, _ := json.Marshal(result)
	if err := m.posts.UpdateFields(ctx, post.ID, map[string]interface{}{"publish_result": raw}); err != nil {
		return err
	}
	m.audit(ctx, post, models.PostStatusPublishing, models.PostStatusPosted, "publish", "")
	return nil
}

func (m *Machine) pollUntilSettled(ctx context.Context, account *models.Account, containerID string) (platform.ContainerState, error) {
	deadline := m.clk.Now().Add(m.cfg.PollMaxWait)
	wait := m.cfg.PollInitial

	for {
		state, err := m.pc.ContainerStatus(ctx, account, containerID)
		if err != nil {
			return "", err
		}
		if state != platform.StateInProgress {
			return state, nil
		}
		if m.clk.Now().Add(wait).After(deadline) {
			return platform.StateExpired, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}

		wait = time.Duration(float64(wait) * m.cfg.PollFactor)
		if wait > m.cfg.PollCap {
			wait = m.cfg.PollCap
		}
	}
}

// handlePlatformError implements spec.md §7's retry/terminal split: a
// Transient or RateLimited error retries with backoff up to MaxRetries,
// anything else (Terminal, or retries exhausted) fails the post.
func (m *Machine) handlePlatformError(ctx context.Context, post *models.Post, fromStatus string, err error) error {
	code := apperr.CodeOf(err)

	if code != apperr.Transient && code != apperr.RateLimited {
		return m.terminalFailFrom(ctx, post, fromStatus, "terminal_platform_error", err.Error())
	}
	if code == apperr.RateLimited {
		m.gov.Invalidate(post.AccountID)
	}

	if post.RetryCount >= m.cfg.MaxRetries {
		return m.terminalFailFrom(ctx, post, fromStatus, "retries_exhausted", err.Error())
	}

	retryAfter := time.Duration(0)
	if e, ok := apperr.As(err); ok {
		retryAfter = e.RetryAfter
	}
	return m.retry(ctx, post, fromStatus, "platform_error", retryAfter)
}

// retry returns the post to scheduled with exponential+jittered delay
// folded into scheduled_at (spec.md §4.7 step 5).
func (m *Machine) retry(ctx context.Context, post *models.Post, fromStatus, reason string, minDelay time.Duration) error {
	ok, err := m.posts.CompareAndSetStatus(ctx, post.ID, fromStatus, models.PostStatusScheduled)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	delay := backoff(post.RetryCount, m.cfg.PollInitial, m.cfg.PollCap)
	if minDelay > delay {
		delay = minDelay
	}
	next := m.clk.Now().Add(delay)
	if next.Before(post.ScheduledAt) {
		next = post.ScheduledAt
	}

	err = m.posts.UpdateFields(ctx, post.ID, map[string]interface{}{
		"scheduled_at": next,
		"retry_count":  post.RetryCount + 1,
		"error_code":   reason,
		"locked_at":    nil,
	})
	if err != nil {
		return err
	}
	m.audit(ctx, post, fromStatus, models.PostStatusScheduled, reason, "")
	return nil
}

func (m *Machine) terminalFail(ctx context.Context, post *models.Post, code, message string) error {
	return m.terminalFailFrom(ctx, post, post.Status, code, message)
}

func (m *Machine) terminalFailFrom(ctx context.Context, post *models.Post, fromStatus, code, message string) error {
	ok, err := m.posts.CompareAndSetStatus(ctx, post.ID, fromStatus, models.PostStatusFailed)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := m.posts.UpdateFields(ctx, post.ID, map[string]interface{}{"error_code": code, "locked_at": nil}); err != nil {
		return err
	}
	m.audit(ctx, post, fromStatus, models.PostStatusFailed, code, message)
	if code != "account_frozen" {
		m.maybeAutoPause(ctx, post.AccountID)
	}
	return nil
}

func (m *Machine) failAccountFrozen(ctx context.Context, post *models.Post) error {
	return m.terminalFail(ctx, post, "account_frozen", "account is frozen")
}

// maybeAutoPause generalizes the original worker's _maybe_auto_pause: once
// an account's most recent AutoPauseAfterFails posts have all ended up
// failed with retry_count >= autoPauseMinRetries, the account is frozen and
// its remaining scheduled work is failed immediately (account_paused)
// instead of being left to exhaust the same failure on every post.
func (m *Machine) maybeAutoPause(ctx context.Context, accountID int64) {
	if m.cfg.AutoPauseAfterFails <= 0 {
		return
	}

	recent, err := m.posts.RecentForAccount(ctx, accountID, m.cfg.AutoPauseAfterFails)
	if err != nil {
		logging.L().Sugar().Warnw("auto-pause check failed to load recent posts", "account_id", accountID, "error", err)
		return
	}
	if len(recent) < m.cfg.AutoPauseAfterFails {
		return
	}
	for _, p := range recent {
		if p.Status != models.PostStatusFailed || p.RetryCount < autoPauseMinRetries {
			return
		}
	}

	if err := m.accounts.SetActive(ctx, accountID, false); err != nil {
		logging.L().Sugar().Warnw("auto-pause failed to deactivate account", "account_id", accountID, "error", err)
		return
	}
	if _, err := m.posts.FailAllNonTerminalForAccount(ctx, accountID, "account_paused"); err != nil {
		logging.L().Sugar().Warnw("auto-pause failed to fail remaining posts", "account_id", accountID, "error", err)
	}
	logging.L().Sugar().Infow("account auto-paused after consecutive publish failures", "account_id", accountID)
}

func (m *Machine) audit(ctx context.Context, post *models.Post, from, to, event, errMsg string) {
	_, err := m.attempts.Create(ctx, nil, &models.PublishAttempt{
		PostID:       post.ID,
		AccountID:    post.AccountID,
		FromStatus:   from,
		ToStatus:     to,
		Event:        event,
		ErrorMessage: errMsg,
	})
	if err != nil {
		logging.L().Sugar().Warnw("failed to write publish attempt audit row", "post_id", post.ID, "error", err)
	}
}
