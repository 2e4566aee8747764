package service

import (
	"context"
	"time"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
)

// AccountService implements spec.md §6's account endpoints, generalized
// from the teacher's platform/instagram services with the OAuth
// acquisition flow dropped (spec.md §1 Non-goals: "the core consumes a
// stored access token per account"). Refresh is the one surviving piece
// of that surface: a caller hands in a token it already obtained
// out-of-band and this stores it, encrypted at rest the way the
// teacher's SocialAccount.AccessToken already was.
type AccountService interface {
	List(ctx context.Context) ([]*models.Account, error)
	Refresh(ctx context.Context, accountID int64, token, timezone string) (*models.Account, error)
	Freeze(ctx context.Context, accountID int64) error
	Unfreeze(ctx context.Context, accountID int64) error
	ClearOldPosts(ctx context.Context, accountID int64) (int64, error)
	DecryptToken(account *models.Account) (string, error)
}

type accountService struct {
	accounts  repository.AccountRepository
	posts     repository.PostRepository
	clk       clock.Clock
	secretKey []byte
}

func NewAccountService(accounts repository.AccountRepository, posts repository.PostRepository, clk clock.Clock, secretKey []byte) AccountService {
	return &accountService{accounts: accounts, posts: posts, clk: clk, secretKey: secretKey}
}

func (s *accountService) List(ctx context.Context) ([]*models.Account, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "listing accounts", err)
	}
	return accounts, nil
}

// Refresh updates the stored token and/or timezone for an account. A
// zero-value field leaves the corresponding column untouched.
func (s *accountService) Refresh(ctx context.Context, accountID int64, token, timezone string) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "loading account", err)
	}
	if account == nil {
		return nil, apperr.New(apperr.NotFound, "account not found")
	}

	var encrypted string
	if token != "" {
		encrypted, err = utils.Encrypt([]byte(token), s.secretKey)
		if err != nil {
			return nil, apperr.Wrap(apperr.Transient, "encrypting access token", err)
		}
		account.AccessToken = encrypted
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, apperr.New(apperr.Validation, "unknown timezone")
		}
		account.Timezone = timezone
	}

	if err := s.accounts.UpdateCredentials(ctx, account.ID, encrypted, timezone); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "refreshing account", err)
	}
	return account, nil
}

func (s *accountService) DecryptToken(account *models.Account) (string, error) {
	return utils.Decrypt(account.AccessToken, s.secretKey)
}

// Freeze implements spec.md §4.7/§6/§8: flips active off and fails every
// non-terminal post for the account within the same call, so no publish
// for that account can succeed after this returns.
func (s *accountService) Freeze(ctx context.Context, accountID int64) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "loading account", err)
	}
	if account == nil {
		return apperr.New(apperr.NotFound, "account not found")
	}

	if err := s.accounts.SetActive(ctx, accountID, false); err != nil {
		return apperr.Wrap(apperr.Transient, "freezing account", err)
	}
	if _, err := s.posts.FailAllNonTerminalForAccount(ctx, accountID, "account_frozen"); err != nil {
		return apperr.Wrap(apperr.Transient, "failing non-terminal posts", err)
	}
	return nil
}

// Unfreeze does not revive failed posts (spec.md §4.7): callers must
// reschedule.
func (s *accountService) Unfreeze(ctx context.Context, accountID int64) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "loading account", err)
	}
	if account == nil {
		return apperr.New(apperr.NotFound, "account not found")
	}
	if err := s.accounts.SetActive(ctx, accountID, true); err != nil {
		return apperr.Wrap(apperr.Transient, "unfreezing account", err)
	}
	return nil
}

func (s *accountService) ClearOldPosts(ctx context.Context, accountID int64) (int64, error) {
	n, err := s.posts.ClearOld(ctx, accountID, s.clk.Now())
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "clearing old posts", err)
	}
	return n, nil
}
