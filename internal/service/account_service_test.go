package service

import (
	"context"
	"testing"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/utils"
)

var testSecretKey = []byte("0123456789abcdef0123456789abcdef")

func TestRefreshEncryptsAndPersistsToken(t *testing.T) {
	accounts := newFakeAccountRepo(testAccount())
	posts := newFakePostRepo()
	svc := NewAccountService(accounts, posts, clock.Real{}, testSecretKey)

	updated, err := svc.Refresh(context.Background(), 1, "plain-token", "America/New_York")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.AccessToken == "plain-token" {
		t.Fatal("expected the stored token to be encrypted, not plaintext")
	}
	decrypted, err := utils.Decrypt(updated.AccessToken, testSecretKey)
	if err != nil {
		t.Fatalf("unexpected decrypt error: %v", err)
	}
	if decrypted != "plain-token" {
		t.Fatalf("got %q want %q", decrypted, "plain-token")
	}
	if updated.Timezone != "America/New_York" {
		t.Fatalf("expected timezone updated, got %q", updated.Timezone)
	}
}

func TestRefreshRejectsUnknownTimezone(t *testing.T) {
	accounts := newFakeAccountRepo(testAccount())
	posts := newFakePostRepo()
	svc := NewAccountService(accounts, posts, clock.Real{}, testSecretKey)

	if _, err := svc.Refresh(context.Background(), 1, "", "Mars/Cydonia"); apperr.CodeOf(err) != apperr.Validation {
		t.Fatalf("expected Validation error, got %v", apperr.CodeOf(err))
	}
}

func TestRefreshLeavesUntouchedFieldsAlone(t *testing.T) {
	acct := testAccount()
	acct.Timezone = "UTC"
	accounts := newFakeAccountRepo(acct)
	posts := newFakePostRepo()
	svc := NewAccountService(accounts, posts, clock.Real{}, testSecretKey)

	updated, err := svc.Refresh(context.Background(), 1, "new-token", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Timezone != "UTC" {
		t.Fatalf("expected timezone left alone, got %q", updated.Timezone)
	}
}

func TestFreezeDeactivatesAccount(t *testing.T) {
	accounts := newFakeAccountRepo(testAccount())
	posts := newFakePostRepo()
	posts.posts[1] = &models.Post{ID: 1, AccountID: 1, Status: models.PostStatusScheduled}
	svc := NewAccountService(accounts, posts, clock.Real{}, testSecretKey)

	if err := svc.Freeze(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accounts.accounts[1].Active {
		t.Fatal("expected account to be deactivated")
	}
}

func TestUnfreezeDoesNotReviveFailedPosts(t *testing.T) {
	accounts := newFakeAccountRepo(testAccount())
	accounts.accounts[1].Active = false
	posts := newFakePostRepo()
	posts.posts[1] = &models.Post{ID: 1, AccountID: 1, Status: models.PostStatusFailed}
	svc := NewAccountService(accounts, posts, clock.Real{}, testSecretKey)

	if err := svc.Unfreeze(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !accounts.accounts[1].Active {
		t.Fatal("expected account reactivated")
	}
	if posts.posts[1].Status != models.PostStatusFailed {
		t.Fatal("unfreeze must not revive failed posts")
	}
}

func TestRefreshNotFound(t *testing.T) {
	accounts := newFakeAccountRepo()
	posts := newFakePostRepo()
	svc := NewAccountService(accounts, posts, clock.Real{}, testSecretKey)

	if _, err := svc.Refresh(context.Background(), 999, "tok", ""); apperr.CodeOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", apperr.CodeOf(err))
	}
}
