package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/requestdata"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func newAuthService(users *fakeUsers) AuthService {
	return NewAuthService(users, "test-secret", time.Hour, logger.NewNop())
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	svc := newAuthService(newFakeUsers())

	cases := []struct {
		name string
		user *types.User
	}{
		{"missing email", &types.User{Email: "", Password: "longenough"}},
		{"malformed email", &types.User{Email: "not-an-email", Password: "longenough"}},
		{"short password", &types.User{Email: "a@b.com", Password: "short"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.RegisterUser(context.Background(), tc.user)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	users := newFakeUsers()
	svc := newAuthService(users)

	first := &types.User{Email: "dup@example.com", Password: "password123"}
	if err := svc.RegisterUser(context.Background(), first); err != nil {
		t.Fatalf("first register: %v", err)
	}
	second := &types.User{Email: "Dup@Example.com", Password: "password123"}
	if err := svc.RegisterUser(context.Background(), second); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("duplicate register err = %v, want validation error", err)
	}
}

func TestRegisterHashesPassword(t *testing.T) {
	users := newFakeUsers()
	svc := newAuthService(users)

	user := &types.User{Email: "hash@example.com", Password: "password123"}
	if err := svc.RegisterUser(context.Background(), user); err != nil {
		t.Fatalf("register: %v", err)
	}
	stored := users.byEmail["hash@example.com"]
	if stored == nil {
		t.Fatal("user not persisted")
	}
	if stored.Password == "password123" {
		t.Fatal("password stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("password123")); err != nil {
		t.Fatalf("stored hash does not match original password: %v", err)
	}
}

func TestLoginTokenRoundTrip(t *testing.T) {
	users := newFakeUsers()
	svc := newAuthService(users)

	user := &types.User{Email: "login@example.com", Password: "password123"}
	if err := svc.RegisterUser(context.Background(), user); err != nil {
		t.Fatalf("register: %v", err)
	}

	token, got, err := svc.LoginUser(context.Background(), "login@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if got.ID != user.ID {
		t.Fatalf("login returned user %s, want %s", got.ID, user.ID)
	}

	ctx, err := svc.SetContextFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if uid := requestdata.UserID(ctx); uid != user.ID {
		t.Fatalf("context user = %s, want %s", uid, user.ID)
	}
}

func TestLoginWrongPasswordUnauthorized(t *testing.T) {
	users := newFakeUsers()
	svc := newAuthService(users)

	if err := svc.RegisterUser(context.Background(), &types.User{Email: "x@example.com", Password: "password123"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, _, err := svc.LoginUser(context.Background(), "x@example.com", "wrongwrong")
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	_, _, err = svc.LoginUser(context.Background(), "unknown@example.com", "password123")
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("unknown user err = %v, want unauthorized", err)
	}
}

func TestTokenSignedWithOtherKeyRejected(t *testing.T) {
	users := newFakeUsers()
	svc := newAuthService(users)

	if err := svc.RegisterUser(context.Background(), &types.User{Email: "k@example.com", Password: "password123"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	token, _, err := svc.LoginUser(context.Background(), "k@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := NewAuthService(users, "different-secret", time.Hour, logger.NewNop())
	if _, err := other.SetContextFromToken(context.Background(), token); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("foreign-key token err = %v, want unauthorized", err)
	}

	if _, err := svc.SetContextFromToken(context.Background(), token+"tampered"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("tampered token err = %v, want unauthorized", err)
	}
	if _, err := svc.SetContextFromToken(context.Background(), ""); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("empty token err = %v, want unauthorized", err)
	}
}
