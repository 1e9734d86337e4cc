package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/store"
)

type userLookupStub map[string]domain.UserAccount

func (s userLookupStub) FindUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	user, ok := s[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func newStubManager(t *testing.T) *AuthManager {
	t.Helper()
	users := userLookupStub{
		"admin":  {ID: 7, Username: "admin", PasswordHash: mustHashPassword(t, "admin123"), Role: roleAdmin, Active: true},
		"gudang": {ID: 8, Username: "gudang", PasswordHash: mustHashPassword(t, "gudang123"), Role: roleStaff, Active: false},
		"legacy": {ID: 9, Username: "legacy", PasswordHash: "plain-text", Role: roleStaff, Active: true},
	}
	return NewAuthManager("test-secret", time.Hour, users)
}

func TestLoginIssuesTokenCarryingUserID(t *testing.T) {
	manager := newStubManager(t)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " Admin ", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != roleAdmin {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.UserID != 7 || actor.Username != "admin" || actor.Role != roleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	manager := newStubManager(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.LoginRequest
		want error
	}{
		{name: "wrong password", req: domain.LoginRequest{Username: "admin", Password: "nope"}, want: ErrInvalidCredentials},
		{name: "unknown user", req: domain.LoginRequest{Username: "ghost", Password: "admin123"}, want: ErrInvalidCredentials},
		{name: "plain stored password", req: domain.LoginRequest{Username: "legacy", Password: "plain-text"}, want: ErrInvalidCredentials},
		{name: "inactive", req: domain.LoginRequest{Username: "gudang", Password: "gudang123"}, want: ErrInactiveAccount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := manager.Login(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestParseTokenRejectsExpiredAndForeignTokens(t *testing.T) {
	manager := newStubManager(t)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	manager.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	if _, err := manager.ParseToken(resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	other := NewAuthManager("another-secret", time.Hour, userLookupStub{})
	if _, err := other.ParseToken(resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected token signed with another secret to be rejected, got %v", err)
	}

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{Subject: "7"})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := manager.ParseToken(unsigned); err == nil {
		t.Fatalf("expected unsigned token to be rejected")
	}
}

func TestHashPasswordProducesBcrypt(t *testing.T) {
	hash, err := HashPassword("rahasia123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !isPasswordHash(hash) || !verifyPassword(hash, "rahasia123") {
		t.Fatalf("expected bcrypt hash that verifies, got %s", hash)
	}
	if verifyPassword(hash, "salah") {
		t.Fatalf("expected wrong password to fail")
	}
}
