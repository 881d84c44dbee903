package auth

import (
	"errors"
	"testing"
	"time"

	"orbistack.org/internal/rbac"
)

var testUser = &User{
	ID:       "01J5TESTUSER00000000000000",
	Username: "amina",
	Email:    "amina@example.com",
	Role:     rbac.RoleOperator,
	Enabled:  true,
}

func newTestAuthority(t *testing.T, opts ...TokenOption) *TokenAuthority {
	t.Helper()
	a, err := NewTokenAuthority([]byte("unit-test-secret"), opts...)
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	return a
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	a := newTestAuthority(t)

	pair, err := a.Issue(testUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}
	if pair.TokenType != "Bearer" {
		t.Fatalf("expected Bearer token type, got %q", pair.TokenType)
	}

	claims, err := a.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != testUser.ID {
		t.Fatalf("expected user id %s, got %s", testUser.ID, claims.UserID)
	}
	if claims.Username != testUser.Username || claims.Email != testUser.Email {
		t.Fatal("identity claims do not match the user")
	}
	if claims.Role != testUser.Role {
		t.Fatalf("expected role %s, got %s", testUser.Role, claims.Role)
	}
	if claims.Issuer != "orbistack" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	a := newTestAuthority(t)
	pair, err := a.Issue(testUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := newTestAuthority(t)
	other.secret = []byte("a-different-secret")
	if _, err := other.Verify(pair.AccessToken); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature, got %v", err)
	}

	if _, err := a.Verify("not.a.token"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := issued
	a := newTestAuthority(t, WithAccessTTL(15*time.Minute), WithTokenClock(func() time.Time { return clock }))

	pair, err := a.Issue(testUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock = issued.Add(14 * time.Minute)
	if _, err := a.Verify(pair.AccessToken); err != nil {
		t.Fatalf("token should still be valid at 14m: %v", err)
	}

	clock = issued.Add(16 * time.Minute)
	if _, err := a.Verify(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyNotYetValidToken(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := issued
	a := newTestAuthority(t, WithTokenClock(func() time.Time { return clock }))

	pair, err := a.Issue(testUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock = issued.Add(-time.Minute)
	_, err = a.Verify(pair.AccessToken)
	if !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
	if errors.Is(err, ErrTokenExpired) {
		t.Fatal("a not-yet-valid token must not read as expired")
	}
}

func TestVerifyRefreshRejectsAccessToken(t *testing.T) {
	a := newTestAuthority(t)
	pair, err := a.Issue(testUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := a.VerifyRefresh(pair.AccessToken); !errors.Is(err, ErrNotRefreshToken) {
		t.Fatalf("expected ErrNotRefreshToken, got %v", err)
	}

	userID, err := a.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if userID != testUser.ID {
		t.Fatalf("expected user id %s, got %s", testUser.ID, userID)
	}
}

func TestRefreshOutlivesAccessToken(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := issued
	a := newTestAuthority(t,
		WithAccessTTL(15*time.Minute),
		WithRefreshTTL(24*time.Hour),
		WithTokenClock(func() time.Time { return clock }))

	pair, err := a.Issue(testUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock = issued.Add(time.Hour)
	if _, err := a.Verify(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired access token, got %v", err)
	}
	if _, err := a.VerifyRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("refresh token should remain valid: %v", err)
	}
}
