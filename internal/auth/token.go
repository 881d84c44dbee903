package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"orbistack.org/internal/rbac"
)

const (
	defaultIssuer     = "orbistack"
	audienceAPI       = "orbistack-api"
	audienceRefresh   = "orbistack-refresh"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// Claims carries the identity embedded in every signed token. Access and
// refresh tokens differ only in audience and lifetime.
type Claims struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Email    string    `json:"email,omitempty"`
	Role     rbac.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuthority issues and verifies signed token pairs using a shared HS256
// secret. It keeps no state between calls and is safe for concurrent use.
type TokenAuthority struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenAuthority.
type TokenOption func(*TokenAuthority)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(a *TokenAuthority) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			a.issuer = issuer
		}
	}
}

// WithAccessTTL configures the access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(a *TokenAuthority) {
		if ttl > 0 {
			a.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(a *TokenAuthority) {
		if ttl > 0 {
			a.refreshTTL = ttl
		}
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(a *TokenAuthority) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewTokenAuthority constructs a TokenAuthority signing with secret.
func NewTokenAuthority(secret []byte, opts ...TokenOption) (*TokenAuthority, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	a := &TokenAuthority{
		secret:     secret,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// AccessTTL returns the access token lifetime.
func (a *TokenAuthority) AccessTTL() time.Duration { return a.accessTTL }

// Issue builds a signed access/refresh pair for the user. The two tokens
// share identity claims but differ in audience and expiry; each carries a
// token ID derived from the user ID and the nanosecond issuance time so rapid
// successive issuances stay distinct.
func (a *TokenAuthority) Issue(user *User) (*TokenPair, error) {
	now := a.now().UTC()
	accessExp := now.Add(a.accessTTL)

	accessClaims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{audienceAPI},
			ExpiresAt: jwt.NewNumericDate(accessExp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%s-%d", user.ID, now.UnixNano()),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshClaims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{audienceRefresh},
			ExpiresAt: jwt.NewNumericDate(now.Add(a.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("refresh-%s-%d", user.ID, now.UnixNano()),
		},
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp,
		TokenType:    "Bearer",
	}, nil
}

// Verify parses the token, checks its signature and time bounds and returns
// the claims. Tokens signed with a non-HMAC method are rejected regardless of
// signature validity.
func (a *TokenAuthority) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, classifyTokenError(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// VerifyRefresh verifies the token like Verify and additionally requires the
// refresh audience, so an access token can never mint new tokens.
func (a *TokenAuthority) VerifyRefresh(tokenString string) (string, error) {
	claims, err := a.Verify(tokenString)
	if err != nil {
		return "", err
	}
	if !hasAudience(claims.Audience, audienceRefresh) {
		return "", ErrNotRefreshToken
	}
	return claims.UserID, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, v := range aud {
		if v == want {
			return true
		}
	}
	return false
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		// nbf is always set to issuance time, so a not-yet-valid token is
		// a mint-time anomaly, not a lifetime condition.
		return ErrTokenMalformed
	default:
		return ErrTokenMalformed
	}
}
