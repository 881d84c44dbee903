package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"orbistack.org/internal/audit"
	"orbistack.org/internal/obs"
	"orbistack.org/internal/rbac"
	"orbistack.org/internal/session"
)

const sessionIDLength = 32

// Service composes the hasher, token authority, user repository, audit
// recorder and optional session store into the login surface. It keeps no
// mutable state and is safe for concurrent use.
type Service struct {
	users    UserRepository
	hasher   *Hasher
	tokens   *TokenAuthority
	recorder audit.Recorder
	sessions session.Store
	limiter  *rate.Limiter
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithSessionStore enables server-side session registration and revocation.
func WithSessionStore(store session.Store) ServiceOption {
	return func(s *Service) { s.sessions = store }
}

// WithLoginRateLimit throttles login attempts with a token bucket. Throttled
// attempts fail fast before any repository access.
func WithLoginRateLimit(perSecond float64, burst int) ServiceOption {
	return func(s *Service) {
		if perSecond > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth service.
func NewService(users UserRepository, hasher *Hasher, tokens *TokenAuthority, recorder audit.Recorder, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user repository is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: hasher is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token authority is required")
	}
	svc := &Service{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// LoginRequest contains login credentials plus client metadata for auditing.
type LoginRequest struct {
	Username  string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResponse contains the result of a successful login.
type LoginResponse struct {
	User      *User
	Tokens    *TokenPair
	SessionID string
}

// Login authenticates a user and returns a fresh token pair. Credential
// failures (unknown username, wrong password) collapse into
// ErrInvalidCredentials so callers cannot probe which check failed; a
// disabled account is reported as such since it is not a guessing oracle.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		obs.LoginAttempts.WithLabelValues("throttled").Inc()
		return nil, ErrThrottled
	}

	username := strings.TrimSpace(req.Username)
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
			s.auditFailedLogin(ctx, req, "user not found")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !user.Enabled {
		obs.LoginAttempts.WithLabelValues("disabled").Inc()
		s.auditFailedLogin(ctx, req, "user disabled")
		return nil, ErrAccountDisabled
	}

	if !s.hasher.Verify(user.PasswordHash, req.Password) {
		obs.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		s.auditFailedLogin(ctx, req, "invalid password")
		return nil, ErrInvalidCredentials
	}

	tokens, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	sessionID := tokens.AccessToken
	if len(sessionID) > sessionIDLength {
		sessionID = sessionID[:sessionIDLength]
	}
	if s.sessions != nil {
		if err := s.sessions.Set(ctx, sessionID, user.ID); err != nil {
			obs.Warn("session registration failed", map[string]any{"user_id": user.ID, "error": err.Error()})
		}
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		obs.Warn("last-login update failed", map[string]any{"user_id": user.ID, "error": err.Error()})
	}

	s.record(ctx, &audit.Entry{
		UserID:    user.ID,
		Username:  user.Username,
		Action:    audit.ActionLogin,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	obs.LoginAttempts.WithLabelValues("success").Inc()

	return &LoginResponse{User: user, Tokens: tokens, SessionID: sessionID}, nil
}

// Logout revokes the session, when a session store is configured, and audits
// the event. It never fails the caller for best-effort cleanup problems.
func (s *Service) Logout(ctx context.Context, sessionID, userID string) error {
	if s.sessions != nil && sessionID != "" {
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			obs.Warn("session delete failed", map[string]any{"user_id": userID, "error": err.Error()})
		}
	}
	s.record(ctx, &audit.Entry{UserID: userID, Action: audit.ActionLogout})
	return nil
}

// RefreshTokens exchanges a valid refresh token for a new token pair. The
// account is re-fetched so disabled users lose access at the next refresh.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		obs.Warn("refresh rejected", map[string]any{"reason": err.Error()})
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.Enabled {
		return nil, ErrAccountDisabled
	}
	tokens, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	return tokens, nil
}

// ValidateToken verifies an access token and returns its claims.
func (s *Service) ValidateToken(_ context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		obs.TokenVerifications.WithLabelValues("failure").Inc()
		return nil, err
	}
	obs.TokenVerifications.WithLabelValues("success").Inc()
	return claims, nil
}

// ChangePassword re-verifies the current password before storing a new hash.
// A failed verification leaves the stored hash untouched.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(user.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash
	if _, err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.record(ctx, &audit.Entry{UserID: userID, Username: user.Username, Action: audit.ActionPasswordChange})
	return nil
}

// CreateUser provisions a new enabled account.
func (s *Service) CreateUser(ctx context.Context, username, email, password string, role rbac.Role) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	created, err := s.users.Create(ctx, &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Enabled:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	obs.Info("user created", map[string]any{"user_id": created.ID, "username": created.Username, "role": string(created.Role)})
	return created, nil
}

// GetUser retrieves an account by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.users.Get(ctx, id)
}

// ListUsers returns a page of accounts with the total count.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, limit, offset)
}

// UpdateUser applies optional profile changes to an account.
func (s *Service) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email == "" || !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		user.Email = email
	}
	if upd.Role != nil {
		user.Role = *upd.Role
	}
	if upd.Enabled != nil {
		user.Enabled = *upd.Enabled
	}
	return s.users.Update(ctx, user)
}

// DeleteUser removes an account.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	return s.users.Delete(ctx, id)
}

// CheckPermission reports whether the user's built-in role carries the
// permission. Disabled accounts hold no permissions.
func (s *Service) CheckPermission(ctx context.Context, userID string, perm rbac.Permission) (bool, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if !user.Enabled {
		return false, nil
	}
	return rbac.BuiltinHasPermission(user.Role, perm), nil
}

func (s *Service) record(ctx context.Context, entry *audit.Entry) {
	if s.recorder == nil {
		return
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	if err := s.recorder.Record(ctx, entry); err != nil {
		obs.Warn("audit write failed", map[string]any{"action": string(entry.Action), "error": err.Error()})
	}
}

func (s *Service) auditFailedLogin(ctx context.Context, req *LoginRequest, reason string) {
	s.record(ctx, &audit.Entry{
		Username:  strings.TrimSpace(req.Username),
		Action:    audit.ActionLogin,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Details:   map[string]any{"success": false, "reason": reason},
	})
}
