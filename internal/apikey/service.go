package apikey

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"orbistack.org/internal/auth"
	"orbistack.org/internal/obs"
	"orbistack.org/internal/rbac"
)

const (
	keyPrefixTag      = "ob_"
	prefixRandomChars = 8
	keyRandomBytes    = 32
	defaultMaxPerUser = 10

	// prefixLen is the fixed width of the public prefix: tag, random
	// segment, trailing separator.
	prefixLen = len(keyPrefixTag) + prefixRandomChars + 1
)

var (
	ErrNotFound = errors.New("apikey: not found")
	// ErrInvalidKey is the uniform external failure for validation. The
	// underlying cause (unknown prefix, terminal status, hash mismatch) is
	// only distinguishable in internal logs.
	ErrInvalidKey   = errors.New("apikey: invalid or inactive key")
	ErrQuotaReached = errors.New("apikey: per-user key limit reached")
	ErrInvalidInput = errors.New("apikey: invalid input")
)

// Repository describes persistence operations required by the key service.
type Repository interface {
	Create(ctx context.Context, key *APIKey) (*APIKey, error)
	Get(ctx context.Context, id string) (*APIKey, error)
	GetByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	List(ctx context.Context, createdBy string) ([]*APIKey, error)
	Delete(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
	TrackUsage(ctx context.Context, id string) error
	ExpireOld(ctx context.Context) (int64, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

// Service manages key generation, validation and lifecycle transitions.
type Service struct {
	repo           Repository
	hasher         *auth.Hasher
	maxKeysPerUser int
}

// Option configures Service.
type Option func(*Service)

// WithMaxKeysPerUser overrides the per-user quota.
func WithMaxKeysPerUser(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxKeysPerUser = n
		}
	}
}

// NewService constructs the key service.
func NewService(repo Repository, hasher *auth.Hasher, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("apikey: repository is required")
	}
	if hasher == nil {
		return nil, errors.New("apikey: hasher is required")
	}
	svc := &Service{repo: repo, hasher: hasher, maxKeysPerUser: defaultMaxPerUser}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// GenerateRequest contains parameters for creating a new key.
type GenerateRequest struct {
	Name        string
	Permissions []rbac.Permission
	ExpiresIn   *time.Duration // nil = no expiry
	CreatedBy   string
}

// GenerateResponse carries the persisted record plus the raw key, which is
// surfaced exactly once and never reproducible afterwards.
type GenerateResponse struct {
	Key    *APIKey
	RawKey string
}

// Generate creates a new key after enforcing the per-user quota. A user at
// the limit is rejected, not silently capped.
func (s *Service) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: key name is required", ErrInvalidInput)
	}
	count, err := s.repo.CountByUser(ctx, req.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("count keys: %w", err)
	}
	if count >= s.maxKeysPerUser {
		return nil, fmt.Errorf("%w: limit is %d", ErrQuotaReached, s.maxKeysPerUser)
	}

	rawKey, prefix, err := generateRawKey()
	if err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	keyHash, err := s.hasher.Hash(rawKey)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	var expiresAt *time.Time
	if req.ExpiresIn != nil {
		exp := time.Now().Add(*req.ExpiresIn)
		expiresAt = &exp
	}

	created, err := s.repo.Create(ctx, &APIKey{
		Name:        strings.TrimSpace(req.Name),
		Prefix:      prefix,
		KeyHash:     keyHash,
		Permissions: req.Permissions,
		CreatedBy:   req.CreatedBy,
		ExpiresAt:   expiresAt,
		Status:      StatusActive,
	})
	if err != nil {
		return nil, fmt.Errorf("create key: %w", err)
	}

	obs.Info("api key generated", map[string]any{
		"key_id":     created.ID,
		"prefix":     created.Prefix,
		"created_by": req.CreatedBy,
	})
	return &GenerateResponse{Key: created, RawKey: rawKey}, nil
}

// Validate authenticates a presented raw key. Lookup goes through the
// indexed prefix, never a scan of secret material. On success, usage is
// recorded on a detached goroutine with its own context so the caller's
// cancellation or a telemetry failure never affects the decision.
func (s *Service) Validate(ctx context.Context, rawKey string) (*APIKey, error) {
	prefix := extractPrefix(rawKey)
	if prefix == "" {
		obs.APIKeyValidations.WithLabelValues("malformed").Inc()
		return nil, ErrInvalidKey
	}

	key, err := s.repo.GetByPrefix(ctx, prefix)
	if err != nil {
		obs.APIKeyValidations.WithLabelValues("not_found").Inc()
		obs.Warn("api key validation failed", map[string]any{"prefix": prefix, "reason": "unknown prefix"})
		return nil, ErrInvalidKey
	}

	if !key.IsValid() {
		obs.APIKeyValidations.WithLabelValues("inactive").Inc()
		obs.Warn("api key validation failed", map[string]any{
			"prefix": prefix,
			"key_id": key.ID,
			"reason": "status " + string(key.Status),
		})
		return nil, ErrInvalidKey
	}

	if !s.hasher.Verify(key.KeyHash, rawKey) {
		obs.APIKeyValidations.WithLabelValues("hash_mismatch").Inc()
		obs.Warn("api key validation failed", map[string]any{"prefix": prefix, "reason": "hash mismatch"})
		return nil, ErrInvalidKey
	}

	// Usage tracking is best-effort telemetry, deliberately detached from
	// the caller's cancellation scope.
	go func(id string) {
		if err := s.repo.TrackUsage(context.Background(), id); err != nil {
			obs.Warn("api key usage tracking failed", map[string]any{"key_id": id, "error": err.Error()})
		}
	}(key.ID)

	obs.APIKeyValidations.WithLabelValues("success").Inc()
	return key, nil
}

// Get retrieves a key record by ID.
func (s *Service) Get(ctx context.Context, id string) (*APIKey, error) {
	return s.repo.Get(ctx, id)
}

// List returns all keys, optionally restricted to one creator.
func (s *Service) List(ctx context.Context, createdBy string) ([]*APIKey, error) {
	return s.repo.List(ctx, createdBy)
}

// ListByUser returns the keys created by one user.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*APIKey, error) {
	return s.repo.List(ctx, userID)
}

// Revoke transitions a key to the terminal revoked state.
func (s *Service) Revoke(ctx context.Context, id string) error {
	if err := s.repo.Revoke(ctx, id); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	obs.Info("api key revoked", map[string]any{"key_id": id})
	return nil
}

// Delete removes a key record entirely.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	obs.Info("api key deleted", map[string]any{"key_id": id})
	return nil
}

// ExpireOld sweeps keys whose expiry has passed into the expired state and
// returns how many transitioned. The sweep is idempotent.
func (s *Service) ExpireOld(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireOld(ctx)
	if err != nil {
		return 0, fmt.Errorf("expire keys: %w", err)
	}
	if n > 0 {
		obs.ExpiredKeysSwept.Add(float64(n))
		obs.Info("expired api keys swept", map[string]any{"count": n})
	}
	return n, nil
}

// HasPermission reports whether the key grants the permission.
func (s *Service) HasPermission(key *APIKey, perm rbac.Permission) bool {
	return key.HasPermission(perm)
}

// generateRawKey produces the raw key and its public prefix. The encoded
// random material is partitioned: the first segment joins the prefix, the
// remainder is the secret. Format: ob_XXXXXXXX_<secret>.
func generateRawKey() (rawKey, prefix string, err error) {
	buf := make([]byte, keyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(buf)
	prefix = keyPrefixTag + encoded[:prefixRandomChars] + "_"
	rawKey = prefix + encoded[prefixRandomChars:]
	return rawKey, prefix, nil
}

// extractPrefix cuts the fixed-width prefix off a presented raw key. The
// random segment uses the base64url alphabet, which includes '_', so the
// prefix must be taken positionally rather than by splitting on separators.
func extractPrefix(rawKey string) string {
	if !strings.HasPrefix(rawKey, keyPrefixTag) || len(rawKey) <= prefixLen {
		return ""
	}
	if rawKey[prefixLen-1] != '_' {
		return ""
	}
	return rawKey[:prefixLen]
}
