package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hasher performs one-way adaptive hashing of secrets. The same hasher covers
// account passwords and API key material.
type Hasher struct {
	cost int
}

// NewHasher constructs a Hasher with the given bcrypt cost. Costs outside the
// supported range fall back to the library default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash derives a salted digest from the secret. Failure here is fatal to the
// calling operation.
func (h *Hasher) Hash(secret string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: secret is empty")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether secret matches digest. A mismatch is a normal
// negative result, not an error path.
func (h *Hasher) Verify(digest, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}
