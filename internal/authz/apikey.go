package authz

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"lynxtms.io/internal/ids"
)

const defaultKeyTTL = 90 * 24 * time.Hour

// KeyService mints and authenticates API-key credentials. A key is the
// string "<id>.<secret>"; only the sha256 of the secret is stored, so a
// leaked database cannot reproduce credentials.
type KeyService struct {
	store KeyStore
	now   func() time.Time
}

// KeyServiceOption configures KeyService behavior.
type KeyServiceOption func(*KeyService)

// WithKeyClock overrides the time source (useful for tests).
func WithKeyClock(fn func() time.Time) KeyServiceOption {
	return func(s *KeyService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewKeyService constructs a KeyService.
func NewKeyService(store KeyStore, opts ...KeyServiceOption) (*KeyService, error) {
	if store == nil {
		return nil, errors.New("authz: key store is required")
	}
	s := &KeyService{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Mint creates a key scoped to the given permission patterns and returns
// the plaintext credential. The plaintext is shown exactly once; only
// its hash survives.
func (s *KeyService) Mint(ctx context.Context, orgID, name string, permissions []string, ttl time.Duration) (APIKey, string, error) {
	orgID = strings.TrimSpace(orgID)
	name = strings.TrimSpace(name)
	if orgID == "" || name == "" {
		return APIKey{}, "", fmt.Errorf("%w: org_id and name are required", ErrInvalidInput)
	}
	perms := normalizePatterns(permissions)
	if len(perms) == 0 {
		return APIKey{}, "", fmt.Errorf("%w: at least one permission is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return APIKey{}, "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	now := s.now().UTC()
	key := APIKey{
		ID:             ids.New(),
		OrganizationID: orgID,
		Name:           name,
		KeyHash:        hashKeySecret(secret),
		Permissions:    perms,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}
	if err := s.store.CreateAPIKey(ctx, &key); err != nil {
		return APIKey{}, "", err
	}
	return key, key.ID + "." + secret, nil
}

// Authenticate resolves a raw credential to its key row. Revoked and
// expired keys are treated as absent; last_used_at is updated best
// effort and never fails the authentication.
func (s *KeyService) Authenticate(ctx context.Context, raw string) (APIKey, error) {
	id, secret, err := splitKey(raw)
	if err != nil {
		return APIKey{}, ErrNotFound
	}
	key, err := s.store.APIKeyByHash(ctx, hashKeySecret(secret))
	if err != nil {
		return APIKey{}, err
	}
	if key.ID != id || !key.ActiveAt(s.now().UTC()) {
		return APIKey{}, ErrNotFound
	}
	_ = s.store.TouchAPIKey(ctx, key.ID, s.now().UTC())
	return key, nil
}

// Revoke deactivates a key immediately. Soft: audit rows keep pointing
// at the revoked row.
func (s *KeyService) Revoke(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: key id is required", ErrInvalidInput)
	}
	return s.store.RevokeAPIKey(ctx, id)
}

func hashKeySecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func splitKey(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid api key format")
	}
	return parts[0], parts[1], nil
}

func normalizePatterns(patterns []string) []string {
	seen := make(map[string]struct{}, len(patterns))
	var out []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || !ValidPattern(p) {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
