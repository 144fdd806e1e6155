package authz

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// stubKeyStore keeps keys indexed by hash like the real store.
type stubKeyStore struct {
	byID   map[string]APIKey
	byHash map[string]APIKey
}

func newStubKeyStore() *stubKeyStore {
	return &stubKeyStore{byID: make(map[string]APIKey), byHash: make(map[string]APIKey)}
}

func (s *stubKeyStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if _, ok := s.byHash[key.KeyHash]; ok {
		return ErrConflict
	}
	s.byID[key.ID] = *key
	s.byHash[key.KeyHash] = *key
	return nil
}

func (s *stubKeyStore) APIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	key, ok := s.byHash[hash]
	if !ok {
		return APIKey{}, ErrNotFound
	}
	return key, nil
}

func (s *stubKeyStore) RevokeAPIKey(ctx context.Context, id string) error {
	key, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	key.Revoked = true
	s.byID[id] = key
	s.byHash[key.KeyHash] = key
	return nil
}

func (s *stubKeyStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	return nil
}

func newTestKeyService(t *testing.T, store KeyStore, now time.Time) *KeyService {
	t.Helper()
	svc, err := NewKeyService(store, WithKeyClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewKeyService: %v", err)
	}
	return svc
}

func TestKeyMintAndAuthenticate(t *testing.T) {
	store := newStubKeyStore()
	svc := newTestKeyService(t, store, testNow)

	key, plaintext, err := svc.Mint(context.Background(), "org1", "edi-bridge", []string{"edi.*", "edi.*", "loads.read"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if want := key.ID + "."; !strings.HasPrefix(plaintext, want) {
		t.Fatalf("credential must be <id>.<secret>, got %q", plaintext)
	}
	if len(key.Permissions) != 2 {
		t.Fatalf("duplicate patterns must collapse, got %v", key.Permissions)
	}
	if strings.Contains(key.KeyHash, strings.TrimPrefix(plaintext, key.ID+".")) {
		t.Fatal("secret must not appear in the stored hash")
	}

	got, err := svc.Authenticate(context.Background(), plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != key.ID || got.OrganizationID != "org1" {
		t.Fatalf("authenticated wrong key: %+v", got)
	}
}

func TestKeyMintRejectsEmptyPermissionList(t *testing.T) {
	svc := newTestKeyService(t, newStubKeyStore(), testNow)
	if _, _, err := svc.Mint(context.Background(), "org1", "k", []string{"bad*pattern"}, time.Hour); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("all-invalid patterns must be rejected, got %v", err)
	}
}

func TestKeyAuthenticateRejectsBadInput(t *testing.T) {
	store := newStubKeyStore()
	svc := newTestKeyService(t, store, testNow)

	for _, raw := range []string{"", "no-dot", ".secret", "id."} {
		if _, err := svc.Authenticate(context.Background(), raw); !errors.Is(err, ErrNotFound) {
			t.Fatalf("malformed credential %q: want ErrNotFound, got %v", raw, err)
		}
	}
	if _, err := svc.Authenticate(context.Background(), "id.unknownsecret"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown secret: want ErrNotFound, got %v", err)
	}
}

func TestKeyAuthenticateRevokedAndExpired(t *testing.T) {
	store := newStubKeyStore()
	svc := newTestKeyService(t, store, testNow)

	key, plaintext, err := svc.Mint(context.Background(), "org1", "k", []string{"loads.read"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(context.Background(), key.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(context.Background(), plaintext); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoked key must authenticate as absent, got %v", err)
	}

	_, plaintext2, err := svc.Mint(context.Background(), "org1", "k2", []string{"loads.read"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	svcLater := newTestKeyService(t, store, testNow.Add(2*time.Hour))
	if _, err := svcLater.Authenticate(context.Background(), plaintext2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired key must authenticate as absent, got %v", err)
	}
}
