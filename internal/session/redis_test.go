package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), mr.Addr(), opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestSetGetDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "sess-1", "user-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	userID, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("expected user-1, got %s", userID)
	}

	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAbsentSessionIsNoError(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	store, mr := newTestStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	if err := store.Set(ctx, "sess-1", "user-1"); err != nil {
		t.Fatalf("set: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestKeyPrefixIsolation(t *testing.T) {
	store, mr := newTestStore(t, WithPrefix("orbi:"))
	ctx := context.Background()

	if err := store.Set(ctx, "sess-1", "user-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("orbi:sess-1") {
		t.Fatal("expected key under the configured prefix")
	}
	if mr.Exists("session:sess-1") {
		t.Fatal("unexpected key under default prefix")
	}
}
