package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"

	"formsync/api/internal/auth"
	"formsync/api/internal/store"
)

func setupTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	c, err := NewRedisCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	if _, err := NewRedisCache("not a url", time.Minute); err == nil {
		t.Fatal("expected an error for an invalid redis url")
	}
}

func TestFormRoundTripAndInvalidate(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	if _, err := c.GetForm(ctx, "f1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("GetForm() on empty cache error = %v, want ErrMiss", err)
	}

	detail := store.FormDetail{
		Form: store.Form{ID: "f1", OwnerID: "usr_1", Title: "Survey", Version: 2, UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		Questions: []store.Question{{
			ID: "q1", FormID: "f1", Text: "Colour?", TypeID: "single_choice",
			Options: []store.Option{{ID: "o1", QuestionID: "q1", Label: "Red"}},
		}},
	}
	if err := c.SetForm(ctx, detail); err != nil {
		t.Fatalf("SetForm() error = %v", err)
	}

	got, err := c.GetForm(ctx, "f1")
	if err != nil {
		t.Fatalf("GetForm() error = %v", err)
	}
	if d := cmp.Diff(detail, got); d != "" {
		t.Fatalf("cached form mismatch (-want +got):\n%s", d)
	}

	if err := c.InvalidateForm(ctx, "f1"); err != nil {
		t.Fatalf("InvalidateForm() error = %v", err)
	}
	if _, err := c.GetForm(ctx, "f1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("GetForm() after invalidate error = %v, want ErrMiss", err)
	}
}

func TestFormEntryExpires(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()

	if err := c.SetForm(ctx, store.FormDetail{Form: store.Form{ID: "f1"}}); err != nil {
		t.Fatalf("SetForm() error = %v", err)
	}
	s.FastForward(2 * time.Minute)
	if _, err := c.GetForm(ctx, "f1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("GetForm() after ttl error = %v, want ErrMiss", err)
	}
}

func TestRevokeToken(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()

	if err := c.RevokeToken(ctx, "jti-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}
	revoked, err := c.IsTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("IsTokenRevoked() = %v, %v, want true", revoked, err)
	}
	if !s.Exists("revoked:"+auth.HashToken("jti-1")) || s.Exists("revoked:jti-1") {
		t.Fatalf("expected only the hashed token id in redis, keys = %v", s.Keys())
	}

	s.FastForward(2 * time.Minute)
	revoked, err = c.IsTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("IsTokenRevoked() after expiry = %v, %v, want false", revoked, err)
	}

	if err := c.RevokeToken(ctx, "jti-2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeToken() for expired token error = %v", err)
	}
	if revoked, _ := c.IsTokenRevoked(ctx, "jti-2"); revoked {
		t.Fatal("an already expired token needs no revocation entry")
	}
}
