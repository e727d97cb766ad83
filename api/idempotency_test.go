package api

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T, ttl time.Duration) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDeduper(client, ttl), mr
}

func TestRedisDeduperAdd(t *testing.T) {
	d, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	added, err := d.Add(ctx, "user", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !added {
		t.Fatal("expected first add to succeed")
	}

	added, err = d.Add(ctx, "user", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Fatal("expected duplicate add to report false")
	}
}

func TestRedisDeduperScopesKeysByUser(t *testing.T) {
	d, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if added, _ := d.Add(ctx, "alice", "key-1"); !added {
		t.Fatal("expected add for alice to succeed")
	}
	if added, _ := d.Add(ctx, "bob", "key-1"); !added {
		t.Fatal("expected same key for another user to succeed")
	}
}

func TestRedisDeduperRemoveAllowsRetry(t *testing.T) {
	d, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if added, _ := d.Add(ctx, "user", "key-1"); !added {
		t.Fatal("expected add to succeed")
	}
	if err := d.Remove(ctx, "user", "key-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added, _ := d.Add(ctx, "user", "key-1"); !added {
		t.Fatal("expected add after remove to succeed")
	}
}

func TestRedisDeduperKeysExpire(t *testing.T) {
	d, mr := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if added, _ := d.Add(ctx, "user", "key-1"); !added {
		t.Fatal("expected add to succeed")
	}
	mr.FastForward(2 * time.Minute)
	if added, _ := d.Add(ctx, "user", "key-1"); !added {
		t.Fatal("expected add after expiry to succeed")
	}
}
