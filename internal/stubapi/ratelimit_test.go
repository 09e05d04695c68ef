package stubapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type mockRedisEvaler struct {
	lastScript string
	lastKeys   []string
	lastArgs   []interface{}
	result     int64
	err        error
}

func (m *mockRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.lastScript = script
	m.lastKeys = keys
	m.lastArgs = args
	cmd := redis.NewCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(m.result)
	return cmd
}

func TestRedisRateLimiterAllow(t *testing.T) {
	t.Run("nil receiver fail-open", func(t *testing.T) {
		var l *redisRateLimiter
		if !l.Allow("a@b.co") {
			t.Fatalf("expected fail-open for nil limiter")
		}
	})

	t.Run("nil client returns nil limiter", func(t *testing.T) {
		if l := NewRedisRateLimiter(nil, time.Minute, 3); l != nil {
			t.Fatalf("expected nil limiter")
		}
	})

	t.Run("empty key rejected", func(t *testing.T) {
		l := &redisRateLimiter{client: &mockRedisEvaler{result: 1}, window: time.Minute, max: 3, prefix: "p:"}
		if l.Allow("   ") {
			t.Fatalf("expected empty key rejected")
		}
	})

	t.Run("key normalization and ttl", func(t *testing.T) {
		mock := &mockRedisEvaler{result: 2}
		l := &redisRateLimiter{client: mock, window: 10 * time.Minute, max: 3, prefix: "p:"}
		if !l.Allow(" A@B.co ") {
			t.Fatalf("expected allow within max")
		}
		if len(mock.lastKeys) != 1 || mock.lastKeys[0] != "p:a@b.co" {
			t.Fatalf("unexpected keys %v", mock.lastKeys)
		}
		if len(mock.lastArgs) != 1 || mock.lastArgs[0] != 600 {
			t.Fatalf("expected ttl 600, got %v", mock.lastArgs)
		}
		if mock.lastScript != redisAllowScript {
			t.Fatalf("unexpected script")
		}
	})

	t.Run("deny over max", func(t *testing.T) {
		l := &redisRateLimiter{client: &mockRedisEvaler{result: 4}, window: time.Minute, max: 3, prefix: "p:"}
		if l.Allow("a@b.co") {
			t.Fatalf("expected deny")
		}
	})

	t.Run("redis error fail-open", func(t *testing.T) {
		l := &redisRateLimiter{client: &mockRedisEvaler{err: errors.New("down")}, window: time.Minute, max: 3, prefix: "p:"}
		if !l.Allow("a@b.co") {
			t.Fatalf("expected fail-open on error")
		}
	})
}

func TestRedisRateLimiterMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisRateLimiter(client, time.Minute, 2)
	if !l.Allow("a@b.co") || !l.Allow("a@b.co") {
		t.Fatalf("expected first two allowed")
	}
	if l.Allow("a@b.co") {
		t.Fatalf("expected third denied")
	}
	if !l.Allow("c@d.co") {
		t.Fatalf("expected other key allowed")
	}
	mr.FastForward(61 * time.Second)
	if !l.Allow("a@b.co") {
		t.Fatalf("expected allow after window")
	}
}

func TestMemoryRateLimiter(t *testing.T) {
	base := time.Now().UTC()
	l := NewMemoryRateLimiter(time.Minute, 2).(*memoryRateLimiter)
	l.now = func() time.Time { return base }

	if !l.Allow("a@b.co") || !l.Allow("A@B.co") {
		t.Fatalf("expected first two allowed")
	}
	if l.Allow("a@b.co") {
		t.Fatalf("expected third denied")
	}
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if !l.Allow("a@b.co") {
		t.Fatalf("expected allow after window")
	}
	if l.Allow("") {
		t.Fatalf("expected empty key rejected")
	}
}
