package redis

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"incidentdesk/internal/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := NewRedisClient(config.RedisConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientSetGetDel(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	key := "incidentdesk:test:" + strconv.FormatInt(time.Now().UnixNano(), 10)

	if err := client.Set(ctx, key, "value", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := client.Get(ctx, key)
	if err != nil || got != "value" {
		t.Fatalf("Get: got %q err %v", got, err)
	}
	ok, err := client.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := client.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss after delete, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client: %v", err)
	}
	if _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error from nil client")
	}
}
