package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"pdfhtmlgo/internal/config"
)

func TestKeyUsesPrefix(t *testing.T) {
	c := &Client{prefix: "pdfhtml:"}
	if got := c.Key("process", "abc"); got != "pdfhtml:process:abc" {
		t.Fatalf("Key = %q", got)
	}
	var nilClient *Client
	if got := nilClient.Key("a", "b"); got != "a:b" {
		t.Fatalf("nil Key = %q", got)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	ctx := context.Background()
	if err := c.TxPipelined(ctx, func(Pipeliner) error { return nil }); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if _, err := c.Get(ctx, "k"); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client: %v", err)
	}
}

func TestPipelineAndReads(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	prefix := "pdfhtml-test:" + strconv.FormatInt(time.Now().UnixNano(), 36) + ":"
	client, err := NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port, Prefix: prefix}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	value, set, hash := client.Key("value"), client.Key("set"), client.Key("hash")
	err = client.TxPipelined(ctx, func(pipe Pipeliner) error {
		pipe.Set(ctx, value, "v", time.Minute)
		pipe.ZAdd(ctx, set, Z{Score: 10, Member: "a"}, Z{Score: 20, Member: "b"})
		pipe.HSet(ctx, hash, "a", "/out/a")
		return nil
	})
	if err != nil {
		t.Fatalf("TxPipelined: %v", err)
	}
	defer client.TxPipelined(ctx, func(pipe Pipeliner) error {
		pipe.Del(ctx, value, set, hash)
		return nil
	})

	if got, err := client.Get(ctx, value); err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if _, err := client.Get(ctx, client.Key("missing")); err != ErrCacheMiss {
		t.Fatalf("expected cache miss, got %v", err)
	}
	members, err := client.MembersUpTo(ctx, set, 15)
	if err != nil || len(members) != 1 || members[0] != "a" {
		t.Fatalf("MembersUpTo = %v, %v", members, err)
	}
	vals, err := client.HashValues(ctx, hash, "a", "b")
	if err != nil || len(vals) != 2 || vals[0] != "/out/a" || vals[1] != "" {
		t.Fatalf("HashValues = %v, %v", vals, err)
	}
}
