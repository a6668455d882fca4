package registry

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pdfhtmlgo/internal/apperr"
	"pdfhtmlgo/internal/config"
	"pdfhtmlgo/internal/models"
	"pdfhtmlgo/internal/redis"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, store Store) (*Registry, *ManualClock) {
	t.Helper()
	clock := NewManualClock(epoch)
	return New(store, time.Hour, WithClock(clock.Now)), clock
}

func sampleRegistration(dir string) Registration {
	return Registration{
		OutputDir:       dir,
		HTMLPath:        filepath.Join(dir, "report.html"),
		AdditionalFiles: []string{"report001.png", "sub/font.woff"},
		ImageStrategy:   models.StrategyAssetURLs,
	}
}

func TestRegisterIssuesDistinctIDs(t *testing.T) {
	reg, _ := newTestRegistry(t, NewMemoryStore())
	ctx := context.Background()
	a, err := reg.Register(ctx, sampleRegistration(t.TempDir()))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	b, err := reg.Register(ctx, sampleRegistration(t.TempDir()))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("ids reused: %s", a.ID)
	}
	if id, err := uuid.Parse(a.ID); err != nil || id.Version() != 4 {
		t.Fatalf("id %q is not a uuid v4", a.ID)
	}
	if !a.CreatedAt.Equal(epoch) || !a.ExpiresAt.Equal(epoch.Add(time.Hour)) {
		t.Fatalf("unexpected timestamps %v %v", a.CreatedAt, a.ExpiresAt)
	}
}

func TestLookupExpiryMatchesUnknown(t *testing.T) {
	reg, clock := newTestRegistry(t, NewMemoryStore())
	ctx := context.Background()
	p, err := reg.Register(ctx, sampleRegistration(t.TempDir()))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	clock.Advance(59 * time.Minute)
	if _, err := reg.Lookup(ctx, p.ID); err != nil {
		t.Fatalf("Lookup before expiry: %v", err)
	}
	if got := reg.Remaining(p); got != time.Minute {
		t.Fatalf("Remaining = %v", got)
	}

	clock.Advance(time.Minute)
	_, expiredErr := reg.Lookup(ctx, p.ID)
	_, unknownErr := reg.Lookup(ctx, uuid.NewString())
	_, malformedErr := reg.Lookup(ctx, "../../etc/passwd")
	for name, err := range map[string]error{"expired": expiredErr, "unknown": unknownErr, "malformed": malformedErr} {
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("%s lookup: want ErrNotFound, got %v", name, err)
		}
	}
	if reg.Remaining(p) != 0 {
		t.Fatalf("remaining should clamp to zero")
	}
}

func TestSweepRemovesExpiredOutput(t *testing.T) {
	reg, clock := newTestRegistry(t, NewMemoryStore())
	ctx := context.Background()
	root := t.TempDir()
	oldDir := filepath.Join(root, "old")
	newDir := filepath.Join(root, "new")
	for _, d := range []string{oldDir, newDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	old, err := reg.Register(ctx, sampleRegistration(oldDir))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	clock.Advance(30 * time.Minute)
	fresh, err := reg.Register(ctx, sampleRegistration(newDir))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	clock.Advance(45 * time.Minute)

	n, err := reg.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Fatalf("expired output dir still present: %v", err)
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Fatalf("live output dir removed: %v", err)
	}
	if _, err := reg.store.Get(ctx, old.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expired record still stored: %v", err)
	}
	if _, err := reg.Lookup(ctx, fresh.ID); err != nil {
		t.Fatalf("live record lost: %v", err)
	}
}

func TestStartCleanerStopsWithContext(t *testing.T) {
	reg, clock := newTestRegistry(t, NewMemoryStore())
	dir := t.TempDir()
	if _, err := reg.Register(context.Background(), sampleRegistration(dir)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.StartCleaner(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("cleaner did not remove expired dir")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	p := &models.ConversionProcess{
		ID:              uuid.NewString(),
		OutputDir:       "/srv/out/a",
		HTMLPath:        "/srv/out/a/report.html",
		AdditionalFiles: []string{"report001.png"},
		ImageStrategy:   models.StrategyLocalEmbed,
		EmbeddedImages:  1,
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
		ExpiresAt:       time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond),
	}
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OutputDir != p.OutputDir || got.HTMLPath != p.HTMLPath || got.ImageStrategy != p.ImageStrategy ||
		got.EmbeddedImages != 1 || len(got.AdditionalFiles) != 1 || !got.ExpiresAt.Equal(p.ExpiresAt) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	expired, err := store.Expired(ctx, p.ExpiresAt.Add(-time.Second))
	if err != nil {
		t.Fatalf("Expired: %v", err)
	}
	for _, e := range expired {
		if e.ID == p.ID {
			t.Fatalf("record listed as expired too early")
		}
	}
	expired, err = store.Expired(ctx, p.ExpiresAt)
	if err != nil {
		t.Fatalf("Expired: %v", err)
	}
	found := false
	for _, e := range expired {
		if e.ID == p.ID {
			found = e.OutputDir == p.OutputDir
		}
	}
	if !found {
		t.Fatalf("record not listed as expired with its output dir")
	}

	if err := store.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	if err := store.Delete(ctx, p.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	exerciseStore(t, store)
	if _, err := os.Stat(filepath.Join(root, recordsDir)); err != nil {
		t.Fatalf("records dir missing: %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	cfg := config.Default()
	cfg.Registry.Backend = "sqlite3"
	cfg.Databases = map[string]config.DatabaseConfig{
		"sqlite3": {DSN: filepath.Join(t.TempDir(), "registry.db")},
	}
	store, closeFn, err := OpenStore(cfg, zapNop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer closeFn()
	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed registry tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	cfg := &config.Config{Redis: config.RedisConfig{Host: host, Port: port, Prefix: "pdfhtml-test:" + uuid.NewString() + ":"}}
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()
	store := NewRedisStore(client)
	exerciseStore(t, store)

	// The record lifetime follows the registry clock, not the host clock.
	reg, clock := newTestRegistry(t, store)
	clock.Advance(-24 * 365 * time.Hour)
	proc, err := reg.Register(context.Background(), sampleRegistration(t.TempDir()))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Lookup(context.Background(), proc.ID); err != nil {
		t.Fatalf("Lookup with a past clock: %v", err)
	}
}

func TestRecordTTLFollowsRecordTimestamps(t *testing.T) {
	created := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &models.ConversionProcess{CreatedAt: created, ExpiresAt: created.Add(90 * time.Minute)}
	if got := recordTTL(p); got != 90*time.Minute {
		t.Fatalf("recordTTL = %v", got)
	}
	p.ExpiresAt = created
	if got := recordTTL(p); got != time.Second {
		t.Fatalf("recordTTL floor = %v", got)
	}
}

func TestOpenStoreBackends(t *testing.T) {
	cfg := config.Default()
	cfg.BasicConfig.OutputDir = t.TempDir()
	for _, backend := range []string{"memory", "file"} {
		cfg.Registry.Backend = backend
		store, closeFn, err := OpenStore(cfg, zapNop())
		if err != nil || store == nil {
			t.Fatalf("OpenStore(%s): %v", backend, err)
		}
		closeFn()
	}
	cfg.Registry.Backend = "etcd"
	if _, _, err := OpenStore(cfg, zapNop()); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}

func zapNop() *zap.Logger { return zap.NewNop() }
