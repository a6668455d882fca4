// Package registry issues process ids and answers lookups for conversions
// that are still within their time to live.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pdfhtmlgo/internal/apperr"
	"pdfhtmlgo/internal/models"
)

const DefaultTTL = time.Hour

// Registration is what a finished conversion hands to the registry. ID may
// be reserved in advance with NewID; it is generated when empty.
type Registration struct {
	ID              string
	OutputDir       string
	HTMLPath        string
	AdditionalFiles []string
	ImageStrategy   models.ImageStrategy
	EmbeddedImages  int
}

type Registry struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Registry)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func New(store Store, ttl time.Duration, opts ...Option) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{store: store, ttl: ttl, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) TTL() time.Duration { return r.ttl }

func (r *Registry) Now() time.Time { return r.now().UTC() }

// NewID returns a fresh process id.
func NewID() string { return uuid.NewString() }

// Register records a finished conversion.
func (r *Registry) Register(ctx context.Context, reg Registration) (*models.ConversionProcess, error) {
	id := reg.ID
	if id == "" {
		id = NewID()
	} else if parsed, err := uuid.Parse(id); err != nil || parsed.String() != id {
		return nil, fmt.Errorf("register process: malformed id %q", id)
	}
	created := r.Now()
	p := &models.ConversionProcess{
		ID:              id,
		OutputDir:       reg.OutputDir,
		HTMLPath:        reg.HTMLPath,
		AdditionalFiles: append([]string{}, reg.AdditionalFiles...),
		ImageStrategy:   reg.ImageStrategy,
		EmbeddedImages:  reg.EmbeddedImages,
		CreatedAt:       created,
		ExpiresAt:       created.Add(r.ttl),
	}
	if err := r.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("register process: %w", err)
	}
	return p, nil
}

// Lookup returns a live process. Malformed, unknown and expired ids are
// indistinguishable to the caller.
func (r *Registry) Lookup(ctx context.Context, id string) (*models.ConversionProcess, error) {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return nil, apperr.Wrap(apperr.ErrNotFound, "process %q", id)
	}
	p, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Expired(r.Now()) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "process %s", id)
	}
	return p, nil
}

// Remaining is the time left before p expires, never negative.
func (r *Registry) Remaining(p *models.ConversionProcess) time.Duration {
	d := p.ExpiresAt.Sub(r.Now())
	if d < 0 {
		return 0
	}
	return d
}

// ManualClock is a settable clock for tests of expiry behaviour.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{t: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
