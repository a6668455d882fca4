package registry

import (
	"context"
	"time"

	"pdfhtmlgo/internal/models"
)

// Store persists conversion records. Implementations are safe for concurrent
// use. Get returns an error matching apperr.ErrNotFound for unknown ids and
// does not judge expiry; that is left to the Registry clock.
type Store interface {
	Save(ctx context.Context, p *models.ConversionProcess) error
	Get(ctx context.Context, id string) (*models.ConversionProcess, error)
	Delete(ctx context.Context, id string) error
	// Expired lists records whose expiry is at or before now. Only ID and
	// OutputDir are guaranteed to be populated.
	Expired(ctx context.Context, now time.Time) ([]*models.ConversionProcess, error)
}

func cloneProcess(p *models.ConversionProcess) *models.ConversionProcess {
	cp := *p
	cp.AdditionalFiles = append([]string(nil), p.AdditionalFiles...)
	return &cp
}
