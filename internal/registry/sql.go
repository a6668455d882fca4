package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pdfhtmlgo/internal/apperr"
	"pdfhtmlgo/internal/models"
)

// SQLStore keeps records in the conversion_processes table created by
// storage.Migrate.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Save(ctx context.Context, p *models.ConversionProcess) error {
	files, err := json.Marshal(p.AdditionalFiles)
	if err != nil {
		return fmt.Errorf("encode additional files: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversion_processes
			(id, output_dir, primary_html_path, additional_files, image_strategy, embedded_images, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OutputDir, p.HTMLPath, string(files), string(p.ImageStrategy), p.EmbeddedImages,
		p.CreatedAt.UnixMilli(), p.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.ConversionProcess, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, output_dir, primary_html_path, additional_files, image_strategy, embedded_images, created_at, expires_at
		FROM conversion_processes WHERE id = ?`, id)
	var (
		p                  models.ConversionProcess
		files, strategy    string
		createdAt, expires int64
	)
	err := row.Scan(&p.ID, &p.OutputDir, &p.HTMLPath, &files, &strategy, &p.EmbeddedImages, &createdAt, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "process %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query process: %w", err)
	}
	if err := json.Unmarshal([]byte(files), &p.AdditionalFiles); err != nil {
		return nil, fmt.Errorf("decode additional files: %w", err)
	}
	p.ImageStrategy = models.ImageStrategy(strategy)
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.ExpiresAt = time.UnixMilli(expires).UTC()
	return &p, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversion_processes WHERE id = ?`, id)
	return err
}

func (s *SQLStore) Expired(ctx context.Context, now time.Time) ([]*models.ConversionProcess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, output_dir, expires_at FROM conversion_processes
		WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ConversionProcess
	for rows.Next() {
		var (
			p       models.ConversionProcess
			expires int64
		)
		if err := rows.Scan(&p.ID, &p.OutputDir, &expires); err != nil {
			return nil, err
		}
		p.ExpiresAt = time.UnixMilli(expires).UTC()
		out = append(out, &p)
	}
	return out, rows.Err()
}
