package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pdfhtmlgo/internal/apperr"
	"pdfhtmlgo/internal/models"
)

const recordsDir = ".records"

// FileStore writes one JSON record per process under <root>/.records, which
// is outside every process output directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(root string) (*FileStore, error) {
	dir := filepath.Join(root, recordsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) Save(_ context.Context, p *models.ConversionProcess) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(p.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id string) (*models.ConversionProcess, error) {
	p, err := s.read(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "process %s", id)
	}
	return p, err
}

func (s *FileStore) read(path string) (*models.ConversionProcess, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p models.ConversionProcess
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", filepath.Base(path), err)
	}
	return &p, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Expired(_ context.Context, now time.Time) ([]*models.ConversionProcess, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*models.ConversionProcess
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		p, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			// removed concurrently or unreadable; the next sweep retries
			continue
		}
		if p.Expired(now) {
			out = append(out, p)
		}
	}
	return out, nil
}
