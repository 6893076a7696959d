package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FileStore writes <root>/<algorithm>/<kind>.json.
type FileStore struct {
	root string
}

// NewFileStore returns a store rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) dir(algorithm string) string {
	return filepath.Join(s.root, algorithm)
}

// Save writes the four blobs, replacing any previous bundle.
func (s *FileStore) Save(ctx context.Context, b *Bundle) error {
	started := time.Now()
	blobs, err := encode(b)
	if err != nil {
		return err
	}
	dir := s.dir(b.Name())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	for _, kind := range Kinds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, kind+".json"), blobs[kind], 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", kind, err)
		}
	}
	slog.Info("artifact bundle saved", "store", "file", "path", dir, "duration_ms", time.Since(started).Milliseconds())
	return nil
}

// Load reads a bundle. A missing file yields ErrNotFound.
func (s *FileStore) Load(ctx context.Context, algorithm string) (*Bundle, error) {
	dir := s.dir(algorithm)
	return decode(func(kind string) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(dir, kind+".json"))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, algorithm, kind)
		}
		return data, err
	})
}
