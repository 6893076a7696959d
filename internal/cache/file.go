package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FileCache stores one file per key under <dir>/<namespace>/. Each file
// starts with the expiry as 8 bytes of unix nanoseconds, 0 for none.
type FileCache struct {
	dir string
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if dir == "" {
		return nil, domain.Configurationf("file cache requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(namespace, key string) (string, error) {
	if err := requireNamespace(namespace); err != nil {
		return "", err
	}
	for _, part := range []string{namespace, key} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", domain.Validationf("invalid cache key %q", part)
		}
	}
	return filepath.Join(c.dir, namespace, key), nil
}

// Get reads a key. Expired files are removed.
func (c *FileCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	p, err := c.path(namespace, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) < 8 {
		_ = os.Remove(p)
		return nil, nil
	}
	if exp := int64(binary.LittleEndian.Uint64(data[:8])); exp != 0 && time.Now().UnixNano() > exp {
		_ = os.Remove(p)
		return nil, nil
	}
	return data[8:], nil
}

// Set writes through a temporary file so readers never see partial values.
func (c *FileCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	p, err := c.path(namespace, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	buf := make([]byte, 8+len(value))
	if ttl > 0 {
		binary.LittleEndian.PutUint64(buf[:8], uint64(time.Now().Add(ttl).UnixNano()))
	}
	copy(buf[8:], value)

	tmp, err := os.CreateTemp(filepath.Dir(p), key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Delete removes a key. Missing keys are not an error.
func (c *FileCache) Delete(ctx context.Context, namespace string, key string) error {
	p, err := c.path(namespace, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Ping checks the directory is still there.
func (c *FileCache) Ping(ctx context.Context) error {
	info, err := os.Stat(c.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", c.dir)
	}
	return nil
}

func (c *FileCache) Close() error { return nil }
