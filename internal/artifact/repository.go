package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RepositoryStore keeps bundles in the repository's artifacts table.
type RepositoryStore struct {
	repo domain.Repository
}

// NewRepositoryStore wraps a repository.
func NewRepositoryStore(repo domain.Repository) *RepositoryStore {
	return &RepositoryStore{repo: repo}
}

// Save upserts the four blobs.
func (s *RepositoryStore) Save(ctx context.Context, b *Bundle) error {
	started := time.Now()
	blobs, err := encode(b)
	if err != nil {
		return err
	}
	for _, kind := range Kinds {
		if err := s.repo.SaveArtifact(ctx, b.Name(), kind, blobs[kind]); err != nil {
			return fmt.Errorf("failed to save %s: %w", kind, err)
		}
	}
	slog.Info("artifact bundle saved", "store", "repository", "algorithm", b.Name(), "duration_ms", time.Since(started).Milliseconds())
	return nil
}

// Load reads a bundle. Missing rows yield ErrNotFound.
func (s *RepositoryStore) Load(ctx context.Context, algorithm string) (*Bundle, error) {
	return decode(func(kind string) ([]byte, error) {
		data, err := s.repo.GetArtifact(ctx, algorithm, kind)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", algorithm, kind, err)
		}
		return data, nil
	})
}
