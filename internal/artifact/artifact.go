// Package artifact persists trained model bundles: the feature schema, the
// fitted transformer chain, the fitted algorithm and an integration sample,
// stored together and loaded as a unit by algorithm name.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/schema"
	"github.com/opensource-finance/kestrel/internal/table"
	"github.com/opensource-finance/kestrel/internal/transform"
)

// ErrNotFound is returned when no bundle exists for an algorithm. It is the
// repository sentinel so callers can test either.
var ErrNotFound = repository.ErrNotFound

// Blob kinds of a bundle.
const (
	KindFeatureSchema     = "feature_schema"
	KindTransformerChain  = "transformer_chain"
	KindAlgorithm         = "algorithm"
	KindIntegrationSample = "integration_test_set"
)

// Kinds lists the blobs of a bundle in write order.
var Kinds = []string{KindFeatureSchema, KindTransformerChain, KindAlgorithm, KindIntegrationSample}

// Bundle is everything needed to serve a trained model.
type Bundle struct {
	FeatureSchema     schema.Schema
	Transformers      *transform.Chain
	Algorithm         model.Algorithm
	IntegrationSample *table.Table
}

// Name is the algorithm kind the bundle is stored under.
func (b *Bundle) Name() string {
	return string(b.Algorithm.Kind())
}

// Store saves and loads bundles.
type Store interface {
	Save(ctx context.Context, b *Bundle) error
	Load(ctx context.Context, algorithm string) (*Bundle, error)
}

// New creates the configured store. The repository is required for the
// "repository" store.
func New(cfg domain.ArtifactConfig, repo domain.Repository) (Store, error) {
	switch cfg.Store {
	case "file":
		return NewFileStore(cfg.Path), nil
	case "repository":
		if repo == nil {
			return nil, domain.Configurationf("repository artifact store needs a repository")
		}
		return NewRepositoryStore(repo), nil
	default:
		return nil, domain.Configurationf("unsupported artifact store: %s", cfg.Store)
	}
}

// encode returns the blobs of a bundle keyed by kind.
func encode(b *Bundle) (map[string][]byte, error) {
	if b.Algorithm == nil || b.Transformers == nil || b.IntegrationSample == nil {
		return nil, domain.Validationf("incomplete bundle")
	}
	blobs := make(map[string][]byte, len(Kinds))
	var err error
	if blobs[KindFeatureSchema], err = json.Marshal(b.FeatureSchema); err != nil {
		return nil, fmt.Errorf("encode feature schema: %w", err)
	}
	if blobs[KindTransformerChain], err = json.Marshal(b.Transformers); err != nil {
		return nil, fmt.Errorf("encode transformer chain: %w", err)
	}
	if blobs[KindAlgorithm], err = model.Encode(b.Algorithm); err != nil {
		return nil, err
	}
	if blobs[KindIntegrationSample], err = json.Marshal(b.IntegrationSample); err != nil {
		return nil, fmt.Errorf("encode integration sample: %w", err)
	}
	return blobs, nil
}

// decode rebuilds a bundle, reading each blob through get.
func decode(get func(kind string) ([]byte, error)) (*Bundle, error) {
	blobs := make(map[string][]byte, len(Kinds))
	for _, kind := range Kinds {
		data, err := get(kind)
		if err != nil {
			return nil, err
		}
		blobs[kind] = data
	}

	b := &Bundle{Transformers: &transform.Chain{}, IntegrationSample: &table.Table{}}
	if err := json.Unmarshal(blobs[KindFeatureSchema], &b.FeatureSchema); err != nil {
		return nil, fmt.Errorf("decode feature schema: %w", err)
	}
	if err := json.Unmarshal(blobs[KindTransformerChain], b.Transformers); err != nil {
		return nil, fmt.Errorf("decode transformer chain: %w", err)
	}
	algorithm, err := model.Decode(blobs[KindAlgorithm])
	if err != nil {
		return nil, err
	}
	b.Algorithm = algorithm
	if err := json.Unmarshal(blobs[KindIntegrationSample], b.IntegrationSample); err != nil {
		return nil, fmt.Errorf("decode integration sample: %w", err)
	}
	return b, nil
}

// IsNotFound reports whether err means the bundle does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
