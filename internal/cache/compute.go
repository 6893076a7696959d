package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/hashing"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

// Entry addresses a computed value.
type Entry struct {
	Namespace string
	Key       hashing.Key
	TTL       time.Duration
}

// GetOrCompute returns the cached value under e, or runs compute and stores
// its result. Read errors and undecodable entries count as misses. A failed
// store is logged and the computed value is still returned.
func GetOrCompute[T any](ctx context.Context, c domain.Cache, e Entry, compute func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	key := string(e.Key)

	if c != nil {
		data, err := c.Get(ctx, e.Namespace, key)
		switch {
		case err != nil:
			slog.Warn("cache read failed", "namespace", e.Namespace, "key", key, "error", err)
		case data != nil:
			var v T
			if err := json.Unmarshal(data, &v); err == nil {
				telemetry.CacheLookupsTotal.WithLabelValues(e.Namespace, "hit").Inc()
				return v, true, nil
			}
			slog.Warn("discarding undecodable cache entry", "namespace", e.Namespace, "key", key)
		}
	}

	telemetry.CacheLookupsTotal.WithLabelValues(e.Namespace, "miss").Inc()
	v, err := compute(ctx)
	if err != nil {
		return zero, false, err
	}
	if c == nil {
		return v, false, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("cache encode failed", "namespace", e.Namespace, "key", key, "error", err)
		return v, false, nil
	}
	if err := c.Set(ctx, e.Namespace, key, data, e.TTL); err != nil {
		slog.Warn("cache store failed", "namespace", e.Namespace, "key", key, "error", err)
	}
	return v, false, nil
}
