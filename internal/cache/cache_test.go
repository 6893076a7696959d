package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/hashing"
)

// exercise runs the contract every backend shares.
func exercise(t *testing.T, cache domain.Cache) {
	ctx := context.Background()
	namespace := "features"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, namespace, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, namespace, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, namespace, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, namespace, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, namespace, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, namespace, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("NoExpiry", func(t *testing.T) {
		_ = cache.Set(ctx, namespace, "forever", []byte("v"), 0)
		val, _ := cache.Get(ctx, namespace, "forever")
		if string(val) != "v" {
			t.Errorf("expected 'v', got '%s'", string(val))
		}
	})

	t.Run("NamespaceIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "train", "shared-key", []byte("train-value"), time.Minute)
		_ = cache.Set(ctx, "serve", "shared-key", []byte("serve-value"), time.Minute)

		val1, _ := cache.Get(ctx, "train", "shared-key")
		val2, _ := cache.Get(ctx, "serve", "shared-key")

		if string(val1) != "train-value" {
			t.Errorf("expected 'train-value', got '%s'", string(val1))
		}
		if string(val2) != "serve-value" {
			t.Errorf("expected 'serve-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresNamespace", func(t *testing.T) {
		err := cache.Set(ctx, "", "key", []byte("value"), time.Minute)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error for empty namespace, got %v", err)
		}

		_, err = cache.Get(ctx, "", "key")
		if err == nil {
			t.Error("expected error for empty namespace")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	namespace := "features"

	exercise(t, cache)

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, namespace, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, namespace, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, namespace, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, namespace, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, namespace, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, namespace, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, namespace, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, namespace, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, namespace, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}
		val, _ = smallCache.Get(ctx, namespace, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, namespace, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, namespace, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, namespace, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, namespace, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return mr, cache
}

func TestRedisCache(t *testing.T) {
	mr, cache := newMiniredis(t)
	exercise(t, cache)

	t.Run("KeyPrefix", func(t *testing.T) {
		_ = cache.Set(context.Background(), "runs", "abc", []byte("1"), time.Minute)
		if !mr.Exists("kestrel:runs:abc") {
			t.Error("expected key kestrel:runs:abc")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		ctx := context.Background()
		_ = cache.Set(ctx, "runs", "expiring", []byte("temp"), time.Second)
		mr.FastForward(2 * time.Second)

		val, _ := cache.Get(ctx, "runs", "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("ConnectFailure", func(t *testing.T) {
		if _, err := NewRedisCache("127.0.0.1:1", "", 0); err == nil {
			t.Error("expected error for unreachable redis")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	mr, remote := newMiniredis(t)
	cache := newTwoPhase(NewLRUCache(10), remote, time.Minute)
	ctx := context.Background()

	exercise(t, cache)

	t.Run("PopulatesL1FromL2", func(t *testing.T) {
		_ = remote.Set(ctx, "features", "remote-only", []byte("r"), time.Minute)

		val, err := cache.Get(ctx, "features", "remote-only")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "r" {
			t.Errorf("expected 'r', got '%s'", string(val))
		}

		// Served from L1 once the L2 copy is gone
		mr.Del("kestrel:features:remote-only")
		val, err = cache.Get(ctx, "features", "remote-only")
		if err != nil || string(val) != "r" {
			t.Errorf("expected L1 hit, got '%s' (%v)", string(val), err)
		}
	})
}

func TestFileCache(t *testing.T) {
	cache, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache failed: %v", err)
	}
	ctx := context.Background()

	exercise(t, cache)

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "features", "expiring", []byte("temp"), 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		val, _ := cache.Get(ctx, "features", "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("RejectsPathKeys", func(t *testing.T) {
		err := cache.Set(ctx, "features", "../escape", []byte("x"), 0)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		dir := t.TempDir()
		first, _ := NewFileCache(dir)
		_ = first.Set(ctx, "features", "k", []byte("v"), 0)

		second, _ := NewFileCache(dir)
		val, _ := second.Get(ctx, "features", "k")
		if string(val) != "v" {
			t.Errorf("expected 'v', got '%s'", string(val))
		}
	})
}

func TestGetOrCompute(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(10)
	entry := Entry{Namespace: "features", Key: hashing.Of("synthetic", 42)}

	calls := 0
	compute := func(context.Context) ([]float64, error) {
		calls++
		return []float64{1, 2, 3}, nil
	}

	t.Run("MissThenHit", func(t *testing.T) {
		v, hit, err := GetOrCompute(ctx, cache, entry, compute)
		if err != nil {
			t.Fatalf("GetOrCompute failed: %v", err)
		}
		if hit || len(v) != 3 {
			t.Errorf("expected computed value, got %v (hit=%v)", v, hit)
		}

		v, hit, _ = GetOrCompute(ctx, cache, entry, compute)
		if !hit || v[2] != 3 {
			t.Errorf("expected cached value, got %v (hit=%v)", v, hit)
		}
		if calls != 1 {
			t.Errorf("expected 1 compute call, got %d", calls)
		}
	})

	t.Run("UndecodableEntryRecomputes", func(t *testing.T) {
		_ = cache.Set(ctx, entry.Namespace, string(entry.Key), []byte("{not json"), 0)
		_, hit, err := GetOrCompute(ctx, cache, entry, compute)
		if err != nil || hit {
			t.Errorf("expected recompute, got hit=%v err=%v", hit, err)
		}
		if calls != 2 {
			t.Errorf("expected 2 compute calls, got %d", calls)
		}
	})

	t.Run("ComputeError", func(t *testing.T) {
		boom := errors.New("boom")
		_, _, err := GetOrCompute(ctx, cache, Entry{Namespace: "features", Key: "other"}, func(context.Context) (int, error) {
			return 0, boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	})

	t.Run("StoreFailureIsNotFatal", func(t *testing.T) {
		v, _, err := GetOrCompute(ctx, cache, Entry{Key: "no-namespace"}, func(context.Context) (string, error) {
			return "ok", nil
		})
		if err != nil || v != "ok" {
			t.Errorf("expected value despite store failure, got %q (%v)", v, err)
		}
	})

	t.Run("NilCache", func(t *testing.T) {
		v, hit, err := GetOrCompute(ctx, nil, entry, func(context.Context) (int, error) { return 7, nil })
		if err != nil || hit || v != 7 {
			t.Errorf("expected computed 7, got %d (hit=%v, err=%v)", v, hit, err)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("RedisTwoPhase", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cache, err := New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr(), EnableTwoPhase: true})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*TwoPhaseCache); !ok {
			t.Error("expected TwoPhaseCache for redis with two-phase")
		}
	})

	t.Run("FileType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "file", FilePath: t.TempDir()})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := cache.(*FileCache); !ok {
			t.Error("expected FileCache for file type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "memcached"})
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}
