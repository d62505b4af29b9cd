package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Tiered layers the in-process Cache over an optional shared Store.
// Values bound for the Store are msgpack-encoded. Store failures are logged
// and treated as misses.
type Tiered[T any] struct {
	local     *Cache
	shared    Store // may be nil
	namespace string
	log       zerolog.Logger
}

// NewTiered creates a tiered cache. namespace keeps value types apart when
// several Tiered caches share one Cache.
func NewTiered[T any](local *Cache, shared Store, namespace string, log zerolog.Logger) *Tiered[T] {
	return &Tiered[T]{
		local:     local,
		shared:    shared,
		namespace: namespace,
		log:       log.With().Str("component", "tiered_cache").Str("namespace", namespace).Logger(),
	}
}

func (t *Tiered[T]) key(key string) string {
	return t.namespace + ":" + key
}

// Get reads memory first, then the shared store. Shared hits are promoted
// into memory with ttl.
func (t *Tiered[T]) Get(ctx context.Context, key string, ttl time.Duration) (T, bool) {
	var zero T

	if v, ok := t.local.Get(t.key(key)); ok {
		if typed, ok := v.(T); ok {
			return typed, true
		}
		t.log.Warn().Str("key", key).Msg("Dropping cache entry of unexpected type")
		t.local.Delete(t.key(key))
	}

	if t.shared == nil {
		return zero, false
	}

	data, ok, err := t.shared.Get(ctx, t.key(key))
	if err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("Shared cache read failed")
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var value T
	if err := msgpack.Unmarshal(data, &value); err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("Failed to decode shared cache entry")
		return zero, false
	}

	t.local.Set(t.key(key), value, ttl)
	return value, true
}

// Set writes both tiers. gen comes from Generation() before the value was
// computed; a Clear in between drops the write.
func (t *Tiered[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, gen uint64) {
	if !t.local.SetIfGeneration(t.key(key), value, ttl, gen) {
		t.log.Debug().Str("key", key).Msg("Cache cleared during computation, skipping write")
		return
	}

	if t.shared == nil {
		return
	}

	data, err := msgpack.Marshal(value)
	if err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("Failed to encode cache entry")
		return
	}
	if err := t.shared.Set(ctx, t.key(key), data, ttl); err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("Shared cache write failed")
	}
}

// Generation proxies the local cache generation.
func (t *Tiered[T]) Generation() uint64 {
	return t.local.Generation()
}

// Clear empties both tiers.
func (t *Tiered[T]) Clear(ctx context.Context) error {
	t.local.Clear()
	if t.shared == nil {
		return nil
	}
	return t.shared.Clear(ctx)
}
