package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
	failSet bool
	sets    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, false, errors.New("connection refused")
	}
	data, ok := s.data[key]
	return data, ok, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.failSet {
		return errors.New("connection refused")
	}
	s.data[key] = data
	return nil
}

func (s *memoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

type payload struct {
	Objective string
	Weights   map[string]float64
	Sharpe    float64
}

func TestTiered_MemoryOnly(t *testing.T) {
	ctx := context.Background()
	tc := NewTiered[*payload](New(10), nil, "result", zerolog.Nop())

	_, ok := tc.Get(ctx, "k", time.Hour)
	assert.False(t, ok)

	tc.Set(ctx, "k", &payload{Objective: "max_sharpe"}, time.Hour, tc.Generation())

	got, ok := tc.Get(ctx, "k", time.Hour)
	require.True(t, ok)
	assert.Equal(t, "max_sharpe", got.Objective)
}

func TestTiered_PromotesSharedHits(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	// Writer process
	writer := NewTiered[payload](New(10), store, "result", zerolog.Nop())
	writer.Set(ctx, "k", payload{
		Objective: "min_cvar",
		Weights:   map[string]float64{"AAA": 0.4, "BBB": 0.6},
		Sharpe:    1.25,
	}, time.Hour, writer.Generation())

	// Reader with a cold local tier
	local := New(10)
	reader := NewTiered[payload](local, store, "result", zerolog.Nop())

	got, ok := reader.Get(ctx, "k", time.Hour)
	require.True(t, ok)
	assert.Equal(t, "min_cvar", got.Objective)
	assert.InDelta(t, 0.6, got.Weights["BBB"], 1e-12)
	assert.InDelta(t, 1.25, got.Sharpe, 1e-12)

	assert.Equal(t, 1, local.Len(), "shared hit promoted to memory")
}

func TestTiered_StoreFailuresDegradeToMiss(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	store.failGet = true
	store.failSet = true

	tc := NewTiered[payload](New(10), store, "result", zerolog.Nop())

	_, ok := tc.Get(ctx, "missing", time.Hour)
	assert.False(t, ok)

	// Write still lands in memory
	tc.Set(ctx, "k", payload{Objective: "risk_parity"}, time.Hour, tc.Generation())
	got, ok := tc.Get(ctx, "k", time.Hour)
	require.True(t, ok)
	assert.Equal(t, "risk_parity", got.Objective)
}

func TestTiered_StaleGenerationSkipsBothTiers(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	tc := NewTiered[payload](New(10), store, "result", zerolog.Nop())

	gen := tc.Generation()
	require.NoError(t, tc.Clear(ctx))

	tc.Set(ctx, "k", payload{Objective: "max_sharpe"}, time.Hour, gen)

	_, ok := tc.Get(ctx, "k", time.Hour)
	assert.False(t, ok)
	assert.Equal(t, 0, store.sets)
}

func TestTiered_DropsMistypedLocalEntry(t *testing.T) {
	ctx := context.Background()
	local := New(10)
	local.Set("result:k", "not a payload", time.Hour)

	tc := NewTiered[payload](local, nil, "result", zerolog.Nop())

	_, ok := tc.Get(ctx, "k", time.Hour)
	assert.False(t, ok)
	assert.Equal(t, 0, local.Len())

	tc.Set(ctx, "k", payload{Objective: "equal_weight"}, time.Hour, tc.Generation())
	got, ok := tc.Get(ctx, "k", time.Hour)
	require.True(t, ok)
	assert.Equal(t, "equal_weight", got.Objective)
}

func TestTiered_ClearEmptiesBothTiers(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	tc := NewTiered[payload](New(10), store, "result", zerolog.Nop())

	tc.Set(ctx, "k", payload{Objective: "max_sharpe"}, time.Hour, tc.Generation())
	require.NoError(t, tc.Clear(ctx))

	_, ok := tc.Get(ctx, "k", time.Hour)
	assert.False(t, ok)
	assert.Empty(t, store.data)
}

func TestEvictJob(t *testing.T) {
	clock := newFakeClock()
	c := New(10, WithClock(clock.Now))
	c.Set("a", 1, time.Second)
	c.Set("b", 2, time.Hour)

	job := NewEvictJob(c, zerolog.Nop())
	assert.Equal(t, "cache_evict", job.Name())

	clock.Advance(5 * time.Second)
	require.NoError(t, job.Run())
	assert.Equal(t, 1, c.Len())
}
