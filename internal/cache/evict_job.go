package cache

import "github.com/rs/zerolog"

// EvictJob periodically drops expired entries so they do not hold capacity
// until the next lookup.
type EvictJob struct {
	cache *Cache
	log   zerolog.Logger
}

// NewEvictJob creates the eviction job.
func NewEvictJob(cache *Cache, log zerolog.Logger) *EvictJob {
	return &EvictJob{
		cache: cache,
		log:   log.With().Str("job", "cache_evict").Logger(),
	}
}

// Run removes expired entries.
func (j *EvictJob) Run() error {
	removed := j.cache.EvictExpired()
	if removed > 0 {
		j.log.Info().
			Int("removed", removed).
			Int("remaining", j.cache.Len()).
			Msg("Evicted expired cache entries")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *EvictJob) Name() string {
	return "cache_evict"
}
