package prices

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RetentionJob prunes price history older than the retention window.
type RetentionJob struct {
	repo *HistoryRepository
	days int
	now  func() time.Time
	log  zerolog.Logger
}

// NewRetentionJob creates the retention job.
func NewRetentionJob(repo *HistoryRepository, days int, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		repo: repo,
		days: days,
		now:  time.Now,
		log:  log.With().Str("job", "history_retention").Logger(),
	}
}

// Run deletes rows older than the window.
func (j *RetentionJob) Run() error {
	if j.days <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := truncateDay(j.now()).AddDate(0, 0, -j.days)
	deleted, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to prune price history")
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Str("cutoff", cutoff.Format(DateLayout)).
			Msg("Pruned price history")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *RetentionJob) Name() string {
	return "history_retention"
}
