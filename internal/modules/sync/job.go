package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job runs a full sync on a schedule
type Job struct {
	service *Service
	timeout time.Duration
	log     zerolog.Logger
}

// NewJob creates a scheduled sync job
func NewJob(service *Service, log zerolog.Logger) *Job {
	return &Job{
		service: service,
		timeout: 10 * time.Minute,
		log:     log.With().Str("job", "exchange_sync").Logger(),
	}
}

// Run executes one sync. A run is bounded and idempotent, so a timed-out or
// abandoned run is simply picked up by the next one.
func (j *Job) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	report := j.service.Run(ctx)

	var added, failed int
	for _, summary := range report.Summaries {
		added += summary.Added
		failed += summary.Failed
	}
	j.log.Info().Str("run_id", report.RunID).Int("added", added).Int("failed", failed).
		Msg("Scheduled sync completed")
	return nil
}

// Name returns the job name for scheduling and logging
func (j *Job) Name() string {
	return "exchange_sync"
}
