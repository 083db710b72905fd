package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xhclintohn/9bot-pair-server/internal/config"
	"github.com/xhclintohn/9bot-pair-server/internal/registry"
	"github.com/xhclintohn/9bot-pair-server/internal/repository"
)

// CleanupJob periodically evicts terminal sessions from the registry once
// their grace window has passed, and trims status-store rows older than the
// retention period. The grace window is what keeps /status answering for a
// short while after a session ends.
type CleanupJob struct {
	registry  *registry.Registry
	store     repository.SessionRecordRepository
	interval  time.Duration
	grace     time.Duration
	retention time.Duration
	done      chan struct{}
}

func NewCleanupJob(
	reg *registry.Registry,
	store repository.SessionRecordRepository,
	interval time.Duration,
	grace time.Duration,
	retention time.Duration,
) *CleanupJob {
	return &CleanupJob{
		registry:  reg,
		store:     store,
		interval:  interval,
		grace:     grace,
		retention: retention,
		done:      make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), config.CleanupSweepTimeout)
	defer cancel()

	evicted := j.registry.SweepTerminal(time.Now(), j.grace)
	for _, s := range evicted {
		snap := s.Snapshot()
		log.Info().
			Str("session_id", snap.ID).
			Str("state", string(snap.State)).
			Msg("evicted terminal session")
	}

	j.runCleanup(ctx, "session records", func(ctx context.Context) (int64, error) {
		return j.store.DeleteOlderThan(ctx, time.Now().Add(-j.retention))
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
