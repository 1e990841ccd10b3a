package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/doctrans/internal/jobs"
	"github.com/MimeLyc/doctrans/pkg/icron"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// Sweeper periodically fails in_progress jobs whose counters stopped
// moving, so a stalled worker cannot leave a job running forever. The
// failure write carries the translated-chunk count the sweeper observed;
// a job that progressed in the meantime is left alone.
type Sweeper struct {
	store      jobs.Store
	cron       *cron.Cron
	cronExpr   string
	stallAfter time.Duration
	now        func() time.Time

	group singleflight.Group
}

func NewSweeper(store jobs.Store, c *cron.Cron, cronExpr string, stallAfter time.Duration) *Sweeper {
	return &Sweeper{
		store:      store,
		cron:       c,
		cronExpr:   cronExpr,
		stallAfter: stallAfter,
		now:        time.Now,
	}
}

func (s *Sweeper) Schedule(ctx context.Context) error {
	log.Info("Scheduling stalled-job sweep: %s (stall window %s)", s.cronExpr, s.stallAfter)

	runFunc := func() {
		_, _, _ = s.group.Do("sweep", func() (any, error) {
			if err := s.Sweep(ctx); err != nil {
				log.Error("Stalled-job sweep failed: %v", err)
			}
			return nil, nil
		})
	}
	_, err := s.cron.AddFunc(s.cronExpr, runFunc)
	if err != nil {
		return err
	}

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	return nil
}

// Sweep runs one pass over the store.
func (s *Sweeper) Sweep(ctx context.Context) error {
	list, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	now := s.now()
	for _, job := range list {
		if job.TranslationStatus != jobs.TranslationInProgress {
			continue
		}
		idle := now.Sub(job.UpdatedAt)
		if idle < s.stallAfter {
			continue
		}
		reason := fmt.Sprintf("translation stalled: no progress for %s", idle.Truncate(time.Second))
		failed, err := s.store.FailTranslation(ctx, job.ID, reason, job.TranslatedChunks)
		if err != nil {
			log.Error("Failed to reap stalled job %s: %v", job.ID, err)
			continue
		}
		if failed {
			log.Warn("Reaped stalled job %s at chunk %d/%d", job.ID, job.TranslatedChunks, job.TotalChunks)
		}
	}
	return nil
}

// TriggerInfo reports the sweep schedule relative to now, for the health
// endpoint.
func (s *Sweeper) TriggerInfo() (*icron.TriggerInfo, error) {
	return icron.GetTriggerInfo(s.cronExpr, s.now())
}
