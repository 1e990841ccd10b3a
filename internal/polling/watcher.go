package polling

import (
	"context"
	"time"

	"github.com/MimeLyc/doctrans/internal/progress"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// StatusFetcher fetches one status snapshot for a job.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, jobID string) (progress.Report, error)
}

// Update is what a Watcher delivers to its consumer. Either Report is set,
// or Suspended is true — the latter is the single "temporarily unable to
// check status, retrying" notice sent when the breaker opens. Individual
// fetch failures below the threshold are swallowed and never delivered.
type Update struct {
	Report    *progress.Report
	Suspended bool
}

type WatcherConfig struct {
	Breaker BreakerConfig

	// Visible reports whether the consuming UI/process is foregrounded.
	// Nil means always visible.
	Visible func() bool

	// Interval tiers by watch age. Zero values take the defaults below.
	YoungInterval  time.Duration // while the watch is younger than YoungAge
	MidInterval    time.Duration // until MidAge
	OldInterval    time.Duration // after MidAge
	HiddenInterval time.Duration // whenever Visible() is false, any age
	YoungAge       time.Duration
	MidAge         time.Duration
}

func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Breaker:        DefaultBreakerConfig(),
		YoungInterval:  15 * time.Second,
		MidInterval:    30 * time.Second,
		OldInterval:    60 * time.Second,
		HiddenInterval: 120 * time.Second,
		YoungAge:       5 * time.Minute,
		MidAge:         30 * time.Minute,
	}
}

func (c WatcherConfig) withDefaults() WatcherConfig {
	d := DefaultWatcherConfig()
	c.Breaker = c.Breaker.withDefaults()
	if c.YoungInterval <= 0 {
		c.YoungInterval = d.YoungInterval
	}
	if c.MidInterval <= 0 {
		c.MidInterval = d.MidInterval
	}
	if c.OldInterval <= 0 {
		c.OldInterval = d.OldInterval
	}
	if c.HiddenInterval <= 0 {
		c.HiddenInterval = d.HiddenInterval
	}
	if c.YoungAge <= 0 {
		c.YoungAge = d.YoungAge
	}
	if c.MidAge <= 0 {
		c.MidAge = d.MidAge
	}
	return c
}

// Watcher polls one job until it reaches a terminal translation status or
// the caller cancels. It owns its circuit breaker; watchers for different
// jobs share nothing. The loop is a single goroutine that sleeps between
// polls, so cancellation is checked on every sleep and every delivery.
type Watcher struct {
	jobID   string
	fetcher StatusFetcher
	breaker *Breaker
	cfg     WatcherConfig

	startedAt           time.Time
	consecutiveFailures int
	lastSuccessAt       time.Time

	updates chan Update
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewWatcher(jobID string, fetcher StatusFetcher, cfg WatcherConfig) *Watcher {
	cfg = cfg.withDefaults()
	return &Watcher{
		jobID:   jobID,
		fetcher: fetcher,
		breaker: NewBreaker(cfg.Breaker),
		cfg:     cfg,
		updates: make(chan Update, 16),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Updates is the consumer-facing stream. It is closed when Run returns.
func (w *Watcher) Updates() <-chan Update {
	return w.updates
}

// Run drives the polling loop. It returns nil once a terminal status has
// been delivered, or the context error when the caller cancels. Nothing is
// delivered after cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.updates)

	w.startedAt = w.now()
	suspendNotified := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !w.breaker.CanExecute() {
			if !suspendNotified {
				suspendNotified = true
				if !w.deliver(ctx, Update{Suspended: true}) {
					return ctx.Err()
				}
				log.Warn("Polling for job %s suspended: breaker open", w.jobID)
			}
			if err := w.sleep(ctx, w.breaker.RemainingCooldown()); err != nil {
				return err
			}
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.Breaker.CallTimeout)
		report, err := w.fetcher.FetchStatus(fetchCtx, w.jobID)
		cancel()

		if ctxErr := ctx.Err(); ctxErr != nil {
			// Canceled mid-fetch; a partial result must not be delivered.
			return ctxErr
		}

		if err != nil {
			// Transient failures are swallowed; the consumer only hears
			// about them through the suspension notice above.
			w.consecutiveFailures++
			w.breaker.RecordFailure()
			log.Debug("Status fetch for job %s failed (%d consecutive): %v", w.jobID, w.consecutiveFailures, err)
		} else {
			w.consecutiveFailures = 0
			w.lastSuccessAt = w.now()
			w.breaker.RecordSuccess()
			suspendNotified = false

			if !w.deliver(ctx, Update{Report: &report}) {
				return ctx.Err()
			}
			if report.TranslationStatus.Terminal() {
				return nil
			}
		}

		if err := w.sleep(ctx, w.interval()); err != nil {
			return err
		}
	}
}

// interval picks the next polling delay. Hidden consumers poll slowly no
// matter how young the watch is; visible ones tier up with watch age.
func (w *Watcher) interval() time.Duration {
	if w.cfg.Visible != nil && !w.cfg.Visible() {
		return w.cfg.HiddenInterval
	}
	age := w.now().Sub(w.startedAt)
	switch {
	case age < w.cfg.YoungAge:
		return w.cfg.YoungInterval
	case age < w.cfg.MidAge:
		return w.cfg.MidInterval
	default:
		return w.cfg.OldInterval
	}
}

func (w *Watcher) deliver(ctx context.Context, update Update) bool {
	select {
	case w.updates <- update:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
