package polling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/doctrans/internal/jobs"
	"github.com/MimeLyc/doctrans/internal/progress"
)

// scriptedFetcher returns its reports in order, then keeps returning the
// last one. A nil entry means a fetch error.
type scriptedFetcher struct {
	mu      sync.Mutex
	reports []*progress.Report
	calls   int
}

func (f *scriptedFetcher) FetchStatus(_ context.Context, _ string) (progress.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.reports) {
		idx = len(f.reports) - 1
	}
	f.calls++
	r := f.reports[idx]
	if r == nil {
		return progress.Report{}, errors.New("connection refused")
	}
	return *r, nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func inProgressReport(translated int) *progress.Report {
	return &progress.Report{
		JobID:             "job-1",
		TranslationStatus: jobs.TranslationInProgress,
		TotalChunks:       10,
		TranslatedChunks:  translated,
	}
}

func completedReport() *progress.Report {
	return &progress.Report{
		JobID:              "job-1",
		TranslationStatus:  jobs.TranslationCompleted,
		TotalChunks:        10,
		TranslatedChunks:   10,
		ProgressPercentage: 100,
	}
}

// newTestWatcher builds a watcher with a fake clock and a sleep that
// records requested durations without actually waiting.
func newTestWatcher(t *testing.T, fetcher StatusFetcher, cfg WatcherConfig) (*Watcher, *time.Time, *[]time.Duration) {
	t.Helper()
	w := NewWatcher("job-1", fetcher, cfg)
	current := time.Now()
	w.now = func() time.Time { return current }
	w.breaker.now = w.now

	var slept []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return w, &current, &slept
}

func TestWatcher_DeliversUntilTerminal(t *testing.T) {
	fetcher := &scriptedFetcher{reports: []*progress.Report{
		inProgressReport(3),
		inProgressReport(7),
		completedReport(),
	}}
	w, _, slept := newTestWatcher(t, fetcher, WatcherConfig{})

	err := w.Run(context.Background())
	require.NoError(t, err)

	var got []Update
	for u := range w.Updates() {
		got = append(got, u)
	}
	require.Len(t, got, 3)
	assert.Equal(t, 3, got[0].Report.TranslatedChunks)
	assert.Equal(t, 7, got[1].Report.TranslatedChunks)
	assert.Equal(t, jobs.TranslationCompleted, got[2].Report.TranslationStatus)
	// No sleep after the terminal report.
	assert.Len(t, *slept, 2)
}

func TestWatcher_IntervalTiers(t *testing.T) {
	visible := true
	w := NewWatcher("job-1", nil, WatcherConfig{Visible: func() bool { return visible }})
	started := time.Now()
	current := started
	w.now = func() time.Time { return current }
	w.startedAt = started

	current = started.Add(2 * time.Minute)
	assert.Equal(t, 15*time.Second, w.interval())

	current = started.Add(10 * time.Minute)
	assert.Equal(t, 30*time.Second, w.interval())

	current = started.Add(40 * time.Minute)
	assert.Equal(t, 60*time.Second, w.interval())

	// Hidden wins over every age tier.
	visible = false
	current = started.Add(2 * time.Minute)
	assert.Equal(t, 120*time.Second, w.interval())
	current = started.Add(40 * time.Minute)
	assert.Equal(t, 120*time.Second, w.interval())
}

func TestWatcher_SleepsAtTierInterval(t *testing.T) {
	fetcher := &scriptedFetcher{reports: []*progress.Report{
		inProgressReport(1),
		inProgressReport(2),
		completedReport(),
	}}
	w, _, slept := newTestWatcher(t, fetcher, WatcherConfig{})

	go func() {
		for range w.Updates() {
		}
	}()
	require.NoError(t, w.Run(context.Background()))

	require.Len(t, *slept, 2)
	assert.Equal(t, 15*time.Second, (*slept)[0])
}

func TestWatcher_SwallowsFailuresBelowThreshold(t *testing.T) {
	fetcher := &scriptedFetcher{reports: []*progress.Report{
		nil,
		nil,
		completedReport(),
	}}
	w, _, _ := newTestWatcher(t, fetcher, WatcherConfig{
		Breaker: BreakerConfig{ErrorThreshold: 5},
	})

	require.NoError(t, w.Run(context.Background()))

	var got []Update
	for u := range w.Updates() {
		got = append(got, u)
	}
	// The two failed fetches produce nothing; only the success is seen.
	require.Len(t, got, 1)
	assert.False(t, got[0].Suspended)
	assert.Equal(t, jobs.TranslationCompleted, got[0].Report.TranslationStatus)
}

func TestWatcher_SuspensionNoticeOnce(t *testing.T) {
	fetcher := &scriptedFetcher{reports: []*progress.Report{nil}}
	w, _, slept := newTestWatcher(t, fetcher, WatcherConfig{
		Breaker: BreakerConfig{ErrorThreshold: 2, RecoveryTime: 30 * time.Second},
	})

	// Let the loop trip the breaker, then cancel once it has idled on the
	// cooldown a few times.
	ctx, cancel := context.WithCancel(context.Background())
	origSleep := w.sleep
	w.sleep = func(ctx context.Context, d time.Duration) error {
		if len(*slept) >= 4 {
			cancel()
		}
		return origSleep(ctx, d)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	var got []Update
	for u := range w.Updates() {
		got = append(got, u)
	}
	assert.ErrorIs(t, <-errCh, context.Canceled)

	// Exactly one suspension notice despite multiple cooldown laps.
	require.Len(t, got, 1)
	assert.True(t, got[0].Suspended)
	assert.Nil(t, got[0].Report)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestWatcher_RecoversAfterSuspension(t *testing.T) {
	fetcher := &scriptedFetcher{reports: []*progress.Report{
		nil,
		nil,
		completedReport(),
	}}
	w, clock, _ := newTestWatcher(t, fetcher, WatcherConfig{
		Breaker: BreakerConfig{ErrorThreshold: 2, RecoveryTime: 30 * time.Second},
	})

	// Advance past the cooldown whenever the loop sleeps so the half-open
	// trial runs.
	origSleep := w.sleep
	w.sleep = func(ctx context.Context, d time.Duration) error {
		*clock = clock.Add(d + time.Second)
		return origSleep(ctx, d)
	}

	require.NoError(t, w.Run(context.Background()))

	var got []Update
	for u := range w.Updates() {
		got = append(got, u)
	}
	require.Len(t, got, 2)
	assert.True(t, got[0].Suspended)
	require.NotNil(t, got[1].Report)
	assert.Equal(t, jobs.TranslationCompleted, got[1].Report.TranslationStatus)
	assert.Equal(t, StateClosed, w.breaker.State())
}

func TestWatcher_CancelStopsSleep(t *testing.T) {
	fetcher := &scriptedFetcher{reports: []*progress.Report{inProgressReport(1)}}
	w := NewWatcher("job-1", fetcher, WatcherConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	// Drain the first report, then cancel while the loop sleeps the full
	// 15s interval. Run must return well before the interval elapses.
	u := <-w.Updates()
	require.NotNil(t, u.Report)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancellation")
	}

	// The channel is closed with nothing delivered after the cancel.
	_, open := <-w.Updates()
	assert.False(t, open)
}

func TestWatcher_NoDeliveryAfterCancel(t *testing.T) {
	fetcher := &scriptedFetcher{reports: []*progress.Report{completedReport()}}
	w := NewWatcher("job-1", fetcher, WatcherConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, open := <-w.Updates()
	assert.False(t, open)
}
