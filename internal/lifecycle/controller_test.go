package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/doctrans/internal/jobs"
)

type signalRecorder struct {
	mu      sync.Mutex
	signals []int
	jobIDs  []string
}

func (r *signalRecorder) SignalChunk(jobID string, chunkIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobIDs = append(r.jobIDs, jobID)
	r.signals = append(r.signals, chunkIndex)
}

func (r *signalRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

func newTestController(t *testing.T, store jobs.Store) (*Controller, *signalRecorder) {
	t.Helper()
	recorder := &signalRecorder{}
	ctl, err := NewController(store, recorder, DefaultControllerConfig())
	require.NoError(t, err)
	return ctl, recorder
}

func seedJob(t *testing.T, store jobs.Store, job jobs.Job) {
	t.Helper()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
		job.UpdatedAt = job.CreatedAt
	}
	require.NoError(t, store.CreateJob(context.Background(), &job))
}

func TestStartTranslation_Success(t *testing.T) {
	store := jobs.NewMemoryStore()
	ctl, recorder := newTestController(t, store)
	seedJob(t, store, jobs.Job{
		ID:                "job-1",
		OwnerID:           "owner-1",
		DocumentStatus:    jobs.DocumentChunked,
		TranslationStatus: jobs.TranslationNotStarted,
		TotalChunks:       6,
	})

	receipt, err := ctl.StartTranslation(context.Background(), "job-1", "owner-1", StartParams{TargetLanguage: "de"})
	require.NoError(t, err)

	assert.Equal(t, jobs.TranslationInProgress, receipt.TranslationStatus)
	assert.Equal(t, 6, receipt.TotalChunks)
	assert.Equal(t, 0, receipt.ChunksTranslated)
	assert.False(t, receipt.EstimatedCompletion.IsZero())
	assert.InDelta(t, 6*0.02, receipt.EstimatedCost, 1e-9)

	require.Equal(t, 1, recorder.count())
	assert.Equal(t, 0, recorder.signals[0])
	assert.Equal(t, "job-1", recorder.jobIDs[0])

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.TranslationInProgress, job.TranslationStatus)
	assert.Equal(t, "de", job.TargetLanguage)
	assert.Equal(t, jobs.ToneNeutral, job.Tone)
	assert.Equal(t, jobs.DefaultContextWindowSize, job.ContextWindowSize)
	require.NotNil(t, job.TranslationStartedAt)
}

func TestStartTranslation_ConcurrentDuplicates_OneWinner(t *testing.T) {
	store := jobs.NewMemoryStore()
	ctl, recorder := newTestController(t, store)
	seedJob(t, store, jobs.Job{
		ID:                "job-1",
		OwnerID:           "owner-1",
		DocumentStatus:    jobs.DocumentChunked,
		TranslationStatus: jobs.TranslationNotStarted,
		TotalChunks:       3,
	})

	const racers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	alreadyStarted := 0
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ctl.StartTranslation(context.Background(), "job-1", "owner-1", StartParams{TargetLanguage: "fr"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if IsErrorKind(err, ErrAlreadyStarted) {
				alreadyStarted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, racers-1, alreadyStarted)
	// Exactly one begin-chunk-0 signal per successful start.
	assert.Equal(t, 1, recorder.count())
}

func TestStartTranslation_PreconditionOrder(t *testing.T) {
	tests := []struct {
		name     string
		job      jobs.Job
		caller   string
		params   StartParams
		wantKind ErrorKind
	}{
		{
			name:     "missing job",
			caller:   "owner-1",
			params:   StartParams{TargetLanguage: "de"},
			wantKind: ErrNotFoundOrForbidden,
		},
		{
			name: "wrong owner reads as not found",
			job: jobs.Job{
				ID: "job-1", OwnerID: "owner-1",
				DocumentStatus: jobs.DocumentChunked, TranslationStatus: jobs.TranslationNotStarted,
				TotalChunks: 2,
			},
			caller:   "intruder",
			params:   StartParams{TargetLanguage: "de"},
			wantKind: ErrNotFoundOrForbidden,
		},
		{
			name: "document not chunked beats already started",
			job: jobs.Job{
				ID: "job-1", OwnerID: "owner-1",
				DocumentStatus: jobs.DocumentUploaded, TranslationStatus: jobs.TranslationCompleted,
				TotalChunks: 2,
			},
			caller:   "owner-1",
			params:   StartParams{TargetLanguage: "de"},
			wantKind: ErrInvalidState,
		},
		{
			name: "already completed",
			job: jobs.Job{
				ID: "job-1", OwnerID: "owner-1",
				DocumentStatus: jobs.DocumentChunked, TranslationStatus: jobs.TranslationCompleted,
				TotalChunks: 2,
			},
			caller:   "owner-1",
			params:   StartParams{TargetLanguage: "de"},
			wantKind: ErrAlreadyStarted,
		},
		{
			name: "zero chunks",
			job: jobs.Job{
				ID: "job-1", OwnerID: "owner-1",
				DocumentStatus: jobs.DocumentChunked, TranslationStatus: jobs.TranslationNotStarted,
				TotalChunks: 0,
			},
			caller:   "owner-1",
			params:   StartParams{TargetLanguage: "de"},
			wantKind: ErrNoWorkToDo,
		},
		{
			name: "missing target language",
			job: jobs.Job{
				ID: "job-1", OwnerID: "owner-1",
				DocumentStatus: jobs.DocumentChunked, TranslationStatus: jobs.TranslationNotStarted,
				TotalChunks: 2,
			},
			caller:   "owner-1",
			params:   StartParams{},
			wantKind: ErrInvalidRequest,
		},
		{
			name: "unsupported target language",
			job: jobs.Job{
				ID: "job-1", OwnerID: "owner-1",
				DocumentStatus: jobs.DocumentChunked, TranslationStatus: jobs.TranslationNotStarted,
				TotalChunks: 2,
			},
			caller:   "owner-1",
			params:   StartParams{TargetLanguage: "tlh"},
			wantKind: ErrInvalidRequest,
		},
		{
			name: "invalid tone",
			job: jobs.Job{
				ID: "job-1", OwnerID: "owner-1",
				DocumentStatus: jobs.DocumentChunked, TranslationStatus: jobs.TranslationNotStarted,
				TotalChunks: 2,
			},
			caller:   "owner-1",
			params:   StartParams{TargetLanguage: "de", Tone: "sarcastic"},
			wantKind: ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := jobs.NewMemoryStore()
			ctl, recorder := newTestController(t, store)
			if tt.job.ID != "" {
				seedJob(t, store, tt.job)
			}

			_, err := ctl.StartTranslation(context.Background(), "job-1", tt.caller, tt.params)
			require.Error(t, err)
			assert.True(t, IsErrorKind(err, tt.wantKind), "got %v", err)
			assert.Zero(t, recorder.count())
		})
	}
}

func TestStartTranslation_ContextWindowBounds(t *testing.T) {
	store := jobs.NewMemoryStore()
	ctl, _ := newTestController(t, store)
	seedJob(t, store, jobs.Job{
		ID: "job-1", OwnerID: "owner-1",
		DocumentStatus: jobs.DocumentChunked, TranslationStatus: jobs.TranslationNotStarted,
		TotalChunks: 2,
	})

	tooBig := 6
	_, err := ctl.StartTranslation(context.Background(), "job-1", "owner-1", StartParams{
		TargetLanguage:    "de",
		ContextWindowSize: &tooBig,
	})
	require.Error(t, err)
	assert.True(t, IsErrorKind(err, ErrInvalidRequest))

	zero := 0
	_, err = ctl.StartTranslation(context.Background(), "job-1", "owner-1", StartParams{
		TargetLanguage:    "de",
		ContextWindowSize: &zero,
	})
	require.NoError(t, err)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, job.ContextWindowSize)
}

func TestStartTranslation_RestartAfterFailure(t *testing.T) {
	store := jobs.NewMemoryStore()
	ctl, recorder := newTestController(t, store)
	seedJob(t, store, jobs.Job{
		ID: "job-1", OwnerID: "owner-1",
		DocumentStatus: jobs.DocumentChunked, TranslationStatus: jobs.TranslationNotStarted,
		TotalChunks: 2,
	})

	_, err := ctl.StartTranslation(context.Background(), "job-1", "owner-1", StartParams{TargetLanguage: "de"})
	require.NoError(t, err)
	_, err = store.FailTranslation(context.Background(), "job-1", "worker died", 0)
	require.NoError(t, err)

	_, err = ctl.StartTranslation(context.Background(), "job-1", "owner-1", StartParams{TargetLanguage: "fr"})
	require.NoError(t, err)

	assert.Equal(t, 2, recorder.count())
	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "fr", job.TargetLanguage)
	assert.Empty(t, job.LastError)
}

func TestStatus_OwnershipAndReport(t *testing.T) {
	store := jobs.NewMemoryStore()
	ctl, _ := newTestController(t, store)
	startedAt := time.Now().Add(-10 * time.Minute)
	seedJob(t, store, jobs.Job{
		ID: "job-1", OwnerID: "owner-1",
		DocumentStatus: jobs.DocumentChunked, TranslationStatus: jobs.TranslationInProgress,
		TotalChunks: 10, TranslatedChunks: 5,
		TranslationStartedAt: &startedAt,
	})

	report, err := ctl.Status(context.Background(), "job-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 50, report.ProgressPercentage)
	require.NotNil(t, report.EstimatedCompletion)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *report.EstimatedCompletion, 5*time.Second)

	_, err = ctl.Status(context.Background(), "job-1", "intruder")
	require.Error(t, err)
	assert.True(t, IsErrorKind(err, ErrNotFoundOrForbidden))

	_, err = ctl.Status(context.Background(), "job-1", "")
	require.Error(t, err)
	assert.True(t, IsErrorKind(err, ErrUnauthenticated))

	_, err = ctl.Status(context.Background(), "missing", "owner-1")
	require.Error(t, err)
	assert.True(t, IsErrorKind(err, ErrNotFoundOrForbidden))
}
