package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/MimeLyc/doctrans/internal/jobs"
	"github.com/MimeLyc/doctrans/internal/progress"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// ChunkSignaler hands a "translate this chunk" signal to the worker pool.
// The signal is fire-and-forget; dropped or duplicated signals are absorbed
// by the worker's own state checks.
type ChunkSignaler interface {
	SignalChunk(jobID string, chunkIndex int)
}

// StartParams are the caller-supplied translation parameters. Tone and
// ContextWindowSize are optional; nil ContextWindowSize takes the default.
type StartParams struct {
	TargetLanguage    string
	Tone              jobs.Tone
	ContextWindowSize *int
}

// StartReceipt echoes the accepted start back to the caller. The estimate
// uses a fixed per-chunk assumption since no real throughput exists yet.
type StartReceipt struct {
	JobID               string                 `json:"jobId"`
	TranslationStatus   jobs.TranslationStatus `json:"translationStatus"`
	TotalChunks         int                    `json:"totalChunks"`
	ChunksTranslated    int                    `json:"chunksTranslated"`
	EstimatedCompletion time.Time              `json:"estimatedCompletion"`
	EstimatedCost       float64                `json:"estimatedCost"`
}

type ControllerConfig struct {
	// SupportedLanguages is the accepted targetLanguage set, as BCP 47 tags.
	SupportedLanguages []string
	// ConservativePerChunk is the fixed per-chunk duration assumed in the
	// start receipt.
	ConservativePerChunk time.Duration
	// CostPerChunk is the projected spend per chunk for the start receipt.
	CostPerChunk float64
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		SupportedLanguages:   []string{"en", "de", "fr", "es", "it", "pt", "ja", "ko", "zh"},
		ConservativePerChunk: 30 * time.Second,
		CostPerChunk:         0.02,
	}
}

// Controller validates and applies job state transitions. It is stateless
// apart from its configuration: any number of instances may run
// concurrently against the same store, and the start transition stays
// single-winner because the claim is a conditional write in the store, not
// an in-process lock.
type Controller struct {
	store     jobs.Store
	signaler  ChunkSignaler
	cfg       ControllerConfig
	supported map[string]struct{}
	now       func() time.Time

	statusGroup singleflight.Group
}

func NewController(store jobs.Store, signaler ChunkSignaler, cfg ControllerConfig) (*Controller, error) {
	supported := make(map[string]struct{}, len(cfg.SupportedLanguages))
	for _, lang := range cfg.SupportedLanguages {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("invalid supported language %q: %w", lang, err)
		}
		supported[tag.String()] = struct{}{}
	}
	if cfg.ConservativePerChunk <= 0 {
		cfg.ConservativePerChunk = 30 * time.Second
	}
	return &Controller{
		store:     store,
		signaler:  signaler,
		cfg:       cfg,
		supported: supported,
		now:       time.Now,
	}, nil
}

// StartTranslation checks the start preconditions in order (first failure
// wins), claims the job via the store's compare-and-swap, and signals the
// worker pool to begin with chunk 0. The claim write always lands before
// the signal so a racing duplicate start cannot observe a signaled but
// unclaimed job.
func (c *Controller) StartTranslation(ctx context.Context, jobID, requesterID string, params StartParams) (StartReceipt, error) {
	if requesterID == "" {
		return StartReceipt{}, NewError(ErrUnauthenticated, "caller identity is required")
	}

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return StartReceipt{}, NewError(ErrNotFoundOrForbidden, "job not found")
		}
		return StartReceipt{}, WrapError(err, ErrInternal, "load job").WithContext("job_id", jobID)
	}
	if job.OwnerID != requesterID {
		// Deliberately indistinguishable from a missing job so non-owners
		// cannot probe for job existence.
		return StartReceipt{}, NewError(ErrNotFoundOrForbidden, "job not found")
	}

	if job.DocumentStatus != jobs.DocumentChunked {
		return StartReceipt{}, NewError(ErrInvalidState, "document not ready").
			WithContext("document_status", string(job.DocumentStatus))
	}

	if job.TranslationStatus == jobs.TranslationInProgress || job.TranslationStatus == jobs.TranslationCompleted {
		return StartReceipt{}, NewError(ErrAlreadyStarted, "translation already started").
			WithContext("translation_status", string(job.TranslationStatus))
	}

	if job.TotalChunks <= 0 {
		return StartReceipt{}, NewError(ErrNoWorkToDo, "job has no chunks to translate")
	}

	normalized, err := c.normalizeParams(params)
	if err != nil {
		return StartReceipt{}, err
	}

	startedAt := c.now()
	claimed, err := c.store.ClaimTranslation(ctx, jobID, normalized, startedAt)
	if err != nil {
		return StartReceipt{}, WrapError(err, ErrInternal, "claim translation").WithContext("job_id", jobID)
	}
	if !claimed {
		// Lost the race to a concurrent start between the read above and
		// the conditional write.
		return StartReceipt{}, NewError(ErrAlreadyStarted, "translation already started")
	}

	log.Info("Job %s claimed for translation to %s (%d chunks)", jobID, normalized.TargetLanguage, job.TotalChunks)
	c.signaler.SignalChunk(jobID, 0)

	return StartReceipt{
		JobID:               jobID,
		TranslationStatus:   jobs.TranslationInProgress,
		TotalChunks:         job.TotalChunks,
		ChunksTranslated:    0,
		EstimatedCompletion: progress.ConservativeEstimate(startedAt, job.TotalChunks, c.cfg.ConservativePerChunk),
		EstimatedCost:       float64(job.TotalChunks) * c.cfg.CostPerChunk,
	}, nil
}

// Status returns the progress report for a job, enforcing the same
// not-found-rather-than-forbidden ownership semantics as the start path.
// Concurrent fetches for the same job collapse into one store read.
func (c *Controller) Status(ctx context.Context, jobID, requesterID string) (progress.Report, error) {
	if requesterID == "" {
		return progress.Report{}, NewError(ErrUnauthenticated, "caller identity is required")
	}

	v, err, _ := c.statusGroup.Do(jobID, func() (any, error) {
		return c.store.GetJob(ctx, jobID)
	})
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return progress.Report{}, NewError(ErrNotFoundOrForbidden, "job not found")
		}
		return progress.Report{}, WrapError(err, ErrInternal, "load job").WithContext("job_id", jobID)
	}

	job := v.(*jobs.Job)
	if job.OwnerID != requesterID {
		return progress.Report{}, NewError(ErrNotFoundOrForbidden, "job not found")
	}

	return progress.BuildReport(c.now(), job), nil
}

func (c *Controller) normalizeParams(params StartParams) (jobs.TranslationParams, error) {
	if params.TargetLanguage == "" {
		return jobs.TranslationParams{}, NewError(ErrInvalidRequest, "targetLanguage is required")
	}
	tag, err := language.Parse(params.TargetLanguage)
	if err != nil {
		return jobs.TranslationParams{}, NewErrorWithCause(ErrInvalidRequest, "invalid targetLanguage", err).
			WithContext("target_language", params.TargetLanguage)
	}
	if _, ok := c.supported[tag.String()]; !ok {
		return jobs.TranslationParams{}, NewError(ErrInvalidRequest, "unsupported targetLanguage").
			WithContext("target_language", tag.String())
	}

	tone := params.Tone
	if tone == "" {
		tone = jobs.ToneNeutral
	}
	if !jobs.ValidTone(tone) {
		return jobs.TranslationParams{}, NewError(ErrInvalidRequest, "invalid tone").
			WithContext("tone", string(tone))
	}

	window := jobs.DefaultContextWindowSize
	if params.ContextWindowSize != nil {
		window = *params.ContextWindowSize
	}
	if window < 0 || window > jobs.MaxContextWindowSize {
		return jobs.TranslationParams{}, NewError(ErrInvalidRequest, "contextWindowSize out of range").
			WithContext("context_window_size", window)
	}

	return jobs.TranslationParams{
		TargetLanguage:    tag.String(),
		Tone:              tone,
		ContextWindowSize: window,
	}, nil
}
