package progress

import (
	"math"
	"time"

	"github.com/MimeLyc/doctrans/internal/jobs"
)

// Percentage converts chunk counters into a whole-number percentage using
// round-half-up. A job with no chunks reports zero.
func Percentage(translated, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Floor(float64(translated)/float64(total)*100 + 0.5))
}

// EstimateCompletion extrapolates a finish time from observed throughput:
// average seconds per chunk so far, times chunks remaining. There is no
// estimate until at least one chunk has landed, so the boolean mirrors the
// "present only when computable" contract of the status response.
//
// Linear extrapolation from elapsed time is deliberate: chunk durations vary
// with backend rate limiting, and recomputing from wall clock on every fetch
// keeps the estimate self-correcting without persisted state.
func EstimateCompletion(now time.Time, startedAt *time.Time, translated, total int) (time.Time, bool) {
	if startedAt == nil || translated <= 0 || translated > total {
		return time.Time{}, false
	}
	elapsed := now.Sub(*startedAt)
	if elapsed <= 0 {
		return time.Time{}, false
	}
	avgPerChunk := elapsed / time.Duration(translated)
	remaining := total - translated
	return now.Add(time.Duration(remaining) * avgPerChunk), true
}

// ConservativeEstimate is the fixed per-chunk projection used in the start
// response, before any real throughput exists.
func ConservativeEstimate(now time.Time, totalChunks int, perChunk time.Duration) time.Time {
	return now.Add(time.Duration(totalChunks) * perChunk)
}

// Report is the status-fetch response shape. Optional fields carry explicit
// present-only-when contracts: estimatedCompletion only while an in-progress
// estimate is computable, error only for failed translations.
type Report struct {
	JobID              string                 `json:"jobId"`
	DocumentStatus     jobs.DocumentStatus    `json:"documentStatus"`
	TranslationStatus  jobs.TranslationStatus `json:"translationStatus"`
	TargetLanguage     string                 `json:"targetLanguage,omitempty"`
	Tone               jobs.Tone              `json:"tone,omitempty"`
	TotalChunks        int                    `json:"totalChunks"`
	TranslatedChunks   int                    `json:"translatedChunks"`
	ProgressPercentage int                    `json:"progressPercentage"`
	TokensUsed         int64                  `json:"tokensUsed"`
	EstimatedCost      float64                `json:"estimatedCost"`

	TranslationStartedAt   *time.Time `json:"translationStartedAt,omitempty"`
	TranslationCompletedAt *time.Time `json:"translationCompletedAt,omitempty"`
	EstimatedCompletion    *time.Time `json:"estimatedCompletion,omitempty"`

	Error string `json:"error,omitempty"`
}

// BuildReport computes a Report from a job snapshot. Pure given the
// snapshot and now; nothing here is stored back.
func BuildReport(now time.Time, job *jobs.Job) Report {
	report := Report{
		JobID:                  job.ID,
		DocumentStatus:         job.DocumentStatus,
		TranslationStatus:      job.TranslationStatus,
		TargetLanguage:         job.TargetLanguage,
		Tone:                   job.Tone,
		TotalChunks:            job.TotalChunks,
		TranslatedChunks:       job.TranslatedChunks,
		ProgressPercentage:     Percentage(job.TranslatedChunks, job.TotalChunks),
		TokensUsed:             job.TokensUsed,
		EstimatedCost:          job.EstimatedCost,
		TranslationStartedAt:   job.TranslationStartedAt,
		TranslationCompletedAt: job.TranslationCompletedAt,
	}

	switch job.TranslationStatus {
	case jobs.TranslationInProgress:
		if eta, ok := EstimateCompletion(now, job.TranslationStartedAt, job.TranslatedChunks, job.TotalChunks); ok {
			report.EstimatedCompletion = &eta
		}
	case jobs.TranslationFailed:
		report.Error = job.LastError
	}

	return report
}
