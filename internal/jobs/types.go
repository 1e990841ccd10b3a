package jobs

import "time"

// DocumentStatus tracks the lifecycle of the source document. It is owned
// by the ingestion side; translation only ever reads it.
type DocumentStatus string

const (
	DocumentPendingUpload    DocumentStatus = "pending_upload"
	DocumentUploaded         DocumentStatus = "uploaded"
	DocumentValidationFailed DocumentStatus = "validation_failed"
	DocumentChunked          DocumentStatus = "chunked"
)

// TranslationStatus is owned by the lifecycle controller at start time and
// by the worker pool thereafter.
type TranslationStatus string

const (
	TranslationNotStarted TranslationStatus = "not_started"
	TranslationInProgress TranslationStatus = "in_progress"
	TranslationCompleted  TranslationStatus = "completed"
	TranslationFailed     TranslationStatus = "translation_failed"
)

// Terminal reports whether the status can no longer change.
func (s TranslationStatus) Terminal() bool {
	return s == TranslationCompleted || s == TranslationFailed
}

type Tone string

const (
	ToneFormal   Tone = "formal"
	ToneInformal Tone = "informal"
	ToneNeutral  Tone = "neutral"
)

func ValidTone(t Tone) bool {
	switch t {
	case ToneFormal, ToneInformal, ToneNeutral:
		return true
	default:
		return false
	}
}

const (
	DefaultContextWindowSize = 2
	MaxContextWindowSize     = 5
)

// TranslationParams are the immutable translation parameters supplied at
// start time.
type TranslationParams struct {
	TargetLanguage    string `json:"target_language"`
	Tone              Tone   `json:"tone"`
	ContextWindowSize int    `json:"context_window_size"`
}

// Job is the persisted state of one document translation job.
type Job struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	Filename       string `json:"filename"`
	SourceLanguage string `json:"source_language,omitempty"`

	DocumentStatus    DocumentStatus    `json:"document_status"`
	TranslationStatus TranslationStatus `json:"translation_status"`

	TotalChunks      int `json:"total_chunks"`
	TranslatedChunks int `json:"translated_chunks"`

	TargetLanguage    string `json:"target_language,omitempty"`
	Tone              Tone   `json:"tone,omitempty"`
	ContextWindowSize int    `json:"context_window_size"`

	TranslationStartedAt   *time.Time `json:"translation_started_at,omitempty"`
	TranslationCompletedAt *time.Time `json:"translation_completed_at,omitempty"`

	TokensUsed    int64   `json:"tokens_used"`
	EstimatedCost float64 `json:"estimated_cost"`

	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChunkUsage is what one chunk translation consumed, as reported by the
// worker pool.
type ChunkUsage struct {
	Tokens int64
	Cost   float64
}

// ChunkOutcome describes the effect of applying one chunk completion.
// Applied is false when the signal was stale (duplicate index) or the job
// was no longer running; the worker drops such signals.
type ChunkOutcome struct {
	Applied          bool
	TranslatedChunks int
	TotalChunks      int
	Done             bool
}

// DocumentUpdate carries the fields an ingestion-side document transition
// may set alongside the status flip.
type DocumentUpdate struct {
	SourceLanguage string
	TotalChunks    int
	LastError      string
}

func CloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	if job.TranslationStartedAt != nil {
		t := *job.TranslationStartedAt
		tmp.TranslationStartedAt = &t
	}
	if job.TranslationCompletedAt != nil {
		t := *job.TranslationCompletedAt
		tmp.TranslationCompletedAt = &t
	}
	return &tmp
}
