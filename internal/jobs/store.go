package jobs

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned when a job id has no record.
	ErrJobNotFound = errors.New("job not found")
	// ErrChunkNotFound is returned when a chunk index has no stored payload.
	ErrChunkNotFound = errors.New("chunk not found")
)

// Store persists job records. Writes that race other writers take an
// expected-previous-value precondition instead of relying on in-process
// locking, so the controller and worker pool stay safe when deployed as
// multiple stateless instances over a shared store.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)

	// SetDocumentState flips documentStatus from expect to next, applying
	// the update fields in the same write. Returns false when the current
	// status did not match expect.
	SetDocumentState(ctx context.Context, jobID string, expect, next DocumentStatus, update DocumentUpdate) (bool, error)

	// ClaimTranslation is the start-translation compare-and-swap: it moves
	// translationStatus to in_progress iff the current status is neither
	// in_progress nor completed, zeroes the progress counters, and records
	// the supplied parameters and start time. Returns false when another
	// caller already holds the claim.
	ClaimTranslation(ctx context.Context, jobID string, params TranslationParams, startedAt time.Time) (bool, error)

	// ApplyChunkResult records the completion of chunk chunkIndex. The write
	// applies only while translationStatus is in_progress and chunkIndex is
	// exactly the next expected chunk; the final chunk also flips the job to
	// completed with a completion timestamp in the same write.
	ApplyChunkResult(ctx context.Context, jobID string, chunkIndex int, usage ChunkUsage, now time.Time) (ChunkOutcome, error)

	// FailTranslation moves an in_progress job to translation_failed with
	// the given reason, but only while translatedChunks still equals
	// expectTranslated. A job whose counters moved since the caller looked
	// is not failed.
	FailTranslation(ctx context.Context, jobID string, reason string, expectTranslated int) (bool, error)

	// SaveChunks stores the chunk payloads produced at chunking time.
	SaveChunks(ctx context.Context, jobID string, chunks []string) error
	LoadChunk(ctx context.Context, jobID string, index int) (string, error)

	// SaveTranslatedChunk stores the output for one chunk; re-translation
	// after a retry overwrites. LoadTranslatedChunks returns outputs in
	// chunk order, with untranslated positions empty.
	SaveTranslatedChunk(ctx context.Context, jobID string, index int, text string) error
	LoadTranslatedChunks(ctx context.Context, jobID string) ([]string, error)
}
