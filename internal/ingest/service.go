package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"

	"github.com/MimeLyc/doctrans/internal/jobs"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// minDetectionConfidence is the whatlanggo confidence below which the
// source language is treated as undetectable.
const minDetectionConfidence = 0.5

// Service is the upload/ingestion side of a job: it creates records and
// walks the document lifecycle pending_upload → uploaded → chunked (or
// validation_failed). It never touches translationStatus.
type Service struct {
	store     jobs.Store
	chunkSize int
	now       func() time.Time
}

func NewService(store jobs.Store, chunkSize int) *Service {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Service{
		store:     store,
		chunkSize: chunkSize,
		now:       time.Now,
	}
}

// CreateJob registers a new job awaiting its document upload.
func (s *Service) CreateJob(ctx context.Context, ownerID, filename string) (*jobs.Job, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	now := s.now()
	job := &jobs.Job{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		Filename:          filename,
		DocumentStatus:    jobs.DocumentPendingUpload,
		TranslationStatus: jobs.TranslationNotStarted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	log.Info("Created job %s for owner %s (%s)", job.ID, ownerID, filename)
	return job, nil
}

// MarkUploaded accepts the document content for a pending job, detects its
// source language, and chunks it. Undetectable or empty content moves the
// document to validation_failed; on success it ends chunked with
// totalChunks set. Re-upload after chunking is rejected — the document
// lifecycle only moves forward.
func (s *Service) MarkUploaded(ctx context.Context, jobID, ownerID string, content string) (*jobs.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, jobs.ErrJobNotFound
	}
	if job.DocumentStatus != jobs.DocumentPendingUpload {
		return nil, fmt.Errorf("document already %s", job.DocumentStatus)
	}

	if strings.TrimSpace(content) == "" {
		return s.failValidation(ctx, jobID, "document is empty")
	}

	info := whatlanggo.Detect(content)
	if !info.IsReliable() || info.Confidence < minDetectionConfidence {
		return s.failValidation(ctx, jobID, "could not detect document language")
	}
	sourceLang := info.Lang.Iso6391()
	if sourceLang == "" {
		sourceLang = info.Lang.Iso6393()
	}

	ok, err := s.store.SetDocumentState(ctx, jobID, jobs.DocumentPendingUpload, jobs.DocumentUploaded, jobs.DocumentUpdate{
		SourceLanguage: sourceLang,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("concurrent upload in progress")
	}

	chunks := SplitChunks(content, s.chunkSize)
	if len(chunks) == 0 {
		return s.failValidation(ctx, jobID, "document produced no chunks")
	}
	if err := s.store.SaveChunks(ctx, jobID, chunks); err != nil {
		return nil, fmt.Errorf("save chunks: %w", err)
	}

	ok, err = s.store.SetDocumentState(ctx, jobID, jobs.DocumentUploaded, jobs.DocumentChunked, jobs.DocumentUpdate{
		TotalChunks: len(chunks),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("document state moved during chunking")
	}

	log.Info("Job %s uploaded: language=%s chunks=%d", jobID, sourceLang, len(chunks))
	return s.store.GetJob(ctx, jobID)
}

func (s *Service) failValidation(ctx context.Context, jobID, reason string) (*jobs.Job, error) {
	_, err := s.store.SetDocumentState(ctx, jobID, jobs.DocumentPendingUpload, jobs.DocumentValidationFailed, jobs.DocumentUpdate{
		LastError: reason,
	})
	if err != nil {
		return nil, err
	}
	log.Warn("Job %s failed validation: %s", jobID, reason)
	return s.store.GetJob(ctx, jobID)
}
