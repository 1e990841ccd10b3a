package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It backs tests and single-process
// deployments; the conditional-write semantics match the SQLite store so
// callers cannot tell them apart.
type MemoryStore struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	chunks     map[string][]string
	translated map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string]*Job),
		chunks:     make(map[string][]string),
		translated: make(map[string][]string),
	}
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = CloneJob(job)
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return CloneJob(job), nil
}

func (s *MemoryStore) ListJobs(ctx context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		ret = append(ret, CloneJob(job))
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret, nil
}

func (s *MemoryStore) SetDocumentState(ctx context.Context, jobID string, expect, next DocumentStatus, update DocumentUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.DocumentStatus != expect {
		return false, nil
	}
	job.DocumentStatus = next
	if update.SourceLanguage != "" {
		job.SourceLanguage = update.SourceLanguage
	}
	if update.TotalChunks > 0 {
		job.TotalChunks = update.TotalChunks
	}
	if update.LastError != "" {
		job.LastError = update.LastError
	}
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) ClaimTranslation(ctx context.Context, jobID string, params TranslationParams, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.TranslationStatus == TranslationInProgress || job.TranslationStatus == TranslationCompleted {
		return false, nil
	}
	job.TranslationStatus = TranslationInProgress
	job.TranslatedChunks = 0
	job.TokensUsed = 0
	job.EstimatedCost = 0
	job.TargetLanguage = params.TargetLanguage
	job.Tone = params.Tone
	job.ContextWindowSize = params.ContextWindowSize
	started := startedAt
	job.TranslationStartedAt = &started
	job.TranslationCompletedAt = nil
	job.LastError = ""
	job.UpdatedAt = startedAt
	return true, nil
}

func (s *MemoryStore) ApplyChunkResult(ctx context.Context, jobID string, chunkIndex int, usage ChunkUsage, now time.Time) (ChunkOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ChunkOutcome{}, ErrJobNotFound
	}
	if job.TranslationStatus != TranslationInProgress || job.TranslatedChunks != chunkIndex {
		return ChunkOutcome{
			TranslatedChunks: job.TranslatedChunks,
			TotalChunks:      job.TotalChunks,
		}, nil
	}
	job.TranslatedChunks++
	job.TokensUsed += usage.Tokens
	job.EstimatedCost += usage.Cost
	job.UpdatedAt = now
	done := job.TranslatedChunks == job.TotalChunks
	if done {
		job.TranslationStatus = TranslationCompleted
		completed := now
		job.TranslationCompletedAt = &completed
	}
	return ChunkOutcome{
		Applied:          true,
		TranslatedChunks: job.TranslatedChunks,
		TotalChunks:      job.TotalChunks,
		Done:             done,
	}, nil
}

func (s *MemoryStore) FailTranslation(ctx context.Context, jobID string, reason string, expectTranslated int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.TranslationStatus != TranslationInProgress || job.TranslatedChunks != expectTranslated {
		return false, nil
	}
	job.TranslationStatus = TranslationFailed
	job.LastError = reason
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) SaveChunks(ctx context.Context, jobID string, chunks []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrJobNotFound
	}
	stored := make([]string, len(chunks))
	copy(stored, chunks)
	s.chunks[jobID] = stored
	return nil
}

func (s *MemoryStore) LoadChunk(ctx context.Context, jobID string, index int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks, ok := s.chunks[jobID]
	if !ok {
		return "", ErrChunkNotFound
	}
	if index < 0 || index >= len(chunks) {
		return "", ErrChunkNotFound
	}
	return chunks[index], nil
}

func (s *MemoryStore) SaveTranslatedChunk(ctx context.Context, jobID string, index int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks, ok := s.chunks[jobID]
	if !ok || index < 0 || index >= len(chunks) {
		return ErrChunkNotFound
	}
	out, ok := s.translated[jobID]
	if !ok {
		out = make([]string, len(chunks))
		s.translated[jobID] = out
	}
	out[index] = text
	return nil
}

func (s *MemoryStore) LoadTranslatedChunks(ctx context.Context, jobID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks, ok := s.chunks[jobID]
	if !ok {
		return nil, ErrChunkNotFound
	}
	ret := make([]string, len(chunks))
	copy(ret, s.translated[jobID])
	return ret, nil
}
