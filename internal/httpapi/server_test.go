package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/doctrans/internal/ingest"
	"github.com/MimeLyc/doctrans/internal/jobs"
	"github.com/MimeLyc/doctrans/internal/lifecycle"
)

type recordingSignaler struct {
	mu      sync.Mutex
	signals []int
}

func (r *recordingSignaler) SignalChunk(jobID string, chunkIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, chunkIndex)
}

func (r *recordingSignaler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

const sampleText = `The committee met on Tuesday morning to review the annual budget proposal. Several members raised concerns about the projected infrastructure costs.

After a lengthy discussion, the chairperson called for a vote on the amended version. The motion passed with a clear majority and was recorded in the minutes.

Next steps include circulating the final document to all departments and scheduling a follow-up session for early next quarter.`

func newTestServer(t *testing.T, opts ...Option) (*Server, *jobs.MemoryStore, *recordingSignaler) {
	t.Helper()
	store := jobs.NewMemoryStore()
	signaler := &recordingSignaler{}
	controller, err := lifecycle.NewController(store, signaler, lifecycle.DefaultControllerConfig())
	require.NoError(t, err)
	svc := ingest.NewService(store, 200)
	return NewServer(svc, controller, store, opts...), store, signaler
}

func doRequest(t *testing.T, srv *Server, method, path, owner string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func createJob(t *testing.T, srv *Server, owner string) jobs.Job {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/api/jobs", owner, []byte(`{"filename":"report.txt"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	return job
}

func uploadDocument(t *testing.T, srv *Server, owner, jobID, content string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, srv, http.MethodPost, "/api/jobs/"+jobID+"/upload", owner, []byte(content))
}

func TestServer_CreateJob(t *testing.T) {
	srv, _, _ := newTestServer(t)

	job := createJob(t, srv, "alice")
	require.NotEmpty(t, job.ID)
	require.Equal(t, "alice", job.OwnerID)
	require.Equal(t, jobs.DocumentPendingUpload, job.DocumentStatus)
	require.Equal(t, jobs.TranslationNotStarted, job.TranslationStatus)
}

func TestServer_CreateJob_RequiresIdentity(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/jobs", "", []byte(`{"filename":"a.txt"}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_UploadChunksDocument(t *testing.T) {
	srv, _, _ := newTestServer(t)
	job := createJob(t, srv, "alice")

	rec := uploadDocument(t, srv, "alice", job.ID, sampleText)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, jobs.DocumentChunked, updated.DocumentStatus)
	require.Equal(t, "en", updated.SourceLanguage)
	require.Greater(t, updated.TotalChunks, 1)
}

func TestServer_UploadEmptyDocumentFailsValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	job := createJob(t, srv, "alice")

	rec := uploadDocument(t, srv, "alice", job.ID, "   \n\n  ")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var updated jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, jobs.DocumentValidationFailed, updated.DocumentStatus)
	require.NotEmpty(t, updated.LastError)
}

func TestServer_UploadTwiceConflicts(t *testing.T) {
	srv, _, _ := newTestServer(t)
	job := createJob(t, srv, "alice")

	require.Equal(t, http.StatusOK, uploadDocument(t, srv, "alice", job.ID, sampleText).Code)
	rec := uploadDocument(t, srv, "alice", job.ID, sampleText)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_TranslateAcceptsOnce(t *testing.T) {
	srv, _, signaler := newTestServer(t)
	job := createJob(t, srv, "alice")
	require.Equal(t, http.StatusOK, uploadDocument(t, srv, "alice", job.ID, sampleText).Code)

	body := []byte(`{"targetLanguage":"de","tone":"formal"}`)
	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/"+job.ID+"/translate", "alice", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var receipt lifecycle.StartReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	require.Equal(t, job.ID, receipt.JobID)
	require.Equal(t, jobs.TranslationInProgress, receipt.TranslationStatus)
	require.Greater(t, receipt.TotalChunks, 0)
	require.Zero(t, receipt.ChunksTranslated)
	require.Equal(t, 1, signaler.count())

	// The second start must lose the claim.
	rec = doRequest(t, srv, http.MethodPost, "/api/jobs/"+job.ID+"/translate", "alice", body)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already")
	require.Equal(t, 1, signaler.count())
}

func TestServer_TranslateRejectsUnsupportedLanguage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	job := createJob(t, srv, "alice")
	require.Equal(t, http.StatusOK, uploadDocument(t, srv, "alice", job.ID, sampleText).Code)

	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/"+job.ID+"/translate", "alice",
		[]byte(`{"targetLanguage":"tlh"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "false") // retryable
}

func TestServer_TranslateBeforeChunkingConflicts(t *testing.T) {
	srv, _, _ := newTestServer(t)
	job := createJob(t, srv, "alice")

	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/"+job.ID+"/translate", "alice",
		[]byte(`{"targetLanguage":"de"}`))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_StatusHidesOtherOwnersJobs(t *testing.T) {
	srv, _, _ := newTestServer(t)
	job := createJob(t, srv, "alice")

	rec := doRequest(t, srv, http.MethodGet, "/api/jobs/"+job.ID+"/status", "mallory", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/jobs/"+job.ID+"/status", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StatusReportsProgress(t *testing.T) {
	srv, store, _ := newTestServer(t)
	job := createJob(t, srv, "alice")
	require.Equal(t, http.StatusOK, uploadDocument(t, srv, "alice", job.ID, sampleText).Code)

	ok, err := store.ClaimTranslation(context.Background(), job.ID,
		jobs.TranslationParams{TargetLanguage: "de", Tone: jobs.ToneNeutral, ContextWindowSize: 2}, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	_, err = store.ApplyChunkResult(context.Background(), job.ID, 0, jobs.ChunkUsage{Tokens: 100, Cost: 0.01}, time.Now())
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/jobs/"+job.ID+"/status", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "in_progress", report["translationStatus"])
	require.EqualValues(t, 1, report["translatedChunks"])
	require.NotZero(t, report["progressPercentage"])
	require.Contains(t, report, "estimatedCompletion")
}

func TestServer_ResultOnlyAfterCompletion(t *testing.T) {
	srv, store, _ := newTestServer(t)
	job := createJob(t, srv, "alice")
	require.Equal(t, http.StatusOK, uploadDocument(t, srv, "alice", job.ID, sampleText).Code)

	rec := doRequest(t, srv, http.MethodGet, "/api/jobs/"+job.ID+"/result", "alice", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	ctx := context.Background()
	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	ok, err := store.ClaimTranslation(ctx, job.ID,
		jobs.TranslationParams{TargetLanguage: "de", Tone: jobs.ToneNeutral, ContextWindowSize: 2}, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	for i := 0; i < stored.TotalChunks; i++ {
		require.NoError(t, store.SaveTranslatedChunk(ctx, job.ID, i, "übersetzt"))
		_, err = store.ApplyChunkResult(ctx, job.ID, i, jobs.ChunkUsage{Tokens: 10, Cost: 0.001}, time.Now())
		require.NoError(t, err)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/jobs/"+job.ID+"/result", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Equal(t, stored.TotalChunks, strings.Count(rec.Body.String(), "übersetzt"))
}

func TestServer_ListJobsScopedToOwner(t *testing.T) {
	srv, _, _ := newTestServer(t)
	createJob(t, srv, "alice")
	createJob(t, srv, "alice")
	createJob(t, srv, "bob")

	rec := doRequest(t, srv, http.MethodGet, "/api/jobs", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
}

func TestServer_Health(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_StreamClosesOnTerminalStatus(t *testing.T) {
	srv, store, _ := newTestServer(t)
	job := createJob(t, srv, "alice")
	require.Equal(t, http.StatusOK, uploadDocument(t, srv, "alice", job.ID, sampleText).Code)

	ctx := context.Background()
	ok, err := store.FailTranslation(ctx, job.ID, "boom", 0)
	require.NoError(t, err)
	require.False(t, ok) // not started yet, nothing to fail

	ok, err = store.ClaimTranslation(ctx, job.ID,
		jobs.TranslationParams{TargetLanguage: "de", Tone: jobs.ToneNeutral, ContextWindowSize: 2}, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.FailTranslation(ctx, job.ID, "boom", 0)
	require.NoError(t, err)
	require.True(t, ok)

	// A terminal job yields exactly one event and the handler returns.
	rec := doRequest(t, srv, http.MethodGet, "/api/jobs/"+job.ID+"/stream", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, 1, strings.Count(rec.Body.String(), "data: "))
	require.Contains(t, rec.Body.String(), "translation_failed")
}

func TestServer_RateLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, WithRateLimit(1, 1))

	first := doRequest(t, srv, http.MethodGet, "/api/health", "alice", nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(t, srv, http.MethodGet, "/api/health", "alice", nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}
