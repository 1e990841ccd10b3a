package worker

import (
	"context"
	"sync"
	"time"

	"github.com/MimeLyc/doctrans/internal/jobs"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// ChunkRequest is one unit of translation work.
type ChunkRequest struct {
	JobID          string
	Index          int
	Text           string
	ContextBefore  []string
	SourceLanguage string
	TargetLanguage string
	Tone           jobs.Tone
}

// ChunkResult is the translated text plus what it cost.
type ChunkResult struct {
	Text  string
	Usage jobs.ChunkUsage
}

// Translator translates one chunk at a time.
type Translator interface {
	TranslateChunk(ctx context.Context, req ChunkRequest) (ChunkResult, error)
}

// Signal asks the pool to translate one chunk of one job.
type Signal struct {
	JobID      string
	ChunkIndex int
}

// Pool consumes chunk signals and drives jobs chunk by chunk. Chaining is
// worker-initiated: the worker that finishes chunk i signals chunk i+1, and
// the store's conditional counter write is the safety net — a signal for a
// job that is not in_progress, or for any index other than the next
// expected one, is dropped without effect. That makes duplicate start
// signals and redelivered signals harmless.
type Pool struct {
	store        jobs.Store
	translator   Translator
	workerCount  int
	chunkTimeout time.Duration

	mu       sync.Mutex
	started  bool
	signals  chan Signal
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewPool(workerCount int, store jobs.Store, translator Translator, chunkTimeout time.Duration) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if chunkTimeout <= 0 {
		chunkTimeout = 2 * time.Minute
	}
	return &Pool{
		store:        store,
		translator:   translator,
		workerCount:  workerCount,
		chunkTimeout: chunkTimeout,
		signals:      make(chan Signal, 1024),
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
}

// SignalChunk enqueues a chunk signal without blocking the caller.
func (p *Pool) SignalChunk(jobID string, chunkIndex int) {
	sig := Signal{JobID: jobID, ChunkIndex: chunkIndex}
	select {
	case p.signals <- sig:
	default:
		go func() {
			select {
			case p.signals <- sig:
			case <-p.stopCh:
			}
		}()
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for range p.workerCount {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case sig := <-p.signals:
			p.handle(sig)
		}
	}
}

func (p *Pool) handle(sig Signal) {
	ctx := context.Background()

	job, err := p.store.GetJob(ctx, sig.JobID)
	if err != nil {
		log.Error("Dropping chunk signal for unknown job %s: %v", sig.JobID, err)
		return
	}
	if job.TranslationStatus != jobs.TranslationInProgress {
		log.Debug("Dropping chunk signal for job %s in status %s", sig.JobID, job.TranslationStatus)
		return
	}
	if sig.ChunkIndex != job.TranslatedChunks {
		// Duplicate or out-of-order signal; the live sequence continues
		// from the counter, not from this signal.
		log.Debug("Dropping stale chunk signal %d for job %s (next is %d)", sig.ChunkIndex, sig.JobID, job.TranslatedChunks)
		return
	}

	text, err := p.store.LoadChunk(ctx, sig.JobID, sig.ChunkIndex)
	if err != nil {
		p.fail(ctx, sig, "load chunk: "+err.Error())
		return
	}

	contextBefore, err := p.loadContext(ctx, job, sig.ChunkIndex)
	if err != nil {
		p.fail(ctx, sig, "load context chunks: "+err.Error())
		return
	}

	chunkCtx, cancel := context.WithTimeout(ctx, p.chunkTimeout)
	result, err := p.translator.TranslateChunk(chunkCtx, ChunkRequest{
		JobID:          sig.JobID,
		Index:          sig.ChunkIndex,
		Text:           text,
		ContextBefore:  contextBefore,
		SourceLanguage: job.SourceLanguage,
		TargetLanguage: job.TargetLanguage,
		Tone:           job.Tone,
	})
	cancel()
	if err != nil {
		p.fail(ctx, sig, err.Error())
		return
	}

	if err := p.store.SaveTranslatedChunk(ctx, sig.JobID, sig.ChunkIndex, result.Text); err != nil {
		p.fail(ctx, sig, "save translated chunk: "+err.Error())
		return
	}

	outcome, err := p.store.ApplyChunkResult(ctx, sig.JobID, sig.ChunkIndex, result.Usage, p.now())
	if err != nil {
		log.Error("Failed to record chunk %d of job %s: %v", sig.ChunkIndex, sig.JobID, err)
		return
	}
	if !outcome.Applied {
		// Someone else advanced or ended the job while we translated.
		return
	}

	if outcome.Done {
		log.Info("Job %s completed: %d/%d chunks", sig.JobID, outcome.TranslatedChunks, outcome.TotalChunks)
		return
	}
	p.SignalChunk(sig.JobID, sig.ChunkIndex+1)
}

func (p *Pool) loadContext(ctx context.Context, job *jobs.Job, index int) ([]string, error) {
	window := job.ContextWindowSize
	if window > index {
		window = index
	}
	if window <= 0 {
		return nil, nil
	}
	ret := make([]string, 0, window)
	for i := index - window; i < index; i++ {
		chunk, err := p.store.LoadChunk(ctx, job.ID, i)
		if err != nil {
			return nil, err
		}
		ret = append(ret, chunk)
	}
	return ret, nil
}

func (p *Pool) fail(ctx context.Context, sig Signal, reason string) {
	failed, err := p.store.FailTranslation(ctx, sig.JobID, reason, sig.ChunkIndex)
	if err != nil {
		log.Error("Failed to mark job %s failed: %v", sig.JobID, err)
		return
	}
	if failed {
		log.Warn("Job %s failed at chunk %d: %s", sig.JobID, sig.ChunkIndex, reason)
	}
}
