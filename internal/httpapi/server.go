package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/doctrans/internal/ingest"
	"github.com/MimeLyc/doctrans/internal/jobs"
	"github.com/MimeLyc/doctrans/internal/lifecycle"
)

// maxDocumentBytes caps an uploaded document body.
const maxDocumentBytes = 10 << 20

type Server struct {
	ingest     *ingest.Service
	controller *lifecycle.Controller
	store      jobs.Store
	sweeper    *lifecycle.Sweeper

	limiter *rateLimiter

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithSweeper exposes the stall sweeper's schedule on the health endpoint.
func WithSweeper(sweeper *lifecycle.Sweeper) Option {
	return func(s *Server) {
		s.sweeper = sweeper
	}
}

// WithRateLimit throttles requests per caller identity. Zero rps disables
// limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newRateLimiter(rps, burst)
		}
	}
}

func NewServer(ingestSvc *ingest.Service, controller *lifecycle.Controller, store jobs.Store, opts ...Option) *Server {
	s := &Server{
		ingest:     ingestSvc,
		controller: controller,
		store:      store,
		mux:        http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	if s.limiter != nil {
		return s.limiter.wrap(s.mux)
	}
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/api/health", s.handleHealth)
}
