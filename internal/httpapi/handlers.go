package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MimeLyc/doctrans/internal/jobs"
	"github.com/MimeLyc/doctrans/internal/lifecycle"
)

// requesterID is the caller identity. Authentication proper lives in front
// of this service; the header is trusted as-is.
func requesterID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Owner-ID"))
}

type createJobRequest struct {
	Filename string `json:"filename"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	owner := requesterID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "caller identity is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		all, err := s.store.ListJobs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		mine := make([]*jobs.Job, 0)
		for _, job := range all {
			if job.OwnerID == owner {
				mine = append(mine, job)
			}
		}
		writeJSON(w, http.StatusOK, mine)
	case http.MethodPost:
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.Filename == "" {
			writeError(w, http.StatusBadRequest, "filename is required")
			return
		}
		job, err := s.ingest.CreateJob(r.Context(), owner, req.Filename)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, job)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobByID dispatches /api/jobs/{id} and /api/jobs/{id}/{action}.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	rest = strings.Trim(rest, "/")
	jobID, action, _ := strings.Cut(rest, "/")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	owner := requesterID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "caller identity is required")
		return
	}

	switch action {
	case "", "status":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleStatus(w, r, jobID, owner)
	case "upload":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleUpload(w, r, jobID, owner)
	case "translate":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleTranslate(w, r, jobID, owner)
	case "result":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleResult(w, r, jobID, owner)
	case "stream":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleStream(w, r, jobID, owner)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, jobID, owner string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "document too large")
		return
	}

	job, err := s.ingest.MarkUploaded(r.Context(), jobID, owner, string(body))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if strings.Contains(err.Error(), "document already") {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.DocumentStatus == jobs.DocumentValidationFailed {
		writeJSON(w, http.StatusUnprocessableEntity, job)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type translateRequest struct {
	TargetLanguage    string `json:"targetLanguage"`
	Tone              string `json:"tone"`
	ContextWindowSize *int   `json:"contextWindowSize"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request, jobID, owner string) {
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	receipt, err := s.controller.StartTranslation(r.Context(), jobID, owner, lifecycle.StartParams{
		TargetLanguage:    req.TargetLanguage,
		Tone:              jobs.Tone(req.Tone),
		ContextWindowSize: req.ContextWindowSize,
	})
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, jobID, owner string) {
	report, err := s.controller.Status(r.Context(), jobID, owner)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request, jobID, owner string) {
	report, err := s.controller.Status(r.Context(), jobID, owner)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	if report.TranslationStatus != jobs.TranslationCompleted {
		writeError(w, http.StatusConflict, "translation is not completed")
		return
	}

	chunks, err := s.store.LoadTranslatedChunks(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, strings.Join(chunks, "\n\n"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := map[string]any{"status": "ok"}
	if s.sweeper != nil {
		if info, err := s.sweeper.TriggerInfo(); err == nil {
			resp["sweep"] = info
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeControllerError maps lifecycle error kinds onto HTTP statuses.
func writeControllerError(w http.ResponseWriter, err error) {
	var lcErr *lifecycle.Error
	if !errors.As(err, &lcErr) {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch lcErr.Kind {
	case lifecycle.ErrUnauthenticated:
		status = http.StatusUnauthorized
	case lifecycle.ErrNotFoundOrForbidden:
		status = http.StatusNotFound
	case lifecycle.ErrInvalidRequest:
		status = http.StatusBadRequest
	case lifecycle.ErrInvalidState, lifecycle.ErrAlreadyStarted:
		status = http.StatusConflict
	case lifecycle.ErrNoWorkToDo:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{
		"error":     lcErr.Message,
		"kind":      lcErr.Kind.String(),
		"retryable": lcErr.Retryable(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
