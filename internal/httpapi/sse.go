package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/doctrans/internal/jobs"
)

// handleStream pushes the job's progress report once a second as a
// server-sent event stream. The stream closes itself after delivering a
// terminal status so finished jobs never hold a connection open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, jobID, owner string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Surface permission and existence errors before switching protocols.
	report, err := s.controller.Status(r.Context(), jobID, owner)
	if err != nil {
		writeControllerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(report any) bool {
		payload, err := json.Marshal(report)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(report) {
		return
	}
	if report.TranslationStatus.Terminal() || report.DocumentStatus == jobs.DocumentValidationFailed {
		return
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			report, err := s.controller.Status(r.Context(), jobID, owner)
			if err != nil {
				return
			}
			if !send(report) {
				return
			}
			if report.TranslationStatus.Terminal() || report.DocumentStatus == jobs.DocumentValidationFailed {
				return
			}
		}
	}
}
