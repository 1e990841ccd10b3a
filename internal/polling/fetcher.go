package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MimeLyc/doctrans/internal/progress"
)

// HTTPFetcher fetches job status from the service's HTTP API. The request
// deadline comes from the watcher's per-attempt context, so the underlying
// http.Client carries no timeout of its own.
type HTTPFetcher struct {
	baseURL string
	ownerID string
	client  *http.Client
}

func NewHTTPFetcher(baseURL, ownerID string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		ownerID: ownerID,
		client:  &http.Client{},
	}
}

func (f *HTTPFetcher) FetchStatus(ctx context.Context, jobID string) (progress.Report, error) {
	url := fmt.Sprintf("%s/api/jobs/%s/status", f.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return progress.Report{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("X-Owner-ID", f.ownerID)

	resp, err := f.client.Do(req)
	if err != nil {
		return progress.Report{}, fmt.Errorf("status fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return progress.Report{}, fmt.Errorf("status fetch returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var report progress.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return progress.Report{}, fmt.Errorf("decode status response: %w", err)
	}
	return report, nil
}
