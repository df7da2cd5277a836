// Package client holds the HTTP and object-storage collaborators the pipeline
// talks to: stem separation, note detection, sequence refinement and notation
// rendering are external services reached over JSON/HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/scoreleaf/api/internal/errs"
)

// httpService is the shared JSON-over-HTTP plumbing. Failures are classified
// at the point of origin: connection errors and 5xx responses are transient,
// 4xx responses mean the input itself is bad.
type httpService struct {
	httpClient *http.Client
	baseURL    string
}

func newHTTPService(baseURL string, timeout time.Duration) httpService {
	return httpService{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

func (s httpService) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return errs.Permanent(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return errs.Permanent(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.Transient(err, "send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Transient(err, "read response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500:
		return errs.Transientf("service error (status %d): %s", resp.StatusCode, string(respBody))
	default:
		return errs.Permanentf("service rejected request (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return errs.Transient(err, "unmarshal response")
	}
	return nil
}

// HealthCheck probes the service's /health endpoint.
func (s httpService) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errs.Transient(err, "health check")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.Transientf("service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
