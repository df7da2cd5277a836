package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/scoreleaf/api/internal/errs"
)

// AudioFetcher implements the download stage boundary: it pulls the submitted
// source into the working bucket so every later stage reads from storage the
// cluster controls, not from an arbitrary origin.
type AudioFetcher struct {
	httpClient *http.Client
	storage    StorageClient
}

func NewAudioFetcher(timeout time.Duration, storage StorageClient) *AudioFetcher {
	return &AudioFetcher{
		httpClient: &http.Client{Timeout: timeout},
		storage:    storage,
	}
}

// Fetch downloads the source and stages it under sources/<jobID>, returning
// the storage URL the separation service will read from.
func (f *AudioFetcher) Fetch(ctx context.Context, sourceURL, jobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", errs.Permanent(err, "invalid source url")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errs.Transient(err, "fetch source")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500:
		return "", errs.Transientf("source origin error: status %d", resp.StatusCode)
	default:
		return "", errs.Permanentf("source unavailable: status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("sources/%s", jobID)
	return f.storage.Upload(ctx, key, resp.Body, contentType)
}
