package client

import (
	"context"
	"time"

	"github.com/scoreleaf/api/internal/model"
)

// RenderScoreRequest hands the final note sequence plus score metadata to the
// notation service. The score document format is the service's concern.
type RenderScoreRequest struct {
	JobID    string            `json:"job_id"`
	Notes    []model.NoteEvent `json:"notes"`
	TempoBPM float64           `json:"tempo_bpm,omitempty"`
	Key      string            `json:"key,omitempty"`
}

// RenderScoreResponse points at the rendered document in object storage.
type RenderScoreResponse struct {
	OutputKey string `json:"output_key"`
}

// NotationClient renders the final note sequence into a score document and
// returns a time-limited URL for it.
type NotationClient struct {
	httpService
	storage      StorageClient
	resultExpiry time.Duration
}

func NewNotationClient(baseURL string, timeout time.Duration, storage StorageClient, resultExpiry time.Duration) *NotationClient {
	return &NotationClient{
		httpService:  newHTTPService(baseURL, timeout),
		storage:      storage,
		resultExpiry: resultExpiry,
	}
}

// Serialize renders the notes and returns the result location for the job.
func (c *NotationClient) Serialize(ctx context.Context, jobID string, notes []model.NoteEvent, meta model.ScoreMetadata) (string, error) {
	var result RenderScoreResponse
	err := c.post(ctx, "/render", &RenderScoreRequest{
		JobID:    jobID,
		Notes:    notes,
		TempoBPM: meta.TempoBPM,
		Key:      meta.Key,
	}, &result)
	if err != nil {
		return "", err
	}
	return c.storage.GetSignedURL(ctx, result.OutputKey, c.resultExpiry)
}
