package client

import (
	"context"
	"time"

	"github.com/scoreleaf/api/internal/model"
)

// RefineRequest sends one chunk of the note sequence to the sequence model.
type RefineRequest struct {
	Notes []model.NoteEvent `json:"notes"`
}

// RefineResponse is the corrected chunk.
type RefineResponse struct {
	Notes []model.NoteEvent `json:"notes"`
}

// RefinerClient implements the learned sequence-correction model boundary.
// The model is served remotely, loaded once there and applied per request;
// maxWindow mirrors the model's input limit from configuration.
type RefinerClient struct {
	httpService
	maxWindow int
}

func NewRefinerClient(baseURL string, timeout time.Duration, maxWindow int) *RefinerClient {
	return &RefinerClient{
		httpService: newHTTPService(baseURL, timeout),
		maxWindow:   maxWindow,
	}
}

func (c *RefinerClient) MaxWindow() int {
	return c.maxWindow
}

// Refine submits one window of notes for correction.
func (c *RefinerClient) Refine(ctx context.Context, notes []model.NoteEvent) ([]model.NoteEvent, error) {
	var result RefineResponse
	if err := c.post(ctx, "/refine", &RefineRequest{Notes: notes}, &result); err != nil {
		return nil, err
	}
	return result.Notes, nil
}
