package client

import (
	"context"
	"time"

	"github.com/scoreleaf/api/internal/model"
)

// DetectRequest asks a detection model for the notes in a stem.
type DetectRequest struct {
	StemURL string `json:"stem_url"`
}

// DetectResponse is a detector's raw note list.
type DetectResponse struct {
	Notes []model.NoteEvent `json:"notes"`
}

// DetectorClient wraps one external note-detection model behind the uniform
// detector interface. Tag and trust weight come from configuration, not from
// the service itself.
type DetectorClient struct {
	httpService
	tag    string
	weight float64
}

func NewDetectorClient(tag string, weight float64, baseURL string, timeout time.Duration) *DetectorClient {
	return &DetectorClient{
		httpService: newHTTPService(baseURL, timeout),
		tag:         tag,
		weight:      weight,
	}
}

func (c *DetectorClient) ModelTag() string {
	return c.tag
}

func (c *DetectorClient) TrustWeight() float64 {
	return c.weight
}

// Detect returns the model's note events for the stem, each stamped with the
// detector's tag.
func (c *DetectorClient) Detect(ctx context.Context, stemRef string) ([]model.NoteEvent, error) {
	var result DetectResponse
	if err := c.post(ctx, "/detect", &DetectRequest{StemURL: stemRef}, &result); err != nil {
		return nil, err
	}
	notes := make([]model.NoteEvent, len(result.Notes))
	for i, n := range result.Notes {
		n.SourceModel = c.tag
		notes[i] = n
	}
	return notes, nil
}
