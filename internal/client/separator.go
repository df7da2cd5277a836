package client

import (
	"context"
	"time"
)

// SeparateRequest asks the separation service to isolate the melodic stem
// from a mixed recording.
type SeparateRequest struct {
	SourceURL      string `json:"source_url"`
	InstrumentHint string `json:"instrument_hint,omitempty"`
}

// SeparateResponse carries the isolated stem plus the global audio features
// the service measures along the way.
type SeparateResponse struct {
	StemURL  string  `json:"stem_url"`
	TempoBPM float64 `json:"tempo_bpm,omitempty"`
	Key      string  `json:"key,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// SeparatorClient talks to the source-separation service.
type SeparatorClient struct {
	httpService
}

func NewSeparatorClient(baseURL string, timeout time.Duration) *SeparatorClient {
	return &SeparatorClient{httpService: newHTTPService(baseURL, timeout)}
}

// Separate isolates the melodic stem of the given source.
func (c *SeparatorClient) Separate(ctx context.Context, sourceURL, instrumentHint string) (*SeparateResponse, error) {
	var result SeparateResponse
	err := c.post(ctx, "/separate", &SeparateRequest{
		SourceURL:      sourceURL,
		InstrumentHint: instrumentHint,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
