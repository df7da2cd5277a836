// Package transcription turns independent note-detector outputs into one
// voted, confidence-filtered, sequence-refined note stream.
package transcription

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/scoreleaf/api/internal/model"
)

// Detector is the uniform wrapper around one external note-detection model.
type Detector interface {
	Detect(ctx context.Context, stemRef string) ([]model.NoteEvent, error)
	ModelTag() string
	TrustWeight() float64
}

// DetectorOutput is one detector's contribution to the ensemble.
type DetectorOutput struct {
	Tag    string
	Weight float64
	Notes  []model.NoteEvent
}

// DetectorFailure records a detector that errored so the caller can degrade
// gracefully instead of failing the whole job.
type DetectorFailure struct {
	Tag string
	Err error
}

// RunDetectors fans the stem out to every detector concurrently and collects
// whatever survives. A failing detector is reported, not fatal; the error
// group context is only used for cancellation, never to abort siblings.
func RunDetectors(ctx context.Context, detectors []Detector, stemRef string) ([]DetectorOutput, []DetectorFailure) {
	var (
		mu       sync.Mutex
		outputs  []DetectorOutput
		failures []DetectorFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range detectors {
		d := d
		g.Go(func() error {
			notes, err := d.Detect(gctx, stemRef)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, DetectorFailure{Tag: d.ModelTag(), Err: err})
				return nil
			}
			outputs = append(outputs, DetectorOutput{
				Tag:    d.ModelTag(),
				Weight: d.TrustWeight(),
				Notes:  notes,
			})
			return nil
		})
	}
	_ = g.Wait()

	// Deterministic order regardless of completion timing.
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Tag < outputs[j].Tag })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Tag < failures[j].Tag })
	return outputs, failures
}
