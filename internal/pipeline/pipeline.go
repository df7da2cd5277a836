// Package pipeline sequences the transcription stages for one job: download,
// separation, detection/ensemble/refinement, serialization. The runner owns
// stage ordering, progress checkpoints and in-stage failure classification;
// terminal status decisions belong to the worker that claimed the job.
package pipeline

import (
	"context"

	"github.com/scoreleaf/api/internal/model"
)

// Stage progress checkpoints. Each stage owns a fixed progress range; the
// checkpoint at a boundary is the start of the next range.
const (
	progressDownload      = 0
	progressSeparation    = 20
	progressDetection     = 50
	progressRefinement    = 75
	progressSerialization = 90
)

// Downloader stages the submitted source into working storage.
type Downloader interface {
	Fetch(ctx context.Context, sourceURL, jobID string) (string, error)
}

// Separator isolates the melodic stem and reports global audio features.
type Separator interface {
	Separate(ctx context.Context, sourceRef, instrumentHint string) (*SeparationResult, error)
}

// SeparationResult is what the separation boundary hands back.
type SeparationResult struct {
	StemRef  string
	TempoBPM float64
	Key      string
}

// Serializer renders the final sequence into a score document and returns its
// location.
type Serializer interface {
	Serialize(ctx context.Context, jobID string, notes []model.NoteEvent, meta model.ScoreMetadata) (string, error)
}

// Publisher receives progress events as they happen. Publication is
// fire-and-forget; the runner never blocks on a subscriber.
type Publisher interface {
	Publish(jobID string, event model.ProgressEvent)
}
