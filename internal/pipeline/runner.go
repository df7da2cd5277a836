package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scoreleaf/api/internal/errs"
	"github.com/scoreleaf/api/internal/model"
	"github.com/scoreleaf/api/internal/store"
	"github.com/scoreleaf/api/internal/transcription"
)

// Runner executes the stage pipeline for one claimed job.
type Runner struct {
	store      store.JobStore
	pub        Publisher
	downloader Downloader
	separator  Separator
	detectors  []transcription.Detector
	voter      *transcription.Voter
	filter     *transcription.Filter
	refiner    *transcription.Refiner
	serializer Serializer
	logger     *zap.Logger
}

func NewRunner(
	jobStore store.JobStore,
	pub Publisher,
	downloader Downloader,
	separator Separator,
	detectors []transcription.Detector,
	voter *transcription.Voter,
	filter *transcription.Filter,
	refiner *transcription.Refiner,
	serializer Serializer,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		store:      jobStore,
		pub:        pub,
		downloader: downloader,
		separator:  separator,
		detectors:  detectors,
		voter:      voter,
		filter:     filter,
		refiner:    refiner,
		serializer: serializer,
		logger:     logger,
	}
}

// Run executes all stages in order and returns the result location. Errors
// come back classified; the caller decides between retry and terminal
// failure. Cancellation and the soft-timeout abort signal are honored at
// every stage boundary and between refinement chunks.
func (r *Runner) Run(ctx context.Context, job *model.Job) (string, error) {
	var payload model.TranscriptionJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", errs.Permanent(err, "invalid job payload")
	}

	log := r.logger.With(zap.String("jobId", job.ID))

	// Download 0-20%
	if err := r.checkpoint(ctx, job.ID, model.StageDownload, progressDownload, "Fetching audio source"); err != nil {
		return "", err
	}
	sourceRef, err := r.downloader.Fetch(ctx, payload.SourceURL, job.ID)
	if err != nil {
		return "", err
	}
	log.Info("source staged", zap.String("ref", sourceRef))

	// Separation 20-50%
	if err := r.checkpoint(ctx, job.ID, model.StageSeparation, progressSeparation, "Separating stems"); err != nil {
		return "", err
	}
	sep, err := r.separator.Separate(ctx, sourceRef, payload.Options.InstrumentHint)
	if err != nil {
		return "", err
	}

	// Detection 50-75%
	if err := r.checkpoint(ctx, job.ID, model.StageDetection, progressDetection, "Detecting notes"); err != nil {
		return "", err
	}
	notes, err := r.detect(ctx, job.ID, sep.StemRef)
	if err != nil {
		return "", err
	}

	tempo := payload.Options.TempoHint
	if tempo <= 0 {
		tempo = sep.TempoBPM
	}
	filtered := r.filter.Apply(notes, tempo)
	log.Info("ensemble complete",
		zap.Int("candidates", len(notes)),
		zap.Int("kept", len(filtered)))

	// Refinement 75-90%
	if err := r.checkpoint(ctx, job.ID, model.StageRefinement, progressRefinement, "Refining sequence"); err != nil {
		return "", err
	}
	refined, err := r.refiner.Refine(ctx, filtered)
	if err != nil {
		return "", err
	}

	// Serialization 90-100%
	if err := r.checkpoint(ctx, job.ID, model.StageSerialization, progressSerialization, "Rendering score"); err != nil {
		return "", err
	}
	meta := model.ScoreMetadata{TempoBPM: tempo, Key: sep.Key}
	if meta.TempoBPM <= 0 {
		meta.TempoBPM = transcription.EstimateTempo(refined)
	}
	location, err := r.serializer.Serialize(ctx, job.ID, refined, meta)
	if err != nil {
		return "", err
	}

	return location, nil
}

// detect fans out to all detectors and merges the survivors. One failing
// detector degrades the result, annotated as a warning; the job only fails
// when no detector produced anything.
func (r *Runner) detect(ctx context.Context, jobID, stemRef string) ([]model.NoteEvent, error) {
	outputs, failures := transcription.RunDetectors(ctx, r.detectors, stemRef)

	if len(outputs) == 0 {
		if len(failures) > 0 {
			// All adapters failed; surface the first classified error so the
			// retry decision reflects the underlying cause.
			return nil, failures[0].Err
		}
		return nil, errs.Permanentf("no detectors configured")
	}

	if len(failures) > 0 {
		tags := make([]string, len(failures))
		for i, f := range failures {
			tags[i] = f.Tag
			r.logger.Warn("detector failed, continuing without it",
				zap.String("jobId", jobID),
				zap.String("detector", f.Tag),
				zap.Error(f.Err))
		}
		warning := fmt.Sprintf("degraded: detector(s) %s unavailable", strings.Join(tags, ", "))
		progress := progressDetection
		if job, err := r.store.UpdateFields(ctx, jobID, store.Fields{Warning: &warning}); err != nil {
			r.logger.Warn("record degradation warning", zap.Error(err))
		} else {
			// Publish the clamped value: on a retry attempt the record may
			// already be past this stage's checkpoint.
			progress = job.Progress
		}
		r.pub.Publish(jobID, model.ProgressOf(jobID, model.StageDetection, progress, warning))
	}

	return r.voter.Merge(outputs), nil
}

// checkpoint persists a stage boundary and mirrors it to subscribers, then
// honors cancellation: both the cooperative abort signal (context) and an
// externally requested cancel consulted from the store.
func (r *Runner) checkpoint(ctx context.Context, jobID string, stage model.Stage, progress int, message string) error {
	select {
	case <-ctx.Done():
		if errs.IsTimeout(ctx.Err()) {
			return errs.Timeoutf("aborted at stage %s: execution timeout", stage)
		}
		return errs.Canceledf("aborted at stage %s", stage)
	default:
	}

	job, err := r.store.UpdateFields(ctx, jobID, store.Fields{
		Stage:    &stage,
		Progress: &progress,
	})
	if err != nil {
		return errs.Transient(err, "persist checkpoint")
	}
	if job.CancelRequested {
		return errs.Canceledf("cancellation requested before stage %s", stage)
	}

	r.pub.Publish(jobID, model.ProgressOf(jobID, stage, job.Progress, message))
	return nil
}
