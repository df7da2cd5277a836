package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scoreleaf/api/internal/errs"
	"github.com/scoreleaf/api/internal/model"
	"github.com/scoreleaf/api/internal/store"
	"github.com/scoreleaf/api/internal/transcription"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (p *recordingPublisher) Publish(_ string, ev model.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []model.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.ProgressEvent(nil), p.events...)
}

type stubDownloader struct{ err error }

func (d *stubDownloader) Fetch(_ context.Context, _, jobID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return "sources/" + jobID, nil
}

type stubSeparator struct {
	tempo float64
	err   error
}

func (s *stubSeparator) Separate(_ context.Context, sourceRef, _ string) (*SeparationResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &SeparationResult{StemRef: "stems/" + sourceRef, TempoBPM: s.tempo, Key: "C"}, nil
}

type stubSerializer struct {
	mu    sync.Mutex
	notes []model.NoteEvent
	meta  model.ScoreMetadata
	err   error
}

func (s *stubSerializer) Serialize(_ context.Context, jobID string, notes []model.NoteEvent, meta model.ScoreMetadata) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = notes
	s.meta = meta
	return "https://results/" + jobID + ".mxl", nil
}

type stubDetector struct {
	tag    string
	weight float64
	notes  []model.NoteEvent
	err    error
}

func (d *stubDetector) Detect(context.Context, string) ([]model.NoteEvent, error) {
	return d.notes, d.err
}
func (d *stubDetector) ModelTag() string     { return d.tag }
func (d *stubDetector) TrustWeight() float64 { return d.weight }

type passthroughModel struct{}

func (passthroughModel) MaxWindow() int { return 1024 }
func (passthroughModel) Refine(_ context.Context, notes []model.NoteEvent) ([]model.NoteEvent, error) {
	return notes, nil
}

func detectorNotes(onset float64) []model.NoteEvent {
	return []model.NoteEvent{
		{Pitch: 60, OnsetTime: onset, OffsetTime: onset + 0.4, Velocity: 80, Confidence: 0.9},
		{Pitch: 64, OnsetTime: onset + 1.0, OffsetTime: onset + 1.4, Velocity: 75, Confidence: 0.85},
	}
}

type runnerFixture struct {
	runner     *Runner
	store      *store.MemoryStore
	pub        *recordingPublisher
	serializer *stubSerializer
}

func newFixture(t *testing.T, detectors []transcription.Detector, downloader Downloader, separator Separator) *runnerFixture {
	t.Helper()
	js := store.NewMemoryStore()
	pub := &recordingPublisher{}
	ser := &stubSerializer{}
	r := NewRunner(
		js, pub, downloader, separator, detectors,
		transcription.NewVoter(transcription.DefaultVoterConfig()),
		transcription.NewFilter(transcription.DefaultFilterConfig()),
		transcription.NewRefiner(passthroughModel{}, 64, zap.NewNop()),
		ser, zap.NewNop(),
	)
	return &runnerFixture{runner: r, store: js, pub: pub, serializer: ser}
}

func seedJob(t *testing.T, js store.JobStore, id string, opts model.TranscriptionOptions) *model.Job {
	t.Helper()
	payload, err := json.Marshal(model.TranscriptionJobPayload{
		SourceURL: "https://audio.example.com/take.wav",
		Options:   opts,
	})
	require.NoError(t, err)

	job := &model.Job{ID: id, Status: model.JobStatusQueued, Payload: payload, CreatedAt: time.Now()}
	require.NoError(t, js.Create(context.Background(), job))
	claimed, err := js.TransitionStatus(context.Background(), id, model.JobStatusQueued, model.JobStatusProcessing)
	require.NoError(t, err)
	claimed.Payload = payload
	return claimed
}

func TestRunHappyPath(t *testing.T) {
	detectors := []transcription.Detector{
		&stubDetector{tag: "onsets-frames", weight: 1.0, notes: detectorNotes(1.00)},
		&stubDetector{tag: "crepe", weight: 1.0, notes: detectorNotes(1.02)},
	}
	f := newFixture(t, detectors, &stubDownloader{}, &stubSeparator{tempo: 120})
	job := seedJob(t, f.store, "job-1", model.TranscriptionOptions{})

	location, err := f.runner.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "https://results/job-1.mxl", location)

	require.NotEmpty(t, f.serializer.notes)
	for _, n := range f.serializer.notes {
		assert.Equal(t, model.SourceRefined, n.SourceModel)
	}
	assert.Equal(t, 120.0, f.serializer.meta.TempoBPM, "separator tempo flows into the score metadata")

	stored, err := f.store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageSerialization, stored.Stage)
	assert.Equal(t, 90, stored.Progress)
	assert.Equal(t, model.JobStatusProcessing, stored.Status, "terminal status belongs to the caller")

	last := -1
	for _, ev := range f.pub.all() {
		require.NotNil(t, ev.Progress)
		assert.GreaterOrEqual(t, *ev.Progress, last, "published progress never decreases")
		last = *ev.Progress
	}
}

func TestRunTempoHintOverridesSeparator(t *testing.T) {
	detectors := []transcription.Detector{
		&stubDetector{tag: "a", weight: 1.0, notes: detectorNotes(1.00)},
		&stubDetector{tag: "b", weight: 1.0, notes: detectorNotes(1.02)},
	}
	f := newFixture(t, detectors, &stubDownloader{}, &stubSeparator{tempo: 90})
	job := seedJob(t, f.store, "job-1", model.TranscriptionOptions{TempoHint: 140})

	_, err := f.runner.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 140.0, f.serializer.meta.TempoBPM)
}

func TestRunPartialDetectorFailureDegrades(t *testing.T) {
	detectors := []transcription.Detector{
		&stubDetector{tag: "onsets-frames", weight: 1.0, notes: detectorNotes(1.00)},
		&stubDetector{tag: "crepe", weight: 1.0, notes: detectorNotes(1.02)},
		&stubDetector{tag: "piano-specialist", weight: 1.5, err: errs.Transientf("model host down")},
	}
	f := newFixture(t, detectors, &stubDownloader{}, &stubSeparator{tempo: 120})
	job := seedJob(t, f.store, "job-1", model.TranscriptionOptions{})

	_, err := f.runner.Run(context.Background(), job)
	require.NoError(t, err, "losing one detector must not fail the job")

	stored, err := f.store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Contains(t, stored.Warning, "piano-specialist")

	var degraded bool
	for _, ev := range f.pub.all() {
		if ev.Message == stored.Warning {
			degraded = true
		}
	}
	assert.True(t, degraded, "degradation is announced on the progress stream")
}

func TestRunRetryAttemptNeverRegressesPublishedProgress(t *testing.T) {
	detectors := []transcription.Detector{
		&stubDetector{tag: "onsets-frames", weight: 1.0, notes: detectorNotes(1.00)},
		&stubDetector{tag: "crepe", weight: 1.0, notes: detectorNotes(1.02)},
		&stubDetector{tag: "piano-specialist", weight: 1.5, err: errs.Transientf("model host down")},
	}
	f := newFixture(t, detectors, &stubDownloader{}, &stubSeparator{tempo: 120})
	job := seedJob(t, f.store, "job-1", model.TranscriptionOptions{})

	// A previous attempt already reached the refinement checkpoint; every
	// event this attempt publishes, the degradation warning included, must
	// stay at or above it.
	reached := 75
	_, err := f.store.UpdateFields(context.Background(), "job-1", store.Fields{Progress: &reached})
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background(), job)
	require.NoError(t, err)

	events := f.pub.all()
	require.NotEmpty(t, events)
	last := reached
	for _, ev := range events {
		require.NotNil(t, ev.Progress)
		assert.GreaterOrEqual(t, *ev.Progress, last, "event %q regressed", ev.Message)
		last = *ev.Progress
	}
}

func TestRunAllDetectorsFail(t *testing.T) {
	detectors := []transcription.Detector{
		&stubDetector{tag: "a", weight: 1.0, err: errs.Transientf("down")},
		&stubDetector{tag: "b", weight: 1.0, err: errs.Transientf("down")},
	}
	f := newFixture(t, detectors, &stubDownloader{}, &stubSeparator{tempo: 120})
	job := seedJob(t, f.store, "job-1", model.TranscriptionOptions{})

	_, err := f.runner.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err), "the underlying detector failure drives the retry decision")
}

func TestRunInvalidPayloadIsPermanent(t *testing.T) {
	f := newFixture(t, nil, &stubDownloader{}, &stubSeparator{})
	job := seedJob(t, f.store, "job-1", model.TranscriptionOptions{})
	job.Payload = []byte("{not json")

	_, err := f.runner.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errs.IsPermanent(err))
}

func TestRunStageErrorPropagatesClassified(t *testing.T) {
	f := newFixture(t, nil, &stubDownloader{err: errs.Transientf("source host unreachable")}, &stubSeparator{})
	job := seedJob(t, f.store, "job-1", model.TranscriptionOptions{})

	_, err := f.runner.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
}

func TestRunHonorsCancelRequest(t *testing.T) {
	f := newFixture(t, nil, &stubDownloader{}, &stubSeparator{})
	job := seedJob(t, f.store, "job-1", model.TranscriptionOptions{})
	_, err := f.store.RequestCancel(context.Background(), "job-1")
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errs.IsCanceled(err), "cancel is noticed at the first checkpoint")
}

func TestRunHonorsContextDeadline(t *testing.T) {
	f := newFixture(t, nil, &stubDownloader{}, &stubSeparator{})
	job := seedJob(t, f.store, "job-1", model.TranscriptionOptions{})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := f.runner.Run(ctx, job)
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
}
