package transcription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoreleaf/api/internal/errs"
	"github.com/scoreleaf/api/internal/model"
)

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

func TestRunDetectorsCollectsAllOutputs(t *testing.T) {
	detectors := []Detector{
		&stubDetector{tag: "onsets-frames", weight: 1.0, notes: []model.NoteEvent{note(60, 1, 1.5, 80, 0.9)}},
		&stubDetector{tag: "crepe", weight: 1.0, notes: []model.NoteEvent{note(62, 2, 2.5, 80, 0.8)}},
	}

	outputs, failures := RunDetectors(context.Background(), detectors, "stems/abc")
	require.Len(t, outputs, 2)
	assert.Empty(t, failures)
	assert.Equal(t, "crepe", outputs[0].Tag, "outputs are tag-ordered regardless of completion timing")
	assert.Equal(t, "onsets-frames", outputs[1].Tag)
}

func TestRunDetectorsFailureIsNotFatal(t *testing.T) {
	detectors := []Detector{
		&stubDetector{tag: "crepe", weight: 1.0, err: errs.Transientf("inference backend down")},
		&stubDetector{tag: "onsets-frames", weight: 1.0, notes: []model.NoteEvent{note(60, 1, 1.5, 80, 0.9)}},
	}

	outputs, failures := RunDetectors(context.Background(), detectors, "stems/abc")
	require.Len(t, outputs, 1)
	assert.Equal(t, "onsets-frames", outputs[0].Tag)
	require.Len(t, failures, 1)
	assert.Equal(t, "crepe", failures[0].Tag)
	assert.True(t, errs.IsTransient(failures[0].Err))
}

func TestRunDetectorsAllFail(t *testing.T) {
	detectors := []Detector{
		&stubDetector{tag: "a", weight: 1.0, err: errs.Transientf("down")},
		&stubDetector{tag: "b", weight: 1.0, err: errs.Transientf("down")},
	}

	outputs, failures := RunDetectors(context.Background(), detectors, "stems/abc")
	assert.Empty(t, outputs)
	assert.Len(t, failures, 2)
}
