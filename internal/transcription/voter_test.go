package transcription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoreleaf/api/internal/model"
)

func note(pitch int, onset, offset float64, velocity int, confidence float64) model.NoteEvent {
	return model.NoteEvent{
		Pitch:      pitch,
		OnsetTime:  onset,
		OffsetTime: offset,
		Velocity:   velocity,
		Confidence: confidence,
	}
}

func TestMergeAgreedClusterPicksHighestWeightRepresentative(t *testing.T) {
	v := NewVoter(DefaultVoterConfig())

	outputs := []DetectorOutput{
		{Tag: "onsets-frames", Weight: 1.0, Notes: []model.NoteEvent{note(60, 1.00, 1.50, 80, 0.9)}},
		{Tag: "crepe", Weight: 1.0, Notes: []model.NoteEvent{note(60, 1.02, 1.52, 82, 0.8)}},
		{Tag: "piano-specialist", Weight: 1.5, Notes: []model.NoteEvent{note(60, 1.05, 1.55, 84, 0.95)}},
	}

	merged := v.Merge(outputs)
	require.Len(t, merged, 1)
	assert.Equal(t, 60, merged[0].Pitch)
	assert.Equal(t, 1.05, merged[0].OnsetTime, "representative must come from the weight-1.5 detector")
	assert.Equal(t, 84, merged[0].Velocity)
	assert.Equal(t, model.SourceEnsemble, merged[0].SourceModel)
}

func TestMergeCommutative(t *testing.T) {
	v := NewVoter(DefaultVoterConfig())

	a := DetectorOutput{Tag: "a", Weight: 1.0, Notes: []model.NoteEvent{
		note(60, 1.00, 1.50, 80, 0.9),
		note(64, 2.00, 2.40, 70, 0.8),
		note(67, 3.00, 3.20, 60, 0.7),
	}}
	b := DetectorOutput{Tag: "b", Weight: 1.0, Notes: []model.NoteEvent{
		note(60, 1.01, 1.48, 78, 0.85),
		note(64, 2.03, 2.42, 72, 0.75),
	}}
	c := DetectorOutput{Tag: "c", Weight: 1.5, Notes: []model.NoteEvent{
		note(60, 1.02, 1.52, 82, 0.95),
		note(67, 3.01, 3.22, 61, 0.8),
	}}

	reference := v.Merge([]DetectorOutput{a, b, c})
	require.NotEmpty(t, reference)

	permutations := [][]DetectorOutput{
		{a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a},
	}
	for _, perm := range permutations {
		assert.Equal(t, reference, v.Merge(perm), "merge must not depend on detector order")
	}
}

func TestMergeMinimumAgreement(t *testing.T) {
	v := NewVoter(VoterConfig{OnsetTolerance: 0.05, MinScore: 2.0, SoloWeight: 1.5})

	t.Run("single unit-weight detector is dropped", func(t *testing.T) {
		merged := v.Merge([]DetectorOutput{
			{Tag: "a", Weight: 1.0, Notes: []model.NoteEvent{note(60, 1.0, 1.5, 80, 0.9)}},
		})
		assert.Empty(t, merged)
	})

	t.Run("two detectors agreeing survive", func(t *testing.T) {
		merged := v.Merge([]DetectorOutput{
			{Tag: "a", Weight: 1.0, Notes: []model.NoteEvent{note(60, 1.0, 1.5, 80, 0.9)}},
			{Tag: "b", Weight: 1.0, Notes: []model.NoteEvent{note(60, 1.02, 1.5, 80, 0.9)}},
		})
		assert.Len(t, merged, 1)
	})

	t.Run("solo specialist survives alone", func(t *testing.T) {
		merged := v.Merge([]DetectorOutput{
			{Tag: "specialist", Weight: 1.5, Notes: []model.NoteEvent{note(60, 1.0, 1.5, 80, 0.9)}},
		})
		assert.Len(t, merged, 1)
	})
}

func TestMergeTieBreakEarliestOnset(t *testing.T) {
	v := NewVoter(VoterConfig{OnsetTolerance: 0.05, MinScore: 2.0, SoloWeight: 10})

	merged := v.Merge([]DetectorOutput{
		{Tag: "late", Weight: 1.0, Notes: []model.NoteEvent{note(60, 1.03, 1.5, 90, 0.9)}},
		{Tag: "early", Weight: 1.0, Notes: []model.NoteEvent{note(60, 1.00, 1.5, 70, 0.9)}},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, 1.00, merged[0].OnsetTime, "equal weights break ties toward the earliest onset")
	assert.Equal(t, 70, merged[0].Velocity)
}

func TestMergeSeparatesDistantOnsets(t *testing.T) {
	v := NewVoter(VoterConfig{OnsetTolerance: 0.05, MinScore: 1.0, SoloWeight: 1.0})

	merged := v.Merge([]DetectorOutput{
		{Tag: "a", Weight: 1.0, Notes: []model.NoteEvent{
			note(60, 1.0, 1.5, 80, 0.9),
			note(60, 1.2, 1.7, 80, 0.9),
		}},
	})
	assert.Len(t, merged, 2, "same pitch outside the tolerance window is two candidates")
}

func TestMergeEmptyInput(t *testing.T) {
	v := NewVoter(DefaultVoterConfig())
	assert.Nil(t, v.Merge(nil))
	assert.Nil(t, v.Merge([]DetectorOutput{{Tag: "a", Weight: 1.0}}))
}
