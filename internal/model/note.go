package model

// Source tags for notes produced after the per-detector stages
const (
	SourceEnsemble = "ensemble"
	SourceRefined  = "refined"
)

// NoteEvent is a single detected musical note. Events are immutable once
// produced by a stage; every stage consumes a sequence and emits a new one so
// a note's provenance survives the whole pipeline.
type NoteEvent struct {
	Pitch       int     `json:"pitch"`      // semitone index (MIDI note number)
	OnsetTime   float64 `json:"onsetTime"`  // seconds
	OffsetTime  float64 `json:"offsetTime"` // seconds, always > OnsetTime
	Velocity    int     `json:"velocity"`   // 0..127
	Confidence  float64 `json:"confidence"` // 0.0..1.0
	SourceModel string  `json:"sourceModel"`
}

// Duration returns the sounding length of the note in seconds.
func (n NoteEvent) Duration() float64 {
	return n.OffsetTime - n.OnsetTime
}

// ScoreMetadata accompanies the final note sequence into serialization.
type ScoreMetadata struct {
	TempoBPM float64 `json:"tempoBpm,omitempty"`
	Key      string  `json:"key,omitempty"`
}
