package transcription

import (
	"sort"

	"github.com/scoreleaf/api/internal/model"
)

// FilterConfig tunes confidence filtering. The tempo bands are empirically
// tuned configuration: fast playing tolerates fewer false positives, slow
// playing preserves soft notes.
type FilterConfig struct {
	// BaseThreshold applies when tempo cannot be estimated.
	BaseThreshold float64
	// Threshold interpolates linearly between the band edges.
	SlowTempoBPM  float64
	FastTempoBPM  float64
	SlowThreshold float64
	FastThreshold float64
	// DecayMaxGap is the largest silence (seconds) between a note's offset
	// and a same-pitch onset that can still be a sustain artifact.
	DecayMaxGap float64
	// DecayDropRatio: a follow-on velocity at or below this fraction of the
	// previous velocity continues a decay trend; near-equal velocities are
	// intentional repeats and are kept.
	DecayDropRatio float64
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		BaseThreshold:  0.5,
		SlowTempoBPM:   60,
		FastTempoBPM:   180,
		SlowThreshold:  0.4,
		FastThreshold:  0.7,
		DecayMaxGap:    0.08,
		DecayDropRatio: 0.85,
	}
}

// Filter removes low-confidence candidates and collapses decay artifacts.
type Filter struct {
	cfg FilterConfig
}

func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Apply filters the sequence using a tempo-adaptive threshold. tempoHint, when
// positive, overrides estimation (e.g. tempo reported by the separation
// stage).
func (f *Filter) Apply(notes []model.NoteEvent, tempoHint float64) []model.NoteEvent {
	tempo := tempoHint
	if tempo <= 0 {
		tempo = EstimateTempo(notes)
	}
	return f.ApplyThreshold(notes, f.ThresholdFor(tempo))
}

// ApplyThreshold filters at a fixed confidence threshold. Idempotent: running
// it again over its own output with the same threshold changes nothing.
func (f *Filter) ApplyThreshold(notes []model.NoteEvent, threshold float64) []model.NoteEvent {
	ordered := make([]model.NoteEvent, 0, len(notes))
	for _, n := range notes {
		if n.Confidence >= threshold {
			ordered = append(ordered, n)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].OnsetTime != ordered[j].OnsetTime {
			return ordered[i].OnsetTime < ordered[j].OnsetTime
		}
		return ordered[i].Pitch < ordered[j].Pitch
	})
	return f.mergeDecayArtifacts(ordered)
}

// ThresholdFor maps an estimated tempo to a confidence threshold.
func (f *Filter) ThresholdFor(tempo float64) float64 {
	switch {
	case tempo <= 0:
		return f.cfg.BaseThreshold
	case tempo <= f.cfg.SlowTempoBPM:
		return f.cfg.SlowThreshold
	case tempo >= f.cfg.FastTempoBPM:
		return f.cfg.FastThreshold
	default:
		frac := (tempo - f.cfg.SlowTempoBPM) / (f.cfg.FastTempoBPM - f.cfg.SlowTempoBPM)
		return f.cfg.SlowThreshold + frac*(f.cfg.FastThreshold-f.cfg.SlowThreshold)
	}
}

// mergeDecayArtifacts collapses a same-pitch note that closely follows its
// predecessor with a smoothly decreasing velocity into that predecessor,
// extending the offset instead of keeping a false re-onset. Input must be
// onset-ordered.
func (f *Filter) mergeDecayArtifacts(notes []model.NoteEvent) []model.NoteEvent {
	if len(notes) == 0 {
		return nil
	}
	result := make([]model.NoteEvent, 0, len(notes))
	lastByPitch := make(map[int]int) // pitch -> index in result

	for _, n := range notes {
		if idx, ok := lastByPitch[n.Pitch]; ok {
			prev := &result[idx]
			gap := n.OnsetTime - prev.OffsetTime
			if gap >= 0 && gap <= f.cfg.DecayMaxGap &&
				n.Velocity < prev.Velocity &&
				float64(n.Velocity) <= f.cfg.DecayDropRatio*float64(prev.Velocity) {
				if n.OffsetTime > prev.OffsetTime {
					prev.OffsetTime = n.OffsetTime
				}
				continue
			}
		}
		result = append(result, n)
		lastByPitch[n.Pitch] = len(result) - 1
	}
	return result
}

// EstimateTempo derives beats per minute from the median inter-onset interval
// of the sequence. Returns 0 when there are too few distinct onsets.
func EstimateTempo(notes []model.NoteEvent) float64 {
	if len(notes) < 2 {
		return 0
	}
	onsets := make([]float64, len(notes))
	for i, n := range notes {
		onsets[i] = n.OnsetTime
	}
	sort.Float64s(onsets)

	var intervals []float64
	for i := 1; i < len(onsets); i++ {
		if d := onsets[i] - onsets[i-1]; d > 0.01 {
			intervals = append(intervals, d)
		}
	}
	if len(intervals) == 0 {
		return 0
	}
	sort.Float64s(intervals)
	median := intervals[len(intervals)/2]
	if len(intervals)%2 == 0 {
		median = (intervals[len(intervals)/2-1] + intervals[len(intervals)/2]) / 2
	}
	return 60.0 / median
}
