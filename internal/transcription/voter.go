package transcription

import (
	"sort"

	"github.com/scoreleaf/api/internal/model"
)

// VoterConfig tunes the weighted-agreement merge. The agreement threshold and
// solo-specialist floor are empirically tuned; they are configuration, not
// invariants.
type VoterConfig struct {
	// OnsetTolerance is the matching window in seconds: same-pitch notes
	// whose onsets fall within it are duplicates of one candidate.
	OnsetTolerance float64
	// MinScore is the minimum aggregate weight for a candidate to survive.
	// With unit detector weights the default demands two detectors agree.
	MinScore float64
	// SoloWeight lets a single sufficiently trusted specialist keep a
	// candidate on its own.
	SoloWeight float64
	// ScaleByConfidence scales each detector's vote by its note confidence.
	ScaleByConfidence bool
}

func DefaultVoterConfig() VoterConfig {
	return VoterConfig{
		OnsetTolerance:    0.05,
		MinScore:          2.0,
		SoloWeight:        1.5,
		ScaleByConfidence: false,
	}
}

// Voter merges the outputs of multiple detectors into one candidate sequence
// using weighted agreement.
type Voter struct {
	cfg VoterConfig
}

func NewVoter(cfg VoterConfig) *Voter {
	return &Voter{cfg: cfg}
}

// contribution is one detector's note inside a candidate cluster.
type contribution struct {
	note   model.NoteEvent
	tag    string
	weight float64
}

// voteRecord associates a merged candidate with the detectors that agreed on
// it. It exists only during the merge and is discarded afterwards.
type voteRecord struct {
	pitch    int
	contribs []contribution
}

// Merge combines detector outputs into a single sequence tagged "ensemble".
// The result is independent of the order of the input slice: contributions
// are canonically sorted before clustering, so permuting detectors yields an
// identical merged sequence.
func (v *Voter) Merge(outputs []DetectorOutput) []model.NoteEvent {
	var all []contribution
	for _, out := range outputs {
		for _, n := range out.Notes {
			all = append(all, contribution{note: n, tag: out.Tag, weight: out.Weight})
		}
	}
	if len(all) == 0 {
		return nil
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.note.Pitch != b.note.Pitch {
			return a.note.Pitch < b.note.Pitch
		}
		if a.note.OnsetTime != b.note.OnsetTime {
			return a.note.OnsetTime < b.note.OnsetTime
		}
		return a.tag < b.tag
	})

	// Greedy clustering over the canonical order: a note joins the open
	// cluster while it matches the pitch and sits within the tolerance
	// window of the cluster's earliest onset.
	var records []voteRecord
	current := voteRecord{pitch: all[0].note.Pitch, contribs: []contribution{all[0]}}
	base := all[0].note.OnsetTime
	for _, c := range all[1:] {
		if c.note.Pitch == current.pitch && c.note.OnsetTime-base <= v.cfg.OnsetTolerance {
			current.contribs = append(current.contribs, c)
			continue
		}
		records = append(records, current)
		current = voteRecord{pitch: c.note.Pitch, contribs: []contribution{c}}
		base = c.note.OnsetTime
	}
	records = append(records, current)

	var merged []model.NoteEvent
	for _, rec := range records {
		if note, ok := v.resolve(rec); ok {
			merged = append(merged, note)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].OnsetTime != merged[j].OnsetTime {
			return merged[i].OnsetTime < merged[j].OnsetTime
		}
		return merged[i].Pitch < merged[j].Pitch
	})
	return merged
}

// resolve scores one cluster and, if it meets the agreement threshold, picks
// the representative note. Each detector votes once per cluster no matter how
// many of its notes landed in it.
func (v *Voter) resolve(rec voteRecord) (model.NoteEvent, bool) {
	type vote struct {
		weight     float64
		confidence float64
	}
	votes := make(map[string]vote)
	for _, c := range rec.contribs {
		prev, seen := votes[c.tag]
		if !seen || c.note.Confidence > prev.confidence {
			votes[c.tag] = vote{weight: c.weight, confidence: c.note.Confidence}
		}
	}

	var score, totalWeight, maxWeight float64
	var confSum float64
	for _, vt := range votes {
		w := vt.weight
		if v.cfg.ScaleByConfidence {
			w *= vt.confidence
		}
		score += w
		totalWeight += vt.weight
		confSum += vt.weight * vt.confidence
		if vt.weight > maxWeight {
			maxWeight = vt.weight
		}
	}
	if score < v.cfg.MinScore && maxWeight < v.cfg.SoloWeight {
		return model.NoteEvent{}, false
	}

	// Tie-break on disputed onset/velocity: highest-weight contributor wins,
	// earliest onset first among equals, then tag for determinism.
	rep := rec.contribs[0]
	for _, c := range rec.contribs[1:] {
		switch {
		case c.weight > rep.weight:
			rep = c
		case c.weight == rep.weight && c.note.OnsetTime < rep.note.OnsetTime:
			rep = c
		case c.weight == rep.weight && c.note.OnsetTime == rep.note.OnsetTime && c.tag < rep.tag:
			rep = c
		}
	}

	out := rep.note
	out.SourceModel = model.SourceEnsemble
	if totalWeight > 0 {
		out.Confidence = confSum / totalWeight
	}
	return out, true
}
