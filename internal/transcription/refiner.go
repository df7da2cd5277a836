package transcription

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/scoreleaf/api/internal/errs"
	"github.com/scoreleaf/api/internal/model"
)

// RefinerModel is the learned sequence-correction model, loaded once and
// applied per request. It accepts at most MaxWindow notes per call; its
// output never exceeds its input in size.
type RefinerModel interface {
	Refine(ctx context.Context, notes []model.NoteEvent) ([]model.NoteEvent, error)
	MaxWindow() int
}

// Refiner applies the sequence model to arbitrarily long sequences by
// chunking into overlapping windows and stitching the results. Stateless
// between jobs.
type Refiner struct {
	model   RefinerModel
	overlap int
	logger  *zap.Logger
}

func NewRefiner(model RefinerModel, overlap int, logger *zap.Logger) *Refiner {
	return &Refiner{model: model, overlap: overlap, logger: logger}
}

// Refine produces a corrected sequence of equal or smaller size, tagged
// "refined". When the input exceeds the model window it is split into
// overlapping chunks; inside the overlap the earlier chunk's predictions win
// and only the later chunk's non-overlapping tail is appended, so the
// stitched output has no boundary duplicates or gaps. Cancellation is honored
// between chunks.
func (r *Refiner) Refine(ctx context.Context, notes []model.NoteEvent) ([]model.NoteEvent, error) {
	if len(notes) == 0 {
		return nil, nil
	}

	ordered := make([]model.NoteEvent, len(notes))
	copy(ordered, notes)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].OnsetTime != ordered[j].OnsetTime {
			return ordered[i].OnsetTime < ordered[j].OnsetTime
		}
		return ordered[i].Pitch < ordered[j].Pitch
	})

	window := r.model.MaxWindow()
	if window <= 0 || len(ordered) <= window {
		refined, err := r.model.Refine(ctx, ordered)
		if err != nil {
			return nil, err
		}
		return finish(refined), nil
	}

	overlap := r.overlap
	if overlap < 1 {
		overlap = 1
	}
	if overlap >= window {
		overlap = window - 1
	}
	stride := window - overlap

	first, err := r.model.Refine(ctx, ordered[:window])
	if err != nil {
		return nil, err
	}
	result := append([]model.NoteEvent(nil), first...)

	for start := stride; start < len(ordered); start += stride {
		select {
		case <-ctx.Done():
			return nil, errs.Canceledf("refinement aborted: %v", ctx.Err())
		default:
		}

		// The previous chunk already covers input up to start+overlap; if
		// nothing lies beyond that, there is no tail left to predict.
		if start+overlap >= len(ordered) {
			break
		}
		cutoff := ordered[start+overlap].OnsetTime

		end := start + window
		if end > len(ordered) {
			end = len(ordered)
		}
		refined, err := r.model.Refine(ctx, ordered[start:end])
		if err != nil {
			return nil, err
		}
		for _, n := range refined {
			if n.OnsetTime >= cutoff {
				result = append(result, n)
			}
		}
	}

	return finish(result), nil
}

// finish tags, orders and de-duplicates the stitched sequence.
func finish(notes []model.NoteEvent) []model.NoteEvent {
	const epsilon = 1e-6

	out := make([]model.NoteEvent, 0, len(notes))
	for _, n := range notes {
		n.SourceModel = model.SourceRefined
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OnsetTime != out[j].OnsetTime {
			return out[i].OnsetTime < out[j].OnsetTime
		}
		return out[i].Pitch < out[j].Pitch
	})

	deduped := out[:0]
	for _, n := range out {
		if len(deduped) > 0 {
			last := deduped[len(deduped)-1]
			if last.Pitch == n.Pitch && n.OnsetTime-last.OnsetTime < epsilon {
				continue
			}
		}
		deduped = append(deduped, n)
	}
	return deduped
}
