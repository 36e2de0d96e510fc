package sources

import (
	"context"
	"time"

	"github.com/vigil-ai/sentinel/signal"
)

// CrisisLabels is the label family that indicates a crisis when chosen by
// the primary zero-shot classifier.
var CrisisLabels = map[string]bool{
	"suicide ideation":   true,
	"emotional distress": true,
	"self-harm":          true,
	"hopelessness":       true,
}

// SafeLabels is the non-crisis label family of the primary classifier.
var SafeLabels = map[string]bool{
	"casual conversation": true,
	"positive sharing":    true,
	"seeking support":     true,
}

func init() {
	signal.Register("primary", func(cfg signal.SourceSettings) (signal.Source, error) {
		return &Primary{base: base{
			name:    cfg.Name,
			model:   cfg.Model,
			backend: cfg.Backend,
			typical: 120 * time.Millisecond,
			max:     450 * time.Millisecond,
		}}, nil
	})
}

// Primary wraps the zero-shot NLI classifier over the fixed crisis/safe
// label set. It is the dominant signal by weight.
type Primary struct {
	base
}

// Analyze classifies text and derives the crisis contribution: confidence
// for crisis-family labels, inverted confidence for safe-family labels. A
// label outside both families contributes a neutral 0.5.
func (p *Primary) Analyze(ctx context.Context, text string) (signal.CrisisSignal, error) {
	pred, latency, err := p.classify(ctx, text)
	if err != nil {
		return signal.CrisisSignal{}, err
	}

	var crisis float64
	switch {
	case CrisisLabels[pred.Label]:
		crisis = pred.Score
	case SafeLabels[pred.Label]:
		crisis = 1 - pred.Score
	default:
		crisis = 0.5
	}

	return p.newSignal(pred, crisis, latency), nil
}
