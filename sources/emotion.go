package sources

import (
	"context"
	"strings"
	"time"

	"github.com/vigil-ai/sentinel/signal"
)

// Emotion label families over the 28-way taxonomy. Labels absent from both
// maps, other than neutral, contribute at half weight.
var (
	distressEmotions = map[string]bool{
		"sadness":        true,
		"fear":           true,
		"grief":          true,
		"remorse":        true,
		"disappointment": true,
	}

	positiveEmotions = map[string]bool{
		"joy":        true,
		"amusement":  true,
		"love":       true,
		"admiration": true,
		"approval":   true,
		"caring":     true,
		"desire":     true,
		"excitement": true,
		"gratitude":  true,
		"optimism":   true,
		"pride":      true,
		"relief":     true,
	}
)

func init() {
	signal.Register("emotion", func(cfg signal.SourceSettings) (signal.Source, error) {
		return &Emotion{base: base{
			name:    cfg.Name,
			model:   cfg.Model,
			backend: cfg.Backend,
			typical: 60 * time.Millisecond,
			max:     250 * time.Millisecond,
		}}, nil
	})
}

// Emotion wraps a fine-grained emotion classifier.
type Emotion struct {
	base
}

// Analyze maps the emotion family onto crisis contribution: distress
// emotions count fully, neutral at 0.3, positive emotions invert, and
// everything else counts at half weight.
func (e *Emotion) Analyze(ctx context.Context, text string) (signal.CrisisSignal, error) {
	pred, latency, err := e.classify(ctx, text)
	if err != nil {
		return signal.CrisisSignal{}, err
	}

	label := strings.ToLower(pred.Label)
	var crisis float64
	switch {
	case distressEmotions[label]:
		crisis = pred.Score
	case label == "neutral":
		crisis = 0.3 * pred.Score
	case positiveEmotions[label]:
		crisis = 1 - pred.Score
	default:
		crisis = 0.5 * pred.Score
	}

	return e.newSignal(pred, crisis, latency), nil
}

// IsPositiveEmotion reports whether a raw emotion label belongs to the
// positive family. The conflict detector uses this for the emotion
// mismatch check.
func IsPositiveEmotion(label string) bool {
	return positiveEmotions[strings.ToLower(label)]
}

// IsDistressEmotion reports whether a raw emotion label belongs to the
// distress family.
func IsDistressEmotion(label string) bool {
	return distressEmotions[strings.ToLower(label)]
}
