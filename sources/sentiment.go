package sources

import (
	"context"
	"strings"
	"time"

	"github.com/vigil-ai/sentinel/signal"
)

func init() {
	signal.Register("sentiment", func(cfg signal.SourceSettings) (signal.Source, error) {
		return &Sentiment{base: base{
			name:    cfg.Name,
			model:   cfg.Model,
			backend: cfg.Backend,
			typical: 40 * time.Millisecond,
			max:     200 * time.Millisecond,
		}}, nil
	})
}

// Sentiment wraps a three-way polarity classifier.
type Sentiment struct {
	base
}

// Analyze maps polarity onto crisis contribution: negative counts fully,
// neutral half-weight, positive inverts.
func (s *Sentiment) Analyze(ctx context.Context, text string) (signal.CrisisSignal, error) {
	pred, latency, err := s.classify(ctx, text)
	if err != nil {
		return signal.CrisisSignal{}, err
	}

	var crisis float64
	switch normalizeSentimentLabel(pred.Label) {
	case "negative":
		crisis = pred.Score
	case "neutral":
		crisis = 0.5 * pred.Score
	case "positive":
		crisis = 1 - pred.Score
	default:
		crisis = 0.5 * pred.Score
	}

	return s.newSignal(pred, crisis, latency), nil
}

// normalizeSentimentLabel folds the label spellings sentiment models emit
// (LABEL_0/1/2, NEG/NEU/POS, mixed case) onto the canonical three.
func normalizeSentimentLabel(label string) string {
	switch strings.ToLower(label) {
	case "negative", "neg", "label_0":
		return "negative"
	case "neutral", "neu", "label_1":
		return "neutral"
	case "positive", "pos", "label_2":
		return "positive"
	}
	return strings.ToLower(label)
}
