// Package sources implements the four signal-source wrappers. Each wraps a
// classifier backend and applies its fixed transform from raw prediction to
// crisis contribution.
package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/vigil-ai/sentinel/signal"
)

// base carries the pieces every source wrapper shares.
type base struct {
	name    string
	model   string
	backend signal.Backend

	typical time.Duration
	max     time.Duration
}

func (b *base) Name() string                  { return b.name }
func (b *base) TypicalLatency() time.Duration { return b.typical }
func (b *base) MaxLatency() time.Duration     { return b.max }

// classify calls the backend and returns the top prediction with the call
// latency. The model defaults to the source name so the mock backend can be
// addressed without configuration.
func (b *base) classify(ctx context.Context, text string) (signal.RawPrediction, time.Duration, error) {
	model := b.model
	if model == "" {
		model = b.name
	}

	start := time.Now()
	labels, err := b.backend.Classify(ctx, model, text)
	elapsed := time.Since(start)
	if err != nil {
		return signal.RawPrediction{}, elapsed, err
	}
	if len(labels) == 0 {
		return signal.RawPrediction{}, elapsed, fmt.Errorf("source %s: empty classification", b.name)
	}

	top := labels[0]
	for _, ls := range labels[1:] {
		if ls.Score > top.Score {
			top = ls
		}
	}
	return signal.RawPrediction{
		Label: top.Label,
		Score: signal.ClampUnit(top.Score),
	}, elapsed, nil
}

// newSignal assembles an ok CrisisSignal from a prediction and its transform.
func (b *base) newSignal(pred signal.RawPrediction, crisis float64, latency time.Duration) signal.CrisisSignal {
	return signal.CrisisSignal{
		Source:      b.name,
		RawLabel:    pred.Label,
		RawScore:    pred.Score,
		CrisisScore: signal.ClampUnit(crisis),
		Latency:     latency,
		Status:      signal.StatusOK,
	}
}
