package sources

import (
	"context"
	"strings"
	"time"

	"github.com/vigil-ai/sentinel/signal"
)

func init() {
	signal.Register("irony", func(cfg signal.SourceSettings) (signal.Source, error) {
		return &Irony{base: base{
			name:    cfg.Name,
			model:   cfg.Model,
			backend: cfg.Backend,
			typical: 40 * time.Millisecond,
			max:     200 * time.Millisecond,
		}}, nil
	})
}

// Irony wraps a binary irony detector. An ironic phrasing of a crisis
// expression makes a real crisis less likely, so irony suppresses the
// crisis contribution rather than adding to it.
type Irony struct {
	base
}

// Analyze maps non_irony confidence directly onto the crisis contribution
// and inverts it for ironic text.
func (i *Irony) Analyze(ctx context.Context, text string) (signal.CrisisSignal, error) {
	pred, latency, err := i.classify(ctx, text)
	if err != nil {
		return signal.CrisisSignal{}, err
	}

	var crisis float64
	if isIronyLabel(pred.Label) {
		crisis = 1 - pred.Score
	} else {
		crisis = pred.Score
	}

	return i.newSignal(pred, crisis, latency), nil
}

func isIronyLabel(label string) bool {
	switch strings.ToLower(label) {
	case "irony", "ironic", "label_1":
		return true
	}
	return false
}
