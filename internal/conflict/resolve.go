package conflict

import (
	"fmt"

	"github.com/vigil-ai/sentinel/internal/consensus"
	"github.com/vigil-ai/sentinel/signal"
)

// Policy selects how conflicts transform the consensus score.
type Policy string

const (
	// Conservative takes the worst of the consensus score and the signals
	// on the consensus side of 0.5. Errs toward detection; the default.
	Conservative Policy = "conservative"

	// Optimistic takes the best case. For low-stakes evaluation only.
	Optimistic Policy = "optimistic"

	// Mean averages the ok signals directly.
	Mean Policy = "mean"

	// ReviewFlag scores like Conservative but flags any conflicted
	// assessment for human review.
	ReviewFlag Policy = "review_flag"
)

// Resolution is the outcome of applying a policy to a conflicted consensus.
type Resolution struct {
	Policy          Policy
	OriginalScore   float64
	FinalScore      float64
	RequiresReview  bool
	ConflictCount   int
	HighestSeverity Severity
}

// Resolve transforms the raw consensus score according to policy. With no
// conflicts the consensus score passes through untouched and no review is
// requested, regardless of policy.
func Resolve(res consensus.Result, records []Record, set signal.Set, policy Policy) (Resolution, error) {
	out := Resolution{
		Policy:          policy,
		OriginalScore:   res.RawScore,
		FinalScore:      res.RawScore,
		ConflictCount:   len(records),
		HighestSeverity: HighestSeverity(records),
	}

	if len(records) == 0 {
		return out, nil
	}

	ok := set.OK()
	lo := ok[0].CrisisScore
	var sum float64
	for _, sig := range ok {
		if sig.CrisisScore < lo {
			lo = sig.CrisisScore
		}
		sum += sig.CrisisScore
	}

	// The pessimistic candidate set is the signals on the consensus side
	// of 0.5. A lone contrarian signal is usually the thing the detected
	// conflict explains (an ironic phrase reading as negative sentiment),
	// so it must not single-handedly drag the final score across the
	// scale.
	crisisLeaning := res.RawScore >= 0.5
	alignedHi := res.RawScore
	for _, sig := range ok {
		if (sig.CrisisScore >= 0.5) == crisisLeaning && sig.CrisisScore > alignedHi {
			alignedHi = sig.CrisisScore
		}
	}

	switch policy {
	case Conservative:
		out.FinalScore = alignedHi
		out.RequiresReview = HasHighSeverity(records)
	case Optimistic:
		out.FinalScore = min(res.RawScore, lo)
	case Mean:
		out.FinalScore = sum / float64(len(ok))
	case ReviewFlag:
		out.FinalScore = alignedHi
		out.RequiresReview = true
	default:
		return Resolution{}, fmt.Errorf("unknown resolution policy %q", policy)
	}

	out.FinalScore = signal.ClampUnit(out.FinalScore)
	return out, nil
}
