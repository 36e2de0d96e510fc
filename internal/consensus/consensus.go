// Package consensus combines the signal set into a single crisis score
// with an agreement measure, under one of four selectable algorithms.
package consensus

import (
	"fmt"
	"math"

	"github.com/vigil-ai/sentinel/signal"
)

// Algorithm selects the fusion strategy.
type Algorithm string

const (
	Weighted      Algorithm = "weighted"       // weight-averaged scores (default)
	Majority      Algorithm = "majority"       // per-signal crisis votes
	Unanimous     Algorithm = "unanimous"      // all signals must agree
	ConflictAware Algorithm = "conflict_aware" // weighted, shifted on high conflict
)

// AgreementLevel is a qualitative label for signal variance. Descriptive
// only; it never feeds back into scoring.
type AgreementLevel string

const (
	AgreementStrong       AgreementLevel = "strong"
	AgreementModerate     AgreementLevel = "moderate"
	AgreementWeak         AgreementLevel = "weak"
	AgreementDisagreement AgreementLevel = "disagreement"
)

// Variance boundaries for the agreement ladder.
const (
	strongVariance   = 0.05
	moderateVariance = 0.15
	weakVariance     = 0.25
)

// Weights maps source name to its configured vote weight.
type Weights map[string]float64

// Result is the consensus outcome before conflict resolution.
type Result struct {
	Algorithm       Algorithm
	RawScore        float64
	Confidence      float64
	Agreement       AgreementLevel
	PerSourceScores map[string]float64
	TotalWeight     float64
	// VoteBreakdown records per-signal crisis votes for the voting
	// algorithms; nil for weighted.
	VoteBreakdown map[string]bool
	IsCrisisVote  bool
}

// Compute fuses the ok signals of set under the chosen algorithm.
// The set must contain at least one ok signal.
func Compute(set signal.Set, weights Weights, algo Algorithm) (Result, error) {
	ok := set.OK()
	if len(ok) == 0 {
		return Result{}, fmt.Errorf("consensus requires at least one ok signal")
	}
	switch algo {
	case Weighted, Majority, Unanimous, ConflictAware:
	default:
		return Result{}, fmt.Errorf("unknown consensus algorithm %q", algo)
	}

	perSource := make(map[string]float64, len(ok))
	for _, sig := range ok {
		perSource[sig.Source] = sig.CrisisScore
	}

	// A lone signal carries no disagreement information: its score stands,
	// and confidence collapses onto the score itself.
	if len(ok) == 1 {
		return Result{
			Algorithm:       algo,
			RawScore:        ok[0].CrisisScore,
			Confidence:      ok[0].CrisisScore,
			Agreement:       AgreementStrong,
			PerSourceScores: perSource,
			TotalWeight:     weights[ok[0].Source],
			IsCrisisVote:    ok[0].CrisisScore >= 0.5,
		}, nil
	}

	var res Result
	switch algo {
	case Weighted, ConflictAware:
		res = weightedVoting(ok, weights)
		res.Algorithm = algo
	case Majority:
		res = majorityVoting(ok)
	case Unanimous:
		res = unanimousVoting(ok)
	default:
		return Result{}, fmt.Errorf("unknown consensus algorithm %q", algo)
	}

	res.PerSourceScores = perSource
	res.Agreement = agreementFromVariance(variance(scores(ok)))
	res.RawScore = signal.ClampUnit(res.RawScore)
	res.Confidence = signal.ClampUnit(res.Confidence)
	return res, nil
}

// ShiftTowardPessimistic moves the raw score 0.2 toward the highest ok
// crisis signal. The conflict-aware algorithm applies this when a
// high-severity conflict is detected.
func ShiftTowardPessimistic(res Result, set signal.Set) Result {
	worst := 0.0
	for _, sig := range set.OK() {
		if sig.CrisisScore > worst {
			worst = sig.CrisisScore
		}
	}
	if worst > res.RawScore {
		shifted := res.RawScore + 0.2
		if shifted > worst {
			shifted = worst
		}
		res.RawScore = signal.ClampUnit(shifted)
	}
	return res
}

// weightedVoting averages crisis scores by configured weight over ok
// sources only; a degraded set renormalizes over the surviving weights.
func weightedVoting(ok []signal.CrisisSignal, weights Weights) Result {
	var sum, totalWeight float64
	for _, sig := range ok {
		w := weights[sig.Source]
		sum += sig.CrisisScore * w
		totalWeight += w
	}

	var score float64
	if totalWeight > 0 {
		score = sum / totalWeight
	} else {
		// All surviving sources carry zero weight: fall back to the plain
		// mean rather than dividing by zero.
		score = mean(scores(ok))
	}

	return Result{
		Algorithm:    Weighted,
		RawScore:     score,
		Confidence:   1 - stddev(scores(ok)),
		TotalWeight:  totalWeight,
		IsCrisisVote: score >= 0.5,
	}
}

// majorityVoting lets each signal cast a crisis/non-crisis vote and scores
// from the winning side's mean. Ties break toward crisis.
func majorityVoting(ok []signal.CrisisSignal) Result {
	votes := make(map[string]bool, len(ok))
	crisisVotes := 0
	for _, sig := range ok {
		isCrisis := sig.CrisisScore >= 0.5
		votes[sig.Source] = isCrisis
		if isCrisis {
			crisisVotes++
		}
	}

	isCrisis := crisisVotes*2 >= len(ok) // tie goes to crisis

	var side []float64
	for _, sig := range ok {
		if (sig.CrisisScore >= 0.5) == isCrisis {
			side = append(side, sig.CrisisScore)
		}
	}

	majority := float64(crisisVotes) / float64(len(ok))
	if !isCrisis {
		majority = 1 - majority
	}

	return Result{
		Algorithm:     Majority,
		RawScore:      mean(side),
		Confidence:    majority,
		VoteBreakdown: votes,
		TotalWeight:   float64(len(ok)),
		IsCrisisVote:  isCrisis,
	}
}

// unanimousVoting detects a crisis only when every signal crosses 0.5.
// The score is the minimum signal when the vote is unanimous and the
// maximum signal otherwise.
func unanimousVoting(ok []signal.CrisisSignal) Result {
	votes := make(map[string]bool, len(ok))
	all := true
	for _, sig := range ok {
		isCrisis := sig.CrisisScore >= 0.5
		votes[sig.Source] = isCrisis
		if !isCrisis {
			all = false
		}
	}

	ss := scores(ok)
	minScore, maxScore := minMax(ss)

	score := maxScore
	if all {
		score = minScore
	}

	return Result{
		Algorithm:     Unanimous,
		RawScore:      score,
		Confidence:    1 - (maxScore - minScore),
		VoteBreakdown: votes,
		TotalWeight:   float64(len(ok)),
		IsCrisisVote:  all,
	}
}

func agreementFromVariance(v float64) AgreementLevel {
	switch {
	case v < strongVariance:
		return AgreementStrong
	case v < moderateVariance:
		return AgreementModerate
	case v < weakVariance:
		return AgreementWeak
	default:
		return AgreementDisagreement
	}
}

func scores(sigs []signal.CrisisSignal) []float64 {
	out := make([]float64, len(sigs))
	for i, s := range sigs {
		out[i] = s.CrisisScore
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	return math.Sqrt(variance(xs))
}

func minMax(xs []float64) (float64, float64) {
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}
