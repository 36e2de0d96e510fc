// Package conflict identifies semantic disagreements between signals and
// resolves the consensus score under a configurable policy.
package conflict

import (
	"fmt"

	"github.com/vigil-ai/sentinel/signal"
	"github.com/vigil-ai/sentinel/sources"
)

// Kind enumerates the detector taxonomy.
type Kind string

const (
	ScoreDisagreement Kind = "score_disagreement"
	IronySentiment    Kind = "irony_sentiment"
	EmotionMismatch   Kind = "emotion_mismatch"
	LabelDisagreement Kind = "label_disagreement"
)

// Severity grades a conflict.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Record describes one detected conflict.
type Record struct {
	Kind         Kind     `json:"kind"`
	Severity     Severity `json:"severity"`
	Participants []string `json:"participants"`
	Description  string   `json:"description"`
}

// Detection thresholds.
const (
	scoreGapThreshold       = 0.4
	strongNegativeSentiment = 0.7
	crisisAgreement         = 0.6
	positiveEmotionCeiling  = 0.3
)

// Detect runs the four detectors over the ok signals and returns any
// conflicts in detector order. Detection is pure: the set is never
// mutated, and identical input yields identical records.
func Detect(set signal.Set) []Record {
	var records []Record

	if r, ok := detectScoreDisagreement(set); ok {
		records = append(records, r)
	}
	if r, ok := detectIronySentiment(set); ok {
		records = append(records, r)
	}
	if r, ok := detectEmotionMismatch(set); ok {
		records = append(records, r)
	}
	if r, ok := detectLabelDisagreement(set); ok {
		records = append(records, r)
	}

	return records
}

// HighestSeverity returns the worst severity among records, or "" if none.
func HighestSeverity(records []Record) Severity {
	var worst Severity
	rank := map[Severity]int{SeverityLow: 1, SeverityMedium: 2, SeverityHigh: 3}
	for _, r := range records {
		if rank[r.Severity] > rank[worst] {
			worst = r.Severity
		}
	}
	return worst
}

// HasHighSeverity reports whether any record is high severity.
func HasHighSeverity(records []Record) bool {
	for _, r := range records {
		if r.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// detectScoreDisagreement fires when the spread between the most and least
// alarmed ok signals reaches the gap threshold.
func detectScoreDisagreement(set signal.Set) (Record, bool) {
	ok := set.OK()
	if len(ok) < 2 {
		return Record{}, false
	}

	lo, hi := ok[0], ok[0]
	for _, sig := range ok[1:] {
		if sig.CrisisScore < lo.CrisisScore {
			lo = sig
		}
		if sig.CrisisScore > hi.CrisisScore {
			hi = sig
		}
	}

	gap := hi.CrisisScore - lo.CrisisScore
	if gap < scoreGapThreshold {
		return Record{}, false
	}

	return Record{
		Kind:         ScoreDisagreement,
		Severity:     SeverityHigh,
		Participants: []string{lo.Source, hi.Source},
		Description: fmt.Sprintf("%s scores %.2f while %s scores %.2f (gap %.2f)",
			hi.Source, hi.CrisisScore, lo.Source, lo.CrisisScore, gap),
	}, true
}

// detectIronySentiment fires when the irony source sees sarcasm but the
// sentiment source reads strong negativity, which suggests an ironic
// crisis phrase rather than a real one.
func detectIronySentiment(set signal.Set) (Record, bool) {
	irony, okIrony := set.Get("irony")
	sentiment, okSent := set.Get("sentiment")
	if !okIrony || !okSent || !irony.OK() || !sentiment.OK() {
		return Record{}, false
	}

	if irony.CrisisScore >= 0.5 || sentiment.CrisisScore < strongNegativeSentiment {
		return Record{}, false
	}

	return Record{
		Kind:         IronySentiment,
		Severity:     SeverityMedium,
		Participants: []string{"irony", "sentiment"},
		Description: fmt.Sprintf("irony detected (%.2f) against strongly negative sentiment (%.2f): likely sarcasm",
			irony.CrisisScore, sentiment.CrisisScore),
	}, true
}

// detectEmotionMismatch fires when primary and sentiment agree on crisis
// but the emotion source lands in the positive family.
func detectEmotionMismatch(set signal.Set) (Record, bool) {
	primary, okPrim := set.Get("primary")
	sentiment, okSent := set.Get("sentiment")
	emotion, okEmo := set.Get("emotion")
	if !okPrim || !okSent || !okEmo || !primary.OK() || !sentiment.OK() || !emotion.OK() {
		return Record{}, false
	}

	if primary.CrisisScore < crisisAgreement || sentiment.CrisisScore < crisisAgreement {
		return Record{}, false
	}
	if emotion.CrisisScore > positiveEmotionCeiling {
		return Record{}, false
	}

	return Record{
		Kind:         EmotionMismatch,
		Severity:     SeverityMedium,
		Participants: []string{"primary", "sentiment", "emotion"},
		Description: fmt.Sprintf("primary (%.2f) and sentiment (%.2f) read crisis but emotion reports %q (%.2f)",
			primary.CrisisScore, sentiment.CrisisScore, emotion.RawLabel, emotion.CrisisScore),
	}, true
}

// detectLabelDisagreement fires when the primary's chosen label family and
// the family implied by sentiment+emotion together disagree.
func detectLabelDisagreement(set signal.Set) (Record, bool) {
	primary, okPrim := set.Get("primary")
	sentiment, okSent := set.Get("sentiment")
	emotion, okEmo := set.Get("emotion")
	if !okPrim || !okSent || !okEmo || !primary.OK() || !sentiment.OK() || !emotion.OK() {
		return Record{}, false
	}

	primaryCrisis := sources.CrisisLabels[primary.RawLabel]
	if !primaryCrisis && !sources.SafeLabels[primary.RawLabel] {
		return Record{}, false
	}

	// Rule-derived family: both auxiliary signals leaning the same way
	// defines the implied label; a split implies nothing.
	derivedCrisis := sentiment.CrisisScore >= 0.5 && emotion.CrisisScore >= 0.5
	derivedSafe := sentiment.CrisisScore < 0.5 && emotion.CrisisScore < 0.5
	if !derivedCrisis && !derivedSafe {
		return Record{}, false
	}

	if primaryCrisis == derivedCrisis {
		return Record{}, false
	}

	return Record{
		Kind:         LabelDisagreement,
		Severity:     SeverityMedium,
		Participants: []string{"primary", "sentiment", "emotion"},
		Description: fmt.Sprintf("primary label %q and the sentiment+emotion family disagree on crisis vs safe",
			primary.RawLabel),
	}, true
}
