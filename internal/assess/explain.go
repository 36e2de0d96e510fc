package assess

import (
	"fmt"
	"sort"
	"strings"
)

// Explain renders the explanation at the requested verbosity. The output
// is template-driven and fully deterministic: identical assessments yield
// identical text.
func Explain(a *CrisisAssessment, in Input) Explanation {
	verbosity := in.Verbosity
	switch verbosity {
	case "minimal", "standard", "detailed":
	default:
		verbosity = "standard"
	}

	e := Explanation{
		Verbosity:         verbosity,
		DecisionSummary:   decisionSummary(a, in),
		RecommendedAction: actionExplanation(a),
	}
	if verbosity == "minimal" {
		return e
	}

	e.KeyFactors = keyFactors(a, 3)
	e.PlainText = plainText(a, in)
	e.ConfidenceSummary = confidenceSummary(a)

	if verbosity == "detailed" {
		e.ModelContributions = modelContributions(a, in)
		if a.ConflictAnalysis.HasConflicts {
			e.ConflictSummary = conflictSummary(a)
		}
	}
	return e
}

func decisionSummary(a *CrisisAssessment, in Input) string {
	if !a.CrisisDetected {
		summary := fmt.Sprintf("No crisis detected (severity %s, score %.2f).", a.Severity, a.CrisisScore)
		if a.IsDegraded {
			summary += fmt.Sprintf(" Assessment ran degraded: %s unavailable.", joinNames(in.Set.Failed()))
		}
		return summary
	}

	summary := fmt.Sprintf("Crisis signals detected at %s severity (score %.2f, %s agreement across %d sources).",
		a.Severity, a.CrisisScore, a.Consensus.AgreementLevel, len(a.ModelsUsed))
	if a.IsDegraded {
		summary += fmt.Sprintf(" Assessment ran degraded: %s unavailable.", joinNames(in.Set.Failed()))
	}
	return summary
}

func actionExplanation(a *CrisisAssessment) ActionExplanation {
	priority := map[Severity]string{
		SeverityCritical: "urgent",
		SeverityHigh:     "high",
		SeverityMedium:   "elevated",
		SeverityLow:      "routine",
		SeveritySafe:     "none",
	}[a.Severity]

	rationale := map[Action]string{
		ActionImmediateOutreach:  "the score crossed the critical threshold; reach out immediately",
		ActionPriorityResponse:   "the score crossed the high threshold; respond with priority",
		ActionStandardMonitoring: "the score sits in the medium band; keep standard monitoring",
		ActionPassiveMonitoring:  "the score sits in the low band; monitor passively",
		ActionNone:               "no elevated risk was found in this message",
	}[a.RecommendedAction]

	return ActionExplanation{
		Priority:   priority,
		Action:     a.RecommendedAction,
		Escalation: a.RequiresIntervention,
		Rationale:  rationale,
	}
}

// keyFactors picks the top signals by crisis contribution, names sorted
// for determinism on ties.
func keyFactors(a *CrisisAssessment, n int) []KeyFactor {
	factors := make([]KeyFactor, 0, len(a.Signals))
	for source, rep := range a.Signals {
		factors = append(factors, KeyFactor{
			Source:       source,
			Label:        rep.Label,
			CrisisSignal: rep.CrisisSignal,
		})
	}
	sort.Slice(factors, func(i, j int) bool {
		if factors[i].CrisisSignal != factors[j].CrisisSignal {
			return factors[i].CrisisSignal > factors[j].CrisisSignal
		}
		return factors[i].Source < factors[j].Source
	})
	if len(factors) > n {
		factors = factors[:n]
	}
	return factors
}

func plainText(a *CrisisAssessment, in Input) string {
	var b strings.Builder

	if a.CrisisDetected {
		fmt.Fprintf(&b, "The message shows %s-severity crisis indicators with a combined score of %.2f. ",
			a.Severity, a.CrisisScore)
	} else {
		fmt.Fprintf(&b, "The message does not rise to a crisis; the combined score is %.2f (%s). ",
			a.CrisisScore, a.Severity)
	}

	if kf := keyFactors(a, 2); len(kf) > 0 {
		parts := make([]string, len(kf))
		for i, f := range kf {
			parts[i] = fmt.Sprintf("%s read %q (%.2f)", f.Source, f.Label, f.CrisisSignal)
		}
		fmt.Fprintf(&b, "Leading signals: %s. ", strings.Join(parts, "; "))
	}

	if a.ConflictAnalysis.HasConflicts {
		fmt.Fprintf(&b, "The sources disagreed (%s); the %s policy adjusted the score from %.2f to %.2f. ",
			a.ConflictAnalysis.Summary, a.ConflictAnalysis.ResolutionStrategy,
			a.ConflictAnalysis.OriginalScore, a.ConflictAnalysis.ResolvedScore)
	}

	if a.ContextAnalysis != nil && a.ContextAnalysis.EscalationDetected {
		fmt.Fprintf(&b, "Message history shows a %s escalation; intervention urgency is %s. ",
			a.ContextAnalysis.EscalationRate, a.ContextAnalysis.Intervention.Urgency)
	}

	if a.IsDegraded {
		fmt.Fprintf(&b, "Note: %s did not respond, so the assessment used partial evidence.",
			joinNames(in.Set.Failed()))
	}

	return strings.TrimSpace(b.String())
}

func confidenceSummary(a *CrisisAssessment) string {
	band := "low"
	switch {
	case a.Confidence >= 0.8:
		band = "high"
	case a.Confidence >= 0.5:
		band = "moderate"
	}
	return fmt.Sprintf("%s confidence (%.2f) with %s agreement between sources",
		band, a.Confidence, a.Consensus.AgreementLevel)
}

func modelContributions(a *CrisisAssessment, in Input) map[string]float64 {
	out := make(map[string]float64, len(a.Consensus.IndividualScores))
	total := 0.0
	for name := range a.Consensus.IndividualScores {
		total += in.Config.Weight(name)
	}
	for name, score := range a.Consensus.IndividualScores {
		if total > 0 {
			out[name] = score * in.Config.Weight(name) / total
		} else {
			out[name] = score / float64(len(a.Consensus.IndividualScores))
		}
	}
	return out
}

func conflictSummary(a *CrisisAssessment) string {
	parts := make([]string, len(a.ConflictAnalysis.Conflicts))
	for i, c := range a.ConflictAnalysis.Conflicts {
		parts[i] = fmt.Sprintf("%s (%s): %s", c.Kind, c.Severity, c.Description)
	}
	return strings.Join(parts, " | ")
}
