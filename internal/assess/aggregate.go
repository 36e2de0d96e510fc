package assess

import (
	"fmt"
	"time"

	"github.com/vigil-ai/sentinel/internal/conflict"
	"github.com/vigil-ai/sentinel/internal/consensus"
	"github.com/vigil-ai/sentinel/internal/contextual"
	"github.com/vigil-ai/sentinel/pkg/config"
	"github.com/vigil-ai/sentinel/signal"
)

// Input carries everything the aggregator needs to lay out the response.
// All scoring decisions were made upstream; assembly adds no business
// logic beyond the derived booleans.
type Input struct {
	Set        signal.Set
	Consensus  consensus.Result
	Conflicts  []conflict.Record
	Resolution conflict.Resolution
	Context    *contextual.Analysis

	FinalScore float64 // after any context modifier, pre-clamped by the engine
	Config     *config.Config
	Degraded   bool

	RequestID        string
	Timestamp        time.Time
	ProcessingTimeMs float64
	Verbosity        string
}

// Assemble lays out the CrisisAssessment from pipeline outputs.
func Assemble(in Input) *CrisisAssessment {
	severity := SeverityFromScore(in.FinalScore, in.Config.Thresholds)

	a := &CrisisAssessment{
		CrisisDetected:       CrisisDetected(severity, in.Config.DetectionFloor),
		Severity:             severity,
		Confidence:           signal.ClampUnit(in.Consensus.Confidence),
		CrisisScore:          signal.ClampUnit(in.FinalScore),
		RequiresIntervention: RequiresIntervention(severity),
		RecommendedAction:    ActionForSeverity(severity),

		Signals: signalReports(in.Set),
		Consensus: ConsensusReport{
			Algorithm:        string(in.Consensus.Algorithm),
			CrisisScore:      in.Consensus.RawScore,
			Confidence:       in.Consensus.Confidence,
			AgreementLevel:   string(in.Consensus.Agreement),
			IndividualScores: in.Consensus.PerSourceScores,
			VoteBreakdown:    in.Consensus.VoteBreakdown,
		},
		ConflictAnalysis: conflictReport(in.Conflicts, in.Resolution),
		ContextAnalysis:  contextReport(in.Context),

		ProcessingTimeMs: in.ProcessingTimeMs,
		ModelsUsed:       in.Set.SourceNames(),
		IsDegraded:       in.Degraded,
		RequestID:        in.RequestID,
		Timestamp:        in.Timestamp,
	}

	a.Explanation = Explain(a, in)
	return a
}

// Degraded builds the safe fallback response for a request where no
// source produced a usable signal.
func Degraded(set signal.Set, cfg *config.Config, requestID string, ts time.Time, processingMs float64, verbosity string) *CrisisAssessment {
	a := &CrisisAssessment{
		CrisisDetected:    false,
		Severity:          SeveritySafe,
		RecommendedAction: ActionNone,
		Signals:           map[string]SignalReport{},
		Consensus: ConsensusReport{
			Algorithm:        cfg.Algorithm,
			AgreementLevel:   "disagreement",
			IndividualScores: map[string]float64{},
		},
		ConflictAnalysis: ConflictReport{
			Conflicts:          []conflict.Record{},
			Summary:            "no conflicts detected",
			ResolutionStrategy: cfg.ResolutionPolicy,
		},
		ProcessingTimeMs: processingMs,
		ModelsUsed:       []string{},
		IsDegraded:       true,
		RequestID:        requestID,
		Timestamp:        ts,
	}

	a.Explanation = Explanation{
		Verbosity: verbosity,
		DecisionSummary: fmt.Sprintf(
			"All signal sources failed (%s); returning a safe assessment pending retry.",
			joinNames(set.Failed())),
		RecommendedAction: ActionExplanation{
			Priority:  "none",
			Action:    ActionNone,
			Rationale: "no classifier output was available for this message",
		},
		PlainText: "The analysis could not run because every classifier was unavailable. " +
			"The message was not scored; treat this result as unknown rather than safe.",
	}
	return a
}

func signalReports(set signal.Set) map[string]SignalReport {
	out := make(map[string]SignalReport, len(set.Signals))
	for _, sig := range set.OK() {
		out[sig.Source] = SignalReport{
			Label:        sig.RawLabel,
			Score:        sig.RawScore,
			CrisisSignal: sig.CrisisScore,
		}
	}
	return out
}

func conflictReport(records []conflict.Record, res conflict.Resolution) ConflictReport {
	if records == nil {
		records = []conflict.Record{}
	}
	summary := "no conflicts detected"
	if len(records) > 0 {
		summary = fmt.Sprintf("%d conflict(s): ", len(records))
		for i, r := range records {
			if i > 0 {
				summary += "; "
			}
			summary += string(r.Kind)
		}
	}
	return ConflictReport{
		HasConflicts:       len(records) > 0,
		ConflictCount:      len(records),
		Conflicts:          records,
		HighestSeverity:    string(res.HighestSeverity),
		RequiresReview:     res.RequiresReview,
		Summary:            summary,
		ResolutionStrategy: string(res.Policy),
		OriginalScore:      res.OriginalScore,
		ResolvedScore:      res.FinalScore,
	}
}

func contextReport(a *contextual.Analysis) *ContextReport {
	if a == nil {
		return nil
	}

	r := &ContextReport{
		EscalationDetected: a.EscalationDetected,
		EscalationRate:     string(a.EscalationRate),
		EscalationPattern:  string(a.Pattern),
		PatternConfidence:  a.PatternConfidence,
	}
	r.Trend.Direction = a.Trend.Direction
	r.Trend.Velocity = a.Trend.Velocity
	r.Trend.ScoreDelta = a.Trend.ScoreDelta
	r.Trend.TimeSpanHours = a.Trend.TimeSpanHours

	r.TemporalFactors.LateNightRisk = a.TemporalFactors.LateNightRisk
	r.TemporalFactors.RapidPosting = a.TemporalFactors.RapidPosting
	r.TemporalFactors.TimeRiskModifier = a.TemporalFactors.TimeRiskModifier
	r.TemporalFactors.HourOfDay = a.TemporalFactors.HourOfDay
	r.TemporalFactors.IsWeekend = a.TemporalFactors.IsWeekend

	r.Trajectory.StartScore = a.Trajectory.StartScore
	r.Trajectory.EndScore = a.Trajectory.EndScore
	r.Trajectory.PeakScore = a.Trajectory.PeakScore
	r.Trajectory.Scores = a.Trajectory.Scores

	r.Intervention.Urgency = string(a.Intervention.Urgency)
	r.Intervention.RecommendedPoint = a.Intervention.RecommendedPoint
	r.Intervention.Delayed = a.Intervention.Delayed
	r.Intervention.Reason = a.Intervention.Reason

	r.HistoryAnalyzed.MessageCount = a.HistoryAnalyzed.MessageCount
	r.HistoryAnalyzed.TimeSpanHours = a.HistoryAnalyzed.TimeSpanHours
	r.HistoryAnalyzed.OldestTimestamp = a.HistoryAnalyzed.OldestTimestamp
	r.HistoryAnalyzed.NewestTimestamp = a.HistoryAnalyzed.NewestTimestamp

	return r
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}
