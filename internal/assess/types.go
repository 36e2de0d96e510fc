// Package assess assembles the typed crisis assessment from the pipeline's
// outputs and renders its explanation.
package assess

import (
	"time"

	"github.com/vigil-ai/sentinel/internal/conflict"
	"github.com/vigil-ai/sentinel/pkg/config"
)

// Severity is the graded crisis class of an assessment.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeveritySafe     Severity = "safe"
)

// Action is the recommended response for a severity class.
type Action string

const (
	ActionImmediateOutreach  Action = "immediate_outreach"
	ActionPriorityResponse   Action = "priority_response"
	ActionStandardMonitoring Action = "standard_monitoring"
	ActionPassiveMonitoring  Action = "passive_monitoring"
	ActionNone               Action = "none"
)

// SeverityFromScore maps a final score onto the configured threshold
// ladder.
func SeverityFromScore(score float64, t config.Thresholds) Severity {
	switch {
	case score >= t.Critical:
		return SeverityCritical
	case score >= t.High:
		return SeverityHigh
	case score >= t.Medium:
		return SeverityMedium
	case score >= t.Low:
		return SeverityLow
	default:
		return SeveritySafe
	}
}

// ActionForSeverity returns the fixed severity-to-action mapping.
func ActionForSeverity(s Severity) Action {
	switch s {
	case SeverityCritical:
		return ActionImmediateOutreach
	case SeverityHigh:
		return ActionPriorityResponse
	case SeverityMedium:
		return ActionStandardMonitoring
	case SeverityLow:
		return ActionPassiveMonitoring
	default:
		return ActionNone
	}
}

var severityRank = map[Severity]int{
	SeveritySafe:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank orders severities for comparisons; safe is lowest.
func Rank(s Severity) int { return severityRank[s] }

// CrisisDetected reports whether severity reaches the configured
// detection floor (default medium).
func CrisisDetected(s Severity, floor string) bool {
	floorSev := Severity(floor)
	if _, ok := severityRank[floorSev]; !ok {
		floorSev = SeverityMedium
	}
	return Rank(s) >= Rank(floorSev)
}

// RequiresIntervention reports whether severity warrants intervention.
func RequiresIntervention(s Severity) bool {
	return s == SeverityHigh || s == SeverityCritical
}

// CrisisAssessment is the engine's top-level response.
type CrisisAssessment struct {
	CrisisDetected       bool    `json:"crisis_detected"`
	Severity             Severity `json:"severity"`
	Confidence           float64 `json:"confidence"`
	CrisisScore          float64 `json:"crisis_score"`
	RequiresIntervention bool    `json:"requires_intervention"`
	RecommendedAction    Action  `json:"recommended_action"`

	Signals          map[string]SignalReport `json:"signals"`
	Consensus        ConsensusReport         `json:"consensus"`
	ConflictAnalysis ConflictReport          `json:"conflict_analysis"`
	Explanation      Explanation             `json:"explanation"`
	ContextAnalysis  *ContextReport          `json:"context_analysis,omitempty"`

	ProcessingTimeMs float64   `json:"processing_time_ms"`
	ModelsUsed       []string  `json:"models_used"`
	IsDegraded       bool      `json:"is_degraded"`
	RequestID        string    `json:"request_id"`
	Timestamp        time.Time `json:"timestamp"`
}

// SignalReport is the per-source slice of the response.
type SignalReport struct {
	Label        string  `json:"label"`
	Score        float64 `json:"score"`
	CrisisSignal float64 `json:"crisis_signal"`
}

// ConsensusReport mirrors the consensus result.
type ConsensusReport struct {
	Algorithm        string             `json:"algorithm"`
	CrisisScore      float64            `json:"crisis_score"`
	Confidence       float64            `json:"confidence"`
	AgreementLevel   string             `json:"agreement_level"`
	IndividualScores map[string]float64 `json:"individual_scores"`
	VoteBreakdown    map[string]bool    `json:"vote_breakdown,omitempty"`
}

// ConflictReport mirrors detection plus resolution.
type ConflictReport struct {
	HasConflicts       bool              `json:"has_conflicts"`
	ConflictCount      int               `json:"conflict_count"`
	Conflicts          []conflict.Record `json:"conflicts"`
	HighestSeverity    string            `json:"highest_severity,omitempty"`
	RequiresReview     bool              `json:"requires_review"`
	Summary            string            `json:"summary"`
	ResolutionStrategy string            `json:"resolution_strategy"`
	OriginalScore      float64           `json:"original_score"`
	ResolvedScore      float64           `json:"resolved_score"`
}

// Explanation is the rendered decision narrative.
type Explanation struct {
	Verbosity          string             `json:"verbosity"`
	DecisionSummary    string             `json:"decision_summary"`
	KeyFactors         []KeyFactor        `json:"key_factors,omitempty"`
	RecommendedAction  ActionExplanation  `json:"recommended_action"`
	PlainText          string             `json:"plain_text,omitempty"`
	ConfidenceSummary  string             `json:"confidence_summary,omitempty"`
	ModelContributions map[string]float64 `json:"model_contributions,omitempty"`
	ConflictSummary    string             `json:"conflict_summary,omitempty"`
}

// KeyFactor is one of the strongest signals behind the decision.
type KeyFactor struct {
	Source       string  `json:"source"`
	Label        string  `json:"label"`
	CrisisSignal float64 `json:"crisis_signal"`
}

// ActionExplanation spells out the recommended action.
type ActionExplanation struct {
	Priority   string `json:"priority"`
	Action     Action `json:"action"`
	Escalation bool   `json:"escalation"`
	Rationale  string `json:"rationale"`
}

// ContextReport is the JSON shape of the context overlay.
type ContextReport struct {
	EscalationDetected bool    `json:"escalation_detected"`
	EscalationRate     string  `json:"escalation_rate"`
	EscalationPattern  string  `json:"escalation_pattern"`
	PatternConfidence  float64 `json:"pattern_confidence"`

	Trend struct {
		Direction     string  `json:"direction"`
		Velocity      string  `json:"velocity"`
		ScoreDelta    float64 `json:"score_delta"`
		TimeSpanHours float64 `json:"time_span_hours"`
	} `json:"trend"`

	TemporalFactors struct {
		LateNightRisk    bool    `json:"late_night_risk"`
		RapidPosting     bool    `json:"rapid_posting"`
		TimeRiskModifier float64 `json:"time_risk_modifier"`
		HourOfDay        int     `json:"hour_of_day"`
		IsWeekend        bool    `json:"is_weekend"`
	} `json:"temporal_factors"`

	Trajectory struct {
		StartScore float64   `json:"start_score"`
		EndScore   float64   `json:"end_score"`
		PeakScore  float64   `json:"peak_score"`
		Scores     []float64 `json:"scores"`
	} `json:"trajectory"`

	Intervention struct {
		Urgency          string `json:"urgency"`
		RecommendedPoint string `json:"recommended_point,omitempty"`
		Delayed          bool   `json:"intervention_delayed"`
		Reason           string `json:"reason"`
	} `json:"intervention"`

	HistoryAnalyzed struct {
		MessageCount    int        `json:"message_count"`
		TimeSpanHours   float64    `json:"time_span_hours"`
		OldestTimestamp *time.Time `json:"oldest_timestamp,omitempty"`
		NewestTimestamp *time.Time `json:"newest_timestamp,omitempty"`
	} `json:"history_analyzed"`
}
