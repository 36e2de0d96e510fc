// Package contextual overlays temporal analysis on an assessment when the
// caller supplies recent message history: escalation rate, trajectory
// pattern, time-of-day risk, and intervention urgency.
package contextual

import (
	"fmt"
	"math"
	"time"

	"github.com/vigil-ai/sentinel/pkg/config"
	"github.com/vigil-ai/sentinel/signal"
)

// EscalationRate classifies the trajectory slope.
type EscalationRate string

const (
	EscalationRapid     EscalationRate = "rapid"
	EscalationGradual   EscalationRate = "gradual"
	EscalationStable    EscalationRate = "stable"
	EscalationImproving EscalationRate = "improving"
	EscalationNone      EscalationRate = "none"
)

// Pattern is the fitted trajectory shape.
type Pattern string

const (
	PatternLinear      Pattern = "linear"
	PatternExponential Pattern = "exponential"
	PatternSpike       Pattern = "spike"
	PatternPlateau     Pattern = "plateau"
	PatternOscillating Pattern = "oscillating"
	PatternNone        Pattern = "none"
)

// Urgency grades how soon intervention should happen.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyHigh      Urgency = "high"
	UrgencyModerate  Urgency = "moderate"
	UrgencyLow       Urgency = "low"
	UrgencyNone      Urgency = "none"
)

// Slope and delta boundaries, in score units per hour.
const (
	rapidSlope   = 0.3
	gradualSlope = 0.1

	// minStepGap guards per-step rates against near-coincident timestamps.
	minStepGap = time.Minute

	// spikeGap is how far a point must stand above its neighbours.
	spikeGap = 0.3

	// scoreTolerance absorbs floating-point error in gap comparisons, so a
	// step of exactly spikeGap does not count as exceeding it.
	scoreTolerance = 1e-9

	// fitEpsilon bounds the residual for the linear fit.
	fitEpsilon = 0.05

	// plateauEpsilon bounds the tail variance for the plateau fit.
	plateauEpsilon = 0.01

	// maxTimeRiskModifier caps the combined temporal multiplier.
	maxTimeRiskModifier = 1.3
)

// Entry is one prior message summary supplied by the caller. The engine
// never re-scores historical text.
type Entry struct {
	Timestamp   time.Time
	CrisisScore float64
	Severity    string
}

// Point is one step of the analyzed trajectory.
type Point struct {
	Timestamp time.Time
	Score     float64
}

// Analysis is the full context overlay attached to a response.
type Analysis struct {
	EscalationDetected bool
	EscalationRate     EscalationRate
	Pattern            Pattern
	PatternConfidence  float64

	Trend           Trend
	TemporalFactors TemporalFactors
	Trajectory      Trajectory
	Intervention    Intervention
	HistoryAnalyzed HistorySummary
}

// Trend summarizes direction and speed of change.
type Trend struct {
	Direction     string  // escalating, stable, improving
	Velocity      string  // rapid, gradual, stable
	ScoreDelta    float64 // end minus start
	TimeSpanHours float64
}

// TemporalFactors capture time-of-day and posting-cadence risk.
type TemporalFactors struct {
	LateNightRisk    bool
	RapidPosting     bool
	TimeRiskModifier float64
	HourOfDay        int
	IsWeekend        bool
}

// Trajectory is the ordered score sequence with its extremes.
type Trajectory struct {
	StartScore float64
	EndScore   float64
	PeakScore  float64
	Scores     []float64
}

// Intervention is the recommended response window.
type Intervention struct {
	Urgency          Urgency
	RecommendedPoint string
	Delayed          bool
	Reason           string
}

// HistorySummary describes the analyzed history window.
type HistorySummary struct {
	MessageCount    int
	TimeSpanHours   float64
	OldestTimestamp *time.Time
	NewestTimestamp *time.Time
}

// Analyze computes the context overlay from history plus the current
// assessment. currentScore is the resolved crisis score of the message
// under analysis, stamped at now. With fewer than two trajectory points
// escalation, pattern, trend and intervention yield their insufficient-data
// defaults; temporal factors are computed from now in every case.
func Analyze(history []Entry, currentScore float64, now time.Time, thresholds config.Thresholds) *Analysis {
	points := make([]Point, 0, len(history)+1)
	for _, e := range history {
		points = append(points, Point{Timestamp: e.Timestamp, Score: signal.ClampUnit(e.CrisisScore)})
	}
	points = append(points, Point{Timestamp: now, Score: signal.ClampUnit(currentScore)})

	a := &Analysis{
		EscalationRate:  EscalationNone,
		Pattern:         PatternNone,
		Trend:           Trend{Direction: "stable", Velocity: "stable"},
		TemporalFactors: temporalFactors(history, now),
		Trajectory:      trajectory(points),
		Intervention:    Intervention{Urgency: UrgencyNone, Reason: "insufficient history for trajectory analysis"},
		HistoryAnalyzed: historySummary(history),
	}
	if len(points) < 2 {
		return a
	}

	slope := regressionSlope(points)
	a.EscalationRate = escalationRate(points, slope)
	a.EscalationDetected = a.EscalationRate == EscalationRapid || a.EscalationRate == EscalationGradual
	a.Pattern, a.PatternConfidence = fitPattern(points, thresholds)
	a.Trend = trend(points, slope, a.EscalationRate)
	a.Intervention = intervention(a, currentScore, thresholds)
	return a
}

// Modifier returns the multiplier the engine applies to the final score
// before severity mapping when context analysis ran.
func (a *Analysis) Modifier() float64 {
	if a == nil {
		return 1.0
	}
	return a.TemporalFactors.TimeRiskModifier
}

// regressionSlope is the least-squares slope of score over hours. Using
// the fitted slope rather than endpoint delta keeps a noisy first or last
// sample from swinging the classification.
func regressionSlope(points []Point) float64 {
	n := float64(len(points))
	t0 := points[0].Timestamp

	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := p.Timestamp.Sub(t0).Hours()
		sumX += x
		sumY += p.Score
		sumXY += x * p.Score
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// escalationRate classifies the trajectory: rapid when any single step
// rises at >= 0.3 per hour or the fitted slope exceeds 0.3 per hour,
// gradual for slopes in [0.1, 0.3), improving for slopes at or below
// -0.1, stable otherwise.
func escalationRate(points []Point, slope float64) EscalationRate {
	for i := 1; i < len(points); i++ {
		dt := points[i].Timestamp.Sub(points[i-1].Timestamp)
		if dt < minStepGap {
			continue
		}
		delta := points[i].Score - points[i-1].Score
		if delta > 0 && delta/dt.Hours() >= rapidSlope {
			return EscalationRapid
		}
	}

	switch {
	case slope > rapidSlope:
		return EscalationRapid
	case slope >= gradualSlope:
		return EscalationGradual
	case slope <= -gradualSlope:
		return EscalationImproving
	default:
		return EscalationStable
	}
}

// fitPattern matches the trajectory against the shape taxonomy in fixed
// order: linear, exponential, spike, plateau, then oscillating.
func fitPattern(points []Point, thresholds config.Thresholds) (Pattern, float64) {
	if len(points) < 3 {
		return PatternNone, 0
	}

	scores := make([]float64, len(points))
	for i, p := range points {
		scores[i] = p.Score
	}

	if monotone(scores) {
		if resid := maxLineResidual(scores); resid < fitEpsilon {
			return PatternLinear, signal.ClampUnit(1 - resid/fitEpsilon)
		}
		if increasingSecondDifferences(scores) {
			return PatternExponential, 0.8
		}
	}

	if _, ok := spikeIndex(scores); ok {
		return PatternSpike, 0.9
	}

	if tailVariance(scores, 3) < plateauEpsilon && meanOf(scores[max(0, len(scores)-3):]) > thresholds.Medium {
		return PatternPlateau, 0.7
	}

	if signChanges(scores) >= 2 {
		return PatternOscillating, 0.6
	}

	return PatternNone, 0
}

func monotone(scores []float64) bool {
	up, down := true, true
	for i := 1; i < len(scores); i++ {
		if scores[i] < scores[i-1] {
			up = false
		}
		if scores[i] > scores[i-1] {
			down = false
		}
	}
	return up || down
}

// maxLineResidual measures the worst deviation from the straight line
// through the first and last scores.
func maxLineResidual(scores []float64) float64 {
	n := len(scores)
	start, end := scores[0], scores[n-1]
	var worst float64
	for i, s := range scores {
		expected := start + (end-start)*float64(i)/float64(n-1)
		if d := math.Abs(s - expected); d > worst {
			worst = d
		}
	}
	return worst
}

func increasingSecondDifferences(scores []float64) bool {
	if len(scores) < 3 {
		return false
	}
	prev := scores[1] - scores[0]
	for i := 2; i < len(scores); i++ {
		d := scores[i] - scores[i-1]
		if d <= prev {
			return false
		}
		prev = d
	}
	return true
}

// spikeIndex finds a single point standing more than spikeGap above both
// neighbours.
func spikeIndex(scores []float64) (int, bool) {
	for i := 1; i < len(scores)-1; i++ {
		if scores[i]-scores[i-1] > spikeGap+scoreTolerance && scores[i]-scores[i+1] > spikeGap+scoreTolerance {
			return i, true
		}
	}
	// A terminal jump counts when the last step leaps past its neighbour.
	n := len(scores)
	if scores[n-1]-scores[n-2] > spikeGap+scoreTolerance {
		return n - 1, true
	}
	return 0, false
}

func tailVariance(scores []float64, n int) float64 {
	tail := scores[max(0, len(scores)-n):]
	if len(tail) < 2 {
		return math.MaxFloat64
	}
	m := meanOf(tail)
	var sum float64
	for _, s := range tail {
		d := s - m
		sum += d * d
	}
	return sum / float64(len(tail))
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func signChanges(scores []float64) int {
	changes := 0
	prevSign := 0
	for i := 1; i < len(scores); i++ {
		d := scores[i] - scores[i-1]
		sign := 0
		if d > 0 {
			sign = 1
		} else if d < 0 {
			sign = -1
		}
		if sign != 0 && prevSign != 0 && sign != prevSign {
			changes++
		}
		if sign != 0 {
			prevSign = sign
		}
	}
	return changes
}

func trend(points []Point, slope float64, rate EscalationRate) Trend {
	first, last := points[0], points[len(points)-1]

	direction := "stable"
	switch {
	case rate == EscalationRapid || rate == EscalationGradual:
		direction = "escalating"
	case rate == EscalationImproving:
		direction = "improving"
	}

	velocity := "stable"
	switch rate {
	case EscalationRapid:
		velocity = "rapid"
	case EscalationGradual, EscalationImproving:
		velocity = "gradual"
	}

	return Trend{
		Direction:     direction,
		Velocity:      velocity,
		ScoreDelta:    last.Score - first.Score,
		TimeSpanHours: last.Timestamp.Sub(first.Timestamp).Hours(),
	}
}

func temporalFactors(history []Entry, now time.Time) TemporalFactors {
	hour := now.Local().Hour()
	lateNight := hour >= 23 || hour < 5

	// Rapid posting: at least three messages (including the current one)
	// inside the trailing ten minutes.
	recent := 1
	cutoff := now.Add(-10 * time.Minute)
	for _, e := range history {
		if e.Timestamp.After(cutoff) && !e.Timestamp.After(now) {
			recent++
		}
	}
	rapidPosting := recent >= 3

	modifier := 1.0
	if lateNight {
		modifier += 0.1
	}
	if rapidPosting {
		modifier += 0.1
	}
	if modifier > maxTimeRiskModifier {
		modifier = maxTimeRiskModifier
	}

	weekday := now.Local().Weekday()

	return TemporalFactors{
		LateNightRisk:    lateNight,
		RapidPosting:     rapidPosting,
		TimeRiskModifier: modifier,
		HourOfDay:        hour,
		IsWeekend:        weekday == time.Saturday || weekday == time.Sunday,
	}
}

func trajectory(points []Point) Trajectory {
	scores := make([]float64, len(points))
	peak := 0.0
	for i, p := range points {
		scores[i] = p.Score
		if p.Score > peak {
			peak = p.Score
		}
	}
	return Trajectory{
		StartScore: scores[0],
		EndScore:   scores[len(scores)-1],
		PeakScore:  peak,
		Scores:     scores,
	}
}

func historySummary(history []Entry) HistorySummary {
	s := HistorySummary{MessageCount: len(history)}
	if len(history) == 0 {
		return s
	}
	oldest, newest := history[0].Timestamp, history[0].Timestamp
	for _, e := range history[1:] {
		if e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
		if e.Timestamp.After(newest) {
			newest = e.Timestamp
		}
	}
	s.OldestTimestamp = &oldest
	s.NewestTimestamp = &newest
	s.TimeSpanHours = newest.Sub(oldest).Hours()
	return s
}

// intervention derives the urgency ladder from escalation, pattern and the
// current score against the configured thresholds. A gradually escalating
// user already past the high threshold is treated as high urgency even
// though the slope alone would only warrant moderate.
func intervention(a *Analysis, currentScore float64, thresholds config.Thresholds) Intervention {
	var urgency Urgency
	var reason string

	switch {
	case a.Pattern == PatternSpike && currentScore >= thresholds.High:
		urgency = UrgencyImmediate
		reason = "score spiked into the high band"
	case a.EscalationRate == EscalationRapid && currentScore >= thresholds.Medium:
		urgency = UrgencyImmediate
		reason = "rapid escalation with an elevated current score"
	case a.EscalationRate == EscalationRapid:
		urgency = UrgencyHigh
		reason = "rapid escalation"
	case a.Pattern == PatternExponential:
		urgency = UrgencyHigh
		reason = "accelerating trajectory"
	case a.EscalationRate == EscalationGradual && currentScore >= thresholds.High:
		urgency = UrgencyHigh
		reason = "steady escalation past the high threshold"
	case a.EscalationRate == EscalationGradual:
		urgency = UrgencyModerate
		reason = "gradual escalation"
	case a.EscalationRate == EscalationStable && currentScore >= thresholds.Low:
		urgency = UrgencyLow
		reason = "stable trajectory at an elevated score"
	default:
		urgency = UrgencyNone
		reason = "no concerning trajectory"
	}

	out := Intervention{Urgency: urgency, Reason: reason}
	switch urgency {
	case UrgencyImmediate:
		out.RecommendedPoint = "now"
	case UrgencyHigh:
		out.RecommendedPoint = "within the hour"
	case UrgencyModerate:
		out.RecommendedPoint = "within the day"
	}
	// Escalation without at least high urgency means the window is
	// already slipping.
	out.Delayed = a.EscalationDetected && urgency != UrgencyImmediate && urgency != UrgencyHigh
	if out.Delayed {
		out.Reason = fmt.Sprintf("%s; escalation already underway", reason)
	}
	return out
}
