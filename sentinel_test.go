package sentinel

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ai/sentinel/internal/alert"
	"github.com/vigil-ai/sentinel/internal/assess"
	"github.com/vigil-ai/sentinel/pkg/config"
	"github.com/vigil-ai/sentinel/provider"
	"github.com/vigil-ai/sentinel/signal"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingDispatcher) Send(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func newTestEngine(t *testing.T, backend *provider.MockBackend) *Engine {
	t.Helper()
	e, err := New(config.Default(),
		WithBackends(map[string]signal.Backend{
			"primary": backend, "sentiment": backend, "irony": backend, "emotion": backend,
		}),
		WithAlertDispatcher(&recordingDispatcher{}),
	)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

// stub wires one message's classifier outputs across all four sources.
func stub(m *provider.MockBackend, text string, preds map[string]provider.LabelScore) {
	for source, ls := range preds {
		m.Stub(source, text, ls)
	}
}

func TestScenarioClearCrisis(t *testing.T) {
	m := provider.NewMockBackend()
	text := "I don't know if I can keep going anymore"
	stub(m, text, map[string]provider.LabelScore{
		"primary":   {Label: "suicide ideation", Score: 0.89},
		"sentiment": {Label: "negative", Score: 0.75},
		"irony":     {Label: "non_irony", Score: 0.95},
		"emotion":   {Label: "sadness", Score: 0.65},
	})
	e := newTestEngine(t, m)

	a, err := e.Analyze(context.Background(), Request{Message: text})
	require.NoError(t, err)

	assert.Equal(t, assess.SeverityHigh, a.Severity)
	assert.True(t, a.CrisisDetected)
	assert.True(t, a.RequiresIntervention)
	assert.False(t, a.IsDegraded)
	assert.InDelta(t, 0.84, a.CrisisScore, 1e-9)
	assert.Len(t, a.ModelsUsed, 4)
}

func TestScenarioPositiveMessage(t *testing.T) {
	m := provider.NewMockBackend()
	text := "Having a great time!"
	stub(m, text, map[string]provider.LabelScore{
		"primary":   {Label: "casual conversation", Score: 0.92},
		"sentiment": {Label: "positive", Score: 0.90},
		"irony":     {Label: "non_irony", Score: 0.90},
		"emotion":   {Label: "joy", Score: 0.88},
	})
	e := newTestEngine(t, m)

	a, err := e.Analyze(context.Background(), Request{Message: text})
	require.NoError(t, err)

	assert.Equal(t, assess.SeveritySafe, a.Severity)
	assert.False(t, a.CrisisDetected)
	assert.Equal(t, assess.ActionNone, a.RecommendedAction)
}

func TestScenarioIronicPhrase(t *testing.T) {
	m := provider.NewMockBackend()
	text := "dying of laughter at this"
	stub(m, text, map[string]provider.LabelScore{
		"primary":   {Label: "emotional distress", Score: 0.40},
		"sentiment": {Label: "negative", Score: 0.80},
		"irony":     {Label: "irony", Score: 0.80},
		"emotion":   {Label: "amusement", Score: 0.85},
	})
	e := newTestEngine(t, m)

	a, err := e.Analyze(context.Background(), Request{Message: text})
	require.NoError(t, err)

	var kinds []string
	for _, c := range a.ConflictAnalysis.Conflicts {
		kinds = append(kinds, string(c.Kind))
	}
	assert.Contains(t, kinds, "irony_sentiment")
	assert.LessOrEqual(t, assess.Rank(a.Severity), assess.Rank(assess.SeverityLow),
		"irony suppresses: severity stays at or below low")
}

func TestScenarioDegradedPrimary(t *testing.T) {
	m := provider.NewMockBackend()
	text := "I don't know if I can keep going anymore"
	stub(m, text, map[string]provider.LabelScore{
		"sentiment": {Label: "negative", Score: 0.75},
		"irony":     {Label: "non_irony", Score: 0.95},
		"emotion":   {Label: "sadness", Score: 0.65},
	})
	// primary has no stub and no fallback: it errors.
	e := newTestEngine(t, m)

	a, err := e.Analyze(context.Background(), Request{Message: text})
	require.NoError(t, err)

	assert.True(t, a.IsDegraded)
	assert.NotContains(t, a.ModelsUsed, "primary")
	assert.Len(t, a.ModelsUsed, 3)
	// Surviving weights renormalize over ok sources only:
	// (.25*.75 + .15*.95 + .10*.65) / .5 = .79, no conflicts fire.
	assert.InDelta(t, 0.79, a.CrisisScore, 1e-9)
	assert.Equal(t, assess.SeverityHigh, a.Severity)
	assert.Contains(t, a.Explanation.DecisionSummary, "primary")
}

func TestScenarioEscalatingHistory(t *testing.T) {
	m := provider.NewMockBackend()
	text := "I don't know if I can keep going anymore"
	stub(m, text, map[string]provider.LabelScore{
		"primary":   {Label: "suicide ideation", Score: 0.89},
		"sentiment": {Label: "negative", Score: 0.75},
		"irony":     {Label: "non_irony", Score: 0.95},
		"emotion":   {Label: "sadness", Score: 0.65},
	})
	e := newTestEngine(t, m)

	now := time.Now()
	history := []HistoryEntry{
		{Timestamp: now.Add(-2 * time.Hour).Format(time.RFC3339), CrisisScore: 0.2, Severity: "safe"},
		{Timestamp: now.Add(-1 * time.Hour).Format(time.RFC3339), CrisisScore: 0.45, Severity: "low"},
		{Timestamp: now.Add(-30 * time.Second).Format(time.RFC3339), CrisisScore: 0.7, Severity: "high"},
	}

	a, err := e.Analyze(context.Background(), Request{Message: text, MessageHistory: history})
	require.NoError(t, err)

	require.NotNil(t, a.ContextAnalysis)
	assert.Equal(t, "gradual", a.ContextAnalysis.EscalationRate)
	assert.Equal(t, "escalating", a.ContextAnalysis.Trend.Direction)
	assert.Equal(t, "high", a.ContextAnalysis.Intervention.Urgency)
	assert.Equal(t, 3, a.ContextAnalysis.HistoryAnalyzed.MessageCount)
}

func TestScenarioFigurativeKilling(t *testing.T) {
	m := provider.NewMockBackend()
	text := "This exam is killing me"
	stub(m, text, map[string]provider.LabelScore{
		"primary":   {Label: "emotional distress", Score: 0.85},
		"sentiment": {Label: "negative", Score: 0.80},
		"irony":     {Label: "irony", Score: 0.90}, // crisis signal 0.10
		"emotion":   {Label: "sadness", Score: 0.70},
	})
	e := newTestEngine(t, m)

	a, err := e.Analyze(context.Background(), Request{Message: text})
	require.NoError(t, err)

	var kinds []string
	for _, c := range a.ConflictAnalysis.Conflicts {
		kinds = append(kinds, string(c.Kind))
	}
	assert.Contains(t, kinds, "irony_sentiment")
	assert.GreaterOrEqual(t, a.CrisisScore, a.Consensus.CrisisScore,
		"conservative resolution never lowers the consensus score")
}

func TestAnalyzeInvalidInput(t *testing.T) {
	e := newTestEngine(t, provider.NewSeededMockBackend())

	tests := []struct {
		name string
		req  Request
	}{
		{"empty", Request{Message: ""}},
		{"whitespace_only", Request{Message: "   \n\t "}},
		{"too_long", Request{Message: strings.Repeat("a", MaxMessageLength+1)}},
		{"bad_history_timestamp", Request{
			Message:        "hello",
			MessageHistory: []HistoryEntry{{Timestamp: "yesterday-ish", CrisisScore: 0.4}},
		}},
		{"bad_algorithm", Request{Message: "hello", Options: &Options{Algorithm: "quantum"}}},
		{"bad_policy", Request{Message: "hello", Options: &Options{ResolutionPolicy: "vibes"}}},
		{"bad_verbosity", Request{Message: "hello", Options: &Options{Verbosity: "chatty"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Analyze(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestAnalyzeAllSourcesDownIsSafeDegraded(t *testing.T) {
	m := provider.NewMockBackend()
	m.SetAvailable(false)
	e := newTestEngine(t, m)

	a, err := e.Analyze(context.Background(), Request{Message: "hello there"})
	require.NoError(t, err)

	assert.True(t, a.IsDegraded)
	assert.False(t, a.CrisisDetected)
	assert.Equal(t, assess.SeveritySafe, a.Severity)
	assert.Empty(t, a.ModelsUsed)
}

func TestAnalyzeDeterministic(t *testing.T) {
	e := newTestEngine(t, provider.NewSeededMockBackend())
	req := Request{Message: "I feel hopeless and alone", Options: &Options{Verbosity: "detailed"}}

	first, err := e.Analyze(context.Background(), req)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		next, err := e.Analyze(context.Background(), req)
		require.NoError(t, err)

		// Identical modulo processing time, request id and timestamp.
		next.ProcessingTimeMs = first.ProcessingTimeMs
		next.RequestID = first.RequestID
		next.Timestamp = first.Timestamp
		assert.Equal(t, first, next)
	}
}

func TestAnalyzeResponseInvariants(t *testing.T) {
	e := newTestEngine(t, provider.NewSeededMockBackend())

	messages := []string{
		"I can't keep going anymore",
		"Having a great time!",
		"dying of laughter at this",
		"what's the homework for tomorrow",
		"I feel hopeless",
	}

	for _, msg := range messages {
		a, err := e.Analyze(context.Background(), Request{Message: msg})
		require.NoError(t, err)

		assert.GreaterOrEqual(t, a.CrisisScore, 0.0, msg)
		assert.LessOrEqual(t, a.CrisisScore, 1.0, msg)
		assert.GreaterOrEqual(t, a.Confidence, 0.0, msg)
		assert.LessOrEqual(t, a.Confidence, 1.0, msg)

		expected := assess.SeverityFromScore(a.CrisisScore, e.Config().Thresholds)
		assert.Equal(t, expected, a.Severity, msg)
		assert.Equal(t, assess.RequiresIntervention(a.Severity), a.RequiresIntervention, msg)
		assert.Equal(t, assess.CrisisDetected(a.Severity, "medium"), a.CrisisDetected, msg)

		assert.Equal(t, len(a.ModelsUsed), len(a.Signals), msg)
		for source, rep := range a.Signals {
			assert.Contains(t, []string{"primary", "sentiment", "irony", "emotion"}, source)
			assert.NotEmpty(t, rep.Label, msg)
			assert.GreaterOrEqual(t, rep.CrisisSignal, 0.0, msg)
			assert.LessOrEqual(t, rep.CrisisSignal, 1.0, msg)
		}
		assert.Equal(t, len(a.ModelsUsed) < 4, a.IsDegraded, msg)
		assert.NotEmpty(t, a.RequestID, msg)
	}
}

func TestAnalyzeEchoesRequestID(t *testing.T) {
	e := newTestEngine(t, provider.NewSeededMockBackend())

	a, err := e.Analyze(context.Background(), Request{
		Message:  "hello",
		Metadata: map[string]any{"request_id": "caller-42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "caller-42", a.RequestID)
}

func TestContextAdditivity(t *testing.T) {
	// Without history the response carries no context analysis.
	e := newTestEngine(t, provider.NewSeededMockBackend())

	a, err := e.Analyze(context.Background(), Request{Message: "I feel hopeless"})
	require.NoError(t, err)
	assert.Nil(t, a.ContextAnalysis)
}

func TestAnalyzeBatch(t *testing.T) {
	e := newTestEngine(t, provider.NewSeededMockBackend())

	messages := []string{
		"I can't keep going anymore",
		"Having a great time!",
		"so happy for you",
	}

	res, err := e.AnalyzeBatch(context.Background(), messages, true)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 1, res.CrisisCount)
	require.Len(t, res.Items, 3)
	for i, item := range res.Items {
		assert.Equal(t, i, item.Index)
		require.NotNil(t, item.Assessment)
	}
	assert.NotEqual(t, "safe", res.HighestSeverity)

	// Summary-only when details are off.
	res, err = e.AnalyzeBatch(context.Background(), messages, false)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, 3, res.Count)
}

func TestAnalyzeBatchEmpty(t *testing.T) {
	e := newTestEngine(t, provider.NewSeededMockBackend())
	_, err := e.AnalyzeBatch(context.Background(), nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReloadConfig(t *testing.T) {
	e := newTestEngine(t, provider.NewSeededMockBackend())

	// Invalid config is rejected; the active one survives.
	bad := config.Default()
	bad.Thresholds.Low = 0
	require.Error(t, e.ReloadConfig(bad))
	assert.Equal(t, "weighted", e.Config().Algorithm)

	good := config.Default()
	good.Algorithm = "majority"
	require.NoError(t, e.ReloadConfig(good))
	assert.Equal(t, "majority", e.Config().Algorithm)

	// The engine still answers after the swap.
	a, err := e.Analyze(context.Background(), Request{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "majority", a.Consensus.Algorithm)
}

func TestAnalyzeAlertDispatch(t *testing.T) {
	m := provider.NewMockBackend()
	text := "I want to end it all"
	stub(m, text, map[string]provider.LabelScore{
		"primary":   {Label: "suicide ideation", Score: 0.95},
		"sentiment": {Label: "negative", Score: 0.9},
		"irony":     {Label: "non_irony", Score: 0.95},
		"emotion":   {Label: "grief", Score: 0.85},
	})

	rec := &recordingDispatcher{}
	e, err := New(config.Default(),
		WithBackends(map[string]signal.Backend{
			"primary": m, "sentiment": m, "irony": m, "emotion": m,
		}),
		WithAlertDispatcher(rec),
	)
	require.NoError(t, err)

	a, err := e.Analyze(context.Background(), Request{Message: text, UserID: "user-7"})
	require.NoError(t, err)
	require.True(t, a.RequiresIntervention)

	e.Close() // waits for async dispatch

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, "user-7", rec.alerts[0].UserID)
	assert.Equal(t, a.Severity, rec.alerts[0].Severity)
}

func TestAssessmentSerializes(t *testing.T) {
	e := newTestEngine(t, provider.NewSeededMockBackend())

	a, err := e.Analyze(context.Background(), Request{Message: "I feel hopeless"})
	require.NoError(t, err)

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"crisis_detected"`)
	assert.Contains(t, string(raw), `"models_used"`)
}
