package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ai/sentinel/internal/consensus"
	"github.com/vigil-ai/sentinel/signal"
)

func sig(source, label string, crisis float64) signal.CrisisSignal {
	return signal.CrisisSignal{
		Source:      source,
		RawLabel:    label,
		RawScore:    crisis,
		CrisisScore: crisis,
		Status:      signal.StatusOK,
	}
}

func TestDetectScoreDisagreement(t *testing.T) {
	tests := []struct {
		name     string
		signals  []signal.CrisisSignal
		want     bool
		loSource string
		hiSource string
	}{
		{
			name: "gap_at_threshold_fires",
			signals: []signal.CrisisSignal{
				sig("primary", "emotional distress", 0.8),
				sig("irony", "non_irony", 0.4),
			},
			want:     true,
			loSource: "irony",
			hiSource: "primary",
		},
		{
			name: "gap_below_threshold_quiet",
			signals: []signal.CrisisSignal{
				sig("primary", "emotional distress", 0.8),
				sig("sentiment", "negative", 0.45),
			},
			want: false,
		},
		{
			name: "single_signal_quiet",
			signals: []signal.CrisisSignal{
				sig("primary", "emotional distress", 0.9),
			},
			want: false,
		},
		{
			name: "failed_signal_excluded",
			signals: []signal.CrisisSignal{
				sig("primary", "emotional distress", 0.8),
				{Source: "irony", CrisisScore: 0.1, Status: signal.StatusTimeout},
				sig("sentiment", "negative", 0.7),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := Detect(signal.Set{Signals: tt.signals})
			var found *Record
			for i := range records {
				if records[i].Kind == ScoreDisagreement {
					found = &records[i]
				}
			}
			if !tt.want {
				assert.Nil(t, found)
				return
			}
			require.NotNil(t, found)
			assert.Equal(t, SeverityHigh, found.Severity)
			assert.Equal(t, []string{tt.loSource, tt.hiSource}, found.Participants)
		})
	}
}

func TestDetectIronySentiment(t *testing.T) {
	// "dying of laughter at this": irony suppressed, sentiment strongly
	// negative.
	set := signal.Set{Signals: []signal.CrisisSignal{
		sig("primary", "emotional distress", 0.40),
		sig("sentiment", "negative", 0.80),
		sig("irony", "irony", 0.20),
		sig("emotion", "amusement", 0.15),
	}}

	records := Detect(set)
	var found bool
	for _, r := range records {
		if r.Kind == IronySentiment {
			found = true
			assert.Equal(t, SeverityMedium, r.Severity)
			assert.ElementsMatch(t, []string{"irony", "sentiment"}, r.Participants)
		}
	}
	assert.True(t, found, "irony_sentiment should fire")
}

func TestDetectIronySentimentQuietWhenSincere(t *testing.T) {
	set := signal.Set{Signals: []signal.CrisisSignal{
		sig("sentiment", "negative", 0.80),
		sig("irony", "non_irony", 0.95),
	}}
	for _, r := range Detect(set) {
		assert.NotEqual(t, IronySentiment, r.Kind)
	}
}

func TestDetectEmotionMismatch(t *testing.T) {
	set := signal.Set{Signals: []signal.CrisisSignal{
		sig("primary", "emotional distress", 0.75),
		sig("sentiment", "negative", 0.70),
		sig("emotion", "joy", 0.12),
		sig("irony", "non_irony", 0.80),
	}}

	records := Detect(set)
	var found bool
	for _, r := range records {
		if r.Kind == EmotionMismatch {
			found = true
			assert.Equal(t, SeverityMedium, r.Severity)
		}
	}
	assert.True(t, found)
}

func TestDetectLabelDisagreement(t *testing.T) {
	t.Run("safe_primary_against_crisis_aux", func(t *testing.T) {
		set := signal.Set{Signals: []signal.CrisisSignal{
			sig("primary", "casual conversation", 0.35),
			sig("sentiment", "negative", 0.8),
			sig("emotion", "sadness", 0.7),
		}}
		records := Detect(set)
		var found bool
		for _, r := range records {
			if r.Kind == LabelDisagreement {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("split_aux_implies_nothing", func(t *testing.T) {
		set := signal.Set{Signals: []signal.CrisisSignal{
			sig("primary", "casual conversation", 0.2),
			sig("sentiment", "negative", 0.8),
			sig("emotion", "joy", 0.1),
		}}
		for _, r := range Detect(set) {
			assert.NotEqual(t, LabelDisagreement, r.Kind)
		}
	})
}

func TestDetectOrderIsStable(t *testing.T) {
	// Both score_disagreement and irony_sentiment fire; detector order is
	// part of the contract.
	set := signal.Set{Signals: []signal.CrisisSignal{
		sig("primary", "emotional distress", 0.40),
		sig("sentiment", "negative", 0.80),
		sig("irony", "irony", 0.20),
		sig("emotion", "amusement", 0.15),
	}}

	first := Detect(set)
	require.NotEmpty(t, first)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Detect(set))
	}
	assert.Equal(t, ScoreDisagreement, first[0].Kind)
}

func TestHighestSeverity(t *testing.T) {
	assert.Equal(t, Severity(""), HighestSeverity(nil))
	assert.Equal(t, SeverityHigh, HighestSeverity([]Record{
		{Severity: SeverityMedium}, {Severity: SeverityHigh}, {Severity: SeverityLow},
	}))
	assert.Equal(t, SeverityMedium, HighestSeverity([]Record{{Severity: SeverityMedium}}))
}

func TestResolveNoConflictsPassesThrough(t *testing.T) {
	set := signal.Set{Signals: []signal.CrisisSignal{
		sig("primary", "emotional distress", 0.9),
		sig("sentiment", "negative", 0.6),
	}}
	res := consensus.Result{RawScore: 0.75}

	for _, policy := range []Policy{Conservative, Optimistic, Mean, ReviewFlag} {
		out, err := Resolve(res, nil, set, policy)
		require.NoError(t, err)
		assert.InDelta(t, 0.75, out.FinalScore, 1e-9, "policy %s", policy)
		assert.False(t, out.RequiresReview, "policy %s", policy)
	}
}

func TestResolvePolicies(t *testing.T) {
	set := signal.Set{Signals: []signal.CrisisSignal{
		sig("primary", "emotional distress", 0.9),
		sig("sentiment", "negative", 0.6),
		sig("irony", "non_irony", 0.3),
	}}
	res := consensus.Result{RawScore: 0.7}
	records := []Record{{Kind: ScoreDisagreement, Severity: SeverityHigh}}

	tests := []struct {
		policy     Policy
		wantScore  float64
		wantReview bool
	}{
		{Conservative, 0.9, true},
		{Optimistic, 0.3, false},
		{Mean, 0.6, false},
		{ReviewFlag, 0.9, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			out, err := Resolve(res, records, set, tt.policy)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantScore, out.FinalScore, 1e-9)
			assert.Equal(t, tt.wantReview, out.RequiresReview)
			assert.InDelta(t, 0.7, out.OriginalScore, 1e-9)
			assert.Equal(t, 1, out.ConflictCount)
			assert.Equal(t, SeverityHigh, out.HighestSeverity)
		})
	}
}

func TestResolveConservativeKeepsSafeDirection(t *testing.T) {
	// A cheerful message where only the irony transform reads high: the
	// contrarian signal must not flip a safe consensus to critical.
	set := signal.Set{Signals: []signal.CrisisSignal{
		sig("primary", "casual conversation", 0.08),
		sig("sentiment", "positive", 0.10),
		sig("irony", "non_irony", 0.90),
		sig("emotion", "joy", 0.12),
	}}
	res := consensus.Result{RawScore: 0.212}
	records := []Record{{Kind: ScoreDisagreement, Severity: SeverityHigh}}

	out, err := Resolve(res, records, set, Conservative)
	require.NoError(t, err)
	assert.InDelta(t, 0.212, out.FinalScore, 1e-9)
	assert.GreaterOrEqual(t, out.FinalScore, res.RawScore)
}

func TestResolveConservativeReviewOnlyOnHigh(t *testing.T) {
	set := signal.Set{Signals: []signal.CrisisSignal{
		sig("primary", "emotional distress", 0.8),
		sig("sentiment", "negative", 0.7),
	}}
	res := consensus.Result{RawScore: 0.75}
	records := []Record{{Kind: IronySentiment, Severity: SeverityMedium}}

	out, err := Resolve(res, records, set, Conservative)
	require.NoError(t, err)
	assert.False(t, out.RequiresReview)

	// review_flag flags on any conflict.
	out, err = Resolve(res, records, set, ReviewFlag)
	require.NoError(t, err)
	assert.True(t, out.RequiresReview)
}

func TestResolveUnknownPolicy(t *testing.T) {
	set := signal.Set{Signals: []signal.CrisisSignal{sig("primary", "x", 0.5)}}
	_, err := Resolve(consensus.Result{RawScore: 0.5}, []Record{{}}, set, Policy("vibes"))
	require.Error(t, err)
}
