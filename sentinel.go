// Package sentinel is a stateless ensemble engine that classifies short
// messages as graded crisis signals. Four independent classifiers are
// fanned out in parallel, fused by a selectable consensus algorithm,
// checked for semantic disagreement, and folded into an explainable
// assessment with optional temporal analysis over caller-supplied history.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vigil-ai/sentinel/internal/alert"
	"github.com/vigil-ai/sentinel/internal/assess"
	"github.com/vigil-ai/sentinel/internal/conflict"
	"github.com/vigil-ai/sentinel/internal/consensus"
	"github.com/vigil-ai/sentinel/internal/contextual"
	"github.com/vigil-ai/sentinel/internal/dispatch"
	"github.com/vigil-ai/sentinel/internal/observability"
	"github.com/vigil-ai/sentinel/pkg/config"
	metrics "github.com/vigil-ai/sentinel/pkg/observability"
	"github.com/vigil-ai/sentinel/provider"
	"github.com/vigil-ai/sentinel/signal"
	"github.com/vigil-ai/sentinel/sources"
)

// ErrInvalidInput marks requests rejected before any source is invoked.
var ErrInvalidInput = errors.New("invalid input")

// MaxMessageLength bounds the analyzed message after trimming.
const MaxMessageLength = 10000

// HistoryEntry is one prior-message summary supplied by the caller. The
// engine never re-scores historical text.
type HistoryEntry struct {
	Timestamp   string  `json:"timestamp"`
	CrisisScore float64 `json:"crisis_score"`
	Severity    string  `json:"severity"`
}

// Options are per-request overrides of the configured defaults.
type Options struct {
	Verbosity        string `json:"verbosity,omitempty"`
	Algorithm        string `json:"algorithm,omitempty"`
	ResolutionPolicy string `json:"resolution_policy,omitempty"`
}

// Request is one message to assess.
type Request struct {
	Message        string         `json:"message"`
	UserID         string         `json:"user_id,omitempty"`
	ChannelID      string         `json:"channel_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	MessageHistory []HistoryEntry `json:"message_history,omitempty"`
	Options        *Options       `json:"options,omitempty"`
}

// Engine fuses the signal sources into crisis assessments. Safe for
// concurrent use; per-request state never crosses requests, and the
// configuration snapshot is captured at request entry.
type Engine struct {
	holder *config.Holder

	mu   sync.RWMutex
	srcs []signal.Source

	// backendOverrides from construction are honored across reloads.
	backendOverrides map[string]signal.Backend

	sink *alert.Sink
	now  func() time.Time
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	backends   map[string]signal.Backend
	dispatcher alert.Dispatcher
	clock      func() time.Time
}

// WithBackends overrides the classifier backend per source name. Test and
// embedding hook; unset sources fall back to their configured backend.
func WithBackends(backends map[string]signal.Backend) Option {
	return func(o *engineOptions) { o.backends = backends }
}

// WithAlertDispatcher overrides the alert delivery path.
func WithAlertDispatcher(d alert.Dispatcher) Option {
	return func(o *engineOptions) { o.dispatcher = d }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.clock = now }
}

// New constructs an Engine from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var eo engineOptions
	for _, opt := range opts {
		opt(&eo)
	}

	srcs, err := buildSources(cfg, eo.backends)
	if err != nil {
		return nil, err
	}

	dispatcher := eo.dispatcher
	if dispatcher == nil {
		if cfg.Alerts.Webhook != "" {
			dispatcher = alert.NewWebhookDispatcher(cfg.Alerts.Webhook)
		} else {
			dispatcher = alert.LogDispatcher{}
		}
	}

	var store alert.CooldownStore
	if cfg.Alerts.RedisAddr != "" {
		store = alert.NewRedisStore(cfg.Alerts.RedisAddr)
	} else {
		store = alert.NewShardedStore()
	}

	e := &Engine{
		holder:           config.NewHolder(cfg),
		srcs:             srcs,
		backendOverrides: eo.backends,
		sink:             alert.NewSink(store, dispatcher, cfg.Alerts),
		now:              time.Now,
	}
	if eo.clock != nil {
		e.now = eo.clock
	}
	e.sink.StartSweeper()
	return e, nil
}

// Close stops background work and waits for in-flight alert dispatches.
func (e *Engine) Close() {
	e.sink.Close()
}

// Analyze runs the full pipeline for one request. Per-source failures
// degrade the response rather than failing it; only invalid input and
// unknown option values return an error.
func (e *Engine) Analyze(ctx context.Context, req Request) (*assess.CrisisAssessment, error) {
	start := e.now()

	cfg := e.holder.Current()
	e.mu.RLock()
	srcs := e.srcs
	e.mu.RUnlock()

	message, history, opts, err := e.validate(req, cfg)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "engine.analyze",
		trace.WithAttributes(
			attribute.Int("request.message_length", len(message)),
			attribute.Int("request.history_length", len(history)),
			attribute.String("request.algorithm", opts.Algorithm),
		),
	)
	defer span.End()

	requestID := e.requestID(req)
	timestamp := e.now()

	set, dispatchErr := dispatch.New(cfg.RequestTimeout).Dispatch(ctx, message, srcs)
	for _, sig := range set.Signals {
		metrics.RecordSourceCall(sig.Source, string(sig.Status), sig.Latency)
	}

	if dispatchErr != nil {
		if errors.Is(dispatchErr, dispatch.ErrNoUsableSignals) {
			a := assess.Degraded(set, cfg, requestID, timestamp, e.sinceMs(start), opts.Verbosity)
			metrics.RecordAnalysis(string(a.Severity), true, e.now().Sub(start))
			return a, nil
		}
		return nil, dispatchErr
	}

	conflicts := conflict.Detect(set)
	for _, c := range conflicts {
		metrics.RecordConflict(string(c.Kind))
	}

	consensusRes, err := consensus.Compute(set, consensus.Weights(weightsOf(cfg)), consensus.Algorithm(opts.Algorithm))
	if err != nil {
		return nil, err
	}
	if consensus.Algorithm(opts.Algorithm) == consensus.ConflictAware && conflict.HasHighSeverity(conflicts) {
		consensusRes = consensus.ShiftTowardPessimistic(consensusRes, set)
	}
	metrics.RecordAgreement(string(consensusRes.Agreement))

	resolution, err := conflict.Resolve(consensusRes, conflicts, set, conflict.Policy(opts.ResolutionPolicy))
	if err != nil {
		return nil, err
	}

	finalScore := resolution.FinalScore
	var contextAnalysis *contextual.Analysis
	if len(history) > 0 {
		contextAnalysis = contextual.Analyze(history, finalScore, timestamp, cfg.Thresholds)
		finalScore = signal.ClampUnit(finalScore * contextAnalysis.Modifier())
	}

	enabled := cfg.EnabledSources()
	degraded := len(set.OK()) < len(enabled)

	a := assess.Assemble(assess.Input{
		Set:              set,
		Consensus:        consensusRes,
		Conflicts:        conflicts,
		Resolution:       resolution,
		Context:          contextAnalysis,
		FinalScore:       finalScore,
		Config:           cfg,
		Degraded:         degraded,
		RequestID:        requestID,
		Timestamp:        timestamp,
		ProcessingTimeMs: e.sinceMs(start),
		Verbosity:        opts.Verbosity,
	})

	span.SetAttributes(
		attribute.String("assessment.severity", string(a.Severity)),
		attribute.Float64("assessment.crisis_score", a.CrisisScore),
		attribute.Bool("assessment.degraded", a.IsDegraded),
	)
	metrics.RecordAnalysis(string(a.Severity), a.IsDegraded, e.now().Sub(start))

	e.sink.Consider(ctx, req.UserID, req.ChannelID, a)
	return a, nil
}

// BatchItem is one message's slot in a batch result.
type BatchItem struct {
	Index      int                      `json:"index"`
	Assessment *assess.CrisisAssessment `json:"assessment,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// BatchResult summarizes a batch analysis.
type BatchResult struct {
	Count            int                  `json:"count"`
	CrisisCount      int                  `json:"crisis_count"`
	SeverityCounts   map[string]int       `json:"severity_counts"`
	HighestSeverity  string               `json:"highest_severity"`
	Items            []BatchItem          `json:"items,omitempty"`
	ProcessingTimeMs float64              `json:"processing_time_ms"`
}

// batchConcurrency bounds parallel batch analysis so one large batch
// cannot monopolize the source backends.
const batchConcurrency = 8

// AnalyzeBatch assesses each message independently with the configured
// defaults. includeDetails keeps the full per-message assessments in the
// result; otherwise only the summary is returned.
func (e *Engine) AnalyzeBatch(ctx context.Context, messages []string, includeDetails bool) (*BatchResult, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: batch must contain at least one message", ErrInvalidInput)
	}

	start := e.now()
	items := make([]BatchItem, len(messages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, msg := range messages {
		g.Go(func() error {
			a, err := e.Analyze(gctx, Request{Message: msg})
			if err != nil {
				items[i] = BatchItem{Index: i, Error: err.Error()}
				return nil
			}
			items[i] = BatchItem{Index: i, Assessment: a}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &BatchResult{
		Count:            len(messages),
		SeverityCounts:   make(map[string]int),
		HighestSeverity:  string(assess.SeveritySafe),
		ProcessingTimeMs: e.sinceMs(start),
	}
	worst := assess.SeveritySafe
	for _, item := range items {
		if item.Assessment == nil {
			continue
		}
		sev := item.Assessment.Severity
		res.SeverityCounts[string(sev)]++
		if item.Assessment.CrisisDetected {
			res.CrisisCount++
		}
		if assess.Rank(sev) > assess.Rank(worst) {
			worst = sev
		}
	}
	res.HighestSeverity = string(worst)
	if includeDetails {
		res.Items = items
	}
	return res, nil
}

// ReloadConfig atomically swaps the active configuration. In-flight
// requests keep the snapshot they captured; an invalid config is rejected
// and the previous one stays active.
func (e *Engine) ReloadConfig(cfg *config.Config) error {
	srcs, err := buildSources(cfg, e.backendOverrides)
	if err != nil {
		metrics.RecordConfigReload(false)
		return fmt.Errorf("config rejected: %w", err)
	}
	if err := e.holder.Replace(cfg); err != nil {
		metrics.RecordConfigReload(false)
		return err
	}

	e.mu.Lock()
	e.srcs = srcs
	e.mu.Unlock()
	metrics.RecordConfigReload(true)
	return nil
}

// Config returns the active configuration snapshot.
func (e *Engine) Config() *config.Config {
	return e.holder.Current()
}

// validate rejects malformed requests before any source is invoked and
// resolves the per-request option overrides.
func (e *Engine) validate(req Request, cfg *config.Config) (string, []contextual.Entry, Options, error) {
	opts := Options{
		Verbosity:        cfg.Verbosity,
		Algorithm:        cfg.Algorithm,
		ResolutionPolicy: cfg.ResolutionPolicy,
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return "", nil, opts, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	if len(message) > MaxMessageLength {
		return "", nil, opts, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, MaxMessageLength)
	}

	if req.Options != nil {
		if v := req.Options.Verbosity; v != "" {
			switch v {
			case "minimal", "standard", "detailed":
				opts.Verbosity = v
			default:
				return "", nil, opts, fmt.Errorf("%w: unknown verbosity %q", ErrInvalidInput, v)
			}
		}
		if v := req.Options.Algorithm; v != "" {
			switch consensus.Algorithm(v) {
			case consensus.Weighted, consensus.Majority, consensus.Unanimous, consensus.ConflictAware:
				opts.Algorithm = v
			default:
				return "", nil, opts, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidInput, v)
			}
		}
		if v := req.Options.ResolutionPolicy; v != "" {
			switch conflict.Policy(v) {
			case conflict.Conservative, conflict.Optimistic, conflict.Mean, conflict.ReviewFlag:
				opts.ResolutionPolicy = v
			default:
				return "", nil, opts, fmt.Errorf("%w: unknown resolution policy %q", ErrInvalidInput, v)
			}
		}
	}

	history := make([]contextual.Entry, 0, len(req.MessageHistory))
	for i, h := range req.MessageHistory {
		ts, err := time.Parse(time.RFC3339, h.Timestamp)
		if err != nil {
			return "", nil, opts, fmt.Errorf("%w: history[%d] has malformed timestamp %q", ErrInvalidInput, i, h.Timestamp)
		}
		history = append(history, contextual.Entry{
			Timestamp:   ts,
			CrisisScore: signal.ClampUnit(h.CrisisScore),
			Severity:    h.Severity,
		})
	}

	return message, history, opts, nil
}

// requestID echoes a caller-supplied id from metadata or generates one.
func (e *Engine) requestID(req Request) string {
	if id, ok := req.Metadata["request_id"].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func (e *Engine) sinceMs(start time.Time) float64 {
	return float64(e.now().Sub(start).Microseconds()) / 1000.0
}

func weightsOf(cfg *config.Config) map[string]float64 {
	out := make(map[string]float64, len(cfg.Sources))
	for name := range cfg.Sources {
		out[name] = cfg.Weight(name)
	}
	return out
}

// buildSources constructs the enabled sources in registry order, wiring
// each to its configured backend (or an override).
func buildSources(cfg *config.Config, overrides map[string]signal.Backend) ([]signal.Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var seeded *provider.MockBackend
	srcs := make([]signal.Source, 0, len(cfg.Sources))
	for _, name := range cfg.EnabledSources() {
		sc := cfg.Sources[name]

		backend, ok := overrides[name]
		if !ok {
			var err error
			backend, err = buildBackend(name, sc, &seeded)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", name, err)
			}
		}

		src, err := signal.New(name, signal.SourceSettings{Model: sc.Model, Backend: backend})
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, src)
	}
	return srcs, nil
}

func buildBackend(name string, sc config.SourceConfig, seeded **provider.MockBackend) (signal.Backend, error) {
	switch sc.Backend {
	case "", "mock":
		if *seeded == nil {
			*seeded = provider.NewSeededMockBackend()
		}
		return *seeded, nil
	case "http":
		if sc.Endpoint == "" {
			return nil, fmt.Errorf("http backend requires an endpoint")
		}
		return provider.NewHTTPBackend(sc.Endpoint, sc.APIKey), nil
	case "openai":
		model := sc.Model
		if model == "" {
			model = name
		}
		return provider.NewOpenAIBackend(sc.Endpoint, sc.APIKey,
			map[string][]string{model: sources.LabelSet(name)}), nil
	case "bedrock":
		if sc.Region == "" {
			return nil, fmt.Errorf("bedrock backend requires a region")
		}
		model := sc.Model
		if model == "" {
			return nil, fmt.Errorf("bedrock backend requires a model id")
		}
		return provider.NewBedrockBackend(context.Background(), sc.Region, "",
			map[string][]string{model: sources.LabelSet(name)})
	default:
		return nil, fmt.Errorf("unknown backend %q", sc.Backend)
	}
}
