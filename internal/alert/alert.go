// Package alert dispatches debounced notifications for high-severity
// assessments and detected escalations. Dispatch is fire-and-forget:
// failures are logged and never surface into the response path.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vigil-ai/sentinel/internal/assess"
	"github.com/vigil-ai/sentinel/pkg/config"
	metrics "github.com/vigil-ai/sentinel/pkg/observability"
)

// Kind distinguishes severity alerts from escalation alerts, which carry
// their own shorter cooldown.
type Kind string

const (
	KindSeverity   Kind = "severity"
	KindEscalation Kind = "escalation"
)

// Alert is the payload handed to the dispatcher.
type Alert struct {
	Kind        Kind            `json:"kind"`
	UserID      string          `json:"user_id,omitempty"`
	ChannelID   string          `json:"channel_id,omitempty"`
	Severity    assess.Severity `json:"severity"`
	CrisisScore float64         `json:"crisis_score"`
	RequestID   string          `json:"request_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Summary     string          `json:"summary"`
}

// ErrBackPressured is returned by dispatchers that drop on overload.
var ErrBackPressured = errors.New("alert dispatcher back-pressured")

// Dispatcher delivers alerts. The Sink calls Send on its own goroutine, so
// delivery never blocks the request that raised the alert.
type Dispatcher interface {
	Send(ctx context.Context, a Alert) error
}

// Sink decides whether an assessment warrants an alert, debounces per
// (user, class) key, and dispatches asynchronously.
type Sink struct {
	store      CooldownStore
	dispatcher Dispatcher
	cooldowns  config.AlertConfig

	wg      sync.WaitGroup
	sweeper *cron.Cron
	now     func() time.Time
}

// NewSink creates a Sink over the given store and dispatcher.
func NewSink(store CooldownStore, dispatcher Dispatcher, cooldowns config.AlertConfig) *Sink {
	return &Sink{
		store:      store,
		dispatcher: dispatcher,
		cooldowns:  cooldowns,
		now:        time.Now,
	}
}

// StartSweeper schedules periodic eviction of expired cooldown entries so
// the in-memory table stays bounded under churn. No-op for stores without
// anything to sweep.
func (s *Sink) StartSweeper() {
	sw, ok := s.store.(interface{ Sweep(now time.Time) })
	if !ok {
		return
	}
	s.sweeper = cron.New()
	_, err := s.sweeper.AddFunc("@every 5m", func() { sw.Sweep(s.now()) })
	if err != nil {
		log.Printf("[alert] sweeper schedule failed: %v", err)
		return
	}
	s.sweeper.Start()
}

// Consider inspects a finished assessment and dispatches any warranted
// alerts in the background. A cancelled request context suppresses
// dispatch entirely.
func (s *Sink) Consider(ctx context.Context, userID, channelID string, a *assess.CrisisAssessment) {
	if ctx.Err() != nil {
		return
	}

	if assess.RequiresIntervention(a.Severity) {
		s.dispatch(Alert{
			Kind:        KindSeverity,
			UserID:      userID,
			ChannelID:   channelID,
			Severity:    a.Severity,
			CrisisScore: a.CrisisScore,
			RequestID:   a.RequestID,
			Timestamp:   a.Timestamp,
			Summary:     a.Explanation.DecisionSummary,
		}, s.cooldowns.Cooldown)
	}

	if a.ContextAnalysis != nil && a.ContextAnalysis.EscalationDetected {
		s.dispatch(Alert{
			Kind:        KindEscalation,
			UserID:      userID,
			ChannelID:   channelID,
			Severity:    a.Severity,
			CrisisScore: a.CrisisScore,
			RequestID:   a.RequestID,
			Timestamp:   a.Timestamp,
			Summary: fmt.Sprintf("escalation detected (%s, urgency %s)",
				a.ContextAnalysis.EscalationRate, a.ContextAnalysis.Intervention.Urgency),
		}, s.cooldowns.EscalationCooldown)
	}
}

// dispatch applies the debounce and hands off to the dispatcher on a
// detached context so caller completion never cancels delivery mid-flight.
func (s *Sink) dispatch(a Alert, cooldown time.Duration) {
	key := fmt.Sprintf("%s|%s|%s", a.Kind, a.UserID, severityClass(a))

	allowed, err := s.store.Allow(context.Background(), key, cooldown)
	if err != nil {
		// A broken store must not silence alerts; fail open and log.
		log.Printf("[alert] cooldown store error for %s: %v", key, err)
		allowed = true
	}
	if !allowed {
		return
	}

	metrics.RecordAlert(string(a.Kind))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.dispatcher.Send(ctx, a); err != nil {
			log.Printf("[alert] dispatch failed for %s: %v", key, err)
		}
	}()
}

// severityClass buckets severities for debounce keys: interventions share
// a class, everything else is keyed by its own severity.
func severityClass(a Alert) string {
	if a.Kind == KindEscalation {
		return "escalation"
	}
	if assess.RequiresIntervention(a.Severity) {
		return "intervention"
	}
	return string(a.Severity)
}

// Close stops the sweeper and waits for in-flight dispatches.
func (s *Sink) Close() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	s.wg.Wait()
}

// LogDispatcher writes alerts to the process log. The default when no
// webhook is configured.
type LogDispatcher struct{}

// Send logs the alert.
func (LogDispatcher) Send(_ context.Context, a Alert) error {
	log.Printf("[ALERT] %s | user=%s severity=%s score=%.2f | %s",
		a.Kind, a.UserID, a.Severity, a.CrisisScore, a.Summary)
	return nil
}

// WebhookDispatcher POSTs alerts to a configured URL, dropping on
// back-pressure rather than queueing unboundedly.
type WebhookDispatcher struct {
	url        string
	httpClient *http.Client
	sem        chan struct{}
}

// NewWebhookDispatcher creates a webhook dispatcher with a small in-flight
// bound.
func NewWebhookDispatcher(url string) *WebhookDispatcher {
	return &WebhookDispatcher{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		sem:        make(chan struct{}, 16),
	}
}

// Send delivers one alert, returning ErrBackPressured when too many are
// already in flight.
func (w *WebhookDispatcher) Send(ctx context.Context, a Alert) error {
	select {
	case w.sem <- struct{}{}:
		defer func() { <-w.sem }()
	default:
		return ErrBackPressured
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
