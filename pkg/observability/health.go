package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Check is a named probe. Critical failures mark the service unhealthy;
// non-critical ones only degrade it.
type Check struct {
	Name     string
	Probe    func(context.Context) error
	Timeout  time.Duration
	Critical bool
}

// Checker runs registered probes on demand.
type Checker struct {
	mu     sync.RWMutex
	checks []Check
	start  time.Time
}

// NewChecker creates an empty health checker.
func NewChecker() *Checker {
	return &Checker{start: time.Now()}
}

// Register adds a probe.
func (c *Checker) Register(check Check) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// Report is the health endpoint payload.
type Report struct {
	Status    HealthStatus            `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime"`
	Checks    map[string]CheckResult  `json:"checks"`
	System    SystemInfo              `json:"system"`
}

// CheckResult is one probe's outcome.
type CheckResult struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration"`
}

// SystemInfo carries process-level numbers.
type SystemInfo struct {
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	MemAllocMB    uint64 `json:"mem_alloc_mb"`
}

// Run executes every probe and folds the results.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	overall := HealthStatusHealthy

	for _, check := range checks {
		res := runCheck(ctx, check)
		results[check.Name] = res

		if res.Status == HealthStatusUnhealthy {
			overall = HealthStatusUnhealthy
		} else if res.Status == HealthStatusDegraded && overall == HealthStatusHealthy {
			overall = HealthStatusDegraded
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Report{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(c.start).String(),
		Checks:    results,
		System: SystemInfo{
			NumGoroutines: runtime.NumGoroutine(),
			NumCPU:        runtime.NumCPU(),
			MemAllocMB:    mem.Alloc / 1024 / 1024,
		},
	}
}

func runCheck(ctx context.Context, check Check) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- check.Probe(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	res := CheckResult{Status: HealthStatusHealthy, Message: "OK", Duration: time.Since(start).String()}
	if err != nil {
		res.Message = err.Error()
		if check.Critical {
			res.Status = HealthStatusUnhealthy
		} else {
			res.Status = HealthStatusDegraded
		}
	}
	return res
}

// Handler serves the full health report.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

// LivenessHandler answers as long as the process serves requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
