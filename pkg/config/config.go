package config

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the engine configuration
type Config struct {
	// Signal sources, keyed by source name (primary, sentiment, irony, emotion)
	Sources map[string]SourceConfig `yaml:"sources"`

	// Severity thresholds applied to the final score
	Thresholds Thresholds `yaml:"thresholds"`

	// Consensus configuration
	Algorithm        string `yaml:"algorithm"`         // weighted, majority, unanimous, conflict_aware
	ResolutionPolicy string `yaml:"resolution_policy"` // conservative, optimistic, mean, review_flag

	// DetectionFloor is the lowest severity that counts as a detected
	// crisis. Default "medium".
	DetectionFloor string `yaml:"detection_floor"`

	// Default explanation verbosity: minimal, standard, detailed
	Verbosity string `yaml:"verbosity"`

	// RequestTimeout bounds the parallel source fan-out per request
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Alerting configuration
	Alerts AlertConfig `yaml:"alerts"`

	// Server configuration (HTTP adapter + observability endpoints)
	Server ServerConfig `yaml:"server"`
}

// SourceConfig holds configuration for a single signal source
type SourceConfig struct {
	Enabled bool    `yaml:"enabled"`
	Weight  float64 `yaml:"weight"`
	Backend string  `yaml:"backend"` // http, openai, bedrock, mock
	Model   string  `yaml:"model"`
	// Endpoint is the inference URL for the http backend, or the base URL
	// for an OpenAI-compatible server.
	Endpoint string `yaml:"endpoint,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	// Region applies to the bedrock backend only.
	Region string `yaml:"region,omitempty"`
}

// Thresholds maps final scores to severity classes.
// Must form a non-increasing sequence critical >= high >= medium >= low > 0.
type Thresholds struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
	Low      float64 `yaml:"low"`
}

// AlertConfig holds alert dispatch and debounce configuration
type AlertConfig struct {
	Enabled bool `yaml:"enabled"`

	// Cooldown is the minimum interval between alerts for the same
	// (user, severity class) key.
	Cooldown time.Duration `yaml:"cooldown"`

	// EscalationCooldown is the shorter interval applied to
	// escalation-triggered alerts.
	EscalationCooldown time.Duration `yaml:"escalation_cooldown"`

	// RedisAddr enables the Redis-backed cooldown store shared across
	// replicas. Empty means the in-process sharded store.
	RedisAddr string `yaml:"redis_addr,omitempty"`

	// Webhook receives dispatched alerts when set.
	Webhook string `yaml:"webhook,omitempty"`
}

// ServerConfig holds the HTTP adapter configuration
type ServerConfig struct {
	Addr        string  `yaml:"addr"`
	MetricsAddr string  `yaml:"metrics_addr"`
	RateLimit   float64 `yaml:"rate_limit"` // requests/sec per client, 0 disables
	RateBurst   int     `yaml:"rate_burst"`
}

// SourceNames is the closed set of supported source names.
var SourceNames = []string{"primary", "sentiment", "irony", "emotion"}

// FileReader interface for reading files (testable)
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader using os.ReadFile
type OSFileReader struct{}

func (r *OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - path is from trusted CLI input
}

// Default returns the engine's built-in configuration: all four sources
// enabled on the mock backend with the standard weights and thresholds.
func Default() *Config {
	return &Config{
		Sources: map[string]SourceConfig{
			"primary":   {Enabled: true, Weight: 0.5, Backend: "mock"},
			"sentiment": {Enabled: true, Weight: 0.25, Backend: "mock"},
			"irony":     {Enabled: true, Weight: 0.15, Backend: "mock"},
			"emotion":   {Enabled: true, Weight: 0.10, Backend: "mock"},
		},
		Thresholds: Thresholds{
			Critical: 0.85,
			High:     0.70,
			Medium:   0.50,
			Low:      0.30,
		},
		Algorithm:        "weighted",
		ResolutionPolicy: "conservative",
		DetectionFloor:   "medium",
		Verbosity:        "standard",
		RequestTimeout:   500 * time.Millisecond,
		Alerts: AlertConfig{
			Enabled:            true,
			Cooldown:           300 * time.Second,
			EscalationCooldown: 60 * time.Second,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
			RateLimit:   50,
			RateBurst:   100,
		},
	}
}

// Load loads configuration from a YAML file, applying defaults and
// environment fallbacks for credentials.
func Load(path string) (*Config, error) {
	return LoadWith(&OSFileReader{}, path)
}

// LoadWith loads configuration using the given FileReader.
func LoadWith(fr FileReader, path string) (*Config, error) {
	data, err := fr.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills credentials from the environment when not set in the file.
func (c *Config) applyEnv() {
	for name, sc := range c.Sources {
		if sc.APIKey != "" {
			continue
		}
		switch sc.Backend {
		case "http":
			sc.APIKey = os.Getenv("HUGGINGFACE_API_KEY")
		case "openai":
			sc.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		c.Sources[name] = sc
	}
}

// Save writes configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var validAlgorithms = map[string]bool{
	"weighted": true, "majority": true, "unanimous": true, "conflict_aware": true,
}

var validPolicies = map[string]bool{
	"conservative": true, "optimistic": true, "mean": true, "review_flag": true,
}

var validVerbosity = map[string]bool{
	"minimal": true, "standard": true, "detailed": true,
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one signal source must be configured")
	}

	known := make(map[string]bool, len(SourceNames))
	for _, n := range SourceNames {
		known[n] = true
	}

	var weightSum float64
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	enabled := 0
	for _, name := range names {
		sc := c.Sources[name]
		if !known[name] {
			return fmt.Errorf("unknown source %q (supported: %v)", name, SourceNames)
		}
		if sc.Weight < 0 {
			return fmt.Errorf("source %s: weight must be non-negative, got %v", name, sc.Weight)
		}
		if sc.Enabled {
			enabled++
			weightSum += sc.Weight
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one source must be enabled")
	}
	if weightSum <= 0 {
		return fmt.Errorf("sum of enabled source weights must be positive, got %v", weightSum)
	}

	t := c.Thresholds
	if !(t.Critical >= t.High && t.High >= t.Medium && t.Medium >= t.Low && t.Low > 0) {
		return fmt.Errorf("thresholds must satisfy critical >= high >= medium >= low > 0, got %+v", t)
	}
	if t.Critical > 1 {
		return fmt.Errorf("critical threshold must not exceed 1, got %v", t.Critical)
	}

	if !validAlgorithms[c.Algorithm] {
		return fmt.Errorf("unknown consensus algorithm %q", c.Algorithm)
	}
	if !validPolicies[c.ResolutionPolicy] {
		return fmt.Errorf("unknown resolution policy %q", c.ResolutionPolicy)
	}
	if !validVerbosity[c.Verbosity] {
		return fmt.Errorf("unknown verbosity %q", c.Verbosity)
	}
	switch c.DetectionFloor {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("detection_floor must be low, medium or high, got %q", c.DetectionFloor)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", c.RequestTimeout)
	}
	if c.Alerts.Enabled {
		if c.Alerts.Cooldown <= 0 {
			return fmt.Errorf("alert cooldown must be positive, got %v", c.Alerts.Cooldown)
		}
		if c.Alerts.EscalationCooldown <= 0 {
			return fmt.Errorf("escalation cooldown must be positive, got %v", c.Alerts.EscalationCooldown)
		}
	}

	return nil
}

// EnabledSources returns the names of enabled sources in registry order.
func (c *Config) EnabledSources() []string {
	out := make([]string, 0, len(c.Sources))
	for _, name := range SourceNames {
		if sc, ok := c.Sources[name]; ok && sc.Enabled {
			out = append(out, name)
		}
	}
	return out
}

// Weight returns the configured weight for a source, 0 if absent.
func (c *Config) Weight(name string) float64 {
	return c.Sources[name].Weight
}

// Holder provides atomic replacement of the active configuration.
// In-flight requests keep the snapshot they captured at entry; new
// requests observe the latest swap.
type Holder struct {
	current atomic.Pointer[Config]
}

// NewHolder creates a Holder seeded with cfg. The config must already be
// validated.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.current.Store(cfg)
	return h
}

// Current returns the active configuration snapshot.
func (h *Holder) Current() *Config {
	return h.current.Load()
}

// Replace validates and atomically installs a new configuration.
// On validation failure the previous configuration stays active.
func (h *Holder) Replace(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config rejected: %w", err)
	}
	h.current.Store(cfg)
	return nil
}
