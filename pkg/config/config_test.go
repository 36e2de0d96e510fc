package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFileReader struct {
	data map[string][]byte
}

func (f *fakeFileReader) ReadFile(path string) ([]byte, error) {
	if b, ok := f.data[path]; ok {
		return b, nil
	}
	return nil, assert.AnError
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "weighted", cfg.Algorithm)
	assert.Equal(t, "conservative", cfg.ResolutionPolicy)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, []string{"primary", "sentiment", "irony", "emotion"}, cfg.EnabledSources())
}

func TestLoadWithAppliesDefaults(t *testing.T) {
	fr := &fakeFileReader{data: map[string][]byte{
		"sentinel.yaml": []byte(`
algorithm: majority
sources:
  primary:
    enabled: true
    weight: 1.0
    backend: mock
  sentiment:
    enabled: true
    weight: 1.0
    backend: mock
  irony:
    enabled: true
    weight: 1.0
    backend: mock
  emotion:
    enabled: true
    weight: 1.0
    backend: mock
`),
	}}

	cfg, err := LoadWith(fr, "sentinel.yaml")
	require.NoError(t, err)

	assert.Equal(t, "majority", cfg.Algorithm)
	// Unset fields keep their defaults.
	assert.Equal(t, "conservative", cfg.ResolutionPolicy)
	assert.InDelta(t, 0.85, cfg.Thresholds.Critical, 1e-9)
	assert.Equal(t, 1.0, cfg.Weight("primary"))
}

func TestLoadWithMissingFile(t *testing.T) {
	_, err := LoadWith(&fakeFileReader{}, "nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid_default",
			mutate: func(c *Config) {},
		},
		{
			name:    "no_sources",
			mutate:  func(c *Config) { c.Sources = nil },
			wantErr: "at least one signal source",
		},
		{
			name: "unknown_source",
			mutate: func(c *Config) {
				c.Sources["sarcasm"] = SourceConfig{Enabled: true, Weight: 1}
			},
			wantErr: "unknown source",
		},
		{
			name: "negative_weight",
			mutate: func(c *Config) {
				sc := c.Sources["primary"]
				sc.Weight = -0.5
				c.Sources["primary"] = sc
			},
			wantErr: "weight must be non-negative",
		},
		{
			name: "all_disabled",
			mutate: func(c *Config) {
				for name, sc := range c.Sources {
					sc.Enabled = false
					c.Sources[name] = sc
				}
			},
			wantErr: "at least one source must be enabled",
		},
		{
			name: "zero_weight_sum",
			mutate: func(c *Config) {
				for name, sc := range c.Sources {
					sc.Weight = 0
					c.Sources[name] = sc
				}
			},
			wantErr: "weights must be positive",
		},
		{
			name:    "threshold_order",
			mutate:  func(c *Config) { c.Thresholds.High = 0.9 },
			wantErr: "thresholds must satisfy",
		},
		{
			name:    "zero_low_threshold",
			mutate:  func(c *Config) { c.Thresholds.Low = 0 },
			wantErr: "thresholds must satisfy",
		},
		{
			name:    "critical_above_one",
			mutate:  func(c *Config) { c.Thresholds.Critical = 1.5 },
			wantErr: "must not exceed 1",
		},
		{
			name:    "bad_algorithm",
			mutate:  func(c *Config) { c.Algorithm = "quantum" },
			wantErr: "unknown consensus algorithm",
		},
		{
			name:    "bad_policy",
			mutate:  func(c *Config) { c.ResolutionPolicy = "yolo" },
			wantErr: "unknown resolution policy",
		},
		{
			name:    "bad_verbosity",
			mutate:  func(c *Config) { c.Verbosity = "chatty" },
			wantErr: "unknown verbosity",
		},
		{
			name:    "bad_detection_floor",
			mutate:  func(c *Config) { c.DetectionFloor = "critical" },
			wantErr: "detection_floor",
		},
		{
			name:    "zero_timeout",
			mutate:  func(c *Config) { c.RequestTimeout = 0 },
			wantErr: "request_timeout must be positive",
		},
		{
			name:    "zero_cooldown",
			mutate:  func(c *Config) { c.Alerts.Cooldown = 0 },
			wantErr: "alert cooldown must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestHolderReplace(t *testing.T) {
	cfg := Default()
	h := NewHolder(cfg)
	assert.Same(t, cfg, h.Current())

	bad := Default()
	bad.Thresholds.Low = 0
	err := h.Replace(bad)
	require.Error(t, err)
	assert.Same(t, cfg, h.Current(), "invalid config must not replace the active one")

	good := Default()
	good.Algorithm = "unanimous"
	require.NoError(t, h.Replace(good))
	assert.Same(t, good, h.Current())
}

func TestHolderReplaceNil(t *testing.T) {
	h := NewHolder(Default())
	require.Error(t, h.Replace(nil))
	assert.NotNil(t, h.Current())
}
