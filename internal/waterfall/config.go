package waterfall

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/entity-enrich/internal/model"
)

// Config is the top-level waterfall configuration.
type Config struct {
	Defaults DefaultConfig       `yaml:"defaults"`
	Stages   map[string][]string `yaml:"stages"`
}

// DefaultConfig holds global waterfall settings.
type DefaultConfig struct {
	LowConfidenceThreshold int         `yaml:"low_confidence_threshold"`
	TimeDecay              DecayConfig `yaml:"time_decay"`
	ChargeFailedAttempts   *bool       `yaml:"charge_failed_attempts"`
	CacheTTLHours          int         `yaml:"cache_ttl_hours"`
}

// DecayConfig ages cached confidence. Floor is in confidence points.
type DecayConfig struct {
	HalfLifeDays int    `yaml:"half_life_days"`
	Floor        int    `yaml:"floor"`
	Curve        string `yaml:"curve"` // "exponential" only for now
}

// NewDefaultConfig returns the built-in waterfall settings. Stage membership
// falls back to each provider's declared stage.
func NewDefaultConfig() *Config {
	charge := true
	return &Config{
		Defaults: DefaultConfig{
			LowConfidenceThreshold: DefaultLowConfidenceThreshold,
			TimeDecay:              DecayConfig{HalfLifeDays: 180, Floor: 40, Curve: "exponential"},
			ChargeFailedAttempts:   &charge,
			CacheTTLHours:          24 * 30,
		},
	}
}

// LoadConfig reads waterfall config from a YAML file with a top-level
// "waterfall" key. Missing settings take the built-in defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "waterfall: read config %s", path)
	}

	var wrapper struct {
		Waterfall Config `yaml:"waterfall"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "waterfall: parse config")
	}

	cfg := &wrapper.Waterfall
	def := NewDefaultConfig().Defaults
	if cfg.Defaults.LowConfidenceThreshold == 0 {
		cfg.Defaults.LowConfidenceThreshold = def.LowConfidenceThreshold
	}
	if cfg.Defaults.TimeDecay.HalfLifeDays == 0 {
		cfg.Defaults.TimeDecay = def.TimeDecay
	}
	if cfg.Defaults.ChargeFailedAttempts == nil {
		cfg.Defaults.ChargeFailedAttempts = def.ChargeFailedAttempts
	}
	if cfg.Defaults.CacheTTLHours == 0 {
		cfg.Defaults.CacheTTLHours = def.CacheTTLHours
	}

	for stage := range cfg.Stages {
		if !validStage(model.Stage(stage)) {
			return nil, eris.Errorf("waterfall: unknown stage %q", stage)
		}
	}

	return cfg, nil
}

// ChargesFailedAttempts reports whether failed provider calls are billed.
func (c *Config) ChargesFailedAttempts() bool {
	return c.Defaults.ChargeFailedAttempts == nil || *c.Defaults.ChargeFailedAttempts
}

// CacheTTL is how long merged results stay cached.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Defaults.CacheTTLHours) * time.Hour
}

// StageProviders returns the configured provider names for stage and
// whether the stage was configured explicitly.
func (c *Config) StageProviders(stage model.Stage) ([]string, bool) {
	names, ok := c.Stages[string(stage)]
	return names, ok
}

func validStage(s model.Stage) bool {
	for _, st := range model.Stages {
		if st == s && s != model.StageCache {
			return true
		}
	}
	return false
}
