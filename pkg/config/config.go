package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/goliatone/go-config/cfgx"
)

// Config captures module-level configuration knobs. Feature packages
// (requests, groups) pull from these nested structs.
type Config struct {
	Requests  RequestsConfig  `mapstructure:"requests" json:"requests"`
	Decisions DecisionsConfig `mapstructure:"decisions" json:"decisions"`
	Groups    GroupsConfig    `mapstructure:"groups" json:"groups"`
}

// RequestsConfig controls request TTL and the expiry sweep.
type RequestsConfig struct {
	TTL           time.Duration `mapstructure:"ttl" json:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`
	SweepBatch    int           `mapstructure:"sweep_batch" json:"sweep_batch"`
}

// DecisionsConfig bounds the retry loop around the decision transaction.
type DecisionsConfig struct {
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries"`
	RetryBase  time.Duration `mapstructure:"retry_base" json:"retry_base"`
	RetryMax   time.Duration `mapstructure:"retry_max" json:"retry_max"`
}

// GroupsConfig bounds membership caching and nested-group expansion.
type GroupsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	MaxDepth int           `mapstructure:"max_depth" json:"max_depth"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		Requests: RequestsConfig{
			TTL:           24 * time.Hour,
			SweepInterval: time.Minute,
			SweepBatch:    500,
		},
		Decisions: DecisionsConfig{
			MaxRetries: 3,
			RetryBase:  100 * time.Millisecond,
			RetryMax:   2 * time.Second,
		},
		Groups: GroupsConfig{
			CacheTTL: 30 * time.Second,
			MaxDepth: 4,
		},
	}
}

// Validate ensures required fields are present and sane.
func (c *Config) Validate() error {
	if c.Requests.TTL <= 0 {
		return fmt.Errorf("requests.ttl must be > 0")
	}
	if c.Requests.SweepBatch <= 0 {
		return fmt.Errorf("requests.sweep_batch must be > 0")
	}
	if c.Decisions.MaxRetries < 0 {
		return fmt.Errorf("decisions.max_retries must be >= 0")
	}
	if c.Groups.CacheTTL < 0 {
		return fmt.Errorf("groups.cache_ttl must be >= 0")
	}
	if c.Groups.MaxDepth <= 0 {
		return fmt.Errorf("groups.max_depth must be > 0")
	}
	return nil
}

// Load decodes arbitrary input (struct, map, cfg struct) using cfgx helpers,
// falling back to a lightweight JSON decode for plain maps.
func Load(input any, opts ...LoadOption) (Config, error) {
	settings := loadOptions{}
	for _, opt := range opts {
		opt(&settings)
	}

	cfg, err := cfgx.Build(input, settings.buildOpts...)
	if err != nil {
		return Config{}, err
	}

	if isZero(cfg) {
		if err := decodeFallback(input, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOption lets callers amend cfgx build options.
type LoadOption func(*loadOptions)

type loadOptions struct {
	buildOpts []cfgx.Option[Config]
}

// WithBuildOptions forwards cfgx options (duration hooks, preprocessors, etc.).
func WithBuildOptions(opts ...cfgx.Option[Config]) LoadOption {
	return func(lo *loadOptions) {
		lo.buildOpts = append(lo.buildOpts, opts...)
	}
}

func (c Config) withDefaults() Config {
	defaults := Defaults()

	if c.Requests.TTL == 0 {
		c.Requests.TTL = defaults.Requests.TTL
	}
	if c.Requests.SweepInterval == 0 {
		c.Requests.SweepInterval = defaults.Requests.SweepInterval
	}
	if c.Requests.SweepBatch == 0 {
		c.Requests.SweepBatch = defaults.Requests.SweepBatch
	}
	if c.Decisions.MaxRetries == 0 {
		c.Decisions.MaxRetries = defaults.Decisions.MaxRetries
	}
	if c.Decisions.RetryBase == 0 {
		c.Decisions.RetryBase = defaults.Decisions.RetryBase
	}
	if c.Decisions.RetryMax == 0 {
		c.Decisions.RetryMax = defaults.Decisions.RetryMax
	}
	if c.Groups.CacheTTL == 0 {
		c.Groups.CacheTTL = defaults.Groups.CacheTTL
	}
	if c.Groups.MaxDepth == 0 {
		c.Groups.MaxDepth = defaults.Groups.MaxDepth
	}
	return c
}

func isZero(cfg Config) bool {
	return reflect.DeepEqual(cfg, Config{})
}

func decodeFallback(input any, cfg *Config) error {
	switch v := input.(type) {
	case nil:
		return nil
	case Config:
		*cfg = v
		return nil
	case *Config:
		if v != nil {
			*cfg = *v
		}
		return nil
	case map[string]any:
		return decodeMap(v, cfg)
	default:
		return fmt.Errorf("unsupported config input type: %T", input)
	}
}

func decodeMap(input map[string]any, cfg *Config) error {
	if input == nil {
		return nil
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, cfg)
}
