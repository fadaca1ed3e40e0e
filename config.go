package captain

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/johnhenry/ai.captain-sub000/cache"
	"github.com/johnhenry/ai.captain-sub000/compress"
	"github.com/johnhenry/ai.captain-sub000/fallback"
)

// Duration is a time.Duration that unmarshals from human-readable YAML
// strings such as "90s", "5m" or "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := str2duration.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// CacheConfig is the cache section of a Config file.
type CacheConfig struct {
	Enabled     bool     `yaml:"enabled"`
	TTL         Duration `yaml:"ttl"`
	MaxSize     int      `yaml:"max_size"`
	Policy      string   `yaml:"policy"`
	Compression string   `yaml:"compression"`
	Sweep       Duration `yaml:"sweep"`
}

// FallbackFileConfig is the fallback section of a Config file.
type FallbackFileConfig struct {
	Strategies          []string `yaml:"strategies"`
	MaxAttempts         int      `yaml:"max_attempts"`
	Timeout             Duration `yaml:"timeout"`
	HealthCheckInterval Duration `yaml:"health_check_interval"`
	RetryBaseDelay      Duration `yaml:"retry_base_delay"`
	DegradeLimit        int      `yaml:"degrade_limit"`
}

// Config is the YAML-backed client configuration.
type Config struct {
	Cache    CacheConfig        `yaml:"cache"`
	Fallback FallbackFileConfig `yaml:"fallback"`
}

// DefaultFileConfig mirrors the coordinator and cache defaults.
func DefaultFileConfig() Config {
	fb := fallback.DefaultConfig()
	strategies := make([]string, len(fb.Strategies))
	for i, s := range fb.Strategies {
		strategies[i] = s.String()
	}
	return Config{
		Cache: CacheConfig{
			Enabled: true,
			TTL:     Duration(cache.DefaultTTL),
			MaxSize: cache.DefaultMaxSize,
			Policy:  string(cache.PolicyLRU),
		},
		Fallback: FallbackFileConfig{
			Strategies:          strategies,
			MaxAttempts:         fb.MaxAttempts,
			Timeout:             Duration(fb.Timeout),
			HealthCheckInterval: Duration(fb.HealthCheckInterval),
			RetryBaseDelay:      Duration(fb.RetryBaseDelay),
			DegradeLimit:        fb.DegradeLimit,
		},
	}
}

// LoadConfig reads and validates a YAML config file. Unset fields take
// their defaults.
func LoadConfig(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return ParseConfig(buf)
}

// ParseConfig decodes and validates YAML config bytes.
func ParseConfig(buf []byte) (Config, error) {
	cfg := DefaultFileConfig()
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the components would refuse at construction.
func (c Config) Validate() error {
	if c.Cache.Enabled {
		if _, err := cache.ParsePolicy(c.Cache.Policy); err != nil {
			return err
		}
		if c.Cache.MaxSize < 1 {
			return errors.New("captain: cache max_size must be at least 1")
		}
		if c.Cache.TTL < 0 {
			return errors.New("captain: cache ttl must not be negative")
		}
		switch compress.Algorithm(c.Cache.Compression) {
		case "", compress.None, compress.RLE, compress.Deflate:
		default:
			return errors.Wrapf(compress.ErrUnsupportedAlgorithm, "%q", c.Cache.Compression)
		}
	}
	if _, err := fallback.ParseStrategies(c.Fallback.Strategies); err != nil {
		return err
	}
	if c.Fallback.MaxAttempts < 1 {
		return errors.New("captain: fallback max_attempts must be at least 1")
	}
	if c.Fallback.Timeout <= 0 {
		return errors.New("captain: fallback timeout must be positive")
	}
	return nil
}

// CacheOptions translates the cache section into store options.
func (c Config) CacheOptions() ([]cache.Option, error) {
	policy, err := cache.ParsePolicy(c.Cache.Policy)
	if err != nil {
		return nil, err
	}
	opts := []cache.Option{
		cache.WithTTL(c.Cache.TTL.Std()),
		cache.WithMaxSize(c.Cache.MaxSize),
		cache.WithPolicy(policy),
	}
	if c.Cache.Sweep > 0 {
		opts = append(opts, cache.WithSweep(c.Cache.Sweep.Std()))
	}
	if alg := compress.Algorithm(c.Cache.Compression); alg != "" && alg != compress.None {
		codec, err := compress.New(compress.WithAlgorithm(alg))
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithCodec(codec))
	}
	return opts, nil
}

// FallbackConfig translates the fallback section into a coordinator
// configuration.
func (c Config) FallbackConfig() (fallback.Config, error) {
	strategies, err := fallback.ParseStrategies(c.Fallback.Strategies)
	if err != nil {
		return fallback.Config{}, err
	}
	return fallback.Config{
		Strategies:          strategies,
		MaxAttempts:         c.Fallback.MaxAttempts,
		Timeout:             c.Fallback.Timeout.Std(),
		HealthCheckInterval: c.Fallback.HealthCheckInterval.Std(),
		RetryBaseDelay:      c.Fallback.RetryBaseDelay.Std(),
		DegradeLimit:        c.Fallback.DegradeLimit,
	}, nil
}
