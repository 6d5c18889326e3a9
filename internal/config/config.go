package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Aggregate AggregateConfig `yaml:"aggregate" mapstructure:"aggregate"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Weights   WeightsConfig   `yaml:"weights" mapstructure:"weights"`
	Hexgrid   HexgridConfig   `yaml:"hexgrid" mapstructure:"hexgrid"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the PostGIS source.
type StoreConfig struct {
	DatabaseURL     string `yaml:"database_url" mapstructure:"database_url"`
	ConnectAttempts int    `yaml:"connect_attempts" mapstructure:"connect_attempts"`
}

// AggregateConfig configures point-to-polygon aggregation.
type AggregateConfig struct {
	Separator string   `yaml:"separator" mapstructure:"separator"`
	Funcs     []string `yaml:"funcs" mapstructure:"funcs"`
	Policy    string   `yaml:"policy" mapstructure:"policy"`
}

// MetricsConfig configures derived statistics.
type MetricsConfig struct {
	EntropyBase float64     `yaml:"entropy_base" mapstructure:"entropy_base"`
	Moran       MoranConfig `yaml:"moran" mapstructure:"moran"`
}

// MoranConfig configures local Moran's I inference.
type MoranConfig struct {
	Permutations int     `yaml:"permutations" mapstructure:"permutations"`
	Seed         uint64  `yaml:"seed" mapstructure:"seed"`
	Significance float64 `yaml:"significance" mapstructure:"significance"`
}

// WeightsConfig configures spatial weights construction.
type WeightsConfig struct {
	Kind string `yaml:"kind" mapstructure:"kind"`
	K    int    `yaml:"k" mapstructure:"k"`
}

// HexgridConfig configures H3 tessellation.
type HexgridConfig struct {
	Resolution int `yaml:"resolution" mapstructure:"resolution"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOSTAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.connect_attempts", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("aggregate.separator", "_")
	v.SetDefault("aggregate.funcs", []string{"sum"})
	v.SetDefault("aggregate.policy", "bounds")
	v.SetDefault("metrics.entropy_base", 2.0)
	v.SetDefault("metrics.moran.permutations", 999)
	v.SetDefault("metrics.moran.seed", 12345)
	v.SetDefault("metrics.moran.significance", 0.05)
	v.SetDefault("weights.kind", "rook")
	v.SetDefault("weights.k", 4)
	v.SetDefault("hexgrid.resolution", 9)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command depends on. Every problem is
// reported at once.
func (c *Config) Validate(command string) error {
	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	switch command {
	case "aggregate":
		c.validateAggregate(add)
	case "metrics":
		c.validateMetrics(add)
	case "weights":
		c.validateWeights(add)
	case "hexgrid":
		c.validateHexgrid(add)
	case "postgis":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	case "run":
		c.validateAggregate(add)
		c.validateMetrics(add)
		c.validateWeights(add)
	case "assign", "isolate", "transfer":
		if c.Aggregate.Policy != "bounds" && c.Aggregate.Policy != "precise" {
			add("aggregate.policy must be bounds or precise")
		}
	default:
		return eris.Errorf("config: unknown mode %q", command)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateAggregate(add func(string)) {
	if c.Aggregate.Separator == "" {
		add("aggregate.separator is required")
	}
	if c.Aggregate.Policy != "bounds" && c.Aggregate.Policy != "precise" {
		add("aggregate.policy must be bounds or precise")
	}
}

func (c *Config) validateMetrics(add func(string)) {
	b := c.Metrics.EntropyBase
	if b <= 0 || b == 1 || math.IsNaN(b) {
		add("metrics.entropy_base must be positive and not 1")
	}
	if c.Metrics.Moran.Permutations < 1 {
		add("metrics.moran.permutations must be >= 1")
	}
	if s := c.Metrics.Moran.Significance; s < 0 || s > 1 {
		add("metrics.moran.significance must be between 0 and 1")
	}
}

func (c *Config) validateWeights(add func(string)) {
	switch strings.ToLower(c.Weights.Kind) {
	case "rook", "queen":
	case "knn":
		if c.Weights.K < 1 {
			add("weights.k must be >= 1")
		}
	default:
		add("weights.kind must be rook, queen or knn")
	}
}

func (c *Config) validateHexgrid(add func(string)) {
	if r := c.Hexgrid.Resolution; r < 0 || r > 15 {
		add("hexgrid.resolution must be between 0 and 15")
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
