package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "", cfg.Store.DatabaseURL)
	assert.Equal(t, 3, cfg.Store.ConnectAttempts)
	assert.Equal(t, "_", cfg.Aggregate.Separator)
	assert.Equal(t, []string{"sum"}, cfg.Aggregate.Funcs)
	assert.Equal(t, "bounds", cfg.Aggregate.Policy)
	assert.InDelta(t, 2.0, cfg.Metrics.EntropyBase, 0.001)
	assert.Equal(t, 999, cfg.Metrics.Moran.Permutations)
	assert.Equal(t, uint64(12345), cfg.Metrics.Moran.Seed)
	assert.InDelta(t, 0.05, cfg.Metrics.Moran.Significance, 0.0001)
	assert.Equal(t, "rook", cfg.Weights.Kind)
	assert.Equal(t, 4, cfg.Weights.K)
	assert.Equal(t, 9, cfg.Hexgrid.Resolution)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
aggregate:
  separator: "__"
  funcs: [sum, mean]
weights:
  kind: knn
  k: 6
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "__", cfg.Aggregate.Separator)
	assert.Equal(t, []string{"sum", "mean"}, cfg.Aggregate.Funcs)
	assert.Equal(t, "knn", cfg.Weights.Kind)
	assert.Equal(t, 6, cfg.Weights.K)
	// Defaults still apply for unset values
	assert.Equal(t, 999, cfg.Metrics.Moran.Permutations)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
hexgrid:
  resolution: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GEOSTAT_LOG_LEVEL", "warn")
	t.Setenv("GEOSTAT_HEXGRID_RESOLUTION", "11")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 11, cfg.Hexgrid.Resolution)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("GEOSTAT_STORE_DATABASE_URL", "postgres://localhost/gis")
	t.Setenv("GEOSTAT_METRICS_MORAN_PERMUTATIONS", "99")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/gis", cfg.Store.DatabaseURL)
	assert.Equal(t, 99, cfg.Metrics.Moran.Permutations)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Aggregate.Separator = "_"
	cfg.Aggregate.Funcs = []string{"sum"}
	cfg.Aggregate.Policy = "bounds"
	cfg.Metrics.EntropyBase = 2
	cfg.Metrics.Moran.Permutations = 999
	cfg.Metrics.Moran.Significance = 0.05
	cfg.Weights.Kind = "rook"
	cfg.Weights.K = 4
	cfg.Hexgrid.Resolution = 9
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	for _, cmd := range []string{"aggregate", "metrics", "weights", "hexgrid", "run", "assign", "isolate", "transfer"} {
		assert.NoError(t, cfg.Validate(cmd), cmd)
	}
}

func TestValidate_Aggregate(t *testing.T) {
	cfg := validDefaults()
	cfg.Aggregate.Separator = ""
	cfg.Aggregate.Policy = "fuzzy"

	err := cfg.Validate("aggregate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregate.separator is required")
	assert.Contains(t, err.Error(), "aggregate.policy must be bounds or precise")
}

func TestValidate_Metrics(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"base one", func(c *Config) { c.Metrics.EntropyBase = 1 }, "entropy_base"},
		{"base negative", func(c *Config) { c.Metrics.EntropyBase = -2 }, "entropy_base"},
		{"no permutations", func(c *Config) { c.Metrics.Moran.Permutations = 0 }, "permutations"},
		{"significance above one", func(c *Config) { c.Metrics.Moran.Significance = 1.5 }, "significance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate("metrics")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_Weights(t *testing.T) {
	cfg := validDefaults()
	cfg.Weights.Kind = "KNN"
	cfg.Weights.K = 0
	err := cfg.Validate("weights")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights.k must be >= 1")

	cfg.Weights.Kind = "bishop"
	err = cfg.Validate("weights")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights.kind")
}

func TestValidate_Hexgrid(t *testing.T) {
	cfg := validDefaults()
	cfg.Hexgrid.Resolution = 16
	err := cfg.Validate("hexgrid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 0 and 15")
}

func TestValidate_PostGIS(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("postgis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/gis"
	assert.NoError(t, cfg.Validate("postgis"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
