package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "pricer"

[pricing]
interval = "5s"
signal_source = "random"
random_seed = 42

[settlement]
precision = 8
lock_backend = "local"
allowed_creator_cuts = [1.0, 2.5]
`), 0o600))

	t.Setenv("STREAMPREDICT_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("STREAMPREDICT_SERVER_PORT", "9090")
	t.Setenv("STREAMPREDICT_NOTIFY_EVENTS", " no_winners , ,market_resolved")
	t.Setenv("STREAMPREDICT_PRICING_MAX_CONCURRENCY", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "pricer", cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.Pricing.Interval.Duration)
	assert.Equal(t, "random", cfg.Pricing.SignalSource)
	assert.EqualValues(t, 42, cfg.Pricing.RandomSeed)
	assert.EqualValues(t, 8, cfg.Settlement.Precision)
	assert.Equal(t, []float64{1, 2.5}, cfg.Settlement.AllowedCreatorCuts)

	// untouched keys keep their defaults
	assert.Equal(t, 0.1, cfg.Pricing.Volatility)
	assert.Equal(t, 8, cfg.Pricing.MaxConcurrency)

	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"no_winners", "market_resolved"}, cfg.Notify.Events)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Pricing.MinOdds = 12
	cfg.Pricing.SignalSource = "twitter"
	cfg.Settlement.Precision = 40
	cfg.Settlement.LockBackend = "zookeeper"
	cfg.Settlement.MaxOutcomes = 9
	cfg.Settlement.Archive = true
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"pricing: odds bounds",
		`unknown signal_source "twitter"`,
		"precision must be 0-36",
		`unknown lock_backend "zookeeper"`,
		"outcome bounds",
		"s3: bucket must be set",
		"server: port",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "secret"
	cfg.Server.APIKey = "key"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.S3.SecretKey)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Empty(t, out.Notify.TelegramToken)

	out.Notify.Events[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Notify.Events[0])
	assert.Equal(t, "pw", cfg.Postgres.Password)
}
