package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]

		return value, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", envLookup(map[string]string{"DB_PASS": "secret"}))
	require.NoError(t, err)

	assert.Equal(t, "personal_analytics", cfg.Database.Name)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, DefaultEntities, cfg.Ingestion.Entities)
	assert.Equal(t, "raw", cfg.Ingestion.RawSchema)
	assert.Equal(t, "0 6 * * *", cfg.Schedule.Cron)
	assert.Equal(t, 1, cfg.Execution.MaxParallelNodes)
	assert.Equal(t, []string{"raw_data/stock_prices_batch"}, cfg.DependencyRules["stg_stock_prices"])
	assert.Equal(t, "./target/manifest.json", cfg.ManifestPath())
}

func TestLoad_MissingPasswordIsConfigurationError(t *testing.T) {
	cfg, err := Load("", envLookup(map[string]string{}))

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "DB_PASS")
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	cfg, err := Load("", envLookup(map[string]string{
		"DB_PASS":            "secret",
		"DB_HOST":            "db",
		"DB_PORT":            "6543",
		"TICKERS":            "aapl,msft",
		"SCHEDULE_CRON":      "30 5 * * 1-5",
		"SCHEDULE_TIMEZONE":  "America/New_York",
		"MAX_PARALLEL_NODES": "4",
		"LOCK_TTL":           "2h",
		"EVENT_BUS":          "kafka",
		"KAFKA_BROKERS":      "k1:9092,k2:9092",
		"DBT_PROJECT_DIR":    "/srv/dbt",
	}))
	require.NoError(t, err)

	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, []models.Entity{"AAPL", "MSFT"}, cfg.Ingestion.Entities)
	assert.Equal(t, "30 5 * * 1-5", cfg.Schedule.Cron)
	assert.Equal(t, 4, cfg.Execution.MaxParallelNodes)
	assert.Equal(t, 2*time.Hour, cfg.Schedule.LockTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, "/srv/dbt/target/manifest.json", cfg.ManifestPath())

	location, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", location.String())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "bad port", env: map[string]string{"DB_PASS": "x", "DB_PORT": "abc"}, field: "DB_PORT"},
		{name: "bad cron", env: map[string]string{"DB_PASS": "x", "SCHEDULE_CRON": "every day"}, field: "SCHEDULE_CRON"},
		{name: "bad timezone", env: map[string]string{"DB_PASS": "x", "SCHEDULE_TIMEZONE": "Mars/Olympus"}, field: "SCHEDULE_TIMEZONE"},
		{name: "bad ingest mode", env: map[string]string{"DB_PASS": "x", "INGEST_MODE": "threads"}, field: "INGEST_MODE"},
		{name: "kafka without brokers", env: map[string]string{"DB_PASS": "x", "EVENT_BUS": "kafka"}, field: "KAFKA_BROKERS"},
		{name: "zero parallelism", env: map[string]string{"DB_PASS": "x", "MAX_PARALLEL_NODES": "0"}, field: "MAX_PARALLEL_NODES"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load("", envLookup(tc.env))

			require.Error(t, err)
			assert.True(t, IsConfigurationError(err))
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockpipe.yaml")
	content := `
ingestion:
  entities: [AMZN, NVDA]
  raw_schema: landing
schedule:
  cron: "0 7 * * *"
dependency_rules:
  stg_company_info: ["raw_data/stock_prices_batch"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path, envLookup(map[string]string{"DB_PASS": "secret", "RAW_SCHEMA": "raw_override"}))
	require.NoError(t, err)

	assert.Equal(t, []models.Entity{"AMZN", "NVDA"}, cfg.Ingestion.Entities)
	assert.Equal(t, "raw_override", cfg.Ingestion.RawSchema)
	assert.Equal(t, "0 7 * * *", cfg.Schedule.Cron)
	assert.Contains(t, cfg.DependencyRules, "stg_stock_prices")
	assert.Contains(t, cfg.DependencyRules, "stg_company_info")
}

func TestLoad_MissingYAMLFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), envLookup(map[string]string{"DB_PASS": "x"}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestDatabaseConfig_URL(t *testing.T) {
	db := DatabaseConfig{Name: "analytics", User: "etl", Password: "p@ss word", Host: "db", Port: 5432, SSLMode: "disable"}

	assert.Equal(t, "postgres://etl:p%40ss%20word@db:5432/analytics?sslmode=disable", db.URL())
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("STOCKPIPE_TEST_DOTENV=loaded\n"), 0o600))

	t.Cleanup(func() { _ = os.Unsetenv("STOCKPIPE_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("STOCKPIPE_TEST_DOTENV"))

	require.Error(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
