// Package config assembles the pipeline configuration from defaults, an optional YAML file and
// the process environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEntities is the tracked ticker set.
var DefaultEntities = []models.Entity{
	"AMZN", "ASML", "AVGO", "GOOGL", "META",
	"MSFT", "NBIS", "NVDA", "PLTR", "TSLA",
}

const (
	DefaultSchedule      = "0 6 * * *"
	DefaultRawSchema     = "raw"
	DefaultManifestPath  = "target/manifest.json"
	DefaultProviderURL   = "https://query2.finance.yahoo.com"
	DefaultRunsURL       = "file://./data"
	DefaultStagingModel  = "stg_stock_prices"
	DefaultLockTTL       = 6 * time.Hour
	DefaultMaxParallel   = 1
	IngestModeInProcess  = "inprocess"
	IngestModeSubprocess = "subprocess"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Dbt       DbtConfig       `yaml:"dbt"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Execution ExecutionConfig `yaml:"execution"`
	Events    EventsConfig    `yaml:"events"`

	// RunsURL selects run history storage: file://<dir> or postgres://...
	RunsURL string `yaml:"runs_url" env:"RUNS_URL" validate:"required"`

	// DependencyRules maps a transformation node name to extra upstream node ids.
	DependencyRules map[string][]string `yaml:"dependency_rules"`
}

type DatabaseConfig struct {
	Name     string `yaml:"name" env:"DB_NAME" validate:"required"`
	User     string `yaml:"user" env:"DB_USER" validate:"required"`
	Password string `yaml:"-" env:"DB_PASS" validate:"required"`
	Host     string `yaml:"host" env:"DB_HOST" validate:"required,hostname_rfc1123|ip"`
	Port     int    `yaml:"port" env:"DB_PORT" validate:"required,min=1,max=65535"`
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSLMODE" validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

type IngestionConfig struct {
	Entities    []models.Entity `yaml:"entities" env:"TICKERS" validate:"min=1,dive,required"`
	RawSchema   string          `yaml:"raw_schema" env:"RAW_SCHEMA" validate:"required"`
	ProviderURL string          `yaml:"provider_url" env:"PROVIDER_URL" validate:"required,url"`
	Mode        string          `yaml:"mode" env:"INGEST_MODE" validate:"oneof=inprocess subprocess"`
}

type DbtConfig struct {
	Executable   string `yaml:"executable" env:"DBT_EXECUTABLE" validate:"required"`
	ProjectDir   string `yaml:"project_dir" env:"DBT_PROJECT_DIR" validate:"required"`
	ProfilesDir  string `yaml:"profiles_dir" env:"DBT_PROFILES_DIR"`
	Target       string `yaml:"target" env:"DBT_TARGET"`
	ManifestPath string `yaml:"manifest_path" env:"DBT_MANIFEST_PATH" validate:"required"`
}

type ScheduleConfig struct {
	Cron     string        `yaml:"cron" env:"SCHEDULE_CRON" validate:"required,cron"`
	Timezone string        `yaml:"timezone" env:"SCHEDULE_TIMEZONE" validate:"timezone"`
	RedisURL string        `yaml:"redis_url" env:"REDIS_URL"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"LOCK_TTL" validate:"min=0"`
}

type ExecutionConfig struct {
	MaxParallelNodes int `yaml:"max_parallel_nodes" env:"MAX_PARALLEL_NODES" validate:"min=1"`
}

type EventsConfig struct {
	Bus          string   `yaml:"bus" env:"EVENT_BUS" validate:"oneof=gochannel kafka"`
	KafkaBrokers []string `yaml:"kafka_brokers" env:"KAFKA_BROKERS" validate:"required_if=Bus kafka"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Name:    "personal_analytics",
			User:    "postgres",
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Ingestion: IngestionConfig{
			Entities:    append([]models.Entity(nil), DefaultEntities...),
			RawSchema:   DefaultRawSchema,
			ProviderURL: DefaultProviderURL,
			Mode:        IngestModeInProcess,
		},
		Dbt: DbtConfig{
			Executable:   "dbt",
			ProjectDir:   ".",
			ManifestPath: DefaultManifestPath,
		},
		Schedule: ScheduleConfig{
			Cron:     DefaultSchedule,
			Timezone: "Local",
			LockTTL:  DefaultLockTTL,
		},
		Execution: ExecutionConfig{
			MaxParallelNodes: DefaultMaxParallel,
		},
		Events: EventsConfig{
			Bus: "gochannel",
		},
		RunsURL: DefaultRunsURL,
		DependencyRules: map[string][]string{
			DefaultStagingModel: {models.RawIngestionNodeID()},
		},
	}
}

// LoadDotEnv loads KEY=VALUE files into the process environment without overriding
// variables that are already set. A missing default .env file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		err := godotenv.Load()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		return nil
	}

	err := godotenv.Load(files...)
	if err != nil {
		return fmt.Errorf("failed to load env files %s: %w", strings.Join(files, ", "), err)
	}

	return nil
}

// Load builds the configuration. path is an optional YAML file; lookup reads environment
// variables and is usually os.LookupEnv.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = yaml.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	err := cfg.applyEnv(lookup)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var invalid []string

	str := func(target *string, key string) {
		if value, ok := lookup(key); ok && value != "" {
			*target = value
		}
	}

	integer := func(target *int, key string) {
		if value, ok := lookup(key); ok && value != "" {
			parsed, err := strconv.Atoi(value)
			if err != nil {
				invalid = append(invalid, key)

				return
			}

			*target = parsed
		}
	}

	str(&c.Database.Name, "DB_NAME")
	str(&c.Database.User, "DB_USER")
	str(&c.Database.Password, "DB_PASS")
	str(&c.Database.Host, "DB_HOST")
	integer(&c.Database.Port, "DB_PORT")
	str(&c.Database.SSLMode, "DB_SSLMODE")

	if value, ok := lookup("TICKERS"); ok && value != "" {
		c.Ingestion.Entities = models.ParseEntities(value)
	}

	str(&c.Ingestion.RawSchema, "RAW_SCHEMA")
	str(&c.Ingestion.ProviderURL, "PROVIDER_URL")
	str(&c.Ingestion.Mode, "INGEST_MODE")

	str(&c.Dbt.Executable, "DBT_EXECUTABLE")
	str(&c.Dbt.ProjectDir, "DBT_PROJECT_DIR")
	str(&c.Dbt.ProfilesDir, "DBT_PROFILES_DIR")
	str(&c.Dbt.Target, "DBT_TARGET")
	str(&c.Dbt.ManifestPath, "DBT_MANIFEST_PATH")

	str(&c.Schedule.Cron, "SCHEDULE_CRON")
	str(&c.Schedule.Timezone, "SCHEDULE_TIMEZONE")
	str(&c.Schedule.RedisURL, "REDIS_URL")

	if value, ok := lookup("LOCK_TTL"); ok && value != "" {
		ttl, err := time.ParseDuration(value)
		if err != nil {
			invalid = append(invalid, "LOCK_TTL")
		} else {
			c.Schedule.LockTTL = ttl
		}
	}

	integer(&c.Execution.MaxParallelNodes, "MAX_PARALLEL_NODES")

	str(&c.Events.Bus, "EVENT_BUS")

	if value, ok := lookup("KAFKA_BROKERS"); ok && value != "" {
		c.Events.KafkaBrokers = strings.Split(value, ",")
	}

	str(&c.RunsURL, "RUNS_URL")

	if len(invalid) > 0 {
		return &ConfigurationError{Fields: invalid}
	}

	return nil
}

// Location resolves the schedule timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Schedule.Timezone)
}

// ManifestPath returns the manifest location, relative paths resolved against the dbt project.
func (c *Config) ManifestPath() string {
	if strings.HasPrefix(c.Dbt.ManifestPath, "/") {
		return c.Dbt.ManifestPath
	}

	return strings.TrimSuffix(c.Dbt.ProjectDir, "/") + "/" + c.Dbt.ManifestPath
}

// URL returns the libpq connection URL for the database.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   d.Host + ":" + strconv.Itoa(d.Port),
		Path:   "/" + d.Name,
	}

	query := url.Values{}
	query.Set("sslmode", d.SSLMode)
	u.RawQuery = query.Encode()

	return u.String()
}
