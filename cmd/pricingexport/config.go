package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AntonStoeckl/composite-export-go/exportsource/postgresengine"
)

const (
	driverPGX  = "pgx"
	driverSQL  = "sql"
	driverSQLX = "sqlx"

	logFormatText = "text"
	logFormatJSON = "json"

	defaultDriver         = driverPGX
	defaultPageSize       = 500
	defaultMaxConns       = int32(10)
	defaultConnectTimeout = 5 * time.Second
	defaultLogLevel       = "info"
	defaultOut            = "-"

	envDSN            = "PRICINGEXPORT_DSN"
	envReplicaDSN     = "PRICINGEXPORT_REPLICA_DSN"
	envDriver         = "PRICINGEXPORT_DRIVER"
	envPageSize       = "PRICINGEXPORT_PAGE_SIZE"
	envMetricsFile    = "PRICINGEXPORT_METRICS_FILE"
	envLogLevel       = "PRICINGEXPORT_LOG_LEVEL"
	envCheckpointFile = "PRICINGEXPORT_CHECKPOINT"
)

var (
	errReadingConfigFailed = errors.New("reading config file failed")
	errParsingConfigFailed = errors.New("parsing config file failed")
	errLoadingEnvFailed    = errors.New("loading env file failed")
	errInvalidConfig       = errors.New("invalid configuration")
)

// Config is the complete configuration of a pricing export run.
// Precedence from low to high: defaults, yaml config file, environment (including the .env file), flags.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Export   ExportConfig   `yaml:"export"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type DatabaseConfig struct {
	Driver         string        `yaml:"driver"`
	DSN            string        `yaml:"dsn"`
	ReplicaDSN     string        `yaml:"replica_dsn"`
	MaxConns       int32         `yaml:"max_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Tables         TablesConfig  `yaml:"tables"`
}

type TablesConfig struct {
	Pricelists  string `yaml:"pricelists"`
	Assignments string `yaml:"assignments"`
	Prices      string `yaml:"prices"`
}

type ExportConfig struct {
	PageSize            int         `yaml:"page_size"`
	MaxConcurrency      int         `yaml:"max_concurrency"`
	ObjectIDs           []string    `yaml:"object_ids"`
	Sort                string      `yaml:"sort"`
	Out                 string      `yaml:"out"`
	Checkpoint          string      `yaml:"checkpoint"`
	EventualConsistency bool        `yaml:"eventual_consistency"`
	Retry               RetryConfig `yaml:"retry"`
}

// RetryConfig controls how often a failed database round trip is retried before the run fails.
type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	File      string `yaml:"file"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the configuration used when nothing else is given.
func DefaultConfig() Config {
	tables := postgresengine.DefaultTableNames()

	return Config{
		Database: DatabaseConfig{
			Driver:         defaultDriver,
			MaxConns:       defaultMaxConns,
			ConnectTimeout: defaultConnectTimeout,
			Tables: TablesConfig{
				Pricelists:  tables.Pricelists,
				Assignments: tables.Assignments,
				Prices:      tables.Prices,
			},
		},
		Export: ExportConfig{
			PageSize: defaultPageSize,
			Out:      defaultOut,
			Retry: RetryConfig{
				Attempts:  defaultRetryAttempts,
				BaseDelay: defaultRetryBaseDelay,
			},
		},
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: logFormatText,
		},
	}
}

// LoadConfigFile merges the yaml file at path over cfg. Keys missing in the file keep their current value.
func LoadConfigFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Join(errReadingConfigFailed, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Join(errParsingConfigFailed, err)
	}

	return cfg, nil
}

// LoadEnvFile loads the dotenv file at path into the process environment without overriding set variables.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return errors.Join(errLoadingEnvFailed, err)
	}

	return nil
}

// ApplyEnv overrides cfg with the PRICINGEXPORT_* environment variables that are set.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	if v, ok := lookup(envDSN); ok {
		cfg.Database.DSN = v
	}

	if v, ok := lookup(envReplicaDSN); ok {
		cfg.Database.ReplicaDSN = v
	}

	if v, ok := lookup(envDriver); ok {
		cfg.Database.Driver = v
	}

	if v, ok := lookup(envPageSize); ok {
		pageSize, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Join(errInvalidConfig, fmt.Errorf("%s: %w", envPageSize, err))
		}

		cfg.Export.PageSize = pageSize
	}

	if v, ok := lookup(envMetricsFile); ok {
		cfg.Metrics.File = v
	}

	if v, ok := lookup(envLogLevel); ok {
		cfg.Log.Level = v
	}

	if v, ok := lookup(envCheckpointFile); ok {
		cfg.Export.Checkpoint = v
	}

	return cfg, nil
}

// Validate checks the parts of the configuration that are not validated by the export packages themselves.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case driverPGX, driverSQL, driverSQLX:
	default:
		return errors.Join(errInvalidConfig, fmt.Errorf("unknown driver %q, use one of pgx, sql, sqlx", c.Database.Driver))
	}

	if c.Database.DSN == "" {
		return errors.Join(errInvalidConfig, fmt.Errorf("no dsn given, use --dsn, %s or the config file", envDSN))
	}

	if c.Database.MaxConns <= 0 {
		return errors.Join(errInvalidConfig, fmt.Errorf("max_conns must be greater than zero, got %d", c.Database.MaxConns))
	}

	if c.Database.ConnectTimeout <= 0 {
		return errors.Join(errInvalidConfig, fmt.Errorf("connect_timeout must be greater than zero, got %s", c.Database.ConnectTimeout))
	}

	if c.Database.ReplicaDSN != "" && c.Database.Driver != driverPGX {
		return errors.Join(errInvalidConfig, errors.New("a replica dsn is only supported with the pgx driver"))
	}

	if c.Export.Retry.Attempts <= 0 {
		return errors.Join(errInvalidConfig, fmt.Errorf("retry attempts must be greater than zero, got %d", c.Export.Retry.Attempts))
	}

	if c.Export.Retry.BaseDelay < 0 {
		return errors.Join(errInvalidConfig, fmt.Errorf("retry base_delay must not be negative, got %s", c.Export.Retry.BaseDelay))
	}

	switch c.Log.Format {
	case logFormatText, logFormatJSON:
	default:
		return errors.Join(errInvalidConfig, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if _, err := parseLogLevel(c.Log.Level); err != nil {
		return errors.Join(errInvalidConfig, err)
	}

	return nil
}

// TableNames converts the tables section for postgresengine.WithTableNames.
func (t TablesConfig) TableNames() postgresengine.TableNames {
	return postgresengine.TableNames{
		Pricelists:  t.Pricelists,
		Assignments: t.Assignments,
		Prices:      t.Prices,
	}
}

func normalizeObjectIDs(ids []string) []string {
	normalized := make([]string, 0, len(ids))
	for _, id := range ids {
		for _, part := range strings.Split(id, ",") {
			if part = strings.TrimSpace(part); part != "" {
				normalized = append(normalized, part)
			}
		}
	}

	return normalized
}
