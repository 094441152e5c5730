package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
	"github.com/AntonStoeckl/composite-export-go/exportsource/composite"
	"github.com/AntonStoeckl/composite-export-go/exportsource/postgresengine"
)

const (
	cmdRoot   = "pricingexport"
	cmdExport = "export"
	cmdCount  = "count"
	cmdSchema = "schema"

	flagConfig         = "config"
	flagEnvFile        = "env-file"
	flagDSN            = "dsn"
	flagReplicaDSN     = "replica-dsn"
	flagDriver         = "driver"
	flagLogLevel       = "log-level"
	flagLogFormat      = "log-format"
	flagMetricsFile    = "metrics-file"
	flagPageSize       = "page-size"
	flagMaxConcurrency = "max-concurrency"
	flagObjectID       = "object-id"
	flagSort           = "sort"
	flagOut            = "out"
	flagCheckpoint     = "checkpoint"
	flagEventual       = "eventual"
	flagPrint          = "print"
	flagRetryAttempts  = "retry-attempts"
	flagRetryBaseDelay = "retry-base-delay"

	defaultEnvFile = ".env"
)

// app holds what the commands need from the outside world, tests replace the source opener and the writers.
type app struct {
	openSources sourceOpener
	stdout      io.Writer
	stderr      io.Writer
	lookupEnv   func(string) (string, bool)
}

func newApp() *app {
	return &app{
		openSources: openPostgresSources,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		lookupEnv:   os.LookupEnv,
	}
}

// flagValues receives the flag values; only flags the user actually set override the configuration.
type flagValues struct {
	configPath     string
	envFile        string
	dsn            string
	replicaDSN     string
	driver         string
	logLevel       string
	logFormat      string
	metricsFile    string
	pageSize       int
	maxConcurrency int
	objectIDs      []string
	sort           string
	out            string
	checkpoint     string
	eventual       bool
	printOnly      bool
	retryAttempts  int
	retryBaseDelay time.Duration
}

func (a *app) rootCommand() *cobra.Command {
	flags := &flagValues{}

	root := &cobra.Command{
		Use:   cmdRoot,
		Short: "Export pricelists, pricelist assignments and prices as one paginated stream",
		Long: `pricingexport reads pricelists, pricelist assignments and prices from PostgreSQL and
writes them as JSON lines, in this order, page by page.

Configuration is read from a yaml file (--config), the environment (PRICINGEXPORT_*,
also loaded from --env-file) and flags, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	persistent := root.PersistentFlags()
	persistent.StringVar(&flags.configPath, flagConfig, "", "yaml config file")
	persistent.StringVar(&flags.envFile, flagEnvFile, defaultEnvFile, "dotenv file, ignored if missing")
	persistent.StringVar(&flags.dsn, flagDSN, "", "PostgreSQL connection string")
	persistent.StringVar(&flags.replicaDSN, flagReplicaDSN, "", "PostgreSQL replica connection string (pgx only)")
	persistent.StringVar(&flags.driver, flagDriver, defaultDriver, "database driver: pgx, sql or sqlx")
	persistent.StringVar(&flags.logLevel, flagLogLevel, defaultLogLevel, "log level: debug, info, warn or error")
	persistent.StringVar(&flags.logFormat, flagLogFormat, logFormatText, "log format: text or json")
	persistent.StringVar(&flags.metricsFile, flagMetricsFile, "", "write Prometheus metrics to this file when done")
	persistent.IntVar(&flags.retryAttempts, flagRetryAttempts, defaultRetryAttempts, "attempts per database round trip, 1 disables retries")
	persistent.DurationVar(&flags.retryBaseDelay, flagRetryBaseDelay, defaultRetryBaseDelay, "delay before the first retry, doubled for every further one")

	root.AddCommand(a.exportCommand(flags), a.countCommand(flags), a.schemaCommand(flags))

	return root
}

func (a *app) exportCommand(flags *flagValues) *cobra.Command {
	cmd := &cobra.Command{
		Use:   cmdExport,
		Short: "Export all pricing data as JSON lines",
		Long: `Export all pricing data as JSON lines.

With --checkpoint the cursor is stored after every page. A run that finds a checkpoint
resumes where the previous run stopped and appends to --out; a completed run removes it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.resolveConfig(cmd, flags)
			if err != nil {
				return err
			}

			return a.runExport(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.IntVar(&flags.pageSize, flagPageSize, defaultPageSize, "number of items per page")
	f.IntVar(&flags.maxConcurrency, flagMaxConcurrency, 0, "max sources queried at the same time, 0 means all")
	f.StringSliceVar(&flags.objectIDs, flagObjectID, nil, "restrict the export to these pricelist ids")
	f.StringVar(&flags.sort, flagSort, "", `sort expression, e.g. "name:asc;created_at:desc"`)
	f.StringVar(&flags.out, flagOut, defaultOut, `output file, "-" for stdout`)
	f.StringVar(&flags.checkpoint, flagCheckpoint, "", "checkpoint file for resumable exports")
	f.BoolVar(&flags.eventual, flagEventual, false, "allow reads from the replica")

	return cmd
}

func (a *app) countCommand(flags *flagValues) *cobra.Command {
	cmd := &cobra.Command{
		Use:   cmdCount,
		Short: "Print the number of items every source would export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.resolveConfig(cmd, flags)
			if err != nil {
				return err
			}

			return a.runCount(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&flags.objectIDs, flagObjectID, nil, "restrict the count to these pricelist ids")
	f.BoolVar(&flags.eventual, flagEventual, false, "allow reads from the replica")

	return cmd
}

func (a *app) schemaCommand(flags *flagValues) *cobra.Command {
	cmd := &cobra.Command{
		Use:   cmdSchema,
		Short: "Create the pricing tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.resolveConfig(cmd, flags)
			if err != nil {
				return err
			}

			return a.runSchema(cmd.Context(), cfg, flags.printOnly)
		},
	}

	cmd.Flags().BoolVar(&flags.printOnly, flagPrint, false, "only print the statements")

	return cmd
}

// resolveConfig merges defaults, config file, environment and the flags the user set.
func (a *app) resolveConfig(cmd *cobra.Command, flags *flagValues) (Config, error) {
	cfg := DefaultConfig()

	if err := LoadEnvFile(flags.envFile); err != nil {
		return Config{}, err
	}

	if flags.configPath != "" {
		var err error
		if cfg, err = LoadConfigFile(cfg, flags.configPath); err != nil {
			return Config{}, err
		}
	}

	cfg, err := ApplyEnv(cfg, a.lookupEnv)
	if err != nil {
		return Config{}, err
	}

	applyFlags(cmd, flags, &cfg)
	cfg.Export.ObjectIDs = normalizeObjectIDs(cfg.Export.ObjectIDs)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyFlags(cmd *cobra.Command, flags *flagValues, cfg *Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed(flagDSN) {
		cfg.Database.DSN = flags.dsn
	}

	if changed(flagReplicaDSN) {
		cfg.Database.ReplicaDSN = flags.replicaDSN
	}

	if changed(flagDriver) {
		cfg.Database.Driver = flags.driver
	}

	if changed(flagLogLevel) {
		cfg.Log.Level = flags.logLevel
	}

	if changed(flagLogFormat) {
		cfg.Log.Format = flags.logFormat
	}

	if changed(flagMetricsFile) {
		cfg.Metrics.File = flags.metricsFile
	}

	if changed(flagRetryAttempts) {
		cfg.Export.Retry.Attempts = flags.retryAttempts
	}

	if changed(flagRetryBaseDelay) {
		cfg.Export.Retry.BaseDelay = flags.retryBaseDelay
	}

	if changed(flagPageSize) {
		cfg.Export.PageSize = flags.pageSize
	}

	if changed(flagMaxConcurrency) {
		cfg.Export.MaxConcurrency = flags.maxConcurrency
	}

	if changed(flagObjectID) {
		cfg.Export.ObjectIDs = flags.objectIDs
	}

	if changed(flagSort) {
		cfg.Export.Sort = flags.sort
	}

	if changed(flagOut) {
		cfg.Export.Out = flags.out
	}

	if changed(flagCheckpoint) {
		cfg.Export.Checkpoint = flags.checkpoint
	}

	if changed(flagEventual) {
		cfg.Export.EventualConsistency = flags.eventual
	}
}

// pipeline is everything an export or count run needs, built from the configuration.
type pipeline struct {
	sources   pricingSources
	composite *composite.Composite
	logger    *slog.Logger
	metrics   metrics
	retry     RetryConfig
}

func (a *app) openPipeline(ctx context.Context, cfg Config) (*pipeline, error) {
	logger := newLogger(cfg.Log, a.stderr)

	m, err := newMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	sourceOptions := []postgresengine.Option{postgresengine.WithContextualLogger(logger)}
	compositeOptions := []composite.Option{
		composite.WithPageSize(cfg.Export.PageSize),
		composite.WithContextualLogger(logger),
	}

	if cfg.Export.MaxConcurrency > 0 {
		compositeOptions = append(compositeOptions, composite.WithMaxConcurrency(cfg.Export.MaxConcurrency))
	}

	if m.enabled() {
		sourceOptions = append(sourceOptions, postgresengine.WithMetrics(m.collector))
		compositeOptions = append(compositeOptions, composite.WithMetrics(m.collector))
	}

	sources, err := a.openSources(ctx, cfg.Database, sourceOptions...)
	if err != nil {
		return nil, err
	}

	c, err := composite.NewComposite(sources.All(), compositeOptions...)
	if err != nil {
		sources.Close()
		return nil, err
	}

	return &pipeline{sources: sources, composite: c, logger: logger, metrics: m, retry: cfg.Export.Retry}, nil
}

// retryOptions configures retryWithExponentialBackoff for one operation of this pipeline.
func (s *pipeline) retryOptions(operation string) []retryOption {
	options := []retryOption{
		withMaxAttempts(s.retry.Attempts),
		withBaseDelay(s.retry.BaseDelay),
	}

	if s.metrics.enabled() {
		options = append(options, withRetryMetrics(s.metrics.collector, operation))
	}

	return options
}

// close releases the database and writes the metrics file, also after a failed run.
func (s *pipeline) close(runErr error) error {
	s.sources.Close()

	return errors.Join(runErr, s.metrics.write())
}

func exportQuery(cfg ExportConfig) (exportsource.ExportQuery, error) {
	return exportsource.BuildExportQuery().
		WithObjectIDs(cfg.ObjectIDs...).
		SortedBy(cfg.Sort).
		Finalize()
}

func consistencyContext(ctx context.Context, cfg ExportConfig) context.Context {
	level := exportsource.StrongConsistency
	if cfg.EventualConsistency {
		level = exportsource.EventualConsistency
	}

	return exportsource.WithConsistencyLevel(ctx, level)
}

func (a *app) runExport(ctx context.Context, cfg Config) (err error) {
	query, err := exportQuery(cfg.Export)
	if err != nil {
		return err
	}

	s, err := a.openPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = s.close(err) }()

	ctx = consistencyContext(ctx, cfg.Export)

	run := exportRun{
		composite:  s.composite,
		checkpoint: checkpoint{path: cfg.Export.Checkpoint},
		logger:     s.logger,
		retry:      s.retryOptions,
	}

	point, err := run.openCursor(ctx, query)
	if err != nil {
		return err
	}

	out, err := openOutput(cfg.Export.Out, a.stdout, point)
	if err != nil {
		return err
	}

	_, runErr := run.run(ctx, point, out)

	return errors.Join(runErr, out.Close())
}

func (a *app) runCount(ctx context.Context, cfg Config) (err error) {
	query, err := exportQuery(cfg.Export)
	if err != nil {
		return err
	}

	s, err := a.openPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = s.close(err) }()

	var cursor composite.Cursor
	err = retryWithExponentialBackoff(consistencyContext(ctx, cfg.Export), func(ctx context.Context) error {
		var openErr error
		cursor, openErr = s.composite.Open(ctx, query)
		return openErr
	}, s.retryOptions(operationOpen)...)
	if err != nil {
		return err
	}

	for _, state := range cursor.States() {
		if _, err := fmt.Fprintf(a.stdout, "%s\t%d\n", state.Name, state.TotalCount); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(a.stdout, "total\t%d\n", cursor.TotalCount())

	return err
}

func (a *app) runSchema(ctx context.Context, cfg Config, printOnly bool) (err error) {
	sources, err := a.openSources(ctx, cfg.Database, postgresengine.WithContextualLogger(newLogger(cfg.Log, a.stderr)))
	if err != nil {
		return err
	}
	defer sources.Close()

	if printOnly {
		_, err := fmt.Fprintln(a.stdout, strings.Join(sources.CreateSchemaSQL(), ";\n\n")+";")
		return err
	}

	return sources.EnsureSchema(ctx)
}
