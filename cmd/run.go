package cmd

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Jaleleddine/deb/internal/config"
	"github.com/Jaleleddine/deb/internal/logging"
	"github.com/Jaleleddine/deb/internal/metrics"
	"github.com/Jaleleddine/deb/internal/pipeline"
	"github.com/Jaleleddine/deb/internal/storage"
	"github.com/Jaleleddine/deb/internal/warehouse"
	"github.com/Jaleleddine/deb/internal/warehouse/bigquery"
	"github.com/Jaleleddine/deb/internal/warehouse/postgres"
)

func newPassengersCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "passengers",
		Short: "Normalize passengers, derive uid and load them",
		Long: `
Reads pipelines.passengers.input_path, title-cases the name fields, adds
full_name and uid (SHA-256 of the email), writes Parquet to
pipelines.passengers.output_path and loads it into
pipelines.passengers.table_name.
`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runJob(c, stdout, pipeline.JobPassengers)
		},
	}
}

func newPaymentsCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "payments",
		Short: "Derive address and card identifiers and load them",
		Long: `
Reads pipelines.addresses and pipelines.cards, adds addr_uid and card_uid,
and writes and loads both sets. When pipelines.passengers is configured the
passenger uid is joined onto both sets by email.
`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runJob(c, stdout, pipeline.JobPayments)
		},
	}
}

func runJob(c *cobra.Command, stdout io.Writer, job string) error {
	configFile, err := c.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configFile, c.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() // nolint: errcheck
	logger = logger.With(zap.String("job", job))

	ctx := c.Context()
	resolver := storage.NewResolver(storage.Options{
		Region:   cfg.Storage.Region,
		Endpoint: cfg.Storage.Endpoint,
	})
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("failed to close storage clients", zap.Error(err))
		}
	}()

	loader, closeWarehouse, err := newLoader(ctx, cfg, resolver, logger)
	if err != nil {
		return err
	}
	defer closeWarehouse()

	m := metrics.New()
	runner := pipeline.NewRunner(cfg, pipeline.Deps{
		Resolver: resolver,
		Loader:   loader,
		Metrics:  m,
		Logger:   logger,
	})

	logger.Info("starting job", zap.String("warehouse", cfg.Warehouse.Backend))
	var stats pipeline.Stats
	switch job {
	case pipeline.JobPassengers:
		stats, err = runner.Passengers(ctx)
	case pipeline.JobPayments:
		stats, err = runner.Payments(ctx)
	default:
		err = errors.Errorf("unknown job %q", job)
	}

	if url := cfg.Metrics.Pushgateway; url != "" {
		if perr := m.Push(context.Background(), url, cfg.Metrics.Job); perr != nil {
			logger.Warn("failed to push metrics", zap.Error(perr))
		}
	}
	if err != nil {
		logger.Error("job failed", zap.Error(err))
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// newLoader builds the configured warehouse and its loader. The loader is
// nil for the none backend.
func newLoader(ctx context.Context, cfg *config.Config, resolver *storage.Resolver, logger *zap.Logger) (*warehouse.Loader, func(), error) {
	var (
		wh      warehouse.Warehouse
		closeFn func()
	)
	switch cfg.Warehouse.Backend {
	case config.BackendNone:
		return nil, func() {}, nil
	case config.BackendBigQuery:
		bq, err := bigquery.New(ctx, cfg.Warehouse.Project)
		if err != nil {
			return nil, nil, err
		}
		wh = bq
		closeFn = func() {
			if err := bq.Close(); err != nil {
				logger.Warn("failed to close bigquery client", zap.Error(err))
			}
		}
	case config.BackendPostgres:
		pg, err := postgres.New(ctx, cfg.Warehouse.DSN, resolver, logger)
		if err != nil {
			return nil, nil, err
		}
		wh = pg
		closeFn = pg.Close
	default:
		return nil, nil, errors.Errorf("unknown warehouse backend %q", cfg.Warehouse.Backend)
	}

	loader := warehouse.NewLoader(wh, resolver, warehouse.Options{
		Selection:    cfg.Selection(),
		PollInterval: cfg.Warehouse.PollInterval,
		Timeout:      cfg.Warehouse.Timeout,
	}, logger)
	return loader, closeFn, nil
}
