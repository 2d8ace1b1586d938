// Package pipeline runs the passengers and payments jobs: read CSV,
// normalize, hash, write Parquet and load into the warehouse.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Jaleleddine/deb/internal/columnar"
	"github.com/Jaleleddine/deb/internal/config"
	"github.com/Jaleleddine/deb/internal/identity"
	"github.com/Jaleleddine/deb/internal/metrics"
	"github.com/Jaleleddine/deb/internal/normalize"
	"github.com/Jaleleddine/deb/internal/record"
	"github.com/Jaleleddine/deb/internal/warehouse"
)

// Job names.
const (
	JobPassengers = "passengers"
	JobPayments   = "payments"
)

// Stage labels used in logs and metrics.
const (
	stageRead      = "read"
	stageTransform = "transform"
	stageWrite     = "write"
	stageLoad      = "load"
)

// linkField joins payments records to passengers.
const linkField = "email"

// Resolver opens inputs and serves the stores outputs are written to.
type Resolver interface {
	columnar.Resolver
	Open(ctx context.Context, raw string) (io.ReadCloser, error)
}

// Deps are the clients a Runner uses. Loader is nil when the run stops
// after the Parquet write.
type Deps struct {
	Resolver Resolver
	Loader   *warehouse.Loader
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Runner executes jobs against one configuration.
type Runner struct {
	cfg      *config.Config
	resolver Resolver
	loader   *warehouse.Loader
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewRunner returns a Runner. A nil Metrics gets a private registry.
func NewRunner(cfg *config.Config, deps Deps) *Runner {
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		resolver: deps.Resolver,
		loader:   deps.Loader,
		metrics:  m,
		logger:   logger,
	}
}

// dataset is a transformed record set waiting to be persisted.
type dataset struct {
	pipeline config.Pipeline
	table    *record.Table
	stats    DatasetStats
	start    time.Time
}

// Passengers normalizes names, derives uid and persists the result.
func (r *Runner) Passengers(ctx context.Context) (Stats, error) {
	stats := newStats(JobPassengers)

	p, err := r.cfg.Pipeline(config.PipelinePassengers)
	if err != nil {
		return r.finish(stats, err)
	}
	ds, err := r.prepare(ctx, p, passengerTransform)
	if err != nil {
		return r.finish(stats, err)
	}
	err = r.persist(ctx, ds)
	stats.add(ds.stats)
	return r.finish(stats, err)
}

// Payments derives addr_uid and card_uid and, when the passengers pipeline
// is configured, links both sets to passengers by email. Both sets are
// read and checked before anything is written.
func (r *Runner) Payments(ctx context.Context) (Stats, error) {
	stats := newStats(JobPayments)

	addresses, err := r.cfg.Pipeline(config.PipelineAddresses)
	if err != nil {
		return r.finish(stats, err)
	}
	cards, err := r.cfg.Pipeline(config.PipelineCards)
	if err != nil {
		return r.finish(stats, err)
	}

	var passengers *record.Table
	if r.cfg.HasPipeline(config.PipelinePassengers) {
		if passengers, err = r.passengerIDs(ctx); err != nil {
			return r.finish(stats, err)
		}
	}

	var sets []*dataset
	for _, step := range []struct {
		pipeline config.Pipeline
		key      identity.Key
	}{
		{addresses, identity.AddressV1},
		{cards, identity.CardV1},
	} {
		ds, err := r.prepare(ctx, step.pipeline, paymentTransform(step.key, passengers))
		if err != nil {
			return r.finish(stats, err)
		}
		sets = append(sets, ds)
	}

	for _, ds := range sets {
		err := r.persist(ctx, ds)
		stats.add(ds.stats)
		if err != nil {
			return r.finish(stats, err)
		}
	}
	return r.finish(stats, nil)
}

type transform func(t *record.Table) (*record.Table, error)

func passengerTransform(t *record.Table) (*record.Table, error) {
	return identity.Hash(identity.PassengerV1, normalize.PassengerV1.Apply(t))
}

func paymentTransform(key identity.Key, passengers *record.Table) transform {
	return func(t *record.Table) (*record.Table, error) {
		out, err := identity.Hash(key, t)
		if err != nil {
			return nil, err
		}
		if passengers == nil {
			return out, nil
		}
		return identity.Attach(out, passengers, linkField, identity.PassengerV1.Target)
	}
}

// passengerIDs reads the passengers input and derives uid for the link.
func (r *Runner) passengerIDs(ctx context.Context) (*record.Table, error) {
	p, err := r.cfg.Pipeline(config.PipelinePassengers)
	if err != nil {
		return nil, err
	}
	t, err := r.read(ctx, p.InputPath)
	if err != nil {
		return nil, err
	}
	r.logger.Info("passenger link loaded", zap.String("input", p.InputPath), zap.Int("rows", t.Len()))
	return identity.Hash(identity.PassengerV1, t)
}

func (r *Runner) read(ctx context.Context, input string) (*record.Table, error) {
	rc, err := r.resolver.Open(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", input)
	}
	defer rc.Close()

	t, err := record.ReadCSV(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", input)
	}
	return t, nil
}

// prepare runs the read and transform stages.
func (r *Runner) prepare(ctx context.Context, p config.Pipeline, fn transform) (*dataset, error) {
	logger := r.logger.With(zap.String("dataset", p.Name))
	ds := &dataset{
		pipeline: p,
		start:    time.Now(),
		stats:    DatasetStats{Dataset: p.Name, Input: p.InputPath, Output: p.OutputPath},
	}

	start := time.Now()
	t, err := r.read(ctx, p.InputPath)
	if err != nil {
		return nil, err
	}
	r.metrics.ObserveStage(p.Name, stageRead, start)
	r.metrics.RowsRead.WithLabelValues(p.Name).Add(float64(t.Len()))
	ds.stats.RowsRead = int64(t.Len())
	logger.Info("input read", zap.String("input", p.InputPath), zap.Int("rows", t.Len()),
		zap.Strings("columns", t.Columns()))

	start = time.Now()
	if ds.table, err = fn(t); err != nil {
		return nil, errors.Wrapf(err, "failed to transform %s", p.Name)
	}
	r.metrics.ObserveStage(p.Name, stageTransform, start)
	logger.Info("records transformed", zap.Int("rows", ds.table.Len()),
		zap.Strings("columns", ds.table.Columns()))
	return ds, nil
}

// persist runs the write and load stages, filling ds.stats as it goes.
func (r *Runner) persist(ctx context.Context, ds *dataset) error {
	p := ds.pipeline
	logger := r.logger.With(zap.String("dataset", p.Name))
	defer func() { ds.stats.Duration = time.Since(ds.start).String() }()

	sink := columnar.NewSink(r.resolver, columnar.Options{
		Policy:      p.OverwritePolicy,
		RowsPerFile: r.cfg.Storage.RowsPerFile,
		Concurrency: r.cfg.Storage.Concurrency,
		TempDir:     r.cfg.Storage.TempDir,
		Probe:       r.cfg.Storage.Probe,
	}, logger)

	start := time.Now()
	manifest, err := sink.Write(ctx, ds.table, p.OutputPath)
	if err != nil {
		return errors.Wrapf(err, "failed to write %s", p.Name)
	}
	r.metrics.ObserveStage(p.Name, stageWrite, start)
	r.metrics.RowsWritten.WithLabelValues(p.Name).Add(float64(manifest.Rows))
	r.metrics.Artifacts.WithLabelValues(p.Name).Add(float64(len(manifest.Artifacts)))
	ds.stats.RowsWritten = manifest.Rows
	ds.stats.Artifacts = manifest.Artifacts
	ds.stats.RunID = manifest.RunID

	if r.loader == nil {
		logger.Info("no warehouse configured, skipping load")
		return nil
	}

	start = time.Now()
	res, err := r.loader.Load(ctx, warehouse.Request{
		Table:    p.TableName,
		Mode:     p.LoadMode,
		Manifest: &manifest,
	})
	r.metrics.LoadJobs.WithLabelValues(p.Name, outcome(err)).Inc()
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", p.Name)
	}
	r.metrics.ObserveStage(p.Name, stageLoad, start)
	r.metrics.TableRows.WithLabelValues(p.Name, p.TableName).Set(float64(res.Rows))
	ds.stats.Table = p.TableName
	ds.stats.JobID = res.JobID
	ds.stats.TableRows = res.Rows
	return nil
}

func outcome(err error) string {
	var (
		notFound *warehouse.NotFoundError
		ingest   *warehouse.IngestError
	)
	switch {
	case err == nil:
		return metrics.OutcomeSucceeded
	case errors.As(err, &notFound):
		return metrics.OutcomeNotFound
	case errors.As(err, &ingest):
		return metrics.OutcomeFailed
	}
	return metrics.OutcomeError
}

// finish stamps the run duration and writes the stats file when one is
// configured. A stats failure is logged, never returned.
func (r *Runner) finish(stats Stats, runErr error) (Stats, error) {
	stats.done()
	if runErr != nil {
		stats.Error = runErr.Error()
	}
	if path := r.cfg.StatsPath; path != "" {
		if err := stats.WriteFile(path); err != nil {
			r.logger.Warn("failed to write stats", zap.String("path", path), zap.Error(err))
		} else {
			r.logger.Info("stats written", zap.String("path", path))
		}
	}
	if runErr != nil {
		return stats, runErr
	}
	r.logger.Info("job completed", zap.String("job", stats.Job), zap.String("duration", stats.TotalExecutionTime))
	return stats, nil
}
