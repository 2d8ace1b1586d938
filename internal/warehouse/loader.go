package warehouse

import (
	"context"
	"path"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Jaleleddine/deb/internal/columnar"
	"github.com/Jaleleddine/deb/internal/storage"
)

const (
	defaultPollInterval = 2 * time.Second
	cancelTimeout       = 30 * time.Second
)

// Options tune a Loader.
type Options struct {
	Selection Selection
	// Pattern filters listed artifacts by base name; defaults to
	// columnar.ArtifactPattern.
	Pattern      string
	PollInterval time.Duration
	// Timeout bounds the wait for a terminal state. Zero waits until the
	// context is done.
	Timeout time.Duration
}

// Request names what to load and where.
type Request struct {
	Table string
	Mode  LoadMode
	// Manifest, when set, lists the artifacts to load. Otherwise Location
	// is listed and filtered by the pattern.
	Manifest *columnar.Manifest
	Location string
}

// Result describes a finished load.
type Result struct {
	JobID     string
	Artifacts []string
	// Rows is the row count of the table after the load.
	Rows     int64
	Duration time.Duration
}

// Loader submits load jobs and blocks until they reach a terminal state.
// It never retries: a failed job is reported to the caller.
type Loader struct {
	wh       Warehouse
	resolver columnar.Resolver
	opts     Options
	logger   *zap.Logger
}

// NewLoader returns a Loader. resolver is only used when a request carries
// no manifest.
func NewLoader(wh Warehouse, resolver columnar.Resolver, opts Options, logger *zap.Logger) *Loader {
	if opts.Selection == "" {
		opts.Selection = SelectAll
	}
	if opts.Pattern == "" {
		opts.Pattern = columnar.ArtifactPattern
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Loader{wh: wh, resolver: resolver, opts: opts, logger: logger}
}

// Load selects artifacts, submits one job and waits for it.
func (l *Loader) Load(ctx context.Context, req Request) (Result, error) {
	if req.Table == "" {
		return Result{}, errors.New("load request has no table")
	}
	mode, err := ParseLoadMode(string(req.Mode))
	if err != nil {
		return Result{}, err
	}

	artifacts, err := l.selectArtifacts(ctx, req)
	if err != nil {
		return Result{}, err
	}

	logger := l.logger.With(zap.String("table", req.Table), zap.String("mode", string(mode)))
	logger.Info("submitting load job", zap.Strings("artifacts", artifacts))

	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	job, err := l.wh.Submit(ctx, Spec{Table: req.Table, Artifacts: artifacts, Mode: mode})
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to submit load job for %s", req.Table)
	}
	logger = logger.With(zap.String("job_id", job.ID()))

	status, err := l.wait(ctx, job, logger)
	if err != nil {
		return Result{}, err
	}
	if status.State == StateFailed {
		logger.Error("load job failed", zap.Error(status.Err))
		return Result{}, &IngestError{Table: req.Table, JobID: job.ID(), Err: status.Err}
	}

	rows, err := l.wh.RowCount(ctx, req.Table)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to count rows of %s", req.Table)
	}

	res := Result{JobID: job.ID(), Artifacts: artifacts, Rows: rows, Duration: time.Since(start)}
	logger.Info("load job succeeded", zap.Int64("rows", rows), zap.Duration("duration", res.Duration))
	return res, nil
}

// wait polls job until it is terminal. When ctx ends first the job is
// cancelled on a fresh context.
func (l *Loader) wait(ctx context.Context, job Job, logger *zap.Logger) (Status, error) {
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	last := StateSubmitted
	for {
		status, err := job.Status(ctx)
		if err != nil && ctx.Err() == nil {
			return Status{}, errors.Wrapf(err, "failed to poll load job %s", job.ID())
		}
		if err == nil {
			if status.State != last {
				logger.Debug("load job state changed",
					zap.Stringer("from", last), zap.Stringer("to", status.State))
				last = status.State
			}
			if status.State.Terminal() {
				return status, nil
			}
		}

		select {
		case <-ctx.Done():
			l.cancel(job, logger)
			return Status{}, errors.Wrapf(ctx.Err(), "load job %s did not finish", job.ID())
		case <-ticker.C:
		}
	}
}

func (l *Loader) cancel(job Job, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := job.Cancel(ctx); err != nil {
		logger.Warn("failed to cancel load job", zap.Error(err))
		return
	}
	logger.Warn("load job cancelled")
}

func (l *Loader) selectArtifacts(ctx context.Context, req Request) ([]string, error) {
	var (
		candidates []string
		where      string
	)
	if req.Manifest != nil {
		where = req.Manifest.Location
		for _, a := range req.Manifest.Artifacts {
			if ok, _ := path.Match(l.opts.Pattern, storage.Base(a)); ok {
				candidates = append(candidates, a)
			}
		}
	} else {
		if req.Location == "" {
			return nil, errors.New("load request has neither a manifest nor a location")
		}
		where = req.Location
		listed, err := l.list(ctx, req.Location)
		if err != nil {
			return nil, err
		}
		candidates = listed
	}
	sort.Strings(candidates)

	if len(candidates) == 0 {
		return nil, &NotFoundError{Location: where, Pattern: l.opts.Pattern}
	}
	if l.opts.Selection == SelectFirst {
		return candidates[:1], nil
	}
	return candidates, nil
}

func (l *Loader) list(ctx context.Context, location string) ([]string, error) {
	if _, err := path.Match(l.opts.Pattern, ""); err != nil {
		return nil, errors.Wrapf(err, "invalid artifact pattern %q", l.opts.Pattern)
	}
	loc, err := storage.ParseLocation(location)
	if err != nil {
		return nil, err
	}
	st, err := l.resolver.Store(ctx, loc)
	if err != nil {
		return nil, err
	}
	keys, err := st.List(ctx, loc.Prefix())
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if ok, _ := path.Match(l.opts.Pattern, storage.Base(k)); ok {
			out = append(out, st.URI(k))
		}
	}
	return out, nil
}
