// Package bigquery runs warehouse load jobs on Google BigQuery.
package bigquery

import (
	"context"
	"os"
	"strings"

	bq "cloud.google.com/go/bigquery"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/Jaleleddine/deb/internal/storage"
	"github.com/Jaleleddine/deb/internal/warehouse"
)

// Warehouse loads Parquet artifacts into BigQuery tables.
type Warehouse struct {
	client  *bq.Client
	project string
}

// New connects to BigQuery. Tables given without a project resolve to
// project.
func New(ctx context.Context, project string, opts ...option.ClientOption) (*Warehouse, error) {
	client, err := bq.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bigquery client")
	}
	return &Warehouse{client: client, project: project}, nil
}

// Close releases the client.
func (w *Warehouse) Close() error {
	return w.client.Close()
}

// Submit starts a load job. Artifacts on gs:// are loaded by reference; a
// single local artifact is uploaded with the job.
func (w *Warehouse) Submit(ctx context.Context, spec warehouse.Spec) (warehouse.Job, error) {
	tbl, err := w.table(spec.Table)
	if err != nil {
		return nil, err
	}

	src, closeSrc, err := source(spec.Artifacts)
	if err != nil {
		return nil, err
	}
	defer closeSrc()

	loader := tbl.LoaderFrom(src)
	loader.CreateDisposition = bq.CreateIfNeeded
	switch spec.Mode {
	case warehouse.LoadOverwrite:
		loader.WriteDisposition = bq.WriteTruncate
	case warehouse.LoadAppend:
		loader.WriteDisposition = bq.WriteAppend
	default:
		return nil, errors.Errorf("unsupported load mode %q", spec.Mode)
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start load into %s", spec.Table)
	}
	return &bqJob{job: job}, nil
}

// RowCount reads the table row count from its metadata.
func (w *Warehouse) RowCount(ctx context.Context, table string) (int64, error) {
	tbl, err := w.table(table)
	if err != nil {
		return 0, err
	}
	md, err := tbl.Metadata(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read metadata of %s", table)
	}
	return int64(md.NumRows), nil
}

func (w *Warehouse) table(id string) (*bq.Table, error) {
	project, dataset, table, err := ParseTableID(id, w.project)
	if err != nil {
		return nil, err
	}
	return w.client.DatasetInProject(project, dataset).Table(table), nil
}

// ParseTableID splits "project.dataset.table", "project:dataset.table" or
// "dataset.table" (using defaultProject).
func ParseTableID(id, defaultProject string) (project, dataset, table string, err error) {
	parts := strings.Split(strings.Replace(id, ":", ".", 1), ".")
	switch len(parts) {
	case 3:
		project, dataset, table = parts[0], parts[1], parts[2]
	case 2:
		project, dataset, table = defaultProject, parts[0], parts[1]
	default:
		return "", "", "", errors.Errorf("invalid table id %q", id)
	}
	if project == "" || dataset == "" || table == "" {
		return "", "", "", errors.Errorf("invalid table id %q", id)
	}
	return project, dataset, table, nil
}

func source(artifacts []string) (bq.LoadSource, func(), error) {
	noop := func() {}
	if len(artifacts) == 0 {
		return nil, noop, errors.New("no artifacts to load")
	}

	var uris []string
	for _, a := range artifacts {
		loc, err := storage.ParseLocation(a)
		if err != nil {
			return nil, noop, err
		}
		if loc.Scheme == storage.SchemeGCS {
			uris = append(uris, a)
		}
	}
	if len(uris) == len(artifacts) {
		ref := bq.NewGCSReference(uris...)
		ref.SourceFormat = bq.Parquet
		return ref, noop, nil
	}

	if len(artifacts) == 1 && len(uris) == 0 {
		loc, _ := storage.ParseLocation(artifacts[0])
		if loc.Scheme == storage.SchemeFile {
			f, err := os.Open(loc.Path)
			if err != nil {
				return nil, noop, errors.Wrapf(err, "failed to open %s", loc.Path)
			}
			rs := bq.NewReaderSource(f)
			rs.SourceFormat = bq.Parquet
			return rs, func() { f.Close() }, nil
		}
	}
	return nil, noop, errors.Errorf("bigquery loads need gs:// artifacts or a single local file, got %d artifact(s)", len(artifacts))
}

type bqJob struct {
	job *bq.Job
}

func (j *bqJob) ID() string {
	return j.job.ID()
}

func (j *bqJob) Status(ctx context.Context) (warehouse.Status, error) {
	st, err := j.job.Status(ctx)
	if err != nil {
		return warehouse.Status{}, err
	}
	return toStatus(st), nil
}

func (j *bqJob) Cancel(ctx context.Context) error {
	return j.job.Cancel(ctx)
}

func toStatus(st *bq.JobStatus) warehouse.Status {
	switch st.State {
	case bq.Running:
		return warehouse.Status{State: warehouse.StateRunning}
	case bq.Done:
		if err := st.Err(); err != nil {
			return warehouse.Status{State: warehouse.StateFailed, Err: diagnostic(err, st.Errors)}
		}
		return warehouse.Status{State: warehouse.StateSucceeded}
	}
	return warehouse.Status{State: warehouse.StateSubmitted}
}

// diagnostic folds the per-row errors BigQuery reports into the job error.
func diagnostic(err error, details []*bq.Error) error {
	var msgs []string
	for _, d := range details {
		if d == nil || d.Message == "" || d.Message == err.Error() {
			continue
		}
		msgs = append(msgs, d.Message)
	}
	if len(msgs) == 0 {
		return err
	}
	return errors.Wrap(err, strings.Join(msgs, "; "))
}
