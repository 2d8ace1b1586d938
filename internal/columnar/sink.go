// Package columnar persists record sets as Parquet artifacts and reads them
// back.
package columnar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Jaleleddine/deb/internal/record"
	"github.com/Jaleleddine/deb/internal/storage"
)

// Extension is the file suffix of every artifact the sink writes.
const Extension = ".parquet"

// ArtifactPattern matches artifact base names, in path.Match syntax.
const ArtifactPattern = "part*" + Extension

// Policy decides what happens when the destination already holds data.
type Policy string

const (
	PolicyOverwrite Policy = "overwrite"
	PolicyError     Policy = "error"
	PolicyAppend    Policy = "append"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyOverwrite, PolicyError, PolicyAppend:
		return p, nil
	}
	return "", errors.Errorf("unknown overwrite policy %q (want overwrite, error or append)", s)
}

// Resolver returns the Store that serves a location.
type Resolver interface {
	Store(ctx context.Context, loc storage.Location) (storage.Store, error)
}

// Options tune a Sink.
type Options struct {
	Policy Policy
	// RowsPerFile splits the record set into several artifacts. Zero
	// writes a single artifact.
	RowsPerFile int
	// Concurrency bounds how many artifacts are encoded and uploaded at once.
	Concurrency int
	// TempDir holds local files before upload; empty uses os.TempDir.
	TempDir string
	// Probe writes and deletes a test object before any data is written.
	Probe bool
}

// Manifest lists what a Write produced.
type Manifest struct {
	Location  string
	RunID     string
	Artifacts []string
	Rows      int64
	Columns   []string
}

// Sink writes record sets as Snappy compressed Parquet.
type Sink struct {
	resolver Resolver
	opts     Options
	logger   *zap.Logger
}

// NewSink returns a Sink. Zero option values fall back to one artifact,
// one worker and the error policy.
func NewSink(resolver Resolver, opts Options, logger *zap.Logger) *Sink {
	if opts.Policy == "" {
		opts.Policy = PolicyError
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Sink{resolver: resolver, opts: opts, logger: logger}
}

var columnName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Write persists t below dest and returns the sorted list of artifacts.
// Artifacts already written are left in place when a later one fails.
func (s *Sink) Write(ctx context.Context, t *record.Table, dest string) (Manifest, error) {
	columns := t.Columns()
	if err := checkColumns(columns); err != nil {
		return Manifest{}, err
	}

	loc, err := storage.ParseLocation(dest)
	if err != nil {
		return Manifest{}, err
	}
	st, err := s.resolver.Store(ctx, loc)
	if err != nil {
		return Manifest{}, err
	}
	logger := s.logger.With(zap.String("dest", loc.String()))

	existing, err := st.List(ctx, loc.Prefix())
	if err != nil {
		return Manifest{}, err
	}
	if len(existing) > 0 {
		switch s.opts.Policy {
		case PolicyError:
			return Manifest{}, &WriteError{Dest: loc.String(), Existing: existing, Policy: s.opts.Policy}
		case PolicyOverwrite:
			logger.Info("removing existing objects", zap.Int("count", len(existing)))
			for _, key := range existing {
				if err := st.Delete(ctx, key); err != nil {
					return Manifest{}, err
				}
			}
		case PolicyAppend:
			logger.Info("appending to existing objects", zap.Int("count", len(existing)))
		}
	}

	if s.opts.Probe {
		if err := storage.Probe(ctx, st, loc, logger); err != nil {
			return Manifest{}, err
		}
	}

	tempDir, err := os.MkdirTemp(s.opts.TempDir, "deb-parquet-")
	if err != nil {
		return Manifest{}, errors.Wrap(err, "failed to create temp directory")
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			logger.Warn("failed to clean up temp directory", zap.String("dir", tempDir), zap.Error(err))
		}
	}()

	runID := uuid.NewString()
	parts := partition(t.Len(), s.opts.RowsPerFile)
	artifacts := make([]string, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			name := fmt.Sprintf("part-%05d-%s.snappy%s", i, runID, Extension)
			localPath := filepath.Join(tempDir, name)

			if err := writeParquetFile(localPath, columns, t, p.lo, p.hi); err != nil {
				return err
			}
			key := loc.Join(name).Path
			if err := upload(gctx, st, localPath, key, map[string]string{
				"record-count": strconv.Itoa(p.hi - p.lo),
				"run-id":       runID,
			}); err != nil {
				return err
			}
			if err := os.Remove(localPath); err != nil {
				logger.Warn("failed to remove temp file", zap.String("file", localPath), zap.Error(err))
			}
			artifacts[i] = st.URI(key)
			logger.Debug("artifact written", zap.String("artifact", artifacts[i]), zap.Int("rows", p.hi-p.lo))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Manifest{}, err
	}

	sort.Strings(artifacts)
	logger.Info("record set written",
		zap.Int("rows", t.Len()),
		zap.Int("artifacts", len(artifacts)),
		zap.String("run_id", runID))

	return Manifest{
		Location:  loc.String(),
		RunID:     runID,
		Artifacts: artifacts,
		Rows:      int64(t.Len()),
		Columns:   columns,
	}, nil
}

// checkColumns rejects names parquet-go cannot carry as distinct fields.
// The writer keys fields by their name with the first letter uppercased, so
// uid and Uid would share one field and the artifact could not be read.
func checkColumns(columns []string) error {
	seen := make(map[string]string, len(columns))
	for _, c := range columns {
		if !columnName.MatchString(c) {
			return errors.Errorf("column %q cannot be used as a parquet field name", c)
		}
		field := common.HeadToUpper(c)
		if prev, ok := seen[field]; ok {
			return errors.Errorf("columns %q and %q map to the same parquet field name %q", prev, c, field)
		}
		seen[field] = c
	}
	return nil
}

type span struct{ lo, hi int }

// partition splits n rows into spans of at most size rows. An empty set
// still yields one span so the schema is always persisted.
func partition(n, size int) []span {
	if size <= 0 || n <= size {
		return []span{{0, n}}
	}
	var out []span
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, span{lo, hi})
	}
	return out
}

// schemaMetadata declares every column as an optional UTF8 string.
func schemaMetadata(columns []string) []string {
	md := make([]string, len(columns))
	for i, c := range columns {
		md[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c)
	}
	return md
}

func writeParquetFile(path string, columns []string, t *record.Table, lo, hi int) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return errors.Wrap(err, "failed to create local file writer")
	}

	pw, err := writer.NewCSVWriter(schemaMetadata(columns), fw, 4)
	if err != nil {
		fw.Close()
		return errors.Wrap(err, "failed to create parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := lo; i < hi; i++ {
		if err := pw.WriteString(t.Row(i).Values()); err != nil {
			fw.Close()
			return errors.Wrapf(err, "error writing record %d", i)
		}
		// Flush periodically for large files
		if (i-lo+1)%100000 == 0 {
			if err := pw.Flush(true); err != nil {
				fw.Close()
				return errors.Wrap(err, "error flushing row group")
			}
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return errors.Wrap(err, "error in WriteStop")
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, "error closing file writer")
	}
	return nil
}

func upload(ctx context.Context, st storage.Store, localPath, key string, meta map[string]string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "failed to open temp file for upload")
	}
	defer f.Close()
	return st.Put(ctx, key, f, meta)
}
