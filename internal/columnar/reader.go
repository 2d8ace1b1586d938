package columnar

import (
	"context"
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/pkg/errors"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/Jaleleddine/deb/internal/record"
	"github.com/Jaleleddine/deb/internal/storage"
)

const readBatch = 10000

// Info describes one artifact.
type Info struct {
	URI     string   `json:"uri"`
	Rows    int64    `json:"rows"`
	Columns []string `json:"columns"`
}

// Inspect reads the footer of the artifact at uri.
func Inspect(ctx context.Context, resolver Resolver, uri string) (Info, error) {
	info := Info{URI: uri}
	err := withParquetReader(ctx, resolver, uri, func(pr *reader.ParquetReader) error {
		info.Rows = pr.GetNumRows()
		info.Columns = columnsOf(pr)
		return nil
	})
	return info, err
}

// ReadTable loads every row of the artifact at uri.
func ReadTable(ctx context.Context, resolver Resolver, uri string) (*record.Table, error) {
	var out *record.Table
	err := withParquetReader(ctx, resolver, uri, func(pr *reader.ParquetReader) error {
		columns := columnsOf(pr)
		if _, err := record.NewTable(columns); err != nil {
			return err
		}

		rows := make([][]*string, 0, pr.GetNumRows())
		for remaining := int(pr.GetNumRows()); remaining > 0; {
			n := readBatch
			if remaining < n {
				n = remaining
			}
			batch, err := pr.ReadByNumber(n)
			if err != nil {
				return errors.Wrap(err, "failed to read rows")
			}
			if len(batch) == 0 {
				break
			}
			for _, obj := range batch {
				cells, err := cellsOf(obj, len(columns))
				if err != nil {
					return err
				}
				rows = append(rows, cells)
			}
			remaining -= len(batch)
		}
		out = record.MustTable(columns, rows...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withParquetReader opens uri, downloading remote artifacts to a temp file
// first since the parquet reader needs random access.
func withParquetReader(ctx context.Context, resolver Resolver, uri string, fn func(*reader.ParquetReader) error) error {
	loc, err := storage.ParseLocation(uri)
	if err != nil {
		return err
	}

	path := loc.Path
	if loc.Scheme != storage.SchemeFile {
		st, err := resolver.Store(ctx, loc)
		if err != nil {
			return err
		}
		tmp, err := download(ctx, st, loc.Path)
		if err != nil {
			return err
		}
		defer os.Remove(tmp)
		path = tmp
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", uri)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, 4)
	if err != nil {
		return errors.Wrapf(err, "failed to read parquet footer of %s", uri)
	}
	defer pr.ReadStop()

	return fn(pr)
}

func download(ctx context.Context, st storage.Store, key string) (string, error) {
	rc, err := st.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "deb-artifact-*"+Extension)
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp file")
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", errors.Wrapf(err, "failed to download %s", st.URI(key))
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", errors.Wrap(err, "failed to close temp file")
	}
	return f.Name(), nil
}

// columnsOf returns the external (file) names of the leaf columns.
func columnsOf(pr *reader.ParquetReader) []string {
	infos := pr.SchemaHandler.Infos
	columns := make([]string, 0, len(infos))
	for _, info := range infos[1:] {
		columns = append(columns, info.ExName)
	}
	return columns
}

// cellsOf flattens a row struct produced by the reader. Optional columns
// arrive as pointers; a nil pointer is a null cell.
func cellsOf(obj interface{}, width int) ([]*string, error) {
	v := reflect.Indirect(reflect.ValueOf(obj))
	if v.Kind() != reflect.Struct || v.NumField() != width {
		return nil, errors.Errorf("unexpected row shape %T", obj)
	}
	cells := make([]*string, width)
	for i := 0; i < width; i++ {
		f := v.Field(i)
		if f.Kind() == reflect.Ptr {
			if f.IsNil() {
				continue
			}
			f = f.Elem()
		}
		s := fmt.Sprint(f.Interface())
		cells[i] = &s
	}
	return cells, nil
}
