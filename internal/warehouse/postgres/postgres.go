// Package postgres runs warehouse load jobs against PostgreSQL. Each job
// reads the Parquet artifacts and copies them into the target table in a
// single transaction.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Jaleleddine/deb/internal/columnar"
	"github.com/Jaleleddine/deb/internal/record"
	"github.com/Jaleleddine/deb/internal/warehouse"
)

// Warehouse loads artifacts into PostgreSQL tables. Loaded columns are
// created as text.
type Warehouse struct {
	pool     *pgxpool.Pool
	resolver columnar.Resolver
	logger   *zap.Logger
}

// New opens a connection pool and checks it with a ping.
func New(ctx context.Context, dsn string, resolver columnar.Resolver, logger *zap.Logger) (*Warehouse, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse database config")
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return &Warehouse{pool: pool, resolver: resolver, logger: logger}, nil
}

// Close closes the pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

// Submit starts the load in the background and returns at once. The job
// is not bound to ctx; use Cancel to stop it.
func (w *Warehouse) Submit(_ context.Context, spec warehouse.Spec) (warehouse.Job, error) {
	ident, err := ParseIdentifier(spec.Table)
	if err != nil {
		return nil, err
	}
	if spec.Mode != warehouse.LoadAppend && spec.Mode != warehouse.LoadOverwrite {
		return nil, errors.Errorf("unsupported load mode %q", spec.Mode)
	}
	if len(spec.Artifacts) == 0 {
		return nil, errors.New("no artifacts to load")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:     uuid.NewString(),
		state:  warehouse.StateSubmitted,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go j.run(runCtx, func(ctx context.Context) error {
		return w.load(ctx, ident, spec)
	})
	return j, nil
}

// RowCount counts the rows of table.
func (w *Warehouse) RowCount(ctx context.Context, table string) (int64, error) {
	ident, err := ParseIdentifier(table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := w.pool.QueryRow(ctx, "SELECT count(*) FROM "+ident.Sanitize()).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "failed to count rows of %s", table)
	}
	return n, nil
}

func (w *Warehouse) load(ctx context.Context, ident pgx.Identifier, spec warehouse.Spec) error {
	var (
		columns []string
		rows    [][]any
	)
	for _, a := range spec.Artifacts {
		t, err := columnar.ReadTable(ctx, w.resolver, a)
		if err != nil {
			return err
		}
		if columns == nil {
			columns = t.Columns()
		} else if !sameColumns(columns, t.Columns()) {
			return errors.Errorf("artifact %s has columns %v, expected %v", a, t.Columns(), columns)
		}
		t.Each(func(_ int, r record.Row) {
			vals := r.Values()
			row := make([]any, len(vals))
			for i, v := range vals {
				if v != nil {
					row[i] = *v
				}
			}
			rows = append(rows, row)
		})
	}

	return withTx(ctx, w.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createTableSQL(ident, columns)); err != nil {
			return errors.Wrap(err, "failed to create table")
		}
		if spec.Mode == warehouse.LoadOverwrite {
			if _, err := tx.Exec(ctx, "TRUNCATE "+ident.Sanitize()); err != nil {
				return errors.Wrap(err, "failed to truncate table")
			}
		}
		n, err := tx.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return errors.Wrap(err, "copy failed")
		}
		w.logger.Debug("rows copied", zap.String("table", spec.Table), zap.Int64("rows", n))
		return nil
	})
}

func createTableSQL(ident pgx.Identifier, columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pgx.Identifier{c}.Sanitize() + " text"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", ident.Sanitize(), strings.Join(defs, ", "))
}

// ParseIdentifier splits "schema.table" or "table".
func ParseIdentifier(table string) (pgx.Identifier, error) {
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return nil, errors.Errorf("invalid table name %q", table)
	}
	for _, p := range parts {
		if p == "" {
			return nil, errors.Errorf("invalid table name %q", table)
		}
	}
	return pgx.Identifier(parts), nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// withTx executes fn within a transaction, rolling back on error.
func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Wrapf(err, "rollback error: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

type job struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state warehouse.State
	err   error
}

func (j *job) run(ctx context.Context, fn func(context.Context) error) {
	defer close(j.done)
	defer j.cancel()

	j.set(warehouse.StateRunning, nil)
	if err := fn(ctx); err != nil {
		j.set(warehouse.StateFailed, err)
		return
	}
	j.set(warehouse.StateSucceeded, nil)
}

func (j *job) set(s warehouse.State, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state, j.err = s, err
}

func (j *job) ID() string {
	return j.id
}

func (j *job) Status(_ context.Context) (warehouse.Status, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return warehouse.Status{State: j.state, Err: j.err}, nil
}

// Cancel stops a running job and waits for its transaction to roll back.
func (j *job) Cancel(ctx context.Context) error {
	j.cancel()
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
