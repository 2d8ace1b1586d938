// Package warehouse loads Parquet artifacts into an analytical warehouse
// table and waits for the load job to finish.
package warehouse

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// LoadMode decides whether a load replaces or extends the table.
type LoadMode string

const (
	LoadAppend    LoadMode = "append"
	LoadOverwrite LoadMode = "overwrite"
)

// ParseLoadMode validates a configured load mode. There is no default:
// an empty value is an error.
func ParseLoadMode(s string) (LoadMode, error) {
	switch m := LoadMode(strings.ToLower(strings.TrimSpace(s))); m {
	case LoadAppend, LoadOverwrite:
		return m, nil
	case "":
		return "", errors.New("load mode must be set explicitly (append or overwrite)")
	}
	return "", errors.Errorf("unknown load mode %q (want append or overwrite)", s)
}

// Selection decides which matching artifacts are loaded.
type Selection string

const (
	SelectAll   Selection = "all"
	SelectFirst Selection = "first"
)

// ParseSelection validates a configured selection policy.
func ParseSelection(s string) (Selection, error) {
	switch sel := Selection(strings.ToLower(strings.TrimSpace(s))); sel {
	case SelectAll, SelectFirst:
		return sel, nil
	}
	return "", errors.Errorf("unknown artifact selection %q (want all or first)", s)
}

// State is the lifecycle of a load job:
// Submitted -> Running -> Succeeded | Failed.
type State int

const (
	StateSubmitted State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Status is a snapshot of a job. Err carries the warehouse diagnostic
// when State is StateFailed.
type Status struct {
	State State
	Err   error
}

// Spec is a load job submission.
type Spec struct {
	Table     string
	Artifacts []string
	Mode      LoadMode
}

// Job is a handle to a submitted load job.
type Job interface {
	ID() string
	Status(ctx context.Context) (Status, error)
	Cancel(ctx context.Context) error
}

// Warehouse is the analytical store a Loader writes to.
type Warehouse interface {
	Submit(ctx context.Context, spec Spec) (Job, error)
	RowCount(ctx context.Context, table string) (int64, error)
}
