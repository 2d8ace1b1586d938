package pipeline

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

// DatasetStats describes one record set of a run.
type DatasetStats struct {
	Dataset     string   `json:"dataset"`
	Input       string   `json:"input"`
	Output      string   `json:"output"`
	RowsRead    int64    `json:"rows_read"`
	RowsWritten int64    `json:"rows_written"`
	RunID       string   `json:"run_id,omitempty"`
	Artifacts   []string `json:"artifacts"`
	Table       string   `json:"table,omitempty"`
	JobID       string   `json:"job_id,omitempty"`
	TableRows   int64    `json:"table_rows,omitempty"`
	Duration    string   `json:"duration"`
}

// Stats holds the performance metrics of a job run.
type Stats struct {
	Job                string         `json:"job"`
	TotalExecutionTime string         `json:"total_execution_time"`
	TotalRowsRead      int64          `json:"total_rows_read"`
	TotalRowsWritten   int64          `json:"total_rows_written"`
	Datasets           []DatasetStats `json:"datasets"`
	Error              string         `json:"error,omitempty"`

	start time.Time
}

func newStats(job string) Stats {
	return Stats{Job: job, Datasets: []DatasetStats{}, start: time.Now()}
}

func (s *Stats) add(ds DatasetStats) {
	s.Datasets = append(s.Datasets, ds)
	s.TotalRowsRead += ds.RowsRead
	s.TotalRowsWritten += ds.RowsWritten
}

func (s *Stats) done() {
	s.TotalExecutionTime = time.Since(s.start).String()
}

// WriteFile serializes s as indented JSON.
func (s Stats) WriteFile(path string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialize stats")
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return errors.Wrapf(err, "failed to write stats file %s", path)
	}
	return nil
}
