package cmd_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Jaleleddine/deb/cmd"
	"github.com/Jaleleddine/deb/internal/columnar"
	"github.com/Jaleleddine/deb/internal/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	rc := cmd.NewRootCommand(strings.NewReader(""), &stdout, &stderr)
	rc.SetArgs(args)
	err := rc.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestPassengersAndInspect(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "passengers.csv")
	require.NoError(t, os.WriteFile(input, []byte("first_name,middle_name,last_name,email\njohn,,SMITH,j@x.com\n"), 0644))
	output := filepath.Join(dir, "out")
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(fmt.Sprintf(`
log:
  level: error
pipelines:
  passengers:
    input_path: %s
    output_path: %s
`, input, output)), 0644))

	out, err := execute(t, "passengers", "--config", configFile, "--warehouse", "none")
	require.NoError(t, err)

	var stats pipeline.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, pipeline.JobPassengers, stats.Job)
	require.Len(t, stats.Datasets, 1)
	require.Equal(t, int64(1), stats.Datasets[0].RowsWritten)

	out, err = execute(t, "inspect", output)
	require.NoError(t, err)
	var info columnar.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	require.Equal(t, int64(1), info.Rows)
	require.Contains(t, info.Columns, "uid")
	require.Contains(t, info.Columns, "full_name")
}

func TestInspectDestinationNamedLikeAFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "passengers.csv")
	require.NoError(t, os.WriteFile(input, []byte("first_name,last_name,email\nann,lee,a@x.com\nbo,ng,b@x.com\n"), 0644))
	output := filepath.Join(dir, "passengers.parquet")
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(fmt.Sprintf(`
log:
  level: error
storage:
  rows_per_file: 1
pipelines:
  passengers:
    input_path: %s
    output_path: %s
`, input, output)), 0644))

	_, err := execute(t, "passengers", "--config", configFile, "--warehouse", "none")
	require.NoError(t, err)

	out, err := execute(t, "inspect", output)
	require.NoError(t, err)
	dec := json.NewDecoder(strings.NewReader(out))
	var (
		rows  int64
		first string
	)
	for dec.More() {
		var info columnar.Info
		require.NoError(t, dec.Decode(&info))
		require.True(t, strings.HasPrefix(filepath.Base(info.URI), "part-"), info.URI)
		if first == "" {
			first = info.URI
		}
		rows += info.Rows
	}
	require.Equal(t, int64(2), rows)

	// a single artifact can still be named directly
	out, err = execute(t, "inspect", first)
	require.NoError(t, err)
	var info columnar.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	require.Equal(t, first, info.URI)
	require.Equal(t, int64(1), info.Rows)
}

func TestPassengersRequiresWarehouseSettings(t *testing.T) {
	_, err := execute(t, "passengers", "--warehouse", "bigquery")
	require.ErrorContains(t, err, "warehouse.project")
}

func TestInspectNothingFound(t *testing.T) {
	_, err := execute(t, "inspect", t.TempDir())
	require.ErrorContains(t, err, "no part*.parquet artifacts")
}

func TestInspectRequiresURI(t *testing.T) {
	_, err := execute(t, "inspect")
	require.Error(t, err)
}
