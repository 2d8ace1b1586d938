// Package cmd holds the deb command line.
package cmd

import (
	"io"

	"github.com/spf13/cobra"
)

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "deb",
		Short: "deb loads passenger and payment extracts into the warehouse.",
		Long: `deb reads CSV extracts, normalizes passenger names, derives
stable SHA-256 identifiers, writes Snappy compressed Parquet to local
disk, S3 or GCS and loads the result into BigQuery or Postgres.

Settings come from the file given with --config, DEB_* environment
variables (DEB_WAREHOUSE_DSN overrides warehouse.dsn) and flags, in
increasing priority.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rc.PersistentFlags()
	flags.StringP("config", "c", "", "Configuration file to read from.")
	flags.String("log-level", "", "Log level: debug, info, warn or error.")
	flags.String("log-format", "", "Log format: json or console.")
	flags.String("warehouse", "", "Warehouse backend: bigquery, postgres or none.")
	flags.String("stats-path", "", "Write run statistics as JSON to this file.")

	rc.AddCommand(newPassengersCommand(stdout))
	rc.AddCommand(newPaymentsCommand(stdout))
	rc.AddCommand(newInspectCommand(stdout))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}
