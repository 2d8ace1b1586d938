package cmd

import (
	"encoding/json"
	"io"
	"path"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Jaleleddine/deb/internal/columnar"
	"github.com/Jaleleddine/deb/internal/storage"
)

func newInspectCommand(stdout io.Writer) *cobra.Command {
	opts := storage.Options{}
	ccmd := &cobra.Command{
		Use:   "inspect <uri>",
		Short: "Show row counts and columns of Parquet artifacts",
		Long: `
Prints the row count and columns of a Parquet artifact. When uri names a
directory or prefix, every part*.parquet artifact below it is inspected.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			resolver := storage.NewResolver(opts)
			defer resolver.Close()

			uris, err := artifacts(c, resolver, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			for _, uri := range uris {
				info, err := columnar.Inspect(c.Context(), resolver, uri)
				if err != nil {
					return err
				}
				if err := enc.Encode(info); err != nil {
					return err
				}
			}
			return nil
		},
	}

	flags := ccmd.Flags()
	flags.StringVar(&opts.Region, "region", "us-east-1", "AWS region for s3:// locations.")
	flags.StringVar(&opts.Endpoint, "endpoint", "", "S3 endpoint override.")
	return ccmd
}

// artifacts expands raw into the artifact URIs to inspect. A location
// holding part files is inspected as a whole, even when its name ends in
// .parquet. Otherwise a .parquet path is taken as a single file.
func artifacts(c *cobra.Command, resolver *storage.Resolver, raw string) ([]string, error) {
	loc, err := storage.ParseLocation(raw)
	if err != nil {
		return nil, err
	}
	st, err := resolver.Store(c.Context(), loc)
	if err != nil {
		return nil, err
	}
	keys, err := st.List(c.Context(), loc.Prefix())
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if ok, _ := path.Match(columnar.ArtifactPattern, storage.Base(k)); ok {
			out = append(out, st.URI(k))
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	if path.Ext(storage.Base(loc.Path)) == columnar.Extension {
		return []string{raw}, nil
	}
	return nil, errors.Errorf("no %s artifacts below %s", columnar.ArtifactPattern, raw)
}
