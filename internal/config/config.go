// Package config loads the typed job configuration from a YAML file,
// DEB_* environment variables and command line flags.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/Jaleleddine/deb/internal/columnar"
	"github.com/Jaleleddine/deb/internal/storage"
	"github.com/Jaleleddine/deb/internal/warehouse"
)

// EnvPrefix prefixes every environment override, e.g. DEB_WAREHOUSE_DSN.
const EnvPrefix = "DEB"

// Warehouse backends.
const (
	BackendBigQuery = "bigquery"
	BackendPostgres = "postgres"
	// BackendNone stops after the Parquet write.
	BackendNone = "none"
)

// Pipeline names known to the jobs.
const (
	PipelinePassengers = "passengers"
	PipelineAddresses  = "addresses"
	PipelineCards      = "cards"
)

var knownPipelines = []string{PipelinePassengers, PipelineAddresses, PipelineCards}

var pipelineKeys = []string{"input_path", "output_path", "table_name", "load_mode", "overwrite_policy"}

// Config is the whole job configuration.
type Config struct {
	Log       LogConfig                 `mapstructure:"log"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Warehouse WarehouseConfig           `mapstructure:"warehouse"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	StatsPath string                    `mapstructure:"stats_path"`
	Pipelines map[string]PipelineConfig `mapstructure:"pipelines"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	TempDir     string `mapstructure:"temp_dir"`
	RowsPerFile int    `mapstructure:"rows_per_file"`
	Concurrency int    `mapstructure:"concurrency"`
	Probe       bool   `mapstructure:"probe"`
}

type WarehouseConfig struct {
	Backend      string        `mapstructure:"backend"`
	Project      string        `mapstructure:"project"`
	DSN          string        `mapstructure:"dsn"`
	Selection    string        `mapstructure:"selection"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Pushgateway string `mapstructure:"pushgateway"`
	Job         string `mapstructure:"job"`
}

// PipelineConfig is the raw per-pipeline section.
type PipelineConfig struct {
	InputPath       string `mapstructure:"input_path"`
	OutputPath      string `mapstructure:"output_path"`
	TableName       string `mapstructure:"table_name"`
	LoadMode        string `mapstructure:"load_mode"`
	OverwritePolicy string `mapstructure:"overwrite_policy"`
}

// Pipeline is a validated PipelineConfig.
type Pipeline struct {
	Name            string
	InputPath       string
	OutputPath      string
	TableName       string
	LoadMode        warehouse.LoadMode
	OverwritePolicy columnar.Policy
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.temp_dir", "")
	v.SetDefault("storage.rows_per_file", 0)
	v.SetDefault("storage.concurrency", 4)
	v.SetDefault("storage.probe", false)
	v.SetDefault("warehouse.backend", BackendBigQuery)
	v.SetDefault("warehouse.project", "")
	v.SetDefault("warehouse.dsn", "")
	v.SetDefault("warehouse.selection", string(warehouse.SelectAll))
	v.SetDefault("warehouse.poll_interval", 2*time.Second)
	v.SetDefault("warehouse.timeout", 30*time.Minute)
	v.SetDefault("metrics.pushgateway", "")
	v.SetDefault("metrics.job", "deb")
	v.SetDefault("stats_path", "")
}

// Load reads configFile (optional), the environment and any flags bound
// by name (flag "log-level" overrides key "log.level"), then validates.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, p := range knownPipelines {
		for _, k := range pipelineKeys {
			if err := v.BindEnv("pipelines." + p + "." + k); err != nil {
				return nil, errors.Wrap(err, "failed to bind env")
			}
		}
	}

	if flags != nil {
		for key, name := range map[string]string{
			"log.level":         "log-level",
			"log.format":        "log-format",
			"warehouse.backend": "warehouse",
			"stats_path":        "stats-path",
		} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "failed to bind flag %s", name)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "error reading configuration file '%s'", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the sections shared by every job. Pipelines are checked
// when a job asks for them.
func (c *Config) Validate() error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return errors.Wrapf(err, "invalid log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return errors.Errorf("invalid log.format %q (want json or console)", c.Log.Format)
	}

	if c.Storage.Concurrency < 1 {
		return errors.Errorf("storage.concurrency must be at least 1, got %d", c.Storage.Concurrency)
	}
	if c.Storage.RowsPerFile < 0 {
		return errors.Errorf("storage.rows_per_file must not be negative, got %d", c.Storage.RowsPerFile)
	}

	switch c.Warehouse.Backend {
	case BackendBigQuery:
		if c.Warehouse.Project == "" {
			return errors.New("warehouse.project is required for the bigquery backend")
		}
	case BackendPostgres:
		if c.Warehouse.DSN == "" {
			return errors.New("warehouse.dsn is required for the postgres backend")
		}
	case BackendNone:
	default:
		return errors.Errorf("invalid warehouse.backend %q (want bigquery, postgres or none)", c.Warehouse.Backend)
	}
	if _, err := warehouse.ParseSelection(c.Warehouse.Selection); err != nil {
		return errors.Wrap(err, "invalid warehouse.selection")
	}
	if c.Warehouse.PollInterval <= 0 {
		return errors.Errorf("warehouse.poll_interval must be positive, got %s", c.Warehouse.PollInterval)
	}
	if c.Warehouse.Timeout < 0 {
		return errors.Errorf("warehouse.timeout must not be negative, got %s", c.Warehouse.Timeout)
	}
	return nil
}

// Loads reports whether jobs should load into a warehouse.
func (c *Config) Loads() bool {
	return c.Warehouse.Backend != BackendNone
}

// Selection returns the validated artifact selection.
func (c *Config) Selection() warehouse.Selection {
	sel, _ := warehouse.ParseSelection(c.Warehouse.Selection)
	return sel
}

// Pipeline validates and returns the named pipeline section.
func (c *Config) Pipeline(name string) (Pipeline, error) {
	raw, ok := c.Pipelines[name]
	if !ok {
		return Pipeline{}, errors.Errorf("pipelines.%s is not configured", name)
	}
	p := Pipeline{
		Name:       name,
		InputPath:  raw.InputPath,
		OutputPath: raw.OutputPath,
		TableName:  raw.TableName,
	}
	if p.InputPath == "" {
		return Pipeline{}, errors.Errorf("pipelines.%s.input_path is required", name)
	}
	if p.OutputPath == "" {
		return Pipeline{}, errors.Errorf("pipelines.%s.output_path is required", name)
	}

	policy := raw.OverwritePolicy
	if policy == "" {
		policy = string(columnar.PolicyError)
	}
	var err error
	if p.OverwritePolicy, err = columnar.ParsePolicy(policy); err != nil {
		return Pipeline{}, errors.Wrapf(err, "pipelines.%s.overwrite_policy", name)
	}

	if !c.Loads() {
		return p, nil
	}
	if p.TableName == "" {
		return Pipeline{}, errors.Errorf("pipelines.%s.table_name is required", name)
	}
	if p.LoadMode, err = warehouse.ParseLoadMode(raw.LoadMode); err != nil {
		return Pipeline{}, errors.Wrapf(err, "pipelines.%s.load_mode", name)
	}
	if c.Warehouse.Backend == BackendBigQuery {
		if err := c.checkBigQueryOutput(p); err != nil {
			return Pipeline{}, err
		}
	}
	return p, nil
}

// checkBigQueryOutput rejects outputs a BigQuery load job cannot read: it
// takes gs:// URIs, or exactly one local file.
func (c *Config) checkBigQueryOutput(p Pipeline) error {
	loc, err := storage.ParseLocation(p.OutputPath)
	if err != nil {
		return errors.Wrapf(err, "pipelines.%s.output_path", p.Name)
	}
	switch loc.Scheme {
	case storage.SchemeGCS:
		return nil
	case storage.SchemeFile:
		if c.Storage.RowsPerFile == 0 || c.Selection() == warehouse.SelectFirst {
			return nil
		}
		return errors.Errorf("pipelines.%s.output_path: the bigquery backend loads a local output as one file; "+
			"set storage.rows_per_file to 0 or warehouse.selection to first", p.Name)
	}
	return errors.Errorf("pipelines.%s.output_path: the bigquery backend cannot load from %s:// (use gs:// or a local path)",
		p.Name, loc.Scheme)
}

// HasPipeline reports whether the named section is present.
func (c *Config) HasPipeline(name string) bool {
	_, ok := c.Pipelines[name]
	return ok
}
