package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

var version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		printErrorChain(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "Exiting...")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "surge",
		Short: "Surge - synthetic load generator",
		Long: `Surge generates synthetic records from a template and dispatches them to an
event bus, a bulk ingestion endpoint or a query endpoint at a controlled rate,
with bounded parallelism, while reporting achieved throughput and latency.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Surge v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(
		newModeCommand(config.ModeIngest, "Bulk ingestion: upload compressed blobs of generated rows",
			`Fills blobs with generated rows, bounded by --batch-size rows or --blob-size MB,
compresses them and uploads each one to S3, GCS or an HTTP ingestion endpoint.
--rate is in rows per minute.

Example:
  surge ingest -t clickstream --catalog-type file --catalog-path catalog.yaml --sink s3 -s 64 -p 4`),
		newModeCommand(config.ModeStream, "Event bus: publish payloads of generated records",
			`Sends --records-per-payload records per message to a Kafka topic.
--rate is in MB per minute.

Example:
  surge stream --template-text 'id=GenerateId(8)' --sink kafka -r 120 -p 8`),
		newModeCommand(config.ModeQuery, "Query endpoint: run one generated statement per dispatch",
			`Runs each generated record as a statement against PostgreSQL, MySQL,
Snowflake, BigQuery or MongoDB. --rate is in queries per minute.

Example:
  surge query -t lookup_by_id --catalog-type postgres --catalog-dsn "$CATALOG_DSN" --sink postgres -r 600`),
		newRenderCommand(),
	)

	return root
}

// addRunFlags registers the flags shared by every mode.
func addRunFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML or JSON configuration file")
	fs.StringP("template-name", "t", "", "Name of the template in the catalog")
	fs.String("template-text", "", "Inline template text; wins over --template-name")
	fs.String("catalog-type", "", "Template catalog (postgres, file, none)")
	fs.String("catalog-dsn", "", "PostgreSQL DSN of the catalog")
	fs.String("catalog-path", "", "Path of a file catalog")
	fs.String("sink", "", "Dispatch target")
	fs.Float64P("rate", "r", 0, "Target rate per rate period (0 = unthrottled for ingest and stream)")
	fs.Duration("rate-period", 0, "Rolling period the target rate applies to")
	fs.Int("batch-size", 0, "Rows per ingest blob when --blob-size is not set")
	fs.IntP("blob-size", "s", 0, "Compressed MB per ingest blob")
	fs.IntP("parallel-streams", "p", 0, "Buffers, and so concurrent dispatches")
	fs.Int("records-per-payload", 0, "Records per stream payload")
	fs.Bool("compression", true, "Compress ingest blobs")
	fs.String("compression-algorithm", "", "Compression algorithm of ingest blobs")
	fs.StringP("log-level", "l", "", "Log level (debug, info, warning, error)")
	fs.Uint64("seed", 0, "Random seed; 0 picks one")
	fs.Int64("limit", 0, "Stop after this many dispatches; 0 runs until interrupted")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Bool("enable-tracing", false, "Export dispatch spans to stderr")
}

// newViper binds flags and SURGE_* environment variables, e.g.
// SURGE_PARALLEL_STREAMS for --parallel-streams.
func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("surge")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to bind flags")
	}
	return v, nil
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then environment variables and flags that were explicitly set.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.NewConfig()
	if path := v.GetString("config"); path != "" {
		if err := config.Load(path, cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load configuration").WithDetail("path", path)
		}
	}

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	setString("template-name", &cfg.Template.Name)
	setString("template-text", &cfg.Template.Text)
	setString("catalog-type", &cfg.Catalog.Type)
	setString("catalog-dsn", &cfg.Catalog.DSN)
	setString("catalog-path", &cfg.Catalog.Path)
	setString("sink", &cfg.Sink.Type)
	setString("compression-algorithm", &cfg.Performance.CompressionAlgorithm)
	setString("log-level", &cfg.Observability.LogLevel)
	setString("metrics-addr", &cfg.Observability.MetricsAddr)
	setInt("batch-size", &cfg.Performance.BatchSize)
	setInt("blob-size", &cfg.Performance.BlobSizeMB)
	setInt("parallel-streams", &cfg.Performance.Parallelism)
	setInt("records-per-payload", &cfg.Performance.RecordsPerPayload)

	if v.IsSet("rate") {
		cfg.Performance.TargetRate = v.GetFloat64("rate")
	}
	if v.IsSet("rate-period") {
		cfg.Performance.RatePeriod = v.GetDuration("rate-period")
	}
	if v.IsSet("compression") {
		cfg.Performance.Compression = v.GetBool("compression")
	}
	if v.IsSet("enable-tracing") {
		cfg.Observability.EnableTracing = v.GetBool("enable-tracing")
	}
	if v.IsSet("seed") {
		cfg.Seed = v.GetUint64("seed")
	}

	// a lone inline template needs no catalog
	if cfg.Template.Text != "" && cfg.Catalog.Type == "" {
		cfg.Catalog.Type = config.CatalogNone
	}
	return cfg, nil
}

// printErrorChain prints err and its causes, one per line, outermost first.
func printErrorChain(w io.Writer, err error) {
	for i, link := range errors.Chain(err) {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", i), link)
	}
}
