package config

import (
	"slices"
	"time"

	"github.com/ajitpratap0/surge/pkg/errors"
)

// Mode selects the orchestration a run performs.
type Mode string

const (
	// ModeIngest produces compressed blobs for a bulk ingestion endpoint
	ModeIngest Mode = "ingest"
	// ModeStream sends small payloads to an event bus
	ModeStream Mode = "stream"
	// ModeQuery issues one query per generated record
	ModeQuery Mode = "query"
	// ModeRender prints generated records without dispatching them
	ModeRender Mode = "render"
)

// Catalog types
const (
	CatalogPostgres = "postgres"
	CatalogFile     = "file"
	CatalogNone     = "none"
)

// Sink types
const (
	SinkKafka     = "kafka"
	SinkS3        = "s3"
	SinkGCS       = "gcs"
	SinkHTTP      = "http"
	SinkPostgres  = "postgres"
	SinkMySQL     = "mysql"
	SinkSnowflake = "snowflake"
	SinkBigQuery  = "bigquery"
	SinkMongoDB   = "mongodb"
	SinkDiscard   = "discard"
)

// MinIngestRows is the smallest row bound accepted for an ingest blob.
const MinIngestRows = 100

var modeSinks = map[Mode][]string{
	ModeIngest: {SinkS3, SinkGCS, SinkHTTP, SinkDiscard},
	ModeStream: {SinkKafka, SinkDiscard},
	ModeQuery:  {SinkPostgres, SinkMySQL, SinkSnowflake, SinkBigQuery, SinkMongoDB, SinkDiscard},
}

var compressionAlgorithms = []string{"none", "gzip", "zstd", "s2", "snappy", "lz4", "deflate"}

// Config is the complete description of a surge run.
type Config struct {
	// Name labels the run in logs and metrics
	Name string `yaml:"name" json:"name"`

	Template      TemplateConfig      `yaml:"template" json:"template"`
	Catalog       CatalogConfig       `yaml:"catalog" json:"catalog"`
	Sink          SinkConfig          `yaml:"sink" json:"sink"`
	Performance   PerformanceConfig   `yaml:"performance" json:"performance"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	// Seed makes generation reproducible; 0 picks a random seed
	Seed uint64 `yaml:"seed" json:"seed"`
}

// TemplateConfig says where the record template comes from.
// Inline Text wins over a catalog lookup by Name.
type TemplateConfig struct {
	Name string `yaml:"name" json:"name"`
	Text string `yaml:"text" json:"text"`
}

// CatalogConfig configures the template and reference value catalog.
type CatalogConfig struct {
	// Type is postgres, file or none
	Type string `yaml:"type" json:"type"`
	// DSN is the connection string for the postgres catalog
	DSN string `yaml:"dsn" json:"dsn"`
	// Path is the YAML document read by the file catalog
	Path string `yaml:"path" json:"path"`
	// TemplateQuery fetches a template body by name
	TemplateQuery string `yaml:"template_query" json:"template_query"`
	// GroupColumn and ValueColumn name the reference table columns
	GroupColumn string `yaml:"group_column" json:"group_column"`
	ValueColumn string `yaml:"value_column" json:"value_column"`
}

// SinkConfig selects and configures the dispatch target.
type SinkConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Kafka    KafkaConfig    `yaml:"kafka" json:"kafka"`
	S3       S3Config       `yaml:"s3" json:"s3"`
	GCS      GCSConfig      `yaml:"gcs" json:"gcs"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	SQL      SQLConfig      `yaml:"sql" json:"sql"`
	BigQuery BigQueryConfig `yaml:"bigquery" json:"bigquery"`
	MongoDB  MongoDBConfig  `yaml:"mongodb" json:"mongodb"`
}

// KafkaConfig configures the event bus producer.
type KafkaConfig struct {
	Brokers         []string `yaml:"brokers" json:"brokers"`
	Topic           string   `yaml:"topic" json:"topic"`
	Acks            string   `yaml:"acks" json:"acks"`               // none, leader, all
	Compression     string   `yaml:"compression" json:"compression"` // none, gzip, snappy, lz4, zstd
	SASLMechanism   string   `yaml:"sasl_mechanism" json:"sasl_mechanism"`
	SASLUsername    string   `yaml:"sasl_username" json:"sasl_username"`
	SASLPassword    string   `yaml:"sasl_password" json:"sasl_password"`
	EnableTLS       bool     `yaml:"enable_tls" json:"enable_tls"`
	TLSSkipVerify   bool     `yaml:"tls_skip_verify" json:"tls_skip_verify"`
	MaxMessageBytes int      `yaml:"max_message_bytes" json:"max_message_bytes"`
}

// S3Config configures blob uploads to S3 or an S3 compatible store.
type S3Config struct {
	Bucket       string `yaml:"bucket" json:"bucket"`
	Prefix       string `yaml:"prefix" json:"prefix"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	PartSizeMB   int    `yaml:"part_size_mb" json:"part_size_mb"`
	UsePathStyle bool   `yaml:"use_path_style" json:"use_path_style"`
}

// GCSConfig configures blob uploads to Google Cloud Storage.
type GCSConfig struct {
	Bucket string `yaml:"bucket" json:"bucket"`
	Prefix string `yaml:"prefix" json:"prefix"`

	// BillingProject is charged for requests to a requester-pays bucket
	BillingProject string `yaml:"billing_project" json:"billing_project"`
}

// HTTPConfig configures the HTTP bulk ingestion endpoint.
type HTTPConfig struct {
	URL          string            `yaml:"url" json:"url"`
	Method       string            `yaml:"method" json:"method"`
	ContentType  string            `yaml:"content_type" json:"content_type"`
	Headers      map[string]string `yaml:"headers" json:"headers"`
	Timeout      time.Duration     `yaml:"timeout" json:"timeout"`
	EnableHTTP2  bool              `yaml:"enable_http2" json:"enable_http2"`
	TokenURL     string            `yaml:"token_url" json:"token_url"`
	ClientID     string            `yaml:"client_id" json:"client_id"`
	ClientSecret string            `yaml:"client_secret" json:"client_secret"`
	Scopes       []string          `yaml:"scopes" json:"scopes"`
}

// SQLConfig configures the postgres, mysql and snowflake query sinks.
type SQLConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

// BigQueryConfig configures the BigQuery query sink.
type BigQueryConfig struct {
	Project  string `yaml:"project" json:"project"`
	Location string `yaml:"location" json:"location"`
}

// MongoDBConfig configures the MongoDB query sink. Generated records are
// parsed as extended JSON filters against Collection.
type MongoDBConfig struct {
	URI        string `yaml:"uri" json:"uri"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
}

// PerformanceConfig controls rate, batching and parallelism.
type PerformanceConfig struct {
	// TargetRate is records/min for query, MB/min for stream and rows/min for ingest.
	// Zero disables throttling.
	TargetRate float64 `yaml:"target_rate" json:"target_rate"`
	// RatePeriod is the rolling window the target applies to
	RatePeriod time.Duration `yaml:"rate_period" json:"rate_period"`
	// BatchSize is the row bound of an ingest blob when BlobSizeMB is zero
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// BlobSizeMB is the compressed volume bound of an ingest blob
	BlobSizeMB int `yaml:"blob_size_mb" json:"blob_size_mb"`
	// Parallelism is the number of buffers, and so of in-flight dispatches
	Parallelism          int    `yaml:"parallelism" json:"parallelism"`
	Compression          bool   `yaml:"compression" json:"compression"`
	CompressionAlgorithm string `yaml:"compression_algorithm" json:"compression_algorithm"`
	// RecordsPerPayload is the record bound of a stream payload
	RecordsPerPayload int `yaml:"records_per_payload" json:"records_per_payload"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel          string        `yaml:"log_level" json:"log_level"`
	LogEncoding       string        `yaml:"log_encoding" json:"log_encoding"`
	MetricsInterval   time.Duration `yaml:"metrics_interval" json:"metrics_interval"`
	MetricsAddr       string        `yaml:"metrics_addr" json:"metrics_addr"`
	EnableTracing     bool          `yaml:"enable_tracing" json:"enable_tracing"`
	TracingSampleRate float64       `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// NewConfig creates a Config with the defaults the consoles have always used.
func NewConfig() *Config {
	return &Config{
		Name: "surge",
		Catalog: CatalogConfig{
			Type:          CatalogNone,
			TemplateQuery: "SELECT body FROM templates WHERE name = $1",
			GroupColumn:   "group_name",
			ValueColumn:   "value",
		},
		Sink: SinkConfig{
			Type: SinkDiscard,
			Kafka: KafkaConfig{
				Acks:            "leader",
				Compression:     "none",
				MaxMessageBytes: 1000000,
			},
			S3: S3Config{
				Region:     "us-east-1",
				PartSizeMB: 5,
			},
			HTTP: HTTPConfig{
				Method:      "POST",
				ContentType: "text/plain",
				Timeout:     30 * time.Second,
			},
		},
		Performance: PerformanceConfig{
			TargetRate:           0,
			RatePeriod:           time.Minute,
			BatchSize:            1000,
			BlobSizeMB:           0,
			Parallelism:          1,
			Compression:          true,
			CompressionAlgorithm: "gzip",
			RecordsPerPayload:    5,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "warning",
			LogEncoding:       "console",
			MetricsInterval:   10 * time.Second,
			TracingSampleRate: 0.1,
		},
	}
}

// Validate checks the configuration against the rules of mode.
func (c *Config) Validate(mode Mode) error {
	if c.Template.Text == "" && c.Template.Name == "" {
		return configError("template", "a template name or inline template text is required")
	}
	if err := c.Catalog.validate(c.Template.Text != ""); err != nil {
		return err
	}
	if err := c.Performance.validate(mode); err != nil {
		return err
	}
	if c.Observability.MetricsInterval <= 0 {
		return configError("observability.metrics_interval", "must be positive")
	}

	if mode == ModeRender {
		return nil
	}
	allowed, ok := modeSinks[mode]
	if !ok {
		return configError("mode", "unknown mode "+string(mode))
	}
	if !slices.Contains(allowed, c.Sink.Type) {
		return errors.Newf(errors.ErrorTypeConfig, "sink %q cannot be used in %s mode", c.Sink.Type, mode).
			WithDetail("field", "sink.type")
	}
	return c.Sink.validate()
}

func (c *CatalogConfig) validate(inline bool) error {
	switch c.Type {
	case CatalogPostgres:
		if c.DSN == "" {
			return configError("catalog.dsn", "required for the postgres catalog")
		}
		if c.GroupColumn == "" || c.ValueColumn == "" {
			return configError("catalog.group_column", "group and value columns are required")
		}
	case CatalogFile:
		if c.Path == "" {
			return configError("catalog.path", "required for the file catalog")
		}
	case CatalogNone, "":
		if !inline {
			return configError("catalog.type", "a catalog is required to look up a template by name")
		}
	default:
		return configError("catalog.type", "unknown catalog type "+c.Type)
	}
	return nil
}

func (p *PerformanceConfig) validate(mode Mode) error {
	if p.Parallelism < 1 {
		return configError("performance.parallelism", "must be at least 1")
	}
	if p.TargetRate < 0 {
		return configError("performance.target_rate", "cannot be negative")
	}
	if p.RatePeriod <= 0 {
		return configError("performance.rate_period", "must be positive")
	}
	if p.Compression && !slices.Contains(compressionAlgorithms, p.CompressionAlgorithm) {
		return configError("performance.compression_algorithm", "unsupported algorithm "+p.CompressionAlgorithm)
	}

	switch mode {
	case ModeIngest:
		if p.BlobSizeMB < 0 {
			return configError("performance.blob_size_mb", "cannot be negative")
		}
		if p.BlobSizeMB == 0 && p.BatchSize < MinIngestRows {
			return errors.Newf(errors.ErrorTypeConfig, "batch size must be at least %d rows", MinIngestRows).
				WithDetail("field", "performance.batch_size")
		}
	case ModeStream:
		if p.RecordsPerPayload < 1 {
			return configError("performance.records_per_payload", "must be at least 1")
		}
	case ModeQuery:
		if p.TargetRate < 1 {
			return configError("performance.target_rate", "query rate must be at least 1 per minute")
		}
	}
	return nil
}

func (s *SinkConfig) validate() error {
	switch s.Type {
	case SinkKafka:
		if len(s.Kafka.Brokers) == 0 || s.Kafka.Topic == "" {
			return configError("sink.kafka", "brokers and topic are required")
		}
	case SinkS3:
		if s.S3.Bucket == "" {
			return configError("sink.s3.bucket", "required")
		}
	case SinkGCS:
		if s.GCS.Bucket == "" {
			return configError("sink.gcs.bucket", "required")
		}
	case SinkHTTP:
		if s.HTTP.URL == "" {
			return configError("sink.http.url", "required")
		}
		if s.HTTP.TokenURL != "" && s.HTTP.ClientID == "" {
			return configError("sink.http.client_id", "required when token_url is set")
		}
	case SinkPostgres, SinkMySQL, SinkSnowflake:
		if s.SQL.DSN == "" {
			return configError("sink.sql.dsn", "required")
		}
	case SinkBigQuery:
		if s.BigQuery.Project == "" {
			return configError("sink.bigquery.project", "required")
		}
	case SinkMongoDB:
		if s.MongoDB.URI == "" || s.MongoDB.Database == "" || s.MongoDB.Collection == "" {
			return configError("sink.mongodb", "uri, database and collection are required")
		}
	}
	return nil
}

// BlobSizeBytes returns the ingest volume bound in bytes, or 0 when rows bound the blob.
func (p *PerformanceConfig) BlobSizeBytes() int64 {
	return int64(p.BlobSizeMB) * 1024 * 1024
}

// CompressionEnabled returns true if payloads should be compressed
func (p *PerformanceConfig) CompressionEnabled() bool {
	return p.Compression && p.CompressionAlgorithm != "" && p.CompressionAlgorithm != "none"
}

func configError(field, message string) error {
	return errors.New(errors.ErrorTypeConfig, field+": "+message).WithDetail("field", field)
}
