// Package config provides configuration management for surge runs.
//
// A single Config structure describes a run: where the template comes from,
// which sink receives the generated payloads and how fast they are produced.
//
// # Key Features
//
// - Config: one structure shared by the ingest, stream, query and render commands
// - Structured sections: Template, Catalog, Sink, Performance, Observability
// - YAML or JSON files, chosen by extension
// - Environment variable substitution with ${VAR_NAME} syntax
// - Defaults from NewConfig and per-mode validation
//
// # Usage
//
//	cfg := config.NewConfig()
//	if err := config.Load("nightly.yaml", cfg); err != nil {
//		return err
//	}
//	if err := cfg.Validate(config.ModeIngest); err != nil {
//		return err
//	}
//
// ## Environment Variable Substitution
//
//	# nightly.yaml
//	catalog:
//	  type: postgres
//	  dsn: ${SURGE_CATALOG_DSN}
//	sink:
//	  type: s3
//	  s3:
//	    bucket: ${INGEST_BUCKET}
//
// Variables that are not set are replaced by the empty string.
//
// # Mode Rules
//
// Validate applies the bounds each orchestration mode relies on:
//
// - ingest: batch_size >= 100 rows, or blob_size_mb >= 1 when a volume bound is used
// - stream: records_per_payload >= 1
// - query: target_rate >= 1 query per minute
// - all modes: parallelism >= 1 and a sink type the mode can drive
package config
