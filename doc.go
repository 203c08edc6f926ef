// Package surge is a synthetic load generator. It compiles a record template
// into a generator, fills pooled buffers with generated records and hands
// them to a sink at a controlled rate, while reporting achieved throughput
// and latency.
//
// # Modes
//
// Surge runs in one of three modes, each with its own sinks and rate unit:
//
//   - ingest: compressed blobs bounded by rows or megabytes, uploaded to S3,
//     GCS or an HTTP bulk endpoint; rate in rows per period
//   - stream: payloads of a few records published to Kafka; rate in MB per period
//   - query: one generated statement per dispatch against PostgreSQL, MySQL,
//     Snowflake, BigQuery or MongoDB; rate in queries per period
//
// # Templates
//
// A template is plain text with placeholder calls that are replaced on every
// record:
//
//	TimestampNow()
//	GenerateId(<cardinality>)
//	ReferenceValue(<table>, <group>)
//	GenerateWeightedLabels(("<label>", <weight>), ...)
//
// ReferenceValue tables are loaded once, at compile time, from the template
// catalog (a PostgreSQL database or a YAML file).
//
// # Dispatch
//
// The dispatch loop owns a fixed number of buffers, one per allowed in-flight
// operation. When every buffer is in flight it waits for the oldest operation
// to finish. A rolling rate controller delays production when the loop is
// ahead of its target and never catches up by bursting.
//
// # Quick Start
//
//	surge render --template-text 'id=GenerateId(100) at=TimestampNow()' --count 3
//	surge stream --template-text 'id=GenerateId(8)' --sink kafka --config surge.yaml -r 60
//
// Every successful dispatch is sampled; every metrics interval surge prints
// one summary line of counts, volumes and maximum latency to stdout.
package surge
