package config_test

import (
	"fmt"

	"github.com/ajitpratap0/surge/pkg/config"
)

// ExampleNewConfig demonstrates the defaults of a new configuration.
func ExampleNewConfig() {
	cfg := config.NewConfig()

	fmt.Printf("Batch Size: %d\n", cfg.Performance.BatchSize)
	fmt.Printf("Rate Period: %s\n", cfg.Performance.RatePeriod)
	fmt.Printf("Metrics Interval: %s\n", cfg.Observability.MetricsInterval)
	fmt.Printf("Records Per Payload: %d\n", cfg.Performance.RecordsPerPayload)

	// Output:
	// Batch Size: 1000
	// Rate Period: 1m0s
	// Metrics Interval: 10s
	// Records Per Payload: 5
}

// ExampleConfig_Validate shows how mode rules reject a configuration.
func ExampleConfig_Validate() {
	cfg := config.NewConfig()
	cfg.Template.Text = `{"id": "GenerateId(10)"}`
	cfg.Sink.Type = config.SinkKafka
	cfg.Sink.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Sink.Kafka.Topic = "events"

	fmt.Println(cfg.Validate(config.ModeStream) == nil)
	fmt.Println(cfg.Validate(config.ModeIngest))

	// Output:
	// true
	// config: sink "kafka" cannot be used in ingest mode
}
