package sink

import (
	"context"
	"crypto/tls"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
	"github.com/ajitpratap0/surge/pkg/observability"
)

// Kafka sends each payload as one message to an event bus topic.
type Kafka struct {
	producer        sarama.SyncProducer
	topic           string
	maxMessageBytes int
	logger          *zap.Logger
}

// NewKafka connects a synchronous producer to the configured brokers.
func NewKafka(cfg config.KafkaConfig, logger *zap.Logger) (*Kafka, error) {
	saramaConfig, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer").
			WithDetail("brokers", strings.Join(cfg.Brokers, ","))
	}

	logger.Info("kafka producer connected",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("acks", cfg.Acks),
		zap.String("compression", cfg.Compression))
	return newKafka(producer, cfg, logger), nil
}

func newKafka(producer sarama.SyncProducer, cfg config.KafkaConfig, logger *zap.Logger) *Kafka {
	return &Kafka{
		producer:        producer,
		topic:           cfg.Topic,
		maxMessageBytes: cfg.MaxMessageBytes,
		logger:          logger,
	}
}

// buildSaramaConfig maps KafkaConfig onto a sarama producer configuration.
func buildSaramaConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = "surge"

	switch strings.ToLower(cfg.Acks) {
	case "all", "-1":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	case "leader", "1", "":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none", "0":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown kafka acks %q", cfg.Acks)
	}

	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	if cfg.MaxMessageBytes > 0 {
		sc.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	}

	switch strings.ToLower(cfg.Compression) {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
		sc.Version = sarama.V2_1_0_0
	case "none", "":
		sc.Producer.Compression = sarama.CompressionNone
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown kafka compression %q", cfg.Compression)
	}

	if cfg.EnableTLS {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
	}

	if cfg.SASLMechanism != "" {
		switch strings.ToUpper(cfg.SASLMechanism) {
		case "PLAIN":
			sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported sasl mechanism %q", cfg.SASLMechanism)
		}
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User = cfg.SASLUsername
		sc.Net.SASL.Password = cfg.SASLPassword
	}

	if err := sc.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka configuration")
	}
	return sc, nil
}

// Name returns "kafka"
func (k *Kafka) Name() string { return config.SinkKafka }

// buildMessage wraps p in a producer message carrying the trace context.
func (k *Kafka) buildMessage(ctx context.Context, p Payload) *sarama.ProducerMessage {
	carrier := propagation.MapCarrier{}
	observability.InjectHeaders(ctx, carrier)

	headers := []sarama.RecordHeader{
		{Key: []byte("content-type"), Value: []byte("text/plain")},
		{Key: []byte("records"), Value: []byte(strconv.FormatInt(p.Records, 10))},
	}
	for key, v := range carrier {
		headers = append(headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(v)})
	}

	return &sarama.ProducerMessage{
		Topic:     k.topic,
		Value:     sarama.ByteEncoder(p.Data),
		Headers:   headers,
		Timestamp: time.Now(),
	}
}

// Dispatch sends p and waits for the broker acknowledgement.
func (k *Kafka) Dispatch(ctx context.Context, p Payload) error {
	if k.maxMessageBytes > 0 && len(p.Data) > k.maxMessageBytes {
		return errors.Newf(errors.ErrorTypeValidation, "payload of %d bytes exceeds max message size %d",
			len(p.Data), k.maxMessageBytes)
	}

	partition, offset, err := k.producer.SendMessage(k.buildMessage(ctx, p))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "send to topic "+k.topic)
	}
	k.logger.Debug("payload sent",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Int64("records", p.Records))
	return nil
}

// Close flushes and closes the producer.
func (k *Kafka) Close() error {
	if err := k.producer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "close kafka producer")
	}
	return nil
}
