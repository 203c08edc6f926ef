package sink

import (
	"context"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

func TestBuildSaramaConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.KafkaConfig
		wantErr     bool
		acks        sarama.RequiredAcks
		compression sarama.CompressionCodec
	}{
		{
			name:        "defaults",
			cfg:         config.KafkaConfig{},
			acks:        sarama.WaitForLocal,
			compression: sarama.CompressionNone,
		},
		{
			name:        "all acks with lz4",
			cfg:         config.KafkaConfig{Acks: "all", Compression: "lz4"},
			acks:        sarama.WaitForAll,
			compression: sarama.CompressionLZ4,
		},
		{
			name:        "zstd",
			cfg:         config.KafkaConfig{Acks: "none", Compression: "ZSTD"},
			acks:        sarama.NoResponse,
			compression: sarama.CompressionZSTD,
		},
		{
			name:    "unknown acks",
			cfg:     config.KafkaConfig{Acks: "most"},
			wantErr: true,
		},
		{
			name:    "unknown compression",
			cfg:     config.KafkaConfig{Compression: "brotli"},
			wantErr: true,
		},
		{
			name:    "unsupported sasl",
			cfg:     config.KafkaConfig{SASLMechanism: "GSSAPI"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := buildSaramaConfig(tt.cfg)
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.acks, sc.Producer.RequiredAcks)
			assert.Equal(t, tt.compression, sc.Producer.Compression)
			assert.True(t, sc.Producer.Return.Successes)
		})
	}
}

func TestBuildSaramaConfigSASLPlain(t *testing.T) {
	sc, err := buildSaramaConfig(config.KafkaConfig{
		SASLMechanism: "plain",
		SASLUsername:  "surge",
		SASLPassword:  "secret",
		EnableTLS:     true,
	})
	require.NoError(t, err)
	assert.True(t, sc.Net.SASL.Enable)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypePlaintext), sc.Net.SASL.Mechanism)
	assert.Equal(t, "surge", sc.Net.SASL.User)
	assert.True(t, sc.Net.TLS.Enable)
}

func TestKafkaDispatch(t *testing.T) {
	sc, err := buildSaramaConfig(config.KafkaConfig{})
	require.NoError(t, err)

	producer := mocks.NewSyncProducer(t, sc)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "a=1\nb=2\n" {
			return fmt.Errorf("unexpected value %q", val)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	k := newKafka(producer, config.KafkaConfig{Topic: "events"}, zap.NewNop())
	assert.Equal(t, "kafka", k.Name())

	ctx := context.Background()
	require.NoError(t, k.Dispatch(ctx, Payload{Data: []byte("a=1\nb=2\n"), Records: 2}))

	err = k.Dispatch(ctx, Payload{Data: []byte("c=3\n"), Records: 1})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)

	require.NoError(t, k.Close())
}

func TestKafkaRejectsOversizedPayload(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	k := newKafka(producer, config.KafkaConfig{Topic: "events", MaxMessageBytes: 4}, zap.NewNop())

	err := k.Dispatch(context.Background(), Payload{Data: []byte("too large\n")})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	require.NoError(t, k.Close(), "nothing was sent")
}

func TestKafkaMessageHeaders(t *testing.T) {
	k := newKafka(nil, config.KafkaConfig{Topic: "events"}, zap.NewNop())
	msg := k.buildMessage(context.Background(), Payload{Data: []byte("x\n"), Records: 7})

	assert.Equal(t, "events", msg.Topic)
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, "text/plain", headers["content-type"])
	assert.Equal(t, "7", headers["records"])
}
