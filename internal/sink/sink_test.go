package sink

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

func TestPayloadStatement(t *testing.T) {
	assert.Equal(t, "SELECT 1", Payload{Data: []byte("SELECT 1\n")}.Statement())
	assert.Equal(t, "a=1\nb=2", Payload{Data: []byte("a=1\nb=2\n")}.Statement())
	assert.Empty(t, Payload{}.Statement())
}

func TestDiscard(t *testing.T) {
	d := NewDiscard()
	assert.Equal(t, "discard", d.Name())
	require.NoError(t, d.Dispatch(context.Background(), Payload{Data: []byte("x\n")}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Dispatch(ctx, Payload{}), context.Canceled)
	assert.NoError(t, d.Close())
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2024, 3, 7, 9, 45, 0, 0, time.UTC)
	key := objectKey("/landing/events/", now, ".gz")

	pattern := regexp.MustCompile(`^landing/events/2024/03/07/09/[0-9a-f-]{36}\.txt\.gz$`)
	assert.Regexp(t, pattern, key)

	key = objectKey("", now, "")
	assert.True(t, strings.HasPrefix(key, "2024/03/07/09/"), key)
	assert.True(t, strings.HasSuffix(key, ".txt"), key)
	assert.NotEqual(t, key, objectKey("", now, ""), "keys are unique")
}

func TestBlobMetadata(t *testing.T) {
	md := blobMetadata(Payload{Records: 12, Uncompressed: 4096})
	assert.Equal(t, map[string]string{
		"records":      "12",
		"uncompressed": "4096",
		"generator":    "surge",
	}, md)
}

func TestNewSink(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.SinkConfig{Type: config.SinkDiscard}, 1, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "discard", s.Name())

	s, err = New(ctx, config.SinkConfig{Type: config.SinkHTTP, HTTP: config.HTTPConfig{URL: "http://localhost:1"}}, 1, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, config.SinkHTTP, s.Name())
	require.NoError(t, s.Close())

	s, err = New(ctx, config.SinkConfig{Type: "carrier-pigeon"}, 1, zap.NewNop())
	assert.Nil(t, s)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	s, err = New(ctx, config.SinkConfig{Type: config.SinkKafka, Kafka: config.KafkaConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "events",
		Acks:    "sometimes",
	}}, 1, zap.NewNop())
	assert.Nil(t, s, "failed constructors yield a nil interface")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
