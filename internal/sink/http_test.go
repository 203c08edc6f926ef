package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

func TestHTTPDispatch(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := NewHTTP(context.Background(), config.HTTPConfig{
		URL:     srv.URL + "/bulk",
		Method:  http.MethodPut,
		Headers: map[string]string{"X-Tenant": "acme"},
	}, zap.NewNop())
	defer h.Close()

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	err := h.Dispatch(ctx, Payload{Data: []byte("gz"), Records: 42, Encoding: "gzip"})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/bulk", got.URL.Path)
	assert.Equal(t, "text/plain", got.Header.Get("Content-Type"))
	assert.Equal(t, "gzip", got.Header.Get("Content-Encoding"))
	assert.Equal(t, "42", got.Header.Get("X-Record-Count"))
	assert.Equal(t, "acme", got.Header.Get("X-Tenant"))
	assert.Equal(t, "00-0102030405060708090a0b0c0d0e0f10-0102030405060708-01", got.Header.Get("Traceparent"))
	assert.Equal(t, []byte("gz"), body)
}

func TestHTTPStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   errors.ErrorType
	}{
		{http.StatusTooManyRequests, errors.ErrorTypeRateLimit},
		{http.StatusBadRequest, errors.ErrorTypeDispatch},
		{http.StatusBadGateway, errors.ErrorTypeConnection},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			h := newHTTP(srv.Client(), config.HTTPConfig{URL: srv.URL}, zap.NewNop())
			err := h.Dispatch(context.Background(), Payload{Data: []byte("a\n")})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.want), "got %v", err)
		})
	}
}

func TestHTTPCircuitOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := newHTTP(srv.Client(), config.HTTPConfig{URL: srv.URL}, zap.NewNop())
	for i := 0; i < 8; i++ {
		assert.Error(t, h.Dispatch(context.Background(), Payload{Data: []byte("a\n")}))
	}
	assert.Equal(t, int32(5), hits.Load(), "requests stop once the breaker opens")
}
