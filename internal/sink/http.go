package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/clients"
	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
	"github.com/ajitpratap0/surge/pkg/observability"
)

// maxErrorBody bounds how much of a failed response is kept in the error
const maxErrorBody = 512

// HTTP posts each payload to a bulk ingestion endpoint.
type HTTP struct {
	client      *http.Client
	breaker     *clients.CircuitBreaker
	url         string
	method      string
	contentType string
	headers     map[string]string
	logger      *zap.Logger
}

// NewHTTP creates an HTTP sink. When a token URL is configured every request
// carries an OAuth2 client credentials bearer token.
func NewHTTP(ctx context.Context, cfg config.HTTPConfig, logger *zap.Logger) *HTTP {
	httpConfig := clients.DefaultHTTPConfig()
	httpConfig.EnableHTTP2 = cfg.EnableHTTP2
	if cfg.Timeout > 0 {
		httpConfig.RequestTimeout = cfg.Timeout
	}
	client := clients.NewHTTPClient(httpConfig, logger)

	if cfg.TokenURL != "" {
		client = clients.WithClientCredentials(ctx, client, clients.ClientCredentials{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
		})
	}

	logger.Info("http sink ready",
		zap.String("url", cfg.URL),
		zap.Bool("http2", cfg.EnableHTTP2),
		zap.Bool("oauth2", cfg.TokenURL != ""))
	return newHTTP(client, cfg, logger)
}

func newHTTP(client *http.Client, cfg config.HTTPConfig, logger *zap.Logger) *HTTP {
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	return &HTTP{
		client:      client,
		breaker:     clients.NewCircuitBreaker(clients.DefaultCircuitBreakerConfig(), nil, logger),
		url:         cfg.URL,
		method:      method,
		contentType: contentType,
		headers:     cfg.Headers,
		logger:      logger,
	}
}

// Name returns "http"
func (h *HTTP) Name() string { return config.SinkHTTP }

// Dispatch sends p as the request body. Any non-2xx status is an error.
func (h *HTTP) Dispatch(ctx context.Context, p Payload) error {
	err := h.breaker.Execute(func() error {
		return h.send(ctx, p)
	})
	if errors.Is(err, clients.ErrCircuitOpen) {
		return errors.Wrap(err, errors.ErrorTypeConnection, "endpoint unavailable").WithDetail("url", h.url)
	}
	return err
}

func (h *HTTP) send(ctx context.Context, p Payload) error {
	req, err := http.NewRequestWithContext(ctx, h.method, h.url, bytes.NewReader(p.Data))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "build request").WithDetail("url", h.url)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", h.contentType)
	req.Header.Set("X-Record-Count", strconv.FormatInt(p.Records, 10))
	if p.Encoding != "" {
		req.Header.Set("Content-Encoding", p.Encoding)
	}
	observability.InjectHeaders(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "send payload").WithDetail("url", h.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		h.logger.Debug("payload accepted",
			zap.Int("status", resp.StatusCode),
			zap.Int("bytes", len(p.Data)),
			zap.Int64("records", p.Records))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	errType := errors.ErrorTypeDispatch
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		errType = errors.ErrorTypeRateLimit
	case resp.StatusCode >= 500:
		errType = errors.ErrorTypeConnection
	}
	return errors.Newf(errType, "endpoint returned %s", resp.Status).
		WithDetail("url", h.url).
		WithDetail("status", resp.StatusCode).
		WithDetail("body", fmt.Sprintf("%q", body))
}

// Close releases idle connections.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
