package sink

import (
	"context"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

// objectWriterFunc opens a writer for a new object with the given attributes.
type objectWriterFunc func(ctx context.Context, attrs storage.ObjectAttrs) io.WriteCloser

// GCS uploads each payload as one Cloud Storage object.
type GCS struct {
	open   objectWriterFunc
	close  func() error
	bucket string
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewGCS creates a GCS sink using application default credentials.
func NewGCS(ctx context.Context, cfg config.GCSConfig, logger *zap.Logger) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	bucket := client.Bucket(cfg.Bucket)
	if cfg.BillingProject != "" {
		bucket = bucket.UserProject(cfg.BillingProject)
	}

	open := func(ctx context.Context, attrs storage.ObjectAttrs) io.WriteCloser {
		w := bucket.Object(attrs.Name).NewWriter(ctx)
		w.ContentType = attrs.ContentType
		w.ContentEncoding = attrs.ContentEncoding
		w.Metadata = attrs.Metadata
		return w
	}

	logger.Info("gcs sink ready", zap.String("bucket", cfg.Bucket), zap.String("prefix", cfg.Prefix),
		zap.String("billing_project", cfg.BillingProject))
	g := newGCS(open, cfg, logger)
	g.close = client.Close
	return g, nil
}

func newGCS(open objectWriterFunc, cfg config.GCSConfig, logger *zap.Logger) *GCS {
	return &GCS{
		open:   open,
		close:  func() error { return nil },
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
		logger: logger,
	}
}

// Name returns "gcs"
func (g *GCS) Name() string { return config.SinkGCS }

// Dispatch writes p to a fresh object. The object only exists once the
// writer is closed successfully.
func (g *GCS) Dispatch(ctx context.Context, p Payload) error {
	attrs := storage.ObjectAttrs{
		Name:            objectKey(g.prefix, g.now(), p.Extension),
		ContentType:     "text/plain",
		ContentEncoding: p.Encoding,
		Metadata:        blobMetadata(p),
	}

	w := g.open(ctx, attrs)
	if _, err := w.Write(p.Data); err != nil {
		_ = w.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "write blob").WithDetail("object", attrs.Name)
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "finalize blob").WithDetail("object", attrs.Name)
	}

	g.logger.Debug("blob uploaded",
		zap.String("bucket", g.bucket),
		zap.String("object", attrs.Name),
		zap.Int("bytes", len(p.Data)))
	return nil
}

// Close closes the storage client.
func (g *GCS) Close() error {
	return g.close()
}
