package sink

import (
	"bytes"
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

// uploader is the part of *manager.Uploader the S3 sink uses.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 uploads each payload as one object.
type S3 struct {
	uploader uploader
	bucket   string
	prefix   string
	now      func() time.Time
	logger   *zap.Logger
}

// NewS3 creates an S3 sink using the default AWS credential chain.
func NewS3(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	partSize := int64(cfg.PartSizeMB) * 1024 * 1024
	if partSize < manager.MinUploadPartSize {
		partSize = manager.MinUploadPartSize
	}
	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = 2
	})

	logger.Info("s3 sink ready",
		zap.String("bucket", cfg.Bucket),
		zap.String("prefix", cfg.Prefix),
		zap.String("region", cfg.Region),
		zap.Int64("part_size", partSize))
	return newS3(up, cfg, logger), nil
}

func newS3(up uploader, cfg config.S3Config, logger *zap.Logger) *S3 {
	return &S3{
		uploader: up,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		now:      time.Now,
		logger:   logger,
	}
}

// Name returns "s3"
func (s *S3) Name() string { return config.SinkS3 }

// Dispatch uploads p under a fresh object key.
func (s *S3) Dispatch(ctx context.Context, p Payload) error {
	key := objectKey(s.prefix, s.now(), p.Extension)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(p.Data),
		ContentType: aws.String("text/plain"),
		Metadata:    blobMetadata(p),
	}
	if p.Encoding != "" {
		input.ContentEncoding = aws.String(p.Encoding)
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "upload blob").
			WithDetail("bucket", s.bucket).
			WithDetail("key", key)
	}
	s.logger.Debug("blob uploaded",
		zap.String("location", out.Location),
		zap.Int("bytes", len(p.Data)),
		zap.Int64("records", p.Records))
	return nil
}

// Close is a no-op
func (s *S3) Close() error { return nil }
