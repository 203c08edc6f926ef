package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
	"github.com/ajitpratap0/surge/pkg/testutil"
)

var uploadTime = time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (u *fakeUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if u.err != nil {
		return nil, u.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	u.inputs = append(u.inputs, input)
	u.bodies = append(u.bodies, body)
	return &manager.UploadOutput{Location: "s3://" + aws.ToString(input.Bucket) + "/" + aws.ToString(input.Key)}, nil
}

func TestS3Dispatch(t *testing.T) {
	up := &fakeUploader{}
	s := newS3(up, config.S3Config{Bucket: "landing", Prefix: "surge"}, testutil.TestLogger(t))
	s.now = func() time.Time { return uploadTime }

	err := s.Dispatch(context.Background(), Payload{
		Data:         []byte("compressed"),
		Records:      100,
		Uncompressed: 2048,
		Encoding:     "gzip",
		Extension:    ".gz",
	})
	require.NoError(t, err)
	require.Len(t, up.inputs, 1)

	in := up.inputs[0]
	assert.Equal(t, "landing", aws.ToString(in.Bucket))
	assert.True(t, strings.HasPrefix(aws.ToString(in.Key), "surge/2024/05/01/13/"))
	assert.True(t, strings.HasSuffix(aws.ToString(in.Key), ".txt.gz"))
	assert.Equal(t, "gzip", aws.ToString(in.ContentEncoding))
	assert.Equal(t, "100", in.Metadata["records"])
	assert.Equal(t, []byte("compressed"), up.bodies[0])
}

func TestS3DispatchUncompressed(t *testing.T) {
	up := &fakeUploader{}
	s := newS3(up, config.S3Config{Bucket: "landing"}, zap.NewNop())

	require.NoError(t, s.Dispatch(context.Background(), Payload{Data: []byte("a\n"), Records: 1}))
	assert.Nil(t, up.inputs[0].ContentEncoding)
}

func TestS3DispatchError(t *testing.T) {
	s := newS3(&fakeUploader{err: fmt.Errorf("access denied")}, config.S3Config{Bucket: "landing"}, zap.NewNop())

	err := s.Dispatch(context.Background(), Payload{Data: []byte("a\n")})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Contains(t, err.Error(), "access denied")
}

type fakeObject struct {
	attrs    storage.ObjectAttrs
	buf      bytes.Buffer
	closed   bool
	closeErr error
}

func (o *fakeObject) Write(p []byte) (int, error) { return o.buf.Write(p) }

func (o *fakeObject) Close() error {
	o.closed = true
	return o.closeErr
}

func TestGCSDispatch(t *testing.T) {
	var objects []*fakeObject
	open := func(_ context.Context, attrs storage.ObjectAttrs) io.WriteCloser {
		o := &fakeObject{attrs: attrs}
		objects = append(objects, o)
		return o
	}
	g := newGCS(open, config.GCSConfig{Bucket: "landing", Prefix: "raw"}, testutil.TestLogger(t))
	g.now = func() time.Time { return uploadTime }

	require.NoError(t, g.Dispatch(context.Background(), Payload{Data: []byte("a\nb\n"), Records: 2, Uncompressed: 4}))
	require.Len(t, objects, 1)

	o := objects[0]
	assert.True(t, o.closed)
	assert.Equal(t, "a\nb\n", o.buf.String())
	assert.True(t, strings.HasPrefix(o.attrs.Name, "raw/2024/05/01/13/"))
	assert.Equal(t, "text/plain", o.attrs.ContentType)
	assert.Empty(t, o.attrs.ContentEncoding)
	assert.Equal(t, "2", o.attrs.Metadata["records"])
	assert.NoError(t, g.Close())
}

func TestGCSFinalizeError(t *testing.T) {
	open := func(_ context.Context, attrs storage.ObjectAttrs) io.WriteCloser {
		return &fakeObject{attrs: attrs, closeErr: fmt.Errorf("precondition failed")}
	}
	g := newGCS(open, config.GCSConfig{Bucket: "landing"}, zap.NewNop())

	err := g.Dispatch(context.Background(), Payload{Data: []byte("a\n")})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}
