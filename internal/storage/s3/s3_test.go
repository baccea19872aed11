package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractvault/contractvault/internal/storage"
)

type fakeClient struct {
	objects map[string][]byte
	putErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: map[string][]byte{}}
}

func (f *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeClient) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	modified := time.Now().Add(-time.Hour)
	for key, data := range f.objects {
		if !strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(data))),
			LastModified: aws.Time(modified),
		})
	}
	return out, nil
}

func TestS3RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newFakeClient()
	b := newWithClient(c, "contracts", "/versions/")

	loc, err := b.Put(ctx, "abc_lease.docx", []byte("docx"))
	require.NoError(t, err)
	assert.Equal(t, "s3://contracts/versions/abc_lease.docx", loc)
	assert.Contains(t, c.objects, "versions/abc_lease.docx")

	scheme, err := storage.SchemeOf(loc)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemeS3, scheme)

	got, err := b.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("docx"), got)

	objs, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, loc, objs[0].Location)
	assert.EqualValues(t, 4, objs[0].Size)

	require.NoError(t, b.Delete(ctx, loc))
	_, err = b.Get(ctx, loc)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestS3RejectsForeignBucket(t *testing.T) {
	b := newWithClient(newFakeClient(), "contracts", "")
	_, err := b.Get(context.Background(), "s3://other/key.pdf")
	assert.ErrorIs(t, err, storage.ErrRejected)
}

func TestS3Classify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, storage.ErrNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, storage.ErrRejected},
		{"entity too large", &smithy.GenericAPIError{Code: "EntityTooLarge"}, storage.ErrRejected},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, storage.ErrUnreachable},
		{"transport", errors.New("dial tcp: connection refused"), storage.ErrUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("put", tt.err), tt.want)
		})
	}
}

func TestS3PutFailureIsClassified(t *testing.T) {
	c := newFakeClient()
	c.putErr = errors.New("i/o timeout")
	b := newWithClient(c, "contracts", "")

	_, err := b.Put(context.Background(), "a.pdf", []byte("x"))
	assert.True(t, storage.IsUnreachable(err))
}
