package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jun/gophvault/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func TestBackend_Lifecycle(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	b := NewBackend(fake, "vault-bucket", "")

	bucketID, err := b.Initialize(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, bucketID)
	assert.Contains(t, fake.objects, "vault-bucket/vault/"+bucketID+"/.vault")

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	var last int64
	id, err := b.PutBlob(ctx, payload, func(n int64) { last = n })
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), last)
	assert.Contains(t, fake.objects, "vault-bucket/vault/"+bucketID+"/"+id)

	var gotProgress int64
	got, err := b.GetBlob(ctx, id, func(n int64) { gotProgress = n })
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(len(payload)), gotProgress)

	require.NoError(t, b.DeleteBlob(ctx, id))
	_, err = b.GetBlob(ctx, id, nil)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestBackend_ErrorsWrapBackend(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.err = errors.New("access denied")
	b := NewBackend(fake, "bkt", "prefix")

	_, err := b.PutBlob(ctx, []byte("x"), nil)
	assert.ErrorIs(t, err, blob.ErrBackend)
	_, err = b.GetBlob(ctx, "id", nil)
	assert.ErrorIs(t, err, blob.ErrBackend)
	assert.ErrorIs(t, b.DeleteBlob(ctx, "id"), blob.ErrBackend)
	_, err = b.Initialize(ctx)
	assert.ErrorIs(t, err, blob.ErrBackend)
}

func TestProvider_KeepsBucketID(t *testing.T) {
	p := NewProvider(newFakeS3(), "bkt")
	b, err := p.Backend(context.Background(), "u1", "existing")
	require.NoError(t, err)
	id, err := b.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "existing", id)
}
