package s3dir

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainmail/internal/domain"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = b
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func TestDirectory_PublishFetch(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	d := New(api, "keys")

	pkg := domain.PreKeyPackage{
		Interval:     1,
		LastResortID: 20440,
		PreKeys: map[domain.PreKeyID]domain.PublicKey{
			20436: {1},
			20440: {2},
		},
	}
	require.NoError(t, d.Publish(ctx, "alice", pkg))
	assert.Equal(t, contentType, api.types["keys/prekeys/alice.cbor"])

	got, err := d.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, pkg, got)
}

func TestDirectory_FetchMissing(t *testing.T) {
	d := New(newFakeS3(), "keys")
	_, err := d.Fetch(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestObjectKey_EscapesAddress(t *testing.T) {
	assert.Equal(t, "prekeys/a%2Fb.cbor", objectKey("a/b"))
}
