package adapter

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/amora/internal/config"
)

type recordingPutter struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (p *recordingPutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	p.input = in
	data, _ := io.ReadAll(in.Body)
	p.body = string(data)
	return &s3.PutObjectOutput{}, p.err
}

func TestStorageAdapter_Upload(t *testing.T) {
	putter := &recordingPutter{}
	s := NewStorageAdapter(putter, config.StorageConfig{Bucket: "photos", Region: "eu-west-1"})

	require.NoError(t, s.Upload(context.Background(), "profiles/u1/a.png", "image/png", strings.NewReader("png")))
	assert.Equal(t, "photos", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "profiles/u1/a.png", aws.ToString(putter.input.Key))
	assert.Equal(t, "image/png", aws.ToString(putter.input.ContentType))
	assert.Equal(t, "png", putter.body)

	require.NoError(t, s.Upload(context.Background(), "x", "", strings.NewReader("")))
	assert.Equal(t, "application/octet-stream", aws.ToString(putter.input.ContentType))

	putter.err = errors.New("denied")
	assert.Error(t, s.Upload(context.Background(), "x", "image/png", strings.NewReader("")))
}

func TestStorageAdapter_NoClient(t *testing.T) {
	s := NewStorageAdapter(nil, config.StorageConfig{Bucket: "photos"})
	assert.Error(t, s.Upload(context.Background(), "x", "image/png", strings.NewReader("")))
}

func TestStorageAdapter_PublicURL(t *testing.T) {
	aws3 := NewStorageAdapter(nil, config.StorageConfig{Bucket: "photos", Region: "eu-west-1"})
	assert.Equal(t, "https://photos.s3.eu-west-1.amazonaws.com/profiles/u1/a.png", aws3.PublicURL("profiles/u1/a.png"))

	minio := NewStorageAdapter(nil, config.StorageConfig{Bucket: "photos", Endpoint: "http://minio:9000/"})
	assert.Equal(t, "http://minio:9000/photos/profiles/u1/a.png", minio.PublicURL("profiles/u1/a.png"))

	cdn := NewStorageAdapter(nil, config.StorageConfig{Bucket: "photos", Endpoint: "http://minio:9000", PublicDomain: "https://cdn.amora.app/"})
	assert.Equal(t, "https://cdn.amora.app/profiles/u1/a.png", cdn.PublicURL("profiles/u1/a.png"))
}
