package media

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed("image/png"))
	assert.True(t, Allowed("text/plain; charset=utf-8"))
	assert.True(t, Allowed("application/pdf"))
	assert.False(t, Allowed("application/x-msdownload"))
	assert.False(t, Allowed(""))
}

func TestObjectKey(t *testing.T) {
	k := ObjectKey("../../Homework.PDF")
	assert.True(t, strings.HasSuffix(k, ".pdf"))
	assert.NotContains(t, k, "/")
	assert.NotEqual(t, k, ObjectKey("../../Homework.PDF"))
}

func TestDiskUploader(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDiskUploader(dir, "/api/uploads")
	require.NoError(t, err)

	obj, err := d.Upload(context.Background(), "notes.txt", "text/plain", strings.NewReader("chapter 4"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), obj.Size)
	assert.Equal(t, "/api/uploads/"+obj.Key, obj.URL)

	data, err := os.ReadFile(filepath.Join(dir, obj.Key))
	require.NoError(t, err)
	assert.Equal(t, "chapter 4", string(data))

	_, err = d.Upload(context.Background(), "virus.exe", "application/x-msdownload", strings.NewReader("MZ"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  string
}

func (f *fakePutter) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.input = in
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = string(b)
	return &manager.UploadOutput{}, nil
}

func TestS3Uploader(t *testing.T) {
	put := &fakePutter{}
	s := &S3Uploader{uploader: put, bucket: "ams-media", region: "eu-west-1"}

	obj, err := s.Upload(context.Background(), "diagram.png", "image/png", strings.NewReader("pngdata"))
	require.NoError(t, err)
	assert.Equal(t, "ams-media", aws.ToString(put.input.Bucket))
	assert.Equal(t, "image/png", aws.ToString(put.input.ContentType))
	assert.Equal(t, "pngdata", put.body)
	assert.Equal(t, int64(7), obj.Size)
	assert.Equal(t, "https://ams-media.s3.eu-west-1.amazonaws.com/"+obj.Key, obj.URL)

	s.publicBase = "https://cdn.school.test"
	obj, err = s.Upload(context.Background(), "diagram.png", "image/png", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.school.test/"+obj.Key, obj.URL)
}
