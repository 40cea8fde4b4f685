package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// DiskUploader writes files under a local directory served by the API.
type DiskUploader struct {
	dir     string
	baseURL string
}

func NewDiskUploader(dir, baseURL string) (*DiskUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &DiskUploader{dir: dir, baseURL: baseURL}, nil
}

func (d *DiskUploader) Dir() string { return d.dir }

func (d *DiskUploader) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*Object, error) {
	if !Allowed(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	key := ObjectKey(filename)
	out, err := os.Create(filepath.Join(d.dir, key))
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, r)
	if err != nil {
		_ = os.Remove(out.Name())
		return nil, fmt.Errorf("write upload: %w", err)
	}
	return &Object{
		Key:         key,
		URL:         path.Join(d.baseURL, key),
		ContentType: contentType,
		Size:        n,
	}, nil
}
