// Package media stores chat attachments and returns the URL clients embed in
// a message body.
package media

import (
	"context"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrUnsupportedType = errors.New("unsupported media type")

// Uploader persists one file and returns where it can be fetched.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, r io.Reader) (*Object, error)
}

type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

var allowedPrefixes = []string{"image/", "video/", "audio/"}

var allowedTypes = map[string]struct{}{
	"application/pdf":    {},
	"text/plain":         {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
}

// Allowed reports whether contentType may be uploaded. Parameters such as
// charset are ignored.
func Allowed(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(mt, p) {
			return true
		}
	}
	_, ok := allowedTypes[mt]
	return ok
}

// ObjectKey derives a collision-free storage key that keeps the original
// extension.
func ObjectKey(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return uuid.NewString() + ext
}
