package httpserver

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ams_backend/internal/media"
)

// UploadRoutes returns a sub-router mounted at /api/uploads.
//   - POST /          -> multipart "file" field, stored through the uploader
//   - GET /{filename} -> serves files when the uploader writes to local disk
func UploadRoutes(uploader media.Uploader, maxBytes int64, log *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "failed to parse multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "missing file")
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
				contentType = byExt
			}
		}

		obj, err := uploader.Upload(r.Context(), header.Filename, contentType, file)
		if errors.Is(err, media.ErrUnsupportedType) {
			writeErrorMessage(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		if err != nil {
			log.Error("upload failed", zap.Error(err), zap.String("filename", header.Filename))
			writeErrorMessage(w, http.StatusInternalServerError, "failed to upload file")
			return
		}
		writeJSON(w, http.StatusCreated, obj)
	})

	disk, ok := uploader.(*media.DiskUploader)
	if !ok {
		return r
	}

	// Simple file serving endpoint compatible with existing URLs: /api/uploads/{filename}
	r.Get("/{filename}", func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		// Prevent path traversal by cleaning the path and not allowing separators.
		if filename == "" || filepath.Base(filename) != filename {
			writeErrorMessage(w, http.StatusBadRequest, "invalid filename")
			return
		}
		http.ServeFile(w, r, filepath.Join(disk.Dir(), filename))
	})

	return r
}
