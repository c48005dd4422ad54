package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ethpandaops/gymdesk/pkg/upload"
)

const (
	uploadField = "file"
	uploadDir   = "images"
	// multipartOverhead allows for part headers around the file.
	multipartOverhead = 64 << 10
	sniffLen          = 512
)

type uploadResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// handleUpload stores a single image from the "file" multipart field and
// returns its public URL. The type is sniffed from the content; the
// client-declared type is ignored.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploader == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Uploads are not configured")

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)

	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "File too large")

			return
		}

		s.writeError(w, http.StatusBadRequest, "Invalid multipart form")

		return
	}

	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Missing file field")

		return
	}
	defer file.Close()

	if header.Size > s.maxUpload {
		s.writeError(w, http.StatusRequestEntityTooLarge, "File too large")

		return
	}

	head := make([]byte, sniffLen)

	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Unreadable file")

		return
	}

	contentType := http.DetectContentType(head[:n])

	ext, err := upload.ExtensionFor(contentType)
	if err != nil {
		s.writeValidation(w, http.StatusUnsupportedMediaType, "Only images are accepted",
			map[string]any{"contentType": contentType})

		return
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		s.writeInternalError(w, r, err, "Failed to read upload")

		return
	}

	key := upload.ObjectKey(uploadDir, ext, s.now())

	url, err := s.uploader.Put(r.Context(), key, contentType, file, header.Size)
	if err != nil {
		s.writeInternalError(w, r, err, "Failed to store upload")

		return
	}

	s.log.WithField("key", key).
		WithField("bytes", header.Size).
		Info("Image uploaded")

	writeJSON(w, http.StatusCreated, uploadResponse{Success: true, URL: url})
}
