// Package upload stores admin image uploads in S3-compatible storage or on
// the local filesystem.
package upload

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/ethpandaops/gymdesk/pkg/config"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrDisabled is returned by New when no storage backend is enabled.
var ErrDisabled = errors.New("upload storage is not configured")

// ErrUnsupportedType is returned for content types that are not images.
var ErrUnsupportedType = errors.New("unsupported content type")

// Uploader stores an uploaded object and returns its public URL.
type Uploader interface {
	// Preflight verifies that the storage is reachable and writable.
	Preflight(ctx context.Context) error

	// Put stores body under key and returns the URL it is served from.
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// ExtensionFor returns the file extension for an accepted image type.
func ExtensionFor(contentType string) (string, error) {
	mediaType, _, _ := strings.Cut(contentType, ";")

	ext, ok := imageExtensions[strings.TrimSpace(strings.ToLower(mediaType))]
	if !ok {
		return "", ErrUnsupportedType
	}

	return ext, nil
}

// ObjectKey builds a unique key of the form prefix/yyyy/mm/<uuid><ext>.
func ObjectKey(prefix, ext string, now time.Time) string {
	name := uuid.NewString() + ext

	return path.Join(strings.Trim(prefix, "/"), now.UTC().Format("2006/01"), name)
}

// New returns the Uploader for the enabled backend.
func New(log logrus.FieldLogger, cfg *config.StorageConfig) (Uploader, error) {
	switch {
	case cfg.S3 != nil && cfg.S3.Enabled:
		return NewS3Uploader(log, cfg.S3), nil
	case cfg.Local != nil && cfg.Local.Enabled:
		return NewLocalUploader(log, cfg.Local), nil
	default:
		return nil, ErrDisabled
	}
}
