package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/gymdesk/pkg/config"
	"github.com/sirupsen/logrus"
)

// LocalURLPrefix is the path local uploads are served under.
const LocalURLPrefix = "/uploads/"

type localUploader struct {
	log logrus.FieldLogger
	dir string
}

var _ Uploader = (*localUploader)(nil)

// NewLocalUploader stores uploads below cfg.Dir.
func NewLocalUploader(
	log logrus.FieldLogger,
	cfg *config.LocalStorageConfig,
) Uploader {
	return &localUploader{
		log: log.WithField("component", "local-uploader"),
		dir: filepath.Clean(cfg.Dir),
	}
}

func (l *localUploader) Preflight(_ context.Context) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating upload dir: %w", err)
	}

	f, err := os.CreateTemp(l.dir, ".gymdesk-write-test-*")
	if err != nil {
		return fmt.Errorf("upload dir %s is not writable: %w", l.dir, err)
	}

	name := f.Name()
	_ = f.Close()

	return os.Remove(name)
}

func (l *localUploader) Put(
	_ context.Context, key, _ string, body io.Reader, size int64,
) (string, error) {
	full := filepath.Join(l.dir, filepath.FromSlash(key))

	if !strings.HasPrefix(full, l.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the upload dir", key)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(body, size))
	closeErr := f.Close()

	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(full)

		return "", fmt.Errorf("writing file: %w", err)
	}

	l.log.WithField("key", key).WithField("bytes", written).Debug("Stored upload")

	return LocalURLPrefix + filepath.ToSlash(key), nil
}
