// Package images stores uploaded pin photos and serves them back.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	defaultMaxBytes  = 10 << 20
	defaultURLPrefix = "/uploads"
)

var (
	// ErrEmptyUpload indicates the upload carried no bytes.
	ErrEmptyUpload = errors.New("images: empty upload")
	// ErrTooLarge indicates the upload exceeded the configured size.
	ErrTooLarge = errors.New("images: upload too large")
	// ErrNotImage indicates the content did not sniff as an image.
	ErrNotImage = errors.New("images: content is not an image")
)

// rasterTypes are the accepted upload formats. Uploads are served from the
// API origin, so scriptable formats such as SVG must never be stored.
var rasterTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Upload is an image file received with a pin.
type Upload struct {
	Filename string
	Reader   io.Reader
}

// Store turns image bytes into a URL that clients can fetch.
type Store interface {
	Save(ctx context.Context, upload Upload) (string, error)
}

// DiskStoreConfig configures a DiskStore.
type DiskStoreConfig struct {
	Fs        afero.Fs
	Directory string
	URLPrefix string
	MaxBytes  int64
	Logger    *zap.Logger
}

// DiskStore writes uploads to a filesystem directory under random names.
type DiskStore struct {
	fs        afero.Fs
	directory string
	urlPrefix string
	maxBytes  int64
	logger    *zap.Logger
}

// NewDiskStore constructs a DiskStore. A nil Fs selects the OS filesystem.
func NewDiskStore(cfg DiskStoreConfig) (*DiskStore, error) {
	directory := strings.TrimSpace(cfg.Directory)
	if directory == "" {
		return nil, fmt.Errorf("images: directory is required")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	prefix := "/" + strings.Trim(strings.TrimSpace(cfg.URLPrefix), "/")
	if prefix == "/" {
		prefix = defaultURLPrefix
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := fs.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("images: create directory: %w", err)
	}
	return &DiskStore{
		fs:        fs,
		directory: directory,
		urlPrefix: prefix,
		maxBytes:  maxBytes,
		logger:    logger,
	}, nil
}

// Save sniffs the upload, writes it under a UUID filename, and returns its URL.
func (s *DiskStore) Save(ctx context.Context, upload Upload) (string, error) {
	if upload.Reader == nil {
		return "", ErrEmptyUpload
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(upload.Reader, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("images: read upload: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptyUpload
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrTooLarge
	}

	detected := mimetype.Detect(data)
	if !mimetype.EqualsAny(detected.String(), rasterTypes...) {
		return "", fmt.Errorf("%w: %s", ErrNotImage, detected.String())
	}

	name := uuid.NewString() + detected.Extension()
	if err := afero.WriteFile(s.fs, filepath.Join(s.directory, name), data, 0o644); err != nil {
		return "", fmt.Errorf("images: write file: %w", err)
	}

	s.logger.Debug("image stored",
		zap.String("file", name),
		zap.String("original_name", upload.Filename),
		zap.String("mime", detected.String()),
		zap.Int("bytes", len(data)))
	return path.Join(s.urlPrefix, name), nil
}

// URLPrefix is the path under which stored images are served.
func (s *DiskStore) URLPrefix() string {
	return s.urlPrefix
}

// FileSystem exposes the stored images for static serving.
func (s *DiskStore) FileSystem() http.FileSystem {
	return afero.NewHttpFs(s.fs).Dir(s.directory)
}
