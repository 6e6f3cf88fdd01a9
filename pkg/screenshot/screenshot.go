// Package screenshot stores payment proof images on the local filesystem
// and removes them once their retention window lapses.
package screenshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidConfig  = errors.New("invalid screenshot storage config")
	ErrInvalidPath    = errors.New("invalid screenshot path")
	ErrNotFound       = errors.New("screenshot not found")
	ErrNotImage       = errors.New("file is not an image")
	ErrTooLarge       = errors.New("file exceeds size limit")
	ErrSaveFailed     = errors.New("failed to save screenshot")
	ErrRemoveFailed   = errors.New("failed to remove screenshot")
	ErrNilFileHeader  = errors.New("file header is nil")
	ErrOutsideBaseURL = errors.New("url is outside the storage base url")
)

// MaxProofSize caps payment proof uploads. Mobile screenshots rarely
// exceed a few megabytes.
const MaxProofSize = 10 << 20

var allowedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// Store keeps proof images under baseDir and serves them under baseURL.
// All paths are confined to baseDir to prevent traversal.
type Store struct {
	baseDir string
	baseURL string
	maxSize int64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSize overrides the upload size cap.
func WithMaxSize(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// NewStore creates the base directory if missing and returns a Store.
func NewStore(baseDir, baseURL string, opts ...Option) (*Store, error) {
	if baseDir == "" {
		return nil, ErrInvalidConfig
	}

	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	s := &Store{baseDir: absDir, baseURL: baseURL, maxSize: MaxProofSize}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SaveProof validates and stores an uploaded proof image for a tenant.
// The returned URL is what gets recorded on the payment.
func (s *Store) SaveProof(ctx context.Context, tenantID uuid.UUID, fh *multipart.FileHeader) (string, error) {
	if fh == nil {
		return "", ErrNilFileHeader
	}
	if fh.Size > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, fh.Size)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	defer func() { _ = src.Close() }()

	mimeType, head, err := sniffMIME(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	if !allowedMIMETypes[mimeType] {
		return "", fmt.Errorf("%w: %s", ErrNotImage, mimeType)
	}

	name := uuid.New().String() + extensionFor(fh.Filename)
	relPath := filepath.Join(tenantID.String(), name)

	absPath, err := s.resolve(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	dst, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	defer func() { _ = dst.Close() }()

	if err := copyWithContext(ctx, dst, io.MultiReader(bytes.NewReader(head), src)); err != nil {
		_ = os.Remove(absPath)
		return "", err
	}

	return s.baseURL + filepath.ToSlash(relPath), nil
}

// Remove deletes the image behind a previously returned URL. Satisfies
// the payment sweeper's ScreenshotRemover. A missing file is not an
// error so a retried purge stays idempotent.
func (s *Store) Remove(ctx context.Context, url string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	relPath, ok := strings.CutPrefix(url, s.baseURL)
	if !ok {
		return fmt.Errorf("%w: %s", ErrOutsideBaseURL, url)
	}

	absPath, err := s.resolve(filepath.FromSlash(relPath))
	if err != nil {
		return err
	}

	if err := os.Remove(absPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRemoveFailed, err)
	}
	return nil
}

// Exists reports whether the image behind a URL is still on disk.
func (s *Store) Exists(url string) bool {
	relPath, ok := strings.CutPrefix(url, s.baseURL)
	if !ok {
		return false
	}
	absPath, err := s.resolve(filepath.FromSlash(relPath))
	if err != nil {
		return false
	}
	_, err = os.Stat(absPath)
	return err == nil
}

func (s *Store) resolve(relPath string) (string, error) {
	absPath, err := filepath.Abs(filepath.Join(s.baseDir, filepath.Clean(relPath)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if absPath != s.baseDir && !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, relPath)
	}
	return absPath, nil
}

// sniffMIME detects the content type from the first 512 bytes and returns
// those bytes so the caller can stitch the stream back together.
func sniffMIME(r io.Reader) (string, []byte, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", nil, err
	}
	mimeType := http.DetectContentType(buf[:n])
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return mimeType, buf[:n], nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("%w: %v", ErrSaveFailed, writeErr)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("%w: %v", ErrSaveFailed, readErr)
		}
	}
}

func extensionFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(strings.ReplaceAll(filename, "\\", "/"))))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".heic", ".heif":
		return ext
	default:
		return ".img"
	}
}
