package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/storage"
	apperrors "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/errors"
)

// Storage keeps files in a flat directory on the local filesystem and
// builds URLs under baseURL, where the router serves that directory.
type Storage struct {
	dir     string
	baseURL string
}

// New creates the directory if needed and returns a storage rooted at it.
func New(dir, baseURL string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir %s: %w", dir, err)
	}
	return &Storage{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory files are written to.
func (s *Storage) Dir() string {
	return s.dir
}

// Upload writes the file to a temporary name and renames it into place, so
// a reader never observes a partial image.
func (s *Storage) Upload(ctx context.Context, input *storage.UploadInput) (*storage.UploadResult, error) {
	if err := validKey(input.Key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, input.Data); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write %s: %w", input.Key, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", input.Key, err)
	}

	dst := filepath.Join(s.dir, input.Key)
	if _, err := os.Stat(dst); err == nil {
		return nil, apperrors.Conflict(fmt.Sprintf("file %s already exists", input.Key))
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("store %s: %w", input.Key, err)
	}

	return &storage.UploadResult{
		Key: input.Key,
		URL: s.baseURL + "/" + input.Key,
	}, nil
}

// Delete removes the file stored under key.
func (s *Storage) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperrors.NotFound("image", key)
		}
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// validKey rejects keys that would escape the storage directory.
func validKey(key string) error {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." || strings.HasPrefix(key, ".") {
		return apperrors.InvalidInput(fmt.Sprintf("invalid file key %q", key))
	}
	return nil
}
