package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/storage"
	apperrors "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/errors"
)

// File is the metadata kept for a stored file.
type File struct {
	Key         string
	ContentType string
	Size        int64
	URL         string
}

// Storage implements storage.Storage in memory. It keeps metadata only and
// discards file contents.
type Storage struct {
	mu      sync.RWMutex
	files   map[string]File
	baseURL string
}

// New creates an empty in-memory storage.
func New(baseURL string) *Storage {
	return &Storage{
		files:   make(map[string]File),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *Storage) Upload(_ context.Context, input *storage.UploadInput) (*storage.UploadResult, error) {
	n, err := io.Copy(io.Discard, input.Data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", input.Key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[input.Key]; exists {
		return nil, apperrors.Conflict(fmt.Sprintf("file %s already exists", input.Key))
	}

	url := s.baseURL + "/" + input.Key
	s.files[input.Key] = File{Key: input.Key, ContentType: input.ContentType, Size: n, URL: url}
	return &storage.UploadResult{Key: input.Key, URL: url}, nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[key]; !exists {
		return apperrors.NotFound("image", key)
	}
	delete(s.files, key)
	return nil
}

// Has reports whether a file is stored under key.
func (s *Storage) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[key]
	return ok
}

// Len returns the number of stored files.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}
