package storage

import (
	"context"
	"io"
)

// Storage stores cover images.
type Storage interface {
	// Upload stores the file under input.Key and returns its public URL.
	Upload(ctx context.Context, input *UploadInput) (*UploadResult, error)

	// Delete removes the file stored under key. A missing file is NotFound.
	Delete(ctx context.Context, key string) error
}

// UploadInput holds the parameters for storing a file.
type UploadInput struct {
	Key         string
	ContentType string
	Size        int64
	Data        io.Reader
}

// UploadResult identifies a stored file. Key is the opaque handle used to
// delete it later; URL is where clients fetch it.
type UploadResult struct {
	Key string
	URL string
}
