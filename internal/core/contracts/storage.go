package contracts

import (
	"context"
	"io"
)

// ObjectStorage uploads media and returns its public URL.
type ObjectStorage interface {
	Upload(ctx context.Context, file io.Reader, filename, folder, transform string) (string, error)
	// Owns reports whether url points into this storage.
	Owns(url string) bool
}
