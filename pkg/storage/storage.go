package storage

import (
	"context"
	"strings"
	"time"
)

// Storage is the blob backend the pipeline resolves media through. Workers
// never stream bytes through the application; they hand transformers
// short-lived signed URLs instead.
type Storage interface {
	// SignedUploadURL returns a URL a client can PUT the object to.
	SignedUploadURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	// SignedDownloadURL returns a URL the object can be fetched from.
	SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// cleanKey normalizes an object key and rejects traversal attempts.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", ErrInvalidPath
	}
	return key, nil
}
