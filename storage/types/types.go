// Package types holds the object storage contract used by the PDF archive.
package types

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when an object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidKey is returned for empty keys and keys escaping the store root.
var ErrInvalidKey = errors.New("invalid object key")

// ObjectMetadata describes an object being stored.
type ObjectMetadata struct {
	ContentType   string
	ContentLength int64 // 0 when unknown
	UserMetadata  map[string]string
}

// ObjectStorage stores converted documents. Keys use forward slashes.
type ObjectStorage interface {
	// Put stores the content of body under key, replacing any existing
	// object.
	Put(ctx context.Context, key string, body io.Reader, metadata ObjectMetadata) error

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}
