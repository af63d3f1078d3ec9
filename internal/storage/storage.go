package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrBucketRequired = errors.New("storage bucket is required")

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// ObjectStore writes and lists objects in a single bucket.
type ObjectStore interface {
	// Put stores body under key and returns the object's location.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
