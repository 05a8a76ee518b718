// Package artifact stores input and output files as byte blobs keyed by
// logical path. Every path is namespaced under the owning user's prefix,
// which is the authorization boundary for file access.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get for a path with no stored object.
var ErrNotFound = errors.New("artifact not found")

// Store is a durable blob store keyed by logical path.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// ObjectPath builds the canonical {ownerID}/{folder}/{name} object path.
func ObjectPath(ownerID, folder, name string) string {
	return fmt.Sprintf("%s/%s/%s", ownerID, folder, name)
}

// Owns reports whether path lives under ownerID's storage prefix.
func Owns(ownerID, path string) bool {
	return strings.HasPrefix(path, ownerID+"/")
}
