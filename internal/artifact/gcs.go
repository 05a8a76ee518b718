package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore implements Store on a single Cloud Storage bucket.
type GCSStore struct {
	bucket *storage.BucketHandle
	name   string
}

// NewGCSStore wraps bucketName of client as an artifact store.
func NewGCSStore(client *storage.Client, bucketName string) *GCSStore {
	return &GCSStore{bucket: client.Bucket(bucketName), name: bucketName}
}

// Put writes data to path only if no object exists there yet. Uploaded
// artifact names are unique per submission, so a precondition failure means
// the same write already landed and is not an error.
func (s *GCSStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	writer := s.bucket.Object(path).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			log.Printf("SKIPPING: Object %s already exists.", path)
			return nil
		}
		return fmt.Errorf("failed to write to GCS object %s: %w", path, err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			log.Printf("SKIPPING: Object %s already exists.", path)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write for %s: %w", path, err)
	}
	return nil
}

// Get reads the full content of the object at path.
func (s *GCSStore) Get(ctx context.Context, path string) ([]byte, error) {
	reader, err := s.bucket.Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, s.name, path)
		}
		return nil, fmt.Errorf("failed to open GCS object gs://%s/%s: %w", s.name, path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the object at path. Deleting a missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, path string) error {
	if err := s.bucket.Object(path).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %s: %w", path, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}
