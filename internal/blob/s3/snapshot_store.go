package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

const snapshotContentType = "application/json"

// SnapshotStore implements domain.SnapshotStore as a single object.
type SnapshotStore struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	key      string
}

// NewSnapshotStore creates a SnapshotStore for the object at key in the
// client's bucket.
func NewSnapshotStore(c *Client, key string) *SnapshotStore {
	return &SnapshotStore{
		client:   c.S3(),
		uploader: manager.NewUploader(c.S3()),
		bucket:   c.Bucket(),
		key:      key,
	}
}

// Load downloads the snapshot object. Returns domain.ErrNotFound if it does
// not exist.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", s.key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", s.key, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", s.key, err)
	}
	return data, nil
}

// Save uploads the snapshot, replacing any previous object. S3 object
// writes are atomic, so readers see the old or the new snapshot only.
func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(snapshotContentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", s.key, err)
	}
	return nil
}

// isNotFound returns true when the error indicates the requested S3 object
// does not exist. It checks for both the SDK typed error (NoSuchKey) and
// the generic 404 response.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	// Some S3-compatible providers return a plain ResponseError with 404.
	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404 {
		return true
	}

	return false
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
