// Package storage retains uploaded files in a gocloud bucket.
package storage

import (
	"context"
	"io"
	"mime"
	"path"
	"time"

	"github.com/cockroachdb/errors"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// ErrNotFound is returned when a key has no object.
var ErrNotFound = errors.New("stored file not found")

// BlobStore keeps uploads under opaque keys.
type BlobStore struct {
	bucket *blob.Bucket
	url    string
}

// Open connects to the bucket at bucketURL (file://, mem://, s3://).
func Open(ctx context.Context, bucketURL string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bucket %s", bucketURL)
	}

	ok, err := bucket.IsAccessible(ctx)
	if err != nil {
		bucket.Close()
		return nil, errors.Wrapf(err, "failed to check bucket accessibility %s", bucketURL)
	} else if !ok {
		bucket.Close()
		return nil, errors.Newf("bucket %s is not accessible", bucketURL)
	}

	return &BlobStore{bucket: bucket, url: bucketURL}, nil
}

// Save writes data under key.
func (s *BlobStore) Save(ctx context.Context, key string, data []byte) error {
	opts := &blob.WriterOptions{ContentType: contentType(key)}
	if err := s.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return errors.Wrapf(err, "failed to write %s to bucket %s", key, s.url)
	}
	return nil
}

// Read returns the object stored under key.
func (s *BlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, errors.Wrapf(ErrNotFound, "file %s does not exist in bucket %s", key, s.url)
		}
		return nil, errors.Wrapf(err, "failed to open %s in bucket %s", key, s.url)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s from bucket %s", key, s.url)
	}
	return data, nil
}

// Delete removes key. Missing keys are not an error.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return errors.Wrapf(err, "failed to delete %s from bucket %s", key, s.url)
	}
	return nil
}

// Close releases the bucket.
func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func contentType(key string) string {
	switch ext := path.Ext(key); ext {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
